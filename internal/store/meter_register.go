package store

import "strconv"

const EnergyKey = "meter_value__energy"

// MeterRegister persists the simulated energy register of one charge point.
type MeterRegister struct {
	store *Store
	key   string
}

func NewMeterRegister(s *Store, chargePointID string) *MeterRegister {
	return &MeterRegister{store: s, key: EnergyKey + "/" + chargePointID}
}

func (r *MeterRegister) Load() (int, bool, error) {
	return r.store.GetIntKey(r.key)
}

func (r *MeterRegister) Save(wh int) error {
	return r.store.SetKey(r.key, strconv.Itoa(wh))
}
