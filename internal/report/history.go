package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"ocpp_cp_harness/internal/store"
)

const historyPrefix = "runs/"

// History stores finished reports in badger.
type History struct {
	store *store.Store
}

func NewHistory(s *store.Store) *History {
	return &History{store: s}
}

func historyKey(suite, clientID string) string {
	return fmt.Sprintf("%s%s/%s/", historyPrefix, suite, clientID)
}

func (h *History) Save(r *Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	key := historyKey(r.Suite, r.ClientID) + r.StartedAt.UTC().Format(time.RFC3339Nano)
	return h.store.SetKey(key, string(data))
}

// List returns the stored reports of one suite and client, oldest first.
func (h *History) List(suite, clientID string) ([]*Report, error) {
	var reports []*Report
	err := h.store.Iterate(historyKey(suite, clientID), func(key string, value []byte) error {
		var r Report
		if err := json.Unmarshal(value, &r); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		reports = append(reports, &r)
		return nil
	})
	return reports, err
}

func RenderHistory(w io.Writer, reports []*Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Started", "Suite", "Client", "Passed", "Failed", "Result"})
	for _, r := range reports {
		result := "PASS"
		if !r.Passed() {
			result = "FAIL"
		}
		t.AppendRow(table.Row{
			r.StartedAt.Format(time.RFC3339),
			r.Suite,
			r.ClientID,
			r.Count(StatusPass),
			len(r.Results) - r.Count(StatusPass),
			result,
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
