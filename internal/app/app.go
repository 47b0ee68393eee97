// Package app holds the process wiring shared by the command line tools.
package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lorenzodonini/ocpp-go/ws"
	log "github.com/sirupsen/logrus"

	"ocpp_cp_harness/internal/config"
	"ocpp_cp_harness/internal/correlator"
	"ocpp_cp_harness/internal/report"
	"ocpp_cp_harness/internal/store"
	"ocpp_cp_harness/internal/transport"
)

const Version = "1.0.0"

func init() {
	time.Local = time.UTC
}

// Logger configures the process logger and returns the entry tagged with
// the charge point id.
func Logger(cfg *config.Config) *log.Entry {
	ll := log.StandardLogger()
	ll.SetLevel(cfg.Level())
	ll.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	ws.SetLogger(ll)
	return ll.WithField("cp", cfg.ClientID)
}

// OpenStore opens the per charge point database under cfg.DBPath and records
// the run. It returns nil when persistence is disabled.
func OpenStore(cfg *config.Config, suite string, logger *log.Entry) (*store.Store, error) {
	if cfg.DBPath == "" {
		return nil, nil
	}
	dbPath := filepath.Join(cfg.DBPath, cfg.ClientID)
	st, err := store.Open(dbPath, logger.WithField("db", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", dbPath, err)
	}

	now := time.Now().Format(time.RFC3339)
	if err := st.SetIfNotExists("first_run_at", now); err != nil {
		logger.WithError(err).Warnln("Could not record run")
	}
	for key, value := range map[string]string{
		"last_run_at":     now,
		"last_suite":      suite,
		"cs_url":          cfg.Server,
		"charge_point":    cfg.ClientID,
		"harness_version": Version,
	} {
		if err := st.SetKey(key, value); err != nil {
			logger.WithError(err).Warnln("Could not record run")
		}
	}
	runs, err := st.IncrementKey("run_count/"+suite, 1)
	if err != nil {
		logger.WithError(err).Warnln("Could not record run")
	}
	logger.WithField("db", dbPath).WithField("run", runs).Debugln("Store opened")
	return st, nil
}

// Connect dials the central system and wraps the connection in a
// correlator.
func Connect(cfg *config.Config, logger *log.Entry) (*transport.WebSocket, *correlator.Correlator, error) {
	opts, err := cfg.TransportOptions(logger)
	if err != nil {
		return nil, nil, err
	}
	conn, err := transport.Dial(cfg.Server, cfg.ClientID, opts)
	if err != nil {
		return nil, nil, err
	}
	c := correlator.New(conn,
		correlator.WithTimeout(cfg.CallTimeout),
		correlator.WithLogger(logger),
	)
	return conn, c, nil
}

// Finish renders rep, stores it when a db is open and returns the process
// exit status.
func Finish(w io.Writer, rep *report.Report, st *store.Store, logger *log.Entry) int {
	rep.Render(w)
	if st != nil {
		if err := report.NewHistory(st).Save(rep); err != nil {
			logger.WithError(err).Errorln("Could not save run history")
		}
	}
	return rep.ExitCode()
}

// Fail reports a setup error and returns the failure exit status.
func Fail(logger *log.Entry, err error, what string) int {
	logger.WithError(err).Errorln(what)
	fmt.Fprintln(os.Stderr, what+":", err)
	return 1
}
