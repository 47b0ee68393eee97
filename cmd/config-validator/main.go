package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"ocpp_cp_harness/internal/app"
	"ocpp_cp_harness/internal/config"
	"ocpp_cp_harness/internal/harness"
	"ocpp_cp_harness/internal/oracle"
	"ocpp_cp_harness/internal/report"
	"ocpp_cp_harness/internal/simulator"
	"ocpp_cp_harness/internal/store"
)

const suite = "config-validator"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var showVersion, showHistory bool

	cfg, err := config.Parse(suite, args, config.Default(), 0, func(fs *flag.FlagSet) {
		fs.BoolVar(&showVersion, "version", false, "show version")
		fs.BoolVar(&showHistory, "history", false, "list previous runs stored in -db and exit")
	})
	if err != nil {
		return 1
	}
	if showVersion {
		fmt.Println("Current App Version:", app.Version)
		return 0
	}
	if showHistory {
		return history(cfg)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := app.Logger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := app.OpenStore(cfg, suite, logger)
	if err != nil {
		return app.Fail(logger, err, "Could not open db")
	}
	if st != nil {
		defer st.Close()
	}

	conn, c, err := app.Connect(cfg, logger)
	if err != nil {
		return app.Fail(logger, err, "Could not connect to central system")
	}
	defer conn.Close()

	sim := simulator.New(c, cfg.SimulatorConfig(), simulator.WithLogger(logger))
	o := oracle.New(c, oracle.WithLogger(logger))
	scenarios := append([]harness.Scenario{sim.BootScenario()}, o.Scenarios()...)

	rep := harness.NewRunner(suite, cfg.ClientID, cfg.SuiteTimeout, logger).Run(ctx, scenarios)
	return app.Finish(os.Stdout, rep, st, logger)
}

func history(cfg *config.Config) int {
	if cfg.DBPath == "" || cfg.ClientID == "" {
		fmt.Fprintln(os.Stderr, "-history needs -db and -cp")
		return 1
	}
	logger := app.Logger(cfg)
	st, err := store.Open(filepath.Join(cfg.DBPath, cfg.ClientID), logger)
	if err != nil {
		return app.Fail(logger, err, "Could not open db")
	}
	defer st.Close()

	if recorded, err := st.KeyExists("charge_point"); err == nil && !recorded {
		fmt.Println("No runs recorded for", cfg.ClientID)
		return 0
	}
	reports, err := report.NewHistory(st).List(suite, cfg.ClientID)
	if err != nil {
		return app.Fail(logger, err, "Could not read history")
	}
	if last, err := st.GetKeyValue("last_run_at"); err == nil && last != "" {
		fmt.Println("Last run at", last)
	}
	report.RenderHistory(os.Stdout, reports)
	return 0
}
