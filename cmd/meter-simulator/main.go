package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ocpp_cp_harness/internal/app"
	"ocpp_cp_harness/internal/config"
	"ocpp_cp_harness/internal/harness"
	"ocpp_cp_harness/internal/simulator"
	"ocpp_cp_harness/internal/store"
	"ocpp_cp_harness/internal/telemetry"
)

const suite = "meter-simulator"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var showVersion bool

	defaults := config.Default()
	// the charging session alone takes the default duration
	defaults.SuiteTimeout = 0

	cfg, err := config.Parse(suite, args, defaults, config.SimulationFlags|config.MQTTFlags, func(fs *flag.FlagSet) {
		fs.BoolVar(&showVersion, "version", false, "show version")
	})
	if err != nil {
		return 1
	}
	if showVersion {
		fmt.Println("Current App Version:", app.Version)
		return 0
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

	opts := []simulator.Option{simulator.WithLogger(logger)}
	if st != nil {
		opts = append(opts, simulator.WithRegister(store.NewMeterRegister(st, cfg.ClientID)))
	}
	if cfg.MQTT.Enabled() {
		pub, err := telemetry.Connect(ctx, cfg.MQTT, cfg.ClientID, logger)
		if err != nil {
			logger.WithError(err).Warnln("Telemetry disabled")
		} else {
			defer pub.Close()
			opts = append(opts, simulator.WithPublisher(pub))
		}
	}

	conn, c, err := app.Connect(cfg, logger)
	if err != nil {
		return app.Fail(logger, err, "Could not connect to central system")
	}
	defer conn.Close()

	sim := simulator.New(c, cfg.SimulatorConfig(), opts...)
	rep := harness.NewRunner(suite, cfg.ClientID, cfg.SuiteTimeout, logger).Run(ctx, sim.Scenarios(cfg.Plan()))
	return app.Finish(os.Stdout, rep, st, logger)
}
