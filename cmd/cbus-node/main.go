package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/cbus-node/db"
	"github.com/thatsimonsguy/cbus-node/internal/api"
	"github.com/thatsimonsguy/cbus-node/internal/can"
	"github.com/thatsimonsguy/cbus-node/internal/config"
	"github.com/thatsimonsguy/cbus-node/internal/datadog"
	"github.com/thatsimonsguy/cbus-node/internal/env"
	"github.com/thatsimonsguy/cbus-node/internal/gpio"
	"github.com/thatsimonsguy/cbus-node/internal/logging"
	"github.com/thatsimonsguy/cbus-node/internal/node"
	"github.com/thatsimonsguy/cbus-node/internal/notifications"
	"github.com/thatsimonsguy/cbus-node/internal/params"
	"github.com/thatsimonsguy/cbus-node/internal/tick"
	"github.com/thatsimonsguy/cbus-node/system/shutdown"
	"github.com/thatsimonsguy/cbus-node/system/startup"
)

func main() {
	cfg := config.Load()
	env.Cfg = &cfg
	logging.Init(cfg.LogLevel, cfg.LogFile)

	if cfg.InstallService {
		exe, err := os.Executable()
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot locate own binary")
		}
		if err := startup.InstallService(cfg.ServiceUnit, exe, cfg.ConfigFile, cfg.ServiceUser); err != nil {
			log.Fatal().Err(err).Msg("Failed to install service")
		}
		log.Info().Str("unit", cfg.ServiceUnit).Msg("Service installed")
		return
	}

	log.Info().
		Str("name", cfg.Name).
		Str("store", cfg.Store).
		Str("transport", cfg.Transport).
		Str("pins", cfg.Pins).
		Msg("Starting CBUS node")

	gpio.SetSafeMode(cfg.SafeMode)
	if cfg.SafeMode {
		log.Warn().Msg("Safe mode enabled: GPIO lines will not be driven")
	}
	datadog.InitMetrics()
	notifications.Init()
	shutdown.OnExit(notifications.Wait)

	dbConn, err := db.Open(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store).Msg("Failed to open store")
	}
	shutdown.OnExit(func() { dbConn.Close() })
	store := db.NewNVM(dbConn)

	ctx, cancel := context.WithCancel(context.Background())
	shutdown.OnExit(cancel)

	port, run := openTransport(ctx, cfg)
	clock := tick.NewCounter()
	opts := node.Options{
		EEPROM: store,
		Flash:  store,
		Port:   port,
		Clock:  clock,
		Rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		CPU:    params.StaticCPUID{},
	}
	wirePins(&opts, cfg)

	n := node.New(opts)
	if err := n.Initialise(); err != nil {
		shutdown.ShutdownWithError(err, "Failed to initialise node")
		return
	}
	log.Info().
		Str("mode", n.Mode().String()).
		Uint16("node_number", n.NN()).
		Uint8("can_id", n.CanID()).
		Msg("Node initialised")

	go clock.Run(ctx, time.Duration(cfg.TickMillis)*time.Millisecond)
	go func() {
		if err := run(n.HandleFrame); err != nil && !errors.Is(err, context.Canceled) {
			notifications.Notify("CBUS node transport failed", err.Error())
			shutdown.ShutdownWithError(err, "Transport failed")
		}
	}()

	server := api.NewServer(n)
	go func() {
		if err := server.Start(cfg.APIPort); err != nil {
			log.Error().Err(err).Msg("Diagnostics API stopped")
		}
	}()
	shutdown.OnExit(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		server.Stop(stopCtx)
	})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		log.Info().Str("signal", sig.String()).Msg("Stopping")
		cancel()
	}()

	for ctx.Err() == nil {
		n.Poll()
		time.Sleep(time.Millisecond)
	}
	shutdown.Shutdown()
}

// openTransport returns the port the node sends on and a function that
// feeds received frames to a handler until ctx ends.
func openTransport(ctx context.Context, cfg config.Config) (can.Port, func(func(can.Frame)) error) {
	if cfg.Transport == "" {
		log.Warn().Msg("No transport configured, running on a private loopback bus")
		ep := can.NewLoopbackBus().Open()
		return ep, func(handle func(can.Frame)) error {
			ep.Bind(handle)
			<-ctx.Done()
			return ctx.Err()
		}
	}

	g, err := can.OpenGridConnect(cfg.Transport, cfg.Baud)
	if err != nil {
		log.Fatal().Err(err).Str("transport", cfg.Transport).Msg("Failed to open transport")
	}
	shutdown.OnExit(func() { g.Close() })
	return g, func(handle func(can.Frame)) error {
		return g.Run(ctx, handle)
	}
}

func wirePins(opts *node.Options, cfg config.Config) {
	if cfg.Pins == config.PinsSim {
		opts.Pins = gpio.Resolve(func(io int, c gpio.Config) gpio.DigitalPin {
			return gpio.NewFake()
		})
		sw := gpio.NewFake()
		sw.Drive(true)
		opts.Switch, opts.Green, opts.Yellow = sw, gpio.NewFake(), gpio.NewFake()
		return
	}

	lines := map[string]int{
		"switch":     *cfg.Lines.Switch,
		"green_led":  *cfg.Lines.Green,
		"yellow_led": *cfg.Lines.Yellow,
	}
	for i, line := range cfg.Lines.IO {
		lines[fmt.Sprintf("io[%d]", i)] = *line
	}
	if err := gpio.ValidateLines(lines); err != nil {
		log.Fatal().Err(err).Msg("Refusing to drive GPIO")
	}

	opts.Pins = gpio.Resolve(func(io int, c gpio.Config) gpio.DigitalPin {
		line := gpio.NewLine(*cfg.Lines.IO[io])
		log.Debug().Int("io", io).Str("wiring", c.String()).Int("line", line.Number).Msg("IO mapped")
		return line
	})
	opts.Switch = gpio.NewLine(*cfg.Lines.Switch)
	opts.Green = gpio.NewLine(*cfg.Lines.Green)
	opts.Yellow = gpio.NewLine(*cfg.Lines.Yellow)
}
