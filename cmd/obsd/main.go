package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"

	"observatory/alpaca"
	"observatory/pkg/bridge"
	"observatory/pkg/config"
	"observatory/pkg/model"
	"observatory/pkg/store"
)

// connector is the common device surface the daemon drives.
type connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

func run(c *cli.Context) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	log.Info("Observatory control daemon")

	db, err := bolt.Open(c.String("db"), 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer db.Close()

	st, err := store.New(db)
	if err != nil {
		return fmt.Errorf("failed to create store: %v", err)
	}

	cfg, err := loadConfig(c.String("config"), st)
	if err != nil {
		return err
	}

	if level, err := log.ParseLevel(cfg.Log.Level); err == nil && !c.Bool("debug") {
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	var devices []connector
	var subs []*model.Subscription

	startUpdater := func(m model.Refresher, interval time.Duration, name string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			model.NewUpdater(m, interval, log.WithField("device", name)).Run(ctx)
		}()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if dc := cfg.Devices.Telescope; dc != nil {
		adapter := alpaca.NewTelescope(
			alpaca.NewClient(dc.BaseURL, "telescope", dc.Number, dc.ClientID),
			alpaca.PollConfig{Interval: dc.PollInterval, Timeout: dc.PollTimeout},
			log.WithField("device", "telescope"),
		)
		if err := adapter.Connect(connectCtx); err != nil {
			return fmt.Errorf("failed to connect telescope: %v", err)
		}
		devices = append(devices, adapter)

		m := model.NewTelescope(adapter, log.WithField("device", "telescope"))
		subs = append(subs, m.Subscribe(64))
		startUpdater(m, dc.RefreshInterval, "telescope")
	}

	if dc := cfg.Devices.Dome; dc != nil {
		adapter := alpaca.NewDome(
			alpaca.NewClient(dc.BaseURL, "dome", dc.Number, dc.ClientID),
			alpaca.PollConfig{Interval: dc.PollInterval, Timeout: dc.PollTimeout},
			log.WithField("device", "dome"),
		)
		if err := adapter.Connect(connectCtx); err != nil {
			return fmt.Errorf("failed to connect dome: %v", err)
		}
		devices = append(devices, adapter)

		m := model.NewDome(adapter, log.WithField("device", "dome"))
		subs = append(subs, m.Subscribe(64))
		startUpdater(m, dc.RefreshInterval, "dome")
	}

	if dc := cfg.Devices.CoverCalibrator; dc != nil {
		adapter := alpaca.NewCoverCalibrator(
			alpaca.NewClient(dc.BaseURL, "covercalibrator", dc.Number, dc.ClientID),
			alpaca.PollConfig{Interval: dc.PollInterval, Timeout: dc.PollTimeout},
			log.WithField("device", "covercalibrator"),
		)
		if err := adapter.Connect(connectCtx); err != nil {
			return fmt.Errorf("failed to connect cover/calibrator: %v", err)
		}
		devices = append(devices, adapter)

		m := model.NewCoverCalibrator(adapter, log.WithField("device", "covercalibrator"))
		subs = append(subs, m.Subscribe(64))
		startUpdater(m, dc.RefreshInterval, "covercalibrator")
	}

	if len(devices) == 0 {
		return fmt.Errorf("no devices configured")
	}

	if cfg.MQTT.Broker != "" {
		br, err := bridge.New(cfg.MQTT, log.WithField("component", "bridge"))
		if err != nil {
			return fmt.Errorf("failed to start MQTT bridge: %v", err)
		}
		defer br.Close()

		for _, sub := range subs {
			wg.Add(1)
			go func(sub *model.Subscription) {
				defer wg.Done()
				br.Run(ctx, sub)
			}(sub)
		}
	}

	<-ctx.Done()

	log.Info("Shutting down...")

	disconnectCtx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	for _, dev := range devices {
		if err := dev.Disconnect(disconnectCtx); err != nil {
			log.Errorf("failed to disconnect: %v", err)
		}
	}

	wg.Wait()
	log.Info("Stopped")
	return nil
}

// loadConfig prefers the config file; when it is missing the last applied
// configuration from the store is used. A successfully loaded file is
// saved back so the next file-less start still works.
func loadConfig(path string, st *store.Store) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
		log.Warnf("config file %s not found, using stored configuration", path)
		return st.GetConfig()
	}

	if err := st.SetConfig(cfg); err != nil {
		log.Warnf("failed to persist configuration: %v", err)
	}
	return cfg, nil
}

func main() {
	app := cli.App{
		Name:  "obsd",
		Usage: "Observatory device control over ASCOM Alpaca",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Value:   false,
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file",
				Value:   "observatory.yaml",
				EnvVars: []string{"OBSERVATORY_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Path to the configuration database",
				Value:   "observatory.db",
				EnvVars: []string{"OBSERVATORY_DB"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
