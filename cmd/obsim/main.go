package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"observatory/pkg/simulator"
)

func run(c *cli.Context) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	log.Info("Observatory device simulator")

	opts := simulator.Options{
		MoveDuration:      c.Duration("move-duration"),
		ChangingIndicator: !c.Bool("no-indicator"),
	}

	sim := simulator.NewServer(log.WithField("component", "simulator"))
	sim.Add(simulator.NewTelescope(sim, 0, opts, log.WithField("device", "telescope")))
	sim.Add(simulator.NewDome(sim, 0, opts, log.WithField("device", "dome")))
	sim.Add(simulator.NewCoverCalibrator(sim, 0, opts, log.WithField("device", "covercalibrator")))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", c.Int("port")),
		Handler: sim.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Infof("Listening on %s", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("Stopped")
	return nil
}

func main() {
	app := cli.App{
		Name:  "obsim",
		Usage: "Simulated Alpaca devices for testing the observatory daemon",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Value:   false,
				EnvVars: []string{"DEBUG"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				Value:   11111,
				EnvVars: []string{"OBSERVATORY_SIM_PORT"},
			},
			&cli.DurationFlag{
				Name:  "move-duration",
				Usage: "How long simulated moves take",
				Value: 5 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "no-indicator",
				Usage: "Simulate a driver without the covermoving/calibratorchanging endpoints",
				Value: false,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
