package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/epluse/sensors/cmd/tee301/console"
	"github.com/epluse/sensors/environment"
	"github.com/epluse/sensors/exporter"
	"github.com/urfave/cli/v2"
)

var serveCmd = cli.Command{
	Name:  "serve",
	Usage: "measure periodically and serve prometheus metrics and a JSON API",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Usage: "HTTP listen address",
		},
		&cli.StringFlag{
			Name:  "rate",
			Usage: "measurements per second: 0.5, 1, 2, 4 or 10",
		},
		&cli.StringFlag{
			Name:  "repeatability",
			Usage: "low, medium or high",
		},
	},
	Action: func(c *cli.Context) error {
		rate, err := rateFlag(c)
		if err != nil {
			return err
		}
		repeatability, err := repeatabilityFlag(c)
		if err != nil {
			return err
		}
		listen := cfg.Listen
		if c.IsSet("listen") {
			listen = c.String("listen")
		}
		return withSensor(c, func(ctx context.Context, s *environment.TEE301) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, s, listen, rate, repeatability)
		})
	},
}

func serve(ctx context.Context, s *environment.TEE301, listen string, rate environment.SampleRate, repeatability environment.Repeatability) error {
	exp := exporter.New(s,
		exporter.WithRepeatability(repeatability),
		exporter.WithStretching(cfg.Stretching()),
	)
	srv := &http.Server{
		Addr:              listen,
		Handler:           exp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
		close(httpErr)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- exp.Run(runCtx, rate, repeatability)
	}()

	var result error
	select {
	case err := <-httpErr:
		if err != nil {
			result = console.Exit(1, "http server error: %s", console.Red(err))
		}
		cancel()
		if err := <-runErr; err != nil && result == nil {
			result = console.Fail("exporter error", err)
		}
	case err := <-runErr:
		if err != nil {
			result = console.Fail("exporter error", err)
		}
	}
	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown failed", "error", err)
	}
	return result
}
