package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/claimflow/internal/api"
	"github.com/claimflow/internal/telemetry"
)

// ServeCommand returns the CLI command for the API server and scheduler
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the claims API server and deadline scheduler",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides api.port)",
			},
			&cli.BoolFlag{
				Name:  "no-scheduler",
				Usage: "Serve the API only; another instance runs deadline sweeps",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	withScheduler := !c.Bool("no-scheduler")
	rt, err := bootstrap(c, withScheduler)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	shutdownTracing, err := telemetry.Setup(ctx, rt.cfg.Telemetry.ServiceName, rt.cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	port := rt.cfg.API.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}
	server := api.NewServer(port, rt.engine, rt.clock, api.Options{
		GuestRatePerSecond: rt.cfg.API.GuestRatePerSecond,
		GuestBurst:         rt.cfg.API.GuestBurst,
	})

	var startQueue, background func(context.Context) error
	switch {
	case rt.queue != nil:
		// River runs the periodic sweep along with delivery workers.
		startQueue = func(ctx context.Context) error {
			if err := rt.queue.Start(ctx); err != nil {
				return err
			}
			log.Info().Bool("sweep", withScheduler).Msg("Job queue started")
			return nil
		}
	case withScheduler:
		background = rt.scheduler.Run
	}

	if err := runServices(ctx, server, startQueue, background); err != nil {
		return err
	}
	log.Info().Msg("Shut down cleanly")
	return nil
}

type httpServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// runServices starts the queue first so a failure there never leaves the
// listener running, then serves until ctx is done. background, when set,
// runs alongside the server.
func runServices(ctx context.Context, server httpServer, startQueue, background func(context.Context) error) error {
	if startQueue != nil {
		if err := startQueue(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if background != nil {
		g.Go(func() error { return background(gctx) })
	}
	return g.Wait()
}
