package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/claimflow/internal/claims"
	"github.com/claimflow/internal/claimstore/sqlstore"
	"github.com/claimflow/internal/clock"
	"github.com/claimflow/internal/config"
	"github.com/claimflow/internal/jobqueue"
	"github.com/claimflow/internal/logging"
	"github.com/claimflow/internal/notify"
	"github.com/claimflow/internal/scheduler"
	"github.com/claimflow/internal/workflow"
)

// runtime is everything a command needs, built from configuration.
type runtime struct {
	cfg       *config.Config
	store     *sqlstore.Store
	clock     clock.Clock
	engine    *workflow.Engine
	scheduler *scheduler.Scheduler
	queue     *jobqueue.JobQueue
}

// loadConfig reads and validates the file named by the global --config flag.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Pretty, c.App.ErrWriter); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bootstrap opens the store and wires the engine. On Postgres, deliveries go
// through the River queue; sweep additionally registers the periodic
// deadline job.
func bootstrap(c *cli.Context, sweep bool) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	ctx := c.Context

	store, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, store: store, clock: clock.System()}

	deliverer := notify.NewWebhookDeliverer(cfg.Notifications.WebhookURL, cfg.Payments.WebhookURL)
	var notifier claims.NotificationGateway
	var payments claims.PaymentGateway
	if cfg.Store.Driver == "postgres" {
		qcfg := jobqueue.DefaultQueueConfig()
		qcfg.MaxWorkers = cfg.Queue.MaxWorkers
		qcfg.MaxAttempts = cfg.Queue.MaxAttempts
		qcfg.SweepInterval = cfg.SchedulerInterval()

		rt.queue, err = jobqueue.NewJobQueue(ctx, cfg.Store.DSN, qcfg, deliverer, sweep)
		if err != nil {
			store.Close()
			return nil, err
		}
		gw := notify.NewQueueGateway(rt.queue)
		notifier, payments = gw, gw
	} else {
		gw := notify.NewDirectGateway(deliverer)
		notifier, payments = gw, gw
	}

	tiers, err := cfg.CommissionTiers()
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.engine, err = workflow.NewEngine(store, rt.clock, tiers,
		workflow.WithResponseWindow(cfg.ResponseWindow()),
		workflow.WithReminderLead(cfg.ReminderLead()),
		workflow.WithFleetRecipient(cfg.Notifications.FleetRecipient),
		workflow.WithDispatcher(workflow.NewDispatcher(store, notifier, payments, rt.clock)),
	)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.scheduler = scheduler.New(rt.engine, rt.clock, scheduler.Config{
		Interval:       cfg.SchedulerInterval(),
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
	})
	if rt.queue != nil && sweep {
		rt.queue.SetTicker(rt.scheduler)
	}
	return rt, nil
}

// Close releases the queue pool and the store.
func (rt *runtime) Close(ctx context.Context) {
	if rt.queue != nil {
		if err := rt.queue.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to stop job queue")
		}
	}
	if err := rt.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
}
