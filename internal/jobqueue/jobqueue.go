/*
Package jobqueue provides a River-based job queue for claim deliveries and
the periodic deadline sweep.

For configuration options, retry policies, and tuning parameters, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"

	"github.com/claimflow/internal/claims"
	"github.com/claimflow/internal/notify"
	"github.com/claimflow/internal/scheduler"
)

// NotificationJobArgs carries one notification to its provider.
type NotificationJobArgs struct {
	RecipientID string             `json:"recipient_id"`
	Template    claims.TemplateKey `json:"template"`
	Payload     map[string]string  `json:"payload,omitempty"`
	DedupeKey   string             `json:"dedupe_key" river:"unique"`
}

// Kind returns the job kind for River
func (NotificationJobArgs) Kind() string { return "claim_notification" }

// InsertOpts collapses duplicate enqueues of the same notification.
func (NotificationJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:      QueueNotifications,
		UniqueOpts: river.UniqueOpts{ByArgs: true},
	}
}

// PaymentJobArgs carries one payment instruction.
type PaymentJobArgs struct {
	IdempotencyKey string            `json:"idempotency_key" river:"unique"`
	ClaimID        string            `json:"claim_id"`
	PaymentKind    claims.IntentKind `json:"kind"`
	PartyID        string            `json:"party_id"`
	Amount         int64             `json:"amount"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Kind returns the job kind for River
func (PaymentJobArgs) Kind() string { return "claim_payment" }

func (PaymentJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:      QueuePayments,
		UniqueOpts: river.UniqueOpts{ByArgs: true},
	}
}

func (a PaymentJobArgs) instruction() claims.PaymentInstruction {
	return claims.PaymentInstruction{
		IdempotencyKey: a.IdempotencyKey,
		ClaimID:        a.ClaimID,
		Kind:           a.PaymentKind,
		PartyID:        a.PartyID,
		Amount:         a.Amount,
		Metadata:       a.Metadata,
	}
}

// DeadlineSweepArgs triggers one scheduler tick.
type DeadlineSweepArgs struct{}

// Kind returns the job kind for River
func (DeadlineSweepArgs) Kind() string { return "claim_deadline_sweep" }

func (DeadlineSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 1,
		UniqueOpts:  river.UniqueOpts{ByPeriod: time.Minute},
	}
}

// NotificationWorker delivers notification jobs.
type NotificationWorker struct {
	river.WorkerDefaults[NotificationJobArgs]
	deliverer notify.Deliverer
	timeout   time.Duration
}

func (w *NotificationWorker) Timeout(*river.Job[NotificationJobArgs]) time.Duration { return w.timeout }

// Work delivers the notification. Permanent failures cancel the job instead
// of burning retries.
func (w *NotificationWorker) Work(ctx context.Context, job *river.Job[NotificationJobArgs]) error {
	args := job.Args
	err := w.deliverer.DeliverNotification(ctx, notify.Notification{
		RecipientID: args.RecipientID,
		Template:    args.Template,
		Payload:     args.Payload,
		DedupeKey:   args.DedupeKey,
	})
	return settle(err, "notification", args.DedupeKey)
}

// PaymentWorker submits payment jobs.
type PaymentWorker struct {
	river.WorkerDefaults[PaymentJobArgs]
	deliverer notify.Deliverer
	timeout   time.Duration
}

func (w *PaymentWorker) Timeout(*river.Job[PaymentJobArgs]) time.Duration { return w.timeout }

func (w *PaymentWorker) Work(ctx context.Context, job *river.Job[PaymentJobArgs]) error {
	err := w.deliverer.DeliverPayment(ctx, job.Args.instruction())
	return settle(err, "payment", job.Args.IdempotencyKey)
}

func settle(err error, kind, key string) error {
	if err == nil {
		return nil
	}
	if claims.IsPermanent(err) {
		log.Error().Err(err).Str("kind", kind).Str("delivery_key", key).Msg("Delivery failed permanently, cancelling job")
		return river.JobCancel(err)
	}
	return err
}

// Ticker runs one deadline pass.
type Ticker interface {
	Tick(ctx context.Context) (scheduler.TickReport, error)
}

// DeadlineSweepWorker runs the scheduler from a periodic job.
type DeadlineSweepWorker struct {
	river.WorkerDefaults[DeadlineSweepArgs]
	ticker Ticker
}

func (w *DeadlineSweepWorker) Work(ctx context.Context, _ *river.Job[DeadlineSweepArgs]) error {
	if w.ticker == nil {
		log.Warn().Msg("Deadline sweep job ran before a scheduler was attached")
		return nil
	}
	report, err := w.ticker.Tick(ctx)
	if err != nil {
		return fmt.Errorf("deadline sweep: %w", err)
	}
	log.Debug().Int("checked", report.Checked).Int("suspended", report.Suspended).Msg("Periodic deadline sweep done")
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
	sweep  *DeadlineSweepWorker
}

// NewJobQueue creates a job queue over databaseURL. With sweep set, the
// periodic deadline sweep is registered; attach its scheduler with
// SetTicker before Start.
func NewJobQueue(ctx context.Context, databaseURL string, config *QueueConfig, deliverer notify.Deliverer, sweep bool) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &NotificationWorker{deliverer: deliverer, timeout: config.JobTimeout})
	river.AddWorker(workers, &PaymentWorker{deliverer: deliverer, timeout: config.JobTimeout})

	riverConfig := &river.Config{
		Queues:      config.RiverQueueConfig(),
		Workers:     workers,
		MaxAttempts: config.MaxAttempts,
		RetryPolicy: config.RetryPolicy,
	}
	sweeper := &DeadlineSweepWorker{}
	if sweep {
		river.AddWorker(workers, sweeper)
		riverConfig.PeriodicJobs = []*river.PeriodicJob{SweepJob(config.SweepInterval)}
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverConfig)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, pool: pool, config: config, sweep: sweeper}, nil
}

// SetTicker attaches the scheduler the periodic sweep drives.
func (jq *JobQueue) SetTicker(t Ticker) {
	jq.sweep.ticker = t
}

// SweepJob is the periodic deadline sweep, run once on start.
func SweepJob(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) { return DeadlineSweepArgs{}, nil },
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}

// Migrate applies River's schema to the pool's database.
func (jq *JobQueue) Migrate(ctx context.Context) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(jq.pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("migrate river schema: %w", err)
	}
	for _, v := range res.Versions {
		log.Info().Int("version", v.Version).Msg("Applied River migration")
	}
	return nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers and releases the pool.
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// EnqueueNotification queues a notification. A duplicate of a job already
// queued is not an error.
func (jq *JobQueue) EnqueueNotification(ctx context.Context, n notify.Notification) error {
	res, err := jq.client.Insert(ctx, NotificationJobArgs{
		RecipientID: n.RecipientID,
		Template:    n.Template,
		Payload:     n.Payload,
		DedupeKey:   n.DedupeKey,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue notification: %w", err)
	}
	if res.UniqueSkippedAsDuplicate {
		log.Debug().Str("dedupe_key", n.DedupeKey).Msg("Notification already queued")
	}
	return nil
}

// EnqueuePayment queues a payment instruction.
func (jq *JobQueue) EnqueuePayment(ctx context.Context, p claims.PaymentInstruction) error {
	if p.IdempotencyKey == "" {
		return errors.New("payment instruction has no idempotency key")
	}
	res, err := jq.client.Insert(ctx, PaymentJobArgs{
		IdempotencyKey: p.IdempotencyKey,
		ClaimID:        p.ClaimID,
		PaymentKind:    p.Kind,
		PartyID:        p.PartyID,
		Amount:         p.Amount,
		Metadata:       p.Metadata,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue payment: %w", err)
	}
	if res.UniqueSkippedAsDuplicate {
		log.Debug().Str("idempotency_key", p.IdempotencyKey).Msg("Payment already queued")
	}
	return nil
}

var _ notify.Enqueuer = (*JobQueue)(nil)
