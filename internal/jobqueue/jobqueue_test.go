package jobqueue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimflow/internal/claims"
	"github.com/claimflow/internal/notify"
	"github.com/claimflow/internal/scheduler"
)

type fakeDeliverer struct {
	notifications []notify.Notification
	payments      []claims.PaymentInstruction
	err           error
}

func (f *fakeDeliverer) DeliverNotification(_ context.Context, n notify.Notification) error {
	f.notifications = append(f.notifications, n)
	return f.err
}

func (f *fakeDeliverer) DeliverPayment(_ context.Context, p claims.PaymentInstruction) error {
	f.payments = append(f.payments, p)
	return f.err
}

func jobOf[T river.JobArgs](args T) *river.Job[T] {
	return &river.Job[T]{JobRow: &rivertype.JobRow{ID: 1, Attempt: 1}, Args: args}
}

func TestKinds(t *testing.T) {
	assert.Equal(t, "claim_notification", NotificationJobArgs{}.Kind())
	assert.Equal(t, "claim_payment", PaymentJobArgs{}.Kind())
	assert.Equal(t, "claim_deadline_sweep", DeadlineSweepArgs{}.Kind())

	assert.True(t, NotificationJobArgs{}.InsertOpts().UniqueOpts.ByArgs)
	assert.Equal(t, QueuePayments, PaymentJobArgs{}.InsertOpts().Queue)
}

func TestNotificationWorkerDelivers(t *testing.T) {
	d := &fakeDeliverer{}
	w := &NotificationWorker{deliverer: d, timeout: time.Second}
	n := notify.NewNotification("guest-1", claims.TemplateReminderGuest, map[string]string{"hoursRemaining": "24"})

	err := w.Work(context.Background(), jobOf(NotificationJobArgs{
		RecipientID: n.RecipientID,
		Template:    n.Template,
		Payload:     n.Payload,
		DedupeKey:   n.DedupeKey,
	}))
	require.NoError(t, err)
	require.Len(t, d.notifications, 1)
	assert.Equal(t, n, d.notifications[0])
	assert.Equal(t, time.Second, w.Timeout(nil))
}

func TestPermanentFailureCancelsJob(t *testing.T) {
	cause := &claims.DeliveryError{IntentKey: "k", Permanent: true, Err: errors.New("status 404")}
	d := &fakeDeliverer{err: cause}
	w := &PaymentWorker{deliverer: d}

	err := w.Work(context.Background(), jobOf(PaymentJobArgs{IdempotencyKey: "k", ClaimID: "c", PaymentKind: claims.KindPayHost, Amount: 10}))
	require.Error(t, err)
	assert.ErrorIs(t, err, claims.ErrDelivery)
	assert.NotSame(t, cause, err, "permanent failures are wrapped for cancellation")

	require.Len(t, d.payments, 1)
	assert.Equal(t, claims.KindPayHost, d.payments[0].Kind)
	assert.Equal(t, "k", d.payments[0].IdempotencyKey)
}

func TestTransientFailureIsRetried(t *testing.T) {
	cause := errors.New("status 503")
	w := &NotificationWorker{deliverer: &fakeDeliverer{err: cause}}
	err := w.Work(context.Background(), jobOf(NotificationJobArgs{RecipientID: "r"}))
	assert.Same(t, cause, err)
}

type fakeTicker struct {
	calls int
	err   error
}

func (f *fakeTicker) Tick(context.Context) (scheduler.TickReport, error) {
	f.calls++
	return scheduler.TickReport{Checked: 2}, f.err
}

func TestDeadlineSweepWorker(t *testing.T) {
	ft := &fakeTicker{}
	w := &DeadlineSweepWorker{ticker: ft}
	require.NoError(t, w.Work(context.Background(), jobOf(DeadlineSweepArgs{})))
	assert.Equal(t, 1, ft.calls)

	ft.err = errors.New("db down")
	assert.NoError(t, (&DeadlineSweepWorker{}).Work(context.Background(), jobOf(DeadlineSweepArgs{})))
	assert.ErrorContains(t, w.Work(context.Background(), jobOf(DeadlineSweepArgs{})), "deadline sweep")
}

func TestQueueConfig(t *testing.T) {
	cfg := DefaultQueueConfig()
	assert.Equal(t, 10, cfg.MaxWorkers)
	assert.Equal(t, 25, cfg.MaxAttempts)
	assert.Equal(t, 300*time.Second, cfg.SweepInterval)

	queues := cfg.RiverQueueConfig()
	assert.Equal(t, 10, queues[QueueNotifications].MaxWorkers)
	assert.Equal(t, 5, queues[QueuePayments].MaxWorkers)

	single := DefaultQueueConfig()
	single.MaxWorkers = 1
	assert.Equal(t, 1, single.RiverQueueConfig()[QueuePayments].MaxWorkers)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{InitialInterval: time.Second, MaxInterval: time.Minute, Multiplier: 2}
	assert.Equal(t, time.Second, p.delay(0))
	assert.Equal(t, time.Second, p.delay(1))
	assert.Equal(t, 4*time.Second, p.delay(3))
	assert.Equal(t, time.Minute, p.delay(30))
	assert.Equal(t, time.Minute, p.delay(5000))

	next := p.NextRetry(&rivertype.JobRow{Attempt: 2})
	assert.WithinDuration(t, time.Now().Add(2*time.Second), next, time.Second)
}

func TestSweepJobBuilds(t *testing.T) {
	assert.NotNil(t, SweepJob(time.Minute))
}

func TestEnqueueAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("CLAIMFLOW_TEST_POSTGRES_DSN")
	if dsn == "" || testing.Short() {
		t.Skip("CLAIMFLOW_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	jq, err := NewJobQueue(ctx, dsn, DefaultQueueConfig(), &fakeDeliverer{}, false)
	require.NoError(t, err)
	t.Cleanup(func() { jq.pool.Close() })
	require.NoError(t, jq.Migrate(ctx))

	n := notify.NewNotification("guest-1", claims.TemplateResponseAck, map[string]string{"claimId": t.Name()})
	require.NoError(t, jq.EnqueueNotification(ctx, n))
	require.NoError(t, jq.EnqueueNotification(ctx, n))

	var count int
	require.NoError(t, jq.pool.QueryRow(ctx,
		`SELECT count(*) FROM river_job WHERE kind = 'claim_notification' AND args->>'dedupe_key' = $1`, n.DedupeKey).Scan(&count))
	assert.Equal(t, 1, count)

	assert.Error(t, jq.EnqueuePayment(ctx, claims.PaymentInstruction{ClaimID: "c"}))
}
