/*
Package jobqueue configuration - tunable parameters for the River job queue.

# River Job Queue Configuration Guide

The queue carries three job kinds: claim notifications, payment
instructions, and the periodic deadline sweep. Values below are defaults;
the [queue] and [scheduler] config sections override them.

## Quick Configuration Reference:

### Performance Tuning:
- Increase MaxWorkers for higher delivery throughput
- Lower SweepInterval to tighten reminder and suspension latency

### Reliability Tuning:
- Increase MaxAttempts for flaky notification or payment providers
- Adjust RetryPolicy intervals for provider rate limits

## Database Requirements:
- PostgreSQL with River schema migrations applied (see Migrate)
- Connection pool sized for MaxWorkers plus the API
*/
package jobqueue

import (
	"math"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// Queue names. Payments get their own lane so a notification backlog never
// delays money movement.
const (
	QueueNotifications = river.QueueDefault
	QueuePayments      = "payments"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// Worker Configuration
	MaxWorkers int // Concurrent workers on the notification queue (default: 10)

	// Retry Configuration
	MaxAttempts int           // Attempts per job before it is discarded (default: 25)
	RetryPolicy RetryPolicy   // Retry timing and backoff configuration
	JobTimeout  time.Duration // Maximum time a single delivery can run (default: 1 minute)

	// SweepInterval is how often the deadline sweep runs (default: 5 minutes)
	SweepInterval time.Duration
}

// RetryPolicy defines how failed jobs are retried
type RetryPolicy struct {
	// InitialInterval is the time to wait before the first retry
	InitialInterval time.Duration // default: 1 second

	// MaxInterval is the maximum time to wait between retries
	MaxInterval time.Duration // default: 1 hour

	// Multiplier is the factor by which the interval increases after each retry
	Multiplier float64 // default: 2.0 (exponential backoff)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers: 10,

		// River default is 25 attempts over ~3 days
		MaxAttempts: 25,
		RetryPolicy: RetryPolicy{
			InitialInterval: 1 * time.Second,
			MaxInterval:     1 * time.Hour,
			Multiplier:      2.0,
		},

		JobTimeout:    1 * time.Minute,
		SweepInterval: 300 * time.Second,
	}
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	payments := c.MaxWorkers / 2
	if payments < 1 {
		payments = 1
	}
	return map[string]river.QueueConfig{
		QueueNotifications: {MaxWorkers: c.MaxWorkers},
		QueuePayments:      {MaxWorkers: payments},
	}
}

// NextRetry implements river.ClientRetryPolicy with capped exponential
// backoff.
func (p RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	return time.Now().UTC().Add(p.delay(job.Attempt))
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxInterval) || math.IsInf(d, 0) {
		d = float64(p.MaxInterval)
	}
	return time.Duration(d)
}
