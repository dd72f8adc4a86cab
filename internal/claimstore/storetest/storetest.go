// Package storetest holds behaviour checks shared by every claims.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimflow/internal/claims"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Run exercises a store built fresh for each subtest by newStore.
func Run(t *testing.T, newStore func(t *testing.T) claims.Store) {
	t.Run("insert and get", func(t *testing.T) { testInsertGet(t, newStore(t)) })
	t.Run("one open claim per booking", func(t *testing.T) { testOpenClaimPerBooking(t, newStore(t)) })
	t.Run("compare and swap", func(t *testing.T) { testCompareAndSwap(t, newStore(t)) })
	t.Run("mutator error writes nothing", func(t *testing.T) { testMutatorError(t, newStore(t)) })
	t.Run("concurrent swaps", func(t *testing.T) { testConcurrentSwaps(t, newStore(t)) })
	t.Run("query awaiting response", func(t *testing.T) { testQueryAwaiting(t, newStore(t)) })
	t.Run("record dispatch", func(t *testing.T) { testRecordDispatch(t, newStore(t)) })
	t.Run("not found", func(t *testing.T) { testNotFound(t, newStore(t)) })
}

// NewClaim returns a FILED claim for booking with its creation event.
func NewClaim(booking string) (*claims.Claim, claims.ClaimEvent) {
	return claims.NewClaim(booking, "host-1", "guest-1", claims.TypeDamage, 150000, 50000, 25000, 25000, "host-1", base)
}

// Awaiting inserts a claim already in AWAITING_GUEST_RESPONSE with the given
// deadline, the way the engine would leave it after fleet approval.
func Awaiting(t *testing.T, s claims.Store, booking string, deadline time.Time) *claims.Claim {
	t.Helper()
	ctx := context.Background()
	c, ev := NewClaim(booking)
	require.NoError(t, s.Insert(ctx, c, ev))

	steps := []struct {
		from, to claims.State
	}{
		{claims.StateFiled, claims.StateFleetReviewing},
		{claims.StateFleetReviewing, claims.StateFleetApproved},
	}
	for _, step := range steps {
		to := step.to
		_, err := s.CompareAndSwap(ctx, c.ID, step.from, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
			ev, err := c.TransitionTo(to, claims.CauseFleetApproved, "fleet-1", base)
			return []claims.ClaimEvent{ev}, err
		})
		require.NoError(t, err)
	}
	got, err := s.CompareAndSwap(ctx, c.ID, claims.StateFleetApproved, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
		c.ApprovedAmount = claims.Ptr(int64(120000))
		if err := c.SetOnce(&c.ResponseDeadline, deadline); err != nil {
			return nil, err
		}
		ev, err := c.TransitionTo(claims.StateAwaitingGuestResponse, claims.CauseGuestWindowOpened, "fleet-1", base)
		return []claims.ClaimEvent{ev}, err
	})
	require.NoError(t, err)
	return got
}

func testInsertGet(t *testing.T, s claims.Store) {
	ctx := context.Background()
	c, ev := NewClaim("booking-a")
	c.Description = "rear bumper"
	c.IncidentAt = claims.Ptr(base.Add(-24 * time.Hour))
	require.NoError(t, s.Insert(ctx, c, ev))

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("stored claim mismatch (-want +got):\n%s", diff)
	}

	events, err := s.Events(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, claims.CauseFiled, events[0].Cause)
	assert.Equal(t, claims.StateFiled, events[0].ToState)
	assert.Positive(t, events[0].Seq)
}

func testOpenClaimPerBooking(t *testing.T, s claims.Store) {
	ctx := context.Background()
	first, ev := NewClaim("booking-b")
	require.NoError(t, s.Insert(ctx, first, ev))

	second, ev2 := NewClaim("booking-b")
	err := s.Insert(ctx, second, ev2)
	assert.ErrorIs(t, err, claims.ErrInvalidInput)

	// Once the first claim is closed the booking is eligible again.
	_, err = s.CompareAndSwap(ctx, first.ID, claims.StateFiled, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
		ev, err := c.TransitionTo(claims.StateFleetReviewing, claims.CauseFleetReviewStarted, "fleet-1", base)
		return []claims.ClaimEvent{ev}, err
	})
	require.NoError(t, err)
	_, err = s.CompareAndSwap(ctx, first.ID, claims.StateFleetReviewing, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
		ev, err := c.TransitionTo(claims.StateFleetDenied, claims.CauseFleetDenied, "fleet-1", base)
		return []claims.ClaimEvent{ev}, err
	})
	require.NoError(t, err)

	third, ev3 := NewClaim("booking-b")
	assert.NoError(t, s.Insert(ctx, third, ev3))
}

func testCompareAndSwap(t *testing.T, s claims.Store) {
	ctx := context.Background()
	c, ev := NewClaim("booking-c")
	require.NoError(t, s.Insert(ctx, c, ev))

	updated, err := s.CompareAndSwap(ctx, c.ID, claims.StateFiled, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
		c.FleetReviewerID = claims.Ptr("fleet-7")
		ev, err := c.TransitionTo(claims.StateFleetReviewing, claims.CauseFleetReviewStarted, "fleet-7", base.Add(time.Minute))
		return []claims.ClaimEvent{ev}, err
	})
	require.NoError(t, err)
	assert.Equal(t, claims.StateFleetReviewing, updated.State)
	assert.Equal(t, c.Version+1, updated.Version)
	assert.Equal(t, "fleet-7", *updated.FleetReviewerID)

	_, err = s.CompareAndSwap(ctx, c.ID, claims.StateFiled, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
		t.Fatal("mutator must not run for a stale expected state")
		return nil, nil
	})
	assert.ErrorIs(t, err, claims.ErrConcurrencyConflict)

	events, err := s.Events(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Less(t, events[0].Seq, events[1].Seq)
	assert.Equal(t, claims.StateFiled, events[1].FromState)
	assert.Equal(t, claims.StateFleetReviewing, events[1].ToState)
}

func testMutatorError(t *testing.T, s claims.Store) {
	ctx := context.Background()
	c, ev := NewClaim("booking-d")
	require.NoError(t, s.Insert(ctx, c, ev))

	boom := errors.New("boom")
	_, err := s.CompareAndSwap(ctx, c.ID, claims.StateFiled, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
		c.State = claims.StateFleetReviewing
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, claims.StateFiled, got.State)
	assert.Equal(t, c.Version, got.Version)

	events, err := s.Events(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func testConcurrentSwaps(t *testing.T, s claims.Store) {
	ctx := context.Background()
	c := Awaiting(t, s, "booking-e", base.Add(48*time.Hour))

	targets := []claims.State{claims.StateGuestResponded, claims.StateAutoSuspended}
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)
	for i := 0; i < 8; i++ {
		to := targets[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CompareAndSwap(ctx, c.ID, claims.StateAwaitingGuestResponse, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
				ev, err := c.TransitionTo(to, claims.CauseGuestResponded, "race", base.Add(time.Hour))
				return []claims.ClaimEvent{ev}, err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, claims.ErrConcurrencyConflict):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, losses)

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Contains(t, targets, got.State)
}

func testQueryAwaiting(t *testing.T, s claims.Store) {
	ctx := context.Background()
	soon := Awaiting(t, s, "booking-f", base.Add(20*time.Hour))
	late := Awaiting(t, s, "booking-g", base.Add(48*time.Hour))
	filed, ev := NewClaim("booking-h")
	require.NoError(t, s.Insert(ctx, filed, ev))

	collect := func(before time.Time) []string {
		var ids []string
		for c, err := range s.QueryAwaitingResponse(ctx, before) {
			require.NoError(t, err)
			require.Equal(t, claims.StateAwaitingGuestResponse, c.State)
			ids = append(ids, c.ID)
		}
		return ids
	}

	assert.ElementsMatch(t, []string{soon.ID}, collect(base.Add(24*time.Hour)))
	assert.ElementsMatch(t, []string{soon.ID, late.ID}, collect(base.Add(48*time.Hour)))
	assert.Empty(t, collect(base))

	// The sequence is restartable: ranging again scans again.
	seq := s.QueryAwaitingResponse(ctx, base.Add(72*time.Hour))
	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}
	assert.Equal(t, 2, count())

	_, err := s.CompareAndSwap(ctx, soon.ID, claims.StateAwaitingGuestResponse, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
		ev, err := c.TransitionTo(claims.StateAutoSuspended, claims.CauseGuestUnresponsive, "scheduler", base.Add(21*time.Hour))
		return []claims.ClaimEvent{ev}, err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count())

	// Stopping early is allowed.
	for range seq {
		break
	}
}

func testRecordDispatch(t *testing.T, s claims.Store) {
	ctx := context.Background()
	c, ev := NewClaim("booking-i")
	require.NoError(t, s.Insert(ctx, c, ev))

	key := c.ID + "/claim_filed/notify/CLAIM_FILED_FLEET/fleet"
	won, err := s.RecordDispatch(ctx, c.ID, key, base)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.RecordDispatch(ctx, c.ID, key, base.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, won)

	won, err = s.RecordDispatch(ctx, c.ID, key+"-other", base)
	require.NoError(t, err)
	assert.True(t, won)

	events, err := s.Events(ctx, c.ID)
	require.NoError(t, err)
	var dispatched []string
	for _, e := range events {
		if e.Cause == claims.CauseIntentDispatched {
			dispatched = append(dispatched, e.IntentKey)
			assert.False(t, e.IsTransition())
		}
	}
	assert.Equal(t, []string{key, key + "-other"}, dispatched)
}

func testNotFound(t *testing.T, s claims.Store) {
	ctx := context.Background()
	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, claims.ErrNotFound)

	_, err = s.CompareAndSwap(ctx, "missing", claims.StateFiled, func(*claims.Claim) ([]claims.ClaimEvent, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, claims.ErrNotFound)

	_, err = s.Events(ctx, "missing")
	assert.ErrorIs(t, err, claims.ErrNotFound)

	_, err = s.RecordDispatch(ctx, "missing", "k", base)
	assert.ErrorIs(t, err, claims.ErrNotFound)
}
