// Package memory is an in-process claim store for tests and single-node
// development runs. Claims are copied on every read and write.
package memory

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claimflow/internal/claims"
)

// Store keeps claims and their events in maps guarded by one RWMutex.
type Store struct {
	mu       sync.RWMutex
	claims   map[string]*claims.Claim
	events   map[string][]claims.ClaimEvent
	bookings map[string]string
	dispatch map[string]struct{}
	seq      int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		claims:   make(map[string]*claims.Claim),
		events:   make(map[string][]claims.ClaimEvent),
		bookings: make(map[string]string),
		dispatch: make(map[string]struct{}),
	}
}

var _ claims.Store = (*Store)(nil)

// Insert stores a new claim, enforcing one open claim per booking.
func (s *Store) Insert(ctx context.Context, c *claims.Claim, created claims.ClaimEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.claims[c.ID]; exists {
		return fmt.Errorf("%w: claim %s already exists", claims.ErrInvalidInput, c.ID)
	}
	if openID, ok := s.bookings[c.BookingID]; ok {
		if open := s.claims[openID]; open != nil && open.IsOpen() {
			return claims.InvalidInput("booking %s already has open claim %s", c.BookingID, openID)
		}
	}

	s.claims[c.ID] = c.Clone()
	s.bookings[c.BookingID] = c.ID
	s.appendLocked(c.ID, created)
	return nil
}

// Get returns a copy of the claim.
func (s *Store) Get(ctx context.Context, id string) (*claims.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.claims[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", claims.ErrNotFound, id)
	}
	return c.Clone(), nil
}

// CompareAndSwap runs mutate on a copy while holding the write lock and
// commits it only if the claim was still in expected.
func (s *Store) CompareAndSwap(ctx context.Context, id string, expected claims.State, mutate claims.Mutator) (*claims.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.claims[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", claims.ErrNotFound, id)
	}
	if current.State != expected {
		return nil, fmt.Errorf("%w: claim %s is %s, expected %s", claims.ErrConcurrencyConflict, id, current.State, expected)
	}

	next := current.Clone()
	events, err := mutate(next)
	if err != nil {
		return nil, err
	}
	if next.ID != id {
		return nil, fmt.Errorf("mutator changed claim id %s to %s", id, next.ID)
	}
	next.Version = current.Version + 1

	s.claims[id] = next
	for _, ev := range events {
		s.appendLocked(id, ev)
	}
	return next.Clone(), nil
}

// QueryAwaitingResponse snapshots matching ids when iteration begins and
// yields a fresh copy of each claim still awaiting a response.
func (s *Store) QueryAwaitingResponse(ctx context.Context, before time.Time) iter.Seq2[*claims.Claim, error] {
	return func(yield func(*claims.Claim, error) bool) {
		s.mu.RLock()
		var ids []string
		for id, c := range s.claims {
			if c.State == claims.StateAwaitingGuestResponse && c.ResponseDeadline != nil && !c.ResponseDeadline.After(before) {
				ids = append(ids, id)
			}
		}
		s.mu.RUnlock()
		sort.Strings(ids)

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			c, err := s.Get(ctx, id)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if c.State != claims.StateAwaitingGuestResponse {
				continue
			}
			if !yield(c, nil) {
				return
			}
		}
	}
}

// Events returns the claim's log in append order.
func (s *Store) Events(ctx context.Context, id string) ([]claims.ClaimEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.claims[id]; !ok {
		return nil, fmt.Errorf("%w: %s", claims.ErrNotFound, id)
	}
	return append([]claims.ClaimEvent(nil), s.events[id]...), nil
}

// RecordDispatch claims the dispatch slot for (claimID, intentKey).
func (s *Store) RecordDispatch(ctx context.Context, claimID, intentKey string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[claimID]
	if !ok {
		return false, fmt.Errorf("%w: %s", claims.ErrNotFound, claimID)
	}
	key := claimID + "|" + intentKey
	if _, done := s.dispatch[key]; done {
		return false, nil
	}
	s.dispatch[key] = struct{}{}
	s.appendLocked(claimID, claims.ClaimEvent{
		ID:         uuid.NewString(),
		ClaimID:    claimID,
		FromState:  c.State,
		ToState:    c.State,
		Cause:      claims.CauseIntentDispatched,
		Actor:      "dispatcher",
		IntentKey:  intentKey,
		OccurredAt: at,
	})
	return true, nil
}

func (s *Store) appendLocked(id string, ev claims.ClaimEvent) {
	s.seq++
	ev.Seq = s.seq
	ev.ClaimID = id
	s.events[id] = append(s.events[id], ev)
}
