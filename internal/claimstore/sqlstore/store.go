// Package sqlstore persists claims through database/sql. The same queries
// serve PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite); sqlx rebinds the
// placeholders for whichever driver is in use. Timestamps are stored as Unix
// milliseconds so both dialects compare them the same way.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/claimflow/internal/claims"
)

// Dialect selects the schema and driver family.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect maps a driver name to its dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported store driver %q", driver)
}

const defaultPageSize = 200

// Store is a claims.Store backed by a SQL database.
type Store struct {
	db       *sqlx.DB
	dialect  Dialect
	tracer   trace.Tracer
	pageSize int
}

var _ claims.Store = (*Store)(nil)

// New wraps an open database handle. Call Migrate before first use.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:       sqlx.NewDb(db, string(dialect)),
		dialect:  dialect,
		tracer:   otel.Tracer("claimflow/claimstore"),
		pageSize: defaultPageSize,
	}
}

// Dialect reports which SQL dialect the store speaks.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const claimColumns = `id, booking_id, host_id, guest_id, fleet_reviewer_id, state, claim_type, description, priority,
	estimated_cost, approved_amount, deductible_amount, deposit_held, potential_charge, guest_responsibility, host_payout,
	commission_rate, incident_at, filed_at, fleet_decision_at, guest_notified_at, response_deadline, reminder_sent_at,
	guest_responded_at, final_decision_at, guest_response_text, guest_evidence_count, denial_reason, review_notes,
	version, updated_at`

const eventColumns = `seq, id, claim_id, from_state, to_state, cause, actor, intent_key, occurred_at`

// terminalStates is the SQL list matching claims.State.IsTerminal.
const terminalStates = `('FLEET_DENIED', 'APPROVED_PAID', 'DENIED_CLOSED', 'AUTO_SUSPENDED')`

// Insert stores a new claim and its creation event in one transaction.
func (s *Store) Insert(ctx context.Context, c *claims.Claim, created claims.ClaimEvent) (err error) {
	ctx, span := s.start(ctx, "claimstore.insert", c.ID)
	defer func() { endSpan(span, err) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var openID string
	err = tx.GetContext(ctx, &openID, tx.Rebind(`SELECT id FROM claims WHERE booking_id = ? AND state NOT IN `+terminalStates+` LIMIT 1`), c.BookingID)
	switch {
	case err == nil:
		return claims.InvalidInput("booking %s already has open claim %s", c.BookingID, openID)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check open claims: %w", err)
	}

	row := toRow(c)
	_, err = tx.NamedExecContext(ctx, `INSERT INTO claims (`+claimColumns+`) VALUES (
		:id, :booking_id, :host_id, :guest_id, :fleet_reviewer_id, :state, :claim_type, :description, :priority,
		:estimated_cost, :approved_amount, :deductible_amount, :deposit_held, :potential_charge, :guest_responsibility, :host_payout,
		:commission_rate, :incident_at, :filed_at, :fleet_decision_at, :guest_notified_at, :response_deadline, :reminder_sent_at,
		:guest_responded_at, :final_decision_at, :guest_response_text, :guest_evidence_count, :denial_reason, :review_notes,
		:version, :updated_at)`, row)
	if err != nil {
		if isUniqueViolation(err) {
			return claims.InvalidInput("booking %s already has an open claim", c.BookingID)
		}
		return fmt.Errorf("insert claim: %w", err)
	}

	if err := insertEvents(ctx, tx, c.ID, []claims.ClaimEvent{created}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Get loads one claim.
func (s *Store) Get(ctx context.Context, id string) (_ *claims.Claim, err error) {
	ctx, span := s.start(ctx, "claimstore.get", id)
	defer func() { endSpan(span, err) }()

	var row claimRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+claimColumns+` FROM claims WHERE id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", claims.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return row.toClaim()
}

// CompareAndSwap reads the claim, checks its state, applies mutate and
// writes it back guarded by the version it read. Either the row update and
// all events commit together or nothing does.
func (s *Store) CompareAndSwap(ctx context.Context, id string, expected claims.State, mutate claims.Mutator) (_ *claims.Claim, err error) {
	ctx, span := s.start(ctx, "claimstore.compare_and_swap", id)
	span.SetAttributes(attribute.String("claim.expected_state", string(expected)))
	defer func() { endSpan(span, err) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row claimRow
	if err := tx.GetContext(ctx, &row, tx.Rebind(`SELECT `+claimColumns+` FROM claims WHERE id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", claims.ErrNotFound, id)
		}
		return nil, fmt.Errorf("read claim: %w", err)
	}
	if claims.State(row.State) != expected {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return nil, fmt.Errorf("%w: claim %s is %s, expected %s", claims.ErrConcurrencyConflict, id, row.State, expected)
	}

	current, err := row.toClaim()
	if err != nil {
		return nil, err
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

	update := toRow(next)
	update.PrevVersion = current.Version
	res, err := tx.NamedExecContext(ctx, `UPDATE claims SET
		fleet_reviewer_id = :fleet_reviewer_id, state = :state, description = :description, priority = :priority,
		approved_amount = :approved_amount, guest_responsibility = :guest_responsibility, host_payout = :host_payout,
		commission_rate = :commission_rate, fleet_decision_at = :fleet_decision_at, guest_notified_at = :guest_notified_at,
		response_deadline = :response_deadline, reminder_sent_at = :reminder_sent_at, guest_responded_at = :guest_responded_at,
		final_decision_at = :final_decision_at, guest_response_text = :guest_response_text,
		guest_evidence_count = :guest_evidence_count, denial_reason = :denial_reason, review_notes = :review_notes,
		version = :version, updated_at = :updated_at
		WHERE id = :id AND version = :prev_version`, update)
	if err != nil {
		return nil, fmt.Errorf("update claim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update claim: %w", err)
	}
	if affected == 0 {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return nil, fmt.Errorf("%w: claim %s changed since version %d", claims.ErrConcurrencyConflict, id, current.Version)
	}

	if err := insertEvents(ctx, tx, id, events); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return nil, fmt.Errorf("%w: %v", claims.ErrConcurrencyConflict, err)
		}
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	span.SetAttributes(
		attribute.String("claim.state", string(next.State)),
		attribute.Int("event.count", len(events)),
	)
	return next, nil
}

// QueryAwaitingResponse pages through matching claims in id order. Nothing
// is held between pages, so ranging again restarts from the first id.
func (s *Store) QueryAwaitingResponse(ctx context.Context, before time.Time) iter.Seq2[*claims.Claim, error] {
	query := s.db.Rebind(`SELECT ` + claimColumns + ` FROM claims
		WHERE state = ? AND response_deadline IS NOT NULL AND response_deadline <= ? AND id > ?
		ORDER BY id LIMIT ?`)

	return func(yield func(*claims.Claim, error) bool) {
		ctx, span := s.tracer.Start(ctx, "claimstore.query_awaiting_response",
			trace.WithAttributes(attribute.Int64("before", before.UnixMilli())))
		defer span.End()

		after := ""
		total := 0
		for {
			var rows []claimRow
			if err := s.db.SelectContext(ctx, &rows, query, string(claims.StateAwaitingGuestResponse), toMillis(before), after, s.pageSize); err != nil {
				recordErr(span, err)
				yield(nil, fmt.Errorf("query awaiting claims: %w", err))
				return
			}
			for _, row := range rows {
				c, err := row.toClaim()
				if !yield(c, err) {
					return
				}
				total++
			}
			if len(rows) < s.pageSize {
				span.SetAttributes(attribute.Int("claims.yielded", total))
				return
			}
			after = rows[len(rows)-1].ID
		}
	}
}

// Events returns the claim's log ordered by sequence.
func (s *Store) Events(ctx context.Context, id string) (_ []claims.ClaimEvent, err error) {
	ctx, span := s.start(ctx, "claimstore.events", id)
	defer func() { endSpan(span, err) }()

	var exists int
	if err := s.db.GetContext(ctx, &exists, s.db.Rebind(`SELECT COUNT(*) FROM claims WHERE id = ?`), id); err != nil {
		return nil, fmt.Errorf("check claim: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", claims.ErrNotFound, id)
	}

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT `+eventColumns+` FROM claim_events WHERE claim_id = ? ORDER BY seq`), id); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events := make([]claims.ClaimEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toEvent())
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// RecordDispatch inserts an intent_dispatched event. The partial unique
// index on (claim_id, intent_key) makes the second caller a no-op.
func (s *Store) RecordDispatch(ctx context.Context, claimID, intentKey string, at time.Time) (_ bool, err error) {
	ctx, span := s.start(ctx, "claimstore.record_dispatch", claimID)
	span.SetAttributes(attribute.String("intent.key", intentKey))
	defer func() { endSpan(span, err) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var state string
	if err := tx.GetContext(ctx, &state, tx.Rebind(`SELECT state FROM claims WHERE id = ?`), claimID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: %s", claims.ErrNotFound, claimID)
		}
		return false, fmt.Errorf("read claim state: %w", err)
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO claim_events (id, claim_id, from_state, to_state, cause, actor, intent_key, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`),
		uuid.NewString(), claimID, state, state, string(claims.CauseIntentDispatched), "dispatcher", intentKey, toMillis(at))
	if err != nil {
		return false, fmt.Errorf("record dispatch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record dispatch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	span.SetAttributes(attribute.Bool("dispatch.won", affected > 0))
	return affected > 0, nil
}

func insertEvents(ctx context.Context, tx *sqlx.Tx, claimID string, events []claims.ClaimEvent) error {
	for i, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		row := fromEvent(claimID, ev)
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO claim_events (id, claim_id, from_state, to_state, cause, actor, intent_key, occurred_at)
			VALUES (:id, :claim_id, :from_state, :to_state, :cause, :actor, :intent_key, :occurred_at)`, row); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: event %d for claim %s already recorded", claims.ErrConcurrencyConflict, i, claimID)
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) start(ctx context.Context, name, claimID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("claim.id", claimID),
		attribute.String("db.system", string(s.dialect)),
	))
}

func endSpan(span trace.Span, err error) {
	recordErr(span, err)
	span.End()
}

func recordErr(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

// isBusy reports a write that lost to another writer at commit time:
// SQLite's busy family, or a Postgres serialization failure.
func isBusy(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001"
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3lib.SQLITE_BUSY
	}
	return false
}
