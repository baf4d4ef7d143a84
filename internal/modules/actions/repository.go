// Package actions records trading actions and their realized outcomes.
package actions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/lessons/internal/domain"
	"github.com/rs/zerolog"
)

// Repository handles action event persistence
// Database: actions.db (action_events table)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new action event repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "actions").Logger(),
	}
}

const eventColumns = `seq, event_id, book, pattern_key, action_category,
	macro_phase, meso_phase, bucket, timeframe, volatility, applied_mode_a, applied_mode_e,
	controls, outcome, resolved_at, created_at`

// Insert appends an event and fills in its sequence number
func (r *Repository) Insert(ctx context.Context, e *domain.ActionEvent) error {
	controls, err := json.Marshal(e.Controls)
	if err != nil {
		return fmt.Errorf("failed to marshal controls: %w", err)
	}
	if e.Controls == nil {
		controls = []byte("{}")
	}

	query := `INSERT INTO action_events (
		event_id, book, pattern_key, action_category,
		macro_phase, meso_phase, bucket, timeframe, volatility, applied_mode_a, applied_mode_e,
		controls, outcome, resolved_at, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var outcome sql.NullFloat64
	var resolvedAt sql.NullInt64
	if e.Outcome != nil {
		outcome = sql.NullFloat64{Float64: *e.Outcome, Valid: true}
	}
	if e.ResolvedAt != nil {
		resolvedAt = sql.NullInt64{Int64: e.ResolvedAt.UnixMilli(), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, query,
		e.EventID, e.Book, string(e.PatternKey), string(e.Category),
		e.Scope[domain.DimMacroPhase], e.Scope[domain.DimMesoPhase], e.Scope[domain.DimBucket],
		e.Scope[domain.DimTimeframe], e.Scope[domain.DimVolatility],
		e.Scope[domain.DimAppliedModeA], e.Scope[domain.DimAppliedModeE],
		string(controls), outcome, resolvedAt, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.NewValidationError("event_id", "event %s already recorded", e.EventID)
		}
		return fmt.Errorf("failed to insert action event: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read event sequence: %w", err)
	}
	e.Seq = seq
	return nil
}

// ResolveOutcome attaches the realized outcome exactly once.
// The conditional update makes concurrent resolvers race safely: only one wins.
func (r *Repository) ResolveOutcome(ctx context.Context, eventID string, outcome float64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE action_events SET outcome = ?, resolved_at = ? WHERE event_id = ? AND outcome IS NULL`,
		outcome, at.UnixMilli(), eventID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "already resolved") {
			return &domain.AlreadyResolvedError{EventID: eventID}
		}
		return fmt.Errorf("failed to resolve outcome: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var resolved bool
	err = r.db.QueryRowContext(ctx,
		`SELECT outcome IS NOT NULL FROM action_events WHERE event_id = ?`, eventID,
	).Scan(&resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("event %s: %w", eventID, domain.ErrEventNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check event state: %w", err)
	}
	return &domain.AlreadyResolvedError{EventID: eventID}
}

// GetByID returns one event
func (r *Repository) GetByID(ctx context.Context, eventID string) (*domain.ActionEvent, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM action_events WHERE event_id = ?", eventID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", eventID, domain.ErrEventNotFound)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ScanResolved returns resolved events with resolved_at <= cutoff in insertion order.
// A nil book scans every book. The single SELECT reads one consistent WAL snapshot.
func (r *Repository) ScanResolved(ctx context.Context, book *string, cutoff time.Time) ([]domain.ActionEvent, error) {
	query := "SELECT " + eventColumns + " FROM action_events WHERE outcome IS NOT NULL AND resolved_at <= ?"
	args := []interface{}{cutoff.UnixMilli()}
	if book != nil {
		query += " AND book = ?"
		args = append(args, *book)
	}
	query += " ORDER BY seq"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resolved events: %w", err)
	}
	defer rows.Close()

	var out []domain.ActionEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resolved events: %w", err)
	}
	return out, nil
}

// Counts holds recorder totals
type Counts struct {
	Total    int `json:"total"`
	Resolved int `json:"resolved"`
}

// Count returns totals for a book, or all books when book is nil
func (r *Repository) Count(ctx context.Context, book *string) (Counts, error) {
	query := "SELECT COUNT(*), COUNT(outcome) FROM action_events"
	var args []interface{}
	if book != nil {
		query += " WHERE book = ?"
		args = append(args, *book)
	}

	var c Counts
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.Total, &c.Resolved); err != nil {
		return Counts{}, fmt.Errorf("failed to count action events: %w", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*domain.ActionEvent, error) {
	var (
		e          domain.ActionEvent
		patternKey string
		category   string
		controls   string
		outcome    sql.NullFloat64
		resolvedAt sql.NullInt64
		createdAt  int64
	)

	err := row.Scan(
		&e.Seq, &e.EventID, &e.Book, &patternKey, &category,
		&e.Scope[domain.DimMacroPhase], &e.Scope[domain.DimMesoPhase], &e.Scope[domain.DimBucket],
		&e.Scope[domain.DimTimeframe], &e.Scope[domain.DimVolatility],
		&e.Scope[domain.DimAppliedModeA], &e.Scope[domain.DimAppliedModeE],
		&controls, &outcome, &resolvedAt, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan action event: %w", err)
	}

	e.PatternKey = domain.PatternKey(patternKey)
	e.Category = domain.ActionCategory(category)
	e.CreatedAt = time.UnixMilli(createdAt).UTC()

	if controls != "" {
		if err := json.Unmarshal([]byte(controls), &e.Controls); err != nil {
			return nil, fmt.Errorf("failed to unmarshal controls for %s: %w", e.EventID, err)
		}
	}
	if outcome.Valid {
		v := outcome.Float64
		e.Outcome = &v
	}
	if resolvedAt.Valid {
		t := time.UnixMilli(resolvedAt.Int64).UTC()
		e.ResolvedAt = &t
	}

	return &e, nil
}
