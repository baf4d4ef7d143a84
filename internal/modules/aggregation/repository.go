package aggregation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/lessons/internal/domain"
	"github.com/rs/zerolog"
)

// Repository persists derived statistics and their edge history
// Database: learning.db (pattern_scope_stats, edge_history tables)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new stats repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "stats").Logger(),
	}
}

// EncodeSubsetValues renders subset values as canonical JSON (sorted keys)
func EncodeSubsetValues(sv domain.SubsetValues) (string, error) {
	// encoding/json sorts map keys
	raw, err := json.Marshal(sv.Map())
	if err != nil {
		return "", fmt.Errorf("failed to encode subset values: %w", err)
	}
	return string(raw), nil
}

// DecodeSubsetValues parses canonical JSON subset values and checks them against the mask
func DecodeSubsetValues(mask int64, raw string) (domain.SubsetValues, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return domain.SubsetValues{}, fmt.Errorf("failed to decode subset values: %w", err)
	}
	sv, err := domain.SubsetValuesFromMap(m)
	if err != nil {
		return domain.SubsetValues{}, err
	}
	if int64(sv.Mask) != mask {
		return domain.SubsetValues{}, fmt.Errorf("subset values %s do not match mask %d", raw, mask)
	}
	return sv, nil
}

// ReplaceStatsTx replaces the stats of the given books inside tx.
// A nil books slice replaces every book.
func (r *Repository) ReplaceStatsTx(ctx context.Context, tx *sql.Tx, books []string, stats []domain.PatternScopeStat) error {
	if books == nil {
		if _, err := tx.ExecContext(ctx, "DELETE FROM pattern_scope_stats"); err != nil {
			return fmt.Errorf("failed to clear stats: %w", err)
		}
	} else {
		for _, b := range books {
			if _, err := tx.ExecContext(ctx, "DELETE FROM pattern_scope_stats WHERE book = ?", b); err != nil {
				return fmt.Errorf("failed to clear stats for book %s: %w", b, err)
			}
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO pattern_scope_stats (
		book, pattern_key, action_category, scope_subset_mask, scope_subset_values,
		n, mean_edge, edge_raw, variance, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare stat insert: %w", err)
	}
	defer stmt.Close()

	for i := range stats {
		s := &stats[i]
		values, err := EncodeSubsetValues(s.Subset)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			s.Book, string(s.PatternKey), string(s.Category), int64(s.Subset.Mask), values,
			s.N, s.MeanEdge, s.EdgeRaw, s.Variance, s.UpdatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("failed to insert stat: %w", err)
		}
	}

	return nil
}

// AppendHistoryTx records each stat's edge_raw at its evidence time.
// Repeated evidence is ignored, so re-runs do not grow the history.
func (r *Repository) AppendHistoryTx(ctx context.Context, tx *sql.Tx, stats []domain.PatternScopeStat) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO edge_history (
		book, pattern_key, action_category, scope_subset_mask, scope_subset_values, as_of, edge_raw, n
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare history insert: %w", err)
	}
	defer stmt.Close()

	for i := range stats {
		s := &stats[i]
		values, err := EncodeSubsetValues(s.Subset)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			s.Book, string(s.PatternKey), string(s.Category), int64(s.Subset.Mask), values,
			s.UpdatedAt.UnixMilli(), s.EdgeRaw, s.N,
		); err != nil {
			return fmt.Errorf("failed to insert edge history: %w", err)
		}
	}

	return nil
}

// LoadHistory returns edge history keyed by stat, oldest first.
// A nil book loads every book.
func (r *Repository) LoadHistory(ctx context.Context, book *string) (map[domain.StatKey][]domain.EdgeHistoryPoint, error) {
	query := `SELECT book, pattern_key, action_category, scope_subset_mask, scope_subset_values, as_of, edge_raw, n
		FROM edge_history`
	var args []interface{}
	if book != nil {
		query += " WHERE book = ?"
		args = append(args, *book)
	}
	query += " ORDER BY as_of"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edge history: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.StatKey][]domain.EdgeHistoryPoint)
	for rows.Next() {
		var (
			b, pk, cat, values string
			mask, asOf         int64
			p                  domain.EdgeHistoryPoint
		)
		if err := rows.Scan(&b, &pk, &cat, &mask, &values, &asOf, &p.EdgeRaw, &p.N); err != nil {
			return nil, fmt.Errorf("failed to scan edge history: %w", err)
		}
		sv, err := DecodeSubsetValues(mask, values)
		if err != nil {
			return nil, err
		}
		p.AsOf = time.UnixMilli(asOf).UTC()
		key := domain.StatKey{
			Group:  domain.GroupKey{Book: b, PatternKey: domain.PatternKey(pk), Category: domain.ActionCategory(cat)},
			Subset: sv,
		}
		out[key] = append(out[key], p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edge history: %w", err)
	}
	return out, nil
}

// StatsFilter narrows ListStats
type StatsFilter struct {
	Book       string
	PatternKey string
	Category   string
	Limit      int
}

// ListStats returns persisted stats ordered by group, mask and values
func (r *Repository) ListStats(ctx context.Context, f StatsFilter) ([]domain.PatternScopeStat, error) {
	query := `SELECT book, pattern_key, action_category, scope_subset_mask, scope_subset_values,
		n, mean_edge, edge_raw, variance, updated_at
		FROM pattern_scope_stats WHERE 1 = 1`
	var args []interface{}
	if f.Book != "" {
		query += " AND book = ?"
		args = append(args, f.Book)
	}
	if f.PatternKey != "" {
		query += " AND pattern_key = ?"
		args = append(args, f.PatternKey)
	}
	if f.Category != "" {
		query += " AND action_category = ?"
		args = append(args, f.Category)
	}
	query += " ORDER BY book, pattern_key, action_category, scope_subset_mask, scope_subset_values"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var out []domain.PatternScopeStat
	for rows.Next() {
		var (
			s                   domain.PatternScopeStat
			pk, cat, values     string
			mask, updatedAtUnix int64
		)
		if err := rows.Scan(&s.Book, &pk, &cat, &mask, &values,
			&s.N, &s.MeanEdge, &s.EdgeRaw, &s.Variance, &updatedAtUnix); err != nil {
			return nil, fmt.Errorf("failed to scan stat: %w", err)
		}
		sv, err := DecodeSubsetValues(mask, values)
		if err != nil {
			return nil, err
		}
		s.PatternKey = domain.PatternKey(pk)
		s.Category = domain.ActionCategory(cat)
		s.Subset = sv
		s.UpdatedAt = time.UnixMilli(updatedAtUnix).UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats: %w", err)
	}
	return out, nil
}
