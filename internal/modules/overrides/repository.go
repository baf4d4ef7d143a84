package overrides

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/lessons/internal/domain"
	"github.com/aristath/lessons/internal/modules/aggregation"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Repository persists override snapshots
// Database: learning.db (override_snapshots, override_snapshot_head, overrides tables)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new override repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "overrides").Logger(),
	}
}

// EncodePayload serializes an override list for the snapshot payload
func EncodePayload(list []domain.Override) ([]byte, error) {
	raw, err := msgpack.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot payload: %w", err)
	}
	return raw, nil
}

// DecodePayload restores an override list from a snapshot payload
func DecodePayload(raw []byte) ([]domain.Override, error) {
	var list []domain.Override
	if err := msgpack.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot payload: %w", err)
	}
	for i := range list {
		list[i].ReinforcedAt = list[i].ReinforcedAt.UTC()
		list[i].CreatedAt = list[i].CreatedAt.UTC()
	}
	return list, nil
}

// WriteSnapshotTx appends a snapshot, its override rows, and moves the head to it.
// It returns the new version.
func (r *Repository) WriteSnapshotTx(ctx context.Context, tx *sql.Tx, runID string, publishedAt time.Time, list []domain.Override) (int64, error) {
	payload, err := EncodePayload(list)
	if err != nil {
		return 0, err
	}

	var run sql.NullString
	if runID != "" {
		run = sql.NullString{String: runID, Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO override_snapshots (run_id, published_at, n_overrides, payload) VALUES (?, ?, ?, ?)`,
		run, publishedAt.UnixMilli(), len(list), payload,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	version, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot version: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO overrides (
		snapshot_version, override_id, book, pattern_key, action_category,
		scope_subset_mask, scope_subset_values, levers, edge, strength, decay_half_life,
		enabled, sample_count, reinforced_at, merged, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare override insert: %w", err)
	}
	defer stmt.Close()

	for i := range list {
		o := &list[i]
		values, err := aggregation.EncodeSubsetValues(o.Subset)
		if err != nil {
			return 0, err
		}
		levers, err := json.Marshal(o.Levers)
		if err != nil {
			return 0, fmt.Errorf("failed to encode levers: %w", err)
		}
		merged := []byte("[]")
		if len(o.Merged) > 0 {
			if merged, err = json.Marshal(o.Merged); err != nil {
				return 0, fmt.Errorf("failed to encode merged subsets: %w", err)
			}
		}

		if _, err := stmt.ExecContext(ctx,
			version, o.OverrideID, o.Book, string(o.PatternKey), string(o.Category),
			int64(o.Subset.Mask), values, string(levers), o.Edge, o.Strength, int64(o.HalfLife/time.Millisecond),
			o.Enabled, o.SampleCount, o.ReinforcedAt.UnixMilli(), string(merged), o.CreatedAt.UnixMilli(),
		); err != nil {
			return 0, fmt.Errorf("failed to insert override %s: %w", o.OverrideID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO override_snapshot_head (id, version) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version`,
		version,
	); err != nil {
		return 0, fmt.Errorf("failed to move snapshot head: %w", err)
	}

	return version, nil
}

// LoadHead returns the snapshot the head points to, or an empty version-0 snapshot
func (r *Repository) LoadHead(ctx context.Context) (*Snapshot, error) {
	var (
		version     int64
		publishedAt int64
		payload     []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT s.version, s.published_at, s.payload
		 FROM override_snapshot_head h JOIN override_snapshots s ON s.version = h.version
		 WHERE h.id = 1`,
	).Scan(&version, &publishedAt, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return NewSnapshot(0, time.Time{}, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot head: %w", err)
	}

	list, err := DecodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("snapshot %d: %w", version, err)
	}
	return NewSnapshot(version, time.UnixMilli(publishedAt).UTC(), list), nil
}

// SnapshotInfo describes one published snapshot
type SnapshotInfo struct {
	Version     int64     `json:"version"`
	RunID       *string   `json:"run_id"`
	PublishedAt time.Time `json:"published_at"`
	Overrides   int       `json:"n_overrides"`
}

// ListSnapshots returns the most recent snapshots, newest first
func (r *Repository) ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT version, run_id, published_at, n_overrides FROM override_snapshots ORDER BY version DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var (
			info        SnapshotInfo
			runID       sql.NullString
			publishedAt int64
		)
		if err := rows.Scan(&info.Version, &runID, &publishedAt, &info.Overrides); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if runID.Valid {
			info.RunID = &runID.String
		}
		info.PublishedAt = time.UnixMilli(publishedAt).UTC()
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return out, nil
}

// CountRows returns the override rows stored for a version
func (r *Repository) CountRows(ctx context.Context, version int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM overrides WHERE snapshot_version = ?`, version,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count overrides: %w", err)
	}
	return n, nil
}
