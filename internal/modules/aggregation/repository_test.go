package aggregation

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/aristath/lessons/internal/database"
	"github.com/aristath/lessons/internal/domain"
	testingpkg "github.com/aristath/lessons/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioStats(t *testing.T) []domain.PatternScopeStat {
	res, err := New(defaultParams(), zerolog.Nop()).Aggregate(context.Background(), testingpkg.ScenarioEvents())
	require.NoError(t, err)
	return res.Stats
}

func TestSubsetValuesEncoding(t *testing.T) {
	sv := testingpkg.NewScopeFixture(nil).Project(domain.MaskOf(domain.DimMacroPhase, domain.DimBucket))

	raw, err := EncodeSubsetValues(sv)
	require.NoError(t, err)
	assert.Equal(t, `{"bucket":"micro","macro_phase":"Recover"}`, raw)

	back, err := DecodeSubsetValues(int64(sv.Mask), raw)
	require.NoError(t, err)
	assert.Equal(t, sv, back)

	_, err = DecodeSubsetValues(1, raw)
	assert.Error(t, err, "mask mismatch must be rejected")
}

func TestRepository_ReplaceAndList(t *testing.T) {
	db := testingpkg.NewTestDB(t, database.NameLearning)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()
	stats := scenarioStats(t)

	write := func(books []string, s []domain.PatternScopeStat) {
		require.NoError(t, database.WithTransaction(ctx, db.Conn(), func(tx *sql.Tx) error {
			return repo.ReplaceStatsTx(ctx, tx, books, s)
		}))
	}

	write(nil, stats)
	write(nil, stats)

	listed, err := repo.ListStats(ctx, StatsFilter{})
	require.NoError(t, err)
	require.Len(t, listed, len(stats))
	assert.Equal(t, stats[0].MeanEdge, listed[0].MeanEdge)
	assert.Equal(t, stats[0].UpdatedAt, listed[0].UpdatedAt)
	assert.Nil(t, listed[0].Coverage)

	limited, err := repo.ListStats(ctx, StatsFilter{Book: domain.DefaultBook, Category: "entry", Limit: 5})
	require.NoError(t, err)
	assert.Len(t, limited, 5)

	none, err := repo.ListStats(ctx, StatsFilter{Category: "exit"})
	require.NoError(t, err)
	assert.Empty(t, none)

	// Replacing another book leaves the default book alone
	write([]string{"other"}, nil)
	listed, err = repo.ListStats(ctx, StatsFilter{})
	require.NoError(t, err)
	assert.Len(t, listed, len(stats))

	write([]string{domain.DefaultBook}, stats[:1])
	listed, err = repo.ListStats(ctx, StatsFilter{})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestRepository_HistoryIsIdempotent(t *testing.T) {
	db := testingpkg.NewTestDB(t, database.NameLearning)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()
	stats := scenarioStats(t)[:2]

	appendHistory := func(s []domain.PatternScopeStat) {
		require.NoError(t, database.WithTransaction(ctx, db.Conn(), func(tx *sql.Tx) error {
			return repo.AppendHistoryTx(ctx, tx, s)
		}))
	}

	appendHistory(stats)
	appendHistory(stats)

	later := stats[0]
	later.UpdatedAt = later.UpdatedAt.Add(24 * time.Hour)
	later.EdgeRaw = 0.12
	appendHistory([]domain.PatternScopeStat{later})

	history, err := repo.LoadHistory(ctx, nil)
	require.NoError(t, err)
	require.Len(t, history, 2)

	points := history[stats[0].Key()]
	require.Len(t, points, 2)
	assert.True(t, points[0].AsOf.Before(points[1].AsOf))
	assert.Equal(t, 0.12, points[1].EdgeRaw)
	assert.Equal(t, 60, points[0].N)

	other := "other"
	scoped, err := repo.LoadHistory(ctx, &other)
	require.NoError(t, err)
	assert.Empty(t, scoped)
}
