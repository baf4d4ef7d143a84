package overrides

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/aristath/lessons/internal/database"
	"github.com/aristath/lessons/internal/domain"
	"github.com/aristath/lessons/internal/events"
	testingpkg "github.com/aristath/lessons/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmitter struct {
	types []events.EventType
}

func (f *fakeEmitter) EmitTyped(eventType events.EventType, module string, data events.EventData) {
	f.types = append(f.types, eventType)
}

type snapshotRecorder struct {
	version int64
	n       int
}

func (r *snapshotRecorder) ObserveSnapshot(version int64, overrides int) {
	r.version = version
	r.n = overrides
}

func newTestService(t *testing.T) (*Service, *database.DB) {
	db := testingpkg.NewTestDB(t, database.NameLearning)
	svc := NewService(db.Conn(), NewRepository(db.Conn(), zerolog.Nop()), NewStore(0.2), zerolog.Nop())
	svc.SetClock(func() time.Time { return testingpkg.FixtureEpoch })
	return svc, db
}

func scenarioOverrides() []domain.Override {
	a := override("a", 0.9, map[string]string{"bucket": "micro"})
	b := override("b", 0.5, map[string]string{"bucket": "micro", "macro_phase": "Recover"})
	b.Merged = []string{"bucket=micro|macro_phase=Recover|timeframe=1h"}
	return []domain.Override{a, b}
}

func TestPayload_RoundTrip(t *testing.T) {
	list := scenarioOverrides()

	raw, err := EncodePayload(list)
	require.NoError(t, err)
	back, err := DecodePayload(raw)
	require.NoError(t, err)

	assert.Equal(t, list, back)
}

func TestService_PublishPersistsAndSwaps(t *testing.T) {
	svc, db := newTestService(t)
	emitter := &fakeEmitter{}
	obs := &snapshotRecorder{}
	svc.SetEventEmitter(emitter)
	svc.SetObserver(obs)
	ctx := context.Background()

	hookCalled := false
	snap, err := svc.Publish(ctx, PublishRequest{
		RunID:     "run-1",
		Overrides: scenarioOverrides(),
		InTx: func(tx *sql.Tx, version int64) error {
			hookCalled = true
			assert.Equal(t, int64(1), version)
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, hookCalled)
	assert.Equal(t, int64(1), snap.Version)
	assert.Same(t, snap, svc.Store().Current())
	assert.Equal(t, []events.EventType{events.OverridesPublished}, emitter.types)
	assert.Equal(t, int64(1), obs.version)
	assert.Equal(t, 2, obs.n)

	repo := NewRepository(db.Conn(), zerolog.Nop())
	rows, err := repo.CountRows(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	// A fresh store reloads the same snapshot from the head
	reloaded := NewService(db.Conn(), repo, NewStore(0.2), zerolog.Nop())
	require.NoError(t, reloaded.Load(ctx))
	cur := reloaded.Store().Current()
	assert.Equal(t, int64(1), cur.Version)
	assert.Equal(t, scenarioOverrides(), cur.Overrides)
	assert.Equal(t, testingpkg.FixtureEpoch, cur.PublishedAt)

	infos, err := repo.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.NotNil(t, infos[0].RunID)
	assert.Equal(t, "run-1", *infos[0].RunID)
}

func TestService_FailedPublishLeavesStoreUntouched(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	_, err := svc.Publish(ctx, PublishRequest{Overrides: scenarioOverrides()})
	require.NoError(t, err)
	before := svc.Store().Current()

	boom := errors.New("boom")
	_, err = svc.Publish(ctx, PublishRequest{
		BaseVersion: 1,
		Overrides:   scenarioOverrides()[:1],
		InTx:        func(*sql.Tx, int64) error { return boom },
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Same(t, before, svc.Store().Current())

	snap, err := NewRepository(db.Conn(), zerolog.Nop()).LoadHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version, "rolled back publish must not move the head")
}

func TestService_SetEnabled(t *testing.T) {
	svc, _ := newTestService(t)
	emitter := &fakeEmitter{}
	svc.SetEventEmitter(emitter)
	ctx := context.Background()

	_, err := svc.Publish(ctx, PublishRequest{Overrides: scenarioOverrides()})
	require.NoError(t, err)

	toggled, err := svc.SetEnabled(ctx, "b", false)
	require.NoError(t, err)
	assert.False(t, toggled.Enabled)

	cur := svc.Store().Current()
	assert.Equal(t, int64(2), cur.Version)
	b, _ := cur.Get("b")
	assert.False(t, b.Enabled)

	// The disabled specific override no longer shadows the general one
	d := svc.Store().MatchAt(testingpkg.FixtureEpoch, query(nil))
	assert.Equal(t, "a", d.OverrideID)

	_, err = svc.SetEnabled(ctx, "missing", true)
	assert.True(t, errors.Is(err, domain.ErrOverrideNotFound))

	assert.Contains(t, emitter.types, events.OverrideToggled)
}

func TestService_PublishKeepsConcurrentToggles(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Publish(ctx, PublishRequest{Overrides: scenarioOverrides()})
	require.NoError(t, err)

	// A miner run starts from version 1, an operator disables "b" meanwhile
	base := svc.Store().Current().Version
	_, err = svc.SetEnabled(ctx, "b", false)
	require.NoError(t, err)

	snap, err := svc.Publish(ctx, PublishRequest{BaseVersion: base, Overrides: scenarioOverrides()})
	require.NoError(t, err)
	b, _ := snap.Get("b")
	assert.False(t, b.Enabled)
}

func TestRepository_LoadHeadEmpty(t *testing.T) {
	db := testingpkg.NewTestDB(t, database.NameLearning)
	snap, err := NewRepository(db.Conn(), zerolog.Nop()).LoadHead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version)
	assert.Equal(t, 0, snap.Len())
}
