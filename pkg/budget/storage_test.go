package budget

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *State {
	limit := int64(5000)
	return &State{
		MandateID:         "mand_1",
		MandateVersion:    3,
		Currency:          "EUR",
		DailyLimitCents:   100_000,
		MonthlyLimitCents: 500_000,
		PerTxMaxCents:     &limit,
		AllowedVendors:    []string{"aws", "gcp"},
		EnforcementMode:   "enforce",
		DailySpentCents:   1200,
		MonthlySpentCents: 3400,
		CurrentDay:        "2025-01-15",
		TxCount:           2,
		UpdatedAt:         time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

// testStorageContract exercises the behavior every Storage must share.
func testStorageContract(t *testing.T, s Storage) {
	ctx := context.Background()

	got, err := s.Load(ctx, "mand_1")
	require.NoError(t, err)
	assert.Nil(t, got, "unknown mandates load as nil")

	st := sampleState()
	require.NoError(t, s.Save(ctx, st))
	assert.Equal(t, int64(1), st.Version)

	got, err = s.Load(ctx, "mand_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, st.MandateID, got.MandateID)
	assert.Equal(t, st.MandateVersion, got.MandateVersion)
	assert.Equal(t, st.Currency, got.Currency)
	assert.Equal(t, st.DailyLimitCents, got.DailyLimitCents)
	assert.Equal(t, st.MonthlyLimitCents, got.MonthlyLimitCents)
	require.NotNil(t, got.PerTxMaxCents)
	assert.Equal(t, int64(5000), *got.PerTxMaxCents)
	assert.Equal(t, []string{"aws", "gcp"}, got.AllowedVendors)
	assert.Equal(t, st.DailySpentCents, got.DailySpentCents)
	assert.Equal(t, st.MonthlySpentCents, got.MonthlySpentCents)
	assert.Equal(t, st.CurrentDay, got.CurrentDay)
	assert.Equal(t, st.TxCount, got.TxCount)
	assert.True(t, st.UpdatedAt.Equal(got.UpdatedAt))
	assert.Equal(t, int64(1), got.Version)

	// A second insert of the same mandate conflicts.
	dup := sampleState()
	assert.ErrorIs(t, s.Save(ctx, dup), ErrVersionConflict)

	// Update from the current version succeeds; a stale one conflicts.
	got.DailySpentCents = 9999
	require.NoError(t, s.Save(ctx, got))
	assert.Equal(t, int64(2), got.Version)
	stale := sampleState()
	stale.Version = 1
	assert.ErrorIs(t, s.Save(ctx, stale), ErrVersionConflict)

	reloaded, err := s.Load(ctx, "mand_1")
	require.NoError(t, err)
	assert.Equal(t, int64(9999), reloaded.DailySpentCents)
	assert.Equal(t, int64(2), reloaded.Version)

	// nil and empty allow-lists stay distinct.
	open := sampleState()
	open.MandateID = "mand_open"
	open.AllowedVendors = nil
	open.PerTxMaxCents = nil
	require.NoError(t, s.Save(ctx, open))
	closed := sampleState()
	closed.MandateID = "mand_closed"
	closed.AllowedVendors = []string{}
	require.NoError(t, s.Save(ctx, closed))

	got, err = s.Load(ctx, "mand_open")
	require.NoError(t, err)
	assert.Nil(t, got.AllowedVendors)
	assert.Nil(t, got.PerTxMaxCents)
	got, err = s.Load(ctx, "mand_closed")
	require.NoError(t, err)
	assert.NotNil(t, got.AllowedVendors)
	assert.Empty(t, got.AllowedVendors)

	require.NoError(t, s.Delete(ctx, "mand_1"))
	got, err = s.Load(ctx, "mand_1")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, s.Delete(ctx, "mand_1"))
}

func TestMemoryStorage(t *testing.T) {
	testStorageContract(t, NewMemoryStorage())
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	st := sampleState()
	require.NoError(t, s.Save(ctx, st))

	st.AllowedVendors[0] = "mutated"
	got, err := s.Load(ctx, "mand_1")
	require.NoError(t, err)
	assert.Equal(t, "aws", got.AllowedVendors[0])

	got.DailySpentCents = 1
	again, err := s.Load(ctx, "mand_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), again.DailySpentCents)
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteStorage(t *testing.T) {
	s, err := NewSQLiteStorage(openSQLite(t))
	require.NoError(t, err)
	testStorageContract(t, s)
}

func TestSQLiteStorage_MigrateIsIdempotent(t *testing.T) {
	db := openSQLite(t)
	_, err := NewSQLiteStorage(db)
	require.NoError(t, err)
	_, err = NewSQLiteStorage(db)
	require.NoError(t, err)
}

func TestSQLiteStorage_Engine(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStorage(openSQLite(t))
	require.NoError(t, err)
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	e, err := NewEngine(s, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	require.NoError(t, e.Register(ctx, DefaultMandate("mand_1")))

	rec, err := e.Evaluate(ctx, SpendRequest{MandateID: "mand_1", AmountCents: 5000, Currency: "EUR", VendorID: "aws"})
	require.NoError(t, err)
	assert.True(t, rec.Approved())

	st, err := s.Load(ctx, "mand_1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), st.DailySpentCents)
	assert.Equal(t, int64(2), st.Version)
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisStorage) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisStorage(client, "")
}

func TestRedisStorage(t *testing.T) {
	_, s := newMiniredis(t)
	testStorageContract(t, s)
}

func TestRedisStorage_KeyLayout(t *testing.T) {
	mr, s := newMiniredis(t)
	require.NoError(t, s.Save(context.Background(), sampleState()))
	assert.True(t, mr.Exists("kora:budget:mand_1"))
	assert.Equal(t, "1", mr.HGet("kora:budget:mand_1", "version"))
}

func TestRedisStorage_CorruptState(t *testing.T) {
	mr, s := newMiniredis(t)
	mr.HSet("kora:budget:mand_1", "version", "1", "state", "{not json")
	_, err := s.Load(context.Background(), "mand_1")
	assert.ErrorContains(t, err, "corrupt state")
}

func TestRedisStorage_Unavailable(t *testing.T) {
	mr, s := newMiniredis(t)
	mr.Close()
	_, err := s.Load(context.Background(), "mand_1")
	assert.Error(t, err)
	assert.Error(t, s.Save(context.Background(), sampleState()))
}

func TestNewRedisStorageFromAddr(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStorageFromAddr(mr.Addr(), "", 0)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.Save(context.Background(), sampleState()))
	got, err := s.Load(context.Background(), "mand_1")
	require.NoError(t, err)
	assert.Equal(t, "EUR", got.Currency)
}

func TestRedisStorage_EnginesShareBudget(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	var engines []*Engine
	for i := 0; i < 2; i++ {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		e, err := NewEngine(NewRedisStorage(client, ""),
			WithClock(func() time.Time { return now }), WithMaxAttempts(100))
		require.NoError(t, err)
		engines = append(engines, e)
	}
	m := DefaultMandate("mand_1")
	m.DailyLimitCents = 500
	require.NoError(t, engines[0].Register(ctx, m))

	var (
		wg       sync.WaitGroup
		approved atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			rec, err := e.Evaluate(ctx, SpendRequest{MandateID: "mand_1", AmountCents: 100, Currency: "EUR", VendorID: "aws"})
			if err != nil {
				t.Error(err)
				return
			}
			if rec.Approved() {
				approved.Add(1)
			}
		}(engines[i%2])
	}
	wg.Wait()

	assert.Equal(t, int64(5), approved.Load())
	st, err := engines[1].State(ctx, "mand_1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), st.DailySpentCents)
}
