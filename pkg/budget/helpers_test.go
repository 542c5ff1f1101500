package budget_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Idkasam/kora-sdk/pkg/budget"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

var jan15 = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, clock *fakeClock, m budget.Mandate, opts ...budget.Option) (*budget.Engine, *budget.MemoryStorage) {
	t.Helper()
	store := budget.NewMemoryStorage()
	opts = append([]budget.Option{budget.WithClock(clock.Now)}, opts...)
	e, err := budget.NewEngine(store, opts...)
	require.NoError(t, err)
	require.NoError(t, e.Register(context.Background(), m))
	return e, store
}

func spend(mandate, vendor string, amount int64, currency string) budget.SpendRequest {
	return budget.SpendRequest{
		AgentID:     "agent_test",
		MandateID:   mandate,
		AmountCents: amount,
		Currency:    currency,
		VendorID:    vendor,
	}
}

// countingStorage records writes and can fail them.
type countingStorage struct {
	budget.Storage
	mu      sync.Mutex
	saves   int
	saveErr error
	onSave  func(st *budget.State)
}

func (s *countingStorage) Save(ctx context.Context, st *budget.State) error {
	s.mu.Lock()
	s.saves++
	hook := s.onSave
	s.onSave = nil
	err := s.saveErr
	s.mu.Unlock()
	if hook != nil {
		hook(st)
	}
	if err != nil {
		return err
	}
	return s.Storage.Save(ctx, st)
}

func (s *countingStorage) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
