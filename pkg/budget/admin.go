package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/Idkasam/kora-sdk/pkg/contracts"
)

// Budget returns the current budget of a mandate after calendar rollover.
// It does not write.
func (e *Engine) Budget(ctx context.Context, mandateID string) (*contracts.BudgetView, error) {
	e.warnOnce()
	st, err := e.State(ctx, mandateID)
	if err != nil {
		return nil, err
	}
	now := e.now()

	view := &contracts.BudgetView{
		Currency:        st.Currency,
		Status:          contracts.StatusActive,
		SpendAllowed:    true,
		EnforcementMode: st.EnforcementMode,
		Daily: contracts.BudgetWindow{
			LimitCents:     st.DailyLimitCents,
			SpentCents:     st.DailySpentCents,
			RemainingCents: st.DailyRemaining(),
			ResetsAt:       nextDay(now).Format(resetLayout),
		},
		Monthly: contracts.BudgetWindow{
			LimitCents:     st.MonthlyLimitCents,
			SpentCents:     st.MonthlySpentCents,
			RemainingCents: st.MonthlyRemaining(),
			ResetsAt:       nextMonth(now).Format(resetLayout),
		},
		AllowedVendors: st.AllowedVendors,
		Simulated:      true,
	}
	if st.PerTxMaxCents != nil {
		view.PerTransactionMaxCents = contracts.Int64(*st.PerTxMaxCents)
	}
	if st.DailyRemaining() == 0 || st.MonthlyRemaining() == 0 {
		view.Status = contracts.StatusExhausted
		view.SpendAllowed = false
	}
	if st.AllowedVendors != nil && len(st.AllowedVendors) == 0 {
		view.SpendAllowed = false
	}
	return view, nil
}

// State returns a snapshot of a mandate's state after calendar rollover.
// It does not write.
func (e *Engine) State(ctx context.Context, mandateID string) (*State, error) {
	if mandateID == "" {
		return nil, &ValidationError{Field: "mandate_id", Reason: "must not be empty"}
	}
	st, err := e.load(ctx, mandateID)
	if err != nil {
		return nil, err
	}
	st.Rollover(e.now())
	return st, nil
}

// Reset zeroes all counters of a mandate. Limits are kept.
func (e *Engine) Reset(ctx context.Context, mandateID string) error {
	if mandateID == "" {
		return &ValidationError{Field: "mandate_id", Reason: "must not be empty"}
	}
	return e.update(ctx, mandateID, false, func(st *State) error {
		st.DailySpentCents = 0
		st.MonthlySpentCents = 0
		st.TxCount = 0
		st.CurrentDay = e.now().Format(dayLayout)
		e.logger.InfoContext(ctx, "budget: counters reset", "mandate", mandateID)
		return nil
	})
}

// Register creates a mandate or replaces the limits of an existing one.
// Existing counters are kept.
func (e *Engine) Register(ctx context.Context, m Mandate) error {
	m, err := validateMandate(m)
	if err != nil {
		return err
	}
	return e.update(ctx, m.ID, true, func(st *State) error {
		st.apply(m)
		return nil
	})
}

// Remove deletes a mandate's state.
func (e *Engine) Remove(ctx context.Context, mandateID string) error {
	unlock := e.locks.Lock(mandateID)
	defer unlock()
	if err := e.storage.Delete(ctx, mandateID); err != nil {
		return fmt.Errorf("budget: remove mandate %s: %w", mandateID, err)
	}
	return nil
}

// update applies fn to fresh state and saves it, retrying on conflicts.
// Unknown mandates start from the engine defaults, or from an empty state
// when create is set.
func (e *Engine) update(ctx context.Context, mandateID string, create bool, fn func(*State) error) error {
	unlock := e.locks.Lock(mandateID)
	defer unlock()

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		st, err := e.storage.Load(ctx, mandateID)
		if err != nil {
			return fmt.Errorf("budget: load mandate %s: %w", mandateID, err)
		}
		now := e.now()
		if st == nil {
			if e.defaults != nil {
				m := *e.defaults
				m.ID = mandateID
				st = &State{}
				st.apply(m)
			} else if create {
				st = &State{MandateID: mandateID}
			} else {
				return fmt.Errorf("%w: %s", ErrUnknownMandate, mandateID)
			}
			st.CurrentDay = now.Format(dayLayout)
		}
		st.Rollover(now)
		if err := fn(st); err != nil {
			return err
		}
		st.UpdatedAt = now
		err = e.storage.Save(ctx, st)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("budget: save mandate %s: %w", mandateID, err)
		}
		return nil
	}
	return fmt.Errorf("budget: mandate %s: %w after %d attempts", mandateID, ErrVersionConflict, e.maxAttempts)
}
