package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/Idkasam/kora-sdk/pkg/contracts"
	"github.com/Idkasam/kora-sdk/pkg/money"
	"github.com/Idkasam/kora-sdk/pkg/notary"
)

// DecisionIDPrefix marks decisions made by a local engine.
const DecisionIDPrefix = "sandbox_"

const defaultMaxAttempts = 5

// Engine evaluates spend requests against stored mandate budgets.
//
// Evaluate-and-commit is serialized per mandate inside one Engine. Engines
// sharing a Storage are kept consistent by the storage's version check; a
// losing writer re-runs the evaluation on fresh state.
type Engine struct {
	storage     Storage
	clock       func() time.Time
	logger      *slog.Logger
	locks       *keyLocks
	maxAttempts int

	defaults *Mandate

	notary     *notary.Notary
	notarySeed []byte
	notaries   sync.Map // mandate id -> *notary.Notary

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	telemetry      *telemetry

	banner rate.Sometimes
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source. Rollover and timestamps use its UTC value.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithNotary seals every decision with n.
func WithNotary(n *notary.Notary) Option {
	return func(e *Engine) { e.notary = n }
}

// WithDerivedNotaries seals every decision with a per-mandate key derived
// from masterSeed. See notary.Derive.
func WithDerivedNotaries(masterSeed []byte) Option {
	return func(e *Engine) { e.notarySeed = append([]byte(nil), masterSeed...) }
}

// WithDefaultMandate registers unknown mandates on first use with the
// limits of m. Without it, unknown mandates fail with ErrUnknownMandate.
func WithDefaultMandate(m Mandate) Option {
	return func(e *Engine) { e.defaults = &m }
}

// WithMeterProvider sets the OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMaxAttempts bounds re-evaluation after version conflicts.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// NewEngine creates an engine over storage.
func NewEngine(storage Storage, opts ...Option) (*Engine, error) {
	if storage == nil {
		return nil, errors.New("budget: nil storage")
	}
	e := &Engine{
		storage:     storage,
		clock:       time.Now,
		logger:      slog.Default().With("component", "budget"),
		locks:       newKeyLocks(),
		maxAttempts: defaultMaxAttempts,
		banner:      rate.Sometimes{First: 1},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.defaults != nil {
		m := *e.defaults
		if m.ID == "" {
			m.ID = "default"
		}
		m, err := validateMandate(m)
		if err != nil {
			return nil, err
		}
		e.defaults = &m
	}
	t, err := newTelemetry(e.meterProvider, e.tracerProvider)
	if err != nil {
		return nil, fmt.Errorf("budget: telemetry: %w", err)
	}
	e.telemetry = t
	return e, nil
}

// NewSandbox returns an in-memory engine that registers unknown mandates
// with the default limits.
func NewSandbox(opts ...Option) *Engine {
	opts = append([]Option{WithDefaultMandate(DefaultMandate(""))}, opts...)
	e, err := NewEngine(NewMemoryStorage(), opts...)
	if err != nil {
		// Only reachable through an invalid default mandate option.
		panic(err)
	}
	return e
}

func (e *Engine) warnOnce() {
	e.banner.Do(func() {
		e.logger.Warn("running in sandbox mode, no real authorizations are being made")
	})
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// Evaluate runs the check pipeline for req and, on approval, commits the
// spend. Denials are returned as records, not errors. A *ValidationError is
// returned for malformed requests; storage failures are returned as errors
// and never approve.
func (e *Engine) Evaluate(ctx context.Context, req SpendRequest) (*contracts.DecisionRecord, error) {
	e.warnOnce()
	req, err := validateRequest(req)
	if err != nil {
		return nil, err
	}
	if req.IntentID == "" {
		req.IntentID = uuid.NewString()
	}
	if req.TTLSeconds == 0 {
		req.TTLSeconds = contracts.DefaultTTLSeconds
	}

	ctx, span := e.telemetry.tracer.Start(ctx, "budget.Evaluate", trace.WithAttributes(
		attribute.String("kora.mandate_id", req.MandateID),
		attribute.String("kora.vendor_id", req.VendorID),
		attribute.Int64("kora.amount_cents", req.AmountCents),
	))
	defer span.End()
	start := time.Now()

	unlock := e.locks.Lock(req.MandateID)
	defer unlock()

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		rec, err := e.evaluateOnce(ctx, req)
		if errors.Is(err, ErrVersionConflict) {
			e.logger.DebugContext(ctx, "budget: concurrent update, re-evaluating",
				"mandate", req.MandateID, "attempt", attempt)
			continue
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		span.SetAttributes(
			attribute.String("kora.decision", rec.Decision),
			attribute.String("kora.reason_code", string(rec.ReasonCode)),
		)
		e.telemetry.record(ctx, rec, time.Since(start))
		return rec, nil
	}
	err = fmt.Errorf("budget: mandate %s: %w after %d attempts", req.MandateID, ErrVersionConflict, e.maxAttempts)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

func (e *Engine) evaluateOnce(ctx context.Context, req SpendRequest) (*contracts.DecisionRecord, error) {
	st, err := e.load(ctx, req.MandateID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	st.Rollover(now)

	rec := e.newRecord(req, st, now)
	ev := &evaluation{req: req, state: st, now: now, started: time.Now()}
	denial := ev.run()
	rec.Trace = ev.trace()

	if denial != nil {
		rec.Decision = contracts.DecisionDenied
		rec.ReasonCode = denial.ReasonCode
		rec.Executable = false
		rec.Denial = denial
		rec.RetryWith = ev.retry
		rec.LimitsCurrent = limitsOf(st)
		e.logDenial(ctx, req, rec)
	} else {
		if err := commitSpend(st, req); err != nil {
			return nil, fmt.Errorf("budget: commit spend for mandate %s: %w", req.MandateID, err)
		}
		st.TxCount++
		st.UpdatedAt = now
		// Both counters land in one write or not at all.
		if err := e.storage.Save(ctx, st); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return nil, err
			}
			return nil, fmt.Errorf("budget: commit spend for mandate %s: %w", req.MandateID, err)
		}
		rec.Decision = contracts.DecisionApproved
		rec.ReasonCode = contracts.ReasonOK
		rec.Executable = true
		rec.ExpiresAt = contracts.FormatTimestamp(now.Add(time.Duration(req.TTLSeconds) * time.Second))
		rec.LimitsAfter = limitsOf(st)
		if len(req.PaymentInstruction) > 0 {
			rec.Payment = append([]byte(nil), req.PaymentInstruction...)
		}
	}

	if err := e.seal(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (e *Engine) newRecord(req SpendRequest, st *State, now time.Time) *contracts.DecisionRecord {
	return &contracts.DecisionRecord{
		DecisionID:      DecisionIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""),
		IntentID:        req.IntentID,
		AgentID:         req.AgentID,
		MandateID:       contracts.String(st.MandateID),
		MandateVersion:  contracts.Int64(st.MandateVersion),
		AmountCents:     contracts.Int64(req.AmountCents),
		Currency:        contracts.String(req.Currency),
		VendorID:        contracts.String(req.VendorID),
		Category:        req.Category,
		Purpose:         req.Purpose,
		EvaluatedAt:     contracts.FormatTimestamp(now),
		TTLSeconds:      contracts.Int64(req.TTLSeconds),
		EnforcementMode: contracts.String(st.EnforcementMode),
		Simulated:       true,
	}
}

func (e *Engine) seal(rec *contracts.DecisionRecord) error {
	n, err := e.notaryFor(*rec.MandateID)
	if err != nil || n == nil {
		return err
	}
	if err := n.Attach(rec); err != nil {
		return fmt.Errorf("budget: %w", err)
	}
	return nil
}

func (e *Engine) notaryFor(mandateID string) (*notary.Notary, error) {
	if e.notary != nil {
		return e.notary, nil
	}
	if e.notarySeed == nil {
		return nil, nil
	}
	if n, ok := e.notaries.Load(mandateID); ok {
		return n.(*notary.Notary), nil
	}
	n, err := notary.Derive(e.notarySeed, mandateID, notary.WithClock(e.clock))
	if err != nil {
		return nil, fmt.Errorf("budget: derive notary: %w", err)
	}
	actual, _ := e.notaries.LoadOrStore(mandateID, n)
	return actual.(*notary.Notary), nil
}

// NotaryPublicKey returns the base64 key that verifies seals for mandateID,
// or "" when decisions are not sealed.
func (e *Engine) NotaryPublicKey(mandateID string) (string, error) {
	n, err := e.notaryFor(mandateID)
	if err != nil || n == nil {
		return "", err
	}
	return n.PublicKey(), nil
}

// load returns the stored state, registering defaults on first use if the
// engine has them.
func (e *Engine) load(ctx context.Context, mandateID string) (*State, error) {
	st, err := e.storage.Load(ctx, mandateID)
	if err != nil {
		return nil, fmt.Errorf("budget: load mandate %s: %w", mandateID, err)
	}
	if st != nil {
		return st, nil
	}
	if e.defaults == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMandate, mandateID)
	}
	m := *e.defaults
	m.ID = mandateID
	st = &State{CurrentDay: e.now().Format(dayLayout), UpdatedAt: e.now()}
	st.apply(m)
	return st, nil
}

func (e *Engine) logDenial(ctx context.Context, req SpendRequest, rec *contracts.DecisionRecord) {
	attrs := []any{
		"agent", req.AgentID,
		"mandate", req.MandateID,
		"vendor", req.VendorID,
		"amount", req.AmountCents,
		"currency", req.Currency,
		"reason", string(rec.ReasonCode),
	}
	if req.Category != "" {
		attrs = append(attrs, "category", req.Category)
	}
	if rec.RetryWith != nil {
		attrs = append(attrs, "remaining_cents", rec.RetryWith.AmountCents)
	}
	e.logger.InfoContext(ctx, "KORA_DENIAL", attrs...)
}

// commitSpend adds the approved amount to both counters, or to neither.
func commitSpend(st *State, req SpendRequest) error {
	amount := money.New(req.AmountCents, req.Currency)
	daily, err := money.New(st.DailySpentCents, st.Currency).Add(amount)
	if err != nil {
		return err
	}
	monthly, err := money.New(st.MonthlySpentCents, st.Currency).Add(amount)
	if err != nil {
		return err
	}
	st.DailySpentCents = daily.AmountCents
	st.MonthlySpentCents = monthly.AmountCents
	return nil
}

func limitsOf(st *State) *contracts.Limits {
	return &contracts.Limits{
		DailyRemainingCents:   contracts.Int64(st.DailyRemaining()),
		MonthlyRemainingCents: contracts.Int64(st.MonthlyRemaining()),
		DailySpentCents:       contracts.Int64(st.DailySpentCents),
		MonthlySpentCents:     contracts.Int64(st.MonthlySpentCents),
		DailyLimitCents:       contracts.Int64(st.DailyLimitCents),
		MonthlyLimitCents:     contracts.Int64(st.MonthlyLimitCents),
	}
}
