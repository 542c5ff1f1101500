package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/Idkasam/kora-sdk/pkg/agentkey"
	"github.com/Idkasam/kora-sdk/pkg/budget"
	"github.com/Idkasam/kora-sdk/pkg/config"
	"github.com/Idkasam/kora-sdk/pkg/contracts"
	"github.com/Idkasam/kora-sdk/pkg/money"
	"github.com/Idkasam/kora-sdk/pkg/observability"
)

// now is a variable to allow fixed clocks in tests.
var now = time.Now

// openEngine builds a local engine from the environment. Without a mandates
// file every mandate gets the sandbox defaults on first use.
func openEngine(ctx context.Context, cfg *config.Config, stderr io.Writer) (*budget.Engine, func() error, error) {
	obsConfig := observability.DefaultConfig(cfg.OTLPEndpoint)
	obsConfig.Insecure = cfg.OTLPInsecure
	telemetry, err := observability.New(ctx, obsConfig)
	if err != nil {
		return nil, nil, err
	}
	storage, closeStorage, err := cfg.OpenStorage(ctx)
	if err != nil {
		_ = telemetry.Shutdown(ctx)
		return nil, nil, err
	}
	closeFn := func() error {
		_ = telemetry.Shutdown(context.Background())
		return closeStorage()
	}

	opts := []budget.Option{
		budget.WithLogger(cfg.NewLogger(stderr).With("component", "budget")),
		budget.WithClock(now),
		budget.WithMeterProvider(telemetry.MeterProvider()),
		budget.WithTracerProvider(telemetry.TracerProvider()),
	}
	seed, err := cfg.NotarySeed()
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	if seed != nil {
		opts = append(opts, budget.WithDerivedNotaries(seed))
	}
	if cfg.Sandbox || cfg.MandatesFile == "" {
		opts = append(opts, budget.WithDefaultMandate(budget.DefaultMandate("")))
	}

	engine, err := budget.NewEngine(storage, opts...)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}

	if cfg.MandatesFile != "" {
		mandates, err := config.LoadMandates(cfg.MandatesFile)
		if err != nil {
			_ = closeFn()
			return nil, nil, err
		}
		for _, m := range mandates {
			if err := engine.Register(ctx, m); err != nil {
				_ = closeFn()
				return nil, nil, fmt.Errorf("register mandate %q: %w", m.ID, err)
			}
		}
	}
	return engine, closeFn, nil
}

// runEvaluateCmd implements `kora evaluate`.
//
// Exit codes:
//
//	0 = approved
//	1 = denied
//	2 = usage or runtime error
func runEvaluateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var (
		mandateID  string
		agentID    string
		amount     int64
		currency   string
		vendor     string
		ttl        int64
		category   string
		purpose    string
		jsonOutput bool
	)
	cmd.StringVar(&mandateID, "mandate", cfg.MandateID, "Mandate id (default $KORA_MANDATE)")
	cmd.StringVar(&agentID, "agent", "", "Agent id (default: agent of $KORA_SECRET)")
	cmd.Int64Var(&amount, "amount", 0, "Amount in minor units (REQUIRED)")
	cmd.StringVar(&currency, "currency", budget.DefaultCurrency, "ISO 4217 currency code")
	cmd.StringVar(&vendor, "vendor", "", "Vendor id (REQUIRED)")
	cmd.Int64Var(&ttl, "ttl", contracts.DefaultTTLSeconds, "Decision lifetime in seconds")
	cmd.StringVar(&category, "category", "", "Spend category")
	cmd.StringVar(&purpose, "purpose", "", "Free-text purpose")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the full decision record as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if agentID == "" && cfg.Secret != "" {
		if id, err := agentkey.Parse(cfg.Secret); err == nil {
			agentID = id.AgentID()
		}
	}

	ctx := context.Background()
	engine, closeFn, err := openEngine(ctx, cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = closeFn() }()

	rec, err := engine.Evaluate(ctx, budget.SpendRequest{
		AgentID:     agentID,
		MandateID:   mandateID,
		AmountCents: amount,
		Currency:    currency,
		VendorID:    vendor,
		TTLSeconds:  ttl,
		Category:    category,
		Purpose:     purpose,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(rec, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		res := contracts.NewSpendResult(rec)
		_, _ = fmt.Fprintf(stdout, "[%s] %s\n", rec.Decision, res.Message)
		if res.Suggestion != "" {
			_, _ = fmt.Fprintf(stdout, "Suggestion: %s\n", res.Suggestion)
		}
		_, _ = fmt.Fprintf(stdout, "Decision: %s\n", rec.DecisionID)
	}

	if !rec.Approved() {
		return 1
	}
	return 0
}

// runBudgetCmd implements `kora budget`.
func runBudgetCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("budget", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var (
		mandateID  string
		jsonOutput bool
	)
	cmd.StringVar(&mandateID, "mandate", cfg.MandateID, "Mandate id (default $KORA_MANDATE)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if mandateID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --mandate is required")
		return 2
	}

	ctx := context.Background()
	engine, closeFn, err := openEngine(ctx, cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = closeFn() }()

	view, err := engine.Budget(ctx, mandateID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(view, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "Mandate %s (%s, %s)\n", mandateID, view.Status, view.EnforcementMode)
	printWindow(stdout, "Daily", view.Daily, view.Currency)
	printWindow(stdout, "Monthly", view.Monthly, view.Currency)
	if view.PerTransactionMaxCents != nil {
		_, _ = fmt.Fprintf(stdout, "  %-8s max %s\n", "Per-tx", money.Format(*view.PerTransactionMaxCents, view.Currency))
	}
	if view.AllowedVendors != nil {
		_, _ = fmt.Fprintf(stdout, "  %-8s %v\n", "Vendors", view.AllowedVendors)
	}
	return 0
}

func printWindow(w io.Writer, name string, win contracts.BudgetWindow, currency string) {
	_, _ = fmt.Fprintf(w, "  %-8s %s of %s remaining, resets %s\n", name,
		money.Format(win.RemainingCents, currency), money.Format(win.LimitCents, currency), win.ResetsAt)
}

// runResetCmd implements `kora reset`.
func runResetCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("reset", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var mandateID string
	cmd.StringVar(&mandateID, "mandate", cfg.MandateID, "Mandate id (default $KORA_MANDATE)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if mandateID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --mandate is required")
		return 2
	}

	ctx := context.Background()
	engine, closeFn, err := openEngine(ctx, cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = closeFn() }()

	if err := engine.Reset(ctx, mandateID); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "Counters of %s reset\n", mandateID)
	return 0
}
