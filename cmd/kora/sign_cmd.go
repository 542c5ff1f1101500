package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Idkasam/kora-sdk/pkg/canonicalize"
	"github.com/Idkasam/kora-sdk/pkg/config"
	"github.com/Idkasam/kora-sdk/pkg/contracts"
	"github.com/Idkasam/kora-sdk/pkg/crypto"
	"github.com/Idkasam/kora-sdk/pkg/notary"
)

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// canonicalInput reads a JSON document and returns its canonical bytes.
func canonicalInput(path string) ([]byte, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	doc, err := canonicalize.Reparse(data)
	if err != nil {
		return nil, err
	}
	return canonicalize.Canonicalize(doc)
}

// runCanonicalizeCmd implements `kora canonicalize`.
func runCanonicalizeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("canonicalize", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		in       string
		withHash bool
	)
	cmd.StringVar(&in, "in", "-", "JSON input file (- for stdin)")
	cmd.BoolVar(&withHash, "hash", false, "Print the SHA-256 of the canonical bytes instead")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	canonical, err := canonicalInput(in)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if withHash {
		_, _ = fmt.Fprintln(stdout, canonicalize.HashBytes(canonical))
		return 0
	}
	_, _ = fmt.Fprintln(stdout, string(canonical))
	return 0
}

// runSignCmd implements `kora sign`.
func runSignCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sign", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		in     string
		secret string
	)
	cmd.StringVar(&in, "in", "-", "JSON input file (- for stdin)")
	cmd.StringVar(&secret, "secret", config.Load().Secret, "Agent secret key (default $KORA_SECRET)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	id, ok := parseIdentity(secret, stderr)
	if !ok {
		return 2
	}
	canonical, err := canonicalInput(in)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, id.Sign(canonical))
	return 0
}

// runVerifyCmd implements `kora verify`.
//
// Exit codes:
//
//	0 = signature valid
//	1 = signature invalid
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		in        string
		signature string
		pubkey    string
	)
	cmd.StringVar(&in, "in", "-", "JSON input file (- for stdin)")
	cmd.StringVar(&signature, "signature", "", "Base64 signature (REQUIRED)")
	cmd.StringVar(&pubkey, "pubkey", "", "Base64 public key (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if signature == "" || pubkey == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --signature and --pubkey are required")
		return 2
	}

	canonical, err := canonicalInput(in)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if !crypto.Verify(canonical, signature, pubkey) {
		_, _ = fmt.Fprintln(stdout, "Signature verification FAILED")
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "Signature verification PASSED")
	return 0
}

// runVerifySealCmd implements `kora verify-seal`.
//
// Exit codes:
//
//	0 = seal valid and decision not expired
//	1 = seal missing, invalid or decision expired
//	2 = runtime error
func runVerifySealCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-seal", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		in         string
		pubkey     string
		jsonOutput bool
	)
	cmd.StringVar(&in, "in", "-", "Decision JSON file (- for stdin)")
	cmd.StringVar(&pubkey, "pubkey", "", "Base64 notary public key (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if pubkey == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --pubkey is required")
		return 2
	}

	data, err := readInput(in)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read input: %v\n", err)
		return 2
	}
	rec, layout, err := contracts.ParseDecision(data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	report := struct {
		DecisionID string `json:"decision_id"`
		Layout     string `json:"layout"`
		Sealed     bool   `json:"sealed"`
		Verified   bool   `json:"verified"`
		Valid      bool   `json:"valid"`
	}{
		DecisionID: rec.DecisionID,
		Layout:     layout.String(),
		Sealed:     rec.NotarySeal != nil,
		Verified:   notary.VerifyRecord(rec, pubkey),
		Valid:      rec.IsValid(now()),
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(out))
	} else {
		switch {
		case !report.Sealed:
			_, _ = fmt.Fprintln(stdout, "Seal verification FAILED: decision carries no seal")
		case !report.Verified:
			_, _ = fmt.Fprintln(stdout, "Seal verification FAILED: signature does not match")
		case !report.Valid:
			_, _ = fmt.Fprintln(stdout, "Seal verification PASSED, but the decision has expired")
		default:
			_, _ = fmt.Fprintln(stdout, "Seal verification PASSED")
		}
		_, _ = fmt.Fprintf(stdout, "Decision: %s (%s)\n", rec.DecisionID, layout)
	}

	if !report.Verified || !report.Valid {
		return 1
	}
	return 0
}
