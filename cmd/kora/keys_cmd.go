package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Idkasam/kora-sdk/pkg/agentkey"
	"github.com/Idkasam/kora-sdk/pkg/config"
	"github.com/Idkasam/kora-sdk/pkg/notary"
)

// runKeygenCmd implements `kora keygen`.
func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		agentID    string
		jsonOutput bool
	)
	cmd.StringVar(&agentID, "agent-id", "", "Agent identifier (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if agentID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --agent-id is required")
		return 2
	}

	id, secret, err := agentkey.Generate(agentID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]string{
			"agent_id":   id.AgentID(),
			"secret_key": secret,
			"public_key": id.PublicKeyBase64(),
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "Agent:      %s\n", id.AgentID())
	_, _ = fmt.Fprintf(stdout, "Secret key: %s\n", secret)
	_, _ = fmt.Fprintf(stdout, "Public key: %s\n", id.PublicKeyBase64())
	return 0
}

// runPubkeyCmd implements `kora pubkey`. With --mandate it prints the notary
// key derived from KORA_NOTARY_SEED, otherwise the agent key of KORA_SECRET.
func runPubkeyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("pubkey", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var (
		secret    string
		mandateID string
	)
	cmd.StringVar(&secret, "secret", cfg.Secret, "Agent secret key (default $KORA_SECRET)")
	cmd.StringVar(&mandateID, "mandate", "", "Print the notary key of this mandate instead")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if mandateID != "" {
		seed, err := cfg.NotarySeed()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if seed == nil {
			_, _ = fmt.Fprintln(stderr, "Error: KORA_NOTARY_SEED is not set")
			return 2
		}
		n, err := notary.Derive(seed, mandateID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintln(stdout, n.PublicKey())
		return 0
	}

	id, ok := parseIdentity(secret, stderr)
	if !ok {
		return 2
	}
	_, _ = fmt.Fprintln(stdout, id.PublicKeyBase64())
	return 0
}

func parseIdentity(secret string, stderr io.Writer) (*agentkey.Identity, bool) {
	if secret == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --secret or KORA_SECRET is required")
		return nil, false
	}
	id, err := agentkey.Parse(secret)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, false
	}
	return id, true
}
