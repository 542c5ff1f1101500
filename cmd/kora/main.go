package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// stdin is read when an input flag is "-" or unset.
var stdin io.Reader = os.Stdin

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = success
//	1 = verification failed or spend denied
//	2 = usage or runtime error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "keygen":
		return runKeygenCmd(args[2:], stdout, stderr)
	case "pubkey":
		return runPubkeyCmd(args[2:], stdout, stderr)
	case "canonicalize":
		return runCanonicalizeCmd(args[2:], stdout, stderr)
	case "sign":
		return runSignCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "verify-seal":
		return runVerifySealCmd(args[2:], stdout, stderr)
	case "evaluate":
		return runEvaluateCmd(args[2:], stdout, stderr)
	case "budget":
		return runBudgetCmd(args[2:], stdout, stderr)
	case "reset":
		return runResetCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Kora spend authorization toolkit")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  kora <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "KEYS")
	printCommand(w, "keygen", "Generate an agent secret key (--agent-id, --json)")
	printCommand(w, "pubkey", "Print the public key of KORA_SECRET or a mandate notary (--mandate)")

	printSection(w, "SIGNING & VERIFICATION")
	printCommand(w, "canonicalize", "Print the canonical form of a JSON document (--in)")
	printCommand(w, "sign", "Sign the canonical form of a JSON document (--in)")
	printCommand(w, "verify", "Verify a signature (--in, --signature, --pubkey)")
	printCommand(w, "verify-seal", "Verify the notary seal of a decision (--in, --pubkey)")

	printSection(w, "LOCAL ENGINE")
	printCommand(w, "evaluate", "Evaluate a spend (--mandate, --amount, --currency, --vendor)")
	printCommand(w, "budget", "Show the budget of a mandate (--mandate)")
	printCommand(w, "reset", "Reset the spend counters of a mandate (--mandate)")

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "ENVIRONMENT:")
	fmt.Fprintln(w, "  KORA_SECRET, KORA_MANDATE, KORA_STORE, KORA_MANDATES_FILE, KORA_NOTARY_SEED,")
	fmt.Fprintln(w, "  KORA_SANDBOX, KORA_LOG_LEVEL, KORA_LOG_FORMAT, KORA_OTLP_ENDPOINT")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-14s %s\n", name, desc)
}
