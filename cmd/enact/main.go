// Command enact inspects and verifies persisted run receipts.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/enact-dev/enact/pkg/client"
	"github.com/enact-dev/enact/pkg/contracts"
	"github.com/enact-dev/enact/pkg/receipt"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}
	switch args[1] {
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "show":
		return runShow(args[2:], stdout, stderr)
	case "list":
		return runList(args[2:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "enact: unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: enact <verify|show|list> [flags]")
	fmt.Fprintln(w, "  verify -file <receipt.json> [-secret ...] [-insecure]")
	fmt.Fprintln(w, "  show   -dir <receipts> -run <runID>")
	fmt.Fprintln(w, "  list   -dir <receipts>")
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "receipt file to verify")
	secret := fs.String("secret", "", "signing secret (defaults to "+client.SecretEnv+")")
	insecure := fs.Bool("insecure", false, "waive the secret length check")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(stderr, "enact verify: -file is required")
		return 2
	}

	key := *secret
	if key == "" {
		key = os.Getenv(client.SecretEnv)
	}
	signer, err := receipt.NewSigner(key, *insecure)
	if err != nil {
		fmt.Fprintf(stderr, "enact verify: %v\n", err)
		return 1
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(stderr, "enact verify: %v\n", err)
		return 1
	}
	var r contracts.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		fmt.Fprintf(stderr, "enact verify: parse: %v\n", err)
		return 1
	}

	valid, err := signer.Verify(&r)
	if err != nil {
		fmt.Fprintf(stderr, "enact verify: %v\n", err)
		return 1
	}
	if !valid {
		fmt.Fprintf(stdout, "INVALID  %s (%s)\n", r.RunID, r.Decision)
		return 1
	}
	fmt.Fprintf(stdout, "VALID    %s (%s, %d actions)\n", r.RunID, r.Decision, len(r.ActionsTaken))
	return 0
}

func runShow(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", client.DefaultReceiptsDir, "receipts directory")
	run := fs.String("run", "", "run ID")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *run == "" {
		fmt.Fprintln(stderr, "enact show: -run is required")
		return 2
	}

	r, err := receipt.NewStore(*dir).Load(*run)
	if err != nil {
		fmt.Fprintf(stderr, "enact show: %v\n", err)
		return 1
	}
	pretty, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "enact show: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(pretty))
	return 0
}

func runList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", client.DefaultReceiptsDir, "receipts directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	store := receipt.NewStore(*dir)
	ids, err := store.List()
	if err != nil {
		fmt.Fprintf(stderr, "enact list: %v\n", err)
		return 1
	}
	for _, id := range ids {
		r, err := store.Load(id)
		if err != nil {
			fmt.Fprintf(stderr, "enact list: %s: %v\n", id, err)
			continue
		}
		fmt.Fprintf(stdout, "%s  %-11s  %-24s  %s\n", r.RunID, r.Decision, r.Workflow, r.Timestamp)
	}
	return 0
}
