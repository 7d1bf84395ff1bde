package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/veridian-labs/claimgate/pkg/policy"
)

func runPolicyCmd(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "lint":
		return runPolicyLint(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown policy subcommand: %s\n", args[0])
		return 2
	}
}

// runPolicyLint parses and compiles a policy document without loading it,
// so operators can validate before a reload.
func runPolicyLint(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("policy lint", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		file       string
		jsonOutput bool
	)
	cmd.StringVar(&file, "file", "policy.yaml", "Policy document to validate")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	data, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	doc, err := policy.Parse(data)
	var snap *policy.Snapshot
	if err == nil {
		snap, err = policy.Compile(doc)
	}
	if err != nil {
		if jsonOutput {
			result := map[string]any{"file": file, "valid": false, "error": err.Error()}
			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Fprintln(stdout, string(out))
		} else {
			fmt.Fprintf(stderr, "Invalid policy: %v\n", err)
		}
		return 1
	}

	if jsonOutput {
		result := map[string]any{
			"file":    file,
			"valid":   true,
			"version": snap.Version,
			"hash":    snap.Hash,
			"mode":    snap.Mode,
		}
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(out))
	} else {
		fmt.Fprintf(stdout, "Policy valid: version %s, mode %s, hash %s\n", snap.Version, snap.Mode, snap.Hash)
	}
	return 0
}
