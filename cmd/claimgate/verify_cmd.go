package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/veridian-labs/claimgate/pkg/ledger"
	"github.com/veridian-labs/claimgate/pkg/store"
)

// runVerifyCmd replays the persisted commit log and verifies the hash chain.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		driver     string
		dsn        string
		jsonOutput bool
	)
	cmd.StringVar(&driver, "driver", "sqlite", "Database driver: postgres or sqlite")
	cmd.StringVar(&dsn, "dsn", "file:claimgate.db?_pragma=journal_mode(WAL)", "Database DSN")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.Open(ctx, driver, dsn)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	led := ledger.New().WithStore(store.NewSQLCommitStore(db))
	if err := led.Load(ctx); err != nil {
		return verifyFailed(stdout, stderr, jsonOutput, err)
	}
	if err := led.Verify(); err != nil {
		return verifyFailed(stdout, stderr, jsonOutput, err)
	}

	if jsonOutput {
		result := map[string]any{
			"valid":   true,
			"head":    led.Head(),
			"commits": led.Len(),
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "Ledger verified: %d commits, head %s\n", led.Len(), led.Head())
	}
	return 0
}

func verifyFailed(stdout, stderr io.Writer, jsonOutput bool, err error) int {
	if jsonOutput {
		result := map[string]any{"valid": false, "error": err.Error()}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stderr, "Verification failed: %v\n", err)
	}
	return 1
}
