package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServer

// Run is the entrypoint, split from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "policy":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "Usage: claimgate policy <lint>")
			return 2
		}
		return runPolicyCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			startServer()
			return 0
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "claimgate - knowledge graph write gateway")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  claimgate <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve          Run the gateway server (default)")
	fmt.Fprintln(w, "  verify         Verify the commit ledger hash chain (--driver, --dsn, --json)")
	fmt.Fprintln(w, "  policy lint    Validate a policy document (--file, --json)")
	fmt.Fprintln(w, "  help           Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "The server authenticates every request except /healthz. Set")
	fmt.Fprintln(w, "CLAIMGATE_API_KEY or CLAIMGATE_JWT_SECRET; with neither configured")
	fmt.Fprintln(w, "all requests are rejected.")
}
