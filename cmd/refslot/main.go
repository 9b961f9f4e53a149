// Package main implements the refslot CLI tool.
//
// The refslot tool exercises shared reference-counted slots:
//
//  1. stress: many goroutines store into a few slots, then every value is
//     audited for double releases, leaks and invalid final values
//  2. repl: an interactive shell over one slot for stepping through
//     ownership by hand
//
// Usage:
//
//	refslot stress --writers 16 --policy fast   # Hunt for double releases
//	refslot stress --config stress.jsonc --out report.json
//	refslot repl --policy guarded               # Interactive slot shell
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kolkov/refslot/slot"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "stress":
		os.Exit(stressCommand(os.Args[2:], os.Stdout, os.Stderr))
	case "repl":
		os.Exit(replCommand(os.Args[2:], os.Stdout, os.Stderr))
	case "version", "--version", "-v":
		printVersion(os.Stdout)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

func printVersion(w io.Writer) {
	info := slot.GetInfo()
	fmt.Fprintf(w, "refslot version %s (default policy %s, %d stripes)\n",
		info.Version, info.DefaultPolicy, info.DefaultTableSize)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `refslot - shared reference-counted slots

USAGE:
    refslot <command> [arguments]

COMMANDS:
    stress     Run concurrent stores and audit every value
    repl       Interactive shell over one slot
    version    Show version information
    help       Show this help message

EXAMPLES:
    # Guarded run, default sizes
    refslot stress

    # Expose the fast path with many writers on one slot
    refslot stress --policy fast --writers 16 --slots 1

    # Load settings from a JSONC file and keep a JSON report
    refslot stress --config stress.jsonc --out report.json

    # Step through ownership by hand
    refslot repl --policy fast

EXIT STATUS:
    stress exits 1 when the audit finds a double release, a retain or read
    after free, a leak, or a slot ending with a value nobody stored.

`)
}
