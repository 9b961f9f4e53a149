// stress.go implements the 'refslot stress' command.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kolkov/refslot/internal/refslot/observe"
	"github.com/kolkov/refslot/internal/refslot/stress"
)

// stressOptions is the parsed command line of 'refslot stress'.
type stressOptions struct {
	cfg      stress.Config
	out      string
	logLevel slog.Level
}

func newStressFlags() *flag.FlagSet {
	d := stress.DefaultConfig()

	fs := flag.NewFlagSet("stress", flag.ContinueOnError)
	fs.StringP("config", "c", "", "JSONC config file (flags override it)")
	fs.IntP("writers", "w", d.Writers, "concurrent writer goroutines")
	fs.IntP("iterations", "n", d.Iterations, "stores per writer")
	fs.IntP("slots", "s", d.Slots, "shared slots")
	fs.Int("table-size", d.TableSize, "lock table stripes (power of two)")
	fs.StringP("policy", "p", d.Policy, "guarded or fast")
	fs.Bool("copy", d.Copy, "use StoreCopy instead of Store")
	fs.Int("load-every", d.LoadEvery, "load after every n-th store (0 disables)")
	fs.Bool("debug", d.Debug, "record free sites and log every slot event")
	fs.StringP("out", "o", "", "write the JSON report to this file")
	fs.String("log-level", "info", "debug, info, warn or error")
	return fs
}

// parseStressArgs resolves configuration with precedence (highest wins):
// explicit flags, then the --config file, then defaults.
func parseStressArgs(args []string) (*stressOptions, error) {
	fs := newStressFlags()
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := stress.DefaultConfig()
	if path, _ := fs.GetString("config"); path != "" {
		var err error
		cfg, err = stress.LoadConfig(path, cfg)
		if err != nil {
			return nil, err
		}
	}

	intFlags := map[string]*int{
		"writers":    &cfg.Writers,
		"iterations": &cfg.Iterations,
		"slots":      &cfg.Slots,
		"table-size": &cfg.TableSize,
		"load-every": &cfg.LoadEvery,
	}
	for name, dst := range intFlags {
		if fs.Changed(name) {
			*dst, _ = fs.GetInt(name)
		}
	}
	if fs.Changed("policy") {
		cfg.Policy, _ = fs.GetString("policy")
	}
	if fs.Changed("copy") {
		cfg.Copy, _ = fs.GetBool("copy")
	}
	if fs.Changed("debug") {
		cfg.Debug, _ = fs.GetBool("debug")
	}

	opts := &stressOptions{cfg: cfg}
	opts.out, _ = fs.GetString("out")

	level, _ := fs.GetString("log-level")
	if err := opts.logLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}

	if _, err := cfg.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// stressCommand implements the 'refslot stress' command and returns the exit
// code.
//
// Flow:
//  1. Resolve configuration from defaults, --config and flags
//  2. Run the writers, logging start/completion through slog
//  3. Print the audit summary and optionally write the JSON report
//  4. Exit 1 if the audit is not clean
//
// Example:
//
//	refslot stress --policy fast --writers 16 --slots 1 --out report.json
func stressCommand(args []string, stdout, stderr io.Writer) int {
	opts, err := parseStressArgs(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printStressUsage(stdout)
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		printStressUsage(stderr)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: opts.logLevel}))
	obs := observe.NewSlogObserver(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := stress.Run(ctx, opts.cfg, obs)
	if res == nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	res.Summary(stdout)

	if opts.out != "" {
		if werr := res.WriteFile(opts.out); werr != nil {
			fmt.Fprintf(stderr, "Error: %v\n", werr)
			return 1
		}
		logger.Info("report written", "path", opts.out, "run_id", res.RunID)
	}

	if err != nil {
		logger.Warn("run interrupted", "error", err)
		return 1
	}
	if !res.Clean() {
		return 1
	}
	return 0
}

func printStressUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: refslot stress [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run concurrent stores into shared slots and audit every value.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fs := newStressFlags()
	fs.SetOutput(w)
	fs.PrintDefaults()
}
