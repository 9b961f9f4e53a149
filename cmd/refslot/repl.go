// repl.go implements the 'refslot repl' command.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/kolkov/refslot/internal/refslot/observe"
	"github.com/kolkov/refslot/slot"
)

type handle = *slot.Ref[string]

var replCommands = []string{
	"store", "copy", "load", "swap", "cas", "release",
	"show", "stats", "events", "close", "help", "exit", "quit", "q",
}

// repl is an interactive shell over one slot.
//
// The shell owns one reference to every value it has named. "store x"
// creates x on first use and stores it; "release x" drops the shell's
// reference, after which the slot may be the only owner.
type repl struct {
	slot   *slot.Slot[handle]
	values map[string]handle
	events *observe.CaptureObserver
	out    io.Writer
	liner  *liner.State
}

// newREPL builds a shell over a fresh slot. Slot events are kept for the
// "events" command and also sent to logger when it is non-nil.
func newREPL(table *slot.Table, policy slot.Policy, out io.Writer, logger *slog.Logger) *repl {
	r := &repl{
		values: make(map[string]handle),
		events: &observe.CaptureObserver{},
		out:    out,
	}

	var obs observe.Observer = r.events
	if logger != nil {
		obs = observe.NewMultiObserver(r.events, observe.NewSlogObserver(logger))
	}

	r.slot = slot.New(table, slot.Options[handle]{
		Policy:      policy,
		Copy:        slot.Cloner(func(s string) string { return s + "'" }),
		Observer:    obs,
		OnViolation: r.report,
	})
	return r
}

// report prints violations instead of panicking so the session survives.
func (r *repl) report(rep *slot.Report) {
	rep.Format(r.out)
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".refslot_history")
}

// replCommand implements the 'refslot repl' command and returns the exit
// code.
func replCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	policyName := fs.StringP("policy", "p", slot.PolicyGuarded.String(), "guarded or fast")
	tableSize := fs.Int("table-size", slot.DefaultTableSize, "lock table stripes (power of two)")
	verbose := fs.BoolP("verbose", "v", false, "also log slot events to stderr")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stdout, "Usage: refslot repl [--policy guarded|fast] [--table-size n] [--verbose]")
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	policy, err := slot.ParsePolicy(*policyName)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	table, err := slot.NewTable(*tableSize)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var logger *slog.Logger
	if *verbose {
		logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	if err := newREPL(table, policy, stdout, logger).run(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// run starts the interactive loop.
func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		_ = f.Close()
	}
	defer r.saveHistory()

	fmt.Fprintf(r.out, "refslot %s - one %s slot\n", slot.Version, r.slot.Policy())
	fmt.Fprintln(r.out, "Type 'help' for available commands.")
	fmt.Fprintln(r.out)

	for {
		line, err := r.liner.Prompt("refslot> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nBye!")
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		if r.execute(line) {
			fmt.Fprintln(r.out, "Bye!")
			return nil
		}
	}
}

// saveHistory persists command history to disk.
func (r *repl) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			_, _ = r.liner.WriteHistory(f)
			_ = f.Close()
		}
	}
}

// completer provides tab completion for commands and known value names.
func (r *repl) completer(line string) []string {
	var completions []string

	cmd, rest, hasArg := strings.Cut(line, " ")
	if !hasArg {
		lower := strings.ToLower(line)
		for _, c := range replCommands {
			if strings.HasPrefix(c, lower) {
				completions = append(completions, c)
			}
		}
		return completions
	}

	// Complete the last word against known value names.
	words := strings.Fields(rest)
	prefix := ""
	if len(words) > 0 && !strings.HasSuffix(rest, " ") {
		prefix = words[len(words)-1]
		rest = strings.TrimSuffix(rest, prefix)
	}
	for _, name := range r.names() {
		if strings.HasPrefix(name, prefix) {
			completions = append(completions, cmd+" "+rest+name)
		}
	}
	return completions
}

// execute runs one command line and reports whether the shell should exit.
func (r *repl) execute(line string) (quit bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		r.printHelp()
	case "store":
		r.cmdStore(args, false)
	case "copy":
		r.cmdStore(args, true)
	case "load":
		r.cmdLoad()
	case "swap":
		r.cmdSwap(args)
	case "cas":
		r.cmdCAS(args)
	case "release":
		r.cmdRelease(args)
	case "show", "ls":
		r.cmdShow()
	case "stats":
		r.cmdStats()
	case "events":
		r.cmdEvents()
	case "close":
		r.slot.Close()
		fmt.Fprintln(r.out, "closed")
	default:
		fmt.Fprintf(r.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

// value returns the named value, creating it on first use.
func (r *repl) value(name string) handle {
	if v, ok := r.values[name]; ok {
		return v
	}
	v := slot.NewRef(name, slot.WithHandler[string](r.report), slot.WithFinalizer(func(s string) {
		fmt.Fprintf(r.out, "  finalized %s\n", s)
	}))
	r.values[name] = v
	return v
}

func (r *repl) lookup(name string) (handle, bool) {
	if name == "-" {
		return nil, true
	}
	v, ok := r.values[name]
	if !ok {
		fmt.Fprintf(r.out, "unknown value %q\n", name)
	}
	return v, ok
}

func (r *repl) cmdStore(args []string, copyFirst bool) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: store|copy <name>  (use - for empty)")
		return
	}

	var v handle
	if args[0] != "-" {
		v = r.value(args[0])
	}
	if copyFirst {
		r.slot.StoreCopy(v)
	} else {
		r.slot.Store(v)
	}
	r.cmdShow()
}

func (r *repl) cmdLoad() {
	v := r.slot.Load()
	if v == nil {
		fmt.Fprintln(r.out, "slot is empty")
		return
	}
	fmt.Fprintf(r.out, "%s (count %d while loaded)\n", v.Value(), v.Count())
	v.Release()
}

func (r *repl) cmdSwap(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: swap <name>")
		return
	}
	var v handle
	if args[0] != "-" {
		v = r.value(args[0])
	}

	old := r.slot.Swap(v)
	if old == nil {
		fmt.Fprintln(r.out, "previous: empty")
	} else {
		fmt.Fprintf(r.out, "previous: %s\n", old.Value())
		old.Release()
	}
	r.cmdShow()
}

func (r *repl) cmdCAS(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(r.out, "usage: cas <old> <new>")
		return
	}
	old, ok := r.lookup(args[0])
	if !ok {
		return
	}
	var v handle
	if args[1] != "-" {
		v = r.value(args[1])
	}

	fmt.Fprintf(r.out, "swapped: %v\n", r.slot.CompareAndSwap(old, v))
	r.cmdShow()
}

func (r *repl) cmdRelease(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: release <name>")
		return
	}
	v, ok := r.values[args[0]]
	if !ok {
		fmt.Fprintf(r.out, "unknown value %q\n", args[0])
		return
	}
	v.Release()
	r.cmdShow()
}

func (r *repl) names() []string {
	names := make([]string, 0, len(r.values))
	for name := range r.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *repl) cmdShow() {
	if r.slot.Closed() {
		fmt.Fprintln(r.out, "  slot: closed")
	}
	for _, name := range r.names() {
		v := r.values[name]
		if v.Freed() {
			delete(r.values, name)
			continue
		}
		fmt.Fprintf(r.out, "  %-12s count=%d freed=%v\n", name, v.Count(), v.Freed())
	}
}

func (r *repl) cmdStats() {
	st := r.slot.Stats()
	fmt.Fprintf(r.out, "  %s\n", r.slot)
	fmt.Fprintf(r.out, "  stores=%d noop=%d loads=%d releases=%d\n",
		st.Stores, st.NoOpStores, st.Loads, st.Releases)
}

// cmdEvents prints and forgets the slot events seen since the last call.
func (r *repl) cmdEvents() {
	events := r.events.Drain()
	if len(events) == 0 {
		fmt.Fprintln(r.out, "  no events")
		return
	}
	for _, e := range events {
		fmt.Fprintf(r.out, "  %s %-14s slot=%v\n", e.Timestamp.Format("15:04:05.000"), e.Type, e.Data["slot"])
	}
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, "Commands:")
	fmt.Fprintln(r.out, "  store <name>         Store a value (created on first use)")
	fmt.Fprintln(r.out, "  copy <name>          Store an independent copy of a value")
	fmt.Fprintln(r.out, "  load                 Load and show the held value")
	fmt.Fprintln(r.out, "  swap <name>          Swap in a value, releasing the previous one")
	fmt.Fprintln(r.out, "  cas <old> <new>      Compare and swap")
	fmt.Fprintln(r.out, "  release <name>       Drop the shell's reference to a value")
	fmt.Fprintln(r.out, "  show                 List values and their counts")
	fmt.Fprintln(r.out, "  stats                Show slot counters")
	fmt.Fprintln(r.out, "  events               Show slot events since the last call")
	fmt.Fprintln(r.out, "  close                Close the slot")
	fmt.Fprintln(r.out, "  help                 Show this help")
	fmt.Fprintln(r.out, "  exit / quit / q      Exit")
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Use - as a name for the empty value.")
}
