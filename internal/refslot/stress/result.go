package stress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/natefinch/atomic"
)

// Result is the audit of one run. It serializes to the JSON report written
// by `refslot stress --out`.
type Result struct {
	RunID    string        `json:"run_id"`
	Policy   string        `json:"policy"`
	Config   Config        `json:"config"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	Canceled bool          `json:"canceled,omitempty"`

	// Values counts every handle created, copies included.
	Values    int `json:"values"`
	Finalized int `json:"finalized"`

	Stores     uint64 `json:"stores"`
	NoOpStores uint64 `json:"noop_stores"`
	Loads      uint64 `json:"loads"`
	Releases   uint64 `json:"releases"`

	DoubleReleases   int `json:"double_releases"`
	RetainsAfterFree int `json:"retains_after_free"`
	UsesAfterFree    int `json:"uses_after_free"`
	Leaks            int `json:"leaks"`

	// FinalValuesValid is false if any slot ended holding a value no writer
	// stored.
	FinalValuesValid bool `json:"final_values_valid"`

	// StripeSpread is the number of slots mapped to each stripe.
	StripeSpread []int `json:"stripe_spread"`

	// Violations lists the first distinct reports.
	Violations []string `json:"violations,omitempty"`
}

// Clean reports whether the audit found nothing wrong.
func (r *Result) Clean() bool {
	return r.DoubleReleases == 0 &&
		r.RetainsAfterFree == 0 &&
		r.UsesAfterFree == 0 &&
		r.Leaks == 0 &&
		r.FinalValuesValid
}

// WriteFile writes r as indented JSON to path, replacing any existing file
// atomically.
func (r *Result) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	data = append(data, '\n')

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}

// Summary writes a human-readable summary of r to w.
func (r *Result) Summary(w io.Writer) {
	status := "CLEAN"
	if !r.Clean() {
		status = "VIOLATIONS FOUND"
	}

	fmt.Fprintf(w, "run %s (%s, %d writers x %d stores, %d slots, %d stripes)\n",
		r.RunID, r.Policy, r.Config.Writers, r.Config.Iterations, r.Config.Slots, r.Config.TableSize)
	fmt.Fprintf(w, "  duration:           %v\n", r.Duration.Round(time.Microsecond))
	fmt.Fprintf(w, "  values:             %d (finalized %d)\n", r.Values, r.Finalized)
	fmt.Fprintf(w, "  stores:             %d (no-op %d)\n", r.Stores, r.NoOpStores)
	fmt.Fprintf(w, "  loads:              %d\n", r.Loads)
	fmt.Fprintf(w, "  double releases:    %d\n", r.DoubleReleases)
	fmt.Fprintf(w, "  retains after free: %d\n", r.RetainsAfterFree)
	fmt.Fprintf(w, "  uses after free:    %d\n", r.UsesAfterFree)
	fmt.Fprintf(w, "  leaks:              %d\n", r.Leaks)
	fmt.Fprintf(w, "  final values valid: %v\n", r.FinalValuesValid)
	for _, v := range r.Violations {
		fmt.Fprintf(w, "    %s\n", v)
	}
	if r.Canceled {
		fmt.Fprintln(w, "  (canceled)")
	}
	fmt.Fprintf(w, "%s\n", status)
}
