// Package stress hammers shared slots from many goroutines and audits every
// value afterwards.
//
// A run creates one counted value per store, so after the writers finish and
// the slots are closed every value must have been finalized exactly once.
// The audit reports what went wrong when that does not hold:
//
//   - double releases, retains after free and reads after free, collected by
//     a violation.Recorder attached to every value and slot
//   - leaks: values still holding references after all slots closed
//   - final values: what each slot held before closing must be a value some
//     writer stored
//
// Under the guarded policy a run is expected to be clean. Under the fast
// policy with more than one writer per slot it usually is not, which is the
// point of running it.
package stress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kolkov/refslot/internal/refslot/atomicslot"
	"github.com/kolkov/refslot/internal/refslot/observe"
	"github.com/kolkov/refslot/internal/refslot/refcount"
	"github.com/kolkov/refslot/internal/refslot/stripe"
	"github.com/kolkov/refslot/internal/refslot/violation"
)

const source = "stress"

// maxListedViolations bounds Result.Violations.
const maxListedViolations = 20

// payload is the value each store carries.
type payload struct {
	writer int
	seq    int
	data   []byte
}

func copyPayload(p *payload) *payload {
	return &payload{writer: p.writer, seq: p.seq, data: append([]byte(nil), p.data...)}
}

type value = *refcount.Ref[*payload]

// registry remembers every value created during a run, including copies
// made by StoreCopy, so the audit can check each one.
type registry struct {
	mu     sync.Mutex
	values []value
}

func (r *registry) add(v value) value {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
	return v
}

// Run executes one stress run and returns its audit.
//
// Cancellation is checked between stores. A canceled run still closes its
// slots and audits what was created; the returned error is then ctx.Err()
// and Result.Canceled is set.
func Run(ctx context.Context, cfg Config, obs observe.Observer) (*Result, error) {
	policy, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if obs == nil {
		obs = observe.NoOpObserver{}
	}

	table, err := stripe.New(cfg.TableSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	res := &Result{
		RunID:   uuid.NewString(),
		Config:  cfg,
		Policy:  policy.String(),
		Started: time.Now(),
	}

	observe.Emit(obs, observe.EventTableCreate, observe.LevelVerbose, source, map[string]any{
		"run_id": res.RunID,
		"size":   table.Size(),
	})
	observe.Emit(obs, observe.EventStressStart, observe.LevelInfo, source, map[string]any{
		"run_id":     res.RunID,
		"policy":     res.Policy,
		"writers":    cfg.Writers,
		"iterations": cfg.Iterations,
		"slots":      cfg.Slots,
		"copy":       cfg.Copy,
	})

	rec := violation.NewRecorder()
	var tracker *refcount.Tracker
	if cfg.Debug {
		tracker = refcount.NewTracker()
	}

	var (
		reg       registry
		finalized atomic.Int64
	)
	newValue := func(writer, seq int) value {
		opts := []refcount.Option[*payload]{
			refcount.WithHandler[*payload](rec.Handle),
			refcount.WithFinalizer(func(*payload) { finalized.Add(1) }),
		}
		if tracker != nil {
			opts = append(opts, refcount.WithDebug[*payload](tracker))
		}
		p := &payload{writer: writer, seq: seq, data: []byte(fmt.Sprintf("w%d-%d", writer, seq))}
		return reg.add(refcount.New(p, opts...))
	}

	slotOpts := atomicslot.Options[value]{
		Policy:      policy,
		OnViolation: rec.Handle,
	}
	if cfg.Debug {
		// Slot events only in debug runs.
		slotOpts.Observer = obs
	}
	if cfg.Copy {
		clone := refcount.Cloner(copyPayload)
		slotOpts.Copy = func(v value) value { return reg.add(clone(v)) }
	}

	slots := make([]*atomicslot.Slot[value], cfg.Slots)
	for i := range slots {
		slots[i] = atomicslot.New(table, slotOpts)
	}

	var wg sync.WaitGroup
	for w := 0; w < cfg.Writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < cfg.Iterations; i++ {
				if ctx.Err() != nil {
					return
				}

				s := slots[(w+i)%len(slots)]
				v := newValue(w, i)
				if cfg.Copy {
					s.StoreCopy(v)
				} else {
					s.Store(v)
				}
				v.Release()

				if cfg.LoadEvery > 0 && i%cfg.LoadEvery == 0 {
					if l := s.Load(); l != nil {
						_ = l.Value()
						l.Release()
					}
				}
			}
		}(w)
	}
	wg.Wait()

	res.Canceled = ctx.Err() != nil
	audit(res, &reg, slots, table, rec)
	res.Finalized = int(finalized.Load())
	res.Duration = time.Since(res.Started)

	for _, r := range rec.Reports() {
		observe.Emit(obs, observe.EventViolation, observe.LevelError, source, map[string]any{
			"run_id": res.RunID,
			"kind":   r.Kind.String(),
			"object": fmt.Sprintf("0x%x", r.Object),
			"count":  r.Count,
		})
	}

	level := observe.LevelInfo
	if !res.Clean() {
		level = observe.LevelWarning
	}
	observe.Emit(obs, observe.EventStressComplete, level, source, map[string]any{
		"run_id":          res.RunID,
		"duration_ms":     res.Duration.Milliseconds(),
		"values":          res.Values,
		"double_releases": res.DoubleReleases,
		"leaks":           res.Leaks,
		"clean":           res.Clean(),
	})

	if res.Canceled {
		return res, ctx.Err()
	}
	return res, nil
}

// audit checks final values, closes the slots and inspects every value.
func audit(res *Result, reg *registry, slots []*atomicslot.Slot[value], table *stripe.LockTable, rec *violation.Recorder) {
	reg.mu.Lock()
	created := make(map[value]bool, len(reg.values))
	for _, v := range reg.values {
		created[v] = true
	}
	reg.mu.Unlock()

	res.FinalValuesValid = true
	ids := make([]stripe.Identity, len(slots))
	for i, s := range slots {
		ids[i] = s.Identity()

		final := s.Load()
		if final != nil {
			if !created[final] {
				res.FinalValuesValid = false
			}
			final.Release()
		}
	}

	for _, s := range slots {
		s.Close()
		st := s.Stats()
		res.Stores += st.Stores
		res.NoOpStores += st.NoOpStores
		res.Loads += st.Loads
		res.Releases += st.Releases
	}

	reg.mu.Lock()
	res.Values = len(reg.values)
	for _, v := range reg.values {
		if !v.Freed() {
			res.Leaks++
		}
	}
	reg.mu.Unlock()

	res.StripeSpread = table.Spread(ids)
	res.DoubleReleases = rec.Count(violation.DoubleRelease)
	res.RetainsAfterFree = rec.Count(violation.RetainAfterFree)
	res.UsesAfterFree = rec.Count(violation.UseAfterFree)

	for i, r := range rec.Reports() {
		if i == maxListedViolations {
			break
		}
		res.Violations = append(res.Violations,
			fmt.Sprintf("%s of 0x%x (count %d)", r.Kind, r.Object, r.Count))
	}
}
