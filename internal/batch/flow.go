package batch

import (
	"context"
	"fmt"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

// Effect is the side effect of one transition. It mutates the batch in place
// and must be idempotent: a crash mid-effect leaves the batch in the running
// state and the scheduler runs the effect again.
type Effect func(ctx context.Context, r *run) error

// Step is one row of a transition table. Advance persists Running (when set)
// before Effect and persists Next only after Effect succeeds. Running is
// itself advanceable and resumes the same step.
type Step struct {
	From    ingest.State
	Running ingest.State
	Effect  Effect
	Next    ingest.State
}

// flow is the validated transition table of one batch kind.
type flow struct {
	kind  ingest.BatchKind
	steps map[ingest.State]Step
	// waits maps a waiting state to the state Approve moves it to.
	waits map[ingest.State]ingest.State
}

func newFlow(kind ingest.BatchKind, steps []Step, waits map[ingest.State]ingest.State) (*flow, error) {
	f := &flow{kind: kind, steps: make(map[ingest.State]Step), waits: waits}
	if f.waits == nil {
		f.waits = map[ingest.State]ingest.State{}
	}
	add := func(s ingest.State, step Step) error {
		if !s.Valid() || s.Terminal() {
			return fmt.Errorf("%s flow: state %q cannot start a step", kind, s)
		}
		if _, dup := f.steps[s]; dup {
			return fmt.Errorf("%s flow: state %q has two steps", kind, s)
		}
		if _, waiting := f.waits[s]; waiting {
			return fmt.Errorf("%s flow: state %q both waits and advances", kind, s)
		}
		f.steps[s] = step
		return nil
	}
	for _, step := range steps {
		if !step.Next.Valid() {
			return nil, fmt.Errorf("%s flow: step from %q has invalid next %q", kind, step.From, step.Next)
		}
		if step.Running != "" && step.Effect == nil {
			return nil, fmt.Errorf("%s flow: step from %q runs %q without an effect", kind, step.From, step.Running)
		}
		if err := add(step.From, step); err != nil {
			return nil, err
		}
		if step.Running != "" && step.Running != step.From {
			if err := add(step.Running, step); err != nil {
				return nil, err
			}
		}
	}
	for from, to := range f.waits {
		if !from.Valid() || from.Terminal() || !to.Valid() {
			return nil, fmt.Errorf("%s flow: invalid wait %q -> %q", kind, from, to)
		}
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// validate walks every state reachable from started and checks that each
// non-terminal one either advances or waits, and that completed is reachable.
func (f *flow) validate() error {
	seen := map[ingest.State]bool{}
	queue := []ingest.State{ingest.StateStarted}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		if seen[s] {
			continue
		}
		seen[s] = true
		if s.Terminal() {
			continue
		}
		if step, ok := f.steps[s]; ok {
			if step.Running != "" {
				queue = append(queue, step.Running)
			}
			queue = append(queue, step.Next)
			continue
		}
		if to, ok := f.waits[s]; ok {
			queue = append(queue, to)
			continue
		}
		return fmt.Errorf("%s flow: state %q is reachable but has no transition", f.kind, s)
	}
	if !seen[ingest.StateCompleted] {
		return fmt.Errorf("%s flow: %q is unreachable", f.kind, ingest.StateCompleted)
	}
	return nil
}

// step returns the step that advances a batch sitting in s.
func (f *flow) step(s ingest.State) (Step, bool) {
	step, ok := f.steps[s]
	return step, ok
}

// advanceable reports whether a batch in s has work for the scheduler.
func (f *flow) advanceable(s ingest.State) bool {
	_, ok := f.steps[s]
	return ok
}

// approveTarget returns the state Approve moves a waiting batch to.
func (f *flow) approveTarget(s ingest.State) (ingest.State, bool) {
	to, ok := f.waits[s]
	return to, ok
}
