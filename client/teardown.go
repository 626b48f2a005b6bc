package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sammoh94/pulsarkit/logging"
)

// Teardown phases. Lower phases run first; steps within a phase run
// concurrently.
const (
	phaseProducers  = 10
	phaseConnection = 20
	phaseConsumer   = 30
	phaseResources  = 40
)

// ErrTeardownTimeout indicates teardown did not finish before its deadline.
var ErrTeardownTimeout = errors.New("teardown timeout exceeded")

// teardown runs registered stop steps in phase order.
type teardown struct {
	logger *logging.Logger

	mu    sync.Mutex
	steps []step
}

type step struct {
	name  string
	phase int
	fn    func(ctx context.Context) error
}

func newTeardown(logger *logging.Logger) *teardown {
	return &teardown{logger: logger}
}

// add registers a step.
func (t *teardown) add(name string, phase int, fn func(ctx context.Context) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, step{name: name, phase: phase, fn: fn})
}

// run executes every step once. Step failures are joined; a cancelled ctx
// stops before the next phase with ErrTeardownTimeout.
func (t *teardown) run(ctx context.Context) error {
	t.mu.Lock()
	steps := t.steps
	t.steps = nil
	t.mu.Unlock()

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].phase < steps[j].phase
	})

	var errs []error
	for _, group := range groupByPhase(steps) {
		if ctx.Err() != nil {
			return errors.Join(append(errs, ErrTeardownTimeout)...)
		}
		errs = append(errs, t.runPhase(ctx, group)...)
	}
	return errors.Join(errs...)
}

// runPhase runs one phase concurrently and returns its failures.
func (t *teardown) runPhase(ctx context.Context, group []step) []error {
	results := make([]error, len(group))
	var wg sync.WaitGroup

	for i, s := range group {
		wg.Add(1)
		go func(idx int, s step) {
			defer wg.Done()

			start := time.Now()
			err := s.fn(ctx)
			fields := map[string]interface{}{
				"step":     s.name,
				"duration": time.Since(start).String(),
			}
			if err != nil {
				fields["error"] = err.Error()
				t.logger.Warn("teardown_step_failed", fields)
				results[idx] = fmt.Errorf("%s: %w", s.name, err)
				return
			}
			t.logger.Debug("teardown_step", fields)
		}(i, s)
	}

	wg.Wait()

	var errs []error
	for _, err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// groupByPhase splits phase-sorted steps into consecutive groups.
func groupByPhase(steps []step) [][]step {
	if len(steps) == 0 {
		return nil
	}

	var groups [][]step
	current := []step{steps[0]}
	for _, s := range steps[1:] {
		if s.phase != current[0].phase {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, s)
	}
	return append(groups, current)
}

// waitFor blocks until done is closed or ctx ends.
func waitFor(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
