// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bench

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	logger "github.com/containers/gpu-membench/pkg/log"
)

const (
	// DefaultMinTime is the minimum time adaptive benchmarks run for.
	DefaultMinTime = 500 * time.Millisecond
	// MaxIterations caps the iterations of adaptive benchmarks.
	MaxIterations = 1000000000
)

var (
	log = logger.Get("bench")
)

// Runner runs the registered benchmarks.
type Runner struct {
	registry   *Registry
	filters    []string
	iterations int64
	minTime    time.Duration
	reporters  []Reporter
}

// RunnerOption is an option for a Runner.
type RunnerOption func(*Runner)

// WithFilters restricts the run to instances matching any of the globs.
func WithFilters(globs ...string) RunnerOption {
	return func(r *Runner) {
		r.filters = append(r.filters, globs...)
	}
}

// WithDefaultIterations sets the iterations of benchmarks without their
// own. Zero runs benchmarks adaptively.
func WithDefaultIterations(n int64) RunnerOption {
	return func(r *Runner) {
		r.iterations = n
	}
}

// WithDefaultMinTime sets the minimum time of adaptive benchmarks.
func WithDefaultMinTime(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.minTime = d
	}
}

// WithReporters sets the reporters results are passed to.
func WithReporters(reporters ...Reporter) RunnerOption {
	return func(r *Runner) {
		r.reporters = append(r.reporters, reporters...)
	}
}

// NewRunner creates a runner for the benchmarks in registry.
func NewRunner(registry *Registry, options ...RunnerOption) (*Runner, error) {
	r := &Runner{
		registry: registry,
		minTime:  DefaultMinTime,
	}
	for _, o := range options {
		o(r)
	}
	if err := ValidateFilters(r.filters...); err != nil {
		return nil, err
	}
	return r, nil
}

// ValidateFilters checks the syntax of the given globs.
func ValidateFilters(globs ...string) error {
	for _, g := range globs {
		if _, err := path.Match(g, ""); err != nil {
			return fmt.Errorf("%w: filter %q: %w", ErrInvalid, g, err)
		}
	}
	return nil
}

// MatchFilters tells if name matches any of globs. A glob matches if it
// matches the full name, or the leading elements of the name with as many
// path elements as the glob. No globs match everything.
func MatchFilters(name string, globs ...string) bool {
	if len(globs) == 0 {
		return true
	}
	elems := strings.Split(name, "/")
	for _, g := range globs {
		n := min(strings.Count(g, "/")+1, len(elems))
		if ok, _ := path.Match(g, strings.Join(elems[:n], "/")); ok {
			return true
		}
	}
	return false
}

// Instances returns the instances selected by the filters of the runner.
func (r *Runner) Instances() []*Instance {
	var selected []*Instance
	for _, inst := range r.registry.Instances() {
		if MatchFilters(inst.Name(), r.filters...) {
			selected = append(selected, inst)
		}
	}
	return selected
}

// Run runs all selected instances one at a time and reports the results.
// Skipped instances are part of the results. An error is returned if the
// run is canceled or a reporter fails.
func (r *Runner) Run(ctx context.Context) ([]*Result, error) {
	instances := r.Instances()
	log.Info("running %d benchmark instances", len(instances))

	var (
		results []*Result
		errs    *multierror.Error
	)
	for _, inst := range instances {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("bench: run interrupted: %w", err))
			break
		}

		res := r.runInstance(ctx, inst)
		if res.Skipped {
			log.Warn("%s: skipped: %s", res.Name, res.SkipReason)
		} else {
			log.Info("%s: %d iterations, %.3f ms/iteration, %s",
				res.Name, res.Iterations, 1000*res.TimePerIteration, FormatBandwidth(res.BytesPerSecond))
		}
		results = append(results, res)
	}

	for _, rep := range r.reporters {
		if err := rep.Report(results); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return results, errs.ErrorOrNil()
}

func (r *Runner) runInstance(ctx context.Context, inst *Instance) *Result {
	budget := inst.iterations
	if budget == 0 {
		budget = r.iterations
	}
	if budget > 0 {
		return newResult(inst, r.runOnce(ctx, inst, budget))
	}

	minTime := inst.minTime
	if minTime == 0 {
		minTime = r.minTime
	}

	n := int64(1)
	for {
		st := r.runOnce(ctx, inst, n)
		elapsed := st.elapsed()
		if st.skipped || elapsed >= minTime.Seconds() || n >= MaxIterations || ctx.Err() != nil {
			return newResult(inst, st)
		}
		n = nextIterations(n, elapsed, minTime.Seconds())
		log.Debug("%s: retrying with %d iterations", inst.Name(), n)
	}
}

// nextIterations predicts the iterations needed to reach minTime.
func nextIterations(n int64, elapsed, minTime float64) int64 {
	multiplier := 10.0
	if elapsed/minTime > 0.1 {
		multiplier = minTime * 1.4 / elapsed
	}
	next := max(int64(float64(n)*multiplier), n+1)
	return min(next, MaxIterations)
}

func (r *Runner) runOnce(ctx context.Context, inst *Instance, budget int64) (st *State) {
	st = newState(inst, budget)
	defer func() {
		if p := recover(); p != nil {
			st.SkipWithError(fmt.Sprintf("%s panicked: %v", inst.Name(), p))
		}
		st.finish()
	}()
	inst.routine(ctx, st)
	return st
}
