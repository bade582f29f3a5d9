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
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrDuplicate is returned when registering a name twice.
	ErrDuplicate = errors.New("bench: duplicate benchmark")
	// ErrInvalid is returned for invalid registrations.
	ErrInvalid = errors.New("bench: invalid benchmark")
)

// Routine is the body of a benchmark. It runs the iteration loop of st.
type Routine func(ctx context.Context, st *State)

// Benchmark is a registered benchmark family.
type Benchmark struct {
	name       string
	family     string
	routine    Routine
	args       [][]int64
	manualTime bool
	iterations int64
	minTime    time.Duration
}

// Option is an option for a registered benchmark.
type Option func(*Benchmark) error

// WithArgs adds an instance of the benchmark with the given arguments.
func WithArgs(args ...int64) Option {
	return func(b *Benchmark) error {
		if len(args) == 0 {
			return fmt.Errorf("%w: %s: empty argument list", ErrInvalid, b.name)
		}
		b.args = append(b.args, append([]int64{}, args...))
		return nil
	}
}

// WithDenseRange adds an instance for every argument in [lo, hi] in the
// given step.
func WithDenseRange(lo, hi, step int64) Option {
	return func(b *Benchmark) error {
		if step <= 0 || hi < lo {
			return fmt.Errorf("%w: %s: invalid range %d-%d/%d", ErrInvalid, b.name, lo, hi, step)
		}
		for a := lo; a <= hi; a += step {
			b.args = append(b.args, []int64{a})
		}
		return nil
	}
}

// UseManualTime makes the routine report the time of each iteration
// using State.SetIterationTime.
func UseManualTime() Option {
	return func(b *Benchmark) error {
		b.manualTime = true
		return nil
	}
}

// WithFamily sets the family the benchmark is reported under. By default
// it is the name of the benchmark.
func WithFamily(family string) Option {
	return func(b *Benchmark) error {
		b.family = family
		return nil
	}
}

// WithIterations fixes the number of iterations of the benchmark.
func WithIterations(n int64) Option {
	return func(b *Benchmark) error {
		if n < 0 {
			return fmt.Errorf("%w: %s: negative iterations %d", ErrInvalid, b.name, n)
		}
		b.iterations = n
		return nil
	}
}

// WithMinTime sets the minimum time to run an adaptive benchmark for.
func WithMinTime(d time.Duration) Option {
	return func(b *Benchmark) error {
		b.minTime = d
		return nil
	}
}

// Name returns the name of the benchmark family.
func (b *Benchmark) Name() string {
	return b.name
}

// Instance is a benchmark with one set of arguments.
type Instance struct {
	*Benchmark
	Args []int64
}

// Name returns the name of the instance, the family name with the
// arguments appended.
func (i *Instance) Name() string {
	if len(i.Args) == 0 {
		return i.name
	}
	parts := []string{i.name}
	for _, a := range i.Args {
		parts = append(parts, strconv.FormatInt(a, 10))
	}
	return strings.Join(parts, "/")
}

// Family returns the name of the benchmark family of the instance.
func (i *Instance) Family() string {
	if i.family != "" {
		return i.family
	}
	return i.name
}

// Registry is a set of registered benchmarks.
type Registry struct {
	sync.Mutex
	benchmarks []*Benchmark
	names      map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		names: make(map[string]struct{}),
	}
}

// Register registers a benchmark.
func (r *Registry) Register(name string, routine Routine, options ...Option) error {
	if name == "" || routine == nil {
		return fmt.Errorf("%w: %q: missing name or routine", ErrInvalid, name)
	}

	b := &Benchmark{
		name:    name,
		routine: routine,
	}
	for _, o := range options {
		if err := o(b); err != nil {
			return err
		}
	}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.names[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	r.names[name] = struct{}{}
	r.benchmarks = append(r.benchmarks, b)

	return nil
}

// Len returns the number of registered benchmark families.
func (r *Registry) Len() int {
	r.Lock()
	defer r.Unlock()
	return len(r.benchmarks)
}

// Instances returns all instances of all benchmarks in registration order.
func (r *Registry) Instances() []*Instance {
	r.Lock()
	defer r.Unlock()

	var instances []*Instance
	for _, b := range r.benchmarks {
		if len(b.args) == 0 {
			instances = append(instances, &Instance{Benchmark: b})
			continue
		}
		for _, args := range b.args {
			instances = append(instances, &Instance{Benchmark: b, Args: args})
		}
	}
	return instances
}

// Names returns the names of all instances.
func (r *Registry) Names() []string {
	var names []string
	for _, i := range r.Instances() {
		names = append(names, i.Name())
	}
	return names
}
