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
	"maps"
	"time"
)

// State is the state of a single run of a benchmark instance.
type State struct {
	name       string
	args       []int64
	budget     int64
	iterations int64
	manualTime bool
	times      []float64
	started    time.Time
	wallTime   time.Duration
	bytes      int64
	counters   map[string]float64
	skipped    bool
	reason     string
}

func newState(inst *Instance, budget int64) *State {
	return &State{
		name:       inst.Name(),
		args:       inst.Args,
		budget:     budget,
		manualTime: inst.manualTime,
		counters:   make(map[string]float64),
	}
}

// Name returns the name of the running instance.
func (s *State) Name() string {
	return s.name
}

// Range returns the i-th argument of the instance.
func (s *State) Range(i int) int64 {
	if i < 0 || i >= len(s.args) {
		return 0
	}
	return s.args[i]
}

// Next starts the next iteration. It returns false once the iteration
// budget is used up or the instance has been skipped.
func (s *State) Next() bool {
	now := time.Now()
	if s.iterations == 0 {
		s.started = now
	}
	if s.skipped || s.iterations >= s.budget {
		if !s.started.IsZero() && s.wallTime == 0 {
			s.wallTime = now.Sub(s.started)
		}
		return false
	}
	s.iterations++
	return true
}

// SetIterationTime sets the time of the current iteration for manually
// timed benchmarks.
func (s *State) SetIterationTime(seconds float64) {
	s.times = append(s.times, seconds)
}

// SetBytesProcessed sets the total number of bytes processed.
func (s *State) SetBytesProcessed(n int64) {
	s.bytes = n
}

// SetCounter sets a user counter.
func (s *State) SetCounter(name string, value float64) {
	s.counters[name] = value
}

// Counters returns a copy of the user counters.
func (s *State) Counters() map[string]float64 {
	return maps.Clone(s.counters)
}

// SkipWithError skips the instance. No more iterations are run and the
// instance is left out of all statistics.
func (s *State) SkipWithError(reason string) {
	if s.skipped {
		return
	}
	s.skipped = true
	s.reason = reason
}

// Skipped returns true if the instance has been skipped.
func (s *State) Skipped() bool {
	return s.skipped
}

// Iterations returns the number of iterations started so far.
func (s *State) Iterations() int64 {
	return s.iterations
}

// elapsed returns the measured time of the run in seconds.
func (s *State) elapsed() float64 {
	if s.manualTime {
		total := 0.0
		for _, t := range s.times {
			total += t
		}
		return total
	}
	return s.wallTime.Seconds()
}

// finish stops the wall clock if the routine returned early.
func (s *State) finish() {
	if !s.started.IsZero() && s.wallTime == 0 {
		s.wallTime = time.Since(s.started)
	}
}
