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
	"math"
)

// Result is the outcome of running a benchmark instance.
type Result struct {
	Name       string  `json:"name"`
	Family     string  `json:"family"`
	Args       []int64 `json:"args,omitempty"`
	Iterations int64   `json:"iterations"`
	ManualTime bool    `json:"manualTime,omitempty"`
	// RealTime is the total measured time in seconds.
	RealTime float64 `json:"realTime"`
	// TimePerIteration is the mean time of an iteration in seconds.
	TimePerIteration float64            `json:"timePerIteration"`
	MinTime          float64            `json:"minTime,omitempty"`
	MaxTime          float64            `json:"maxTime,omitempty"`
	StdDev           float64            `json:"stdDev,omitempty"`
	BytesProcessed   int64              `json:"bytesProcessed,omitempty"`
	BytesPerSecond   float64            `json:"bytesPerSecond,omitempty"`
	Counters         map[string]float64 `json:"counters,omitempty"`
	Skipped          bool               `json:"skipped,omitempty"`
	SkipReason       string             `json:"skipReason,omitempty"`
}

func newResult(inst *Instance, st *State) *Result {
	r := &Result{
		Name:       inst.Name(),
		Family:     inst.Family(),
		Args:       inst.Args,
		ManualTime: inst.manualTime,
	}

	if st.skipped {
		r.Skipped = true
		r.SkipReason = st.reason
		return r
	}

	r.Iterations = st.iterations
	r.RealTime = st.elapsed()
	r.BytesProcessed = st.bytes
	r.Counters = st.Counters()

	if r.Iterations > 0 {
		r.TimePerIteration = r.RealTime / float64(r.Iterations)
	}
	if r.RealTime > 0 && r.BytesProcessed > 0 {
		r.BytesPerSecond = float64(r.BytesProcessed) / r.RealTime
	}

	times := st.times
	if !st.manualTime || len(times) == 0 {
		r.MinTime = r.TimePerIteration
		r.MaxTime = r.TimePerIteration
		return r
	}

	r.MinTime, r.MaxTime = times[0], times[0]
	for _, t := range times[1:] {
		r.MinTime = min(r.MinTime, t)
		r.MaxTime = max(r.MaxTime, t)
	}
	r.StdDev = stdDev(times)

	return r
}

// stdDev returns the sample standard deviation of values.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	sum := 0.0
	for _, v := range values {
		sum += (v - mean) * (v - mean)
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
