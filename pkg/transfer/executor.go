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

package transfer

import (
	"context"
	"errors"
	"runtime"

	"github.com/containers/gpu-membench/pkg/cuda"
	"github.com/containers/gpu-membench/pkg/endpoint"
	logger "github.com/containers/gpu-membench/pkg/log"
	"github.com/containers/gpu-membench/pkg/topology"
)

var (
	log = logger.Get("transfer")
)

// State is the part of the benchmark framework state used by the executor.
type State interface {
	// Next returns true while iterations are left in the budget.
	Next() bool
	// SetIterationTime reports the duration of the last iteration.
	SetIterationTime(seconds float64)
	// SetBytesProcessed reports the total number of bytes moved.
	SetBytesProcessed(n int64)
	// SetCounter sets a named counter.
	SetCounter(name string, value float64)
	// SkipWithError marks the instance as skipped with the given reason.
	SkipWithError(reason string)
	// Iterations returns the number of iterations run so far.
	Iterations() int64
}

// Sample is the timing of one iteration.
type Sample struct {
	Seconds float64
	Bytes   int64
}

// DeviceResetter resets devices.
type DeviceResetter interface {
	ResetDevice(dev topology.DeviceID) error
}

// Executor runs timed transfers.
type Executor struct {
	rt      cuda.Runtime
	alloc   *endpoint.Allocator
	reset   DeviceResetter
	flusher *endpoint.CacheFlusher
}

// Option is an option for an Executor.
type Option func(*Executor)

// WithDeviceResetter sets the resetter used for Config.ResetDevices.
func WithDeviceResetter(r DeviceResetter) Option {
	return func(e *Executor) {
		e.reset = r
	}
}

// WithCacheFlusher sets the flusher used for Config.Flush.
func WithCacheFlusher(f *endpoint.CacheFlusher) Option {
	return func(e *Executor) {
		e.flusher = f
	}
}

// NewExecutor creates an executor allocating endpoints with alloc.
func NewExecutor(alloc *endpoint.Allocator, options ...Option) *Executor {
	e := &Executor{
		rt:    alloc.Runtime(),
		alloc: alloc,
	}
	for _, o := range options {
		o(e)
	}
	if e.flusher == nil {
		e.flusher = endpoint.NewCacheFlusher(0, nil)
	}
	return e
}

// Close releases the resources held by the executor.
func (e *Executor) Close() error {
	return e.flusher.Close()
}

// instance is the per run state of a transfer.
type instance struct {
	*Executor
	cfg    *Config
	pair   *endpoint.Pair
	stream cuda.Stream
	start  cuda.Event
	stop   cuda.Event
}

// Run runs cfg for the iteration budget of st. Any failure skips the
// instance: the reason is passed to st.SkipWithError and no samples are
// returned.
func (e *Executor) Run(ctx context.Context, cfg *Config, st State) ([]Sample, error) {
	// The current device and the NUMA policy are both per thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	samples, err := e.run(ctx, cfg, st)
	if err != nil {
		var terr *Error
		if !errors.As(err, &terr) {
			terr = &Error{Name: cfg.Name, Step: "run", Err: err}
			err = terr
		}
		log.Warn("%v", err)
		st.SkipWithError(terr.Reason())
		return nil, err
	}

	return samples, nil
}

func (e *Executor) run(ctx context.Context, cfg *Config, st State) ([]Sample, error) {
	fail := func(step string, err error) error {
		return &Error{Name: cfg.Name, Step: step, Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fail("validate configuration", err)
	}

	devices := cfg.Devices()
	if cfg.ResetDevices && e.reset != nil {
		for _, dev := range devices {
			if err := e.reset.ResetDevice(topology.DeviceID(dev)); err != nil {
				return nil, fail("reset device", err)
			}
		}
	}

	pair, err := e.alloc.AcquirePair(ctx, cfg.Src, cfg.Dst)
	if err != nil {
		step := "allocate memory"
		var aerr *endpoint.AllocationError
		if errors.As(err, &aerr) {
			step = "allocate " + aerr.Kind
		}
		return nil, fail(step, err)
	}
	defer func() {
		if err := pair.Release(); err != nil {
			log.Error("%s: %v", cfg.Name, err)
		}
	}()

	// stream and events live on the first device involved
	scope, err := cuda.SelectDevice(e.rt, devices[0])
	if err != nil {
		return nil, fail("select device", err)
	}
	defer scope.Close()

	inst := &instance{Executor: e, cfg: cfg, pair: pair}
	if err := inst.setup(); err != nil {
		inst.teardown()
		return nil, err
	}
	defer inst.teardown()

	var (
		bytes   = cfg.BytesPerIteration()
		samples []Sample
	)
	for st.Next() {
		if err := ctx.Err(); err != nil {
			return nil, fail("complete", err)
		}
		seconds, err := inst.iterate()
		if err != nil {
			return nil, err
		}
		st.SetIterationTime(seconds)
		samples = append(samples, Sample{Seconds: seconds, Bytes: bytes})
	}

	st.SetBytesProcessed(st.Iterations() * bytes)
	for name, value := range cfg.counters() {
		st.SetCounter(name, value)
	}

	if log.DebugEnabled() {
		log.Debug("%s: %d iterations, %d bytes each", cfg.Name, len(samples), bytes)
	}

	return samples, nil
}

func (i *instance) fail(step string, err error) error {
	return &Error{Name: i.cfg.Name, Step: step, Err: err}
}

func (i *instance) setup() error {
	var err error
	if i.stream, err = i.rt.StreamCreate(); err != nil {
		return i.fail("create stream", err)
	}
	if i.start, err = i.rt.EventCreate(); err != nil {
		return i.fail("create start event", err)
	}
	if i.stop, err = i.rt.EventCreate(); err != nil {
		return i.fail("create stop event", err)
	}
	return nil
}

func (i *instance) teardown() {
	if i.stop != 0 {
		if err := i.rt.EventDestroy(i.stop); err != nil {
			log.Error("%s: failed to destroy stop event: %v", i.cfg.Name, err)
		}
		i.stop = 0
	}
	if i.start != 0 {
		if err := i.rt.EventDestroy(i.start); err != nil {
			log.Error("%s: failed to destroy start event: %v", i.cfg.Name, err)
		}
		i.start = 0
	}
	if i.stream != 0 {
		if err := i.rt.StreamDestroy(i.stream); err != nil {
			log.Error("%s: failed to destroy stream: %v", i.cfg.Name, err)
		}
		i.stream = 0
	}
}

// iterate runs and times a single iteration.
func (i *instance) iterate() (float64, error) {
	dst := i.pair.Dst

	if i.cfg.Zero {
		if err := dst.Zero(); err != nil {
			return 0, i.fail("zero destination", err)
		}
	}
	if i.cfg.Flush {
		if err := i.flusher.Flush(i.pair.Src); err != nil {
			return 0, i.fail("flush source", err)
		}
		if err := i.flusher.Flush(dst); err != nil {
			return 0, i.fail("flush destination", err)
		}
	}

	if err := i.rt.EventRecord(i.start, i.stream); err != nil {
		return 0, i.fail("record start event", err)
	}
	if err := i.enqueue(); err != nil {
		return 0, err
	}
	if err := i.rt.EventRecord(i.stop, i.stream); err != nil {
		return 0, i.fail("record stop event", err)
	}
	if err := i.rt.EventSynchronize(i.stop); err != nil {
		return 0, i.fail("synchronize", err)
	}

	ms, err := i.rt.EventElapsedTime(i.start, i.stop)
	if err != nil {
		return 0, i.fail("get elapsed time", err)
	}

	return float64(ms) / 1000, nil
}

// enqueue enqueues the copy of one iteration on the stream.
func (i *instance) enqueue() error {
	src, dst := i.pair.Src, i.pair.Dst

	if i.cfg.Block == nil {
		err := i.rt.MemcpyAsync(dst.Ptr(), src.Ptr(), i.cfg.Bytes, i.cfg.CopyKind(), i.stream)
		if err != nil {
			return i.fail("perform cudaMemcpyAsync", err)
		}
		return nil
	}

	sp, _ := src.Pitched()
	dp, _ := dst.Pitched()
	b := i.cfg.Block
	for z := int64(0); z < b.Depth; z++ {
		err := i.rt.Memcpy2DAsync(
			dp.Ptr+cuda.Ptr(z*dp.Pitch*dp.YSize), dp.Pitch,
			sp.Ptr+cuda.Ptr(z*sp.Pitch*sp.YSize), sp.Pitch,
			b.Width, b.Height, cuda.MemcpyDefault, i.stream,
		)
		if err != nil {
			return i.fail("perform cudaMemcpy2DAsync", err)
		}
	}

	return nil
}
