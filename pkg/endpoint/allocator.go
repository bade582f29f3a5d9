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

package endpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/containers/gpu-membench/pkg/cuda"
	logger "github.com/containers/gpu-membench/pkg/log"
	"github.com/containers/gpu-membench/pkg/mempolicy"
	"github.com/containers/gpu-membench/pkg/topology"
)

var (
	log = logger.Get("endpoint")
)

// Binder binds the memory allocations of the calling thread to a NUMA node.
type Binder interface {
	Bind(node int) error
	Reset() error
}

// Mapper creates and destroys page-aligned anonymous host mappings.
type Mapper interface {
	Map(size int64) ([]byte, error)
	Unmap(buf []byte) error
}

// PeerEnabler enables peer access between two devices, in both directions.
type PeerEnabler interface {
	EnablePeerPair(a, b topology.DeviceID) error
}

// Allocator acquires endpoints. NUMA binding is per OS thread, so the
// goroutine using an allocator must be locked to its thread.
type Allocator struct {
	rt     cuda.Runtime
	binder Binder
	mapper Mapper
	peers  PeerEnabler
}

// Option is an option for the allocator.
type Option func(*Allocator)

// WithBinder sets the NUMA binder of the allocator.
func WithBinder(b Binder) Option {
	return func(a *Allocator) {
		a.binder = b
	}
}

// WithMapper sets the host memory mapper of the allocator.
func WithMapper(m Mapper) Option {
	return func(a *Allocator) {
		a.mapper = m
	}
}

// WithPeerEnabler sets what enables peer access for device pairs.
func WithPeerEnabler(p PeerEnabler) Option {
	return func(a *Allocator) {
		a.peers = p
	}
}

// NewAllocator creates an allocator for the given runtime.
func NewAllocator(rt cuda.Runtime, options ...Option) *Allocator {
	a := &Allocator{
		rt:     rt,
		binder: mempolicy.Binder{},
		mapper: MmapMapper{},
	}
	for _, o := range options {
		o(a)
	}
	return a
}

// Runtime returns the GPU runtime of the allocator.
func (a *Allocator) Runtime() cuda.Runtime {
	return a.rt
}

// Acquire allocates an endpoint of the given kind. On failure everything
// acquired so far is released and an *AllocationError is returned.
func (a *Allocator) Acquire(ctx context.Context, kind Kind) (*Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, allocError(kind, "start", err)
	}

	ep := newEndpoint(a.rt, kind)
	if err := kind.Allocate(a, ep); err != nil {
		if rerr := ep.Release(); rerr != nil {
			log.Warn("failed to clean up partial %s: %v", kind.Describe(), rerr)
		}
		var aerr *AllocationError
		if !errors.As(err, &aerr) {
			err = allocError(kind, "allocate", err)
		}
		return nil, err
	}

	log.Debug("acquired %s", ep)

	return ep, nil
}

// AcquirePair allocates the source, then the destination endpoint of a
// transfer. Peer access is enabled for pairs of distinct devices.
func (a *Allocator) AcquirePair(ctx context.Context, src, dst Kind) (*Pair, error) {
	s, err := a.Acquire(ctx, src)
	if err != nil {
		return nil, err
	}
	d, err := a.Acquire(ctx, dst)
	if err != nil {
		s.Release()
		return nil, err
	}

	pair := &Pair{Src: s, Dst: d}

	if s.IsDevice() && d.IsDevice() && s.Device() != d.Device() && a.peers != nil {
		err := a.peers.EnablePeerPair(topology.DeviceID(s.Device()), topology.DeviceID(d.Device()))
		if err != nil {
			pair.Release()
			return nil, &AllocationError{
				Kind: fmt.Sprintf("%s -> %s", src.Describe(), dst.Describe()),
				Step: "enable peer access",
				Err:  err,
			}
		}
	}

	return pair, nil
}

// withBinding runs fn with the calling thread bound to node, if node >= 0.
func (a *Allocator) withBinding(kind Kind, node int, fn func() error) error {
	if node < 0 {
		return fn()
	}

	if err := a.binder.Bind(node); err != nil {
		return allocError(kind, fmt.Sprintf("bind to NUMA node %d", node), err)
	}

	err := fn()

	if rerr := a.binder.Reset(); rerr != nil {
		log.Error("failed to reset NUMA binding: %v", rerr)
		if err == nil {
			err = allocError(kind, "reset NUMA binding", rerr)
		}
	}

	return err
}

// mapHost maps size bytes of host memory into ep, faulted in and zeroed
// on node if node >= 0.
func (a *Allocator) mapHost(kind Kind, ep *Endpoint, node int, size int64) error {
	mapper := a.mapper
	return a.withBinding(kind, node, func() error {
		buf, err := mapper.Map(size)
		if err != nil {
			return allocError(kind, "mmap", err)
		}
		ep.setHost(buf)
		ep.OnRelease("munmap", func() error { return mapper.Unmap(buf) })
		// fault in while bound
		clear(buf)
		return nil
	})
}
