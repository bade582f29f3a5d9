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
	"fmt"

	"github.com/containers/gpu-membench/pkg/cuda"
)

// Kind describes how to acquire one kind of endpoint memory.
type Kind interface {
	// Type returns the memory type of the kind.
	Type() Type
	// Describe returns a short identifier of the kind.
	Describe() string
	// Size returns the number of bytes the kind asks for.
	Size() int64
	// Allocate acquires memory into ep. Every completed step must register
	// its undo action with ep.OnRelease before the next step is taken.
	Allocate(a *Allocator, ep *Endpoint) error
}

// Device is linear or block GPU memory on a device.
type Device struct {
	ID    int
	Bytes int64
	// Block requests a pitched 3D allocation of this extent instead.
	Block *cuda.Extent
}

// Pinned is page-locked host memory, registered with the GPU runtime.
type Pinned struct {
	Bytes int64
	// Node to allocate on, or -1 for no NUMA binding.
	Node int
}

// WriteCombined is page-locked write-combined host memory, allocated by
// the GPU runtime.
type WriteCombined struct {
	Bytes int64
	// Node to allocate on, or -1 for no NUMA binding.
	Node int
}

// NUMA is pageable host memory bound to a NUMA node.
type NUMA struct {
	Bytes int64
	Node  int
}

var (
	_ Kind = Device{}
	_ Kind = Pinned{}
	_ Kind = WriteCombined{}
	_ Kind = NUMA{}
)

func (k Device) Type() Type { return TypeDevice }

func (k Device) Describe() string {
	return fmt.Sprintf("gpu%d", k.ID)
}

func (k Device) Size() int64 {
	if k.Block != nil {
		return k.Block.Bytes()
	}
	return k.Bytes
}

func (k Device) Allocate(a *Allocator, ep *Endpoint) error {
	if k.ID < 0 {
		return allocError(k, "validate", fmt.Errorf("%w: device %d", ErrInvalidKind, k.ID))
	}
	if k.Block == nil && k.Bytes <= 0 {
		return allocError(k, "validate", fmt.Errorf("%w: size %d", ErrInvalidKind, k.Bytes))
	}
	if k.Block != nil && k.Block.IsZero() {
		return allocError(k, "validate", fmt.Errorf("%w: extent %v", ErrInvalidKind, *k.Block))
	}

	rt := a.rt
	scope, err := cuda.SelectDevice(rt, k.ID)
	if err != nil {
		return allocError(k, "select device", err)
	}
	defer scope.Close()

	if k.Block != nil {
		p, err := rt.Malloc3D(*k.Block)
		if err != nil {
			return allocError(k, "cudaMalloc3D", err)
		}
		ep.setBlock(k.ID, p, *k.Block)
		ep.OnRelease("cudaFree", func() error {
			return cuda.OnDevice(rt, k.ID, func() error { return rt.Free(p.Ptr) })
		})
		if err := rt.Memset3D(p, 0, *k.Block); err != nil {
			return allocError(k, "cudaMemset3D", err)
		}
		return nil
	}

	p, err := rt.Malloc(k.Bytes)
	if err != nil {
		return allocError(k, "cudaMalloc", err)
	}
	ep.setDevice(k.ID, p, k.Bytes)
	ep.OnRelease("cudaFree", func() error {
		return cuda.OnDevice(rt, k.ID, func() error { return rt.Free(p) })
	})
	if err := rt.Memset(p, 0, k.Bytes); err != nil {
		return allocError(k, "cudaMemset", err)
	}

	return nil
}

func (k Pinned) Type() Type { return TypePinned }

func (k Pinned) Describe() string {
	if k.Node < 0 {
		return "pinned"
	}
	return fmt.Sprintf("pinned@numa%d", k.Node)
}

func (k Pinned) Size() int64 { return k.Bytes }

func (k Pinned) Allocate(a *Allocator, ep *Endpoint) error {
	if k.Bytes <= 0 {
		return allocError(k, "validate", fmt.Errorf("%w: size %d", ErrInvalidKind, k.Bytes))
	}

	if err := a.mapHost(k, ep, k.Node, k.Bytes); err != nil {
		return err
	}

	rt := a.rt
	buf := ep.host
	if err := rt.HostRegister(buf, cuda.HostRegisterPortable); err != nil {
		return allocError(k, "cudaHostRegister", err)
	}
	ep.OnRelease("cudaHostUnregister", func() error { return rt.HostUnregister(buf) })

	return nil
}

func (k WriteCombined) Type() Type { return TypeWriteCombined }

func (k WriteCombined) Describe() string {
	if k.Node < 0 {
		return "wc"
	}
	return fmt.Sprintf("wc@numa%d", k.Node)
}

func (k WriteCombined) Size() int64 { return k.Bytes }

func (k WriteCombined) Allocate(a *Allocator, ep *Endpoint) error {
	if k.Bytes <= 0 {
		return allocError(k, "validate", fmt.Errorf("%w: size %d", ErrInvalidKind, k.Bytes))
	}

	rt := a.rt
	err := a.withBinding(k, k.Node, func() error {
		buf, err := rt.HostAlloc(k.Bytes, cuda.HostAllocWriteCombined|cuda.HostAllocPortable)
		if err != nil {
			return allocError(k, "cudaHostAlloc", err)
		}
		ep.setHost(buf)
		ep.OnRelease("cudaFreeHost", func() error { return rt.FreeHost(buf) })
		clear(buf)
		return nil
	})

	return err
}

func (k NUMA) Type() Type { return TypeNUMA }

func (k NUMA) Describe() string {
	return fmt.Sprintf("numa%d", k.Node)
}

func (k NUMA) Size() int64 { return k.Bytes }

func (k NUMA) Allocate(a *Allocator, ep *Endpoint) error {
	if k.Bytes <= 0 {
		return allocError(k, "validate", fmt.Errorf("%w: size %d", ErrInvalidKind, k.Bytes))
	}
	if k.Node < 0 {
		return allocError(k, "validate", fmt.Errorf("%w: node %d", ErrInvalidKind, k.Node))
	}
	return a.mapHost(k, ep, k.Node, k.Bytes)
}
