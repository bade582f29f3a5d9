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

	"github.com/hashicorp/go-multierror"

	"github.com/containers/gpu-membench/pkg/cuda"
)

// Endpoint is a live allocation of some kind of memory, one side of a
// transfer. Every completed acquisition step registers an undo action,
// Release runs these in reverse order exactly once.
type Endpoint struct {
	kind     Kind
	rt       cuda.Runtime
	device   int
	ptr      cuda.Ptr
	pitched  cuda.PitchedPtr
	block    *cuda.Extent
	host     []byte
	size     int64
	undo     []undoStep
	released bool
}

type undoStep struct {
	what string
	fn   func() error
}

func newEndpoint(rt cuda.Runtime, kind Kind) *Endpoint {
	return &Endpoint{
		kind:   kind,
		rt:     rt,
		device: -1,
	}
}

// Kind returns the kind of the endpoint.
func (ep *Endpoint) Kind() Kind {
	return ep.kind
}

// Type returns the memory type of the endpoint.
func (ep *Endpoint) Type() Type {
	return ep.kind.Type()
}

// Ptr returns the base address of the endpoint memory.
func (ep *Endpoint) Ptr() cuda.Ptr {
	return ep.ptr
}

// Pitched returns the pitched pointer of a block allocation.
func (ep *Endpoint) Pitched() (cuda.PitchedPtr, bool) {
	return ep.pitched, ep.block != nil
}

// Host returns the host memory of a host endpoint.
func (ep *Endpoint) Host() []byte {
	return ep.host
}

// Size returns the number of bytes allocated.
func (ep *Endpoint) Size() int64 {
	return ep.size
}

// Device returns the device of a device endpoint, -1 for host endpoints.
func (ep *Endpoint) Device() int {
	return ep.device
}

// IsDevice returns true if the endpoint is GPU memory.
func (ep *Endpoint) IsDevice() bool {
	return ep.device >= 0
}

// Released returns true once the endpoint has been released.
func (ep *Endpoint) Released() bool {
	return ep.released
}

// OnRelease registers an undo action for a completed acquisition step.
func (ep *Endpoint) OnRelease(what string, fn func() error) {
	ep.undo = append(ep.undo, undoStep{what: what, fn: fn})
}

func (ep *Endpoint) setDevice(dev int, p cuda.Ptr, size int64) {
	ep.device = dev
	ep.ptr = p
	ep.size = size
}

func (ep *Endpoint) setBlock(dev int, p cuda.PitchedPtr, ext cuda.Extent) {
	ep.device = dev
	ep.ptr = p.Ptr
	ep.pitched = p
	ep.block = &ext
	ep.size = p.Pitch * p.YSize * ext.Depth
}

func (ep *Endpoint) setHost(buf []byte) {
	ep.host = buf
	ep.ptr = cuda.HostPtr(buf)
	ep.size = int64(len(buf))
}

// Zero fills the endpoint memory with zeroes. Device memory is zeroed
// synchronously with the device made current for the duration.
func (ep *Endpoint) Zero() error {
	if ep.released {
		return ErrReleased
	}
	if !ep.IsDevice() {
		clear(ep.host)
		return nil
	}
	return cuda.OnDevice(ep.rt, ep.device, func() error {
		if ep.block != nil {
			return ep.rt.Memset3D(ep.pitched, 0, *ep.block)
		}
		return ep.rt.Memset(ep.ptr, 0, ep.size)
	})
}

// Release undoes all acquisition steps in reverse order. Only the first
// call has any effect. All undo actions are run even if some fail.
func (ep *Endpoint) Release() error {
	if ep == nil || ep.released {
		return nil
	}
	ep.released = true

	var errs *multierror.Error
	for i := len(ep.undo) - 1; i >= 0; i-- {
		u := ep.undo[i]
		if err := u.fn(); err != nil {
			log.Error("%s: failed to %s: %v", ep, u.what, err)
			errs = multierror.Append(errs, fmt.Errorf("failed to %s: %w", u.what, err))
		}
	}
	ep.undo = nil
	ep.host = nil

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("endpoint: failed to release %s: %w", ep.kind.Describe(), err)
	}
	return nil
}

func (ep *Endpoint) String() string {
	return fmt.Sprintf("endpoint<%s, %d bytes>", ep.kind.Describe(), ep.size)
}

// Pair is the source and destination of a transfer.
type Pair struct {
	Src *Endpoint
	Dst *Endpoint
}

// Release releases the destination, then the source endpoint.
func (p *Pair) Release() error {
	if p == nil {
		return nil
	}
	var errs *multierror.Error
	if err := p.Dst.Release(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := p.Src.Release(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}
