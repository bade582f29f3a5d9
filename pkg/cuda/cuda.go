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

// Package cuda is the boundary between the benchmarks and the GPU runtime.
// The Runtime interface mirrors the small subset of the CUDA runtime API
// used for transfer measurements. A cgo backend is built with the 'cuda'
// build tag, and a deterministic Simulator is always available.
//
// The current device of the CUDA runtime is per OS thread. Callers that
// select devices must keep their goroutine locked to its OS thread.
package cuda

import (
	"unsafe"
)

// Ptr is an address in the unified virtual address space.
type Ptr uintptr

// Stream is a handle for a runtime stream.
type Stream uintptr

// Event is a handle for a runtime event.
type Event uintptr

// Extent is the size of a 3D block. Width is in bytes.
type Extent struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
	Depth  int64 `json:"depth"`
}

// PitchedPtr is a pitched 3D allocation.
type PitchedPtr struct {
	Ptr   Ptr
	Pitch int64
	XSize int64
	YSize int64
}

// MemcpyKind is the direction of a copy.
type MemcpyKind int

const (
	MemcpyHostToHost MemcpyKind = iota
	MemcpyHostToDevice
	MemcpyDeviceToHost
	MemcpyDeviceToDevice
	MemcpyDefault
)

// HostRegisterFlags are flags for HostRegister.
type HostRegisterFlags uint

const (
	HostRegisterDefault  HostRegisterFlags = 0x00
	HostRegisterPortable HostRegisterFlags = 0x01
	HostRegisterMapped   HostRegisterFlags = 0x02
)

// HostAllocFlags are flags for HostAlloc.
type HostAllocFlags uint

const (
	HostAllocDefault       HostAllocFlags = 0x00
	HostAllocPortable      HostAllocFlags = 0x01
	HostAllocMapped        HostAllocFlags = 0x02
	HostAllocWriteCombined HostAllocFlags = 0x04
)

// Runtime is the GPU runtime API used by the benchmarks.
type Runtime interface {
	// DeviceCount returns the number of visible devices.
	DeviceCount() (int, error)
	// GetDevice returns the current device of the calling thread.
	GetDevice() (int, error)
	// SetDevice sets the current device of the calling thread.
	SetDevice(dev int) error
	// DeviceReset destroys all state of the current device.
	DeviceReset() error
	// DeviceSynchronize waits for all work on the current device.
	DeviceSynchronize() error
	// DeviceName returns the product name of a device.
	DeviceName(dev int) (string, error)
	// DevicePCIBusID returns the PCI bus ID of a device.
	DevicePCIBusID(dev int) (string, error)
	// CanAccessPeer tells if dev can directly access memory on peer.
	CanAccessPeer(dev, peer int) (bool, error)
	// EnablePeerAccess enables access from the current device to peer.
	EnablePeerAccess(peer int) error

	// Malloc allocates linear memory on the current device.
	Malloc(size int64) (Ptr, error)
	// Malloc3D allocates pitched memory on the current device.
	Malloc3D(ext Extent) (PitchedPtr, error)
	// Free releases memory allocated with Malloc or Malloc3D.
	Free(p Ptr) error
	// Memset synchronously fills device memory.
	Memset(p Ptr, value int, size int64) error
	// Memset3D synchronously fills pitched device memory.
	Memset3D(p PitchedPtr, value int, ext Extent) error

	// HostRegister page-locks an existing host mapping.
	HostRegister(buf []byte, flags HostRegisterFlags) error
	// HostUnregister undoes HostRegister.
	HostUnregister(buf []byte) error
	// HostAlloc allocates page-locked host memory owned by the runtime.
	HostAlloc(size int64, flags HostAllocFlags) ([]byte, error)
	// FreeHost releases memory allocated with HostAlloc.
	FreeHost(buf []byte) error

	StreamCreate() (Stream, error)
	StreamDestroy(s Stream) error
	EventCreate() (Event, error)
	EventDestroy(e Event) error
	EventRecord(e Event, s Stream) error
	EventSynchronize(e Event) error
	// EventElapsedTime returns the time between two recorded events in milliseconds.
	EventElapsedTime(start, stop Event) (float32, error)

	// MemcpyAsync enqueues a linear copy on a stream.
	MemcpyAsync(dst, src Ptr, count int64, kind MemcpyKind, s Stream) error
	// Memcpy2DAsync enqueues a 2D copy of height rows of width bytes.
	Memcpy2DAsync(dst Ptr, dpitch int64, src Ptr, spitch, width, height int64, kind MemcpyKind, s Stream) error
}

// HostPtr returns the address of a host buffer.
func HostPtr(buf []byte) Ptr {
	if len(buf) == 0 {
		return 0
	}
	return Ptr(uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
}

// Bytes returns the number of bytes covered by the extent.
func (e Extent) Bytes() int64 {
	return e.Width * e.Height * e.Depth
}

// IsZero returns true if any dimension of the extent is zero.
func (e Extent) IsZero() bool {
	return e.Width <= 0 || e.Height <= 0 || e.Depth <= 0
}

// Fits returns true if e fits into o in every dimension.
func (e Extent) Fits(o Extent) bool {
	return e.Width <= o.Width && e.Height <= o.Height && e.Depth <= o.Depth
}

func (k MemcpyKind) String() string {
	switch k {
	case MemcpyHostToHost:
		return "HostToHost"
	case MemcpyHostToDevice:
		return "HostToDevice"
	case MemcpyDeviceToHost:
		return "DeviceToHost"
	case MemcpyDeviceToDevice:
		return "DeviceToDevice"
	case MemcpyDefault:
		return "Default"
	}
	return "<unknown memcpy kind>"
}
