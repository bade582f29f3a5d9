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

//go:build cuda && cgo

package cuda

/*
#cgo CFLAGS: -I/usr/local/cuda/include
#cgo linux,amd64 LDFLAGS: -L/usr/local/cuda/lib64 -lcudart
#cgo linux,arm64 LDFLAGS: -L/usr/local/cuda/lib64 -L/usr/lib/aarch64-linux-gnu -lcudart

#include <cuda_runtime_api.h>
*/
import "C"

import (
	"sync"
	"unsafe"
)

type cudart struct {
	sync.Mutex
	next    uintptr
	streams map[Stream]C.cudaStream_t
	events  map[Event]C.cudaEvent_t
}

// Open returns the GPU runtime backed by libcudart.
func Open() (Runtime, error) {
	return &cudart{
		streams: make(map[Stream]C.cudaStream_t),
		events:  make(map[Event]C.cudaEvent_t),
	}, nil
}

// Enabled returns true when GPU runtime support is compiled in.
func Enabled() bool {
	return true
}

func check(ret C.cudaError_t) error {
	if ret == C.cudaSuccess {
		return nil
	}
	return Error(int(ret))
}

func devPtr(p Ptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p))
}

func hostPtr(buf []byte) unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(buf))
}

func (r *cudart) DeviceCount() (int, error) {
	var n C.int
	if err := check(C.cudaGetDeviceCount(&n)); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *cudart) GetDevice() (int, error) {
	var dev C.int
	if err := check(C.cudaGetDevice(&dev)); err != nil {
		return -1, err
	}
	return int(dev), nil
}

func (r *cudart) SetDevice(dev int) error {
	return check(C.cudaSetDevice(C.int(dev)))
}

func (r *cudart) DeviceReset() error {
	return check(C.cudaDeviceReset())
}

func (r *cudart) DeviceSynchronize() error {
	return check(C.cudaDeviceSynchronize())
}

func (r *cudart) DeviceName(dev int) (string, error) {
	var prop C.struct_cudaDeviceProp
	if err := check(C.cudaGetDeviceProperties(&prop, C.int(dev))); err != nil {
		return "", err
	}
	return C.GoString(&prop.name[0]), nil
}

func (r *cudart) DevicePCIBusID(dev int) (string, error) {
	var buf [64]C.char
	if err := check(C.cudaDeviceGetPCIBusId(&buf[0], C.int(len(buf)), C.int(dev))); err != nil {
		return "", err
	}
	return C.GoString(&buf[0]), nil
}

func (r *cudart) CanAccessPeer(dev, peer int) (bool, error) {
	var can C.int
	if err := check(C.cudaDeviceCanAccessPeer(&can, C.int(dev), C.int(peer))); err != nil {
		return false, err
	}
	return can != 0, nil
}

func (r *cudart) EnablePeerAccess(peer int) error {
	return check(C.cudaDeviceEnablePeerAccess(C.int(peer), 0))
}

func (r *cudart) Malloc(size int64) (Ptr, error) {
	var p unsafe.Pointer
	if err := check(C.cudaMalloc(&p, C.size_t(size))); err != nil {
		return 0, err
	}
	return Ptr(uintptr(p)), nil
}

func cExtent(ext Extent) C.struct_cudaExtent {
	return C.struct_cudaExtent{
		width:  C.size_t(ext.Width),
		height: C.size_t(ext.Height),
		depth:  C.size_t(ext.Depth),
	}
}

func cPitchedPtr(p PitchedPtr) C.struct_cudaPitchedPtr {
	return C.struct_cudaPitchedPtr{
		ptr:   devPtr(p.Ptr),
		pitch: C.size_t(p.Pitch),
		xsize: C.size_t(p.XSize),
		ysize: C.size_t(p.YSize),
	}
}

func (r *cudart) Malloc3D(ext Extent) (PitchedPtr, error) {
	var pp C.struct_cudaPitchedPtr
	if err := check(C.cudaMalloc3D(&pp, cExtent(ext))); err != nil {
		return PitchedPtr{}, err
	}
	return PitchedPtr{
		Ptr:   Ptr(uintptr(pp.ptr)),
		Pitch: int64(pp.pitch),
		XSize: int64(pp.xsize),
		YSize: int64(pp.ysize),
	}, nil
}

func (r *cudart) Free(p Ptr) error {
	return check(C.cudaFree(devPtr(p)))
}

func (r *cudart) Memset(p Ptr, value int, size int64) error {
	return check(C.cudaMemset(devPtr(p), C.int(value), C.size_t(size)))
}

func (r *cudart) Memset3D(p PitchedPtr, value int, ext Extent) error {
	return check(C.cudaMemset3D(cPitchedPtr(p), C.int(value), cExtent(ext)))
}

func (r *cudart) HostRegister(buf []byte, flags HostRegisterFlags) error {
	if len(buf) == 0 {
		return ErrInvalidValue
	}
	return check(C.cudaHostRegister(hostPtr(buf), C.size_t(len(buf)), C.uint(flags)))
}

func (r *cudart) HostUnregister(buf []byte) error {
	if len(buf) == 0 {
		return ErrInvalidValue
	}
	return check(C.cudaHostUnregister(hostPtr(buf)))
}

func (r *cudart) HostAlloc(size int64, flags HostAllocFlags) ([]byte, error) {
	var p unsafe.Pointer
	if err := check(C.cudaHostAlloc(&p, C.size_t(size), C.uint(flags))); err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(p), size), nil
}

func (r *cudart) FreeHost(buf []byte) error {
	if len(buf) == 0 {
		return ErrInvalidValue
	}
	return check(C.cudaFreeHost(hostPtr(buf)))
}

func (r *cudart) StreamCreate() (Stream, error) {
	var s C.cudaStream_t
	if err := check(C.cudaStreamCreate(&s)); err != nil {
		return 0, err
	}
	r.Lock()
	defer r.Unlock()
	r.next++
	h := Stream(r.next)
	r.streams[h] = s
	return h, nil
}

func (r *cudart) stream(h Stream) (C.cudaStream_t, error) {
	r.Lock()
	defer r.Unlock()
	s, ok := r.streams[h]
	if !ok {
		return nil, ErrInvalidResourceHandle
	}
	return s, nil
}

func (r *cudart) StreamDestroy(h Stream) error {
	s, err := r.stream(h)
	if err != nil {
		return err
	}
	if err := check(C.cudaStreamDestroy(s)); err != nil {
		return err
	}
	r.Lock()
	delete(r.streams, h)
	r.Unlock()
	return nil
}

func (r *cudart) EventCreate() (Event, error) {
	var e C.cudaEvent_t
	if err := check(C.cudaEventCreate(&e)); err != nil {
		return 0, err
	}
	r.Lock()
	defer r.Unlock()
	r.next++
	h := Event(r.next)
	r.events[h] = e
	return h, nil
}

func (r *cudart) event(h Event) (C.cudaEvent_t, error) {
	r.Lock()
	defer r.Unlock()
	e, ok := r.events[h]
	if !ok {
		return nil, ErrInvalidResourceHandle
	}
	return e, nil
}

func (r *cudart) EventDestroy(h Event) error {
	e, err := r.event(h)
	if err != nil {
		return err
	}
	if err := check(C.cudaEventDestroy(e)); err != nil {
		return err
	}
	r.Lock()
	delete(r.events, h)
	r.Unlock()
	return nil
}

func (r *cudart) EventRecord(he Event, hs Stream) error {
	e, err := r.event(he)
	if err != nil {
		return err
	}
	s, err := r.stream(hs)
	if err != nil {
		return err
	}
	return check(C.cudaEventRecord(e, s))
}

func (r *cudart) EventSynchronize(h Event) error {
	e, err := r.event(h)
	if err != nil {
		return err
	}
	return check(C.cudaEventSynchronize(e))
}

func (r *cudart) EventElapsedTime(hstart, hstop Event) (float32, error) {
	start, err := r.event(hstart)
	if err != nil {
		return 0, err
	}
	stop, err := r.event(hstop)
	if err != nil {
		return 0, err
	}
	var ms C.float
	if err := check(C.cudaEventElapsedTime(&ms, start, stop)); err != nil {
		return 0, err
	}
	return float32(ms), nil
}

func (r *cudart) MemcpyAsync(dst, src Ptr, count int64, kind MemcpyKind, hs Stream) error {
	s, err := r.stream(hs)
	if err != nil {
		return err
	}
	return check(C.cudaMemcpyAsync(devPtr(dst), devPtr(src), C.size_t(count),
		C.enum_cudaMemcpyKind(kind), s))
}

func (r *cudart) Memcpy2DAsync(dst Ptr, dpitch int64, src Ptr, spitch, width, height int64, kind MemcpyKind, hs Stream) error {
	s, err := r.stream(hs)
	if err != nil {
		return err
	}
	return check(C.cudaMemcpy2DAsync(devPtr(dst), C.size_t(dpitch), devPtr(src), C.size_t(spitch),
		C.size_t(width), C.size_t(height), C.enum_cudaMemcpyKind(kind), s))
}
