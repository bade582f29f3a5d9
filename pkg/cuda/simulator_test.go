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

package cuda_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/containers/gpu-membench/pkg/cuda"
)

func TestSimulatorPeerAccess(t *testing.T) {
	sim := cuda.NewSimulator(
		cuda.WithDevices(3),
		cuda.WithPeerMatrix([][]bool{
			{false, true, true},
			{true, false, false},
			{false, false, false},
		}),
	)

	type testCase struct {
		dev, peer int
		can       bool
	}
	for _, tc := range []*testCase{
		{0, 1, true}, {1, 0, true}, {0, 2, true}, {2, 0, false}, {1, 2, false}, {0, 0, false},
	} {
		can, err := sim.CanAccessPeer(tc.dev, tc.peer)
		require.NoError(t, err)
		require.Equal(t, tc.can, can, "%d -> %d", tc.dev, tc.peer)
	}

	_, err := sim.CanAccessPeer(0, 7)
	require.ErrorIs(t, err, cuda.ErrInvalidDevice)

	require.NoError(t, sim.SetDevice(0))
	require.NoError(t, sim.EnablePeerAccess(1))
	require.ErrorIs(t, sim.EnablePeerAccess(1), cuda.ErrPeerAccessAlreadyEnabled)
	require.True(t, sim.PeerEnabled(0, 1))
	require.False(t, sim.PeerEnabled(1, 0))

	require.NoError(t, sim.SetDevice(2))
	require.ErrorIs(t, sim.EnablePeerAccess(0), cuda.ErrPeerAccessUnsupported)
	require.Equal(t, 1, sim.Stats().PeerEnables)

	require.NoError(t, sim.SetDevice(0))
	require.NoError(t, sim.DeviceReset())
	require.False(t, sim.PeerEnabled(0, 1))
}

func TestSimulatorAllocations(t *testing.T) {
	sim := cuda.NewSimulator(cuda.WithDevices(1), cuda.WithDeviceMemory(1<<20))

	p, err := sim.Malloc(512 << 10)
	require.NoError(t, err)
	require.NoError(t, sim.Memset(p, 0, 512<<10))
	require.ErrorIs(t, sim.Memset(p, 0, 1<<20), cuda.ErrInvalidValue)

	_, err = sim.Malloc(768 << 10)
	require.ErrorIs(t, err, cuda.ErrMemoryAllocation)

	require.NoError(t, sim.Free(p))
	require.ErrorIs(t, sim.Free(p), cuda.ErrInvalidValue)
	require.ErrorIs(t, sim.Memset(p, 0, 1), cuda.ErrInvalidValue)

	ext := cuda.Extent{Width: 100, Height: 4, Depth: 2}
	pp, err := sim.Malloc3D(ext)
	require.NoError(t, err)
	require.Equal(t, int64(512), pp.Pitch)
	require.Equal(t, int64(100), pp.XSize)
	require.Equal(t, int64(4), pp.YSize)
	require.NoError(t, sim.Memset3D(pp, 0, ext))
	require.NoError(t, sim.Free(pp.Ptr))

	buf := make([]byte, 4096)
	require.NoError(t, sim.HostRegister(buf, cuda.HostRegisterPortable))
	require.ErrorIs(t, sim.HostRegister(buf, cuda.HostRegisterPortable), cuda.ErrHostMemoryAlreadyRegistered)
	require.NoError(t, sim.HostUnregister(buf))
	require.ErrorIs(t, sim.HostUnregister(buf), cuda.ErrHostMemoryNotRegistered)

	wc, err := sim.HostAlloc(8192, cuda.HostAllocWriteCombined)
	require.NoError(t, err)
	require.Len(t, wc, 8192)
	require.ErrorIs(t, sim.HostUnregister(wc), cuda.ErrHostMemoryNotRegistered)
	require.NoError(t, sim.FreeHost(wc))

	st := sim.Stats()
	require.Equal(t, 2, st.DeviceAllocs)
	require.Equal(t, 2, st.DeviceFrees)
	require.Equal(t, 1, st.HostRegisters)
	require.Equal(t, 1, st.HostUnregisters)
	require.Equal(t, 1, st.HostAllocs)
	require.Equal(t, 1, st.HostFrees)
	require.Equal(t, 0, sim.Live())
}

func TestSimulatorTiming(t *testing.T) {
	const size = 1 << 20

	sim := cuda.NewSimulator(
		cuda.WithDevices(2),
		cuda.WithLatency(10*time.Microsecond),
		cuda.WithBandwidth(cuda.PathPinned, 1e9),
	)

	dev, err := sim.Malloc(size)
	require.NoError(t, err)
	host := make([]byte, size)
	require.NoError(t, sim.HostRegister(host, cuda.HostRegisterPortable))

	s, err := sim.StreamCreate()
	require.NoError(t, err)
	start, err := sim.EventCreate()
	require.NoError(t, err)
	stop, err := sim.EventCreate()
	require.NoError(t, err)

	_, err = sim.EventElapsedTime(start, stop)
	require.ErrorIs(t, err, cuda.ErrInvalidResourceHandle, "events not recorded yet")

	require.NoError(t, sim.EventRecord(start, s))
	require.NoError(t, sim.MemcpyAsync(cuda.HostPtr(host), dev, size, cuda.MemcpyDeviceToHost, s))
	require.NoError(t, sim.EventRecord(stop, s))
	require.NoError(t, sim.EventSynchronize(stop))

	ms, err := sim.EventElapsedTime(start, stop)
	require.NoError(t, err)
	// 10us latency + 1MiB at 1GB/s
	require.InDelta(t, 0.01+float64(size)/1e6, float64(ms), 1e-3)

	require.ErrorIs(t,
		sim.MemcpyAsync(cuda.HostPtr(host), dev, size, cuda.MemcpyHostToDevice, s),
		cuda.ErrInvalidMemcpyDirection)
	require.ErrorIs(t,
		sim.MemcpyAsync(cuda.HostPtr(host), dev+1, size, cuda.MemcpyDefault, s),
		cuda.ErrInvalidValue, "copy beyond the end of the allocation")

	require.NoError(t, sim.EventDestroy(start))
	require.NoError(t, sim.EventDestroy(stop))
	require.NoError(t, sim.StreamDestroy(s))
	require.NoError(t, sim.HostUnregister(host))
	require.NoError(t, sim.Free(dev))
	require.Equal(t, 0, sim.Live())
	require.Equal(t, 1, sim.Stats().Copies)
}

func TestSimulator2DCopy(t *testing.T) {
	sim := cuda.NewSimulator(cuda.WithDevices(2))
	ext := cuda.Extent{Width: 256, Height: 256, Depth: 4}

	require.NoError(t, sim.SetDevice(0))
	src, err := sim.Malloc3D(ext)
	require.NoError(t, err)
	require.NoError(t, sim.SetDevice(1))
	dst, err := sim.Malloc3D(ext)
	require.NoError(t, err)

	s, err := sim.StreamCreate()
	require.NoError(t, err)
	for z := int64(0); z < ext.Depth; z++ {
		off := cuda.Ptr(z * src.Pitch * src.YSize)
		require.NoError(t, sim.Memcpy2DAsync(dst.Ptr+off, dst.Pitch, src.Ptr+off, src.Pitch,
			ext.Width, ext.Height, cuda.MemcpyDefault, s))
	}
	require.Equal(t, 4, sim.Stats().Copies2D)
	require.Equal(t, ext.Bytes(), sim.Stats().BytesCopied)

	require.ErrorIs(t,
		sim.Memcpy2DAsync(dst.Ptr, 128, src.Ptr, src.Pitch, ext.Width, ext.Height, cuda.MemcpyDefault, s),
		cuda.ErrInvalidPitchValue)
}

func TestSimulatorFaults(t *testing.T) {
	sim := cuda.NewSimulator(cuda.WithFaults(
		cuda.Fault{Op: cuda.OpMalloc, Call: 2, Err: cuda.ErrMemoryAllocation},
		cuda.Fault{Op: cuda.OpEventCreate},
	))

	p, err := sim.Malloc(64)
	require.NoError(t, err)
	_, err = sim.Malloc(64)
	require.ErrorIs(t, err, cuda.ErrMemoryAllocation)
	_, err = sim.Malloc(64)
	require.NoError(t, err)
	require.Equal(t, 3, sim.Calls(cuda.OpMalloc))
	require.NoError(t, sim.Free(p))

	_, err = sim.EventCreate()
	require.ErrorIs(t, err, cuda.ErrUnknown)
	sim.ClearFaults()
	_, err = sim.EventCreate()
	require.NoError(t, err)

	sim.InjectFault(cuda.Fault{Op: cuda.OpDeviceCount, Err: cuda.ErrInsufficientDriver})
	_, err = sim.DeviceCount()
	require.ErrorIs(t, err, cuda.ErrInsufficientDriver)
}

func TestSimulatorNoDevices(t *testing.T) {
	sim := cuda.NewSimulator(cuda.WithDevices(0))
	n, err := sim.DeviceCount()
	require.ErrorIs(t, err, cuda.ErrNoDevice)
	require.Equal(t, 0, n)
}
