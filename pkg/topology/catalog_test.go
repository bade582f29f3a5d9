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

package topology_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/containers/gpu-membench/pkg/cuda"
	"github.com/containers/gpu-membench/pkg/sysfs"
	"github.com/containers/gpu-membench/pkg/topology"
	"github.com/containers/gpu-membench/pkg/utils/cpuset"
)

// mkSysfs creates a sysfs tree with the given files and symlinks below a
// fresh temporary directory, returning the resolved root directory.
func mkSysfs(t *testing.T, files map[string]string, links map[string]string) string {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content+"\n"), 0o644))
	}
	for name, target := range links {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.Symlink(target, path))
	}

	return root
}

func twoNodeSystem(t *testing.T) sysfs.System {
	root := mkSysfs(t, map[string]string{
		"sys/devices/system/node/has_memory":     "0-1",
		"sys/devices/system/node/node0/cpulist":  "0-3",
		"sys/devices/system/node/node0/distance": "10 21",
		"sys/devices/system/node/node1/cpulist":  "4-7",
		"sys/devices/system/node/node1/distance": "21 10",
	}, nil)
	sys, err := sysfs.DiscoverSystemAt(filepath.Join(root, "sys"), sysfs.DiscoverMemTopology)
	require.NoError(t, err)
	return sys
}

func TestCatalogDevicesAndNodes(t *testing.T) {
	sys := twoNodeSystem(t)

	type testCase struct {
		name    string
		devices int
		options []topology.Option
		expDevs []topology.DeviceID
		expNods []topology.NodeID
		err     error
	}
	for _, tc := range []*testCase{
		{
			name:    "everything",
			devices: 3,
			options: []topology.Option{topology.WithSystem(sys)},
			expDevs: []topology.DeviceID{0, 1, 2},
			expNods: []topology.NodeID{0, 1},
		},
		{
			name:    "restricted, unknown ids dropped",
			devices: 3,
			options: []topology.Option{
				topology.WithSystem(sys),
				topology.WithDevices(2, 0, 7),
				topology.WithNodes(cpuset.MustParse("1,5")),
			},
			expDevs: []topology.DeviceID{0, 2},
			expNods: []topology.NodeID{1},
		},
		{
			name:    "no devices",
			devices: 0,
			options: []topology.Option{topology.WithSystem(sys)},
			err:     topology.ErrNoDevices,
		},
		{
			name:    "only unknown devices",
			devices: 2,
			options: []topology.Option{topology.WithSystem(sys), topology.WithDevices(4)},
			err:     topology.ErrNoDevices,
		},
		{
			name:    "only unknown nodes",
			devices: 2,
			options: []topology.Option{topology.WithSystem(sys), topology.WithNodes(cpuset.New(3))},
			err:     topology.ErrNoNodes,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sim := cuda.NewSimulator(cuda.WithDevices(tc.devices))
			cat, err := topology.New(sim, tc.options...)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				require.Nil(t, cat)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expDevs, cat.Devices())
			require.Equal(t, tc.expNods, cat.Nodes())
		})
	}
}

func TestCatalogDeviceCountFailure(t *testing.T) {
	sim := cuda.NewSimulator(cuda.WithFaults(cuda.Fault{Op: cuda.OpDeviceCount, Err: cuda.ErrInsufficientDriver}))
	_, err := topology.New(sim, topology.WithSystem(twoNodeSystem(t)))
	require.ErrorIs(t, err, topology.ErrNoDevices)
	require.ErrorIs(t, err, topology.ErrDriverQuery)
	require.ErrorIs(t, err, cuda.ErrInsufficientDriver)
}

func TestLegalDevicePairs(t *testing.T) {
	type testCase struct {
		name   string
		matrix [][]bool
		fault  *cuda.Fault
		pairs  []topology.DevicePair
	}
	for _, tc := range []*testCase{
		{
			name: "full mutual access",
			matrix: [][]bool{
				{false, true, true},
				{true, false, true},
				{true, true, false},
			},
			pairs: []topology.DevicePair{
				{A: 0, B: 0}, {A: 0, B: 1}, {A: 0, B: 2},
				{A: 1, B: 1}, {A: 1, B: 2},
				{A: 2, B: 2},
			},
		},
		{
			name: "asymmetric access is not legal",
			matrix: [][]bool{
				{false, true, false},
				{false, false, true},
				{false, true, false},
			},
			pairs: []topology.DevicePair{
				{A: 0, B: 0},
				{A: 1, B: 1}, {A: 1, B: 2},
				{A: 2, B: 2},
			},
		},
		{
			name: "no peer access",
			pairs: []topology.DevicePair{
				{A: 0, B: 0}, {A: 1, B: 1}, {A: 2, B: 2},
			},
		},
		{
			name: "failing query means no access",
			matrix: [][]bool{
				{false, true, true},
				{true, false, true},
				{true, true, false},
			},
			fault: &cuda.Fault{Op: cuda.OpCanAccessPeer, Err: cuda.ErrUnknown},
			pairs: []topology.DevicePair{
				{A: 0, B: 0}, {A: 1, B: 1}, {A: 2, B: 2},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sim := cuda.NewSimulator(cuda.WithDevices(3), cuda.WithPeerMatrix(tc.matrix))
			if tc.fault != nil {
				sim.InjectFault(*tc.fault)
			}
			cat, err := topology.New(sim, topology.WithSystem(twoNodeSystem(t)))
			require.NoError(t, err)
			require.Equal(t, tc.pairs, cat.LegalDevicePairs())
			for _, dev := range cat.Devices() {
				require.True(t, cat.CanAccessPeer(dev, dev))
			}
		})
	}
}

func TestEnablePeerAccess(t *testing.T) {
	sim := cuda.NewSimulator(cuda.WithDevices(3), cuda.WithPeerMatrix([][]bool{
		{false, true, false},
		{true, false, false},
		{true, false, false},
	}))
	cat, err := topology.New(sim, topology.WithSystem(twoNodeSystem(t)))
	require.NoError(t, err)

	require.NoError(t, cat.EnablePeerPair(0, 1))
	require.NoError(t, cat.EnablePeerPair(1, 0))
	require.NoError(t, cat.EnablePeerAccess(0, 1))
	require.Equal(t, 2, sim.Calls(cuda.OpEnablePeerAccess), "enablement is memoized")
	require.True(t, sim.PeerEnabled(0, 1))
	require.True(t, sim.PeerEnabled(1, 0))
	require.True(t, cat.PeerAccessEnabled(1, 0))

	cur, err := sim.GetDevice()
	require.NoError(t, err)
	require.Equal(t, 0, cur, "current device is restored")

	require.NoError(t, cat.EnablePeerAccess(2, 2))
	require.NoError(t, cat.EnablePeerAccess(2, 0))
	require.ErrorIs(t, cat.EnablePeerAccess(0, 2), topology.ErrPeerUnsupported)
	require.ErrorIs(t, cat.EnablePeerPair(2, 0), topology.ErrPeerUnsupported)
}

func TestEnablePeerAccessAlreadyEnabled(t *testing.T) {
	sim := cuda.NewSimulator(cuda.WithDevices(2))
	cat, err := topology.New(sim, topology.WithSystem(twoNodeSystem(t)))
	require.NoError(t, err)

	// enabled behind the catalog's back
	require.NoError(t, sim.SetDevice(1))
	require.NoError(t, sim.EnablePeerAccess(0))
	require.NoError(t, sim.SetDevice(0))

	require.NoError(t, cat.EnablePeerPair(0, 1))
	require.True(t, cat.PeerAccessEnabled(1, 0))
}

func TestEnablePeerAccessFailure(t *testing.T) {
	sim := cuda.NewSimulator(cuda.WithDevices(2))
	cat, err := topology.New(sim, topology.WithSystem(twoNodeSystem(t)))
	require.NoError(t, err)

	sim.InjectFault(cuda.Fault{Op: cuda.OpEnablePeerAccess, Call: 1, Err: cuda.ErrLaunchFailure})
	require.ErrorIs(t, cat.EnablePeerAccess(0, 1), cuda.ErrLaunchFailure)
	require.False(t, cat.PeerAccessEnabled(0, 1))

	require.NoError(t, cat.EnablePeerAccess(0, 1), "failures are not memoized")
	require.True(t, cat.PeerAccessEnabled(0, 1))
}

func TestResetDeviceForgetsPeerAccess(t *testing.T) {
	sim := cuda.NewSimulator(cuda.WithDevices(2))
	cat, err := topology.New(sim, topology.WithSystem(twoNodeSystem(t)))
	require.NoError(t, err)

	require.NoError(t, cat.EnablePeerPair(0, 1))
	require.NoError(t, cat.ResetDevice(1))
	require.False(t, cat.PeerAccessEnabled(0, 1))
	require.False(t, cat.PeerAccessEnabled(1, 0))
	require.False(t, sim.PeerEnabled(1, 0))

	require.NoError(t, cat.EnablePeerPair(0, 1))
	require.True(t, sim.PeerEnabled(1, 0))
	require.Equal(t, 1, sim.Stats().DeviceResets)
}

func TestLastLevelCacheSize(t *testing.T) {
	root := mkSysfs(t, map[string]string{
		"sys/devices/system/node/has_memory":                       "0",
		"sys/devices/system/node/node0/cpulist":                    "0-1",
		"sys/devices/system/node/node0/distance":                   "10",
		"sys/devices/system/cpu/cpu0/cache/index0/level":           "1",
		"sys/devices/system/cpu/cpu0/cache/index0/type":            "Data",
		"sys/devices/system/cpu/cpu0/cache/index0/size":            "48K",
		"sys/devices/system/cpu/cpu0/cache/index0/shared_cpu_list": "0",
		"sys/devices/system/cpu/cpu0/cache/index1/level":           "3",
		"sys/devices/system/cpu/cpu0/cache/index1/type":            "Unified",
		"sys/devices/system/cpu/cpu0/cache/index1/size":            "32M",
		"sys/devices/system/cpu/cpu0/cache/index1/shared_cpu_list": "0-1",
	}, nil)
	sys, err := sysfs.DiscoverSystemAt(filepath.Join(root, "sys"),
		sysfs.DiscoverMemTopology|sysfs.DiscoverCache)
	require.NoError(t, err)

	cat, err := topology.New(cuda.NewSimulator(cuda.WithDevices(1)), topology.WithSystem(sys))
	require.NoError(t, err)
	require.Equal(t, uint64(32<<20), cat.LastLevelCacheSize())

	cat, err = topology.New(cuda.NewSimulator(cuda.WithDevices(1)), topology.WithSystem(twoNodeSystem(t)))
	require.NoError(t, err)
	require.Equal(t, uint64(0), cat.LastLevelCacheSize())
}

func TestDeviceLocality(t *testing.T) {
	root := mkSysfs(t,
		map[string]string{
			"sys/devices/pci0000:17/0000:17:00.0/0000:18:00.0/numa_node":     "1",
			"sys/devices/pci0000:17/0000:17:00.0/0000:18:00.0/local_cpulist": "4-7",
			"sys/devices/pci0000:17/0000:17:00.0/0000:19:00.0/numa_node":     "-1",
			"sys/devices/pci0000:17/0000:17:00.0/local_cpulist":              "0-7",
			"sys/devices/pci0000:17/0000:17:00.0/numa_node":                  "0",
		},
		map[string]string{
			"sys/bus/pci/devices/0000:18:00.0": "../../../devices/pci0000:17/0000:17:00.0/0000:18:00.0",
			"sys/bus/pci/devices/0000:19:00.0": "../../../devices/pci0000:17/0000:17:00.0/0000:19:00.0",
		},
	)
	topology.SetSysRoot(root)
	defer topology.SetSysRoot("")

	sim := cuda.NewSimulator(cuda.WithDevices(3))
	cat, err := topology.New(sim, topology.WithSystem(twoNodeSystem(t)))
	require.NoError(t, err)

	nodes, err := cat.DeviceLocality(0)
	require.NoError(t, err)
	require.Equal(t, []topology.NodeID{1}, nodes)

	// no NUMA hint on the device itself, taken from the parent bridge
	nodes, err = cat.DeviceLocality(1)
	require.NoError(t, err)
	require.Equal(t, []topology.NodeID{0}, nodes)

	_, err = cat.DeviceLocality(2)
	require.Error(t, err)

	cat.LogTopology()
}
