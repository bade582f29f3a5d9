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

package sysfs_test

import (
	"os"
	"path/filepath"

	idset "github.com/intel/goresctrl/pkg/utils"

	"github.com/containers/gpu-membench/pkg/sysfs"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type (
	ID     = idset.ID
	System = sysfs.System
)

const (
	K = uint64(1024)
	M = 1024 * K
)

var (
	sampleSysfs = map[string]System{}
)

// sample files, relative to the sysfs root
var samples = map[string]map[string]string{
	// two sockets with DRAM, one CPU-less HBM node, one memoryless node
	"twosocket": {
		"devices/system/node/has_memory":        "0-2",
		"devices/system/node/has_normal_memory": "0-1",
		"devices/system/node/node0/cpulist":     "0-3",
		"devices/system/node/node0/distance":    "10 21 13 21",
		"devices/system/node/node0/meminfo": "Node 0 MemTotal:       32768000 kB\n" +
			"Node 0 MemFree:        16384000 kB\n",
		"devices/system/node/node1/cpulist":  "4-7",
		"devices/system/node/node1/distance": "21 10 21 13",
		"devices/system/node/node1/meminfo": "Node 1 MemTotal:       32768000 kB\n" +
			"Node 1 MemFree:        30000000 kB\n",
		"devices/system/node/node2/cpulist":  "",
		"devices/system/node/node2/distance": "13 21 10 28",
		"devices/system/node/node2/meminfo": "Node 2 MemTotal:        8192000 kB\n" +
			"Node 2 MemFree:         8192000 kB\n",
		"devices/system/node/node3/cpulist":                     "",
		"devices/system/node/node3/distance":                    "21 13 28 10",
		"devices/system/cpu/cpu0/cache/index0/level":            "1",
		"devices/system/cpu/cpu0/cache/index0/id":               "0",
		"devices/system/cpu/cpu0/cache/index0/type":             "Data",
		"devices/system/cpu/cpu0/cache/index0/size":             "48K",
		"devices/system/cpu/cpu0/cache/index0/shared_cpu_list":  "0",
		"devices/system/cpu/cpu0/cache/index3/level":            "3",
		"devices/system/cpu/cpu0/cache/index3/id":               "0",
		"devices/system/cpu/cpu0/cache/index3/type":             "Unified",
		"devices/system/cpu/cpu0/cache/index3/size":             "30720K",
		"devices/system/cpu/cpu0/cache/index3/shared_cpu_list":  "0-3",
		"devices/system/cpu/cpu4/cache/index3/level":            "3",
		"devices/system/cpu/cpu4/cache/index3/id":               "1",
		"devices/system/cpu/cpu4/cache/index3/type":             "Unified",
		"devices/system/cpu/cpu4/cache/index3/size":             "32M",
		"devices/system/cpu/cpu4/cache/index3/shared_cpu_list":  "4-7",
		"bus/pci/devices/0000:3b:00.0/numa_node":                "1",
		"bus/pci/devices/0000:3b:00.0/local_cpulist":            "4-7",
	},
	// a single node laptop-like system without cache ids
	"single": {
		"devices/system/node/has_memory":                       "0",
		"devices/system/node/node0/cpulist":                    "0-1",
		"devices/system/node/node0/distance":                   "10",
		"devices/system/cpu/cpu0/cache/index2/level":           "2",
		"devices/system/cpu/cpu0/cache/index2/type":            "Unified",
		"devices/system/cpu/cpu0/cache/index2/size":            "2048K",
		"devices/system/cpu/cpu0/cache/index2/shared_cpu_list": "0-1",
	},
}

func writeSample(root string, files map[string]string) {
	for name, content := range files {
		path := filepath.Join(root, name)
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content+"\n"), 0o644)).To(Succeed())
	}
}

var _ = BeforeSuite(func() {
	tmp, err := os.MkdirTemp("", "sysfs-test-")
	Expect(err).To(BeNil())
	DeferCleanup(os.RemoveAll, tmp)

	for name, files := range samples {
		root := filepath.Join(tmp, name, "sys")
		writeSample(root, files)
		sys, err := sysfs.DiscoverSystemAt(root)
		Expect(err).To(BeNil())
		Expect(sys).ToNot(BeNil())
		sampleSysfs[name] = sys
	}
})

var _ = DescribeTable("NUMA node discovery",
	func(sample string, nodes, memNodes []ID) {
		sys := sampleSysfs[sample]
		Expect(sys).ToNot(BeNil())
		Expect(sys.NodeIDs()).To(Equal(nodes))
		Expect(sys.MemoryNodeIDs()).To(Equal(memNodes))
		Expect(sys.NUMANodeCount()).To(Equal(len(nodes)))
	},
	Entry("two sockets", "twosocket", []ID{0, 1, 2, 3}, []ID{0, 1, 2}),
	Entry("single node", "single", []ID{0}, []ID{0}),
)

var _ = DescribeTable("node details",
	func(sample string, id ID, cpus string, memType sysfs.MemoryType, normal bool) {
		sys := sampleSysfs[sample]
		n := sys.Node(id)
		Expect(n).ToNot(BeNil())
		Expect(n.ID()).To(Equal(id))
		Expect(n.CPUSet().String()).To(Equal(cpus))
		Expect(n.GetMemoryType()).To(Equal(memType))
		Expect(n.HasNormalMemory()).To(Equal(normal))
	},
	Entry("node0 is DRAM", "twosocket", ID(0), "0-3", sysfs.MemoryTypeDRAM, true),
	Entry("node1 is DRAM", "twosocket", ID(1), "4-7", sysfs.MemoryTypeDRAM, true),
	Entry("node2 is HBM", "twosocket", ID(2), "", sysfs.MemoryTypeHBM, false),
	Entry("node3 has no memory", "twosocket", ID(3), "", sysfs.MemoryTypeNone, false),
	Entry("single node", "single", ID(0), "0-1", sysfs.MemoryTypeDRAM, false),
)

var _ = Describe("node distances", func() {
	It("reports distances between nodes", func() {
		sys := sampleSysfs["twosocket"]
		Expect(sys.NodeDistance(0, 0)).To(Equal(10))
		Expect(sys.NodeDistance(0, 2)).To(Equal(13))
		Expect(sys.NodeDistance(1, 3)).To(Equal(13))
		Expect(sys.NodeDistance(0, 7)).To(Equal(-1))
		Expect(sys.NodeDistance(9, 0)).To(Equal(-1))
	})
})

var _ = Describe("node memory info", func() {
	It("parses meminfo", func() {
		info, err := sampleSysfs["twosocket"].Node(0).MemoryInfo()
		Expect(err).To(BeNil())
		Expect(info.MemTotal).To(Equal(32768000 * K))
		Expect(info.MemFree).To(Equal(16384000 * K))
		Expect(info.MemUsed).To(Equal(16384000 * K))
	})
	It("fails without meminfo", func() {
		_, err := sampleSysfs["twosocket"].Node(3).MemoryInfo()
		Expect(err).ToNot(BeNil())
	})
})

var _ = DescribeTable("last level cache",
	func(sample string, size uint64) {
		Expect(sampleSysfs[sample].LastLevelCacheSize()).To(Equal(size))
	},
	Entry("largest L3 wins", "twosocket", 32*M),
	Entry("L2 as last level", "single", 2*M),
)

var _ = DescribeTable("PCI bus ID normalization",
	func(busID, expected string) {
		Expect(sysfs.NormalizePCIBusID(busID)).To(Equal(expected))
	},
	Entry("driver form", "00000000:3B:00.0", "0000:3b:00.0"),
	Entry("sysfs form", "0000:3b:00.0", "0000:3b:00.0"),
	Entry("surrounding space", " 0000:AF:00.0\n", "0000:af:00.0"),
)

var _ = Describe("PCI device path", func() {
	It("points below the sysfs root", func() {
		sys := sampleSysfs["twosocket"]
		path := sys.PCIDevicePath("00000000:3B:00.0")
		Expect(path).To(Equal(filepath.Join(sys.Path(), "bus/pci/devices/0000:3b:00.0")))
		_, err := os.Stat(filepath.Join(path, "numa_node"))
		Expect(err).To(BeNil())
	})
})
