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

package sysfs

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	idset "github.com/intel/goresctrl/pkg/utils"

	logger "github.com/containers/gpu-membench/pkg/log"
	"github.com/containers/gpu-membench/pkg/utils/cpuset"
)

var (
	// Parent directory under which host sysfs, etc. is mounted (if non-standard location).
	sysRoot = ""
	// Our logger instance.
	log = logger.NewLogger("sysfs")
)

const (
	// sysfs devices/cpu subdirectory path
	sysfsCPUPath = "devices/system/cpu"
	// sysfs device/node subdirectory path
	sysfsNumaNodePath = "devices/system/node"
	// sysfs PCI device subdirectory path
	sysfsPCIDevicePath = "bus/pci/devices"
)

// DiscoveryFlag controls what hardware details to discover.
type DiscoveryFlag uint

const (
	// DiscoverMemTopology requests discovering NUMA node details.
	DiscoverMemTopology DiscoveryFlag = 1 << iota
	// DiscoverCache requests discovering CPU cache details.
	DiscoverCache
	// DiscoverNone is the zero value for discovery flags.
	DiscoverNone DiscoveryFlag = 0
	// DiscoverAll requests full supported discovery.
	DiscoverAll DiscoveryFlag = 0xffffffff
	// DiscoverDefault is the default set of discovery flags.
	DiscoverDefault DiscoveryFlag = DiscoverAll
)

// MemoryType is an enum for the Node memory
type MemoryType int

const (
	// MemoryTypeDRAM means that the node has regular DRAM-type memory
	MemoryTypeDRAM MemoryType = iota
	// MemoryTypePMEM means that the node has persistent memory
	MemoryTypePMEM
	// MemoryTypeHBM means that the node has high bandwidth memory
	MemoryTypeHBM
	// MemoryTypeNone means that the node has no memory at all.
	MemoryTypeNone
)

// System describes the memory topology of the host.
type System interface {
	Discover(flags DiscoveryFlag) error
	Path() string
	NodeIDs() []idset.ID
	MemoryNodeIDs() []idset.ID
	NUMANodeCount() int
	Node(id idset.ID) Node
	NodeDistance(from, to idset.ID) int
	LastLevelCacheSize() uint64
	PCIDevicePath(busID string) string
}

type system struct {
	logger.Logger                     // our logger instance
	flags         DiscoveryFlag       // system discovery flags
	path          string              // sysfs mount point
	nodes         map[idset.ID]*node  // NUMA nodes
	memoryNodes   idset.IDSet         // nodes with any memory
	caches        map[cacheKey]*Cache // CPU caches, by level, type and id
	cacheLevels   int                 // deepest cache level seen
}

// Node represents a NUMA node.
type Node interface {
	ID() idset.ID
	CPUSet() cpuset.CPUSet
	Distance() []int
	DistanceFrom(id idset.ID) int
	MemoryInfo() (*MemInfo, error)
	GetMemoryType() MemoryType
	HasMemory() bool
	HasNormalMemory() bool
}

type node struct {
	path       string      // sysfs path
	id         idset.ID    // node id
	cpus       idset.IDSet // cpus in this node
	memoryType MemoryType  // node memory type
	memory     bool        // node has memory in any zone
	normalMem  bool        // node has memory in a normal (kernel space allocatable) zone
	distance   []int       // distance/cost to other NUMA nodes
}

// MemInfo contains data read from a NUMA node meminfo file.
type MemInfo struct {
	MemTotal uint64
	MemFree  uint64
	MemUsed  uint64
}

// CacheType specifies a cache type.
type CacheType int

const (
	DataCache        CacheType = iota // DataCache is a data only cache
	InstructionCache                  // InstructionCache is an instruction only cache.
	UnifiedCache                      // UnifiedCache is a unified data and instruction cache.
)

// Cache has details about a CPU cache.
type Cache struct {
	id    idset.ID    // cache id
	level int         // cache level
	kind  CacheType   // cache type
	size  uint64      // cache size
	cpus  idset.IDSet // CPUs sharing this cache
}

type cacheKey struct {
	level int
	kind  CacheType
	id    idset.ID
}

// SetSysRoot sets the sys root directory.
func SetSysRoot(path string) {
	sysRoot = path
}

// DiscoverSystem performs discovery of the running systems details.
func DiscoverSystem(args ...DiscoveryFlag) (System, error) {
	return DiscoverSystemAt(filepath.Join("/", sysRoot, "sys"), args...)
}

// DiscoverSystemAt performs discovery of the running systems details from sysfs mounted at path.
func DiscoverSystemAt(path string, args ...DiscoveryFlag) (System, error) {
	var flags DiscoveryFlag

	if len(args) < 1 {
		flags = DiscoverDefault
	} else {
		flags = DiscoverNone
		for _, flag := range args {
			flags |= flag
		}
	}

	sys := &system{
		Logger: log,
		path:   path,
	}

	if err := sys.Discover(flags); err != nil {
		return nil, err
	}

	return sys, nil
}

// Discover performs system/hardware discovery.
func (sys *system) Discover(flags DiscoveryFlag) error {
	sys.flags |= flags

	if (sys.flags & DiscoverMemTopology) != 0 {
		if err := sys.discoverNodes(); err != nil {
			return err
		}
	}
	if (sys.flags & DiscoverCache) != 0 {
		if err := sys.discoverCaches(); err != nil {
			return err
		}
	}

	if sys.DebugEnabled() {
		for _, id := range sys.NodeIDs() {
			n := sys.nodes[id]
			sys.Debug("node #%d:", id)
			sys.Debug("      cpus: %s", CPUSetFromIDSet(n.cpus))
			sys.Debug("  distance: %v", n.distance)
			sys.Debug("    memory: %v (normal: %v, type: %s)", n.memory, n.normalMem, n.memoryType)
		}
		sys.Debug("last level cache size: %d", sys.LastLevelCacheSize())
	}

	return nil
}

// Path returns the sysfs mount point used for discovery.
func (sys *system) Path() string {
	return sys.path
}

// NodeIDs gets the ids of all NUMA nodes present in the system.
func (sys *system) NodeIDs() []idset.ID {
	ids := make([]idset.ID, 0, len(sys.nodes))
	for id := range sys.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MemoryNodeIDs gets the ids of NUMA nodes with memory.
func (sys *system) MemoryNodeIDs() []idset.ID {
	if sys.memoryNodes == nil {
		return []idset.ID{}
	}
	return sys.memoryNodes.SortedMembers()
}

// NUMANodeCount returns the number of discovered NUMA nodes.
func (sys *system) NUMANodeCount() int {
	return len(sys.nodes)
}

// Node gets the node with a given node id.
func (sys *system) Node(id idset.ID) Node {
	n, ok := sys.nodes[id]
	if !ok {
		return nil
	}
	return n
}

// NodeDistance gets the distance between two NUMA nodes.
func (sys *system) NodeDistance(from, to idset.ID) int {
	n, ok := sys.nodes[from]
	if !ok {
		return -1
	}
	return n.DistanceFrom(to)
}

// LastLevelCacheSize returns the size of the largest last level cache.
func (sys *system) LastLevelCacheSize() uint64 {
	size := uint64(0)
	for key, c := range sys.caches {
		if key.level != sys.cacheLevels || c.kind == InstructionCache {
			continue
		}
		if c.size > size {
			size = c.size
		}
	}
	return size
}

// PCIDevicePath returns the sysfs path of a PCI device.
func (sys *system) PCIDevicePath(busID string) string {
	return filepath.Join(sys.path, sysfsPCIDevicePath, NormalizePCIBusID(busID))
}

// NormalizePCIBusID converts a PCI bus ID to the form used by sysfs.
func NormalizePCIBusID(busID string) string {
	id := strings.ToLower(strings.TrimSpace(busID))
	// Drivers report an 8 hex digit domain, sysfs uses 4.
	if dom, rest, ok := strings.Cut(id, ":"); ok && len(dom) == 8 && strings.HasPrefix(dom, "0000") {
		id = dom[4:] + ":" + rest
	}
	return id
}

// Discover NUMA nodes present in the system.
func (sys *system) discoverNodes() error {
	if sys.nodes != nil {
		return nil
	}

	sysNodesPath := filepath.Join(sys.path, sysfsNumaNodePath)
	sys.nodes = make(map[idset.ID]*node)
	entries, _ := filepath.Glob(filepath.Join(sysNodesPath, "node[0-9]*"))
	for _, entry := range entries {
		if err := sys.discoverNode(entry); err != nil {
			return fmt.Errorf("failed to discover node for entry %s: %v", entry, err)
		}
	}

	if len(sys.nodes) == 0 {
		sys.Warn("no NUMA nodes found in %s", sysNodesPath)
		sys.memoryNodes = idset.NewIDSet()
		return nil
	}

	normalMemNodes := cpuset.New()
	if ids, err := readSysfsEntry(sysNodesPath, "has_normal_memory", nil); err == nil {
		if normalMemNodes, err = cpuset.Parse(ids); err != nil {
			return fmt.Errorf("failed to parse nodes with normal memory (%q): %v", ids, err)
		}
	}

	memoryNodeIDs, err := readSysfsEntry(sysNodesPath, "has_memory", nil)
	if err != nil {
		return fmt.Errorf("failed to discover nodes with memory: %v", err)
	}
	memoryNodes, err := cpuset.Parse(memoryNodeIDs)
	if err != nil {
		return fmt.Errorf("failed to parse nodes with memory (%q): %v",
			memoryNodeIDs, err)
	}

	cpuNodesSlice := []int{}
	for id, node := range sys.nodes {
		if node.cpus.Size() > 0 {
			cpuNodesSlice = append(cpuNodesSlice, int(id))
		}
		node.normalMem = normalMemNodes.Contains(int(id))
		node.memory = memoryNodes.Contains(int(id))
	}
	cpuNodes := cpuset.New(cpuNodesSlice...)

	sys.Info("NUMA nodes with CPUs: %s", cpuNodes.String())
	sys.Info("NUMA nodes with (any) memory: %s", memoryNodes.String())
	sys.Info("NUMA nodes with normal memory: %s", normalMemNodes.String())

	sys.memoryNodes = IDSetFromCPUSet(memoryNodes)
	dramNodeIDs := IDSetFromCPUSet(memoryNodes.Intersection(cpuNodes))
	specialNodeIDs := IDSetFromCPUSet(memoryNodes.Difference(cpuNodes))

	dramAvg := uint64(0)
	infos := make(map[idset.ID]*MemInfo)
	if specialNodeIDs.Size() > 0 && dramNodeIDs.Size() > 0 {
		// CPU-less memory nodes are PMEM or HBM. Nodes smaller than the
		// average DRAM node are taken to be HBM.
		dramTotal := uint64(0)
		for id, node := range sys.nodes {
			if !node.memory {
				continue
			}
			info, err := node.MemoryInfo()
			if err != nil {
				return fmt.Errorf("failed to get memory info for node %d: %w", id, err)
			}
			infos[id] = info
			if _, ok := dramNodeIDs[id]; ok {
				dramTotal += info.MemTotal
			}
		}
		dramAvg = dramTotal / uint64(dramNodeIDs.Size())
	}

	for id, node := range sys.nodes {
		_, special := specialNodeIDs[id]
		switch {
		case !node.memory:
			node.memoryType = MemoryTypeNone
		case special:
			if info, ok := infos[id]; ok && info.MemTotal < dramAvg {
				node.memoryType = MemoryTypeHBM
			} else {
				node.memoryType = MemoryTypePMEM
			}
		default:
			node.memoryType = MemoryTypeDRAM
		}
		sys.Info("node %d has %s memory", id, node.memoryType)
	}

	return nil
}

// Discover details of the given NUMA node.
func (sys *system) discoverNode(path string) error {
	node := &node{path: path, id: getEnumeratedID(path)}

	if _, err := readSysfsEntry(path, "cpulist", &node.cpus, ","); err != nil {
		return err
	}
	if _, err := readSysfsEntry(path, "distance", &node.distance); err != nil {
		return err
	}

	sys.nodes[node.id] = node

	return nil
}

// Discover the CPU caches visible through any CPU.
func (sys *system) discoverCaches() error {
	if sys.caches != nil {
		return nil
	}

	sys.caches = make(map[cacheKey]*Cache)
	entries, _ := filepath.Glob(filepath.Join(sys.path, sysfsCPUPath, "cpu[0-9]*", "cache", "index[0-9]*"))
	for _, entry := range entries {
		if err := sys.discoverCache(entry); err != nil {
			return err
		}
	}

	return nil
}

// Discover a single cache index entry.
func (sys *system) discoverCache(path string) error {
	var id idset.ID

	if _, err := readSysfsEntry(path, "id", &id); err != nil {
		// Some architectures don't export cache ids, fall back to the index.
		id = getEnumeratedID(path)
	}

	c := &Cache{
		id: id,
	}

	if _, err := readSysfsEntry(path, "level", &c.level); err != nil {
		return sysfsError(path, "can't read cache level: %v", err)
	}
	if _, err := readSysfsEntry(path, "shared_cpu_list", &c.cpus, ","); err != nil {
		return sysfsError(path, "can't read shared CPUs: %v", err)
	}
	kind := ""
	if _, err := readSysfsEntry(path, "type", &kind); err != nil {
		return sysfsError(path, "can't read cache type: %v", err)
	}
	switch kind {
	case "Data":
		c.kind = DataCache
	case "Instruction":
		c.kind = InstructionCache
	case "Unified":
		c.kind = UnifiedCache
	default:
		return sysfsError(path, "unknown cache type: %s", kind)
	}

	size := ""
	if _, err := readSysfsEntry(path, "size", &size); err != nil {
		return sysfsError(path, "can't read cache size: %v", err)
	}
	val, err := parseCacheSize(size)
	if err != nil {
		return sysfsError(path, "%v", err)
	}
	c.size = val

	key := cacheKey{level: c.level, kind: c.kind, id: c.id}
	if _, ok := sys.caches[key]; !ok {
		sys.caches[key] = c
	}
	if c.level > sys.cacheLevels {
		sys.cacheLevels = c.level
	}

	return nil
}

func parseCacheSize(size string) (uint64, error) {
	if size == "" {
		return 0, fmt.Errorf("empty cache size")
	}

	base := size
	mult := uint64(1)
	switch size[len(size)-1] {
	case 'K':
		base, mult = size[:len(size)-1], 1<<10
	case 'M':
		base, mult = size[:len(size)-1], 1<<20
	case 'G':
		base, mult = size[:len(size)-1], 1<<30
	}

	val, err := strconv.ParseUint(base, 10, 0)
	if err != nil {
		return 0, fmt.Errorf("can't parse cache size '%s': %v", size, err)
	}

	return val * mult, nil
}

// ID returns id of this node.
func (n *node) ID() idset.ID {
	return n.id
}

// CPUSet returns the CPUSet for all cores/threads in this node.
func (n *node) CPUSet() cpuset.CPUSet {
	return CPUSetFromIDSet(n.cpus)
}

// Distance returns the distance vector for this node.
func (n *node) Distance() []int {
	return n.distance
}

// DistanceFrom returns the distance of this and a given node.
func (n *node) DistanceFrom(id idset.ID) int {
	if int(id) < len(n.distance) {
		return n.distance[int(id)]
	}

	return -1
}

// MemoryInfo memory info for the node (partial content from the meminfo sysfs entry).
func (n *node) MemoryInfo() (*MemInfo, error) {
	meminfo := filepath.Join(n.path, "meminfo")
	buf := &MemInfo{}
	err := ParseFileEntries(meminfo,
		map[string]interface{}{
			"MemTotal:": &buf.MemTotal,
			"MemFree:":  &buf.MemFree,
		},
		func(line string) (string, string, error) {
			fields := strings.Fields(strings.TrimSpace(line))
			if len(fields) < 4 {
				return "", "", sysfsError(meminfo, "failed to parse entry: '%s'", line)
			}
			key := fields[2]
			val := fields[3]
			if len(fields) == 5 {
				val += " " + fields[4]
			}
			return key, val, nil
		},
	)

	if err != nil {
		return nil, err
	}

	if buf.MemFree > buf.MemTotal {
		return nil, sysfsError(meminfo, "system reports more free than total memory")
	}

	buf.MemUsed = buf.MemTotal - buf.MemFree

	return buf, nil
}

// GetMemoryType returns the memory type for this node.
func (n *node) GetMemoryType() MemoryType {
	return n.memoryType
}

// HasMemory returns true if the node has any memory attached.
func (n *node) HasMemory() bool {
	return n.memory
}

// HasNormalMemory returns true if the node has memory that belongs to a normal zone.
func (n *node) HasNormalMemory() bool {
	return n.normalMem
}

// ID returns the id of this cache.
func (c *Cache) ID() idset.ID {
	if c == nil {
		return -1
	}
	return c.id
}

// Level returns the level of this cache.
func (c *Cache) Level() int {
	if c == nil {
		return 0
	}
	return c.level
}

// Type returns the type of this cache.
func (c *Cache) Type() CacheType {
	return c.kind
}

// Size returns the size of this cache in bytes.
func (c *Cache) Size() uint64 {
	if c == nil {
		return 0
	}
	return c.size
}

// SharedCPUSet returns the CPUs sharing this cache.
func (c *Cache) SharedCPUSet() cpuset.CPUSet {
	if c == nil {
		return cpuset.New()
	}
	return CPUSetFromIDSet(c.cpus)
}

func (t CacheType) String() string {
	switch t {
	case DataCache:
		return "Data"
	case InstructionCache:
		return "Instruction"
	case UnifiedCache:
		return "Unified"
	}
	return ""
}

func (t MemoryType) String() string {
	switch t {
	case MemoryTypeDRAM:
		return "DRAM"
	case MemoryTypePMEM:
		return "PMEM"
	case MemoryTypeHBM:
		return "HBM"
	case MemoryTypeNone:
		return "no"
	}
	return fmt.Sprintf("<unknown memory type %d>", int(t))
}
