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

package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/containers/gpu-membench/pkg/utils/cpuset"
)

// to mock in tests
var (
	sysRoot = ""
)

const (
	// sysfs directory of PCI devices, relative to the sysfs root
	pciDevicesPath = "/sys/bus/pci/devices"
)

// Hint represents various hints that can be detected from sysfs for the device.
type Hint struct {
	Provider string
	CPUs     string
	NUMAs    string
	Sockets  string
}

// Hints represents set of hints collected from multiple providers.
type Hints map[string]Hint

// SetSysRoot sets the sysfs root directory to use.
func SetSysRoot(root string) {
	if root != "" {
		sysRoot = filepath.Clean(root)
		if sysRoot != "" && !filepath.IsAbs(sysRoot) {
			a, err := filepath.Abs(sysRoot)
			if err != nil {
				panic(fmt.Errorf("failed to resolve %q to absolute path: %v", sysRoot, err))
			}
			sysRoot = a
		}
		if sysRoot == "/" {
			sysRoot = ""
		}
	} else {
		sysRoot = ""
	}
}

func getTopologyHint(sysFSPath string) (*Hint, error) {
	log.Debug("getting topology hint for %s", sysFSPath)

	plainPath := sysFSPath
	if sysRoot != "" {
		relPath, err := filepath.Rel(sysRoot, plainPath)
		if err != nil {
			return nil, fmt.Errorf("internal error: %v", err)
		}
		plainPath = filepath.Join("/", relPath)
	}
	hint := Hint{Provider: plainPath}
	fileMap := map[string]*string{
		// match /sys/devices/pci0000:00/pci_bus/0000:00/cpulistaffinity
		"cpulistaffinity": &hint.CPUs,
		// match /sys/devices/pci0000:00/0000:00:01.0/local_cpulist
		"local_cpulist": &hint.CPUs,
		// match /sys/devices/pci0000:00/0000:00:01.0/numa_node
		"numa_node": &hint.NUMAs,
	}
	if err := readFilesInDirectory(fileMap, sysFSPath); err != nil {
		return nil, err
	}
	// non-NUMA aware device or system
	if hint.NUMAs == "-1" {
		hint.NUMAs = ""
	}
	if hint.NUMAs != "" && hint.CPUs == "" {
		// Broken hint, BIOS reports socket id as NUMA node. Try the parent
		// device or bus first.
		parentHints, er := NewTopologyHints(filepath.Dir(sysFSPath))
		if er == nil {
			cpulist := map[string]bool{}
			numalist := map[string]bool{}
			for _, h := range parentHints {
				if h.CPUs != "" {
					cpulist[h.CPUs] = true
				}
				if h.NUMAs != "" {
					numalist[h.NUMAs] = true
				}
			}
			if cpus := strings.Join(mapKeys(cpulist), ","); cpus != "" {
				hint.CPUs = cpus
			}
			if numas := strings.Join(mapKeys(numalist), ","); numas != "" {
				hint.NUMAs = numas
			}
		}
		if hint.CPUs == "" && hint.NUMAs != "" {
			hint.Sockets = hint.NUMAs
			hint.NUMAs = ""
		}
	}

	if hint.CPUs != "" || hint.NUMAs != "" || hint.Sockets != "" {
		log.Debug("  => %s", hint.String())
	}

	return &hint, nil
}

// NewTopologyHints returns the hints for the device at devPath, taken from
// the closest device in its sysfs hierarchy that has any.
func NewTopologyHints(devPath string) (hints Hints, err error) {
	hints = make(Hints)
	hostDevPath := devPath
	if !strings.HasPrefix(devPath, sysRoot+"/") {
		hostDevPath = filepath.Join(sysRoot, devPath)
	}
	realDevPath, err := filepath.EvalSymlinks(hostDevPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get realpath for %s: %w", hostDevPath, err)
	}
	for p := realDevPath; strings.HasPrefix(p, sysRoot+"/sys/devices/"); p = filepath.Dir(p) {
		hint, err := getTopologyHint(p)
		if err != nil {
			return nil, err
		}
		if hint.CPUs != "" || hint.NUMAs != "" || hint.Sockets != "" {
			hints[hint.Provider] = *hint
			break
		}
	}
	return hints, nil
}

// NewPCIDeviceHints returns the topology hints for a PCI device given its bus ID.
func NewPCIDeviceHints(busID string) (Hints, error) {
	return NewTopologyHints(filepath.Join(pciDevicesPath, busID))
}

// MergeTopologyHints combines org and hints.
func MergeTopologyHints(org, hints Hints) (res Hints) {
	if org != nil {
		res = org
	} else {
		res = make(Hints)
	}
	for k, v := range hints {
		if _, ok := res[k]; ok {
			continue
		}
		res[k] = v
	}
	return
}

// NUMANodes returns the sorted union of NUMA nodes in the hints.
func (hints Hints) NUMANodes() ([]int, error) {
	nodes := cpuset.New()
	for _, h := range hints {
		if h.NUMAs == "" {
			continue
		}
		ids, err := cpuset.Parse(h.NUMAs)
		if err != nil {
			return nil, fmt.Errorf("invalid NUMA hint %q from %s: %w", h.NUMAs, h.Provider, err)
		}
		nodes = nodes.Union(ids)
	}
	return nodes.List(), nil
}

// CPUs returns the union of CPUs in the hints.
func (hints Hints) CPUs() (cpuset.CPUSet, error) {
	cpus := cpuset.New()
	for _, h := range hints {
		if h.CPUs == "" {
			continue
		}
		ids, err := cpuset.Parse(h.CPUs)
		if err != nil {
			return cpuset.New(), fmt.Errorf("invalid CPU hint %q from %s: %w", h.CPUs, h.Provider, err)
		}
		cpus = cpus.Union(ids)
	}
	return cpus, nil
}

// String returns the hints as a string.
func (h *Hint) String() string {
	cpus, nodes, sockets, sep := "", "", "", ""

	if h.CPUs != "" {
		cpus = "CPUs:" + h.CPUs
		sep = ", "
	}
	if h.NUMAs != "" {
		nodes = sep + "NUMAs:" + h.NUMAs
		sep = ", "
	}
	if h.Sockets != "" {
		sockets = sep + "sockets:" + h.Sockets
	}

	return "<hints " + cpus + nodes + sockets + " (from " + h.Provider + ")>"
}

// readFilesInDirectory small helper to fill struct with content from sysfs entry.
func readFilesInDirectory(fileMap map[string]*string, dir string) error {
	for k, v := range fileMap {
		b, err := os.ReadFile(filepath.Join(dir, k))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("%s: unable to read file %q: %w", dir, k, err)
		}
		*v = strings.TrimSpace(string(b))
	}
	return nil
}

// mapKeys is a small helper that returns the sorted keys of a given map.
func mapKeys(m map[string]bool) []string {
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}
