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

// Package topology enumerates the GPUs and NUMA nodes of the host, the
// peer access relation between GPUs, and manages peer access enablement.
package topology

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/containers/gpu-membench/pkg/cuda"
	logger "github.com/containers/gpu-membench/pkg/log"
	"github.com/containers/gpu-membench/pkg/sysfs"
	"github.com/containers/gpu-membench/pkg/utils/cpuset"
)

var (
	log = logger.Get("topology")
)

var (
	// ErrDriverQuery is returned when a topology query to the driver fails.
	ErrDriverQuery = errors.New("topology: driver query failed")
	// ErrNoDevices is returned when no usable GPU device is found.
	ErrNoDevices = errors.New("topology: no usable GPU devices")
	// ErrNoNodes is returned when no usable NUMA node is found.
	ErrNoNodes = errors.New("topology: no usable NUMA nodes")
	// ErrPeerUnsupported is returned for peer access between incapable devices.
	ErrPeerUnsupported = errors.New("topology: peer access not supported")
)

// DeviceID identifies a GPU.
type DeviceID int

// NodeID identifies a NUMA node.
type NodeID int

// DevicePair is a pair of devices. For legal pairs A <= B.
type DevicePair struct {
	A DeviceID
	B DeviceID
}

// Option is an option for the catalog.
type Option func(*Catalog) error

// WithDevices restricts the catalog to the given devices.
func WithDevices(ids ...int) Option {
	return func(c *Catalog) error {
		c.allowedDevices = cpuset.New(ids...)
		return nil
	}
}

// WithNodes restricts the catalog to the given NUMA nodes.
func WithNodes(nodes cpuset.CPUSet) Option {
	return func(c *Catalog) error {
		c.allowedNodes = nodes
		return nil
	}
}

// WithSystem sets the discovered system used for NUMA nodes.
func WithSystem(sys sysfs.System) Option {
	return func(c *Catalog) error {
		c.sys = sys
		return nil
	}
}

// Catalog is the enumerated GPU and NUMA topology of the host.
type Catalog struct {
	sync.Mutex
	rt             cuda.Runtime
	sys            sysfs.System
	allowedDevices cpuset.CPUSet
	allowedNodes   cpuset.CPUSet
	devices        []DeviceID
	nodes          []NodeID
	enabled        map[DevicePair]bool
}

// New creates a catalog of the topology visible through the given runtime.
func New(rt cuda.Runtime, options ...Option) (*Catalog, error) {
	c := &Catalog{
		rt:             rt,
		allowedDevices: cpuset.New(),
		allowedNodes:   cpuset.New(),
		enabled:        make(map[DevicePair]bool),
	}

	for _, o := range options {
		if err := o(c); err != nil {
			return nil, err
		}
	}

	if err := c.discoverDevices(); err != nil {
		return nil, err
	}
	if err := c.discoverNodes(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Catalog) discoverDevices() error {
	count, err := c.rt.DeviceCount()
	if err != nil {
		return fmt.Errorf("%w: %w: failed to get device count: %w", ErrNoDevices, ErrDriverQuery, err)
	}
	if count == 0 {
		return ErrNoDevices
	}

	all := make([]int, count)
	for i := range all {
		all[i] = i
	}

	kept, dropped := cpuset.Restrict(all, c.allowedDevices)
	if len(dropped) > 0 {
		log.Warn("ignoring unknown devices %v (found %d devices)", dropped, count)
	}
	if len(kept) == 0 {
		return fmt.Errorf("%w: none of the requested devices %s exist",
			ErrNoDevices, c.allowedDevices)
	}

	for _, id := range kept {
		c.devices = append(c.devices, DeviceID(id))
	}

	return nil
}

func (c *Catalog) discoverNodes() error {
	all := []int{}

	if c.sys == nil {
		sys, err := sysfs.DiscoverSystem(sysfs.DiscoverMemTopology | sysfs.DiscoverCache)
		if err != nil {
			log.Warn("failed to discover NUMA topology: %v", err)
		} else {
			c.sys = sys
		}
	}
	if c.sys != nil {
		for _, id := range c.sys.MemoryNodeIDs() {
			all = append(all, int(id))
		}
	}
	if len(all) == 0 {
		log.Warn("no NUMA nodes with memory found, assuming a single node 0")
		all = []int{0}
	}

	kept, dropped := cpuset.Restrict(all, c.allowedNodes)
	if len(dropped) > 0 {
		log.Warn("ignoring unknown NUMA nodes %v", dropped)
	}
	if len(kept) == 0 {
		return fmt.Errorf("%w: none of the requested nodes %s exist", ErrNoNodes, c.allowedNodes)
	}

	for _, id := range kept {
		c.nodes = append(c.nodes, NodeID(id))
	}

	return nil
}

// LastLevelCacheSize returns the size of the host last level cache, or 0
// if it is unknown.
func (c *Catalog) LastLevelCacheSize() uint64 {
	if c.sys == nil {
		return 0
	}
	return c.sys.LastLevelCacheSize()
}

// Runtime returns the GPU runtime of the catalog.
func (c *Catalog) Runtime() cuda.Runtime {
	return c.rt
}

// Devices returns the usable GPUs in ascending order.
func (c *Catalog) Devices() []DeviceID {
	return append([]DeviceID{}, c.devices...)
}

// Nodes returns the usable NUMA nodes in ascending order.
func (c *Catalog) Nodes() []NodeID {
	return append([]NodeID{}, c.nodes...)
}

// HasDevice returns true if the device is part of the catalog.
func (c *Catalog) HasDevice(id DeviceID) bool {
	for _, d := range c.devices {
		if d == id {
			return true
		}
	}
	return false
}

// CanAccessPeer tells if device a can directly access memory of device b.
// A device can always access itself. Failing driver queries are logged
// and treated as no access.
func (c *Catalog) CanAccessPeer(a, b DeviceID) bool {
	if a == b {
		return true
	}
	can, err := c.rt.CanAccessPeer(int(a), int(b))
	if err != nil {
		log.Warn("%v: peer access query %d -> %d: %v", ErrDriverQuery, a, b, err)
		return false
	}
	return can
}

// LegalDevicePairs returns all device pairs (i, j), i <= j, usable for
// GPU to GPU transfers: self pairs, and pairs with mutual peer access.
func (c *Catalog) LegalDevicePairs() []DevicePair {
	pairs := []DevicePair{}
	for i, a := range c.devices {
		for _, b := range c.devices[i:] {
			if a == b || (c.CanAccessPeer(a, b) && c.CanAccessPeer(b, a)) {
				pairs = append(pairs, DevicePair{A: a, B: b})
			} else {
				log.Debug("device pair %d, %d lacks mutual peer access", a, b)
			}
		}
	}
	return pairs
}

// PeerMatrix returns the peer access relation indexed by catalog order.
func (c *Catalog) PeerMatrix() [][]bool {
	m := make([][]bool, len(c.devices))
	for i, a := range c.devices {
		m[i] = make([]bool, len(c.devices))
		for j, b := range c.devices {
			m[i][j] = c.CanAccessPeer(a, b)
		}
	}
	return m
}

// EnablePeerAccess enables access from device a to memory of device b.
// Enablement happens once per ordered pair. A device already having
// access is not an error.
func (c *Catalog) EnablePeerAccess(a, b DeviceID) error {
	if a == b {
		return nil
	}

	c.Lock()
	defer c.Unlock()

	key := DevicePair{A: a, B: b}
	if c.enabled[key] {
		return nil
	}

	if !c.CanAccessPeer(a, b) {
		return fmt.Errorf("%w: %d -> %d", ErrPeerUnsupported, a, b)
	}

	err := cuda.OnDevice(c.rt, int(a), func() error {
		return c.rt.EnablePeerAccess(int(b))
	})
	if err != nil && !errors.Is(err, cuda.ErrPeerAccessAlreadyEnabled) {
		return fmt.Errorf("topology: failed to enable peer access %d -> %d: %w", a, b, err)
	}

	log.Debug("enabled peer access %d -> %d", a, b)
	c.enabled[key] = true

	return nil
}

// EnablePeerPair enables peer access between a and b in both directions.
func (c *Catalog) EnablePeerPair(a, b DeviceID) error {
	if err := c.EnablePeerAccess(a, b); err != nil {
		return err
	}
	return c.EnablePeerAccess(b, a)
}

// PeerAccessEnabled tells if access from a to b has been enabled.
func (c *Catalog) PeerAccessEnabled(a, b DeviceID) bool {
	if a == b {
		return true
	}
	c.Lock()
	defer c.Unlock()
	return c.enabled[DevicePair{A: a, B: b}]
}

// ResetDevice resets a device. Peer access to and from the device needs
// to be enabled again afterwards.
func (c *Catalog) ResetDevice(dev DeviceID) error {
	c.Lock()
	defer c.Unlock()

	err := cuda.OnDevice(c.rt, int(dev), c.rt.DeviceReset)
	for key := range c.enabled {
		if key.A == dev || key.B == dev {
			delete(c.enabled, key)
		}
	}
	if err != nil {
		return fmt.Errorf("topology: failed to reset device %d: %w", dev, err)
	}
	return nil
}

// DeviceName returns the name of a device, or a placeholder if it is unknown.
func (c *Catalog) DeviceName(dev DeviceID) string {
	name, err := c.rt.DeviceName(int(dev))
	if err != nil {
		log.Warn("%v: name of device %d: %v", ErrDriverQuery, dev, err)
		return "<unknown>"
	}
	return name
}

// DeviceLocality returns the NUMA nodes local to a device.
func (c *Catalog) DeviceLocality(dev DeviceID) ([]NodeID, error) {
	busID, err := c.rt.DevicePCIBusID(int(dev))
	if err != nil {
		return nil, fmt.Errorf("%w: PCI bus ID of device %d: %w", ErrDriverQuery, dev, err)
	}

	hints, err := NewPCIDeviceHints(sysfs.NormalizePCIBusID(busID))
	if err != nil {
		return nil, fmt.Errorf("topology: failed to get hints for device %d (%s): %w",
			dev, busID, err)
	}

	ids, err := hints.NUMANodes()
	if err != nil {
		return nil, err
	}

	nodes := make([]NodeID, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, NodeID(id))
	}
	return nodes, nil
}

// LogTopology logs the discovered topology.
func (c *Catalog) LogTopology() {
	log.Info("GPU devices: %s", joinIDs(c.devices))
	log.Info("NUMA nodes: %s", joinIDs(c.nodes))
	for _, dev := range c.devices {
		local := "unknown"
		if nodes, err := c.DeviceLocality(dev); err != nil {
			log.Debug("%v", err)
		} else if len(nodes) > 0 {
			local = joinIDs(nodes)
		}
		log.Info("  device #%d: %s, local NUMA nodes: %s", dev, c.DeviceName(dev), local)
	}
	for _, p := range c.LegalDevicePairs() {
		if p.A != p.B {
			log.Info("  peer access: %d <-> %d", p.A, p.B)
		}
	}
}

func joinIDs[T ~int](ids []T) string {
	sorted := append([]T{}, ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	str := make([]string, 0, len(sorted))
	for _, id := range sorted {
		str = append(str, strconv.Itoa(int(id)))
	}
	return strings.Join(str, ",")
}

func (p DevicePair) String() string {
	return fmt.Sprintf("%d/%d", p.A, p.B)
}
