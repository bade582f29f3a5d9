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

package cuda

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Op identifies a simulated runtime call for fault injection.
type Op string

const (
	OpDeviceCount      Op = "DeviceCount"
	OpGetDevice        Op = "GetDevice"
	OpSetDevice        Op = "SetDevice"
	OpDeviceReset      Op = "DeviceReset"
	OpCanAccessPeer    Op = "CanAccessPeer"
	OpEnablePeerAccess Op = "EnablePeerAccess"
	OpMalloc           Op = "Malloc"
	OpMalloc3D         Op = "Malloc3D"
	OpFree             Op = "Free"
	OpMemset           Op = "Memset"
	OpHostRegister     Op = "HostRegister"
	OpHostUnregister   Op = "HostUnregister"
	OpHostAlloc        Op = "HostAlloc"
	OpFreeHost         Op = "FreeHost"
	OpStreamCreate     Op = "StreamCreate"
	OpStreamDestroy    Op = "StreamDestroy"
	OpEventCreate      Op = "EventCreate"
	OpEventDestroy     Op = "EventDestroy"
	OpEventRecord      Op = "EventRecord"
	OpEventSynchronize Op = "EventSynchronize"
	OpEventElapsedTime Op = "EventElapsedTime"
	OpMemcpy           Op = "MemcpyAsync"
	OpMemcpy2D         Op = "Memcpy2DAsync"
)

// Path is the class of a simulated copy, used to pick its bandwidth.
type Path int

const (
	PathDeviceLocal Path = iota
	PathPeer
	PathStaged
	PathPinned
	PathWriteCombined
	PathPageable
)

// Default simulated bandwidths in bytes per second.
var DefaultBandwidth = map[Path]float64{
	PathDeviceLocal:   800e9,
	PathPeer:          50e9,
	PathStaged:        10e9,
	PathPinned:        25e9,
	PathWriteCombined: 20e9,
	PathPageable:      8e9,
}

const (
	// DefaultLatency is the simulated fixed cost of a single copy call.
	DefaultLatency = 5 * time.Microsecond
	// simulated pitch alignment of 3D allocations
	pitchAlignment = 512
	// first simulated device address, outside any user space mapping
	deviceBase = ^Ptr(0) &^ (^Ptr(0) >> 4)
)

// Fault makes the given call of an operation fail.
type Fault struct {
	Op Op
	// Call is the 1-based call count to fail at, 0 fails every call.
	Call int
	Err  error
}

// SimStats counts simulated runtime activity.
type SimStats struct {
	DeviceAllocs     int
	DeviceFrees      int
	HostRegisters    int
	HostUnregisters  int
	HostAllocs       int
	HostFrees        int
	StreamsCreated   int
	StreamsDestroyed int
	EventsCreated    int
	EventsDestroyed  int
	Copies           int
	Copies2D         int
	BytesCopied      int64
	PeerEnables      int
	DeviceResets     int
}

// SimOption is an option for NewSimulator.
type SimOption func(*Simulator)

// WithDevices sets the number of simulated devices.
func WithDevices(n int) SimOption {
	return func(s *Simulator) {
		s.devices = n
	}
}

// WithPeerAccess sets the peer capability relation. By default all
// distinct device pairs can access each other.
func WithPeerAccess(fn func(dev, peer int) bool) SimOption {
	return func(s *Simulator) {
		s.peerFn = fn
	}
}

// WithPeerMatrix sets peer capabilities from a matrix indexed [dev][peer].
func WithPeerMatrix(m [][]bool) SimOption {
	return WithPeerAccess(func(dev, peer int) bool {
		return dev < len(m) && peer < len(m[dev]) && m[dev][peer]
	})
}

// WithBandwidth overrides the bandwidth of a copy path.
func WithBandwidth(p Path, bytesPerSecond float64) SimOption {
	return func(s *Simulator) {
		s.bandwidth[p] = bytesPerSecond
	}
}

// WithLatency sets the fixed cost of a single copy call.
func WithLatency(d time.Duration) SimOption {
	return func(s *Simulator) {
		s.latency = d
	}
}

// WithDeviceMemory sets the memory capacity of every simulated device.
func WithDeviceMemory(bytes int64) SimOption {
	return func(s *Simulator) {
		s.capacity = bytes
	}
}

// WithPCIBusIDs sets the PCI bus IDs reported for devices.
func WithPCIBusIDs(ids ...string) SimOption {
	return func(s *Simulator) {
		s.busIDs = ids
	}
}

// WithFaults injects faults into the simulator.
func WithFaults(faults ...Fault) SimOption {
	return func(s *Simulator) {
		s.faults = append(s.faults, faults...)
	}
}

// Simulator is a deterministic in-process Runtime. It keeps track of all
// allocations and handles, validates pointers of copies against them, and
// derives event timings from a per-stream virtual clock advanced by each
// copy by latency plus size over the bandwidth of the copy path. Device
// memory is never backed by real storage.
type Simulator struct {
	mu        sync.Mutex
	devices   int
	current   int
	peerFn    func(dev, peer int) bool
	peers     map[[2]int]bool
	bandwidth map[Path]float64
	latency   time.Duration
	capacity  int64
	used      map[int]int64
	busIDs    []string
	faults    []Fault
	calls     map[Op]int
	next      uintptr
	addr      Ptr
	devMem    map[Ptr]*simDevAlloc
	hostRegs  map[Ptr]*simHostRegion
	streams   map[Stream]*simStream
	events    map[Event]*simEvent
	stats     SimStats
}

type simDevAlloc struct {
	dev  int
	size int64
}

type simHostRegion struct {
	size     int64
	owned    bool
	wc       bool
	portable bool
	buf      []byte
}

type simStream struct {
	dev   int
	clock time.Duration
}

type simEvent struct {
	recorded bool
	at       time.Duration
}

var _ Runtime = &Simulator{}

// NewSimulator creates a simulated runtime, by default with 2 devices.
func NewSimulator(options ...SimOption) *Simulator {
	s := &Simulator{
		devices:   2,
		bandwidth: make(map[Path]float64),
		latency:   DefaultLatency,
		used:      make(map[int]int64),
		peers:     make(map[[2]int]bool),
		calls:     make(map[Op]int),
		addr:      deviceBase,
		devMem:    make(map[Ptr]*simDevAlloc),
		hostRegs:  make(map[Ptr]*simHostRegion),
		streams:   make(map[Stream]*simStream),
		events:    make(map[Event]*simEvent),
	}
	for p, bw := range DefaultBandwidth {
		s.bandwidth[p] = bw
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// InjectFault adds a fault to the simulator.
func (s *Simulator) InjectFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, f)
}

// ClearFaults removes all injected faults.
func (s *Simulator) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// Stats returns a snapshot of the activity counters.
func (s *Simulator) Stats() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Calls returns the number of times op was called.
func (s *Simulator) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Live returns the number of allocations and handles not released yet.
func (s *Simulator) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devMem) + len(s.hostRegs) + len(s.streams) + len(s.events)
}

// PeerEnabled tells if access from dev to peer has been enabled.
func (s *Simulator) PeerEnabled(dev, peer int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[[2]int{dev, peer}]
}

// enter counts a call and returns an injected fault for it, if any.
func (s *Simulator) enter(op Op) error {
	s.calls[op]++
	n := s.calls[op]
	for _, f := range s.faults {
		if f.Op == op && (f.Call == 0 || f.Call == n) {
			if f.Err == nil {
				return ErrUnknown
			}
			return f.Err
		}
	}
	return nil
}

func (s *Simulator) validDevice(dev int) bool {
	return dev >= 0 && dev < s.devices
}

func (s *Simulator) DeviceCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDeviceCount); err != nil {
		return 0, err
	}
	if s.devices == 0 {
		return 0, ErrNoDevice
	}
	return s.devices, nil
}

func (s *Simulator) GetDevice() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGetDevice); err != nil {
		return -1, err
	}
	return s.current, nil
}

func (s *Simulator) SetDevice(dev int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpSetDevice); err != nil {
		return err
	}
	if !s.validDevice(dev) {
		return ErrInvalidDevice
	}
	s.current = dev
	return nil
}

// DeviceReset drops all allocations, handles and peer mappings of the current device.
func (s *Simulator) DeviceReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDeviceReset); err != nil {
		return err
	}
	dev := s.current
	for p, a := range s.devMem {
		if a.dev == dev {
			delete(s.devMem, p)
		}
	}
	s.used[dev] = 0
	for h, st := range s.streams {
		if st.dev == dev {
			delete(s.streams, h)
		}
	}
	for pair := range s.peers {
		if pair[0] == dev {
			delete(s.peers, pair)
		}
	}
	s.stats.DeviceResets++
	return nil
}

func (s *Simulator) DeviceSynchronize() error {
	return nil
}

func (s *Simulator) DeviceName(dev int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validDevice(dev) {
		return "", ErrInvalidDevice
	}
	return fmt.Sprintf("Simulated GPU %d", dev), nil
}

func (s *Simulator) DevicePCIBusID(dev int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validDevice(dev) {
		return "", ErrInvalidDevice
	}
	if dev < len(s.busIDs) {
		return s.busIDs[dev], nil
	}
	return fmt.Sprintf("00000000:%02X:00.0", 0x18+dev), nil
}

func (s *Simulator) canAccess(dev, peer int) bool {
	if dev == peer {
		return false
	}
	if s.peerFn == nil {
		return true
	}
	return s.peerFn(dev, peer)
}

func (s *Simulator) CanAccessPeer(dev, peer int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCanAccessPeer); err != nil {
		return false, err
	}
	if !s.validDevice(dev) || !s.validDevice(peer) {
		return false, ErrInvalidDevice
	}
	return s.canAccess(dev, peer), nil
}

func (s *Simulator) EnablePeerAccess(peer int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpEnablePeerAccess); err != nil {
		return err
	}
	dev := s.current
	if !s.validDevice(peer) || peer == dev {
		return ErrInvalidDevice
	}
	if !s.canAccess(dev, peer) {
		return ErrPeerAccessUnsupported
	}
	key := [2]int{dev, peer}
	if s.peers[key] {
		return ErrPeerAccessAlreadyEnabled
	}
	s.peers[key] = true
	s.stats.PeerEnables++
	return nil
}

func (s *Simulator) allocDevice(size int64) (Ptr, error) {
	dev := s.current
	if s.capacity > 0 && s.used[dev]+size > s.capacity {
		return 0, ErrMemoryAllocation
	}
	p := s.addr
	// keep allocations apart so overruns never hit a neighbour
	s.addr += Ptr((size + 2*pitchAlignment - 1) / pitchAlignment * pitchAlignment)
	s.devMem[p] = &simDevAlloc{dev: dev, size: size}
	s.used[dev] += size
	s.stats.DeviceAllocs++
	return p, nil
}

func (s *Simulator) Malloc(size int64) (Ptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpMalloc); err != nil {
		return 0, err
	}
	if size <= 0 {
		return 0, ErrInvalidValue
	}
	return s.allocDevice(size)
}

func (s *Simulator) Malloc3D(ext Extent) (PitchedPtr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpMalloc3D); err != nil {
		return PitchedPtr{}, err
	}
	if ext.IsZero() {
		return PitchedPtr{}, ErrInvalidValue
	}
	pitch := (ext.Width + pitchAlignment - 1) / pitchAlignment * pitchAlignment
	p, err := s.allocDevice(pitch * ext.Height * ext.Depth)
	if err != nil {
		return PitchedPtr{}, err
	}
	return PitchedPtr{Ptr: p, Pitch: pitch, XSize: ext.Width, YSize: ext.Height}, nil
}

func (s *Simulator) Free(p Ptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpFree); err != nil {
		return err
	}
	a, ok := s.devMem[p]
	if !ok {
		return ErrInvalidValue
	}
	delete(s.devMem, p)
	s.used[a.dev] -= a.size
	s.stats.DeviceFrees++
	return nil
}

// deviceRange checks that [p, p+size) lies within a live device allocation.
func (s *Simulator) deviceRange(p Ptr, size int64) (int, bool) {
	for base, a := range s.devMem {
		if p >= base && int64(p-base)+size <= a.size {
			return a.dev, true
		}
	}
	return -1, false
}

func (s *Simulator) Memset(p Ptr, value int, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpMemset); err != nil {
		return err
	}
	if _, ok := s.deviceRange(p, size); !ok {
		return ErrInvalidValue
	}
	return nil
}

func (s *Simulator) Memset3D(p PitchedPtr, value int, ext Extent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpMemset); err != nil {
		return err
	}
	if ext.Width > p.Pitch {
		return ErrInvalidPitchValue
	}
	if _, ok := s.deviceRange(p.Ptr, p.Pitch*p.YSize*(ext.Depth-1)+p.Pitch*(ext.Height-1)+ext.Width); !ok {
		return ErrInvalidValue
	}
	return nil
}

func (s *Simulator) HostRegister(buf []byte, flags HostRegisterFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpHostRegister); err != nil {
		return err
	}
	if len(buf) == 0 {
		return ErrInvalidValue
	}
	p := HostPtr(buf)
	if _, ok := s.hostRegs[p]; ok {
		return ErrHostMemoryAlreadyRegistered
	}
	s.hostRegs[p] = &simHostRegion{
		size:     int64(len(buf)),
		portable: flags&HostRegisterPortable != 0,
		buf:      buf,
	}
	s.stats.HostRegisters++
	return nil
}

func (s *Simulator) HostUnregister(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpHostUnregister); err != nil {
		return err
	}
	p := HostPtr(buf)
	r, ok := s.hostRegs[p]
	if !ok || r.owned {
		return ErrHostMemoryNotRegistered
	}
	delete(s.hostRegs, p)
	s.stats.HostUnregisters++
	return nil
}

func (s *Simulator) HostAlloc(size int64, flags HostAllocFlags) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpHostAlloc); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, ErrInvalidValue
	}
	buf := make([]byte, size)
	s.hostRegs[HostPtr(buf)] = &simHostRegion{
		size:     size,
		owned:    true,
		wc:       flags&HostAllocWriteCombined != 0,
		portable: flags&HostAllocPortable != 0,
		buf:      buf,
	}
	s.stats.HostAllocs++
	return buf, nil
}

func (s *Simulator) FreeHost(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpFreeHost); err != nil {
		return err
	}
	p := HostPtr(buf)
	r, ok := s.hostRegs[p]
	if !ok || !r.owned {
		return ErrInvalidValue
	}
	delete(s.hostRegs, p)
	s.stats.HostFrees++
	return nil
}

func (s *Simulator) StreamCreate() (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpStreamCreate); err != nil {
		return 0, err
	}
	s.next++
	h := Stream(s.next)
	s.streams[h] = &simStream{dev: s.current}
	s.stats.StreamsCreated++
	return h, nil
}

func (s *Simulator) StreamDestroy(h Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpStreamDestroy); err != nil {
		return err
	}
	if _, ok := s.streams[h]; !ok {
		return ErrInvalidResourceHandle
	}
	delete(s.streams, h)
	s.stats.StreamsDestroyed++
	return nil
}

func (s *Simulator) EventCreate() (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpEventCreate); err != nil {
		return 0, err
	}
	s.next++
	h := Event(s.next)
	s.events[h] = &simEvent{}
	s.stats.EventsCreated++
	return h, nil
}

func (s *Simulator) EventDestroy(h Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpEventDestroy); err != nil {
		return err
	}
	if _, ok := s.events[h]; !ok {
		return ErrInvalidResourceHandle
	}
	delete(s.events, h)
	s.stats.EventsDestroyed++
	return nil
}

func (s *Simulator) EventRecord(he Event, hs Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpEventRecord); err != nil {
		return err
	}
	e, ok := s.events[he]
	if !ok {
		return ErrInvalidResourceHandle
	}
	st, ok := s.streams[hs]
	if !ok {
		return ErrInvalidResourceHandle
	}
	e.recorded = true
	e.at = st.clock
	return nil
}

func (s *Simulator) EventSynchronize(h Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpEventSynchronize); err != nil {
		return err
	}
	if _, ok := s.events[h]; !ok {
		return ErrInvalidResourceHandle
	}
	return nil
}

func (s *Simulator) EventElapsedTime(hstart, hstop Event) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpEventElapsedTime); err != nil {
		return 0, err
	}
	start, ok1 := s.events[hstart]
	stop, ok2 := s.events[hstop]
	if !ok1 || !ok2 || !start.recorded || !stop.recorded {
		return 0, ErrInvalidResourceHandle
	}
	return float32((stop.at - start.at).Seconds() * 1000), nil
}

// location of a simulated copy endpoint
type simLocation struct {
	dev  int
	host *simHostRegion
}

func (s *Simulator) locate(p Ptr, size int64) (simLocation, error) {
	if dev, ok := s.deviceRange(p, size); ok {
		return simLocation{dev: dev}, nil
	}
	if p >= deviceBase && p < s.addr {
		// inside the device address space but not within a live allocation
		return simLocation{}, ErrInvalidValue
	}
	for base, r := range s.hostRegs {
		if p >= base && int64(p-base)+size <= r.size {
			return simLocation{dev: -1, host: r}, nil
		}
	}
	if p == 0 {
		return simLocation{}, ErrInvalidValue
	}
	return simLocation{dev: -1}, nil
}

func (s *Simulator) path(src, dst simLocation) Path {
	switch {
	case src.dev >= 0 && dst.dev >= 0:
		if src.dev == dst.dev {
			return PathDeviceLocal
		}
		if s.peers[[2]int{src.dev, dst.dev}] || s.peers[[2]int{dst.dev, src.dev}] {
			return PathPeer
		}
		return PathStaged
	case src.dev >= 0:
		return hostPath(dst.host)
	case dst.dev >= 0:
		return hostPath(src.host)
	}
	return PathPageable
}

func hostPath(r *simHostRegion) Path {
	switch {
	case r == nil:
		return PathPageable
	case r.wc:
		return PathWriteCombined
	}
	return PathPinned
}

func (s *Simulator) advance(st *simStream, p Path, bytes int64) {
	d := s.latency
	if bw := s.bandwidth[p]; bw > 0 {
		d += time.Duration(float64(bytes) / bw * float64(time.Second))
	}
	if d <= 0 {
		d = time.Nanosecond
	}
	st.clock += d
	s.stats.BytesCopied += bytes
}

func (s *Simulator) MemcpyAsync(dst, src Ptr, count int64, kind MemcpyKind, hs Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpMemcpy); err != nil {
		return err
	}
	st, ok := s.streams[hs]
	if !ok {
		return ErrInvalidResourceHandle
	}
	if count < 0 {
		return ErrInvalidValue
	}
	sl, err := s.locate(src, count)
	if err != nil {
		return err
	}
	dl, err := s.locate(dst, count)
	if err != nil {
		return err
	}
	if err := checkKind(kind, sl, dl); err != nil {
		return err
	}
	s.advance(st, s.path(sl, dl), count)
	s.stats.Copies++
	return nil
}

func (s *Simulator) Memcpy2DAsync(dst Ptr, dpitch int64, src Ptr, spitch, width, height int64, kind MemcpyKind, hs Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpMemcpy2D); err != nil {
		return err
	}
	st, ok := s.streams[hs]
	if !ok {
		return ErrInvalidResourceHandle
	}
	if width > dpitch || width > spitch || width < 0 || height < 0 {
		return ErrInvalidPitchValue
	}
	span := func(pitch int64) int64 {
		if height == 0 {
			return 0
		}
		return pitch*(height-1) + width
	}
	sl, err := s.locate(src, span(spitch))
	if err != nil {
		return err
	}
	dl, err := s.locate(dst, span(dpitch))
	if err != nil {
		return err
	}
	if err := checkKind(kind, sl, dl); err != nil {
		return err
	}
	s.advance(st, s.path(sl, dl), width*height)
	s.stats.Copies2D++
	return nil
}

func checkKind(kind MemcpyKind, src, dst simLocation) error {
	onDev := func(l simLocation) bool { return l.dev >= 0 }
	var ok bool
	switch kind {
	case MemcpyDefault:
		ok = true
	case MemcpyHostToHost:
		ok = !onDev(src) && !onDev(dst)
	case MemcpyHostToDevice:
		ok = !onDev(src) && onDev(dst)
	case MemcpyDeviceToHost:
		ok = onDev(src) && !onDev(dst)
	case MemcpyDeviceToDevice:
		ok = onDev(src) && onDev(dst)
	}
	if !ok {
		return ErrInvalidMemcpyDirection
	}
	return nil
}

// String returns a short description of the simulated topology.
func (s *Simulator) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	pairs := []string{}
	for i := 0; i < s.devices; i++ {
		for j := 0; j < s.devices; j++ {
			if s.canAccess(i, j) {
				pairs = append(pairs, fmt.Sprintf("%d->%d", i, j))
			}
		}
	}
	sort.Strings(pairs)
	return fmt.Sprintf("simulator{devices: %d, peer access: %v}", s.devices, pairs)
}
