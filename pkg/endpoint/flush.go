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
	"sync"
)

const (
	// DefaultEvictionSize is used when the last level cache size is unknown.
	DefaultEvictionSize = 64 << 20
	// cache line stride used when walking the eviction buffer
	cacheLine = 64
)

// CacheFlusher pushes host memory out of the CPU caches by streaming
// through an eviction buffer twice the size of the last level cache.
type CacheFlusher struct {
	sync.Mutex
	mapper Mapper
	size   int64
	buf    []byte
	sum    byte
}

// NewCacheFlusher creates a flusher for a last level cache of the given size.
func NewCacheFlusher(llcSize uint64, mapper Mapper) *CacheFlusher {
	size := int64(2 * llcSize)
	if size <= 0 {
		size = DefaultEvictionSize
	}
	if mapper == nil {
		mapper = MmapMapper{}
	}
	return &CacheFlusher{
		mapper: mapper,
		size:   size,
	}
}

// EvictionSize returns the size of the eviction buffer.
func (f *CacheFlusher) EvictionSize() int64 {
	return f.size
}

// Flush evicts the memory of a host endpoint from the CPU caches. Device
// endpoints are left alone.
func (f *CacheFlusher) Flush(ep *Endpoint) error {
	if ep.IsDevice() {
		return nil
	}
	if ep.Released() {
		return ErrReleased
	}

	f.Lock()
	defer f.Unlock()

	if f.buf == nil {
		buf, err := f.mapper.Map(f.size)
		if err != nil {
			return err
		}
		f.buf = buf
	}

	// Dirty lines of ep are written back as the eviction buffer streams
	// through the caches.
	for i := 0; i < len(f.buf); i += cacheLine {
		f.buf[i]++
	}
	sum := byte(0)
	for i := 0; i < len(f.buf); i += cacheLine {
		sum += f.buf[i]
	}
	f.sum = sum

	return nil
}

// Close releases the eviction buffer.
func (f *CacheFlusher) Close() error {
	f.Lock()
	defer f.Unlock()
	if f.buf == nil {
		return nil
	}
	buf := f.buf
	f.buf = nil
	return f.mapper.Unmap(buf)
}
