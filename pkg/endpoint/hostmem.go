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
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapMapper maps anonymous private memory with mmap.
type MmapMapper struct{}

// Map maps size bytes of page-aligned anonymous memory.
func (MmapMapper) Map(size int64) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid mapping size %d", size)
	}
	buf, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap %d bytes: %w", size, err)
	}
	return buf, nil
}

// Unmap unmaps memory mapped with Map.
func (MmapMapper) Unmap(buf []byte) error {
	if err := unix.Munmap(buf); err != nil {
		return fmt.Errorf("failed to munmap %d bytes: %w", len(buf), err)
	}
	return nil
}

// PageSize returns the size of a host memory page.
func PageSize() int {
	return unix.Getpagesize()
}
