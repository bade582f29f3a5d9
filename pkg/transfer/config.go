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

package transfer

import (
	"fmt"
	"maps"

	"github.com/containers/gpu-membench/pkg/cuda"
	"github.com/containers/gpu-membench/pkg/endpoint"
)

// Config describes a single benchmark instance. It is not modified once
// handed to an Executor.
type Config struct {
	// Name is the registered name of the instance, used in skip reasons.
	Name string
	// Src and Dst are the kinds of memory copied from and to.
	Src endpoint.Kind
	Dst endpoint.Kind
	// Bytes is the number of bytes copied per iteration.
	Bytes int64
	// Block, if set, is the region of a 3D block copy. Its width is in
	// bytes. Src and Dst must then be pitched device allocations the
	// block fits into.
	Block *cuda.Extent
	// Flush host endpoints out of CPU caches before every iteration.
	Flush bool
	// Zero the destination before every iteration.
	Zero bool
	// ResetDevices resets the involved devices before allocation.
	ResetDevices bool
	// Counters are reported as is on successful completion.
	Counters map[string]float64
}

// BytesPerIteration returns the number of bytes moved by one iteration.
func (c *Config) BytesPerIteration() int64 {
	if c.Block != nil {
		return c.Block.Bytes()
	}
	return c.Bytes
}

// Devices returns the devices the instance touches, source first.
func (c *Config) Devices() []int {
	var devs []int
	for _, k := range []endpoint.Kind{c.Src, c.Dst} {
		if d, ok := k.(endpoint.Device); ok {
			if len(devs) == 0 || devs[0] != d.ID {
				devs = append(devs, d.ID)
			}
		}
	}
	return devs
}

// CopyKind returns the direction of the copy.
func (c *Config) CopyKind() cuda.MemcpyKind {
	if c.Block != nil {
		return cuda.MemcpyDefault
	}
	src, dst := c.Src.Type().IsHost(), c.Dst.Type().IsHost()
	switch {
	case src && dst:
		return cuda.MemcpyHostToHost
	case src:
		return cuda.MemcpyHostToDevice
	case dst:
		return cuda.MemcpyDeviceToHost
	}
	return cuda.MemcpyDeviceToDevice
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Src == nil || c.Dst == nil {
		return fmt.Errorf("%w: %q: missing source or destination", ErrInvalidConfig, c.Name)
	}
	if len(c.Devices()) == 0 {
		return fmt.Errorf("%w: %q: host to host copies are not timed", ErrInvalidConfig, c.Name)
	}

	if c.Block == nil {
		if c.Bytes <= 0 {
			return fmt.Errorf("%w: %q: invalid size %d", ErrInvalidConfig, c.Name, c.Bytes)
		}
		for _, k := range []endpoint.Kind{c.Src, c.Dst} {
			if k.Size() < c.Bytes {
				return fmt.Errorf("%w: %q: %s too small for %d bytes",
					ErrInvalidConfig, c.Name, k.Describe(), c.Bytes)
			}
		}
		return nil
	}

	if c.Block.IsZero() {
		return fmt.Errorf("%w: %q: invalid extent %v", ErrInvalidConfig, c.Name, *c.Block)
	}
	for _, k := range []endpoint.Kind{c.Src, c.Dst} {
		d, ok := k.(endpoint.Device)
		if !ok || d.Block == nil {
			return fmt.Errorf("%w: %q: block copies need pitched device memory, got %s",
				ErrInvalidConfig, c.Name, k.Describe())
		}
		if !c.Block.Fits(*d.Block) {
			return fmt.Errorf("%w: %q: extent %v does not fit into %v",
				ErrInvalidConfig, c.Name, *c.Block, *d.Block)
		}
	}

	return nil
}

func (c *Config) counters() map[string]float64 {
	counters := maps.Clone(c.Counters)
	if counters == nil {
		counters = make(map[string]float64)
	}
	counters["bytes"] = float64(c.BytesPerIteration())
	return counters
}
