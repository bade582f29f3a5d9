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

package matrix

import (
	"github.com/containers/gpu-membench/pkg/cuda"
	"github.com/containers/gpu-membench/pkg/endpoint"
	"github.com/containers/gpu-membench/pkg/topology"
)

// Names of the benchmark families.
const (
	GPUToPinned      = "Comm_cudaMemcpyAsync_GPUToPinned"
	PinnedToGPU      = "Comm_cudaMemcpyAsync_PinnedToGPU"
	GPUToGPU         = "Comm_cudaMemcpyAsync_GPUToGPU"
	BlockGPUToGPU    = "Comm_3d_cudaMemcpy2DAsync_GPUToGPU"
	GPUToWC          = "Comm_Memcpy_GPUToWC"
	WCToGPU          = "Comm_Memcpy_WCToGPU"
	NUMAGPUToHost    = "Comm_NUMAMemcpy_GPUToHost"
	flushSuffix      = "_flush"
	blockAllocWidth  = 512
	blockAllocHeight = 512
	blockAllocDepth  = 512
)

// BlockAllocation is the extent of the pitched allocations 3D copies
// are done within.
var BlockAllocation = cuda.Extent{
	Width:  blockAllocWidth,
	Height: blockAllocHeight,
	Depth:  blockAllocDepth,
}

// placement is one source and destination location of a family.
type placement struct {
	ids      []int
	counters map[string]float64
	kinds    func(bytes int64) (src, dst endpoint.Kind)
}

// family describes how to lay out the instances of a benchmark family.
type family struct {
	name string
	// flushable families get a _flush variant
	flushable bool
	// block families sweep over 3D extents instead of sizes
	block bool
	// zero the destination before every iteration
	zero       bool
	placements func(c *topology.Catalog) []placement
}

var families = []*family{
	{
		name:       GPUToPinned,
		flushable:  true,
		zero:       true,
		placements: gpuNUMAPlacements(deviceToPinned),
	},
	{
		name:       PinnedToGPU,
		flushable:  true,
		zero:       true,
		placements: gpuNUMAPlacements(pinnedToDevice),
	},
	{
		name:       GPUToGPU,
		placements: gpuPairPlacements(false),
	},
	{
		name:       BlockGPUToGPU,
		block:      true,
		placements: gpuPairPlacements(true),
	},
	{
		name:       GPUToWC,
		placements: gpuPlacements(deviceToWC),
	},
	{
		name:       WCToGPU,
		placements: gpuPlacements(wcToDevice),
	},
	{
		name:       NUMAGPUToHost,
		placements: gpuNUMAPlacements(deviceToNUMA),
	},
}

// Families returns the names of all benchmark families.
func Families() []string {
	var names []string
	for _, f := range families {
		names = append(names, f.name)
		if f.flushable {
			names = append(names, f.name+flushSuffix)
		}
	}
	return names
}

type gpuNUMAKinds func(gpu, numa int, bytes int64) (src, dst endpoint.Kind)

func deviceToPinned(gpu, numa int, bytes int64) (endpoint.Kind, endpoint.Kind) {
	return endpoint.Device{ID: gpu, Bytes: bytes}, endpoint.Pinned{Bytes: bytes, Node: numa}
}

func pinnedToDevice(gpu, numa int, bytes int64) (endpoint.Kind, endpoint.Kind) {
	return endpoint.Pinned{Bytes: bytes, Node: numa}, endpoint.Device{ID: gpu, Bytes: bytes}
}

func deviceToNUMA(gpu, numa int, bytes int64) (endpoint.Kind, endpoint.Kind) {
	return endpoint.Device{ID: gpu, Bytes: bytes}, endpoint.NUMA{Bytes: bytes, Node: numa}
}

// gpuNUMAPlacements places instances at every NUMA node for every GPU,
// named <numa>/<gpu>.
func gpuNUMAPlacements(kinds gpuNUMAKinds) func(*topology.Catalog) []placement {
	return func(c *topology.Catalog) []placement {
		var p []placement
		for _, gpu := range c.Devices() {
			for _, numa := range c.Nodes() {
				gpu, numa := int(gpu), int(numa)
				p = append(p, placement{
					ids: []int{numa, gpu},
					counters: map[string]float64{
						"cuda_id": float64(gpu),
						"numa_id": float64(numa),
					},
					kinds: func(bytes int64) (endpoint.Kind, endpoint.Kind) {
						return kinds(gpu, numa, bytes)
					},
				})
			}
		}
		return p
	}
}

type gpuKinds func(gpu int, bytes int64) (src, dst endpoint.Kind)

func deviceToWC(gpu int, bytes int64) (endpoint.Kind, endpoint.Kind) {
	return endpoint.Device{ID: gpu, Bytes: bytes}, endpoint.WriteCombined{Bytes: bytes, Node: -1}
}

func wcToDevice(gpu int, bytes int64) (endpoint.Kind, endpoint.Kind) {
	return endpoint.WriteCombined{Bytes: bytes, Node: -1}, endpoint.Device{ID: gpu, Bytes: bytes}
}

// gpuPlacements places instances at every GPU, named <gpu>.
func gpuPlacements(kinds gpuKinds) func(*topology.Catalog) []placement {
	return func(c *topology.Catalog) []placement {
		var p []placement
		for _, gpu := range c.Devices() {
			gpu := int(gpu)
			p = append(p, placement{
				ids:      []int{gpu},
				counters: map[string]float64{"cuda_id": float64(gpu)},
				kinds: func(bytes int64) (endpoint.Kind, endpoint.Kind) {
					return kinds(gpu, bytes)
				},
			})
		}
		return p
	}
}

// gpuPairPlacements places instances at every legal device pair, named
// <gpu0>/<gpu1>. Block placements use pitched allocations.
func gpuPairPlacements(block bool) func(*topology.Catalog) []placement {
	return func(c *topology.Catalog) []placement {
		var p []placement
		for _, pair := range c.LegalDevicePairs() {
			a, b := int(pair.A), int(pair.B)
			p = append(p, placement{
				ids: []int{a, b},
				counters: map[string]float64{
					"gpu0": float64(a),
					"gpu1": float64(b),
				},
				kinds: func(bytes int64) (endpoint.Kind, endpoint.Kind) {
					if block {
						ext := BlockAllocation
						return endpoint.Device{ID: a, Block: &ext}, endpoint.Device{ID: b, Block: &ext}
					}
					return endpoint.Device{ID: a, Bytes: bytes}, endpoint.Device{ID: b, Bytes: bytes}
				},
			})
		}
		return p
	}
}
