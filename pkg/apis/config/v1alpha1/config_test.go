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

package v1alpha1_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cfgapi "github.com/containers/gpu-membench/pkg/apis/config/v1alpha1"
	"github.com/containers/gpu-membench/pkg/cuda"
	"github.com/containers/gpu-membench/pkg/matrix"
	"github.com/containers/gpu-membench/pkg/utils/cpuset"
)

func TestDefaults(t *testing.T) {
	c := cfgapi.Default()
	require.NoError(t, c.Validate())

	require.Equal(t, cfgapi.APIVersion, c.APIVersion)
	require.Equal(t, cfgapi.Kind, c.Kind)
	require.Equal(t, []string{"*"}, c.Families)
	require.Equal(t, 500*time.Millisecond, c.MinTime.Duration)
	require.True(t, c.FlushEnabled())
	require.True(t, c.ResetEnabled())
	require.Equal(t, "table", c.Output.Format)
	require.Equal(t, "gpu_membench", c.Instrumentation.GetNamespace())
	require.Equal(t, []string{"*"}, c.Instrumentation.EnabledMetrics())
	require.False(t, c.Instrumentation.IsExporting())

	sizes := c.Sizes.List()
	require.Len(t, sizes, cfgapi.DefaultMaxSizeLog2-cfgapi.DefaultMinSizeLog2+1)
	require.Equal(t, int64(cfgapi.DefaultMinSizeLog2), sizes[0])
	require.Equal(t, int64(cfgapi.DefaultMaxSizeLog2), sizes[len(sizes)-1])

	nodes, err := c.NodeSet()
	require.NoError(t, err)
	require.True(t, nodes.IsEmpty())
}

func TestParse(t *testing.T) {
	c, err := cfgapi.Parse([]byte(`
apiVersion: config.gpu-membench.containers.io/v1alpha1
kind: BenchmarkConfig
devices: [0, 2]
numaNodes: "0,1"
families:
  - Comm_cudaMemcpyAsync_*
sizes:
  minLog2: 10
  maxLog2: 20
  step: 5
extents:
  - width: 128
    height: 128
    depth: 2
iterations: 7
minTime: 2s
flush: false
resetDevices: false
simulate: 2
log:
  debug: [transfer]
  source: true
instrumentation:
  httpEndpoint: ":8891"
  textfile: out.prom
  metrics:
    enabled: [results]
output:
  format: json
  file: results.json
`))
	require.NoError(t, err)

	require.Equal(t, []int{0, 2}, c.Devices)
	nodes, err := c.NodeSet()
	require.NoError(t, err)
	require.True(t, nodes.Equals(cpuset.New(0, 1)))
	require.Equal(t, []int64{10, 15, 20}, c.Sizes.List())
	require.Equal(t, 2*time.Second, c.MinTime.Duration)
	require.False(t, c.FlushEnabled())
	require.False(t, c.ResetEnabled())
	require.Equal(t, 2, c.Simulate)
	require.Equal(t, []string{"transfer"}, c.Log.Debug)
	require.True(t, c.Log.LogSource)
	require.True(t, c.Instrumentation.IsExporting())
	require.Equal(t, []string{"results"}, c.Instrumentation.EnabledMetrics())
	require.Equal(t, "json", c.Output.Format)
	require.Equal(t, "results.json", c.Output.File)

	require.Equal(t, matrix.Config{
		Families:     []string{"Comm_cudaMemcpyAsync_*"},
		Sizes:        []int64{10, 15, 20},
		Extents:      []cuda.Extent{{Width: 128, Height: 128, Depth: 2}},
		Flush:        false,
		ResetDevices: false,
		Iterations:   7,
	}, c.MatrixConfig())
	require.Len(t, c.RunnerOptions(), 2)
}

func TestExplicitSizes(t *testing.T) {
	type testCase struct {
		name     string
		data     string
		expected []int64
	}
	for _, tc := range []*testCase{
		{name: "list", data: `{"sizes": {"log2": [3, 30, 12]}}`, expected: []int64{3, 30, 12}},
		{name: "single byte", data: "sizes: {minLog2: 0, maxLog2: 0}", expected: []int64{0}},
		{name: "from zero", data: "sizes: {minLog2: 0, maxLog2: 4, step: 2}", expected: []int64{0, 2, 4}},
		{name: "default maximum", data: "sizes: {minLog2: 24}", expected: []int64{24, 25, 26}},
		{name: "default minimum", data: "sizes: {maxLog2: 9}", expected: []int64{8, 9}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, err := cfgapi.Parse([]byte(tc.data))
			require.NoError(t, err)
			require.Equal(t, tc.expected, c.Sizes.List())
		})
	}
}

func TestInvalid(t *testing.T) {
	type testCase struct {
		name string
		data string
	}
	for _, tc := range []*testCase{
		{name: "unknown field", data: "sizez: {minLog2: 1}"},
		{name: "wrong apiVersion", data: "apiVersion: v1"},
		{name: "wrong kind", data: "kind: Pod"},
		{name: "negative device", data: "devices: [-1]"},
		{name: "duplicate device", data: "devices: [1, 0, 1]"},
		{name: "bad NUMA nodes", data: "numaNodes: 1-x"},
		{name: "empty size range", data: "sizes: {minLog2: 20, maxLog2: 10}"},
		{name: "negative size", data: "sizes: {minLog2: -1, maxLog2: 10}"},
		{name: "negative step", data: "sizes: {minLog2: 1, maxLog2: 10, step: -1}"},
		{name: "size out of range", data: "sizes: {log2: [41]}"},
		{name: "oversized extent", data: "extents: [{width: 1024, height: 1, depth: 1}]"},
		{name: "negative iterations", data: "iterations: -1"},
		{name: "negative minTime", data: "minTime: -1s"},
		{name: "negative simulate", data: "simulate: -2"},
		{name: "unknown format", data: "output: {format: csv}"},
		{name: "unknown family", data: "families: [Comm_Nope]"},
		{name: "flushed families without flush", data: "flush: false\nfamilies: ['*_flush']"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := cfgapi.Parse([]byte(tc.data))
			require.ErrorIs(t, err, cfgapi.ErrInvalidConfig)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("iterations: 3\n"), 0o644))

	c, err := cfgapi.Load(file)
	require.NoError(t, err)
	require.Equal(t, int64(3), c.Iterations)

	_, err = cfgapi.Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	c = cfgapi.Default()
	c.SetMinTime(time.Second)
	require.Equal(t, time.Second, c.MinTime.Duration)
}
