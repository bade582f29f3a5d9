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

package metrics_test

import (
	"os"
	"path/filepath"
	"testing"

	model "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/containers/gpu-membench/pkg/bench"
	"github.com/containers/gpu-membench/pkg/cuda"
	"github.com/containers/gpu-membench/pkg/metrics"
	"github.com/containers/gpu-membench/pkg/topology"
)

// findMetric returns the gauge value of the metric with the given name
// and labels.
func findMetric(t *testing.T, mfs []*model.MetricFamily, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v != lp.GetValue() {
					continue next
				}
			}
			return m.GetGauge().GetValue(), true
		}
	}
	return 0, false
}

func testResults() []*bench.Result {
	return []*bench.Result{
		{
			Name:             "Comm_cudaMemcpyAsync_GPUToGPU/0/1/20",
			Family:           "Comm_cudaMemcpyAsync_GPUToGPU",
			Args:             []int64{20},
			Iterations:       8,
			RealTime:         0.004,
			TimePerIteration: 0.0005,
			MinTime:          0.00025,
			MaxTime:          0.001,
			BytesProcessed:   8 << 20,
			BytesPerSecond:   2048,
			Counters:         map[string]float64{"bytes": 1 << 20, "gpu0": 0, "gpu1": 1},
		},
		{
			Name:       "Comm_Memcpy_WCToGPU/1/12",
			Family:     "Comm_Memcpy_WCToGPU",
			Args:       []int64{12},
			Skipped:    true,
			SkipReason: "Comm_Memcpy_WCToGPU/1/12 failed to allocate wc",
		},
	}
}

func TestResultCollector(t *testing.T) {
	c := metrics.NewResultCollector()
	require.NoError(t, c.Report(testResults()))
	require.NoError(t, c.Report(testResults()[:1]))
	require.Equal(t, 2, c.Len())

	r := metrics.NewRegistry()
	require.NoError(t, r.Register("benchmarks", c, metrics.WithGroup("results")))
	g, err := r.NewGatherer(metrics.WithNamespace("gpu_membench"))
	require.NoError(t, err)

	mfs, err := g.Gather()
	require.NoError(t, err)

	instance := map[string]string{
		"benchmark": "Comm_cudaMemcpyAsync_GPUToGPU/0/1/20",
		"family":    "Comm_cudaMemcpyAsync_GPUToGPU",
		"args":      "20",
	}
	for name, expected := range map[string]float64{
		"gpu_membench_results_bandwidth_bytes_per_second": 2048,
		"gpu_membench_results_iteration_seconds":          0.0005,
		"gpu_membench_results_iteration_min_seconds":      0.00025,
		"gpu_membench_results_iteration_max_seconds":      0.001,
		"gpu_membench_results_iterations":                 8,
		"gpu_membench_results_processed_bytes":            8 << 20,
	} {
		v, ok := findMetric(t, mfs, name, instance)
		require.True(t, ok, name)
		require.Equal(t, expected, v, name)
	}

	for counter, expected := range map[string]float64{"bytes": 1 << 20, "gpu1": 1} {
		labels := map[string]string{"benchmark": instance["benchmark"], "counter": counter}
		v, ok := findMetric(t, mfs, "gpu_membench_results_counter", labels)
		require.True(t, ok, counter)
		require.Equal(t, expected, v, counter)
	}

	v, ok := findMetric(t, mfs, "gpu_membench_results_skipped", map[string]string{
		"benchmark": "Comm_Memcpy_WCToGPU/1/12",
		"reason":    "Comm_Memcpy_WCToGPU/1/12 failed to allocate wc",
	})
	require.True(t, ok)
	require.Equal(t, 1.0, v)

	_, ok = findMetric(t, mfs, "gpu_membench_results_iterations", map[string]string{
		"benchmark": "Comm_Memcpy_WCToGPU/1/12",
	})
	require.False(t, ok, "skipped instances have no measurements")

	file := filepath.Join(t.TempDir(), "membench.prom")
	require.NoError(t, metrics.WriteTextfile(file, g))
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Contains(t, string(data), `gpu_membench_results_iterations{args="20",benchmark="Comm_cudaMemcpyAsync_GPUToGPU/0/1/20",family="Comm_cudaMemcpyAsync_GPUToGPU"} 8`)
}

func TestTopologyCollector(t *testing.T) {
	sim := cuda.NewSimulator(
		cuda.WithDevices(3),
		cuda.WithPeerMatrix([][]bool{
			{false, true, false},
			{true, false, false},
			{true, false, false},
		}),
	)
	cat, err := topology.New(sim)
	require.NoError(t, err)

	r := metrics.NewRegistry()
	require.NoError(t, r.Register("devices", metrics.NewTopologyCollector(cat), metrics.WithGroup("topology")))
	g, err := r.NewGatherer()
	require.NoError(t, err)
	mfs, err := g.Gather()
	require.NoError(t, err)

	for _, tc := range []struct {
		src, dst string
		access   float64
	}{
		{"0", "1", 1},
		{"1", "0", 1},
		{"0", "2", 0},
		{"2", "0", 1},
		{"1", "2", 0},
	} {
		v, ok := findMetric(t, mfs, "topology_peer_access", map[string]string{"src": tc.src, "dst": tc.dst})
		require.True(t, ok, tc.src+"->"+tc.dst)
		require.Equal(t, tc.access, v, tc.src+"->"+tc.dst)
	}

	for _, dev := range []string{"0", "1", "2"} {
		_, ok := findMetric(t, mfs, "topology_device_info", map[string]string{"device": dev})
		require.True(t, ok, dev)
	}

	v, ok := findMetric(t, mfs, "topology_numa_nodes", nil)
	require.True(t, ok)
	require.Equal(t, float64(len(cat.Nodes())), v)
}
