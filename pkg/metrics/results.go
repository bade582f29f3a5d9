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

package metrics

import (
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/containers/gpu-membench/pkg/bench"
)

var (
	resultLabels = []string{"benchmark", "family", "args"}
)

// ResultCollector exports the results of benchmark runs. It is a
// bench.Reporter, each reported result replaces an earlier one of the
// same name.
type ResultCollector struct {
	sync.Mutex
	results    map[string]*bench.Result
	order      []string
	bandwidth  *prometheus.Desc
	mean       *prometheus.Desc
	minimum    *prometheus.Desc
	maximum    *prometheus.Desc
	iterations *prometheus.Desc
	processed  *prometheus.Desc
	counter    *prometheus.Desc
	skipped    *prometheus.Desc
}

var _ bench.Reporter = &ResultCollector{}

// NewResultCollector creates a collector for benchmark results.
func NewResultCollector() *ResultCollector {
	return &ResultCollector{
		results: make(map[string]*bench.Result),
		bandwidth: prometheus.NewDesc("bandwidth_bytes_per_second",
			"Measured transfer bandwidth.", resultLabels, nil),
		mean: prometheus.NewDesc("iteration_seconds",
			"Mean time of a timed iteration.", resultLabels, nil),
		minimum: prometheus.NewDesc("iteration_min_seconds",
			"Shortest time of a timed iteration.", resultLabels, nil),
		maximum: prometheus.NewDesc("iteration_max_seconds",
			"Longest time of a timed iteration.", resultLabels, nil),
		iterations: prometheus.NewDesc("iterations",
			"Number of timed iterations.", resultLabels, nil),
		processed: prometheus.NewDesc("processed_bytes",
			"Total number of bytes transferred in timed iterations.", resultLabels, nil),
		counter: prometheus.NewDesc("counter",
			"User counters of a benchmark.", append(resultLabels, "counter"), nil),
		skipped: prometheus.NewDesc("skipped",
			"Benchmarks skipped due to an error.", []string{"benchmark", "reason"}, nil),
	}
}

// Report records the results.
func (c *ResultCollector) Report(results []*bench.Result) error {
	c.Lock()
	defer c.Unlock()
	for _, r := range results {
		if _, ok := c.results[r.Name]; !ok {
			c.order = append(c.order, r.Name)
		}
		c.results[r.Name] = r
	}
	return nil
}

// Len returns the number of recorded results.
func (c *ResultCollector) Len() int {
	c.Lock()
	defer c.Unlock()
	return len(c.results)
}

// Describe implements prometheus.Collector.
func (c *ResultCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.bandwidth, c.mean, c.minimum, c.maximum,
		c.iterations, c.processed, c.counter, c.skipped,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *ResultCollector) Collect(ch chan<- prometheus.Metric) {
	c.Lock()
	defer c.Unlock()

	for _, name := range c.order {
		r := c.results[name]
		if r.Skipped {
			ch <- prometheus.MustNewConstMetric(c.skipped, prometheus.GaugeValue, 1, r.Name, r.SkipReason)
			continue
		}

		labels := []string{r.Name, r.Family, formatArgs(r.Args)}
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
		}
		gauge(c.bandwidth, r.BytesPerSecond)
		gauge(c.mean, r.TimePerIteration)
		gauge(c.minimum, r.MinTime)
		gauge(c.maximum, r.MaxTime)
		gauge(c.iterations, float64(r.Iterations))
		gauge(c.processed, float64(r.BytesProcessed))
		for counter, v := range r.Counters {
			ch <- prometheus.MustNewConstMetric(c.counter, prometheus.GaugeValue, v,
				append(labels, counter)...)
		}
	}
}

func formatArgs(args []int64) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, strconv.FormatInt(a, 10))
	}
	return strings.Join(parts, "/")
}
