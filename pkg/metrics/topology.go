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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/containers/gpu-membench/pkg/topology"
)

// TopologyCollector exports the GPU and NUMA topology of a catalog.
type TopologyCollector struct {
	catalog  *topology.Catalog
	device   *prometheus.Desc
	peer     *prometheus.Desc
	locality *prometheus.Desc
	nodes    *prometheus.Desc
}

// NewTopologyCollector creates a collector for the given catalog.
func NewTopologyCollector(catalog *topology.Catalog) *TopologyCollector {
	return &TopologyCollector{
		catalog: catalog,
		device: prometheus.NewDesc("device_info",
			"A metric with constant '1' value labeled by GPU device and name.",
			[]string{"device", "name"}, nil),
		peer: prometheus.NewDesc("peer_access",
			"1 if the source GPU can access the memory of the destination GPU.",
			[]string{"src", "dst"}, nil),
		locality: prometheus.NewDesc("device_numa_node",
			"A metric with constant '1' value for each NUMA node local to a GPU.",
			[]string{"device", "node"}, nil),
		nodes: prometheus.NewDesc("numa_nodes",
			"Number of NUMA nodes used for host memory.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *TopologyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.device
	ch <- c.peer
	ch <- c.locality
	ch <- c.nodes
}

// Collect implements prometheus.Collector.
func (c *TopologyCollector) Collect(ch chan<- prometheus.Metric) {
	devices := c.catalog.Devices()

	for _, a := range devices {
		dev := strconv.Itoa(int(a))
		ch <- prometheus.MustNewConstMetric(c.device, prometheus.GaugeValue, 1,
			dev, c.catalog.DeviceName(a))

		for _, b := range devices {
			if a == b {
				continue
			}
			v := 0.0
			if c.catalog.CanAccessPeer(a, b) {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.peer, prometheus.GaugeValue, v,
				dev, strconv.Itoa(int(b)))
		}

		nodes, err := c.catalog.DeviceLocality(a)
		if err != nil {
			log.Debug("no NUMA locality for device %d: %v", a, err)
			continue
		}
		for _, n := range nodes {
			ch <- prometheus.MustNewConstMetric(c.locality, prometheus.GaugeValue, 1,
				dev, strconv.Itoa(int(n)))
		}
	}

	ch <- prometheus.MustNewConstMetric(c.nodes, prometheus.GaugeValue, float64(len(c.catalog.Nodes())))
}
