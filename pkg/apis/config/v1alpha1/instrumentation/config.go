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

package instrumentation

// Config provides runtime configuration for exporting metrics.
type Config struct {
	// HTTPEndpoint is the address our HTTP server listens on during a run.
	// The endpoint exposes /metrics for Prometheus.
	// +optional
	// +kubebuilder:example=":8891"
	HTTPEndpoint string `json:"httpEndpoint,omitempty"`
	// Textfile is the file the enabled metrics are written to, in text
	// exposition format, once a run is over.
	// +optional
	// +kubebuilder:example="/var/lib/node_exporter/gpu-membench.prom"
	Textfile string `json:"textfile,omitempty"`
	// Namespace prefixes all exported metric names.
	// +optional
	// +kubebuilder:default="gpu_membench"
	Namespace string `json:"namespace,omitempty"`
	// Metrics defines which metrics to collect.
	// +kubebuilder:default={"enabled": {"*"}}
	Metrics *MetricsConfig `json:"metrics,omitempty"`
}

// MetricsConfig selects the collectors to export.
type MetricsConfig struct {
	// Enabled lists globs of collector groups or names to enable.
	// +optional
	// +kubebuilder:example={"results", "topology"}
	Enabled []string `json:"enabled,omitempty"`
}

const (
	// DefaultNamespace is the default metric namespace.
	DefaultNamespace = "gpu_membench"
)

// IsExporting returns true if metrics are exported in any way.
func (c *Config) IsExporting() bool {
	return c != nil && (c.HTTPEndpoint != "" || c.Textfile != "")
}

// EnabledMetrics returns the globs of enabled collectors.
func (c *Config) EnabledMetrics() []string {
	if c == nil || c.Metrics == nil || len(c.Metrics.Enabled) == 0 {
		return []string{"*"}
	}
	return c.Metrics.Enabled
}

// GetNamespace returns the metric namespace to use.
func (c *Config) GetNamespace() string {
	if c == nil || c.Namespace == "" {
		return DefaultNamespace
	}
	return c.Namespace
}
