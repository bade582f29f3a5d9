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

package v1alpha1

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/containers/gpu-membench/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/containers/gpu-membench/pkg/apis/config/v1alpha1/log"
	"github.com/containers/gpu-membench/pkg/bench"
	"github.com/containers/gpu-membench/pkg/cuda"
	"github.com/containers/gpu-membench/pkg/matrix"
	"github.com/containers/gpu-membench/pkg/utils/cpuset"
)

const (
	// GroupName is the API group of our configuration.
	GroupName = "config.gpu-membench.containers.io"
	// Version is the API version of this package.
	Version = "v1alpha1"
	// Kind is the kind of a benchmark configuration.
	Kind = "BenchmarkConfig"

	// DefaultMinSizeLog2 is the default smallest size, as log2 of bytes.
	DefaultMinSizeLog2 = 8
	// DefaultMaxSizeLog2 is the default largest size, as log2 of bytes.
	DefaultMaxSizeLog2 = 26
)

var (
	// ErrInvalidConfig is returned for invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// APIVersion is the apiVersion of a configuration file.
	APIVersion = GroupName + "/" + Version
)

// Config is the configuration of a benchmark run.
type Config struct {
	metav1.TypeMeta `json:",inline"`
	// Devices restricts the run to the given CUDA devices.
	// +optional
	Devices []int `json:"devices,omitempty"`
	// NUMANodes restricts the run to the given NUMA nodes, in cpuset
	// list syntax.
	// +optional
	// +kubebuilder:example="0-1"
	NUMANodes string `json:"numaNodes,omitempty"`
	// Families lists globs of benchmark families to register.
	// +optional
	// +kubebuilder:default={"*"}
	Families []string `json:"families,omitempty"`
	// Sizes is the size sweep of 1D transfers.
	// +optional
	Sizes Sizes `json:"sizes,omitempty"`
	// Extents is the sweep of 3D block transfers.
	// +optional
	Extents []Extent `json:"extents,omitempty"`
	// Iterations fixes the number of iterations of every instance.
	// Zero runs every instance until MinTime is accumulated.
	// +optional
	Iterations int64 `json:"iterations,omitempty"`
	// MinTime is the minimum measured time of adaptive runs.
	// +optional
	// +kubebuilder:validation:Format="duration"
	// +kubebuilder:default="500ms"
	MinTime metav1.Duration `json:"minTime,omitempty"`
	// Flush enables the cache-flushed variants of host memory families.
	// +optional
	// +kubebuilder:default=true
	Flush *bool `json:"flush,omitempty"`
	// ResetDevices resets the involved devices before every instance.
	// +optional
	// +kubebuilder:default=true
	ResetDevices *bool `json:"resetDevices,omitempty"`
	// Simulate runs on the given number of simulated devices instead of
	// the CUDA runtime.
	// +optional
	Simulate int `json:"simulate,omitempty"`
	// +optional
	Log log.Config `json:"log,omitempty"`
	// +optional
	Instrumentation instrumentation.Config `json:"instrumentation,omitempty"`
	// +optional
	Output Output `json:"output,omitempty"`
}

// Sizes is a sweep of transfer sizes, given as log2 of the byte count.
// An explicit list takes precedence over the range.
type Sizes struct {
	// +optional
	MinLog2 *int64 `json:"minLog2,omitempty"`
	// +optional
	MaxLog2 *int64 `json:"maxLog2,omitempty"`
	// +optional
	// +kubebuilder:default=1
	Step int64 `json:"step,omitempty"`
	// +optional
	Log2 []int64 `json:"log2,omitempty"`
}

// Extent is the width (in bytes), height and depth of a 3D transfer.
type Extent struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
	Depth  int64 `json:"depth"`
}

// Output configures result reporting.
type Output struct {
	// Format of the results.
	// +optional
	// +kubebuilder:validation:Enum=table;json;yaml
	// +kubebuilder:default="table"
	Format string `json:"format,omitempty"`
	// File to write results to, instead of stdout.
	// +optional
	File string `json:"file,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// Load reads, defaults and validates the configuration file.
func Load(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration %s: %w", file, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return c, nil
}

// Parse parses, defaults and validates configuration data in YAML or JSON.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetDefaults fills in unset fields with their defaults.
func (c *Config) SetDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = APIVersion
	}
	if c.Kind == "" {
		c.Kind = Kind
	}
	if len(c.Families) == 0 {
		c.Families = []string{"*"}
	}
	c.Sizes.setDefaults()
	if len(c.Extents) == 0 {
		c.Extents = []Extent{
			{Width: 256, Height: 256, Depth: 4},
			{Width: 512, Height: 512, Depth: 64},
		}
	}
	if c.MinTime.Duration == 0 {
		c.MinTime.Duration = bench.DefaultMinTime
	}
	if c.Flush == nil {
		c.Flush = boolPtr(true)
	}
	if c.ResetDevices == nil {
		c.ResetDevices = boolPtr(true)
	}
	if c.Output.Format == "" {
		c.Output.Format = bench.FormatTable
	}
	if c.Instrumentation.Namespace == "" {
		c.Instrumentation.Namespace = instrumentation.DefaultNamespace
	}
}

func (s *Sizes) setDefaults() {
	if len(s.Log2) == 0 {
		if s.MinLog2 == nil {
			s.MinLog2 = int64Ptr(DefaultMinSizeLog2)
		}
		if s.MaxLog2 == nil {
			s.MaxLog2 = int64Ptr(DefaultMaxSizeLog2)
		}
	}
	if s.Step == 0 {
		s.Step = 1
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.APIVersion != "" && c.APIVersion != APIVersion {
		return fmt.Errorf("%w: unsupported apiVersion %q", ErrInvalidConfig, c.APIVersion)
	}
	if c.Kind != "" && c.Kind != Kind {
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidConfig, c.Kind)
	}

	for i, id := range c.Devices {
		if id < 0 {
			return fmt.Errorf("%w: invalid device %d", ErrInvalidConfig, id)
		}
		if slices.Contains(c.Devices[:i], id) {
			return fmt.Errorf("%w: duplicate device %d", ErrInvalidConfig, id)
		}
	}
	if _, err := c.NodeSet(); err != nil {
		return err
	}

	if err := c.Sizes.validate(); err != nil {
		return err
	}
	if c.Iterations < 0 {
		return fmt.Errorf("%w: negative iterations %d", ErrInvalidConfig, c.Iterations)
	}
	if c.MinTime.Duration < 0 {
		return fmt.Errorf("%w: negative minTime %s", ErrInvalidConfig, c.MinTime.Duration)
	}
	if c.Simulate < 0 {
		return fmt.Errorf("%w: negative number of simulated devices %d", ErrInvalidConfig, c.Simulate)
	}
	if c.Output.Format != "" && !slices.Contains(bench.Formats(), c.Output.Format) {
		return fmt.Errorf("%w: unknown output format %q, expected one of %v",
			ErrInvalidConfig, c.Output.Format, bench.Formats())
	}

	mcfg := c.MatrixConfig()
	if err := mcfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

func (s *Sizes) validate() error {
	if len(s.Log2) > 0 {
		return nil
	}
	if s.Step <= 0 {
		return fmt.Errorf("%w: size step must be positive, got %d", ErrInvalidConfig, s.Step)
	}
	if s.MinLog2 == nil || s.MaxLog2 == nil {
		return fmt.Errorf("%w: incomplete size range", ErrInvalidConfig)
	}
	if *s.MinLog2 < 0 {
		return fmt.Errorf("%w: negative minimum size %d", ErrInvalidConfig, *s.MinLog2)
	}
	if *s.MinLog2 > *s.MaxLog2 {
		return fmt.Errorf("%w: empty size range %d-%d", ErrInvalidConfig, *s.MinLog2, *s.MaxLog2)
	}
	return nil
}

// List returns the sizes of the sweep, as log2 of the byte count.
func (s *Sizes) List() []int64 {
	if len(s.Log2) > 0 {
		return slices.Clone(s.Log2)
	}
	if s.Step <= 0 || s.MinLog2 == nil || s.MaxLog2 == nil {
		return nil
	}
	var sizes []int64
	for n := *s.MinLog2; n <= *s.MaxLog2; n += s.Step {
		sizes = append(sizes, n)
	}
	return sizes
}

// NodeSet returns the NUMA nodes the run is restricted to, or an empty
// set for no restriction.
func (c *Config) NodeSet() (cpuset.CPUSet, error) {
	if c.NUMANodes == "" {
		return cpuset.New(), nil
	}
	nodes, err := cpuset.Parse(c.NUMANodes)
	if err != nil {
		return cpuset.New(), fmt.Errorf("%w: invalid numaNodes %q: %w", ErrInvalidConfig, c.NUMANodes, err)
	}
	return nodes, nil
}

// FlushEnabled returns true if cache-flushed variants are registered.
func (c *Config) FlushEnabled() bool {
	return c.Flush == nil || *c.Flush
}

// ResetEnabled returns true if devices are reset before every instance.
func (c *Config) ResetEnabled() bool {
	return c.ResetDevices == nil || *c.ResetDevices
}

// MatrixConfig returns the configuration of the benchmark matrix.
func (c *Config) MatrixConfig() matrix.Config {
	mcfg := matrix.Config{
		Families:     slices.Clone(c.Families),
		Sizes:        c.Sizes.List(),
		Flush:        c.FlushEnabled(),
		ResetDevices: c.ResetEnabled(),
		Iterations:   c.Iterations,
	}
	for _, e := range c.Extents {
		mcfg.Extents = append(mcfg.Extents, cuda.Extent{
			Width:  e.Width,
			Height: e.Height,
			Depth:  e.Depth,
		})
	}
	return mcfg
}

// RunnerOptions returns the benchmark runner options of the configuration.
func (c *Config) RunnerOptions() []bench.RunnerOption {
	minTime := c.MinTime.Duration
	if minTime == 0 {
		minTime = bench.DefaultMinTime
	}
	return []bench.RunnerOption{
		bench.WithDefaultIterations(c.Iterations),
		bench.WithDefaultMinTime(minTime),
	}
}

// SetMinTime sets the minimum measured time of adaptive runs.
func (c *Config) SetMinTime(d time.Duration) {
	c.MinTime = metav1.Duration{Duration: d}
}

func boolPtr(b bool) *bool {
	return &b
}

func int64Ptr(i int64) *int64 {
	return &i
}
