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
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/containers/gpu-membench/pkg/bench"
	"github.com/containers/gpu-membench/pkg/cuda"
	logger "github.com/containers/gpu-membench/pkg/log"
	"github.com/containers/gpu-membench/pkg/topology"
	"github.com/containers/gpu-membench/pkg/transfer"
)

var (
	log = logger.Get("matrix")

	// ErrConfiguration is returned for invalid matrix configuration.
	ErrConfiguration = errors.New("matrix: invalid configuration")
)

const (
	// MaxSizeLog2 is the largest accepted size exponent.
	MaxSizeLog2 = 40
)

var _ transfer.State = &bench.State{}

// Registrar registers benchmark routines. A *bench.Registry is one.
type Registrar interface {
	Register(name string, routine bench.Routine, options ...bench.Option) error
}

// Runner runs a transfer. A *transfer.Executor is one.
type Runner interface {
	Run(ctx context.Context, cfg *transfer.Config, st transfer.State) ([]transfer.Sample, error)
}

// Config is the configuration of the generated matrix.
type Config struct {
	// Families are globs of the families to generate. Empty selects all.
	Families []string
	// Sizes are the log2 of the byte counts to sweep over.
	Sizes []int64
	// Extents are the 3D regions to sweep over in block families.
	Extents []cuda.Extent
	// Flush also generates the _flush variants of flushable families.
	Flush bool
	// ResetDevices resets the involved devices before every instance.
	ResetDevices bool
	// Iterations fixes the iterations of every instance, if non-zero.
	Iterations int64
}

// Validate checks the configuration.
func (cfg *Config) Validate() error {
	for _, glob := range cfg.Families {
		if _, err := path.Match(glob, ""); err != nil {
			return fmt.Errorf("%w: family glob %q: %w", ErrConfiguration, glob, err)
		}
		switch matched := matchFamilies(glob); {
		case len(matched) == 0:
			return fmt.Errorf("%w: no family matches %q", ErrConfiguration, glob)
		case !cfg.Flush && onlyFlushed(matched):
			return fmt.Errorf("%w: %q only matches %s variants, which are disabled",
				ErrConfiguration, glob, flushSuffix)
		}
	}
	for _, s := range cfg.Sizes {
		if s < 0 || s > MaxSizeLog2 {
			return fmt.Errorf("%w: size exponent %d out of range 0-%d", ErrConfiguration, s, MaxSizeLog2)
		}
	}
	for _, e := range cfg.Extents {
		if e.IsZero() || !e.Fits(BlockAllocation) {
			return fmt.Errorf("%w: extent %dx%dx%d does not fit into %dx%dx%d", ErrConfiguration,
				e.Width, e.Height, e.Depth, BlockAllocation.Width, BlockAllocation.Height, BlockAllocation.Depth)
		}
	}
	if cfg.Iterations < 0 {
		return fmt.Errorf("%w: negative iterations %d", ErrConfiguration, cfg.Iterations)
	}
	return nil
}

func matchFamilies(glob string) []string {
	var matched []string
	for _, name := range Families() {
		if ok, _ := path.Match(glob, name); ok {
			matched = append(matched, name)
		}
	}
	return matched
}

func onlyFlushed(names []string) bool {
	for _, name := range names {
		if !strings.HasSuffix(name, flushSuffix) {
			return false
		}
	}
	return true
}

// selected tells if the family of the given name is selected.
func (cfg *Config) selected(name string) bool {
	if len(cfg.Families) == 0 {
		return true
	}
	for _, glob := range cfg.Families {
		if ok, _ := path.Match(glob, name); ok {
			return true
		}
	}
	return false
}

// Instance is a planned benchmark instance.
type Instance struct {
	// Family is the transfer family of the instance.
	Family string
	// Benchmark is the name the instance is registered under.
	Benchmark string
	// Args are the sweep parameters of the instance.
	Args []int64
	// Config is the transfer run by the instance.
	Config *transfer.Config
}

// Name returns the full name of the instance.
func (i *Instance) Name() string {
	return i.Benchmark + "/" + joinArgs(i.Args)
}

// Generator generates the benchmark matrix of a topology.
type Generator struct {
	catalog *topology.Catalog
	runner  Runner
	cfg     Config
}

// New creates a generator for the topology of catalog, running the
// generated transfers with runner.
func New(catalog *topology.Catalog, runner Runner, cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		catalog: catalog,
		runner:  runner,
		cfg:     cfg,
	}, nil
}

// Plan returns all instances of the matrix in registration order.
func (g *Generator) Plan() []*Instance {
	var plan []*Instance

	for _, f := range families {
		variants := []bool{false}
		if f.flushable && g.cfg.Flush {
			variants = append(variants, true)
		}

		selected := false
		for _, flush := range variants {
			if g.cfg.selected(familyName(f, flush)) {
				selected = true
			}
		}
		if !selected {
			continue
		}

		for _, p := range f.placements(g.catalog) {
			for _, flush := range variants {
				name := familyName(f, flush)
				if !g.cfg.selected(name) {
					continue
				}
				benchmark := name + "/" + joinInts(p.ids)
				plan = append(plan, g.instances(f, p, benchmark, flush)...)
			}
		}
	}

	return plan
}

func (g *Generator) instances(f *family, p placement, benchmark string, flush bool) []*Instance {
	var instances []*Instance

	newInstance := func(args []int64, bytes int64, block *cuda.Extent) *Instance {
		src, dst := p.kinds(bytes)
		inst := &Instance{
			Family:    familyName(f, flush),
			Benchmark: benchmark,
			Args:      args,
			Config: &transfer.Config{
				Src:          src,
				Dst:          dst,
				Bytes:        bytes,
				Block:        block,
				Flush:        flush,
				Zero:         f.zero,
				ResetDevices: g.cfg.ResetDevices,
				Counters:     p.counters,
			},
		}
		inst.Config.Name = inst.Name()
		return inst
	}

	if f.block {
		for _, e := range g.cfg.Extents {
			ext := e
			instances = append(instances,
				newInstance([]int64{e.Width, e.Height, e.Depth}, ext.Bytes(), &ext))
		}
		return instances
	}

	for _, s := range g.cfg.Sizes {
		instances = append(instances, newInstance([]int64{s}, int64(1)<<s, nil))
	}
	return instances
}

// Register registers all instances of the matrix with reg. It returns
// the number of registered instances.
func (g *Generator) Register(reg Registrar) (int, error) {
	var (
		plan    = g.Plan()
		order   []string
		options = make(map[string][]bench.Option)
		configs = make(map[string]*transfer.Config, len(plan))
	)

	for _, inst := range plan {
		if _, ok := options[inst.Benchmark]; !ok {
			order = append(order, inst.Benchmark)
			options[inst.Benchmark] = []bench.Option{
				bench.WithFamily(inst.Family),
				bench.UseManualTime(),
			}
			if g.cfg.Iterations > 0 {
				options[inst.Benchmark] = append(options[inst.Benchmark], bench.WithIterations(g.cfg.Iterations))
			}
		}
		options[inst.Benchmark] = append(options[inst.Benchmark], bench.WithArgs(inst.Args...))
		configs[inst.Name()] = inst.Config
	}

	routine := func(ctx context.Context, st *bench.State) {
		cfg, ok := configs[st.Name()]
		if !ok {
			st.SkipWithError(st.Name() + " has no transfer configuration")
			return
		}
		g.runner.Run(ctx, cfg, st)
	}

	for _, name := range order {
		if err := reg.Register(name, routine, options[name]...); err != nil {
			return 0, fmt.Errorf("matrix: failed to register %s: %w", name, err)
		}
	}

	log.Info("registered %d benchmark instances in %d benchmarks", len(plan), len(order))

	return len(plan), nil
}

func familyName(f *family, flush bool) string {
	if flush {
		return f.name + flushSuffix
	}
	return f.name
}

func joinInts(ids []int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}
	return strings.Join(parts, "/")
}

func joinArgs(args []int64) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, strconv.FormatInt(a, 10))
	}
	return strings.Join(parts, "/")
}
