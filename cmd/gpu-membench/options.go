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

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	cfgapi "github.com/containers/gpu-membench/pkg/apis/config/v1alpha1"
	"github.com/containers/gpu-membench/pkg/cuda"
	logger "github.com/containers/gpu-membench/pkg/log"
	"github.com/containers/gpu-membench/pkg/log/klogcontrol"
	"github.com/containers/gpu-membench/pkg/topology"
)

// options are the command line options common to all commands.
type options struct {
	configFile string
	simulate   int
	devices    []int
	numaNodes  string
	families   []string
	noFlush    bool
	noReset    bool
	debug      []string
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configFile, "config", "c", "", "configuration file to use")
	fs.IntVar(&o.simulate, "simulate", 0, "use the given number of simulated GPU devices")
	fs.IntSliceVar(&o.devices, "devices", nil, "restrict to the given GPU devices")
	fs.StringVar(&o.numaNodes, "numa-nodes", "", "restrict to the given NUMA nodes, e.g. 0-1")
	fs.StringSliceVar(&o.families, "families", nil, "globs of benchmark families to register")
	fs.BoolVar(&o.noFlush, "no-flush", false, "do not register cache-flushed variants")
	fs.BoolVar(&o.noReset, "no-reset", false, "do not reset devices before every benchmark")
	fs.StringSliceVar(&o.debug, "debug", nil, "enable debug logging for the given sources")
	klogcontrol.Get().AddFlags(fs)
}

// config loads the configuration file, if any, and applies the command
// line overrides to it.
func (o *options) config(fs *pflag.FlagSet) (*cfgapi.Config, error) {
	var (
		cfg *cfgapi.Config
		err error
	)

	if o.configFile != "" {
		if cfg, err = cfgapi.Load(o.configFile); err != nil {
			return nil, err
		}
	} else {
		cfg = cfgapi.Default()
	}

	if fs.Changed("simulate") {
		cfg.Simulate = o.simulate
	}
	if fs.Changed("devices") {
		cfg.Devices = o.devices
	}
	if fs.Changed("numa-nodes") {
		cfg.NUMANodes = o.numaNodes
	}
	if fs.Changed("families") {
		cfg.Families = o.families
	}
	if o.noFlush {
		cfg.Flush = new(bool)
	}
	if o.noReset {
		cfg.ResetDevices = new(bool)
	}
	if fs.Changed("debug") {
		cfg.Log.Debug = append(cfg.Log.Debug, o.debug...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logger.Configure(&cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	return cfg, nil
}

// openRuntime opens the CUDA runtime, or a simulated one.
func openRuntime(cfg *cfgapi.Config) (cuda.Runtime, error) {
	if cfg.Simulate > 0 {
		log.Warn("using %d simulated GPU devices, results are not real measurements", cfg.Simulate)
		return cuda.NewSimulator(cuda.WithDevices(cfg.Simulate)), nil
	}

	rt, err := cuda.Open()
	if err != nil {
		if errors.Is(err, cuda.ErrNotCompiled) {
			return nil, fmt.Errorf("%w (or use --simulate)", err)
		}
		return nil, fmt.Errorf("failed to open CUDA runtime: %w", err)
	}
	return rt, nil
}

// newCatalog discovers the topology the configuration restricts us to.
func newCatalog(cfg *cfgapi.Config) (*topology.Catalog, error) {
	rt, err := openRuntime(cfg)
	if err != nil {
		return nil, err
	}

	var opts []topology.Option
	if len(cfg.Devices) > 0 {
		opts = append(opts, topology.WithDevices(cfg.Devices...))
	}
	nodes, err := cfg.NodeSet()
	if err != nil {
		return nil, err
	}
	if nodes.Size() > 0 {
		opts = append(opts, topology.WithNodes(nodes))
	}

	return topology.New(rt, opts...)
}

func newRootCommand() *cobra.Command {
	o := &options{}

	cmd := &cobra.Command{
		Use:           "gpu-membench",
		Short:         "GPU and NUMA memory transfer bandwidth benchmarks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	o.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newRunCommand(o),
		newListCommand(o),
		newTopologyCommand(o),
	)

	return cmd
}
