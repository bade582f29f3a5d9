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
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	cfgapi "github.com/containers/gpu-membench/pkg/apis/config/v1alpha1"
	"github.com/containers/gpu-membench/pkg/bench"
	"github.com/containers/gpu-membench/pkg/endpoint"
	"github.com/containers/gpu-membench/pkg/healthz"
	"github.com/containers/gpu-membench/pkg/matrix"
	"github.com/containers/gpu-membench/pkg/metrics"
	"github.com/containers/gpu-membench/pkg/metrics/collectors"
	"github.com/containers/gpu-membench/pkg/topology"
	"github.com/containers/gpu-membench/pkg/transfer"
)

const (
	metricsStopTimeout = 5 * time.Second
)

// runOptions are the command line options of the run command.
type runOptions struct {
	*options
	filters     []string
	iterations  int64
	minTime     time.Duration
	format      string
	output      string
	metricsAddr string
	metricsFile string
}

func newRunCommand(o *options) *cobra.Command {
	ro := &runOptions{options: o}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmarks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ro.config(cmd.Flags())
			if err != nil {
				return err
			}
			return runBenchmarks(cmd.Context(), cfg, ro.filters, cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	fs.StringSliceVarP(&ro.filters, "filter", "f", nil, "only run benchmarks matching the given globs")
	fs.Int64VarP(&ro.iterations, "iterations", "n", 0, "fixed number of iterations, 0 for adaptive")
	fs.DurationVar(&ro.minTime, "min-time", bench.DefaultMinTime, "minimum measured time of adaptive benchmarks")
	fs.StringVarP(&ro.format, "format", "o", bench.FormatTable, fmt.Sprintf("result format, one of %v", bench.Formats()))
	fs.StringVar(&ro.output, "output", "", "file to write results to instead of stdout")
	fs.StringVar(&ro.metricsAddr, "metrics-addr", "", "serve Prometheus metrics at this address during the run")
	fs.StringVar(&ro.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")

	return cmd
}

func (ro *runOptions) config(fs *pflag.FlagSet) (*cfgapi.Config, error) {
	cfg, err := ro.options.config(fs)
	if err != nil {
		return nil, err
	}

	if fs.Changed("iterations") {
		cfg.Iterations = ro.iterations
	}
	if fs.Changed("min-time") {
		cfg.SetMinTime(ro.minTime)
	}
	if fs.Changed("format") {
		cfg.Output.Format = ro.format
	}
	if fs.Changed("output") {
		cfg.Output.File = ro.output
	}
	if fs.Changed("metrics-addr") {
		cfg.Instrumentation.HTTPEndpoint = ro.metricsAddr
	}
	if fs.Changed("metrics-file") {
		cfg.Instrumentation.Textfile = ro.metricsFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := bench.ValidateFilters(ro.filters...); err != nil {
		return nil, err
	}

	return cfg, nil
}

// runBenchmarks registers and runs the benchmark matrix of cfg, reporting
// results to out.
func runBenchmarks(ctx context.Context, cfg *cfgapi.Config, filters []string, out io.Writer) (retErr error) {
	catalog, err := newCatalog(cfg)
	if err != nil {
		return err
	}
	catalog.LogTopology()

	alloc := endpoint.NewAllocator(catalog.Runtime(), endpoint.WithPeerEnabler(catalog))
	flusher := endpoint.NewCacheFlusher(catalog.LastLevelCacheSize(), nil)
	executor := transfer.NewExecutor(alloc,
		transfer.WithDeviceResetter(catalog),
		transfer.WithCacheFlusher(flusher),
	)
	defer func() {
		if err := executor.Close(); err != nil {
			retErr = multierror.Append(retErr, err)
		}
	}()

	generator, err := matrix.New(catalog, executor, cfg.MatrixConfig())
	if err != nil {
		return err
	}

	registry := bench.NewRegistry()
	if _, err := generator.Register(registry); err != nil {
		return err
	}

	if cfg.Output.File != "" {
		f, err := os.Create(cfg.Output.File)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				retErr = multierror.Append(retErr, err)
			}
		}()
		out = f
	}

	reporter, err := bench.NewReporter(cfg.Output.Format, out)
	if err != nil {
		return err
	}
	reporters := []bench.Reporter{reporter}

	var exporter *metricsExporter
	if cfg.Instrumentation.IsExporting() {
		exporter, err = startMetrics(catalog, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := exporter.stop(); err != nil {
				retErr = multierror.Append(retErr, err)
			}
		}()
		reporters = append(reporters, exporter.results)
	}

	opts := append(cfg.RunnerOptions(),
		bench.WithFilters(filters...),
		bench.WithReporters(reporters...),
	)
	runner, err := bench.NewRunner(registry, opts...)
	if err != nil {
		return err
	}

	results, err := runner.Run(ctx)
	skipped := 0
	for _, r := range results {
		if r.Skipped {
			skipped++
		}
	}
	log.Info("ran %d benchmarks, %d skipped", len(results), skipped)

	return err
}

// metricsExporter exports benchmark results and topology as metrics.
type metricsExporter struct {
	results  *metrics.ResultCollector
	gatherer *metrics.Gatherer
	server   *metrics.Server
	textfile string
}

func startMetrics(catalog *topology.Catalog, cfg *cfgapi.Config) (*metricsExporter, error) {
	e := &metricsExporter{
		results:  metrics.NewResultCollector(),
		textfile: cfg.Instrumentation.Textfile,
	}

	r := metrics.NewRegistry()
	if err := r.Register("benchmarks", e.results, metrics.WithGroup("results")); err != nil {
		return nil, err
	}
	if err := r.Register("catalog", metrics.NewTopologyCollector(catalog), metrics.WithGroup("topology")); err != nil {
		return nil, err
	}
	if err := collectors.RegisterStandard(r); err != nil {
		return nil, err
	}

	g, err := r.NewGatherer(
		metrics.WithNamespace(cfg.Instrumentation.GetNamespace()),
		metrics.WithMetrics(cfg.Instrumentation.EnabledMetrics()...),
	)
	if err != nil {
		return nil, err
	}
	e.gatherer = g

	if addr := cfg.Instrumentation.HTTPEndpoint; addr != "" {
		checker := healthz.NewChecker()
		if err := checker.Register("gpu-runtime", runtimeHealth(catalog)); err != nil {
			return nil, err
		}
		e.server = metrics.NewServer()
		e.server.Handle("/healthz", checker)
		if err := e.server.Start(addr, g); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// runtimeHealth checks that all devices of catalog are still visible.
func runtimeHealth(catalog *topology.Catalog) healthz.CheckFn {
	return func() (healthz.Status, error) {
		count, err := catalog.Runtime().DeviceCount()
		if err != nil {
			return healthz.NonFunctional, err
		}
		if want := len(catalog.Devices()); count < want {
			return healthz.Degraded, fmt.Errorf("%d of %d devices visible", count, want)
		}
		return healthz.Healthy, nil
	}
}

func (e *metricsExporter) stop() error {
	var errs *multierror.Error

	if e.textfile != "" {
		if err := metrics.WriteTextfile(e.textfile, e.gatherer); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), metricsStopTimeout)
		defer cancel()
		if err := e.server.Stop(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}
