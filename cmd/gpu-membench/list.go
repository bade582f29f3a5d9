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
	"fmt"
	"io"

	"github.com/spf13/cobra"

	cfgapi "github.com/containers/gpu-membench/pkg/apis/config/v1alpha1"
	"github.com/containers/gpu-membench/pkg/bench"
	"github.com/containers/gpu-membench/pkg/matrix"
)

func newListCommand(o *options) *cobra.Command {
	var (
		filters      []string
		showFamilies bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the benchmarks that would be run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showFamilies {
				for _, name := range matrix.Families() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			if err := bench.ValidateFilters(filters...); err != nil {
				return err
			}
			cfg, err := o.config(cmd.Flags())
			if err != nil {
				return err
			}
			return listBenchmarks(cfg, filters, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVarP(&filters, "filter", "f", nil, "only list benchmarks matching the given globs")
	cmd.Flags().BoolVar(&showFamilies, "show-families", false, "list the known benchmark families instead")

	return cmd
}

// listBenchmarks prints the names of the instances of the matrix of cfg.
func listBenchmarks(cfg *cfgapi.Config, filters []string, out io.Writer) error {
	catalog, err := newCatalog(cfg)
	if err != nil {
		return err
	}

	generator, err := matrix.New(catalog, nil, cfg.MatrixConfig())
	if err != nil {
		return err
	}

	for _, inst := range generator.Plan() {
		if bench.MatchFilters(inst.Name(), filters...) {
			fmt.Fprintln(out, inst.Name())
		}
	}

	return nil
}
