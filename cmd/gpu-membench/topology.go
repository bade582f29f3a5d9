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
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	cfgapi "github.com/containers/gpu-membench/pkg/apis/config/v1alpha1"
	"github.com/containers/gpu-membench/pkg/mempolicy"
	"github.com/containers/gpu-membench/pkg/topology"
	"github.com/containers/gpu-membench/pkg/utils/cpuset"
)

func newTopologyCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Show the GPU and NUMA topology used for benchmarking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.config(cmd.Flags())
			if err != nil {
				return err
			}
			return showTopology(cfg, cmd.OutOrStdout())
		},
	}
}

func showTopology(cfg *cfgapi.Config, out io.Writer) error {
	catalog, err := newCatalog(cfg)
	if err != nil {
		return err
	}

	devices := newTable(out, "Device", "Name", "PCI bus", "Local NUMA nodes")
	for _, dev := range catalog.Devices() {
		busID, err := catalog.Runtime().DevicePCIBusID(int(dev))
		if err != nil {
			busID = "<unknown>"
		}
		local := "<unknown>"
		if nodes, err := catalog.DeviceLocality(dev); err == nil && len(nodes) > 0 {
			local = nodeList(nodes)
		}
		devices.Append([]string{strconv.Itoa(int(dev)), catalog.DeviceName(dev), busID, local})
	}
	devices.Render()

	fmt.Fprintf(out, "\nNUMA nodes: %s\n\n", nodeList(catalog.Nodes()))

	header := []string{"Peer access"}
	for _, dev := range catalog.Devices() {
		header = append(header, "gpu"+strconv.Itoa(int(dev)))
	}
	peers := newTable(out, header...)
	for i, row := range catalog.PeerMatrix() {
		line := []string{"gpu" + strconv.Itoa(int(catalog.Devices()[i]))}
		for j, ok := range row {
			switch {
			case i == j:
				line = append(line, "-")
			case ok:
				line = append(line, "yes")
			default:
				line = append(line, "no")
			}
		}
		peers.Append(line)
	}
	peers.Render()

	fmt.Fprintln(out)
	for _, p := range catalog.LegalDevicePairs() {
		fmt.Fprintf(out, "benchmarked device pair: %s\n", p)
	}

	mode, nodes, err := mempolicy.GetMempolicy()
	if err != nil {
		log.Debug("failed to get memory policy: %v", err)
		return nil
	}
	fmt.Fprintf(out, "\nmemory policy: %s (%d), nodes: %s\n",
		mempolicy.ModeString(mode), mode, cpuset.New(nodes...).String())

	return nil
}

func newTable(out io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(out)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	return t
}

func nodeList(nodes []topology.NodeID) string {
	ids := make([]int, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, int(n))
	}
	return cpuset.New(ids...).String()
}
