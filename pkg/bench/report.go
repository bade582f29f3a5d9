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

package bench

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"sigs.k8s.io/yaml"
)

// Reporter consumes the results of a run.
type Reporter interface {
	Report(results []*Result) error
}

// Output formats of results.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Formats returns the supported output formats.
func Formats() []string {
	return []string{FormatTable, FormatJSON, FormatYAML}
}

// NewReporter returns a reporter writing results in the given format.
func NewReporter(format string, w io.Writer) (Reporter, error) {
	switch strings.ToLower(format) {
	case FormatTable, "":
		return &TableReporter{w: w}, nil
	case FormatJSON:
		return &JSONReporter{w: w}, nil
	case FormatYAML:
		return &YAMLReporter{w: w}, nil
	}
	return nil, fmt.Errorf("%w: unknown output format %q", ErrInvalid, format)
}

// TableReporter prints results as a console table.
type TableReporter struct {
	w io.Writer
}

func (r *TableReporter) Report(results []*Result) error {
	table := tablewriter.NewWriter(r.w)
	table.SetHeader([]string{"Benchmark", "Time", "Iterations", "Bandwidth", "Counters"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, res := range results {
		if res.Skipped {
			table.Append([]string{res.Name, "SKIPPED", "", "", res.SkipReason})
			continue
		}
		table.Append([]string{
			res.Name,
			FormatSeconds(res.TimePerIteration),
			strconv.FormatInt(res.Iterations, 10),
			FormatBandwidth(res.BytesPerSecond),
			formatCounters(res.Counters),
		})
	}
	table.Render()

	return nil
}

// JSONReporter writes results as a JSON document.
type JSONReporter struct {
	w io.Writer
}

type resultDocument struct {
	Benchmarks []*Result `json:"benchmarks"`
}

func (r *JSONReporter) Report(results []*Result) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resultDocument{Benchmarks: results}); err != nil {
		return fmt.Errorf("bench: failed to write JSON results: %w", err)
	}
	return nil
}

// YAMLReporter writes results as a YAML document.
type YAMLReporter struct {
	w io.Writer
}

func (r *YAMLReporter) Report(results []*Result) error {
	data, err := yaml.Marshal(resultDocument{Benchmarks: results})
	if err != nil {
		return fmt.Errorf("bench: failed to marshal YAML results: %w", err)
	}
	if _, err := r.w.Write(data); err != nil {
		return fmt.Errorf("bench: failed to write YAML results: %w", err)
	}
	return nil
}

// FormatSeconds formats a duration given in seconds.
func FormatSeconds(s float64) string {
	switch {
	case s >= 1:
		return fmt.Sprintf("%.3f s", s)
	case s >= 1e-3:
		return fmt.Sprintf("%.3f ms", s*1e3)
	}
	return fmt.Sprintf("%.3f us", s*1e6)
}

// FormatBandwidth formats a bandwidth given in bytes per second.
func FormatBandwidth(bps float64) string {
	units := []string{"B/s", "KiB/s", "MiB/s", "GiB/s", "TiB/s"}
	u := 0
	for bps >= 1024 && u < len(units)-1 {
		bps /= 1024
		u++
	}
	return fmt.Sprintf("%.2f %s", bps, units[u])
}

func formatCounters(counters map[string]float64) string {
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	slices.Sort(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+strconv.FormatFloat(counters[name], 'f', -1, 64))
	}
	return strings.Join(parts, " ")
}
