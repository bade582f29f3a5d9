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

// Package metrics exports benchmark results and host topology as
// prometheus metrics.
//
// Collectors are registered by name into groups. A Gatherer enables the
// collectors matching a set of globs and prefixes their metrics with a
// common namespace and the name of their group:
//
//	r := metrics.NewRegistry()
//	results := metrics.NewResultCollector()
//	r.Register("benchmarks", results, metrics.WithGroup("results"))
//	g, err := r.NewGatherer(metrics.WithNamespace("gpu_membench"))
//
// The gathered metrics can be served over HTTP with a Server, or dumped
// into a node-exporter textfile with WriteTextfile.
package metrics
