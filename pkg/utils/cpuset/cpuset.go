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

// Package cpuset wraps k8s.io/utils/cpuset. The same list syntax is used
// for both CPU and NUMA node sets.
package cpuset

import (
	"fmt"

	"k8s.io/utils/cpuset"
)

// CPUSet is an alias for k8s.io/utils/cpuset.CPUSet.
type CPUSet = cpuset.CPUSet

var (
	// New is an alias for cpuset.New.
	New = cpuset.New
	// Parse is an alias for cpuset.Parse.
	Parse = cpuset.Parse
)

// MustParse panics if parsing the given cpuset string fails.
func MustParse(s string) cpuset.CPUSet {
	cset, err := cpuset.Parse(s)
	if err != nil {
		panic(fmt.Errorf("failed to parse CPUSet %s: %w", s, err))
	}
	return cset
}

// ParseList parses a list (for instance "0-1,3") into a sorted slice of ids.
// An empty string yields an empty slice.
func ParseList(s string) ([]int, error) {
	cset, err := cpuset.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid id list %q: %w", s, err)
	}
	return cset.List(), nil
}

// Restrict returns the ids of all present in allowed, and the ones that
// were dropped. An empty allowed set keeps everything.
func Restrict(all []int, allowed CPUSet) (kept, dropped []int) {
	if allowed.IsEmpty() {
		return append([]int{}, all...), nil
	}
	kept = []int{}
	present := cpuset.New(all...)
	for _, id := range all {
		if allowed.Contains(id) {
			kept = append(kept, id)
		}
	}
	dropped = allowed.Difference(present).List()
	return kept, dropped
}
