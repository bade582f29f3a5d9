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

package cpuset_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/containers/gpu-membench/pkg/utils/cpuset"
)

func TestParseList(t *testing.T) {
	type testCase struct {
		name   string
		input  string
		result []int
		fail   bool
	}
	for _, tc := range []*testCase{
		{name: "empty", input: "", result: []int{}},
		{name: "single", input: "3", result: []int{3}},
		{name: "ranges", input: "4,0-1,7-8", result: []int{0, 1, 4, 7, 8}},
		{name: "garbage", input: "0-x", fail: true},
		{name: "reversed range", input: "3-1", fail: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ids, err := cpuset.ParseList(tc.input)
			if tc.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.result, ids)
		})
	}
}

func TestRestrict(t *testing.T) {
	type testCase struct {
		name    string
		all     []int
		allowed string
		kept    []int
		dropped []int
	}
	for _, tc := range []*testCase{
		{name: "no restriction", all: []int{0, 1}, allowed: "", kept: []int{0, 1}},
		{name: "subset", all: []int{0, 1, 2}, allowed: "0,2", kept: []int{0, 2}, dropped: []int{}},
		{name: "unknown ids", all: []int{0, 1}, allowed: "1,5-6", kept: []int{1}, dropped: []int{5, 6}},
		{name: "nothing left", all: []int{0}, allowed: "3", kept: []int{}, dropped: []int{3}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			kept, dropped := cpuset.Restrict(tc.all, cpuset.MustParse(tc.allowed))
			require.Equal(t, tc.kept, kept)
			require.Equal(t, tc.dropped, dropped)
		})
	}
}
