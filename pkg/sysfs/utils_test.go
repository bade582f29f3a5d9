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

package sysfs

import (
	"testing"

	idset "github.com/intel/goresctrl/pkg/utils"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	type testCase struct {
		name   string
		value  string
		ptr    func() interface{}
		args   []interface{}
		expect interface{}
		fails  bool
	}
	for _, tc := range []*testCase{
		{
			name:   "int",
			value:  "42",
			ptr:    func() interface{} { return new(int) },
			expect: 42,
		},
		{
			name:   "cache or node id",
			value:  "3",
			ptr:    func() interface{} { return new(idset.ID) },
			expect: idset.ID(3),
		},
		{
			name:   "size in kB",
			value:  "2048 kB",
			ptr:    func() interface{} { return new(uint64) },
			expect: uint64(2048 * 1024),
		},
		{
			name:   "distances",
			value:  "10 21",
			ptr:    func() interface{} { return &[]int{} },
			expect: []int{10, 21},
		},
		{
			name:   "id set",
			value:  "0-2,5",
			ptr:    func() interface{} { s := idset.NewIDSet(); return &s },
			args:   []interface{}{","},
			expect: idset.NewIDSet(0, 1, 2, 5),
		},
		{
			name:  "bad int",
			value: "x",
			ptr:   func() interface{} { return new(int) },
			fails: true,
		},
		{
			name:  "unsupported type",
			value: "1",
			ptr:   func() interface{} { return new(float64) },
			fails: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ptr := tc.ptr()
			err := parseValue(tc.value, ptr, tc.args...)
			if tc.fails {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			switch p := ptr.(type) {
			case *int:
				require.Equal(t, tc.expect, *p)
			case *uint64:
				require.Equal(t, tc.expect, *p)
			case *[]int:
				require.Equal(t, tc.expect, *p)
			case *idset.IDSet:
				require.Equal(t, tc.expect.(idset.IDSet).SortedMembers(), p.SortedMembers())
			}
		})
	}
}
