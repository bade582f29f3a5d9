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

package mempolicy

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// SetMempolicy calls set_mempolicy syscall
func SetMempolicy(mpol uint, nodes []int) error {
	if len(nodes) == 0 {
		_, _, errno := unix.Syscall(unix.SYS_SET_MEMPOLICY, uintptr(mpol), 0, 0)
		if errno != 0 {
			return errno
		}
		return nil
	}

	nodeMask, err := nodesToMask(nodes)
	if err != nil {
		return err
	}
	_, _, errno := unix.Syscall(unix.SYS_SET_MEMPOLICY, uintptr(mpol),
		uintptr(unsafe.Pointer(&nodeMask[0])), uintptr(len(nodeMask)*64+1))
	if errno != 0 {
		return errno
	}
	return nil
}

// GetMempolicy calls get_mempolicy syscall
func GetMempolicy() (uint, []int, error) {
	var mpol uint32
	nodeMask := make([]uint64, MAX_NUMA_NODES/64)
	_, _, errno := unix.Syscall6(unix.SYS_GET_MEMPOLICY,
		uintptr(unsafe.Pointer(&mpol)),
		uintptr(unsafe.Pointer(&nodeMask[0])),
		uintptr(MAX_NUMA_NODES), 0, 0, 0)
	if errno != 0 {
		return 0, []int{}, errno
	}
	return uint(mpol), maskToNodes(nodeMask), nil
}
