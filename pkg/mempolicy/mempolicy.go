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

// Package mempolicy sets and gets the memory policy of the calling thread
// using the set_mempolicy and get_mempolicy system calls. Memory policy
// is per-thread state, callers must keep the goroutine locked to its OS
// thread for as long as a policy set here is expected to apply.
package mempolicy

import (
	"errors"
	"fmt"
)

const (
	MPOL_DEFAULT = iota
	MPOL_PREFERRED
	MPOL_BIND
	MPOL_INTERLEAVE
	MPOL_LOCAL
	MPOL_PREFERRED_MANY
	MPOL_WEIGHTED_INTERLEAVE

	MPOL_F_STATIC_NODES   uint = (1 << 15)
	MPOL_F_RELATIVE_NODES uint = (1 << 14)

	MAX_NUMA_NODES = 1024
)

var (
	// ErrNotSupported is returned on platforms without memory policies.
	ErrNotSupported = errors.New("mempolicy: not supported on this platform")
)

// ModeNames maps policy modes to their names.
var ModeNames = map[uint]string{
	MPOL_DEFAULT:             "MPOL_DEFAULT",
	MPOL_PREFERRED:           "MPOL_PREFERRED",
	MPOL_BIND:                "MPOL_BIND",
	MPOL_INTERLEAVE:          "MPOL_INTERLEAVE",
	MPOL_LOCAL:               "MPOL_LOCAL",
	MPOL_PREFERRED_MANY:      "MPOL_PREFERRED_MANY",
	MPOL_WEIGHTED_INTERLEAVE: "MPOL_WEIGHTED_INTERLEAVE",
}

// Flags maps mode flag names to their bits.
var Flags = map[string]uint{
	"MPOL_F_STATIC_NODES":   MPOL_F_STATIC_NODES,
	"MPOL_F_RELATIVE_NODES": MPOL_F_RELATIVE_NODES,
}

// ModeString returns the name of a policy mode, including its flags.
func ModeString(mode uint) string {
	flags := ""
	for _, name := range []string{"MPOL_F_STATIC_NODES", "MPOL_F_RELATIVE_NODES"} {
		if bit := Flags[name]; mode&bit != 0 {
			flags += "|" + name
			mode &^= bit
		}
	}
	name, ok := ModeNames[mode]
	if !ok {
		name = fmt.Sprintf("unknown mode %d", mode)
	}
	return name + flags
}

func nodesToMask(nodes []int) ([]uint64, error) {
	maxNode := 0
	for _, node := range nodes {
		if node < 0 || node >= MAX_NUMA_NODES {
			return nil, fmt.Errorf("mempolicy: node %d out of range", node)
		}
		if node > maxNode {
			maxNode = node
		}
	}
	mask := make([]uint64, (maxNode/64)+1)
	for _, node := range nodes {
		mask[node/64] |= (1 << (node % 64))
	}
	return mask, nil
}

func maskToNodes(mask []uint64) []int {
	nodes := make([]int, 0)
	for i := 0; i < len(mask)*64; i++ {
		if (mask[i/64] & (1 << (i % 64))) != 0 {
			nodes = append(nodes, i)
		}
	}
	return nodes
}

// Binder binds the memory allocations of the calling thread to a NUMA node.
type Binder struct{}

// Bind restricts future allocations of the calling thread to node.
func (Binder) Bind(node int) error {
	if err := SetMempolicy(MPOL_BIND, []int{node}); err != nil {
		return fmt.Errorf("mempolicy: failed to bind to node %d: %w", node, err)
	}
	return nil
}

// Reset restores the default memory policy of the calling thread.
func (Binder) Reset() error {
	if err := SetMempolicy(MPOL_DEFAULT, nil); err != nil {
		return fmt.Errorf("mempolicy: failed to reset policy: %w", err)
	}
	return nil
}
