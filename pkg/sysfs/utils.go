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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	idset "github.com/intel/goresctrl/pkg/utils"

	"github.com/containers/gpu-membench/pkg/utils/cpuset"
)

// PickEntryFn picks a key and value from a single line of a file.
type PickEntryFn func(string) (string, string, error)

// readSysfsEntry reads a single sysfs entry, optionally parsing it into ptr.
func readSysfsEntry(base, entry string, ptr interface{}, args ...interface{}) (string, error) {
	path := filepath.Join(base, entry)

	blob, err := os.ReadFile(path)
	if err != nil {
		return "", sysfsError(path, "failed to read sysfs entry: %v", err)
	}

	value := strings.TrimSpace(string(blob))

	if ptr == nil {
		return value, nil
	}

	if err := parseValue(value, ptr, args...); err != nil {
		return "", sysfsError(path, "%v", err)
	}

	return value, nil
}

// parseValue parses a sysfs value into the given pointer.
func parseValue(value string, ptr interface{}, args ...interface{}) error {
	switch p := ptr.(type) {
	case *string:
		*p = value
	case *int:
		v, err := strconv.ParseInt(value, 0, 0)
		if err != nil {
			return err
		}
		*p = int(v)
	case *uint64:
		v, err := strconv.ParseUint(strings.TrimSuffix(value, " kB"), 0, 64)
		if err != nil {
			return err
		}
		if strings.HasSuffix(value, " kB") {
			v *= 1024
		}
		*p = v
	case *[]int:
		ints := []int{}
		for _, f := range strings.Fields(value) {
			v, err := strconv.ParseInt(f, 0, 0)
			if err != nil {
				return err
			}
			ints = append(ints, int(v))
		}
		*p = ints
	case *idset.IDSet:
		sep := ","
		if len(args) > 0 {
			if s, ok := args[0].(string); ok {
				sep = s
			}
		}
		cset, err := cpuset.Parse(strings.ReplaceAll(value, sep, ","))
		if err != nil {
			return err
		}
		*p = IDSetFromCPUSet(cset)
	default:
		return fmt.Errorf("unsupported sysfs entry type %T", ptr)
	}

	return nil
}

// ParseFileEntries parses selected entries of a file, one entry per line.
func ParseFileEntries(path string, values map[string]interface{}, pickFn PickEntryFn) error {
	f, err := os.Open(path)
	if err != nil {
		return sysfsError(path, "failed to open: %v", err)
	}
	defer f.Close()

	left := len(values)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && left > 0 {
		key, value, err := pickFn(scanner.Text())
		if err != nil {
			return err
		}
		ptr, ok := values[key]
		if !ok {
			continue
		}
		if err := parseValue(value, ptr); err != nil {
			return sysfsError(path, "failed to parse %s: %v", key, err)
		}
		left--
	}

	if err := scanner.Err(); err != nil {
		return sysfsError(path, "failed to read: %v", err)
	}

	return nil
}

// getEnumeratedID returns the trailing numeric ID of a sysfs path.
func getEnumeratedID(path string) idset.ID {
	base := filepath.Base(path)
	idx := len(base)
	for idx > 0 && base[idx-1] >= '0' && base[idx-1] <= '9' {
		idx--
	}
	id, err := strconv.Atoi(base[idx:])
	if err != nil {
		return -1
	}
	return idset.ID(id)
}

// IDSetFromCPUSet returns an id set corresponding to a cpuset.CPUSet.
func IDSetFromCPUSet(cset cpuset.CPUSet) idset.IDSet {
	s := idset.NewIDSet()
	for _, id := range cset.List() {
		s.Add(idset.ID(id))
	}
	return s
}

// CPUSetFromIDSet returns a cpuset.CPUSet corresponding to an id set.
func CPUSetFromIDSet(s idset.IDSet) cpuset.CPUSet {
	ints := make([]int, 0, s.Size())
	for _, id := range s.Members() {
		ints = append(ints, int(id))
	}
	return cpuset.New(ints...)
}

func sysfsError(path, format string, args ...interface{}) error {
	return fmt.Errorf("sysfs: %s: %s", path, fmt.Sprintf(format, args...))
}
