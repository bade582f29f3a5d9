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

package log

import (
	"fmt"
	"sort"
	"strings"
)

// srcmap is the per source debug state. The "*" entry is the fallback
// for sources without an explicit state.
type srcmap map[string]bool

// parse updates m from a comma separated list of [state:]source entries.
// An entry without a state inherits the state of the previous one, the
// first one defaults to on.
func (m *srcmap) parse(value string) error {
	if *m == nil {
		*m = make(srcmap)
	}

	state := true
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Count(entry, ":") > 1 {
			return loggerError("invalid state spec '%s' in source map", entry)
		}
		if prefix, src, ok := strings.Cut(entry, ":"); ok {
			enabled, err := parseEnabled(prefix)
			if err != nil {
				return loggerError("invalid state '%s' in source map", prefix)
			}
			state, entry = enabled, strings.TrimSpace(src)
		}
		if entry == "all" {
			entry = "*"
		}
		(*m)[entry] = state
	}

	return nil
}

// enabled returns the debug state of source.
func (m srcmap) enabled(source string) bool {
	if state, ok := m[source]; ok {
		return state
	}
	return m["*"]
}

// String returns m in a form parse accepts.
func (m *srcmap) String() string {
	var on, off []string
	for src, state := range *m {
		if state {
			on = append(on, src)
		} else {
			off = append(off, src)
		}
	}
	sort.Strings(on)
	sort.Strings(off)

	var parts []string
	if len(on) > 0 {
		parts = append(parts, "on:"+strings.Join(on, ","))
	}
	if len(off) > 0 {
		parts = append(parts, "off:"+strings.Join(off, ","))
	}
	return strings.Join(parts, ",")
}

func parseEnabled(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "enable", "enabled", "1", "yes":
		return true, nil
	case "off", "false", "disable", "disabled", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value %q", value)
}
