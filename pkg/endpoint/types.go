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

package endpoint

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type is the type of memory behind an endpoint.
type Type int

const (
	// TypeDevice is GPU device memory.
	TypeDevice Type = iota
	// TypePinned is page-locked host memory registered with the GPU runtime.
	TypePinned
	// TypeWriteCombined is page-locked write-combined host memory.
	TypeWriteCombined
	// TypeNUMA is pageable host memory bound to a NUMA node.
	TypeNUMA
)

var (
	typeToString = map[Type]string{
		TypeDevice:        "device",
		TypePinned:        "pinned",
		TypeWriteCombined: "wc",
		TypeNUMA:          "numa",
	}
	stringToType = map[string]Type{
		"DEVICE":         TypeDevice,
		"GPU":            TypeDevice,
		"PINNED":         TypePinned,
		"WC":             TypeWriteCombined,
		"WRITECOMBINED":  TypeWriteCombined,
		"WRITE-COMBINED": TypeWriteCombined,
		"NUMA":           TypeNUMA,
		"HOST":           TypeNUMA,
	}
)

// ParseType parses the given string into an endpoint type.
func ParseType(str string) (Type, error) {
	if t, ok := stringToType[strings.ToUpper(str)]; ok {
		return t, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrInvalidType, str)
}

// IsValid returns true if the type is known.
func (t Type) IsValid() bool {
	_, ok := typeToString[t]
	return ok
}

// IsHost returns true if the type is host memory.
func (t Type) IsHost() bool {
	return t != TypeDevice
}

// String returns a string representation of the type.
func (t Type) String() string {
	if str, ok := typeToString[t]; ok {
		return str
	}

	return fmt.Sprintf("%%!(endpoint:Bad-Type %d)", t)
}

// MarshalJSON is the json.Marshaller for Type.
func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON is the json.Unmarshaller for Type.
func (t *Type) UnmarshalJSON(data []byte) error {
	i := 0
	if err := json.Unmarshal(data, &i); err == nil {
		if _, ok := typeToString[Type(i)]; ok {
			*t = Type(i)
			return nil
		}
		return fmt.Errorf("%w: %d", ErrInvalidType, i)
	}

	str := ""
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidType, string(data))
	}

	typ, err := ParseType(str)
	if err != nil {
		return err
	}
	*t = typ

	return nil
}
