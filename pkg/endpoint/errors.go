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
	"fmt"
)

var (
	ErrAllocation  = fmt.Errorf("endpoint: allocation failed")
	ErrInvalidType = fmt.Errorf("endpoint: invalid type")
	ErrInvalidKind = fmt.Errorf("endpoint: invalid kind")
	ErrReleased    = fmt.Errorf("endpoint: already released")
)

// AllocationError is the failure of a single step of acquiring an endpoint.
type AllocationError struct {
	Kind string
	Step string
	Err  error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("endpoint: failed to allocate %s: %s: %v", e.Kind, e.Step, e.Err)
}

// Unwrap makes both ErrAllocation and the underlying error match errors.Is.
func (e *AllocationError) Unwrap() []error {
	return []error{ErrAllocation, e.Err}
}

func allocError(kind Kind, step string, err error) error {
	return &AllocationError{Kind: kind.Describe(), Step: step, Err: err}
}
