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

package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrTransfer is the base error of failed transfers.
	ErrTransfer = errors.New("transfer failed")
	// ErrInvalidConfig is returned for inconsistent transfer configuration.
	ErrInvalidConfig = errors.New("invalid transfer configuration")
)

// Error is a failure of a step of a benchmark instance.
type Error struct {
	Name string
	Step string
	Err  error
}

// Reason returns the skip reason reported for the failed instance.
func (e *Error) Reason() string {
	return fmt.Sprintf("%s failed to %s", e.Name, e.Step)
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason(), e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrTransfer, e.Err}
}
