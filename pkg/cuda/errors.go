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

package cuda

import (
	"errors"
	"fmt"
)

// Error is a GPU runtime error code.
type Error int

const (
	ErrInvalidValue                Error = 1
	ErrMemoryAllocation            Error = 2
	ErrInitializationError         Error = 3
	ErrInvalidPitchValue           Error = 12
	ErrInvalidMemcpyDirection      Error = 21
	ErrInsufficientDriver          Error = 35
	ErrNoDevice                    Error = 100
	ErrInvalidDevice               Error = 101
	ErrPeerAccessUnsupported       Error = 217
	ErrInvalidResourceHandle       Error = 400
	ErrNotReady                    Error = 600
	ErrPeerAccessAlreadyEnabled    Error = 704
	ErrPeerAccessNotEnabled        Error = 705
	ErrHostMemoryAlreadyRegistered Error = 712
	ErrHostMemoryNotRegistered     Error = 713
	ErrLaunchFailure               Error = 719
	ErrNotSupported                Error = 801
	ErrUnknown                     Error = 999
)

var (
	// ErrNotCompiled is returned by Open when built without GPU support.
	ErrNotCompiled = errors.New("cuda: GPU runtime support not compiled in (build with -tags cuda)")
)

var errorNames = map[Error]string{
	ErrInvalidValue:                "cudaErrorInvalidValue",
	ErrMemoryAllocation:            "cudaErrorMemoryAllocation",
	ErrInitializationError:         "cudaErrorInitializationError",
	ErrInvalidPitchValue:           "cudaErrorInvalidPitchValue",
	ErrInvalidMemcpyDirection:      "cudaErrorInvalidMemcpyDirection",
	ErrInsufficientDriver:          "cudaErrorInsufficientDriver",
	ErrNoDevice:                    "cudaErrorNoDevice",
	ErrInvalidDevice:               "cudaErrorInvalidDevice",
	ErrPeerAccessUnsupported:       "cudaErrorPeerAccessUnsupported",
	ErrInvalidResourceHandle:       "cudaErrorInvalidResourceHandle",
	ErrNotReady:                    "cudaErrorNotReady",
	ErrPeerAccessAlreadyEnabled:    "cudaErrorPeerAccessAlreadyEnabled",
	ErrPeerAccessNotEnabled:        "cudaErrorPeerAccessNotEnabled",
	ErrHostMemoryAlreadyRegistered: "cudaErrorHostMemoryAlreadyRegistered",
	ErrHostMemoryNotRegistered:     "cudaErrorHostMemoryNotRegistered",
	ErrLaunchFailure:               "cudaErrorLaunchFailure",
	ErrNotSupported:                "cudaErrorNotSupported",
	ErrUnknown:                     "cudaErrorUnknown",
}

// Name returns the symbolic name of the error code.
func (e Error) Name() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("cudaError(%d)", int(e))
}

func (e Error) Error() string {
	return fmt.Sprintf("cuda: %s (%d)", e.Name(), int(e))
}

// Code returns the error code of err if it is or wraps an Error.
func Code(err error) (Error, bool) {
	var e Error
	if errors.As(err, &e) {
		return e, true
	}
	return 0, false
}
