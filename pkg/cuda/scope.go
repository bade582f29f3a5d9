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
	"fmt"
)

// DeviceScope keeps a device current until Close restores the previously
// current one. Scopes nest, and must be closed in reverse order of creation
// on the same OS thread.
type DeviceScope struct {
	rt     Runtime
	prev   int
	dev    int
	closed bool
}

// SelectDevice makes dev the current device and returns a scope for it.
func SelectDevice(rt Runtime, dev int) (*DeviceScope, error) {
	prev, err := rt.GetDevice()
	if err != nil {
		return nil, fmt.Errorf("cuda: failed to query current device: %w", err)
	}
	if prev != dev {
		if err := rt.SetDevice(dev); err != nil {
			return nil, fmt.Errorf("cuda: failed to select device %d: %w", dev, err)
		}
	}
	return &DeviceScope{rt: rt, prev: prev, dev: dev}, nil
}

// Device returns the device selected by the scope.
func (s *DeviceScope) Device() int {
	return s.dev
}

// Close restores the previous device. Closing a scope more than once is a no-op.
func (s *DeviceScope) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	if s.prev == s.dev {
		return nil
	}
	if err := s.rt.SetDevice(s.prev); err != nil {
		return fmt.Errorf("cuda: failed to restore device %d: %w", s.prev, err)
	}
	return nil
}

// OnDevice runs fn with dev as the current device.
func OnDevice(rt Runtime, dev int, fn func() error) error {
	scope, err := SelectDevice(rt, dev)
	if err != nil {
		return err
	}
	if err := fn(); err != nil {
		scope.Close()
		return err
	}
	return scope.Close()
}
