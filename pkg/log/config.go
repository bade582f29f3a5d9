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
	"os"

	cfgapi "github.com/containers/gpu-membench/pkg/apis/config/v1alpha1/log"
	"github.com/containers/gpu-membench/pkg/log/klogcontrol"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// debugEnvVar seeds the per source debug state, e.g. "on:topology,transfer".
	debugEnvVar = "LOGGER_DEBUG"
	// logSourceEnvVar turns on source prefixes if set.
	logSourceEnvVar = "LOGGER_LOG_SOURCE"
)

var klogctl = klogcontrol.Get()

// Configure applies cfg to all loggers and to klog.
func Configure(cfg *cfgapi.Config) error {
	deflog.Debug("logger configuration update %+v", cfg)

	dbgmap := make(srcmap)
	for _, value := range cfg.Debug {
		if err := dbgmap.parse(value); err != nil {
			return fmt.Errorf("failed to parse debug setting %q: %w", value, err)
		}
	}

	// without klog headers the source is the only hint of origin
	prefix := cfg.LogSource
	if isSet(cfg.Klog.Logtostderr) && isSet(cfg.Klog.Skip_headers) {
		prefix = true
	}

	log.Lock()
	log.setDbgMap(dbgmap)
	log.setPrefix(prefix)
	log.Unlock()

	return klogctl.Configure(&cfg.Klog)
}

func isSet(b *bool) bool {
	return b != nil && *b
}

func init() {
	cfg := &cfgapi.Config{
		LogSource: os.Getenv(logSourceEnvVar) != "",
	}
	if value, ok := os.LookupEnv(debugEnvVar); ok {
		cfg.Debug = []string{value}
	}
	if err := Configure(cfg); err != nil {
		Default().Error("initial logging configuration from $%s failed: %v", debugEnvVar, err)
		if err := Configure(&cfgapi.Config{LogSource: cfg.LogSource}); err != nil {
			Default().Error("initial logging configuration failed: %v", err)
		}
	}
}
