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
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// Level is a logging severity level.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})
	// Panic formats and emits an error message then panics with the same.
	Panic(format string, args ...interface{})

	// Debugf is an alias for Debug.
	Debugf(format string, args ...interface{})
	// Infof is an alias for Info.
	Infof(format string, args ...interface{})
	// Warnf is an alias for Warn.
	Warnf(format string, args ...interface{})
	// Errorf is an alias for Error.
	Errorf(format string, args ...interface{})

	// DebugBlock formats and emits a multiline debug message.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock formats and emits a multiline information message.
	InfoBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables debug messages for this Logger.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool

	// Source returns the source name of this Logger.
	Source() string
}

// logging encapsulates the full runtime state of logging.
type logging struct {
	sync.RWMutex
	level   Level             // logging threshold
	dbgmap  srcmap            // debug configuration
	debug   map[string]bool   // per source debug state
	prefix  bool              // prefix messages with source
	loggers map[string]logger // source to logger mapping
	maxlen  int               // max source length
	aligned map[string]string // aligned source prefixes
}

// logger implements Logger for a single source.
type logger struct {
	source string
}

// log tracks our runtime state.
var log = &logging{
	level:   DefaultLevel,
	debug:   make(map[string]bool),
	loggers: make(map[string]logger),
	aligned: make(map[string]string),
}

// deflog is our default logger.
var deflog = log.get("default")

// Default returns the default Logger.
func Default() Logger {
	return deflog
}

// Get returns the named Logger.
func Get(source string) Logger {
	return log.get(source)
}

// NewLogger is an alias for Get.
func NewLogger(source string) Logger {
	return Get(source)
}

// EnableDebug enables debug logging for the given source.
func EnableDebug(source string) bool {
	return log.setDebug(source, true)
}

// DebugEnabled returns true if debug logging is enabled for the given source.
func DebugEnabled(source string) bool {
	log.RLock()
	defer log.RUnlock()
	return log.debugEnabled(source)
}

// SetLevel sets the logging severity threshold.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

func (log *logging) get(source string) logger {
	log.Lock()
	defer log.Unlock()

	if l, ok := log.loggers[source]; ok {
		return l
	}

	l := logger{source: source}
	log.loggers[source] = l
	if len(source) > log.maxlen {
		log.maxlen = len(source)
		log.aligned = make(map[string]string)
	}
	log.debug[source] = log.dbgmap.enabled(source)

	return l
}

func (log *logging) setDebug(source string, state bool) bool {
	log.Lock()
	defer log.Unlock()

	old := log.debug[source]
	log.debug[source] = state
	return old
}

func (log *logging) setDbgMap(dbgmap srcmap) {
	log.dbgmap = dbgmap
	for source := range log.loggers {
		log.debug[source] = dbgmap.enabled(source)
	}
}

func (log *logging) setPrefix(prefix bool) {
	log.prefix = prefix
}

// debugEnabled must be called with the lock held.
func (log *logging) debugEnabled(source string) bool {
	return log.debug[source]
}

func (log *logging) sourcePrefix(source string) string {
	if !log.prefix {
		return ""
	}
	if p, ok := log.aligned[source]; ok {
		return p
	}
	pad := log.maxlen - len(source)
	p := "[" + source + "] " + strings.Repeat(" ", pad)
	log.aligned[source] = p
	return p
}

// emit logs a message. depth is the number of frames between the caller
// of emit and the code doing the logging.
func (log *logging) emit(depth int, level Level, source, format string, args ...interface{}) {
	log.RLock()
	if level == LevelDebug {
		if !log.debugEnabled(source) {
			log.RUnlock()
			return
		}
	} else if level < log.level {
		log.RUnlock()
		return
	}
	prefix := log.sourcePrefix(source)
	log.RUnlock()

	msg := prefix + fmt.Sprintf(format, args...)
	switch level {
	case LevelDebug:
		klog.InfoDepth(depth+1, "D: "+msg)
	case LevelInfo:
		klog.InfoDepth(depth+1, msg)
	case LevelWarn:
		klog.WarningDepth(depth+1, msg)
	default:
		klog.ErrorDepth(depth+1, msg)
	}
}

func (log *logging) block(level Level, source, prefix, format string, args ...interface{}) {
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		log.emit(2, level, source, "%s%s", prefix, line)
	}
}

func (l logger) Debug(format string, args ...interface{}) {
	log.emit(1, LevelDebug, l.source, format, args...)
}

func (l logger) Info(format string, args ...interface{}) {
	log.emit(1, LevelInfo, l.source, format, args...)
}

func (l logger) Warn(format string, args ...interface{}) {
	log.emit(1, LevelWarn, l.source, format, args...)
}

func (l logger) Error(format string, args ...interface{}) {
	log.emit(1, LevelError, l.source, format, args...)
}

func (l logger) Fatal(format string, args ...interface{}) {
	log.RLock()
	prefix := log.sourcePrefix(l.source)
	log.RUnlock()
	klog.FatalDepth(1, prefix+fmt.Sprintf(format, args...))
}

func (l logger) Panic(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.emit(1, LevelError, l.source, "%s", msg)
	panic(msg)
}

func (l logger) Debugf(format string, args ...interface{}) {
	log.emit(1, LevelDebug, l.source, format, args...)
}

func (l logger) Infof(format string, args ...interface{}) {
	log.emit(1, LevelInfo, l.source, format, args...)
}

func (l logger) Warnf(format string, args ...interface{}) {
	log.emit(1, LevelWarn, l.source, format, args...)
}

func (l logger) Errorf(format string, args ...interface{}) {
	log.emit(1, LevelError, l.source, format, args...)
}

func (l logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if l.DebugEnabled() {
		log.block(LevelDebug, l.source, prefix, format, args...)
	}
}

func (l logger) InfoBlock(prefix string, format string, args ...interface{}) {
	log.block(LevelInfo, l.source, prefix, format, args...)
}

func (l logger) EnableDebug(state bool) bool {
	return log.setDebug(l.source, state)
}

func (l logger) DebugEnabled() bool {
	log.RLock()
	defer log.RUnlock()
	return log.debugEnabled(l.source)
}

func (l logger) Source() string {
	return l.source
}

// loggerError returns a package-specific formatted error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
