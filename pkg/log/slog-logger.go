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
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// slogger routes log/slog records to one of our Loggers.
type slogger struct {
	l     Logger
	attrs string
}

var _ slog.Handler = &slogger{}

// SetSlogLogger sets up the default logger for the slog package.
func SetSlogLogger(source string) {
	var l Logger

	if source == "" {
		l = Default()
	} else {
		l = Get(source)
	}

	slog.SetDefault(slog.New(SlogHandler(l)))
}

// SlogHandler returns a slog.Handler which emits records using the given Logger.
func SlogHandler(l Logger) slog.Handler {
	return &slogger{l: l}
}

func (s *slogger) Enabled(_ context.Context, level slog.Level) bool {
	if level < slog.LevelInfo {
		return s.l.DebugEnabled()
	}

	log.RLock()
	defer log.RUnlock()

	switch {
	case level >= slog.LevelError:
		return log.level <= LevelError
	case level >= slog.LevelWarn:
		return log.level <= LevelWarn
	}
	return log.level <= LevelInfo
}

func (s *slogger) Handle(_ context.Context, r slog.Record) error {
	msg := strings.TrimPrefix(r.Message, r.Level.String()+" ")
	attrs := s.attrs
	r.Attrs(func(a slog.Attr) bool {
		attrs += " " + a.String()
		return true
	})

	switch {
	case r.Level >= slog.LevelError:
		s.l.Error("%s%s", msg, attrs)
	case r.Level >= slog.LevelWarn:
		s.l.Warn("%s%s", msg, attrs)
	case r.Level >= slog.LevelInfo:
		s.l.Info("%s%s", msg, attrs)
	default:
		s.l.Debug("%s%s", msg, attrs)
	}
	return nil
}

func (s *slogger) WithAttrs(attrs []slog.Attr) slog.Handler {
	str := s.attrs
	for _, a := range attrs {
		str += " " + a.String()
	}
	return &slogger{l: s.l, attrs: str}
}

func (s *slogger) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	return &slogger{l: s.l, attrs: s.attrs + fmt.Sprintf(" [%s]", name)}
}
