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
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	cfgapi "github.com/containers/gpu-membench/pkg/apis/config/v1alpha1/log"
)

func TestSrcmapParse(t *testing.T) {
	type testCase struct {
		name     string
		value    string
		expected srcmap
		fail     bool
	}
	for _, tc := range []*testCase{
		{name: "empty", value: " ", expected: srcmap{}},
		{name: "implicitly on", value: "a, b", expected: srcmap{"a": true, "b": true}},
		{name: "state carries over", value: "off:a,b", expected: srcmap{"a": false, "b": false}},
		{name: "mixed", value: "on:a,off:b,c", expected: srcmap{"a": true, "b": false, "c": false}},
		{name: "all", value: "all", expected: srcmap{"*": true}},
		{name: "boolean aliases", value: "yes:a,disabled:b", expected: srcmap{"a": true, "b": false}},
		{name: "too many colons", value: "on:a:b", fail: true},
		{name: "bad state", value: "maybe:a", fail: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := srcmap(nil)
			err := m.parse(tc.value)
			if tc.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, m)
		})
	}
}

func TestSrcmapString(t *testing.T) {
	require.Equal(t, "", (&srcmap{}).String())
	require.Equal(t, "on:a", (&srcmap{"a": true}).String())
	require.Equal(t, "off:b", (&srcmap{"b": false}).String())
	require.Equal(t, "on:a,off:b", (&srcmap{"a": true, "b": false}).String())
	require.Equal(t, "on:*,c,off:a,b", (&srcmap{"c": true, "b": false, "*": true, "a": false}).String())

	m := srcmap{"x": true, "y": false, "z": true}
	parsed := srcmap(nil)
	require.NoError(t, parsed.parse(m.String()))
	require.Equal(t, m, parsed)
}

func TestConfigureDebug(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, Configure(&cfgapi.Config{})) })

	a, b, c := Get("test-a"), Get("test-b"), Get("test-c")

	require.NoError(t, Configure(&cfgapi.Config{Debug: []string{"on:test-a", "off:test-b"}}))
	require.True(t, a.DebugEnabled())
	require.False(t, b.DebugEnabled())
	require.False(t, c.DebugEnabled())
	require.True(t, DebugEnabled("test-a"))

	require.NoError(t, Configure(&cfgapi.Config{Debug: []string{"all", "off:test-b"}}))
	require.True(t, a.DebugEnabled())
	require.False(t, b.DebugEnabled())
	require.True(t, c.DebugEnabled())
	require.True(t, Get("test-d").DebugEnabled(), "new loggers follow the configuration")

	require.Error(t, Configure(&cfgapi.Config{Debug: []string{"sometimes:test-a"}}))

	require.NoError(t, Configure(&cfgapi.Config{}))
	require.False(t, a.DebugEnabled())
	require.False(t, a.EnableDebug(true))
	require.True(t, a.DebugEnabled())
	require.Equal(t, "test-a", a.Source())
}

func TestSlogHandler(t *testing.T) {
	t.Cleanup(func() {
		SetLevel(DefaultLevel)
		require.NoError(t, Configure(&cfgapi.Config{}))
	})

	ctx := context.Background()
	h := SlogHandler(Get("test-slog"))

	require.False(t, h.Enabled(ctx, slog.LevelDebug))
	require.True(t, h.Enabled(ctx, slog.LevelInfo))
	require.True(t, h.Enabled(ctx, slog.LevelError))

	EnableDebug("test-slog")
	require.True(t, h.Enabled(ctx, slog.LevelDebug))

	SetLevel(LevelError)
	require.False(t, h.Enabled(ctx, slog.LevelInfo))
	require.False(t, h.Enabled(ctx, slog.LevelWarn))
	require.True(t, h.Enabled(ctx, slog.LevelError))

	require.Equal(t, h, h.WithGroup(""))
	require.NotEqual(t, h, h.WithAttrs([]slog.Attr{slog.Int("n", 1)}))
}

func TestSourcePrefix(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, Configure(&cfgapi.Config{})) })

	Get("test-prefix-long-source")
	require.NoError(t, Configure(&cfgapi.Config{LogSource: true}))

	log.Lock()
	p := log.sourcePrefix("test-p")
	log.Unlock()

	require.Equal(t, "[test-p] ", p[:9])
	require.Equal(t, log.maxlen+3, len(p))
}

func TestCallerAttribution(t *testing.T) {
	var buf bytes.Buffer
	klog.LogToStderr(false)
	klog.SetOutput(&buf)
	t.Cleanup(func() {
		klog.LogToStderr(true)
		require.NoError(t, Configure(&cfgapi.Config{}))
	})

	l := Get("test-caller")
	l.EnableDebug(true)
	l.Info("info")
	l.Warn("warning")
	l.Debug("debug")
	l.InfoBlock("  ", "block line 1\nblock line 2")
	klog.Flush()

	out := buf.String()
	for _, msg := range []string{"info", "warning", "D: debug", "block line 1", "block line 2"} {
		require.Contains(t, out, msg)
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		require.Contains(t, line, " log_test.go:", "wrong caller in %q", line)
	}
}
