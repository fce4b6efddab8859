// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestStdLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger(&buf)

	if err := logger.Log(LevelInfo, "msg", "hello", "key", 42); err != nil {
		t.Fatalf("Log failed, reason: %v", err)
	}
	got := buf.String()
	want := "INFO msg=hello key=42\n"
	if got != want {
		t.Errorf("Log output got %q, want %q", got, want)
	}
}

func TestFilterLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewFilter(NewStdLogger(&buf), FilterLevel(LevelError))

	_ = logger.Log(LevelDebug, "msg", "dropped")
	_ = logger.Log(LevelWarn, "msg", "dropped")
	_ = logger.Log(LevelError, "msg", "kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], "kept") {
		t.Errorf("filtered output got %q", buf.String())
	}
}

func TestFilterKey(t *testing.T) {
	var buf bytes.Buffer
	logger := NewFilter(NewStdLogger(&buf), FilterKey("password"))

	_ = logger.Log(LevelInfo, "password", "hunter2")
	_ = logger.Log(LevelInfo, "msg", "fine")

	if strings.Contains(buf.String(), "hunter2") {
		t.Error("filtered key leaked")
	}
	if !strings.Contains(buf.String(), "fine") {
		t.Error("unfiltered record dropped")
	}
}

func TestHelper(t *testing.T) {
	var buf bytes.Buffer
	h := NewHelper(NewStdLogger(&buf))

	h.Infof("%d items", 3)
	if !strings.Contains(buf.String(), "msg=3 items") {
		t.Errorf("Infof output got %q", buf.String())
	}

	buf.Reset()
	h.Warn("careful")
	if !strings.Contains(buf.String(), "WARN") {
		t.Errorf("Warn output got %q", buf.String())
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := With(NewStdLogger(&buf), "component", "core")

	_ = logger.Log(LevelInfo, "msg", "ready")
	if !strings.Contains(buf.String(), "component=core") {
		t.Errorf("With output got %q", buf.String())
	}
}

func TestLevelString(t *testing.T) {

	tests := []struct {
		in  Level
		out string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LevelFatal, "FATAL"},
		{Level(42), ""},
	}

	for _, tt := range tests {
		if got := tt.in.String(); got != tt.out {
			t.Errorf("Level(%d).String() got %q, want %q", tt.in, got, tt.out)
		}
	}
}
