package logger

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/fx/fxevent"
)

func captureOutput(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := GetLogLevel()
	SetOutput(&buf)
	SetLogLevel(level)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		currentLevel.Store(int32(prev))
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t, "warn")

	Debugf("debug %d", 1)
	Infof("info %d", 2)
	Warnf("warn %d", 3)
	Errorf("error %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "[DEBUG]")
	assert.NotContains(t, out, "[INFO]")
	assert.Contains(t, out, "[WARN] warn 3")
	assert.Contains(t, out, "[ERROR] error 4")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"trace":  LevelDebug,
		"DEBUG":  LevelDebug,
		"Info":   LevelInfo,
		"warn":   LevelWarn,
		"ERROR":  LevelError,
		"silent": LevelFatal,
	}
	for in, want := range cases {
		got, ok := ParseLevel(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	got, ok := ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, LevelInfo, got)
}

func TestSetLogLevel_UnknownFallsBackToInfo(t *testing.T) {
	captureOutput(t, "debug")
	SetLogLevel("nonsense")
	assert.Equal(t, LevelInfo, GetLogLevel())
}

func TestFxLoggerAdapter(t *testing.T) {
	buf := captureOutput(t, "info")
	adapter := NewFxLoggerAdapter()

	adapter.LogEvent(&fxevent.Started{})
	adapter.LogEvent(&fxevent.Invoked{FunctionName: "main.run", Err: errors.New("boom")})
	adapter.LogEvent(&fxevent.Provided{ConstructorName: "newThing", OutputTypeNames: []string{"*thing"}})

	out := buf.String()
	assert.Contains(t, out, "Application started.")
	assert.Contains(t, out, "Invoke failed: main.run, error: boom")
	assert.NotContains(t, out, "Provided: *thing")
}

func TestTrimFuncSuffix(t *testing.T) {
	assert.Equal(t, "app.registerHooks", trimFuncSuffix("app.registerHooks.func1"))
	assert.Equal(t, "app.start", trimFuncSuffix("app.start"))
}
