package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

func TestModuleLevelOverride(t *testing.T) {
	// Reset state
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	isInitialized = false
	mutex.Unlock()

	// Initialize with global info level, but capture module at debug
	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"capture": "debug",
			"spool":     "warn",
		},
	})

	tests := []struct {
		module      string
		wantDebug   bool
		wantInfo    bool
		wantWarn    bool
		description string
	}{
		{"capture", true, true, true, "capture module should log debug (override to debug)"},
		{"spool", false, false, true, "spool module should only log warn (override to warn)"},
		{"other", false, true, true, "other module should log info (global default)"},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			logger := GetLogger(tt.module)

			// Get the handler from the logger to test Enabled
			// We need to check if the handler accepts different levels
			handler := logger.Handler()

			gotDebug := handler.Enabled(context.Background(), slog.LevelDebug)
			gotInfo := handler.Enabled(context.Background(), slog.LevelInfo)
			gotWarn := handler.Enabled(context.Background(), slog.LevelWarn)

			if gotDebug != tt.wantDebug {
				t.Errorf("module %q: Debug enabled = %v, want %v", tt.module, gotDebug, tt.wantDebug)
			}
			if gotInfo != tt.wantInfo {
				t.Errorf("module %q: Info enabled = %v, want %v", tt.module, gotInfo, tt.wantInfo)
			}
			if gotWarn != tt.wantWarn {
				t.Errorf("module %q: Warn enabled = %v, want %v", tt.module, gotWarn, tt.wantWarn)
			}
		})
	}
}

func TestModuleLevelActualOutput(t *testing.T) {
	// Reset state
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	isInitialized = false
	mutex.Unlock()

	// Create a buffer to capture output
	var buf bytes.Buffer

	// Create a custom handler that writes to our buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(handler).With("module", "test")

	// Log at different levels
	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	output := buf.String()

	if !strings.Contains(output, "debug message") {
		t.Error("Debug message not found in output")
	}
	if !strings.Contains(output, "info message") {
		t.Error("Info message not found in output")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Warn message not found in output")
	}
}

func TestModuleLevelWithFanout(t *testing.T) {
	// Reset state
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	isInitialized = false
	mutex.Unlock()

	// Initialize with debug level for v4l2 module
	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"v4l2": "debug",
		},
	})

	logger := GetLogger("v4l2")
	handler := logger.Handler()

	// Verify the handler accepts debug level
	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("v4l2 module handler should accept Debug level")
	}

	// Regardless of handler type, debug should be enabled
	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Errorf("Debug should be enabled for v4l2 module, handler type: %T", handler)
	}
}

func TestDebugLogsActuallyWritten(t *testing.T) {
	// Create a buffer to capture output
	var buf bytes.Buffer

	// Create handler with debug level
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(handler).With("module", "v4l2")

	// Write debug log
	logger.Debug("test debug message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "test debug message") {
		t.Errorf("Debug message not written. Output: %s", output)
	}
	if !strings.Contains(output, "level=DEBUG") {
		t.Errorf("Debug level not in output. Output: %s", output)
	}
}

func TestFanoutDebugOutput(t *testing.T) {
	var buf bytes.Buffer

	// Create two handlers - one with debug, one with info
	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	multi := newFanoutHandler(debugHandler, infoHandler)
	logger := slog.New(multi).With("module", "test")

	// Write debug log - should appear once (from debugHandler)
	logger.Debug("debug only message")

	output := buf.String()
	if !strings.Contains(output, "debug only message") {
		t.Errorf("Debug message not written via fanout handler. Output: %s", output)
	}

	// Count occurrences - should be 1 (only debugHandler writes it)
	count := strings.Count(output, "debug only message")
	if count != 1 {
		t.Errorf("Expected 1 debug message, got %d. Output: %s", count, output)
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	// Reset state completely
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	globalConfig = Config{}
	mutex.Unlock()

	// Get logger BEFORE Initialize - should default to info level
	loggerBefore := GetLogger("v4l2")
	handlerBefore := loggerBefore.Handler()

	// Should NOT have debug enabled (defaults to info)
	if handlerBefore.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Logger created before Initialize should NOT have debug enabled")
	}

	// Now Initialize with debug level for v4l2
	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"v4l2": "debug",
		},
	})

	// Get logger AFTER Initialize - should be SAME logger (cached) with updated level
	loggerAfter := GetLogger("v4l2")

	// With LevelVar fix, logger should be cached (same pointer) but level updated dynamically
	if loggerBefore != loggerAfter {
		t.Error("Logger should be cached - same pointer before and after Initialize")
	}

	// The cached logger should now have debug enabled (LevelVar was updated)
	if !handlerBefore.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Cached logger should have debug enabled after Initialize updates LevelVar")
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		isNil bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input)
			if tt.isNil {
				if got != nil {
					t.Errorf("parseLevel(%q) = %v, want nil", tt.input, *got)
				}
			} else {
				if got == nil {
					t.Errorf("parseLevel(%q) = nil, want %v", tt.input, tt.want)
				} else if *got != tt.want {
					t.Errorf("parseLevel(%q) = %v, want %v", tt.input, *got, tt.want)
				}
			}
		})
	}
}

func resetLogging() {
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	globalConfig = Config{}
	logHistory = nil
	logCallback = nil
	mutex.Unlock()
}

func TestSetLevels(t *testing.T) {
	resetLogging()

	Initialize(Config{Level: "info", Format: "text"})
	capture := GetLogger("capture")
	spool := GetLogger("spool")

	SetLevels(Config{
		Level:   "warn",
		Modules: map[string]string{"capture": "debug"},
	})

	tests := []struct {
		name      string
		logger    *slog.Logger
		wantDebug bool
		wantInfo  bool
	}{
		{"override applies", capture, true, true},
		{"global applies", spool, false, false},
		{"new logger uses reloaded level", GetLogger("metrics"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.logger.Handler()
			if got := h.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("Debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := h.Enabled(context.Background(), slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("Info enabled = %v, want %v", got, tt.wantInfo)
			}
		})
	}

	if GetLogger("capture") != capture {
		t.Error("SetLevels replaced a cached logger")
	}
}

func TestBufferHandlerRecordsEntries(t *testing.T) {
	resetLogging()
	Initialize(Config{Level: "debug", Format: "text"})

	var seen []LogEntry
	SetLogCallback(func(entry LogEntry) {
		seen = append(seen, entry)
	})
	defer SetLogCallback(nil)

	logger := slog.New(NewBufferHandler(slog.LevelInfo)).With("module", "capture")
	logger.Debug("dropped")
	logger.WithGroup("frame").Info("Frame dequeued", "index", 2, "bytes", 4096)

	entries := GetHistory().Tail(0)
	if len(entries) != 1 {
		t.Fatalf("buffer holds %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Module != "capture" {
		t.Errorf("Module = %q, want capture", entry.Module)
	}
	if entry.Level != "info" {
		t.Errorf("Level = %q, want info", entry.Level)
	}
	if entry.Attributes["frame.index"] != int64(2) {
		t.Errorf("frame.index = %v, want 2", entry.Attributes["frame.index"])
	}
	if len(seen) != 1 || seen[0].Message != "Frame dequeued" {
		t.Errorf("callback saw %v", seen)
	}
}

func TestHistoryTail(t *testing.T) {
	tests := []struct {
		name    string
		appends int
		n       int
		want    string
		wantLen int
	}{
		{"empty", 0, 0, "", 0},
		{"partial all", 2, 0, "ab", 2},
		{"partial tail", 2, 1, "b", 2},
		{"wrapped all", 5, 0, "cde", 3},
		{"wrapped across end", 4, 3, "bcd", 3},
		{"wrapped tail", 5, 2, "de", 3},
		{"n above held", 2, 10, "ab", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHistory(3)
			for i := 0; i < tt.appends; i++ {
				h.Append(LogEntry{Message: string(rune('a' + i))})
			}

			var got string
			for _, e := range h.Tail(tt.n) {
				got += e.Message
			}
			if got != tt.want {
				t.Errorf("Tail(%d) = %q, want %q", tt.n, got, tt.want)
			}
			if h.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", h.Len(), tt.wantLen)
			}
		})
	}
}

type failingHandler struct{ err error }

func (h failingHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (h failingHandler) Handle(context.Context, slog.Record) error { return h.err }
func (h failingHandler) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h failingHandler) WithGroup(string) slog.Handler             { return h }

func TestFanoutHandlerErrors(t *testing.T) {
	var buf bytes.Buffer
	errJournal := errors.New("journal unavailable")
	f := newFanoutHandler(failingHandler{errJournal}, slog.NewTextHandler(&buf, nil))

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "still written", 0)
	if err := f.Handle(context.Background(), r); !errors.Is(err, errJournal) {
		t.Errorf("Handle() error = %v, want %v", err, errJournal)
	}
	if !strings.Contains(buf.String(), "still written") {
		t.Errorf("text handler missed the record: %q", buf.String())
	}
}

func TestFormatLogLine(t *testing.T) {
	entry := LogEntry{
		Timestamp:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:      "warn",
		Module:     "v4l2",
		Message:    "Driver allocated fewer buffers than requested",
		Attributes: map[string]any{"requested": 4, "granted": 2},
	}

	want := "2024-01-02T03:04:05Z [WARN] [v4l2] Driver allocated fewer buffers than requested granted=2 requested=4"
	if got := FormatLogLine(entry); got != want {
		t.Errorf("FormatLogLine() = %q, want %q", got, want)
	}
}

func TestMapLevelToPriority(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  journal.Priority
	}{
		{slog.LevelDebug, journal.PriDebug},
		{slog.LevelInfo, journal.PriInfo},
		{slog.LevelWarn, journal.PriWarning},
		{slog.LevelError, journal.PriErr},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			if got := mapLevelToPriority(tt.level); got != tt.want {
				t.Errorf("mapLevelToPriority(%v) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestAddAttrToFields(t *testing.T) {
	fields := make(map[string]string)
	addAttrToFields(fields, slog.String("device", "/dev/video0"), nil)
	addAttrToFields(fields, slog.Int("index", 3), []string{"buffer"})
	addAttrToFields(fields, slog.Group("pool", slog.Int("granted", 2)), nil)

	want := map[string]string{
		"DEVICE":       "/dev/video0",
		"BUFFER_INDEX": "3",
		"POOL_GRANTED": "2",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%q] = %q, want %q", k, fields[k], v)
		}
	}
}
