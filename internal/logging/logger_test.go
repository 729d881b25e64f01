package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger_DefaultConfig(t *testing.T) {
	l := NewLogger(nil)
	if l == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     LogLevel
		log       func(*Logger)
		wantLines int
	}{
		{
			name:  "info level suppresses debug",
			level: LevelInfo,
			log: func(l *Logger) {
				l.Debug("hidden")
				l.Info("shown")
			},
			wantLines: 1,
		},
		{
			name:  "debug level allows everything",
			level: LevelDebug,
			log: func(l *Logger) {
				l.Debug("one")
				l.Info("two")
			},
			wantLines: 2,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewLogger(&Config{Level: tc.level, Output: &buf})
			tc.log(l)
			lines := strings.Count(strings.TrimRight(buf.String(), "\n"), "\n") + 1
			if buf.Len() == 0 {
				lines = 0
			}
			if lines != tc.wantLines {
				t.Errorf("got %d lines, want %d (output: %q)", lines, tc.wantLines, buf.String())
			}
		})
	}
}

func TestLogger_WithRankTagsLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelInfo, Output: &buf}).WithRank(3)

	l.Info("worker ready")

	output := buf.String()
	if !strings.Contains(output, "rank 3") {
		t.Errorf("expected rank 3 in output, got: %s", output)
	}
	if !strings.Contains(output, "worker ready") {
		t.Errorf("expected message in output, got: %s", output)
	}
}

func TestLogger_ArgsAreFormattedAsKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelInfo, Output: &buf})

	l.Info("task failed", "task", "add", "attempt", 2)

	output := buf.String()
	if !strings.Contains(output, "task=add") || !strings.Contains(output, "attempt=2") {
		t.Errorf("expected key=value pairs in output, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("debug message")
	if !strings.Contains(buf.String(), "debug message") {
		t.Errorf("expected debug message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}
