package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}

	if cfg.Pretty != false {
		t.Error("Expected default pretty to be false")
	}

	if cfg.Service != "hn-client" {
		t.Errorf("Expected default service to be hn-client, got %q", cfg.Service)
	}
}

func TestSetup_WritesAtConfiguredLevel(t *testing.T) {
	emit := map[LogLevel]func(zerolog.Logger, string){
		LevelDebug: func(l zerolog.Logger, m string) { l.Debug().Int("id", 8863).Msg(m) },
		LevelInfo:  func(l zerolog.Logger, m string) { l.Info().Int("id", 8863).Msg(m) },
		LevelWarn:  func(l zerolog.Logger, m string) { l.Warn().Int("id", 8863).Msg(m) },
		LevelError: func(l zerolog.Logger, m string) { l.Error().Int("id", 8863).Msg(m) },
	}

	for level, fn := range emit {
		t.Run(string(level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: level, Output: buf})

			fn(logger, "item lookup")

			out := buf.String()
			if !strings.Contains(out, "item lookup") || !strings.Contains(out, `"id":8863`) {
				t.Errorf("output missing message or id field: %q", out)
			}
			if !strings.Contains(out, `"level":"`+string(level)+`"`) {
				t.Errorf("output missing level %s: %q", level, out)
			}
		})
	}
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})

	logger.Info().Str("category", "top").Msg("Listing refreshed")

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("pretty output should not be JSON: %q", out)
	}
	if !strings.Contains(out, "Listing refreshed") || !strings.Contains(out, "category=") {
		t.Errorf("pretty output missing message or field: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel}, // Should default to Info
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseLevel_Exported(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if result != tt.expected {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSetup_ServiceField(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Service: "hn-server", Output: buf})

	logger.Info().Msg("started")

	if !strings.Contains(buf.String(), `"service":"hn-server"`) {
		t.Errorf("Expected service field in output, got %q", buf.String())
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: buf,
	})

	logger := NewLogger("tree-loader")
	logger.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "tree-loader") {
		t.Errorf("Expected output to contain 'tree-loader', got %q", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain 'test message', got %q", output)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{
		Level:  LevelWarn,
		Pretty: false,
		Output: buf,
	})

	logger := NewLogger("test")

	// These should NOT appear (below warn level)
	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")

	// These SHOULD appear (warn level and above)
	logger.Warn().Msg("warn message")
	logger.Error().Msg("error message")

	output := buf.String()

	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered out at Warn level")
	}
	if strings.Contains(output, "info message") {
		t.Error("Info message should be filtered out at Warn level")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Warn message should be included at Warn level")
	}
	if !strings.Contains(output, "error message") {
		t.Error("Error message should be included at Warn level")
	}
}
