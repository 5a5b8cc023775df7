package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"polymarket-copybot/config"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level   string
		want    logrus.Level
		wantErr bool
	}{
		{"", logrus.InfoLevel, false},
		{"debug", logrus.DebugLevel, false},
		{"warn", logrus.WarnLevel, false},
		{"loud", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, closer, err := New(config.LoggingConfig{Level: tt.level})
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer closer.Close()
			if logger.GetLevel() != tt.want {
				t.Errorf("level = %s, want %s", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestNew_UnknownFormat(t *testing.T) {
	if _, _, err := New(config.LoggingConfig{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	logger, closer, err := New(config.LoggingConfig{Level: "info", Format: "json", File: path})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	Component(logger, "engine").Info("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"component":"engine"`) {
		t.Errorf("log file missing component field: %s", data)
	}
}
