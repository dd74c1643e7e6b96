package logging

import (
	"testing"

	"github.com/lni/dragonboat/v4/logger"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logger.LogLevel{
		"debug":   logger.DEBUG,
		"INFO":    logger.INFO,
		"warn":    logger.WARNING,
		"warning": logger.WARNING,
		"error":   logger.ERROR,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Errorf("Expected error for unknown level")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	l := CreateLogger("test").(*hKVLogger)

	l.SetLevel(logger.ERROR)
	if l.enabled(logger.INFO) {
		t.Errorf("INFO should be disabled at level ERROR")
	}
	if !l.enabled(logger.ERROR) {
		t.Errorf("ERROR should be enabled at level ERROR")
	}

	l.SetLevel(logger.DEBUG)
	if !l.enabled(logger.INFO) {
		t.Errorf("INFO should be enabled at level DEBUG")
	}
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	if err := Init("loud"); err == nil {
		t.Errorf("Expected Init to fail for unknown level")
	}
}
