// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	if err := Default().Validate(); err != nil {
		t.Errorf("Default config failed validation: %v", err)
	}
}

func TestDefaultHysteresisBand(t *testing.T) {
	t.Parallel()

	configuration := Default()
	if configuration.Flow.ResumeThresholdBytes >= configuration.Flow.PerTerminalCeilingBytes {
		t.Errorf("resume threshold %d not below pause ceiling %d",
			configuration.Flow.ResumeThresholdBytes, configuration.Flow.PerTerminalCeilingBytes)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hostmux.yaml")
	content := `
flow:
  per_terminal_ceiling_bytes: 8388608
  resume_threshold_bytes: 2097152
queue:
  flush_interval: 32ms
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	configuration, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if got := configuration.Flow.PerTerminalCeilingBytes; got != 8388608 {
		t.Errorf("per-terminal ceiling: got %d, want 8388608", got)
	}
	if got := configuration.Queue.FlushInterval; got != 32*time.Millisecond {
		t.Errorf("flush interval: got %v, want 32ms", got)
	}
	// Untouched sections keep their defaults.
	if got := configuration.Registry.TrashTTL; got != time.Hour {
		t.Errorf("trash TTL: got %v, want 1h", got)
	}
}

func TestLoadFileRejectsInvertedHysteresis(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hostmux.yaml")
	content := `
flow:
  per_terminal_ceiling_bytes: 1024
  resume_threshold_bytes: 2048
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("LoadFile accepted resume threshold above pause ceiling")
	}
	if !strings.Contains(err.Error(), "resume_threshold_bytes") {
		t.Errorf("error does not name the offending field: %v", err)
	}
}

func TestLoadFileMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadFile on a missing file did not fail")
	}
}

func TestValidateRejectsNonPositiveIntervals(t *testing.T) {
	t.Parallel()

	configuration := Default()
	configuration.Governor.SampleInterval = 0
	if err := configuration.Validate(); err == nil {
		t.Error("Validate accepted zero sample interval")
	}

	configuration = Default()
	configuration.Registry.TrashTTL = -time.Second
	if err := configuration.Validate(); err == nil {
		t.Error("Validate accepted negative trash TTL")
	}
}
