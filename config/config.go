// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for a hostmux host process.
type Config struct {
	// Ring configures the shared-memory ring buffer.
	Ring RingConfig `yaml:"ring"`

	// Flow configures per-terminal and global backpressure.
	Flow FlowConfig `yaml:"flow"`

	// Queue configures output coalescing and flush cadence.
	Queue QueueConfig `yaml:"queue"`

	// Governor configures the process-wide resource governor.
	Governor GovernorConfig `yaml:"governor"`

	// Registry configures terminal lifecycle handling.
	Registry RegistryConfig `yaml:"registry"`
}

// RingConfig configures the shared-memory ring buffer.
type RingConfig struct {
	// SizeBytes is the ring capacity. One byte is reserved to
	// distinguish full from empty, so SizeBytes-1 bytes are usable.
	// Default: 4 MiB.
	SizeBytes int `yaml:"size_bytes"`
}

// FlowConfig configures the backpressure manager.
type FlowConfig struct {
	// PerTerminalCeilingBytes pauses a terminal when its
	// unacknowledged bytes exceed this value. Default: 4 MiB.
	PerTerminalCeilingBytes int64 `yaml:"per_terminal_ceiling_bytes"`

	// ResumeThresholdBytes resumes a paused terminal when its
	// unacknowledged bytes drop to this value or below. Must be
	// strictly below PerTerminalCeilingBytes — the gap is the
	// hysteresis band that prevents pause/resume oscillation.
	// Default: 1 MiB.
	ResumeThresholdBytes int64 `yaml:"resume_threshold_bytes"`

	// GlobalCeilingBytes pauses every terminal when the sum of
	// unacknowledged bytes across all terminals exceeds it.
	// Default: 64 MiB.
	GlobalCeilingBytes int64 `yaml:"global_ceiling_bytes"`

	// GlobalCheckInterval is how often the global ceiling is
	// re-evaluated. Checked on a timer rather than per byte so a
	// burst cannot turn the global sum into a hot path. Default: 250ms.
	GlobalCheckInterval time.Duration `yaml:"global_check_interval"`

	// StallTimeout pauses a terminal when the consumer has not
	// acknowledged anything for this long while bytes are pending.
	// Default: 10s.
	StallTimeout time.Duration `yaml:"stall_timeout"`

	// MinRecheckInterval is the minimum time a terminal stays paused
	// before an acknowledgement may resume it. Default: 50ms.
	MinRecheckInterval time.Duration `yaml:"min_recheck_interval"`

	// HardPauseCeiling is how long a terminal may stay paused before
	// the manager emits a status event flagging an unresponsive
	// consumer. Default: 30s.
	HardPauseCeiling time.Duration `yaml:"hard_pause_ceiling"`
}

// QueueConfig configures the output coalescing queue.
type QueueConfig struct {
	// FlushInterval is the flush cadence for foreground terminals.
	// Default: 16ms (one display frame).
	FlushInterval time.Duration `yaml:"flush_interval"`

	// BackgroundFlushInterval is the flush cadence for terminals in
	// the background activity tier. Default: 250ms.
	BackgroundFlushInterval time.Duration `yaml:"background_flush_interval"`
}

// GovernorConfig configures the resource governor.
type GovernorConfig struct {
	// SampleInterval is how often the governor samples aggregate
	// pending bytes and process memory. Default: 1s.
	SampleInterval time.Duration `yaml:"sample_interval"`

	// MemoryThresholdBytes flips the throttle flag when the sampled
	// process memory exceeds it. Default: 512 MiB.
	MemoryThresholdBytes uint64 `yaml:"memory_threshold_bytes"`

	// PendingThresholdBytes flips the throttle flag when aggregate
	// pending bytes exceed it. Default: 48 MiB.
	PendingThresholdBytes int64 `yaml:"pending_threshold_bytes"`

	// RecoverySamples is how many consecutive below-threshold samples
	// are required before the throttle clears. Default: 3.
	RecoverySamples int `yaml:"recovery_samples"`
}

// RegistryConfig configures terminal lifecycle handling.
type RegistryConfig struct {
	// TrashTTL is how long a trashed terminal survives before
	// permanent removal. Default: 1h.
	TrashTTL time.Duration `yaml:"trash_ttl"`
}

// Default returns a Config with standard values.
func Default() Config {
	return Config{
		Ring: RingConfig{
			SizeBytes: 4 * 1024 * 1024,
		},
		Flow: FlowConfig{
			PerTerminalCeilingBytes: 4 * 1024 * 1024,
			ResumeThresholdBytes:    1 * 1024 * 1024,
			GlobalCeilingBytes:      64 * 1024 * 1024,
			GlobalCheckInterval:     250 * time.Millisecond,
			StallTimeout:            10 * time.Second,
			MinRecheckInterval:      50 * time.Millisecond,
			HardPauseCeiling:        30 * time.Second,
		},
		Queue: QueueConfig{
			FlushInterval:           16 * time.Millisecond,
			BackgroundFlushInterval: 250 * time.Millisecond,
		},
		Governor: GovernorConfig{
			SampleInterval:        time.Second,
			MemoryThresholdBytes:  512 * 1024 * 1024,
			PendingThresholdBytes: 48 * 1024 * 1024,
			RecoverySamples:       3,
		},
		Registry: RegistryConfig{
			TrashTTL: time.Hour,
		},
	}
}

// Load reads configuration from the file named by the HOSTMUX_CONFIG
// environment variable. When the variable is unset, Default() is
// returned unchanged.
func Load() (Config, error) {
	path := os.Getenv("HOSTMUX_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads configuration from the given YAML file. Values absent
// from the file keep their defaults.
func LoadFile(path string) (Config, error) {
	configuration := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &configuration); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := configuration.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config file %s: %w", path, err)
	}
	return configuration, nil
}

// Validate rejects configurations that would break flow-control
// invariants rather than merely performing badly.
func (c Config) Validate() error {
	if c.Ring.SizeBytes < 2 {
		return fmt.Errorf("ring.size_bytes must be at least 2, got %d", c.Ring.SizeBytes)
	}
	if c.Flow.PerTerminalCeilingBytes <= 0 {
		return fmt.Errorf("flow.per_terminal_ceiling_bytes must be positive, got %d", c.Flow.PerTerminalCeilingBytes)
	}
	if c.Flow.ResumeThresholdBytes >= c.Flow.PerTerminalCeilingBytes {
		return fmt.Errorf("flow.resume_threshold_bytes (%d) must be strictly below flow.per_terminal_ceiling_bytes (%d)",
			c.Flow.ResumeThresholdBytes, c.Flow.PerTerminalCeilingBytes)
	}
	if c.Flow.ResumeThresholdBytes < 0 {
		return fmt.Errorf("flow.resume_threshold_bytes must be non-negative, got %d", c.Flow.ResumeThresholdBytes)
	}
	if c.Flow.GlobalCeilingBytes <= 0 {
		return fmt.Errorf("flow.global_ceiling_bytes must be positive, got %d", c.Flow.GlobalCeilingBytes)
	}
	for name, interval := range map[string]time.Duration{
		"flow.global_check_interval":      c.Flow.GlobalCheckInterval,
		"flow.stall_timeout":              c.Flow.StallTimeout,
		"flow.min_recheck_interval":       c.Flow.MinRecheckInterval,
		"flow.hard_pause_ceiling":         c.Flow.HardPauseCeiling,
		"queue.flush_interval":            c.Queue.FlushInterval,
		"queue.background_flush_interval": c.Queue.BackgroundFlushInterval,
		"governor.sample_interval":        c.Governor.SampleInterval,
		"registry.trash_ttl":              c.Registry.TrashTTL,
	} {
		if interval <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, interval)
		}
	}
	if c.Governor.RecoverySamples < 1 {
		return fmt.Errorf("governor.recovery_samples must be at least 1, got %d", c.Governor.RecoverySamples)
	}
	return nil
}
