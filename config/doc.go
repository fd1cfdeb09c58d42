// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the hostmux
// transport core.
//
// Configuration is loaded from a single file specified by either the
// HOSTMUX_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search; absent a file, [Default] supplies
// every value.
//
// Every flow-control tunable lives here rather than in code: the
// pause/resume ceilings trade delivery latency against memory
// headroom, and the right values depend on deployment, so they are
// deliberately not hard-coded.
//
// Key exports:
//
//   - [Config] — master struct with Ring, Flow, Queue, Governor,
//     Registry sections
//   - [Default] — returns a Config with standard values
//   - [Load] and [LoadFile] — the two entry points for loading
//
// This package depends on no other hostmux packages.
package config
