// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package flow

import "runtime"

// systemMemoryBytes falls back to the Go heap in use on platforms
// without sysinfo(2). Coarser than the Linux reading, but the
// governor only needs a monotone pressure signal.
func systemMemoryBytes() (uint64, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapInuse, nil
}
