// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// systemMemoryBytes returns the system's used memory in bytes via
// sysinfo(2): total minus free and buffer pages, scaled by the kernel
// memory unit.
func systemMemoryBytes() (uint64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	used := uint64(info.Totalram) - uint64(info.Freeram) - uint64(info.Bufferram)
	return used * unit, nil
}
