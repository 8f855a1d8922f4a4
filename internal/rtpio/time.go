// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package rtpio

import "time"

func wallclockNanos() int64 {
	return time.Now().UnixNano()
}
