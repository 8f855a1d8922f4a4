// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package orchestrate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// archiveFileDate derives the UTC date a raw-archive filename was rolled
// over on (spec.md §4.2 names files after their window-open time), by
// reading the file's modification time. The sidecar's first_utc_seconds
// would also date the file, but mtime is the simplest ordering key that
// does not require parsing every sidecar.
func archiveFileDate(info os.FileInfo) time.Time {
	return info.ModTime().UTC()
}

// enforceRetention implements spec.md §4.10 lifecycle step 4: delete the
// oldest raw-archive files for channel under dir/<channel>/ whose age
// exceeds retention, keeping at least one file so an in-progress window
// is never removed out from under the ingress writer. A DiskExhaustion
// condition (spec.md §7) is not distinguished from an ordinary deletion
// failure here: both are reported and the caller logs and continues.
func enforceRetention(dir, channel string, retention time.Duration, now time.Time) error {
	if retention <= 0 {
		return nil
	}
	channelDir := filepath.Join(dir, channel)
	entries, err := os.ReadDir(channelDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("orchestrate: read %s: %w", channelDir, err)
	}

	type candidate struct {
		path string
		age  time.Duration
	}
	var dataFiles []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".iq") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dataFiles = append(dataFiles, candidate{
			path: filepath.Join(channelDir, e.Name()),
			age:  now.Sub(archiveFileDate(info)),
		})
	}
	if len(dataFiles) <= 1 {
		return nil
	}

	sort.Slice(dataFiles, func(i, j int) bool { return dataFiles[i].age > dataFiles[j].age })

	var firstErr error
	for _, f := range dataFiles[:len(dataFiles)-1] {
		if f.age <= retention {
			continue
		}
		if err := os.Remove(f.path); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("orchestrate: remove %s: %w", f.path, err)
		}
		_ = os.Remove(f.path + ".json")
	}
	return firstErr
}
