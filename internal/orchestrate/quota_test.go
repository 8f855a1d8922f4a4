// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package orchestrate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAged(t *testing.T, dir, name string, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path+".json", []byte("{}"), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestEnforceRetentionDeletesOnlyOldFiles(t *testing.T) {
	base := t.TempDir()
	channelDir := filepath.Join(base, "wwv10")
	require.NoError(t, os.MkdirAll(channelDir, 0o755))

	writeAged(t, channelDir, "old.iq", 48*time.Hour)
	writeAged(t, channelDir, "recent.iq", 1*time.Hour)
	writeAged(t, channelDir, "newest.iq", 1*time.Minute)

	err := enforceRetention(base, "wwv10", 24*time.Hour, time.Now())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(channelDir, "old.iq"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(channelDir, "old.iq.json"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(channelDir, "recent.iq"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(channelDir, "newest.iq"))
	assert.NoError(t, err)
}

func TestEnforceRetentionNeverDeletesLastFile(t *testing.T) {
	base := t.TempDir()
	channelDir := filepath.Join(base, "wwv10")
	require.NoError(t, os.MkdirAll(channelDir, 0o755))
	writeAged(t, channelDir, "only.iq", 72*time.Hour)

	err := enforceRetention(base, "wwv10", 24*time.Hour, time.Now())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(channelDir, "only.iq"))
	assert.NoError(t, err)
}

func TestEnforceRetentionMissingDirIsNoop(t *testing.T) {
	base := t.TempDir()
	err := enforceRetention(base, "nope", time.Hour, time.Now())
	assert.NoError(t, err)
}
