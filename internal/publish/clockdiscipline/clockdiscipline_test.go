// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package clockdiscipline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	grapetime "github.com/gracentral/grapetime"
)

// TestAttachPublishClose exercises the real SysV SHM path; it is skipped
// when the sandbox denies IPC syscalls rather than failing the suite,
// since this is the one package in the repo that depends on a kernel
// facility outside the test container's control.
func TestAttachPublishClose(t *testing.T) {
	p, err := Attach(63) // high unit number to avoid colliding with a real ntpd
	if err != nil {
		t.Skipf("SysV shared memory unavailable in this environment: %v", err)
	}
	defer p.Close()

	now := time.Now()
	p.Publish(now, now, 0.4, grapetime.GradeA)

	assert.Equal(t, int32(1), p.seg.valid)
	assert.Equal(t, int32(0), p.seg.count%2) // even count: write completed cleanly
}

func TestPublishSkippedForWorstGrade(t *testing.T) {
	p, err := Attach(62)
	if err != nil {
		t.Skipf("SysV shared memory unavailable in this environment: %v", err)
	}
	defer p.Close()

	now := time.Now()
	p.Publish(now, now, 0.4, grapetime.GradeD)

	assert.Equal(t, int32(0), p.seg.valid)
}

func TestPrecisionExponentNegativeForSubSecondUncertainty(t *testing.T) {
	assert.Less(t, precisionExponent(1.0), int32(0))
	assert.Less(t, precisionExponent(0.1), precisionExponent(10.0))
}
