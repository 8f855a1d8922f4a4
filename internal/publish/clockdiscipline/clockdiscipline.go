// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package clockdiscipline publishes the fused reference time into the
// OS's NTP shared-memory reference-clock protocol (spec.md §6
// "Clock-discipline interface"), the same `shmTime` layout ntpd and
// chrony's SHM refclock driver (type 28, unit N) read from.
package clockdiscipline

import (
	"fmt"
	"math"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	grapetime "github.com/gracentral/grapetime"
)

// ntpSHMBaseKey is the System V IPC key base ntpd's SHM refclock driver
// uses; the actual key is this plus the unit number (convention: unit 0
// for the primary/only reference clock).
const ntpSHMBaseKey = 0x4e545030

// shmTime mirrors ntpd/chrony's `struct shmTime` wire layout exactly
// (mode 1, the default): a fixed-size struct overlaid directly onto the
// shared-memory segment via unsafe.Pointer, the same low-level struct-
// packing technique the NTP packet codec in this pack's reference corpus
// uses for wire-format structs (golang.org/x/sys/unix + unsafe.Pointer,
// not encoding/binary, because the consumer expects native struct
// layout, not a wire-endian byte stream).
type shmTime struct {
	mode                 int32
	count                int32
	clockTimeStampSec     int64
	clockTimeStampUSec    int32
	receiveTimeStampSec   int64
	receiveTimeStampUSec  int32
	leap                  int32
	precision             int32
	nsamples              int32
	valid                 int32
	clockTimeStampNSec    uint32
	receiveTimeStampNSec  uint32
	dummy                 [8]int32
}

// Publisher attaches to the NTP SHM segment for one unit and writes
// reference-time samples using the refclock protocol's count-based
// consistency handshake (spec.md §6).
type Publisher struct {
	unit  int
	shmID int
	raw   []byte
	seg   *shmTime
}

// Attach creates (or attaches to an existing) SHM segment for unit,
// per ntpd's SHM refclock convention (unit 0 by default, spec.md §6).
func Attach(unit int) (*Publisher, error) {
	key := ntpSHMBaseKey + unit
	id, err := unix.SysvShmGet(key, int(unsafe.Sizeof(shmTime{})), unix.IPC_CREAT|0o600)
	if err != nil {
		return nil, fmt.Errorf("clockdiscipline: shmget unit %d: %w", unit, err)
	}
	raw, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("clockdiscipline: shmat unit %d: %w", unit, err)
	}
	seg := (*shmTime)(unsafe.Pointer(&raw[0]))
	seg.mode = 1
	return &Publisher{unit: unit, shmID: id, raw: raw, seg: seg}, nil
}

// Close detaches the SHM segment.
func (p *Publisher) Close() error {
	if p.seg == nil {
		return nil
	}
	return unix.SysvShmDetach(p.raw)
}

// precisionExponent converts an uncertainty in milliseconds to ntpd's
// log2(seconds) precision exponent (spec.md §6: "a precision exponent
// (log2 seconds) derived from uncertainty").
func precisionExponent(uncertaintyMs float64) int32 {
	if uncertaintyMs <= 0 {
		uncertaintyMs = 0.001
	}
	seconds := uncertaintyMs / 1000.0
	return int32(math.Floor(math.Log2(seconds)))
}

// Publish writes one reference-time sample using ntpd's even/odd count
// handshake: the count is incremented (becoming odd) before the fields
// are written and incremented again (becoming even) once complete, so a
// concurrent reader can detect a torn read and retry. Updates only occur
// when grade is not the worst grade (spec.md §6).
func (p *Publisher) Publish(referenceTime, systemTime time.Time, uncertaintyMs float64, grade grapetime.QualityGrade) {
	if grade == grapetime.GradeD {
		return
	}

	p.seg.count++

	refSec := referenceTime.Unix()
	refNsec := referenceTime.Nanosecond()
	sysSec := systemTime.Unix()
	sysNsec := systemTime.Nanosecond()

	p.seg.clockTimeStampSec = refSec
	p.seg.clockTimeStampUSec = int32(refNsec / 1000)
	p.seg.clockTimeStampNSec = uint32(refNsec)
	p.seg.receiveTimeStampSec = sysSec
	p.seg.receiveTimeStampUSec = int32(sysNsec / 1000)
	p.seg.receiveTimeStampNSec = uint32(sysNsec)
	p.seg.leap = 0
	p.seg.precision = precisionExponent(uncertaintyMs)
	p.seg.nsamples = 3
	p.seg.valid = 1

	p.seg.count++
}
