// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package archive

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// fileEntry describes one archive file's position in RTP sample-index
// space, derived from its sidecar.
type fileEntry struct {
	dataPath string
	sidecar  Sidecar
}

// Reader reads a channel's raw archive across file boundaries, tolerating
// EOF (treated as "not yet available") per spec.md §5.
type Reader struct {
	dir string
}

// NewReader opens a reader for dir/<channel>/.
func NewReader(dir, channel string) *Reader {
	return &Reader{dir: filepath.Join(dir, channel)}
}

func (r *Reader) listFiles() ([]fileEntry, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []fileEntry
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".iq") {
			continue
		}
		sidecarPath := filepath.Join(r.dir, name+".json")
		data, err := os.ReadFile(sidecarPath)
		if err != nil {
			// Sidecar not written yet (file still open): skip, not an error.
			continue
		}
		var sc Sidecar
		if err := json.Unmarshal(data, &sc); err != nil {
			continue
		}
		files = append(files, fileEntry{dataPath: filepath.Join(r.dir, name), sidecar: sc})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].sidecar.FirstRTPTimestamp < files[j].sidecar.FirstRTPTimestamp
	})
	return files, nil
}

// Read returns the sample slice covering [startRTP, startRTP+count) plus
// the gap intervals intersecting that range (spec.md §4.2 reader
// contract). Missing data (not yet archived, or beyond any known file) is
// reported via a gap with Fill == "unavailable".
func (r *Reader) Read(startRTP uint32, count int) ([]complex64, []SidecarGap, error) {
	files, err := r.listFiles()
	if err != nil {
		return nil, nil, fmt.Errorf("archive: list files: %w", err)
	}

	out := make([]complex64, count)
	filled := make([]bool, count)
	var gaps []SidecarGap

	for _, f := range files {
		fileStart := f.sidecar.FirstRTPTimestamp
		fileEnd := fileStart + uint32(f.sidecar.SampleCount)

		rangeEnd := startRTP + uint32(count)
		if fileEnd <= startRTP || fileStart >= rangeEnd {
			continue // no overlap
		}

		overlapStart := maxU32(startRTP, fileStart)
		overlapEnd := minU32(rangeEnd, fileEnd)
		if overlapEnd <= overlapStart {
			continue
		}

		samples, readErr := readSamplesRange(f.dataPath, overlapStart-fileStart, int(overlapEnd-overlapStart))
		if readErr != nil {
			continue // EOF / truncated file: treat as not-yet-available
		}
		for i, s := range samples {
			idx := int(overlapStart-startRTP) + i
			out[idx] = s
			filled[idx] = true
		}

		for _, g := range f.sidecar.Gaps {
			gs, ge := g.RTPStart, g.RTPStart+g.Length
			if ge <= startRTP || gs >= rangeEnd {
				continue
			}
			clippedStart := maxU32(gs, startRTP)
			clippedEnd := minU32(ge, rangeEnd)
			gaps = append(gaps, SidecarGap{RTPStart: clippedStart, Length: clippedEnd - clippedStart, PacketsLost: g.PacketsLost, Fill: g.Fill})
		}
	}

	// Anything never covered by a file and not already reported as a gap
	// is "not yet available".
	i := 0
	for i < count {
		if filled[i] {
			i++
			continue
		}
		j := i
		for j < count && !filled[j] {
			j++
		}
		gaps = append(gaps, SidecarGap{RTPStart: startRTP + uint32(i), Length: uint32(j - i), Fill: "unavailable"})
		i = j
	}

	gaps = sidecarGapsSorted(gaps)
	return out, gaps, nil
}

func readSamplesRange(path string, sampleOffset uint32, count int) ([]complex64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, count*bytesPerSample)
	n, err := f.ReadAt(buf, int64(sampleOffset)*bytesPerSample)
	if err != nil && n < len(buf) {
		return nil, err
	}

	out := make([]complex64, count)
	for i := 0; i < count; i++ {
		iBits := binary.LittleEndian.Uint32(buf[i*8:])
		qBits := binary.LittleEndian.Uint32(buf[i*8+4:])
		out[i] = complex(math.Float32frombits(iBits), math.Float32frombits(qBits))
	}
	return out, nil
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
