// spill.go: Disk-backed overflow spill for undeliverable batches
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Spill is a bounded, disk-backed overflow area used when the storage
// sink stays unavailable for longer than in-memory buffering can absorb.
//
// Each spilled batch becomes one JSON-lines segment file under the spill
// directory, named so lexical order matches append order. Segments
// survive process restarts: NewSpill rescans the directory and the
// flusher re-delivers recovered segments before any new batches.
//
// Total segment bytes are capped by the configured limit; Append fails
// with a SpillFullError once the cap is reached, which is the only
// condition this subsystem escalates as fatal.
type Spill struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	size     int64
	segments []string
}

const spillSegmentExt = ".jsonl"

// NewSpill opens (or creates) the spill directory and rescans any
// segments left over from a previous run.
func NewSpill(config SpillConfig) (*Spill, error) {
	if err := os.MkdirAll(config.Dir, 0o750); err != nil {
		return nil, NewSpillIOError("mkdir", err)
	}

	s := &Spill{
		dir:      config.Dir,
		maxBytes: config.MaxBytes,
	}

	entries, err := os.ReadDir(config.Dir)
	if err != nil {
		return nil, NewSpillIOError("scan", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), spillSegmentExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		s.segments = append(s.segments, entry.Name())
		s.size += info.Size()
	}
	sort.Strings(s.segments)
	return s, nil
}

// Append durably stores one batch as a new segment. Fails with a
// SpillFullError when the byte budget is exhausted.
func (s *Spill) Append(metrics []Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size >= s.maxBytes {
		return NewSpillFullError(s.maxBytes)
	}

	name := fmt.Sprintf("%020d-%s%s", time.Now().UnixNano(), uuid.NewString(), spillSegmentExt)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return NewSpillIOError("create", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, m := range metrics {
		if err := enc.Encode(m); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return NewSpillIOError("encode", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return NewSpillIOError("flush", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return NewSpillIOError("sync", err)
	}
	if err := f.Close(); err != nil {
		return NewSpillIOError("close", err)
	}

	info, err := os.Stat(path)
	if err == nil {
		s.size += info.Size()
	}
	s.segments = append(s.segments, name)
	return nil
}

// ReadOldest returns the metrics of the oldest segment together with its
// segment ID, without removing it. Callers remove the segment with Remove
// only after the sink has acknowledged redelivery. Returns a nil slice
// and empty ID when the spill is empty.
func (s *Spill) ReadOldest() ([]Metric, string, error) {
	s.mu.Lock()
	if len(s.segments) == 0 {
		s.mu.Unlock()
		return nil, "", nil
	}
	name := s.segments[0]
	s.mu.Unlock()

	// Errors carry the segment ID so the caller can drop an unreadable
	// segment instead of retrying it forever.
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, name, NewSpillIOError("open", err)
	}
	defer func() { _ = f.Close() }()

	var metrics []Metric
	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var m Metric
		if err := dec.Decode(&m); err != nil {
			if len(metrics) > 0 {
				// A torn tail line (crash partway through an append) must
				// not discard the intact prefix; redeliver what decoded.
				return metrics, name, nil
			}
			return nil, name, NewSpillIOError("decode", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, name, nil
}

// Remove deletes an acknowledged segment and releases its byte budget.
func (s *Spill) Remove(segmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, segmentID)
	info, statErr := os.Stat(path)
	if err := os.Remove(path); err != nil {
		return NewSpillIOError("remove", err)
	}
	if statErr == nil {
		s.size -= info.Size()
		if s.size < 0 {
			s.size = 0
		}
	}
	for i, name := range s.segments {
		if name == segmentID {
			s.segments = append(s.segments[:i], s.segments[i+1:]...)
			break
		}
	}
	return nil
}

// Segments returns the number of pending segments.
func (s *Spill) Segments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

// Size returns the total bytes currently spilled.
func (s *Spill) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Full reports whether the byte budget is exhausted.
func (s *Spill) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size >= s.maxBytes
}
