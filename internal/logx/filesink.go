package logx

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// fileSink is a size-rotating append-only log file. Rotation opens the new
// file before closing the old one (an atomic swap under sink.mu) so a
// concurrent writer never observes a nil destination. A write failure
// degrades the sink to console-only permanently; it never propagates to
// callers (spec.md §4.1).
type fileSink struct {
	mu           sync.Mutex
	dir          string
	maxBytes     int64
	retention    int
	file         *os.File
	writtenBytes int64
	degraded     bool
}

// newFileSink creates the log directory and opens the first file. The run
// name embeds an ISO8601 timestamp, e.g. marketpulse-2026-07-30T10-00-00Z.log.
func newFileSink(dir string, maxBytes int64, retention int) (*fileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	s := &fileSink{dir: dir, maxBytes: maxBytes, retention: retention}
	f, err := s.openNew()
	if err != nil {
		return nil, err
	}
	s.file = f
	return s, nil
}

func (s *fileSink) openNew() (*os.File, error) {
	name := fmt.Sprintf("marketpulse-%s.log", time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	return os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Write implements io.Writer for zerolog's MultiLevelWriter.
func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		return len(p), nil // console-only; swallow silently
	}

	if s.writtenBytes+int64(len(p)) > s.maxBytes {
		if err := s.rotate(); err != nil {
			s.degraded = true
			return len(p), nil
		}
	}

	n, err := s.file.Write(p)
	s.writtenBytes += int64(n)
	if err != nil {
		s.degraded = true
		return len(p), nil
	}
	return n, nil
}

// rotate opens a fresh file, then closes the old one and prunes beyond the
// retention count. Opening-before-closing keeps the sink always writable.
func (s *fileSink) rotate() error {
	next, err := s.openNew()
	if err != nil {
		return err
	}
	old := s.file
	s.file = next
	s.writtenBytes = 0
	if old != nil {
		old.Close()
	}
	s.pruneLocked()
	return nil
}

func (s *fileSink) pruneLocked() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".log" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // ISO8601 names sort chronologically
	if len(names) <= s.retention {
		return
	}
	for _, n := range names[:len(names)-s.retention] {
		os.Remove(filepath.Join(s.dir, n))
	}
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
