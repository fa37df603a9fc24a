// Package file implements the audit store as a JSON-lines file. One event
// per line keeps the log human-inspectable and crash-safe: a partial write
// corrupts at most the final line, which readers skip.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"edushield/internal/audit"
)

// Store appends events to a single log file. A mutex serializes writers so
// concurrent appends never interleave within a line.
type Store struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// maxLineBytes bounds a single audit line during scans. Events are small;
// anything beyond this is either corruption or something that should never
// have been logged.
const maxLineBytes = 1 << 20

// New opens (creating if needed) the log file at path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Store{path: path, f: f}, nil
}

// Append writes one event as a JSON line.
func (s *Store) Append(_ context.Context, event audit.Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Scan streams events oldest-first. Malformed lines (including a torn final
// line from a crash mid-append) are skipped, not surfaced: the reader's job
// is to recover everything recoverable.
func (s *Store) Scan(ctx context.Context, fn func(audit.Event) bool) error {
	r, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open audit log for scan: %w", err)
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var event audit.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}
		if event.Timestamp == 0 {
			continue
		}
		if !fn(event) {
			return nil
		}
	}
	return scanner.Err()
}

// Size returns the current log file size in bytes.
func (s *Store) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat audit log: %w", err)
	}
	return info.Size(), nil
}

// Rotate archives the current log under a timestamped name and starts a
// fresh file. Archived events remain readable on disk but leave the scan
// path; rotation policy (when to call this) belongs to the caller.
func (s *Store) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	archive := fmt.Sprintf("%s.%s.archive", s.path, time.Now().UTC().Format("2006-01-02-150405"))
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close audit log for rotation: %w", err)
	}
	if err := os.Rename(s.path, archive); err != nil {
		return fmt.Errorf("archive audit log: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("reopen audit log after rotation: %w", err)
	}
	s.f = f
	return nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
