// Package joblog keeps the complete, verbatim output of the agent.
//
// Progress events are a lossy summary; the job log is authoritative. A Sink is
// created once per host and reset at the start of every invocation. The backing
// file is created lazily on the first write after a reset.
package joblog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const FileName = "agent-output.log"

var ErrClosed = errors.New("job log closed")

type Sink struct {
	mx     sync.Mutex
	dir    string
	buf    bytes.Buffer // in-memory sinks only
	f      *os.File
	closed bool
}

// New returns a sink writing to dir/agent-output.log. An empty dir keeps the
// log in memory only.
func New(dir string) *Sink {
	return &Sink{dir: dir}
}

// Path returns the log file location, empty for in-memory sinks.
func (s *Sink) Path() string {
	if s.dir == "" {
		return ""
	}
	return filepath.Join(s.dir, FileName)
}

// Reset clears the log and writes a header for the new invocation.
func (s *Sink) Reset(invocation string) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.buf.Reset()
	if s.f != nil {
		err := s.f.Close()
		s.f = nil
		if err != nil {
			return fmt.Errorf("closing job log: %w", err)
		}
	}
	if s.dir != "" {
		if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("clearing job log: %w", err)
		}
	}
	header := fmt.Sprintf("=== invocation %s started %s ===\n", invocation, time.Now().UTC().Format(time.RFC3339))
	return s.write([]byte(header))
}

// Write appends p verbatim.
func (s *Sink) Write(p []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if err := s.write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteError appends p with every line prefixed as an error line.
func (s *Sink) WriteError(p []byte) error {
	var b bytes.Buffer
	for line := range bytes.Lines(p) {
		b.WriteString("[stderr] ")
		b.Write(line)
	}
	if n := b.Len(); n > 0 && b.Bytes()[n-1] != '\n' {
		b.WriteByte('\n')
	}
	_, err := s.Write(b.Bytes())
	return err
}

func (s *Sink) write(p []byte) error {
	if s.dir == "" {
		s.buf.Write(p)
		return nil
	}
	if s.f == nil {
		if err := os.MkdirAll(s.dir, 0o750); err != nil {
			return fmt.Errorf("creating job log directory: %w", err)
		}
		f, err := os.OpenFile(s.Path(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("opening job log: %w", err)
		}
		s.f = f
	}
	if _, err := s.f.Write(p); err != nil {
		return fmt.Errorf("writing job log: %w", err)
	}
	return nil
}

// String returns the log of the current invocation. File backed sinks read
// it back from disk.
func (s *Sink) String() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.dir == "" {
		return s.buf.String()
	}
	b, err := os.ReadFile(s.Path())
	if err != nil {
		return ""
	}
	return string(b)
}

func (s *Sink) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
