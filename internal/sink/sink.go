// Package sink accumulates extracted records across a run and persists
// them exactly once at run end.
package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pagegrab/pagegrab/internal/extract"
	"github.com/pagegrab/pagegrab/internal/logger"
)

// Sink buffers records in memory, preserving append order (page order,
// then in-page document order). Nothing is written until Flush, so a
// partially written artifact can never be mistaken for a complete run.
type Sink struct {
	format  Format
	records []extract.Record
	flushed bool
}

// New creates a sink that serializes with the given format on flush.
func New(format Format) *Sink {
	return &Sink{format: format}
}

// Append adds records to the buffer.
func (s *Sink) Append(records ...extract.Record) {
	s.records = append(s.records, records...)
}

// Len returns the number of buffered records.
func (s *Sink) Len() int {
	return len(s.records)
}

// Records returns a copy of the buffered records in append order.
// Mutating the returned slice does not touch the accumulated state.
func (s *Sink) Records() []extract.Record {
	out := make([]extract.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Flush serializes the full accumulated sequence to w. It is a one-shot
// operation; a second flush of the same sink is an error.
func (s *Sink) Flush(w io.Writer) error {
	if s.flushed {
		return fmt.Errorf("sink already flushed")
	}

	writer, err := NewWriter(w, s.format)
	if err != nil {
		return err
	}
	if err := writer.WriteAll(s.records); err != nil {
		return fmt.Errorf("failed to serialize records: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	s.flushed = true
	return nil
}

// FlushFile persists the accumulated records to path. The artifact is
// written to a temporary file in the same directory and renamed into
// place, so the target path only ever holds a complete artifact.
func (s *Sink) FlushFile(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp output file: %w", err)
	}
	tmpName := tmp.Name()

	if err := s.Flush(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp output file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move output into place: %w", err)
	}

	logger.Debug("output artifact written", "path", path, "records", len(s.records))
	return nil
}
