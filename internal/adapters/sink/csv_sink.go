package sink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

// CSVSink appends records to a file in domain.RecordColumns order. A
// header is written only when the file is new or empty, so runs appended
// to one file share a single header.
type CSVSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *csv.Writer
}

func OpenCSV(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	s := &CSVSink{path: path, f: f, w: csv.NewWriter(f)}
	if st.Size() == 0 {
		if err := s.w.Write(domain.RecordColumns); err != nil {
			f.Close()
			return nil, err
		}
		if err := s.flushLocked(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *CSVSink) Name() string { return "csv:" + s.path }

func (s *CSVSink) Path() string { return s.path }

// WriteBatch returns only after the rows reached stable storage.
func (s *CSVSink) WriteBatch(records []*domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	for _, r := range records {
		if err := s.w.Write(r.Values()); err != nil {
			return err
		}
	}
	return s.flushLocked()
}

func (s *CSVSink) flushLocked() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.f.Sync()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := errors.Join(s.flushLocked(), s.f.Close())
	s.f = nil
	return err
}

var _ ports.Sink = (*CSVSink)(nil)
