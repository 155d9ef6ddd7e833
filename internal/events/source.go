// source.go - Ordered streams of events.

package events

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
)

// Source yields events in ledger order. Next returns io.EOF when the source is
// exhausted.
type Source interface {
	Next(ctx context.Context) (Event, error)
}

// SliceSource replays a fixed list of events.
type SliceSource struct {
	events []Event
	pos    int
}

func NewSliceSource(evs ...Event) *SliceSource {
	return &SliceSource{events: evs}
}

func (s *SliceSource) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.events) {
		return nil, io.EOF
	}
	e := s.events[s.pos]
	s.pos++
	return e, nil
}

// FileSource reads one envelope per line. Blank lines and lines starting with
// '#' are skipped.
type FileSource struct {
	closer  io.Closer
	scanner *bufio.Scanner
	line    int
}

// maxLine bounds a single envelope.
const maxLine = 1 << 20

// NewReaderSource reads envelopes from r.
func NewReaderSource(r io.Reader) *FileSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	return &FileSource{scanner: sc}
}

// OpenFile opens a JSON lines file of envelopes.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	s := NewReaderSource(f)
	s.closer = f
	return s, nil
}

func (s *FileSource) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("line %d: %w", s.line+1, err)
			}
			return nil, io.EOF
		}
		s.line++
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		e, err := Decode(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", s.line, err)
		}
		return e, nil
	}
}

func (s *FileSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
