// File: internal/edgelist/reader.go

// Package edgelist parses raw hyperlink dumps produced by the upstream
// crawler. The format is one tab-separated pair of external identifiers per
// line, with blank lines and '#' comments ignored. Duplicate pairs are
// permitted here; the graph builder deduplicates them.
package edgelist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RawEdge is a single directed hyperlink between two external identifiers.
type RawEdge struct {
	Source string
	Target string
	Line   int
}

// MalformedEdgeError reports an input record that cannot be parsed. The build
// step treats it as fatal and publishes no partial snapshot.
type MalformedEdgeError struct {
	Line   int
	Record string
	Reason string
}

func (e *MalformedEdgeError) Error() string {
	return fmt.Sprintf("malformed edge at line %d (%s): %q", e.Line, e.Reason, e.Record)
}

// Reader streams RawEdges out of an io.Reader.
type Reader struct {
	scanner  *bufio.Scanner
	line     int
	count    int64
	log      *zap.Logger
	progress rate.Sometimes
}

// NewReader wraps r in an edge stream reader.
func NewReader(r io.Reader, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	scanner := bufio.NewScanner(r)
	// Edge lines hold two URLs; allow for very long ones.
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	return &Reader{
		scanner:  scanner,
		log:      logger.Named("edgelist"),
		progress: rate.Sometimes{Interval: 5 * time.Second},
	}
}

// OpenFile opens path and returns a reader plus a close function.
func OpenFile(path string, logger *zap.Logger) (*Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open edge file: %w", err)
	}
	return NewReader(f, logger), f.Close, nil
}

// Next returns the next edge, io.EOF at end of input, or a
// *MalformedEdgeError for an unparseable record.
func (r *Reader) Next() (RawEdge, error) {
	for r.scanner.Scan() {
		r.line++
		raw := r.scanner.Text()
		line := strings.TrimRight(raw, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		src, dst, ok := strings.Cut(line, "\t")
		if !ok {
			return RawEdge{}, &MalformedEdgeError{Line: r.line, Record: raw, Reason: "missing tab separator"}
		}
		if src == "" || dst == "" {
			return RawEdge{}, &MalformedEdgeError{Line: r.line, Record: raw, Reason: "empty endpoint"}
		}
		if strings.ContainsRune(dst, '\t') {
			return RawEdge{}, &MalformedEdgeError{Line: r.line, Record: raw, Reason: "more than two fields"}
		}

		r.count++
		r.progress.Do(func() {
			r.log.Info("Reading edges", zap.Int64("edges", r.count), zap.Int("line", r.line))
		})
		return RawEdge{Source: src, Target: dst, Line: r.line}, nil
	}
	if err := r.scanner.Err(); err != nil {
		return RawEdge{}, fmt.Errorf("failed to read edge stream: %w", err)
	}
	return RawEdge{}, io.EOF
}

// Count reports how many edges have been returned so far.
func (r *Reader) Count() int64 { return r.count }
