// File: internal/identity/table.go

// Package identity maintains the bidirectional mapping between external
// document identifiers (URLs, page ids) and the dense integer node ids used
// everywhere else in the graph. Ids are assigned in first-seen order and are
// never recycled within a snapshot, so rebuilding from the same edge stream
// reproduces the same assignment.
package identity

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownNode is returned when a node id outside the assigned range is
// resolved. In a correctly built snapshot this is a programming error.
var ErrUnknownNode = errors.New("identity: unknown node id")

// Table assigns dense node ids to external identifiers.
type Table struct {
	mu    sync.RWMutex
	ids   map[string]uint32
	names []string
	log   *zap.Logger
}

// NewTable creates an empty identity table.
func NewTable(logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{
		ids: make(map[string]uint32),
		log: logger.Named("identity"),
	}
}

// Intern returns the node id for externalID, assigning the next dense id on
// first sight. The id counter only ever grows.
func (t *Table) Intern(externalID string) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.ids[externalID]; ok {
		return id
	}
	id := uint32(len(t.names))
	t.ids[externalID] = id
	t.names = append(t.names, externalID)
	return id
}

// Lookup returns the id for an already interned identifier without assigning
// a new one.
func (t *Table) Lookup(externalID string) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.ids[externalID]
	return id, ok
}

// Resolve maps a node id back to its external identifier.
func (t *Table) Resolve(id uint32) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) >= len(t.names) {
		return "", fmt.Errorf("%w: %d (assigned range [0, %d))", ErrUnknownNode, id, len(t.names))
	}
	return t.names[id], nil
}

// Len reports the number of assigned node ids.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names)
}

// Range calls fn for every (id, externalID) pair in id order, stopping early
// if fn returns false.
func (t *Table) Range(fn func(id uint32, externalID string) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, name := range t.names {
		if !fn(uint32(i), name) {
			return
		}
	}
}

// Save writes the table to path, one external identifier per line, where the
// line index is the node id. External identifiers must not contain newlines;
// URLs and page ids never do.
func (t *Table) Save(path string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create identity file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, name := range t.names {
		if strings.ContainsRune(name, '\n') {
			return fmt.Errorf("identity: identifier %q contains a newline", name)
		}
		if _, err := w.WriteString(name); err != nil {
			return fmt.Errorf("failed to write identity file: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write identity file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush identity file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync identity file: %w", err)
	}

	t.log.Debug("Identity table saved", zap.String("path", path), zap.Int("nodes", len(t.names)))
	return nil
}

// Load reads a previously saved table. Re-runs reuse an existing mapping file
// so that node ids stay stable across rebuilds of the same snapshot.
func Load(path string, logger *zap.Logger) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity file: %w", err)
	}
	defer f.Close()

	t := NewTable(logger)
	scanner := bufio.NewScanner(f)
	// External identifiers can be long URLs; raise the line limit well above
	// the scanner default.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		name := scanner.Text()
		id := uint32(len(t.names))
		if _, dup := t.ids[name]; dup {
			return nil, fmt.Errorf("identity: duplicate identifier %q at id %d", name, id)
		}
		t.ids[name] = id
		t.names = append(t.names, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	t.log.Debug("Identity table loaded", zap.String("path", path), zap.Int("nodes", len(t.names)))
	return t, nil
}
