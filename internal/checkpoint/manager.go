// File: internal/checkpoint/manager.go

// Package checkpoint persists the centrality engine's per-round state so a
// run that dies hours in can resume from the last completed round. Every
// commit writes an entirely new, self-contained, compressed checkpoint
// version and only then advances a pointer file; a crash mid-commit leaves
// the previously committed round untouched.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/oeb25/webgraph/internal/sketch"
)

// ErrNoCheckpoint signals a cold start: round 0, seeded sketches, zero
// accumulators. It is informational, not a failure.
var ErrNoCheckpoint = errors.New("checkpoint: no checkpoint committed")

const (
	checkpointsDirName = "checkpoints"
	currentPointerName = "CURRENT"
	roundDirPrefix     = "round-"
	payloadFileName    = "state.bin.br"

	payloadMagic = "wgcp0001"

	// brotli quality 4 is the sweet spot for sketch slabs: register bytes
	// compress well and the write stays far cheaper than a round.
	compressionQuality = 4
)

// State is the complete resumable engine state after a round: the sketch
// generation plus the harmonic accumulators (compensated sums, stored as
// sum/compensation pairs so resumed arithmetic is bit-identical).
type State struct {
	Round         int
	Sketches      *sketch.Registry
	Sums          []float64
	Compensations []float64
}

// Manager commits and resumes checkpoint versions under one data directory.
type Manager struct {
	dir    string
	retain int
	log    *zap.Logger
}

// NewManager creates a manager rooted at dataDir. retain is how many
// completed checkpoints survive pruning; it is clamped to at least one.
func NewManager(dataDir string, retain int, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retain < 1 {
		retain = 1
	}
	return &Manager{
		dir:    filepath.Join(dataDir, checkpointsDirName),
		retain: retain,
		log:    logger.Named("checkpoint"),
	}
}

// Commit durably writes state as the checkpoint for its round and advances
// the CURRENT pointer. Older checkpoints beyond the retention count are
// pruned only after the new one is fully committed.
func (m *Manager) Commit(state *State) error {
	if state.Sketches == nil {
		return fmt.Errorf("checkpoint: state has no sketch registry")
	}
	n := state.Sketches.NodeCount()
	if len(state.Sums) != n || len(state.Compensations) != n {
		return fmt.Errorf("checkpoint: accumulator length %d does not match %d nodes", len(state.Sums), n)
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoints dir: %w", err)
	}

	name := fmt.Sprintf("%s%06d", roundDirPrefix, state.Round)
	finalDir := filepath.Join(m.dir, name)
	tmpDir := finalDir + ".tmp"

	start := time.Now()
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint staging dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := writePayload(filepath.Join(tmpDir, payloadFileName), state); err != nil {
		return err
	}

	// A leftover directory from an interrupted earlier attempt at the same
	// round is garbage: the pointer never advanced to it.
	if err := os.RemoveAll(finalDir); err != nil {
		return fmt.Errorf("failed to clear stale checkpoint dir: %w", err)
	}
	if err := os.Rename(tmpDir, finalDir); err != nil {
		return fmt.Errorf("failed to publish checkpoint: %w", err)
	}
	if err := advancePointer(filepath.Join(m.dir, currentPointerName), name); err != nil {
		return err
	}

	m.log.Info("Checkpoint committed",
		zap.Int("round", state.Round),
		zap.Duration("elapsed", time.Since(start)),
	)

	m.prune()
	return nil
}

// Resume loads the checkpoint the CURRENT pointer names, or ErrNoCheckpoint
// when none has been committed.
func (m *Manager) Resume() (*State, error) {
	raw, err := os.ReadFile(filepath.Join(m.dir, currentPointerName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("failed to read checkpoint pointer: %w", err)
	}
	name := strings.TrimSpace(string(raw))
	if name == "" {
		return nil, ErrNoCheckpoint
	}

	state, err := readPayload(filepath.Join(m.dir, name, payloadFileName))
	if err != nil {
		return nil, err
	}
	m.log.Info("Resuming from checkpoint", zap.Int("round", state.Round))
	return state, nil
}

// Clear discards every committed checkpoint along with the CURRENT pointer.
// The next Resume reports ErrNoCheckpoint and the run starts from round zero.
func (m *Manager) Clear() error {
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	m.log.Info("Checkpoints cleared", zap.String("dir", m.dir))
	return nil
}

// prune removes committed checkpoints beyond the retention count. Failures
// only cost disk space, never correctness, so they are logged and swallowed.
func (m *Manager) prune() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.log.Warn("Failed to list checkpoints for pruning", zap.Error(err))
		return
	}

	var rounds []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), roundDirPrefix) && !strings.HasSuffix(e.Name(), ".tmp") {
			rounds = append(rounds, e.Name())
		}
	}
	if len(rounds) <= m.retain {
		return
	}
	sort.Strings(rounds)

	for _, name := range rounds[:len(rounds)-m.retain] {
		if err := os.RemoveAll(filepath.Join(m.dir, name)); err != nil {
			m.log.Warn("Failed to prune checkpoint", zap.String("checkpoint", name), zap.Error(err))
			continue
		}
		m.log.Debug("Pruned checkpoint", zap.String("checkpoint", name))
	}
}

func advancePointer(path, name string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(name+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to stage checkpoint pointer: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to advance checkpoint pointer: %w", err)
	}
	return nil
}

// -- Payload encoding --

func writePayload(path string, state *State) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint payload: %w", err)
	}
	defer f.Close()

	bw := brotli.NewWriterLevel(f, compressionQuality)

	if _, err := io.WriteString(bw, payloadMagic); err != nil {
		return fmt.Errorf("failed to write checkpoint header: %w", err)
	}
	var header [12]byte
	binary.LittleEndian.PutUint32(header[:4], uint32(state.Round))
	binary.LittleEndian.PutUint64(header[4:], uint64(len(state.Sums)))
	if _, err := bw.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write checkpoint header: %w", err)
	}

	if err := writeFloats(bw, state.Sums); err != nil {
		return err
	}
	if err := writeFloats(bw, state.Compensations); err != nil {
		return err
	}
	if _, err := state.Sketches.WriteTo(bw); err != nil {
		return err
	}

	if err := bw.Close(); err != nil {
		return fmt.Errorf("failed to finish checkpoint compression: %w", err)
	}
	return f.Sync()
}

func readPayload(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint payload: %w", err)
	}
	defer f.Close()

	br := brotli.NewReader(f)

	magic := make([]byte, len(payloadMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("failed to read checkpoint header: %w", err)
	}
	if string(magic) != payloadMagic {
		return nil, fmt.Errorf("checkpoint: bad payload magic %q", magic)
	}

	var header [12]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read checkpoint header: %w", err)
	}
	round := int(binary.LittleEndian.Uint32(header[:4]))
	n := binary.LittleEndian.Uint64(header[4:])

	sums, err := readFloats(br, int(n))
	if err != nil {
		return nil, err
	}
	comps, err := readFloats(br, int(n))
	if err != nil {
		return nil, err
	}
	registry, err := sketch.ReadRegistry(br)
	if err != nil {
		return nil, err
	}
	if registry.NodeCount() != int(n) {
		return nil, fmt.Errorf("checkpoint: registry holds %d nodes, header says %d", registry.NodeCount(), n)
	}

	return &State{Round: round, Sketches: registry, Sums: sums, Compensations: comps}, nil
}

func writeFloats(w io.Writer, vals []float64) error {
	buf := make([]byte, 8*1024)
	for off := 0; off < len(vals); {
		chunk := len(vals) - off
		if chunk > len(buf)/8 {
			chunk = len(buf) / 8
		}
		for i := 0; i < chunk; i++ {
			binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(vals[off+i]))
		}
		if _, err := w.Write(buf[:chunk*8]); err != nil {
			return fmt.Errorf("failed to write accumulators: %w", err)
		}
		off += chunk
	}
	return nil
}

func readFloats(r io.Reader, n int) ([]float64, error) {
	raw := make([]byte, n*8)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("failed to read accumulators: %w", err)
	}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return vals, nil
}
