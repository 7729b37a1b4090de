// File: internal/webgraph/builder.go

// Package webgraph builds and serves immutable on-disk snapshots of the link
// graph. A snapshot bundles the identity table with compacted forward and
// reverse adjacency in CSR form (an offsets file plus a flat neighbor file
// per direction), laid out for constant-time random access by node id without
// ever loading the full edge set into memory.
package webgraph

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oeb25/webgraph/internal/edgelist"
	"github.com/oeb25/webgraph/internal/identity"
)

// ErrMalformedEdge marks edges whose endpoints are not valid interned nodes.
// It is fatal for the build step: no partial snapshot is ever published.
var ErrMalformedEdge = errors.New("webgraph: malformed edge")

// Builder accumulates a deduplicated edge set and materializes it as a
// snapshot. Build once, then only read.
type Builder struct {
	table *identity.Table
	seen  map[uint64]struct{}
	edges [][2]uint32
	log   *zap.Logger
}

// NewBuilder creates a builder around an identity table. Passing a preloaded
// table makes rebuilds reuse the existing id assignment.
func NewBuilder(table *identity.Table, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if table == nil {
		table = identity.NewTable(logger)
	}
	return &Builder{
		table: table,
		seen:  make(map[uint64]struct{}),
		log:   logger.Named("builder"),
	}
}

// Table exposes the identity table backing this builder.
func (b *Builder) Table() *identity.Table { return b.table }

// AddRaw interns both endpoints of a raw edge and records it. Duplicate
// (source, target) pairs collapse to one edge; self-loops are kept.
func (b *Builder) AddRaw(edge edgelist.RawEdge) {
	src := b.table.Intern(edge.Source)
	dst := b.table.Intern(edge.Target)
	b.addInterned(src, dst)
}

// AddEdge records an edge between two already interned node ids.
func (b *Builder) AddEdge(src, dst uint32) error {
	n := uint32(b.table.Len())
	if src >= n || dst >= n {
		return fmt.Errorf("%w: endpoint (%d, %d) outside interned range [0, %d)", ErrMalformedEdge, src, dst, n)
	}
	b.addInterned(src, dst)
	return nil
}

func (b *Builder) addInterned(src, dst uint32) {
	key := uint64(src)<<32 | uint64(dst)
	if _, dup := b.seen[key]; dup {
		return
	}
	b.seen[key] = struct{}{}
	b.edges = append(b.edges, [2]uint32{src, dst})
}

// AddStream drains an edge reader into the builder.
func (b *Builder) AddStream(r *edgelist.Reader) error {
	for {
		edge, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		b.AddRaw(edge)
	}
}

// EdgeCount reports the number of distinct edges recorded so far.
func (b *Builder) EdgeCount() int { return len(b.edges) }

// Build writes a new immutable snapshot under dataDir and advances the
// CURRENT pointer to it. The snapshot is assembled in a temporary directory
// and renamed into place, so a crash mid-build leaves no half-written
// snapshot visible.
func (b *Builder) Build(dataDir string) (*Manifest, error) {
	n := b.table.Len()
	start := time.Now()
	b.log.Info("Building snapshot",
		zap.Int("nodes", n),
		zap.Int("edges", len(b.edges)),
	)

	forward := csrFromEdges(n, b.edges, false)
	reverse := csrFromEdges(n, b.edges, true)

	manifest := &Manifest{
		SnapshotID:    uuid.NewString(),
		FormatVersion: formatVersion,
		NodeCount:     uint64(n),
		EdgeCount:     uint64(len(b.edges)),
		BuiltAt:       time.Now().UTC(),
	}

	snapshotsDir := filepath.Join(dataDir, snapshotsDirName)
	if err := os.MkdirAll(snapshotsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots dir: %w", err)
	}

	name := snapshotDirPrefix + manifest.SnapshotID
	tmpDir := filepath.Join(snapshotsDir, name+".tmp")
	finalDir := filepath.Join(snapshotsDir, name)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot staging dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := b.table.Save(filepath.Join(tmpDir, identityFileName)); err != nil {
		return nil, err
	}
	if err := forward.write(filepath.Join(tmpDir, forwardOffsetsName), filepath.Join(tmpDir, forwardAdjName)); err != nil {
		return nil, err
	}
	if err := reverse.write(filepath.Join(tmpDir, reverseOffsetsName), filepath.Join(tmpDir, reverseAdjName)); err != nil {
		return nil, err
	}
	if err := writeManifest(filepath.Join(tmpDir, manifestFileName), manifest); err != nil {
		return nil, err
	}

	if err := os.Rename(tmpDir, finalDir); err != nil {
		return nil, fmt.Errorf("failed to publish snapshot: %w", err)
	}
	if err := advancePointer(filepath.Join(snapshotsDir, currentPointerName), name); err != nil {
		return nil, err
	}

	b.log.Info("Snapshot built",
		zap.String("snapshot_id", manifest.SnapshotID),
		zap.Duration("elapsed", time.Since(start)),
	)
	return manifest, nil
}

// csr is the in-memory form of one adjacency direction before it hits disk.
type csr struct {
	offsets []uint64
	targets []uint32
}

// csrFromEdges compacts an edge list into CSR form. Neighbor lists come out
// sorted, which both makes rebuilds byte-identical and keeps lookups cheap.
func csrFromEdges(n int, edges [][2]uint32, reverse bool) csr {
	degree := make([]uint64, n)
	for _, e := range edges {
		from := e[0]
		if reverse {
			from = e[1]
		}
		degree[from]++
	}

	offsets := make([]uint64, n+1)
	for i := 0; i < n; i++ {
		offsets[i+1] = offsets[i] + degree[i]
	}

	targets := make([]uint32, len(edges))
	cursor := make([]uint64, n)
	copy(cursor, offsets[:n])
	for _, e := range edges {
		from, to := e[0], e[1]
		if reverse {
			from, to = to, from
		}
		targets[cursor[from]] = to
		cursor[from]++
	}

	for i := 0; i < n; i++ {
		list := targets[offsets[i]:offsets[i+1]]
		sort.Slice(list, func(a, b int) bool { return list[a] < list[b] })
	}
	return csr{offsets: offsets, targets: targets}
}

// advancePointer updates the CURRENT pointer file with write-then-rename.
func advancePointer(path, name string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(name+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to stage pointer file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to advance pointer file: %w", err)
	}
	return nil
}
