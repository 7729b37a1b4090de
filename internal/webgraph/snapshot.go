// File: internal/webgraph/snapshot.go
package webgraph

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/oeb25/webgraph/internal/identity"
)

const (
	formatVersion = 1

	snapshotsDirName   = "snapshots"
	snapshotDirPrefix  = "snapshot-"
	currentPointerName = "CURRENT"

	manifestFileName   = "manifest.json"
	identityFileName   = "nodes.tsv"
	forwardOffsetsName = "forward.off"
	forwardAdjName     = "forward.adj"
	reverseOffsetsName = "reverse.off"
	reverseAdjName     = "reverse.adj"
)

// ErrNoSnapshot is returned when the data directory holds no published
// snapshot yet.
var ErrNoSnapshot = errors.New("webgraph: no snapshot published")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Manifest describes one immutable graph snapshot.
type Manifest struct {
	SnapshotID    string    `json:"snapshot_id"`
	FormatVersion int       `json:"format_version"`
	NodeCount     uint64    `json:"node_count"`
	EdgeCount     uint64    `json:"edge_count"`
	BuiltAt       time.Time `json:"built_at"`
}

// Snapshot serves read-only adjacency queries over a built graph. Offsets are
// resident in memory (8 bytes per node per direction); neighbor lists stay on
// disk and are fetched with ReadAt through an LRU cache of decoded lists. A
// snapshot is safe for any number of concurrent readers.
type Snapshot struct {
	manifest Manifest
	table    *identity.Table

	forward adjacency
	reverse adjacency

	cache *lru.Cache[cacheKey, []uint32]
	log   *zap.Logger
}

type adjacency struct {
	offsets []uint64
	file    *os.File
}

type cacheKey struct {
	node    uint32
	reverse bool
}

// Open loads the snapshot stored in dir.
func Open(dir string, cacheSize int, logger *zap.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("snapshot")

	manifest, err := readManifest(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, err
	}
	if manifest.FormatVersion != formatVersion {
		return nil, fmt.Errorf("webgraph: unsupported snapshot format %d", manifest.FormatVersion)
	}

	table, err := identity.Load(filepath.Join(dir, identityFileName), logger)
	if err != nil {
		return nil, err
	}
	if uint64(table.Len()) != manifest.NodeCount {
		return nil, fmt.Errorf("webgraph: identity table holds %d nodes, manifest says %d", table.Len(), manifest.NodeCount)
	}

	cache, err := lru.New[cacheKey, []uint32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("webgraph: bad adjacency cache size: %w", err)
	}

	s := &Snapshot{manifest: *manifest, table: table, cache: cache, log: log}
	s.forward, err = openAdjacency(filepath.Join(dir, forwardOffsetsName), filepath.Join(dir, forwardAdjName), manifest.NodeCount)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.reverse, err = openAdjacency(filepath.Join(dir, reverseOffsetsName), filepath.Join(dir, reverseAdjName), manifest.NodeCount)
	if err != nil {
		s.Close()
		return nil, err
	}

	log.Debug("Snapshot opened",
		zap.String("snapshot_id", manifest.SnapshotID),
		zap.Uint64("nodes", manifest.NodeCount),
		zap.Uint64("edges", manifest.EdgeCount),
	)
	return s, nil
}

// OpenLatest opens the snapshot the CURRENT pointer names.
func OpenLatest(dataDir string, cacheSize int, logger *zap.Logger) (*Snapshot, error) {
	snapshotsDir := filepath.Join(dataDir, snapshotsDirName)
	raw, err := os.ReadFile(filepath.Join(snapshotsDir, currentPointerName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to read snapshot pointer: %w", err)
	}
	name := strings.TrimSpace(string(raw))
	if name == "" {
		return nil, ErrNoSnapshot
	}
	return Open(filepath.Join(snapshotsDir, name), cacheSize, logger)
}

// Manifest returns the snapshot's manifest.
func (s *Snapshot) Manifest() Manifest { return s.manifest }

// Table returns the identity table bundled with the snapshot.
func (s *Snapshot) Table() *identity.Table { return s.table }

// NodeCount returns the number of nodes in the snapshot.
func (s *Snapshot) NodeCount() uint32 { return uint32(s.manifest.NodeCount) }

// OutNeighbors returns the sorted outlink targets of node.
func (s *Snapshot) OutNeighbors(node uint32) ([]uint32, error) {
	return s.neighbors(node, false)
}

// InNeighbors returns the sorted inlink sources of node.
func (s *Snapshot) InNeighbors(node uint32) ([]uint32, error) {
	return s.neighbors(node, true)
}

func (s *Snapshot) neighbors(node uint32, reverse bool) ([]uint32, error) {
	if uint64(node) >= s.manifest.NodeCount {
		return nil, fmt.Errorf("%w: %d (snapshot holds %d nodes)", identity.ErrUnknownNode, node, s.manifest.NodeCount)
	}

	key := cacheKey{node: node, reverse: reverse}
	if list, ok := s.cache.Get(key); ok {
		return list, nil
	}

	adj := &s.forward
	if reverse {
		adj = &s.reverse
	}
	start, end := adj.offsets[node], adj.offsets[node+1]
	if start == end {
		return nil, nil
	}

	buf := make([]byte, (end-start)*4)
	if _, err := adj.file.ReadAt(buf, int64(start*4)); err != nil {
		return nil, fmt.Errorf("failed to read adjacency block: %w", err)
	}
	list := make([]uint32, end-start)
	for i := range list {
		list[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}

	s.cache.Add(key, list)
	return list, nil
}

// Degree returns the out- and in-degree of node without decoding neighbors.
func (s *Snapshot) Degree(node uint32) (out, in uint64, err error) {
	if uint64(node) >= s.manifest.NodeCount {
		return 0, 0, fmt.Errorf("%w: %d", identity.ErrUnknownNode, node)
	}
	out = s.forward.offsets[node+1] - s.forward.offsets[node]
	in = s.reverse.offsets[node+1] - s.reverse.offsets[node]
	return out, in, nil
}

// Close releases the underlying adjacency files.
func (s *Snapshot) Close() error {
	var firstErr error
	for _, adj := range []*adjacency{&s.forward, &s.reverse} {
		if adj.file != nil {
			if err := adj.file.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			adj.file = nil
		}
	}
	return firstErr
}

// -- On-disk encoding --

func openAdjacency(offsetsPath, adjPath string, nodeCount uint64) (adjacency, error) {
	offsets, err := readOffsets(offsetsPath, nodeCount)
	if err != nil {
		return adjacency{}, err
	}
	f, err := os.Open(adjPath)
	if err != nil {
		return adjacency{}, fmt.Errorf("failed to open adjacency file: %w", err)
	}
	return adjacency{offsets: offsets, file: f}, nil
}

func readOffsets(path string, nodeCount uint64) ([]uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read offsets file: %w", err)
	}
	want := (nodeCount + 1) * 8
	if uint64(len(raw)) != want {
		return nil, fmt.Errorf("webgraph: offsets file %s holds %d bytes, expected %d", filepath.Base(path), len(raw), want)
	}
	offsets := make([]uint64, nodeCount+1)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return offsets, nil
}

func (c csr) write(offsetsPath, adjPath string) error {
	if err := writeBinary(offsetsPath, func(w *bufio.Writer) error {
		var buf [8]byte
		for _, off := range c.offsets {
			binary.LittleEndian.PutUint64(buf[:], off)
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to write offsets: %w", err)
	}

	if err := writeBinary(adjPath, func(w *bufio.Writer) error {
		var buf [4]byte
		for _, t := range c.targets {
			binary.LittleEndian.PutUint32(buf[:], t)
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to write adjacency: %w", err)
	}
	return nil
}

func writeBinary(path string, fill func(*bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 1<<20)
	if err := fill(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func writeManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func readManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}
