// internal/webgraph/webgraph_test.go
package webgraph

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oeb25/webgraph/internal/edgelist"
	"github.com/oeb25/webgraph/internal/identity"
)

// buildTestSnapshot builds the 3-cycle plus one inbound link used across the
// engine tests: p1->p2, p2->p3, p3->p1, p4->p1.
func buildTestSnapshot(t *testing.T, dataDir string) *Snapshot {
	t.Helper()

	b := NewBuilder(nil, zap.NewNop())
	for _, e := range [][2]string{
		{"p1", "p2"},
		{"p2", "p3"},
		{"p3", "p1"},
		{"p4", "p1"},
	} {
		b.AddRaw(edgelist.RawEdge{Source: e[0], Target: e[1]})
	}

	_, err := b.Build(dataDir)
	require.NoError(t, err)

	snap, err := OpenLatest(dataDir, 128, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { snap.Close() })
	return snap
}

func TestBuildAndOpen(t *testing.T) {
	t.Parallel()
	snap := buildTestSnapshot(t, t.TempDir())

	m := snap.Manifest()
	assert.Equal(t, uint64(4), m.NodeCount)
	assert.Equal(t, uint64(4), m.EdgeCount)
	assert.NotEmpty(t, m.SnapshotID)

	// First-seen order: p1=0, p2=1, p3=2, p4=3.
	out, err := snap.OutNeighbors(0)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, out)

	in, err := snap.InNeighbors(0)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 3}, in, "inlinks must be sorted")

	out, err = snap.OutNeighbors(3)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, out)

	in, err = snap.InNeighbors(3)
	require.NoError(t, err)
	assert.Empty(t, in, "p4 has no inbound edges")
}

func TestBuilderDeduplicatesEdges(t *testing.T) {
	t.Parallel()
	b := NewBuilder(nil, zap.NewNop())
	for i := 0; i < 5; i++ {
		b.AddRaw(edgelist.RawEdge{Source: "a", Target: "b"})
	}
	assert.Equal(t, 1, b.EdgeCount(), "duplicate pairs must collapse to one edge")
}

func TestBuilderKeepsSelfLoops(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()
	b := NewBuilder(nil, zap.NewNop())
	b.AddRaw(edgelist.RawEdge{Source: "a", Target: "a"})
	b.AddRaw(edgelist.RawEdge{Source: "a", Target: "b"})
	_, err := b.Build(dataDir)
	require.NoError(t, err)

	snap, err := OpenLatest(dataDir, 16, zap.NewNop())
	require.NoError(t, err)
	defer snap.Close()

	out, err := snap.OutNeighbors(0)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1}, out, "self-loop is a valid edge")
}

func TestAddEdgeRejectsUninternedEndpoints(t *testing.T) {
	t.Parallel()
	b := NewBuilder(nil, zap.NewNop())
	b.AddRaw(edgelist.RawEdge{Source: "a", Target: "b"})

	err := b.AddEdge(0, 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedEdge))

	require.NoError(t, b.AddEdge(1, 0))
}

func TestNeighborsUnknownNode(t *testing.T) {
	t.Parallel()
	snap := buildTestSnapshot(t, t.TempDir())

	_, err := snap.OutNeighbors(99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, identity.ErrUnknownNode))

	_, err = snap.InNeighbors(99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, identity.ErrUnknownNode))
}

func TestOpenLatestWithoutSnapshot(t *testing.T) {
	t.Parallel()
	_, err := OpenLatest(t.TempDir(), 16, zap.NewNop())
	assert.True(t, errors.Is(err, ErrNoSnapshot))
}

func TestRebuildIsDeterministic(t *testing.T) {
	t.Parallel()

	edges := [][2]string{
		{"https://a.example", "https://b.example"},
		{"https://b.example", "https://c.example"},
		{"https://c.example", "https://a.example"},
		{"https://a.example", "https://c.example"},
		{"https://d.example", "https://a.example"},
	}

	build := func(dataDir string) (ids map[string]uint32, adjacency map[uint32][]uint32) {
		b := NewBuilder(nil, zap.NewNop())
		for _, e := range edges {
			b.AddRaw(edgelist.RawEdge{Source: e[0], Target: e[1]})
		}
		_, err := b.Build(dataDir)
		require.NoError(t, err)

		snap, err := OpenLatest(dataDir, 16, zap.NewNop())
		require.NoError(t, err)
		defer snap.Close()

		ids = make(map[string]uint32)
		snap.Table().Range(func(id uint32, externalID string) bool {
			ids[externalID] = id
			return true
		})
		adjacency = make(map[uint32][]uint32)
		for n := uint32(0); n < snap.NodeCount(); n++ {
			out, err := snap.OutNeighbors(n)
			require.NoError(t, err)
			adjacency[n] = out
		}
		return ids, adjacency
	}

	ids1, adj1 := build(t.TempDir())
	ids2, adj2 := build(t.TempDir())

	if diff := cmp.Diff(ids1, ids2); diff != "" {
		t.Errorf("identity assignment differs between rebuilds (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(adj1, adj2); diff != "" {
		t.Errorf("adjacency differs between rebuilds (-first +second):\n%s", diff)
	}
}

func TestBuildAdvancesCurrentPointer(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()

	b1 := NewBuilder(nil, zap.NewNop())
	b1.AddRaw(edgelist.RawEdge{Source: "a", Target: "b"})
	m1, err := b1.Build(dataDir)
	require.NoError(t, err)

	b2 := NewBuilder(nil, zap.NewNop())
	b2.AddRaw(edgelist.RawEdge{Source: "a", Target: "b"})
	b2.AddRaw(edgelist.RawEdge{Source: "b", Target: "c"})
	m2, err := b2.Build(dataDir)
	require.NoError(t, err)
	require.NotEqual(t, m1.SnapshotID, m2.SnapshotID)

	snap, err := OpenLatest(dataDir, 16, zap.NewNop())
	require.NoError(t, err)
	defer snap.Close()
	assert.Equal(t, m2.SnapshotID, snap.Manifest().SnapshotID, "CURRENT must name the newest snapshot")

	// The older snapshot directory still exists; supersession is wholesale,
	// not in-place mutation.
	entries, err := os.ReadDir(filepath.Join(dataDir, "snapshots"))
	require.NoError(t, err)
	var dirs int
	for _, e := range entries {
		if e.IsDir() {
			dirs++
		}
	}
	assert.Equal(t, 2, dirs)
}

func TestConcurrentReaders(t *testing.T) {
	t.Parallel()
	snap := buildTestSnapshot(t, t.TempDir())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				node := uint32(i % 4)
				if _, err := snap.OutNeighbors(node); err != nil {
					t.Error(err)
					return
				}
				if _, err := snap.InNeighbors(node); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestDegree(t *testing.T) {
	t.Parallel()
	snap := buildTestSnapshot(t, t.TempDir())

	out, in, err := snap.Degree(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), out)
	assert.Equal(t, uint64(2), in)

	_, _, err = snap.Degree(42)
	assert.Error(t, err)
}
