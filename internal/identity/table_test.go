// internal/identity/table_test.go
package identity

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInternAssignsDenseFirstSeenIDs(t *testing.T) {
	t.Parallel()
	table := NewTable(zap.NewNop())

	assert.Equal(t, uint32(0), table.Intern("https://a.example"))
	assert.Equal(t, uint32(1), table.Intern("https://b.example"))
	assert.Equal(t, uint32(2), table.Intern("https://c.example"))

	// Re-interning returns the existing id, never a new one.
	assert.Equal(t, uint32(1), table.Intern("https://b.example"))
	assert.Equal(t, 3, table.Len())
}

func TestResolveRoundTrip(t *testing.T) {
	t.Parallel()
	table := NewTable(zap.NewNop())
	id := table.Intern("https://a.example/page")

	got, err := table.Resolve(id)
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/page", got)
}

func TestResolveUnknownNode(t *testing.T) {
	t.Parallel()
	table := NewTable(zap.NewNop())
	table.Intern("https://a.example")

	_, err := table.Resolve(42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownNode), "out of range ids must fail with ErrUnknownNode")
}

func TestLookupDoesNotAssign(t *testing.T) {
	t.Parallel()
	table := NewTable(zap.NewNop())

	_, ok := table.Lookup("https://a.example")
	assert.False(t, ok)
	assert.Equal(t, 0, table.Len())
}

func TestSaveAndLoadReproducesAssignment(t *testing.T) {
	t.Parallel()
	table := NewTable(zap.NewNop())
	urls := []string{"https://a.example", "https://b.example", "https://c.example/path?q=1"}
	for _, u := range urls {
		table.Intern(u)
	}

	path := filepath.Join(t.TempDir(), "nodes.tsv")
	require.NoError(t, table.Save(path))

	loaded, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, table.Len(), loaded.Len())

	for i, u := range urls {
		id, ok := loaded.Lookup(u)
		require.True(t, ok)
		assert.Equal(t, uint32(i), id, "loaded table must preserve first-seen order")
	}
}

func TestSaveRejectsNewlineIdentifiers(t *testing.T) {
	t.Parallel()
	table := NewTable(zap.NewNop())
	table.Intern("broken\nid")

	err := table.Save(filepath.Join(t.TempDir(), "nodes.tsv"))
	require.Error(t, err)
}

func TestRangeVisitsInIDOrder(t *testing.T) {
	t.Parallel()
	table := NewTable(zap.NewNop())
	table.Intern("x")
	table.Intern("y")
	table.Intern("z")

	var seen []string
	table.Range(func(id uint32, externalID string) bool {
		assert.Equal(t, uint32(len(seen)), id)
		seen = append(seen, externalID)
		return true
	})
	assert.Equal(t, []string{"x", "y", "z"}, seen)
}

func TestConcurrentReaders(t *testing.T) {
	t.Parallel()
	table := NewTable(zap.NewNop())
	for i := 0; i < 100; i++ {
		table.Intern(string(rune('a' + i%26)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = table.Resolve(uint32(j % table.Len()))
			}
		}()
	}
	wg.Wait()
}
