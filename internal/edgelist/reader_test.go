// internal/edgelist/reader_test.go
package edgelist

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func readAll(t *testing.T, input string) ([]RawEdge, error) {
	t.Helper()
	r := NewReader(strings.NewReader(input), zap.NewNop())
	var edges []RawEdge
	for {
		e, err := r.Next()
		if err == io.EOF {
			return edges, nil
		}
		if err != nil {
			return edges, err
		}
		edges = append(edges, e)
	}
}

func TestReaderParsesTabSeparatedPairs(t *testing.T) {
	t.Parallel()
	input := "https://a.example\thttps://b.example\n" +
		"https://b.example\thttps://c.example\n"

	edges, err := readAll(t, input)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, RawEdge{Source: "https://a.example", Target: "https://b.example", Line: 1}, edges[0])
	assert.Equal(t, RawEdge{Source: "https://b.example", Target: "https://c.example", Line: 2}, edges[1])
}

func TestReaderSkipsBlankAndCommentLines(t *testing.T) {
	t.Parallel()
	input := "# crawler dump v3\n" +
		"\n" +
		"a\tb\n" +
		"\r\n" +
		"b\tc\n"

	edges, err := readAll(t, input)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, 3, edges[0].Line, "line numbers must count skipped lines")
}

func TestReaderHandlesCRLF(t *testing.T) {
	t.Parallel()
	edges, err := readAll(t, "a\tb\r\n")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "b", edges[0].Target, "trailing CR must be stripped")
}

func TestReaderRejectsMalformedRecords(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		input  string
		reason string
	}{
		{"no separator", "https://a.example\n", "missing tab separator"},
		{"empty source", "\tb\n", "empty endpoint"},
		{"empty target", "a\t\n", "empty endpoint"},
		{"three fields", "a\tb\tc\n", "more than two fields"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := readAll(t, tc.input)
			require.Error(t, err)

			var malformed *MalformedEdgeError
			require.True(t, errors.As(err, &malformed), "error must carry the offending record")
			assert.Equal(t, tc.reason, malformed.Reason)
			assert.Equal(t, 1, malformed.Line)
		})
	}
}

func TestReaderSelfLoopIsValid(t *testing.T) {
	t.Parallel()
	edges, err := readAll(t, "a\ta\n")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, edges[0].Source, edges[0].Target)
}

func TestReaderCount(t *testing.T) {
	t.Parallel()
	r := NewReader(strings.NewReader("a\tb\nb\tc\n"), zap.NewNop())
	for {
		if _, err := r.Next(); err != nil {
			break
		}
	}
	assert.Equal(t, int64(2), r.Count())
}
