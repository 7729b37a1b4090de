// File: internal/sketch/registry.go
package sketch

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// registryMagic guards checkpoint payloads against being read back with the
// wrong decoder. Format version is part of the magic.
const registryMagic = "wgsk0001"

// Registry holds one sketch per node in a single flat slab. A registry is one
// "generation" of the round loop: the previous round's registry is read-only
// input while the next round's registry is written, so the engine never
// mutates a slab another worker might be reading.
type Registry struct {
	params Params
	nodes  int
	slab   []byte
}

// NewRegistry allocates an all-empty registry for n nodes.
func NewRegistry(n int, params Params) *Registry {
	return &Registry{
		params: params,
		nodes:  n,
		slab:   make([]byte, n*params.RegisterCount()),
	}
}

// Params returns the shared sketch parameters.
func (r *Registry) Params() Params { return r.params }

// NodeCount returns the number of per-node sketches.
func (r *Registry) NodeCount() int { return r.nodes }

// Registers exposes the register slab of one node. The slice aliases the
// registry; callers treat a previous generation's view as read-only.
func (r *Registry) Registers(node uint32) []byte {
	m := r.params.RegisterCount()
	return r.slab[int(node)*m : (int(node)+1)*m]
}

// Seed inserts the node's own id into its sketch: the round-0 baseline of
// "reachable at distance zero", which is never counted toward centrality.
func (r *Registry) Seed(node uint32) {
	addHash(r.Registers(node), r.params.Precision, hashNode(node))
}

// SeedAll seeds every node.
func (r *Registry) SeedAll() {
	for node := 0; node < r.nodes; node++ {
		r.Seed(uint32(node))
	}
}

// Merge unions a source register view into the target node's sketch.
// Merging a sketch with itself, or with a subset of what the target already
// represents, leaves the target unchanged.
func (r *Registry) Merge(target uint32, src []byte) {
	mergeRegisters(r.Registers(target), src)
}

// Estimate returns the approximate cardinality of one node's sketch.
func (r *Registry) Estimate(node uint32) float64 {
	return estimate(r.Registers(node))
}

// Clone returns a deep copy, used to start the next generation from the
// previous one.
func (r *Registry) Clone() *Registry {
	slab := make([]byte, len(r.slab))
	copy(slab, r.slab)
	return &Registry{params: r.params, nodes: r.nodes, slab: slab}
}

// WriteTo serializes the registry. Registers are written byte-exact, so a
// resumed run continues from state identical to the one checkpointed.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64

	n, err := bw.WriteString(registryMagic)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("sketch: failed to write header: %w", err)
	}

	var header [12]byte
	header[0] = r.params.Precision
	binary.LittleEndian.PutUint64(header[4:], uint64(r.nodes))
	n, err = bw.Write(header[:])
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("sketch: failed to write header: %w", err)
	}

	n, err = bw.Write(r.slab)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("sketch: failed to write registers: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("sketch: failed to flush registers: %w", err)
	}
	return written, nil
}

// ReadRegistry deserializes a registry previously written with WriteTo.
func ReadRegistry(rd io.Reader) (*Registry, error) {
	br := bufio.NewReader(rd)

	magic := make([]byte, len(registryMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("sketch: failed to read header: %w", err)
	}
	if string(magic) != registryMagic {
		return nil, fmt.Errorf("sketch: bad magic %q", magic)
	}

	var header [12]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, fmt.Errorf("sketch: failed to read header: %w", err)
	}
	precision := header[0]
	if precision < MinPrecision || precision > MaxPrecision {
		return nil, fmt.Errorf("sketch: precision %d out of range", precision)
	}
	nodes := binary.LittleEndian.Uint64(header[4:])

	params := Params{Precision: precision}
	r := NewRegistry(int(nodes), params)
	if _, err := io.ReadFull(br, r.slab); err != nil {
		return nil, fmt.Errorf("sketch: failed to read registers: %w", err)
	}
	return r, nil
}
