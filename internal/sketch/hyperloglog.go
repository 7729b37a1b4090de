// File: internal/sketch/hyperloglog.go

// Package sketch implements the per-node reachability sketches used by the
// centrality engine. Each sketch is a HyperLogLog counter over node ids:
// merge is a register-wise max (duplicate-insensitive union, idempotent,
// commutative, associative) and the cardinality estimate carries a relative
// standard error of roughly 1.04/sqrt(2^precision).
package sketch

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

const (
	// MinPrecision and MaxPrecision bound the register-index width. Below 4
	// the estimator is useless, above 18 a single sketch costs 256 KiB per
	// node, which defeats the point of sketching.
	MinPrecision = 4
	MaxPrecision = 18
)

// Params fixes the sketch shape for a whole run. Every sketch in a run shares
// one precision; sketches of different precision cannot be merged.
type Params struct {
	Precision uint8
}

// ParamsForError picks the smallest precision whose standard error is within
// the configured budget.
func ParamsForError(relStdError float64) (Params, error) {
	if relStdError <= 0 || relStdError >= 1 {
		return Params{}, fmt.Errorf("sketch: relative std error %v out of range (0, 1)", relStdError)
	}
	for p := MinPrecision; p <= MaxPrecision; p++ {
		if 1.04/math.Sqrt(float64(uint64(1)<<p)) <= relStdError {
			return Params{Precision: uint8(p)}, nil
		}
	}
	return Params{Precision: MaxPrecision}, nil
}

// RegisterCount is the number of registers (bytes) per sketch.
func (p Params) RegisterCount() int { return 1 << p.Precision }

// StdError is the theoretical relative standard error of the estimator.
func (p Params) StdError() float64 {
	return 1.04 / math.Sqrt(float64(p.RegisterCount()))
}

// hashNode hashes a dense node id into the 64-bit space the registers index.
func hashNode(id uint32) uint64 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], id)
	return xxhash.Sum64(buf[:])
}

// addHash folds one hashed member into a register slab.
func addHash(registers []byte, precision uint8, hash uint64) {
	idx := hash >> (64 - precision)
	// Rank of the first set bit in the remaining suffix, 1-based. The suffix
	// being all zeros yields the maximum rank.
	suffix := hash<<precision | 1<<(precision-1)
	rank := uint8(bits.LeadingZeros64(suffix)) + 1
	if rank > registers[idx] {
		registers[idx] = rank
	}
}

// mergeRegisters unions src into dst register-wise. Never decreases any
// register, which is what makes repeated merges of unchanged input no-ops.
func mergeRegisters(dst, src []byte) {
	for i, v := range src {
		if v > dst[i] {
			dst[i] = v
		}
	}
}

// alpha is the standard HyperLogLog bias-correction constant.
func alpha(m int) float64 {
	switch m {
	case 16:
		return 0.673
	case 32:
		return 0.697
	case 64:
		return 0.709
	default:
		return 0.7213 / (1 + 1.079/float64(m))
	}
}

// estimate computes the corrected cardinality estimate of one register slab.
func estimate(registers []byte) float64 {
	m := len(registers)
	var (
		sum   float64
		zeros int
	)
	for _, v := range registers {
		sum += math.Ldexp(1, -int(v))
		if v == 0 {
			zeros++
		}
	}
	est := alpha(m) * float64(m) * float64(m) / sum

	// Linear counting for the small range, where the raw estimator is biased.
	if est <= 2.5*float64(m) && zeros > 0 {
		est = float64(m) * math.Log(float64(m)/float64(zeros))
	}
	if est < 0 {
		return 0
	}
	return est
}
