// File: internal/centrality/kahan.go
package centrality

// kahanAdd folds x into a compensated (Kahan) running sum. Harmonic
// accumulators add hundreds of small reciprocal terms per node; naive
// summation loses low-order bits and makes resumed runs drift from
// uninterrupted ones.
func kahanAdd(sum, comp, x float64) (float64, float64) {
	y := x - comp
	t := sum + y
	comp = (t - sum) - y
	return t, comp
}
