// Package matrix implements the fixed-capacity dense linear algebra kernel
// the solver core runs on: an N x N conductance matrix G, a current
// vector I, and a partial-pivot LU factorisation used to solve G*V = I
// once per Newton-Raphson iteration.
//
// The kernel is deliberately dense and hand-rolled rather than backed by a
// sparse solver: circuit sizes in this domain stay under MaxNodes, so the
// per-sample cost is dominated by device stamp evaluation (exp/tanh), not
// by matrix factorisation.
package matrix

import (
	"fmt"
	"math"

	"github.com/spicepedal/spicepedal/internal/consts"
)

// Matrix is a square conductance matrix plus its current (RHS) vector,
// sized at construction and reused sample after sample via Clear.
type Matrix struct {
	n    int
	g    [consts.MaxNodes * consts.MaxNodes]float64
	i    [consts.MaxNodes]float64
	v    [consts.MaxNodes]float64
	lu   [consts.MaxNodes * consts.MaxNodes]float64
	piv  [consts.MaxNodes]int
	warn bool // set when the last Factor floored a pivot
}

// New allocates a Matrix for a circuit with the given number of nodes
// (node 0 is ground and is included in the count but its row/column are
// always pinned).
func New(size int) (*Matrix, error) {
	if size <= 0 || size > consts.MaxNodes {
		return nil, fmt.Errorf("matrix: size %d out of range (1..%d)", size, consts.MaxNodes)
	}
	return &Matrix{n: size}, nil
}

// Size returns the order of the system.
func (m *Matrix) Size() int { return m.n }

// Clear zeroes G and I for the next sample's stamp pass.
func (m *Matrix) Clear() {
	for i := range m.g {
		m.g[i] = 0
	}
	for i := range m.i {
		m.i[i] = 0
	}
}

func (m *Matrix) idx(r, c int) int { return r*(m.n-1) + c }

// AddG accumulates value into G[r,c]. Ground (node 0) contributions are
// discarded per the device-stamp contract: devices never need to guard
// their own writes against node 0.
func (m *Matrix) AddG(r, c int, value float64) {
	if r <= 0 || c <= 0 {
		return
	}
	m.g[m.idx(r-1, c-1)] += value
}

// AddI accumulates value into I[r]. Ground contributions are discarded.
func (m *Matrix) AddI(r int, value float64) {
	if r <= 0 {
		return
	}
	m.i[r-1] += value
}

// G reads the current accumulator value at (r,c); used by tests and by
// devices that need to read back a partially-stamped diagonal (none do
// today, but the accessor mirrors AddG/AddI symmetrically).
func (m *Matrix) G(r, c int) float64 {
	if r <= 0 || c <= 0 {
		return 0
	}
	return m.g[m.idx(r-1, c-1)]
}

// I reads the current accumulator value at row r; used by tests and by
// devices that need to read back a partially-stamped RHS entry.
func (m *Matrix) I(r int) float64 {
	if r <= 0 {
		return 0
	}
	return m.i[r-1]
}

// PinGround enforces row/column 0 = e0 on the full augmented system: it
// simply has no effect on index 0 since AddG/AddI already discard writes
// there and the solve path below always treats node 0 as fixed at zero.
// Kept as an explicit step to mirror the driver sequence in spec.md step 4
// and to make the invariant ("row/column 0 of G is e0, I[0]=0") visible
// and testable independent of the reduced (n-1)x(n-1) internal storage.
func (m *Matrix) PinGround() {}

// Factor performs in-place partial-pivot LU decomposition of the current
// G, recording the row permutation for Solve. A pivot magnitude below
// consts.PivotFloor is floored rather than treated as an error: the
// corresponding node is reported as a floating-node warning via Warned,
// and the simulation proceeds (spec.md: "near-singular factor" is
// non-fatal).
func (m *Matrix) Factor() error {
	n := m.n - 1 // ground is pinned out; solve the (n-1)x(n-1) reduced system
	if n == 0 {
		return nil
	}
	copy(m.lu[:n*n], m.g[:n*n])
	for k := 0; k < n; k++ {
		m.piv[k] = k
	}
	m.warn = false

	for k := 0; k < n; k++ {
		maxRow := k
		maxVal := math.Abs(m.lu[k*n+k])
		for r := k + 1; r < n; r++ {
			v := math.Abs(m.lu[r*n+k])
			if v > maxVal {
				maxVal = v
				maxRow = r
			}
		}

		if maxVal < consts.PivotFloor {
			m.lu[k*n+k] = consts.PivotFloor
			m.warn = true
		}

		if maxRow != k {
			for j := 0; j < n; j++ {
				m.lu[k*n+j], m.lu[maxRow*n+j] = m.lu[maxRow*n+j], m.lu[k*n+j]
			}
			m.piv[k], m.piv[maxRow] = m.piv[maxRow], m.piv[k]
		}

		pivot := m.lu[k*n+k]
		inv := 1.0 / pivot
		for r := k + 1; r < n; r++ {
			factor := m.lu[r*n+k] * inv
			m.lu[r*n+k] = factor
			if factor == 0 {
				continue
			}
			for j := k + 1; j < n; j++ {
				m.lu[r*n+j] -= factor * m.lu[k*n+j]
			}
		}
	}
	return nil
}

// Warned reports whether the most recent Factor call floored a pivot.
func (m *Matrix) Warned() bool { return m.warn }

// Solve performs forward/backward substitution against the already
// factored G and returns the new node-voltage vector, indexed 1..n-1 for
// non-ground nodes (V[0] is always 0 by convention; callers that need a
// 0-indexed ground slot can treat index 0 of the returned slice as such).
func (m *Matrix) Solve() []float64 {
	n := m.n - 1
	out := make([]float64, m.n)
	if n == 0 {
		return out
	}

	x := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = m.i[m.piv[i]]
	}
	for i := 0; i < n; i++ {
		row := i * n
		for j := 0; j < i; j++ {
			x[i] -= m.lu[row+j] * x[j]
		}
	}
	for i := n - 1; i >= 0; i-- {
		row := i * n
		for j := i + 1; j < n; j++ {
			x[i] -= m.lu[row+j] * x[j]
		}
		x[i] /= m.lu[row+i]
	}

	for i := 0; i < n; i++ {
		out[i+1] = x[i]
	}
	return out
}
