// Package matrix implements the dense linear-algebra kernel the reranker's
// embedding adaptation and REINFORCE gradient are built on: matrix-vector
// multiply, elementwise and L2-norm clipping, Box-Muller Gaussian init, and
// outer products. Dense storage and the shape-checked multiply/add/scale
// operations are built on gonum.org/v1/gonum/mat. The Box-Muller draw is
// an explicit loop rather than gonum's distuv so the log(0) guard and the
// sampling behavior stay pinned and testable.
package matrix

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a dense rows×cols real matrix.
type Matrix = mat.Dense

// DimensionMismatch reports an operation applied to incompatibly shaped
// operands. It is fatal for the turn that raised it.
type DimensionMismatch struct {
	Op       string
	Expected string
	Got      string
}

func (e *DimensionMismatch) Error() string {
	return fmt.Sprintf("matrix: %s: dimension mismatch: expected %s, got %s", e.Op, e.Expected, e.Got)
}

// New builds a rows×cols matrix, optionally from row-major data (nil zeros it).
func New(rows, cols int, data []float64) *Matrix {
	return mat.NewDense(rows, cols, data)
}

// MatVec computes W·v using classical O(rows·cols) multiplication.
func MatVec(W *Matrix, v []float64) ([]float64, error) {
	wr, wc := W.Dims()
	if wc != len(v) {
		return nil, &DimensionMismatch{Op: "MatVec", Expected: fmt.Sprintf("%dx%d * %d", wr, wc, wc), Got: fmt.Sprintf("%dx%d * %d", wr, wc, len(v))}
	}
	vd := mat.NewVecDense(len(v), v)
	out := mat.NewVecDense(wr, nil)
	out.MulVec(W, vd)
	result := make([]float64, wr)
	for i := 0; i < wr; i++ {
		result[i] = out.AtVec(i)
	}
	return result, nil
}

// ResidualAdd computes the elementwise sum v + Wv, the q' = q + W_q·q form
// used by the reranker's embedding adaptation.
func ResidualAdd(v, wv []float64) ([]float64, error) {
	return VecAdd(v, wv)
}

// VecAdd returns a+b elementwise, shape-checked.
func VecAdd(a, b []float64) ([]float64, error) {
	if len(a) != len(b) {
		return nil, &DimensionMismatch{Op: "VecAdd", Expected: fmt.Sprintf("%d", len(a)), Got: fmt.Sprintf("%d", len(b))}
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out, nil
}

// VecSub returns a-b elementwise, shape-checked.
func VecSub(a, b []float64) ([]float64, error) {
	if len(a) != len(b) {
		return nil, &DimensionMismatch{Op: "VecSub", Expected: fmt.Sprintf("%d", len(a)), Got: fmt.Sprintf("%d", len(b))}
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out, nil
}

// VecScale returns v scaled by c.
func VecScale(v []float64, c float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] * c
	}
	return out
}

// Add returns A+B elementwise, shape-checked.
func Add(a, b *Matrix) (*Matrix, error) {
	if err := sameShape("Add", a, b); err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Add(a, b)
	return &out, nil
}

// Subtract returns A-B elementwise, shape-checked.
func Subtract(a, b *Matrix) (*Matrix, error) {
	if err := sameShape("Subtract", a, b); err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Sub(a, b)
	return &out, nil
}

// Scale returns A scaled by c.
func Scale(a *Matrix, c float64) *Matrix {
	var out mat.Dense
	out.Scale(c, a)
	return &out
}

// MatMul computes A·B. Provided for generality; not on the turn hot path,
// which uses only MatVec.
func MatMul(a, b *Matrix) (*Matrix, error) {
	_, ac := a.Dims()
	br, _ := b.Dims()
	if ac != br {
		return nil, &DimensionMismatch{Op: "MatMul", Expected: fmt.Sprintf("cols=%d", ac), Got: fmt.Sprintf("rows=%d", br)}
	}
	var out mat.Dense
	out.Mul(a, b)
	return &out, nil
}

// OuterProduct computes a⊗bᵀ, an (len(a))×(len(b)) matrix.
func OuterProduct(a, b []float64) *Matrix {
	out := mat.NewDense(len(a), len(b), nil)
	for i, ai := range a {
		for j, bj := range b {
			out.Set(i, j, ai*bj)
		}
	}
	return out
}

// ClipElementwise clamps every entry of M into [lo, hi], returning a new matrix.
func ClipElementwise(M *Matrix, lo, hi float64) *Matrix {
	rows, cols := M.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := M.At(i, j)
			if v < lo {
				v = lo
			} else if v > hi {
				v = hi
			}
			out.Set(i, j, v)
		}
	}
	return out
}

// ClipByL2Norm scales M so its Frobenius (L2) norm is at most tau. When the
// norm is already within tau, M is returned unchanged (no copy); otherwise
// a new scaled matrix is returned.
func ClipByL2Norm(M *Matrix, tau float64) *Matrix {
	norm := mat.Norm(M, 2)
	if norm <= tau {
		return M
	}
	return Scale(M, tau/norm)
}

// Norm2 returns the Frobenius (L2) norm of M.
func Norm2(M *Matrix) float64 {
	return mat.Norm(M, 2)
}

// InitGaussian fills a rows×cols matrix by sampling N(mean, std²) via the
// Box-Muller transform, flooring the uniform draw above zero to guard
// log(0). rng must not be nil.
func InitGaussian(rows, cols int, mean, std float64, rng *rand.Rand) *Matrix {
	const floor = 1e-12
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			u1 := rng.Float64()
			if u1 < floor {
				u1 = floor
			}
			u2 := rng.Float64()
			z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
			out.Set(i, j, mean+std*z)
		}
	}
	return out
}

// Zeros returns a rows×cols matrix of zeros.
func Zeros(rows, cols int) *Matrix {
	return mat.NewDense(rows, cols, nil)
}

// Dims returns M's shape.
func Dims(M *Matrix) (rows, cols int) {
	return M.Dims()
}

// Equal reports whether a and b are elementwise equal within eps.
// Intended for tests only.
func Equal(a, b *Matrix, eps float64) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return false
	}
	for i := 0; i < ar; i++ {
		for j := 0; j < ac; j++ {
			if math.Abs(a.At(i, j)-b.At(i, j)) > eps {
				return false
			}
		}
	}
	return true
}

// wireMatrix is the JSON encoding of a Matrix: row-major data plus shape,
// since mat.Dense has no exported fields to marshal directly.
type wireMatrix struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Encode marshals M to JSON for persistence in a SessionStore.
func Encode(M *Matrix) ([]byte, error) {
	rows, cols := M.Dims()
	data := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			data[i*cols+j] = M.At(i, j)
		}
	}
	return json.Marshal(wireMatrix{Rows: rows, Cols: cols, Data: data})
}

// Decode unmarshals a Matrix previously written by Encode.
func Decode(b []byte) (*Matrix, error) {
	var w wireMatrix
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("matrix: decode: %w", err)
	}
	if len(w.Data) != w.Rows*w.Cols {
		return nil, fmt.Errorf("matrix: decode: %d entries does not match %dx%d", len(w.Data), w.Rows, w.Cols)
	}
	return mat.NewDense(w.Rows, w.Cols, w.Data), nil
}

func sameShape(op string, a, b *Matrix) error {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return &DimensionMismatch{Op: op, Expected: fmt.Sprintf("%dx%d", ar, ac), Got: fmt.Sprintf("%dx%d", br, bc)}
	}
	return nil
}
