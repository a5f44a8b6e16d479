package matrix

import (
	"math/rand"
	"testing"
)

func TestMatVecIdentity(t *testing.T) {
	I := New(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	v := []float64{1.5, -2.0, 3.25}
	out, err := MatVec(I, v)
	if err != nil {
		t.Fatal(err)
	}
	for i := range v {
		if out[i] != v[i] {
			t.Errorf("index %d: expected %f, got %f", i, v[i], out[i])
		}
	}
}

func TestMatVecZero(t *testing.T) {
	Z := Zeros(4, 3)
	out, err := MatVec(Z, []float64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	for i, x := range out {
		if x != 0 {
			t.Errorf("index %d: expected 0, got %f", i, x)
		}
	}
}

func TestMatVecLinear(t *testing.T) {
	W := New(2, 2, []float64{1, 2, 3, 4})
	a := []float64{1, 0}
	b := []float64{0, 1}

	outA, _ := MatVec(W, a)
	outB, _ := MatVec(W, b)
	sum, _ := VecAdd(a, b)
	outSum, _ := MatVec(W, sum)

	combined, _ := VecAdd(outA, outB)
	if !closeSlice(combined, outSum, 1e-9) {
		t.Errorf("linearity violated: %v + %v != %v", outA, outB, outSum)
	}
}

func TestMatVecLength(t *testing.T) {
	W := New(5, 3, nil)
	out, err := MatVec(W, []float64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 5 {
		t.Errorf("expected length 5, got %d", len(out))
	}
}

func TestMatVecDimensionMismatch(t *testing.T) {
	W := New(2, 3, nil)
	_, err := MatVec(W, []float64{1, 2})
	if err == nil {
		t.Fatal("expected DimensionMismatch error")
	}
	var dm *DimensionMismatch
	if !errorsAs(err, &dm) {
		t.Errorf("expected *DimensionMismatch, got %T", err)
	}
}

func TestClipByL2NormNoOp(t *testing.T) {
	M := New(2, 2, []float64{0.1, 0.1, 0.1, 0.1})
	out := ClipByL2Norm(M, 100)
	if out != M {
		t.Error("expected same pointer when under threshold")
	}
}

func TestClipByL2NormScales(t *testing.T) {
	M := New(2, 2, []float64{10, 10, 10, 10})
	tau := 1.0
	out := ClipByL2Norm(M, tau)
	if out == M {
		t.Error("expected a new matrix when over threshold")
	}
	if got := Norm2(out); got > tau+1e-9 {
		t.Errorf("expected norm <= %f, got %f", tau, got)
	}
}

func TestClipByL2NormRepeatedBatchesStaysBounded(t *testing.T) {
	tau := 5.0
	acc := Zeros(4, 4)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		delta := InitGaussian(4, 4, 0, 10, rng)
		acc, _ = Add(acc, delta)
		acc = ClipByL2Norm(acc, tau)
		if got := Norm2(acc); got > tau+1e-6 {
			t.Fatalf("batch %d: norm %f exceeded tau %f", i, got, tau)
		}
	}
}

func TestClipElementwise(t *testing.T) {
	M := New(1, 3, []float64{-5, 0, 5})
	out := ClipElementwise(M, -1, 1)
	want := []float64{-1, 0, 1}
	for j, w := range want {
		if out.At(0, j) != w {
			t.Errorf("col %d: expected %f, got %f", j, w, out.At(0, j))
		}
	}
}

func TestInitGaussianShape(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	M := InitGaussian(3, 4, 0, 0.01, rng)
	r, c := M.Dims()
	if r != 3 || c != 4 {
		t.Errorf("expected 3x4, got %dx%d", r, c)
	}
}

func TestInitGaussianNoNaN(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	M := InitGaussian(50, 50, 0, 0.01, rng)
	r, c := M.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := M.At(i, j)
			if v != v { // NaN check
				t.Fatalf("NaN at %d,%d", i, j)
			}
		}
	}
}

func TestOuterProductShape(t *testing.T) {
	a := []float64{1, 2, 3}
	b := []float64{4, 5}
	out := OuterProduct(a, b)
	r, c := out.Dims()
	if r != 3 || c != 2 {
		t.Fatalf("expected 3x2, got %dx%d", r, c)
	}
	if out.At(0, 0) != 4 || out.At(2, 1) != 15 {
		t.Errorf("unexpected outer product values: %v", out)
	}
}

func TestAddDimensionMismatch(t *testing.T) {
	a := New(2, 2, nil)
	b := New(3, 3, nil)
	if _, err := Add(a, b); err == nil {
		t.Fatal("expected dimension mismatch")
	}
}

func closeSlice(a, b []float64, eps float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		if d > eps {
			return false
		}
	}
	return true
}

func errorsAs(err error, target **DimensionMismatch) bool {
	if dm, ok := err.(*DimensionMismatch); ok {
		*target = dm
		return true
	}
	return false
}
