package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// laplacian builds the n x n tridiagonal 1D Poisson matrix, a well
// conditioned SPD test problem.
func laplacian(n int) *MatrixAdapter {
	a := make([]float64, n*n)
	for i := 0; i < n; i++ {
		a[i*n+i] = 2
		if i > 0 {
			a[i*n+i-1] = -1
		}
		if i < n-1 {
			a[i*n+i+1] = -1
		}
	}
	return NewMatrixAdapter(n, a)
}

// convection builds a nonsymmetric diagonally dominant test matrix.
func convection(n int) *MatrixAdapter {
	a := make([]float64, n*n)
	for i := 0; i < n; i++ {
		a[i*n+i] = 4
		if i > 0 {
			a[i*n+i-1] = -1
		}
		if i < n-1 {
			a[i*n+i+1] = -2
		}
	}
	return NewMatrixAdapter(n, a)
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

// checkSolution verifies that x solves m*x = rhs to within tol.
func checkSolution(t *testing.T, m *MatrixAdapter, x, rhs []float64, tol float64) {
	t.Helper()

	r := make([]float64, len(x))
	copy(r, rhs)
	m.ApplyScaledAdd(-1, x, r)
	assert.Less(t, SeqScalarProduct{}.Norm(r), tol)
}

type applier interface {
	Apply(x, b []float64) (Result, error)
}

func runSolver(t *testing.T, m *MatrixAdapter, s applier) {
	t.Helper()

	const n = 20
	rhs := ones(n)
	b := make([]float64, n)
	copy(b, rhs)
	x := make([]float64, n)

	res, err := s.Apply(x, b)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Greater(t, res.Iterations, 0)
	assert.Less(t, res.Reduction, 1e-8)
	checkSolution(t, m, x, rhs, 1e-5)
}

func TestCGOnLaplacian(t *testing.T) {
	m := laplacian(20)
	s, err := NewCG(m, SeqScalarProduct{}, NewJacobi(m), WithReduction(1e-10))
	require.NoError(t, err)
	runSolver(t, m, s)
}

func TestLoopOnLaplacian(t *testing.T) {
	m := laplacian(20)
	// Jacobi sweeps converge slowly, allow plenty of iterations
	s, err := NewLoop(m, SeqScalarProduct{}, NewJacobi(m),
		WithReduction(1e-10), WithMaxIterations(20000))
	require.NoError(t, err)
	runSolver(t, m, s)
}

func TestBiCGSTABOnConvection(t *testing.T) {
	m := convection(20)
	s, err := NewBiCGSTAB(m, SeqScalarProduct{}, NewJacobi(m), WithReduction(1e-10))
	require.NoError(t, err)
	runSolver(t, m, s)
}

func TestMINRESOnLaplacian(t *testing.T) {
	m := laplacian(20)
	s, err := NewMINRES(m, SeqScalarProduct{}, NewRichardson(1), WithReduction(1e-10))
	require.NoError(t, err)
	runSolver(t, m, s)
}

func TestRestartedGMRESOnConvection(t *testing.T) {
	m := convection(20)
	s, err := NewRestartedGMRES(m, SeqScalarProduct{}, NewJacobi(m),
		WithReduction(1e-10), WithRestart(5))
	require.NoError(t, err)
	runSolver(t, m, s)
}

func TestGeneralizedPCGOnLaplacian(t *testing.T) {
	m := laplacian(20)
	s, err := NewGeneralizedPCG(m, SeqScalarProduct{}, NewJacobi(m),
		WithReduction(1e-10), WithRestart(10))
	require.NoError(t, err)
	runSolver(t, m, s)
}

type overlappingSP struct{ SeqScalarProduct }

func (overlappingSP) Category() Category { return Overlapping }

func TestCategoryMismatch(t *testing.T) {
	m := laplacian(4)
	_, err := NewCG(m, overlappingSP{}, NewJacobi(m))
	assert.ErrorIs(t, err, ErrCategoryMismatch)
}

func TestZeroRightHandSide(t *testing.T) {
	m := laplacian(8)
	s, err := NewCG(m, SeqScalarProduct{}, NewJacobi(m))
	require.NoError(t, err)

	x := make([]float64, 8)
	b := make([]float64, 8)
	res, err := s.Apply(x, b)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 0, res.Iterations)
	for _, v := range x {
		assert.Zero(t, v)
	}
}

func TestCGLeavesDefectInB(t *testing.T) {
	const n = 10
	m := laplacian(n)
	s, err := NewCG(m, SeqScalarProduct{}, NewJacobi(m), WithReduction(1e-12))
	require.NoError(t, err)

	rhs := ones(n)
	b := make([]float64, n)
	copy(b, rhs)
	x := make([]float64, n)
	_, err = s.Apply(x, b)
	require.NoError(t, err)

	// b now holds rhs - A x
	want := make([]float64, n)
	copy(want, rhs)
	m.ApplyScaledAdd(-1, x, want)
	for i := range want {
		assert.InDelta(t, want[i], b[i], 1e-12)
	}
}

func TestResultConvRate(t *testing.T) {
	m := laplacian(20)
	// CG solves this system exactly (zero defect, rate 0); the Jacobi loop
	// reduces the defect geometrically, so its rate lies strictly in (0,1).
	s, err := NewLoop(m, SeqScalarProduct{}, NewJacobi(m),
		WithReduction(1e-10), WithMaxIterations(20000))
	require.NoError(t, err)

	b := ones(20)
	x := make([]float64, 20)
	res, err := s.Apply(x, b)
	require.NoError(t, err)
	require.Greater(t, res.Iterations, 0)
	assert.InDelta(t,
		math.Pow(res.Reduction, 1/float64(res.Iterations)), res.ConvRate, 1e-12)
	assert.Greater(t, res.ConvRate, 0.0)
	assert.Less(t, res.ConvRate, 1.0)
}
