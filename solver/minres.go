package solver

import (
	"math"
	"time"
)

// MINRES is the minimal residual method for symmetric, possibly indefinite
// operators. The preconditioner must be symmetric positive definite so the
// preconditioned system stays symmetric.
type MINRES struct {
	d driver
}

// NewMINRES creates a MINRES solver.
func NewMINRES(op LinearOperator, sp ScalarProduct, prec Preconditioner, opts ...Option) (*MINRES, error) {
	d, err := newDriver(op, sp, prec, opts)
	if err != nil {
		return nil, err
	}
	return &MINRES{d: d}, nil
}

// Apply improves x in place and leaves the final defect in b. The
// convergence test runs on the residual norm of the preconditioned system.
func (s *MINRES) Apply(x, b []float64) (Result, error) {
	start := time.Now()
	def0, err := s.d.begin(x, b)
	if err != nil {
		return Result{}, err
	}
	if def0 < tiny {
		return s.d.finish("minres", x, 0, 0, def0, true, start)
	}

	n := len(x)
	z := make([]float64, n)
	dummy := make([]float64, n)
	x0 := make([]float64, n)
	copy(x0, x)

	// Lanczos recurrence coefficients and Givens rotation state
	var c, sn [2]float64
	var T [3]float64
	xi := [2]float64{1, 0}

	if err := s.d.prec.Apply(z, b); err != nil {
		return Result{}, err
	}
	beta := math.Sqrt(math.Abs(s.d.sp.Dot(z, b)))
	beta0 := beta

	var p, q [3][]float64
	for k := range p {
		p[k] = make([]float64, n)
		q[k] = make([]float64, n)
	}
	copy(q[1], b)
	scal(1/beta, q[1])

	scal(1/beta, z)

	def := def0
	converged := false

	i := 1
	for ; i <= s.d.cfg.maxIter; i++ {
		copy(dummy, z)

		i1 := i % 3
		i0 := (i1 + 2) % 3
		i2 := (i1 + 1) % 3

		// symmetrically preconditioned Lanczos step
		s.d.op.Apply(z, q[i2])
		axpy(-beta, q[i0], q[i2])
		alpha := s.d.sp.Dot(q[i2], z)
		axpy(-alpha, q[i1], q[i2])

		zero(z)
		if err := s.d.prec.Apply(z, q[i2]); err != nil {
			return Result{}, err
		}

		beta = math.Sqrt(math.Abs(s.d.sp.Dot(q[i2], z)))
		scal(1/beta, q[i2])
		scal(1/beta, z)

		// apply previous Givens rotations to the new column of T
		T[1] = T[2]
		if i > 2 {
			T[0] = sn[i%2] * T[1]
			T[1] = c[i%2] * T[1]
		}
		if i > 1 {
			T[2] = c[(i+1)%2]*alpha - sn[(i+1)%2]*T[1]
			T[1] = c[(i+1)%2]*T[1] + sn[(i+1)%2]*alpha
		} else {
			T[2] = alpha
		}

		// current Givens rotation eliminating the subdiagonal entry
		c[i%2] = 1 / math.Sqrt(T[2]*T[2]+beta*beta)
		sn[i%2] = beta * c[i%2]
		c[i%2] *= T[2]

		T[2] = c[i%2]*T[2] + sn[i%2]*beta

		xi[i%2] = -sn[i%2] * xi[(i+1)%2]
		xi[(i+1)%2] *= c[i%2]

		// correction direction and solution update
		copy(p[i2], dummy)
		axpy(-T[1], p[i1], p[i2])
		axpy(-T[0], p[i0], p[i2])
		scal(1/T[2], p[i2])

		axpy(beta0*xi[(i+1)%2], p[i2], x)

		T[2] = beta

		// the transformed least squares RHS carries the residual norm
		def = math.Abs(beta0 * xi[i%2])
		s.d.trace("minres", i, def)
		if s.d.converged(def, def0) || i == s.d.cfg.maxIter {
			converged = s.d.converged(def, def0)
			break
		}
	}
	if i > s.d.cfg.maxIter {
		i = s.d.cfg.maxIter
	}

	// b still holds the initial defect; subtract A(x-x0) to leave the final one
	for k := range x0 {
		x0[k] = x[k] - x0[k]
	}
	s.d.op.ApplyScaledAdd(-1, x0, b)

	return s.d.finish("minres", x, i, def, def0, converged, start)
}
