package solver

import (
	"fmt"
	"math"
	"time"
)

// bicgEpsilon is the breakdown threshold of the BiCGSTAB recurrence.
const bicgEpsilon = 1e-80

// BiCGSTAB is the stabilized bi-conjugate gradient method for general
// nonsymmetric operators.
type BiCGSTAB struct {
	d driver
}

// NewBiCGSTAB creates a BiCGSTAB solver.
func NewBiCGSTAB(op LinearOperator, sp ScalarProduct, prec Preconditioner, opts ...Option) (*BiCGSTAB, error) {
	d, err := newDriver(op, sp, prec, opts)
	if err != nil {
		return nil, err
	}
	return &BiCGSTAB{d: d}, nil
}

// Apply improves x in place and leaves the final defect in b. Each full
// iteration consists of two half steps; the iteration count is rounded up.
func (s *BiCGSTAB) Apply(x, b []float64) (Result, error) {
	start := time.Now()
	def0, err := s.d.begin(x, b)
	if err != nil {
		return Result{}, err
	}

	r := b
	n := len(x)
	p := make([]float64, n)
	v := make([]float64, n)
	t := make([]float64, n)
	y := make([]float64, n)
	rt := make([]float64, n)
	copy(rt, r)

	norm := def0
	rho, alpha, omega := 1.0, 1.0, 1.0

	if s.d.converged(norm, def0) {
		return s.d.finish("bicgstab", x, 0, 0, def0, true, start)
	}

	converged := false
	it := 0.0

	for it = 0.5; it < float64(s.d.cfg.maxIter); it += 0.5 {
		rhoNew := s.d.sp.Dot(rt, r)

		if math.Abs(rho) <= bicgEpsilon {
			return Result{}, fmt.Errorf("%w: bicgstab rho %g after %.1f iterations", ErrBreakdown, rho, it)
		}
		if math.Abs(omega) <= bicgEpsilon {
			return Result{}, fmt.Errorf("%w: bicgstab omega %g after %.1f iterations", ErrBreakdown, omega, it)
		}

		if it < 1 {
			copy(p, r)
		} else {
			beta := (rhoNew / rho) * (alpha / omega)
			axpy(-omega, v, p) // p = r + beta (p - omega v)
			scal(beta, p)
			axpy(1, r, p)
		}

		zero(y)
		if err := s.d.prec.Apply(y, p); err != nil {
			return Result{}, err
		}
		s.d.op.Apply(y, v)

		h := s.d.sp.Dot(rt, v)
		if math.Abs(h) < bicgEpsilon {
			return Result{}, fmt.Errorf("%w: bicgstab h vanished", ErrBreakdown)
		}
		alpha = rhoNew / h

		axpy(alpha, y, x)
		axpy(-alpha, v, r)

		norm = s.d.sp.Norm(r)
		s.d.trace("bicgstab", int(math.Ceil(it)), norm)
		if norm < s.d.cfg.reduction*def0 {
			converged = true
			break
		}
		it += 0.5

		zero(y)
		if err := s.d.prec.Apply(y, r); err != nil {
			return Result{}, err
		}
		s.d.op.Apply(y, t)

		omega = s.d.sp.Dot(t, r) / s.d.sp.Dot(t, t)

		axpy(omega, y, x)
		axpy(-omega, t, r)

		rho = rhoNew

		norm = s.d.sp.Norm(r)
		s.d.trace("bicgstab", int(math.Ceil(it)), norm)
		if s.d.converged(norm, def0) {
			converged = true
			break
		}
	}
	if it > float64(s.d.cfg.maxIter) {
		it = float64(s.d.cfg.maxIter)
	}

	return s.d.finish("bicgstab", x, int(math.Ceil(it)), norm, def0, converged, start)
}
