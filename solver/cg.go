package solver

import "time"

// CG is the preconditioned conjugate gradient method for symmetric positive
// definite operators.
type CG struct {
	d driver
}

// NewCG creates a conjugate gradient solver.
func NewCG(op LinearOperator, sp ScalarProduct, prec Preconditioner, opts ...Option) (*CG, error) {
	d, err := newDriver(op, sp, prec, opts)
	if err != nil {
		return nil, err
	}
	return &CG{d: d}, nil
}

// Apply improves x in place and leaves the final defect in b.
func (s *CG) Apply(x, b []float64) (Result, error) {
	start := time.Now()
	def0, err := s.d.begin(x, b)
	if err != nil {
		return Result{}, err
	}
	if def0 < tiny {
		return s.d.finish("cg", x, 0, 0, def0, true, start)
	}

	p := make([]float64, len(x))
	q := make([]float64, len(x))

	// initial search direction
	if err := s.d.prec.Apply(p, b); err != nil {
		return Result{}, err
	}
	rholast := s.d.sp.Dot(p, b)

	def := def0
	converged := false

	i := 1
	for ; i <= s.d.cfg.maxIter; i++ {
		// minimize in the current search direction
		s.d.op.Apply(p, q)
		lambda := rholast / s.d.sp.Dot(p, q)
		axpy(lambda, p, x)
		axpy(-lambda, q, b)

		def = s.d.sp.Norm(b)
		s.d.trace("cg", i, def)
		if s.d.converged(def, def0) {
			converged = true
			break
		}

		// orthogonalize the next direction against the previous one
		zero(q)
		if err := s.d.prec.Apply(q, b); err != nil {
			return Result{}, err
		}
		rho := s.d.sp.Dot(q, b)
		beta := rho / rholast
		scal(beta, p)
		axpy(1, q, p)
		rholast = rho
	}
	if i > s.d.cfg.maxIter {
		i = s.d.cfg.maxIter
	}

	return s.d.finish("cg", x, i, def, def0, converged, start)
}
