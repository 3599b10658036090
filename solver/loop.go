package solver

import "time"

// Loop turns any preconditioner into a solver by applying one
// preconditioner step per iteration.
type Loop struct {
	d driver
}

// NewLoop creates a preconditioned loop solver.
func NewLoop(op LinearOperator, sp ScalarProduct, prec Preconditioner, opts ...Option) (*Loop, error) {
	d, err := newDriver(op, sp, prec, opts)
	if err != nil {
		return nil, err
	}
	return &Loop{d: d}, nil
}

// Apply improves x in place and leaves the final defect in b.
func (s *Loop) Apply(x, b []float64) (Result, error) {
	start := time.Now()
	def0, err := s.d.begin(x, b)
	if err != nil {
		return Result{}, err
	}

	v := make([]float64, len(x))
	def := def0
	converged := false

	i := 1
	for ; i <= s.d.cfg.maxIter; i++ {
		zero(v)
		if err := s.d.prec.Apply(v, b); err != nil {
			return Result{}, err
		}
		axpy(1, v, x)
		s.d.op.ApplyScaledAdd(-1, v, b)
		def = s.d.sp.Norm(b)
		s.d.trace("loop", i, def)
		if s.d.converged(def, def0) {
			converged = true
			break
		}
	}
	if i > s.d.cfg.maxIter {
		i = s.d.cfg.maxIter
	}

	return s.d.finish("loop", x, i, def, def0, converged, start)
}
