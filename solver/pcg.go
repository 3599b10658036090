package solver

import "time"

// GeneralizedPCG is a preconditioned conjugate gradient variant that permits
// the preconditioner to change between iterations. The search directions of
// one cycle are stored and orthogonalized explicitly.
type GeneralizedPCG struct {
	d driver
}

// NewGeneralizedPCG creates a generalized PCG solver. WithRestart bounds the
// number of stored search directions.
func NewGeneralizedPCG(op LinearOperator, sp ScalarProduct, prec Preconditioner, opts ...Option) (*GeneralizedPCG, error) {
	d, err := newDriver(op, sp, prec, opts)
	if err != nil {
		return nil, err
	}
	if d.cfg.restart > d.cfg.maxIter {
		d.cfg.restart = d.cfg.maxIter
	}
	return &GeneralizedPCG{d: d}, nil
}

// Apply improves x in place and leaves the final defect in b.
func (s *GeneralizedPCG) Apply(x, b []float64) (Result, error) {
	start := time.Now()
	def0, err := s.d.begin(x, b)
	if err != nil {
		return Result{}, err
	}
	if def0 < tiny {
		return s.d.finish("gpcg", x, 0, 0, def0, true, start)
	}

	n := len(x)
	restart := s.d.cfg.restart
	p := make([][]float64, restart)
	pp := make([]float64, restart)
	q := make([]float64, n)
	precRes := make([]float64, n)

	p[0] = make([]float64, n)

	def := def0

	// first step outside the cycle loop
	if err := s.d.prec.Apply(p[0], b); err != nil {
		return Result{}, err
	}
	rho := s.d.sp.Dot(p[0], b)
	s.d.op.Apply(p[0], q)
	pp[0] = s.d.sp.Dot(p[0], q)
	lambda := rho / pp[0]
	axpy(lambda, p[0], x)
	axpy(-lambda, q, b)

	i := 1
	def = s.d.sp.Norm(b)
	s.d.trace("gpcg", i, def)
	if s.d.converged(def, def0) {
		return s.d.finish("gpcg", x, i, def, def0, true, start)
	}

	converged := false
	for i < s.d.cfg.maxIter && !converged {
		end := restart
		if rem := s.d.cfg.maxIter - i + 1; rem < end {
			end = rem
		}
		for ii := 1; ii < end; ii++ {
			zero(precRes)
			if err := s.d.prec.Apply(precRes, b); err != nil {
				return Result{}, err
			}

			p[ii] = make([]float64, n)
			copy(p[ii], precRes)
			s.d.op.Apply(precRes, q)

			for j := 0; j < ii; j++ {
				rho = s.d.sp.Dot(q, p[j]) / pp[j]
				axpy(-rho, p[j], p[ii])
			}

			s.d.op.Apply(p[ii], q)
			pp[ii] = s.d.sp.Dot(p[ii], q)
			rho = s.d.sp.Dot(p[ii], b)
			lambda = rho / pp[ii]
			axpy(lambda, p[ii], x)
			axpy(-lambda, q, b)

			i++
			def = s.d.sp.Norm(b)
			s.d.trace("gpcg", i, def)
			if s.d.converged(def, def0) {
				converged = true
				break
			}
		}
		if !converged && end == restart {
			// seed the next cycle with the last direction
			p[0] = p[restart-1]
			pp[0] = pp[restart-1]
		}
	}

	return s.d.finish("gpcg", x, i, def, def0, converged, start)
}
