package solver

import (
	"fmt"
	"math"
	"time"
)

// RestartedGMRES is the restarted generalized minimal residual method for
// nonsymmetric operators, following the SIAM templates formulation with left
// preconditioning.
type RestartedGMRES struct {
	d driver
}

// NewRestartedGMRES creates a GMRES solver. WithRestart sets the Krylov
// space size per cycle.
func NewRestartedGMRES(op LinearOperator, sp ScalarProduct, prec Preconditioner, opts ...Option) (*RestartedGMRES, error) {
	d, err := newDriver(op, sp, prec, opts)
	if err != nil {
		return nil, err
	}
	return &RestartedGMRES{d: d}, nil
}

// Apply improves x in place and leaves the final defect in b. The
// convergence test runs on the preconditioned residual norm.
func (s *RestartedGMRES) Apply(x, b []float64) (Result, error) {
	start := time.Now()
	m := s.d.cfg.restart
	n := len(x)

	cs := make([]float64, m)
	sn := make([]float64, m)
	rhs := make([]float64, m+1)
	w := make([]float64, n)
	H := make([][]float64, m+1)
	for k := range H {
		H[k] = make([]float64, m)
	}
	v := make([][]float64, m+1)
	for k := range v {
		v[k] = make([]float64, n)
	}

	if err := s.d.prec.Pre(x, b); err != nil {
		return Result{}, err
	}
	s.d.op.ApplyScaledAdd(-1, x, b)
	if err := s.d.prec.Apply(v[0], b); err != nil {
		return Result{}, err
	}
	beta := s.d.sp.Norm(v[0])
	norm0 := beta
	if norm0 == 0 {
		norm0 = 1
	}
	norm := beta

	converged := norm <= s.d.cfg.reduction*norm0
	j := 1
	i := 0

	for j <= s.d.cfg.maxIter && !converged {
		scal(1/beta, v[0])
		for k := range rhs {
			rhs[k] = 0
		}
		rhs[0] = beta

		for i = 0; i < m && j <= s.d.cfg.maxIter && !converged; i, j = i+1, j+1 {
			// Arnoldi step with modified Gram-Schmidt
			zero(w)
			s.d.op.Apply(v[i], v[i+1])
			if err := s.d.prec.Apply(w, v[i+1]); err != nil {
				return Result{}, err
			}
			for k := 0; k <= i; k++ {
				H[k][i] = s.d.sp.Dot(w, v[k])
				axpy(-H[k][i], v[k], w)
			}
			H[i+1][i] = s.d.sp.Norm(w)
			if H[i+1][i] == 0 {
				return Result{}, fmt.Errorf("%w: gmres basis vector vanished after %d iterations", ErrBreakdown, j)
			}
			copy(v[i+1], w)
			scal(1/H[i+1][i], v[i+1])

			for k := 0; k < i; k++ {
				applyRotation(&H[k][i], &H[k+1][i], cs[k], sn[k])
			}
			cs[i], sn[i] = makeRotation(H[i][i], H[i+1][i])
			applyRotation(&H[i][i], &H[i+1][i], cs[i], sn[i])
			applyRotation(&rhs[i], &rhs[i+1], cs[i], sn[i])

			norm = math.Abs(rhs[i+1])
			s.d.trace("gmres", j, norm)
			if norm < s.d.cfg.reduction*norm0 {
				converged = true
			}
		}

		// assemble the cycle's update and recompute the residual
		zero(w)
		gmresUpdate(w, i-1, H, rhs, v)
		axpy(1, w, x)

		s.d.op.ApplyScaledAdd(-1, w, b)
		zero(v[0])
		if err := s.d.prec.Apply(v[0], b); err != nil {
			return Result{}, err
		}
		beta = s.d.sp.Norm(v[0])
		norm = beta

		if norm < s.d.cfg.reduction*norm0 {
			converged = true
		}
		if !converged {
			s.d.cfg.logger.Debug("gmres restart", "iter", j)
		}
	}

	// j counts one past the last Arnoldi step performed
	return s.d.finish("gmres", x, j-1, norm, norm0, converged, start)
}

// gmresUpdate backsolves the triangular least squares system and accumulates
// the Krylov correction into x.
func gmresUpdate(x []float64, k int, H [][]float64, rhs []float64, v [][]float64) {
	y := make([]float64, len(rhs))
	copy(y, rhs)
	for i := k; i >= 0; i-- {
		y[i] /= H[i][i]
		for j := i - 1; j >= 0; j-- {
			y[j] -= H[j][i] * y[i]
		}
	}
	for j := 0; j <= k; j++ {
		axpy(y[j], v[j], x)
	}
}

func makeRotation(dx, dy float64) (cs, sn float64) {
	switch {
	case dy == 0:
		return 1, 0
	case math.Abs(dy) > math.Abs(dx):
		t := dx / dy
		sn = 1 / math.Sqrt(1+t*t)
		return t * sn, sn
	default:
		t := dy / dx
		cs = 1 / math.Sqrt(1+t*t)
		return cs, t * cs
	}
}

func applyRotation(dx, dy *float64, cs, sn float64) {
	t := cs**dx + sn**dy
	*dy = -sn**dx + cs**dy
	*dx = t
}
