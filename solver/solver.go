// Package solver provides preconditioned Krylov methods for linear systems.
//
// All methods share one contract: Apply(x, b) improves the solution x in
// place and overwrites b with the final defect b-Ax. Operators, scalar
// products and preconditioners carry a Category tag; a solver refuses to mix
// components of different categories at construction time.
package solver

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Category tags the parallelization class of a component. All components of
// one solver must agree.
type Category uint8

const (
	// Sequential components operate on process-local data only.
	Sequential Category = iota
	// Overlapping components expect consistent overlapping decompositions
	// and internally communicating scalar products.
	Overlapping
)

func (c Category) String() string {
	if c == Sequential {
		return "sequential"
	}
	return "overlapping"
}

var (
	// ErrCategoryMismatch is returned by solver constructors when the
	// operator, scalar product and preconditioner disagree on Category.
	ErrCategoryMismatch = errors.New("solver: component categories do not match")

	// ErrBreakdown is returned when a recurrence divides by a vanishing
	// quantity and cannot continue.
	ErrBreakdown = errors.New("solver: breakdown")
)

// tiny is the absolute defect below which any system counts as solved.
const tiny = 1e-30

// LinearOperator is the assembled system operator A.
type LinearOperator interface {
	// Apply computes y = Ax.
	Apply(x, y []float64)
	// ApplyScaledAdd computes y += alpha*Ax.
	ApplyScaledAdd(alpha float64, x, y []float64)
	Category() Category
}

// ScalarProduct supplies the inner product and norm the convergence test
// runs on.
type ScalarProduct interface {
	Dot(x, y []float64) float64
	Norm(x []float64) float64
	Category() Category
}

// Preconditioner approximates the inverse of the operator. Pre and Post
// bracket every solve; Apply computes v = M^-1 d into a zeroed v.
type Preconditioner interface {
	Pre(x, b []float64) error
	Apply(v, d []float64) error
	Post(x []float64) error
	Category() Category
}

// Result carries the statistics of one solve.
type Result struct {
	// Iterations actually performed.
	Iterations int
	// Reduction achieved, final defect over initial defect.
	Reduction float64
	// Converged reports whether the reduction target was met.
	Converged bool
	// ConvRate is the geometric mean defect reduction per iteration.
	ConvRate float64
	// Elapsed is the wall-clock solve time.
	Elapsed time.Duration
}

// Option configures a solver.
type Option func(*config)

type config struct {
	reduction float64
	maxIter   int
	restart   int
	logger    *slog.Logger
}

func defaultConfig() config {
	return config{
		reduction: 1e-8,
		maxIter:   1000,
		restart:   10,
		logger:    slog.New(slog.DiscardHandler),
	}
}

// WithReduction sets the relative defect reduction to achieve.
func WithReduction(r float64) Option {
	return func(c *config) {
		if r > 0 {
			c.reduction = r
		}
	}
}

// WithMaxIterations bounds the number of iterations.
func WithMaxIterations(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxIter = n
		}
	}
}

// WithRestart sets the Krylov space size of restarted methods. Solvers
// without restarts ignore it.
func WithRestart(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.restart = n
		}
	}
}

// WithLogger sets the logger for per-iteration and summary reporting.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// driver bundles the solve plumbing every method shares: category checking,
// Pre/Post bracketing, initial defect computation, the convergence test and
// result bookkeeping. Concrete solvers supply only their recurrence.
type driver struct {
	op   LinearOperator
	sp   ScalarProduct
	prec Preconditioner
	cfg  config
}

func newDriver(op LinearOperator, sp ScalarProduct, prec Preconditioner, opts []Option) (driver, error) {
	if op.Category() != prec.Category() {
		return driver{}, fmt.Errorf("%w: operator %s, preconditioner %s",
			ErrCategoryMismatch, op.Category(), prec.Category())
	}
	if op.Category() != sp.Category() {
		return driver{}, fmt.Errorf("%w: operator %s, scalar product %s",
			ErrCategoryMismatch, op.Category(), sp.Category())
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return driver{op: op, sp: sp, prec: prec, cfg: cfg}, nil
}

// begin brackets the solve: it prepares the preconditioner, overwrites b
// with the defect b-Ax and returns its norm.
func (d *driver) begin(x, b []float64) (float64, error) {
	if err := d.prec.Pre(x, b); err != nil {
		return 0, err
	}
	d.op.ApplyScaledAdd(-1, x, b)
	return d.sp.Norm(b), nil
}

// converged is the shared stopping test.
func (d *driver) converged(def, def0 float64) bool {
	return def < def0*d.cfg.reduction || def < tiny
}

func (d *driver) trace(name string, iter int, def float64) {
	d.cfg.logger.Debug("iteration", "solver", name, "iter", iter, "defect", def)
}

// finish closes the bracket and fills the statistics. A zero iteration count
// denotes an immediately converged system.
func (d *driver) finish(name string, x []float64, iterations int, def, def0 float64, converged bool, start time.Time) (Result, error) {
	if err := d.prec.Post(x); err != nil {
		return Result{}, err
	}
	res := Result{
		Iterations: iterations,
		Converged:  converged,
		Elapsed:    time.Since(start),
	}
	if iterations > 0 {
		res.Reduction = def / def0
		res.ConvRate = math.Pow(res.Reduction, 1/float64(iterations))
	}
	d.cfg.logger.Info("solve finished", "solver", name,
		"iterations", res.Iterations, "converged", res.Converged,
		"reduction", res.Reduction, "rate", res.ConvRate, "elapsed", res.Elapsed)
	return res, nil
}
