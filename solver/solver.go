package solver

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Method selects the minimization algorithm.
type Method string

const (
	// LevenbergMarquardt solves damped normal equations with a dense Cholesky factorization.
	LevenbergMarquardt Method = "levenberg_marquardt"
	// BFGS runs gonum's quasi-Newton minimizer on the squared residual cost.
	BFGS Method = "bfgs"
)

// ParseMethod returns the method named by s. The empty string selects LevenbergMarquardt.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(s)) {
	case "", LevenbergMarquardt, "lm", "dogleg":
		return LevenbergMarquardt, nil
	case BFGS:
		return BFGS, nil
	default:
		return "", errors.Errorf("unknown solver method %q", s)
	}
}

// Options configure a solve.
type Options struct {
	Method             Method
	MaxIterations      int
	NumThreads         int
	FunctionTolerance  float64
	GradientTolerance  float64
	ParameterTolerance float64
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Method:             LevenbergMarquardt,
		MaxIterations:      200,
		NumThreads:         1,
		FunctionTolerance:  1e-6,
		GradientTolerance:  1e-10,
		ParameterTolerance: 1e-8,
	}
}

// Termination describes why a solve stopped.
type Termination int

const (
	// Converged means one of the tolerances was met.
	Converged Termination = iota
	// NoConvergence means the iteration budget ran out first.
	NoConvergence
	// Canceled means the context was done.
	Canceled
	// Failed means an evaluation or factorization failed.
	Failed
)

func (t Termination) String() string {
	switch t {
	case Converged:
		return "CONVERGENCE"
	case NoConvergence:
		return "NO_CONVERGENCE"
	case Canceled:
		return "CANCELED"
	case Failed:
		return "FAILURE"
	default:
		return fmt.Sprintf("Termination(%d)", int(t))
	}
}

// Summary reports the outcome of a solve. Costs follow the ½Σr² convention.
type Summary struct {
	Method        Method
	InitialCost   float64
	FinalCost     float64
	Iterations    int
	NumResiduals  int
	NumParameters int
	Termination   Termination
	Message       string
	Duration      time.Duration
}

// Usable returns whether the parameters hold a meaningful result.
func (s Summary) Usable() bool {
	return s.Termination == Converged || s.Termination == NoConvergence
}

// BriefReport returns a one line description of the solve.
func (s Summary) BriefReport() string {
	return fmt.Sprintf("%s, Initial cost: %.6e, Final cost: %.6e, Iterations: %d, Termination: %s",
		s.Method, s.InitialCost, s.FinalCost, s.Iterations, s.Termination)
}

// Solve minimizes the problem starting from params, which is updated in place. Non-convergence
// is reported in the summary rather than as an error.
func Solve(ctx context.Context, problem *Problem, params []float64, opts Options) (Summary, error) {
	start := time.Now()
	if len(params) != problem.NumParameters() {
		return Summary{}, errors.Errorf("expected %d parameters, got %d", problem.NumParameters(), len(params))
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}
	if opts.Method == "" {
		opts.Method = LevenbergMarquardt
	}

	ev := newEvaluator(problem, opts.NumThreads)
	summary := Summary{
		Method:        opts.Method,
		NumResiduals:  ev.numResiduals,
		NumParameters: len(ev.active),
	}
	residuals := make([]float64, ev.numResiduals)
	if err := ev.evaluate(ctx, params, residuals, nil); err != nil {
		summary.Termination = terminationFor(ctx)
		summary.Message = err.Error()
		summary.Duration = time.Since(start)
		return summary, err
	}
	summary.InitialCost = cost(residuals)
	summary.FinalCost = summary.InitialCost
	if ev.numResiduals == 0 || len(ev.active) == 0 {
		summary.Termination = Converged
		summary.Message = "nothing to optimize"
		summary.Duration = time.Since(start)
		return summary, nil
	}

	var err error
	switch opts.Method {
	case LevenbergMarquardt:
		err = solveLM(ctx, ev, params, opts, &summary)
	case BFGS:
		err = solveBFGS(ctx, ev, params, opts, &summary)
	default:
		err = errors.Errorf("unknown solver method %q", opts.Method)
		summary.Termination = Failed
	}
	summary.Duration = time.Since(start)
	return summary, err
}

func terminationFor(ctx context.Context) Termination {
	if ctx.Err() != nil {
		return Canceled
	}
	return Failed
}

func solveLM(ctx context.Context, ev *evaluator, params []float64, opts Options, summary *Summary) error {
	m, n := ev.numResiduals, len(ev.active)
	residuals := make([]float64, m)
	jac := mat.NewDense(m, n, nil)
	if err := ev.evaluate(ctx, params, residuals, jac); err != nil {
		summary.Termination = terminationFor(ctx)
		return err
	}
	current := cost(residuals)

	const maxLambda = 1e16
	lambda, nu := 1e-4, 2.
	trial := make([]float64, len(params))
	trialResiduals := make([]float64, m)
	grad := mat.NewVecDense(n, nil)
	var normal mat.SymDense
	var chol mat.Cholesky
	step := mat.NewVecDense(n, nil)

	summary.Termination = NoConvergence
	for summary.Iterations < opts.MaxIterations {
		if ctx.Err() != nil {
			summary.Termination = Canceled
			summary.FinalCost = current
			return nil
		}
		summary.Iterations++

		grad.MulVec(jac.T(), mat.NewVecDense(m, residuals))
		if mat.Norm(grad, math.Inf(1)) <= opts.GradientTolerance {
			summary.Termination = Converged
			summary.Message = "gradient tolerance reached"
			break
		}

		normal.Reset()
		normal.SymOuterK(1, jac.T())
		for i := 0; i < n; i++ {
			d := normal.At(i, i)
			normal.SetSym(i, i, d+lambda*math.Max(d, 1e-6))
		}
		if ok := chol.Factorize(&normal); !ok {
			lambda *= nu
			nu *= 2
			if lambda > maxLambda {
				summary.Termination = Failed
				summary.Message = "damped normal equations are singular"
				break
			}
			continue
		}
		if err := chol.SolveVecTo(step, grad); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				summary.Termination = Failed
				summary.Message = err.Error()
				break
			}
		}
		step.ScaleVec(-1, step)

		copy(trial, params)
		for col, idx := range ev.active {
			trial[idx] += step.AtVec(col)
		}
		stepNorm := mat.Norm(step, 2)
		paramNorm := 0.
		for _, idx := range ev.active {
			paramNorm += params[idx] * params[idx]
		}
		if stepNorm <= opts.ParameterTolerance*(math.Sqrt(paramNorm)+opts.ParameterTolerance) {
			summary.Termination = Converged
			summary.Message = "parameter tolerance reached"
			break
		}

		if err := ev.evaluate(ctx, trial, trialResiduals, nil); err != nil {
			summary.Termination = terminationFor(ctx)
			summary.FinalCost = current
			return err
		}
		next := cost(trialResiduals)
		if math.IsNaN(next) || next >= current {
			lambda *= nu
			nu *= 2
			if lambda > maxLambda {
				summary.Termination = Converged
				summary.Message = "no further decrease possible"
				break
			}
			continue
		}

		decrease := current - next
		copy(params, trial)
		copy(residuals, trialResiduals)
		current = next
		lambda = math.Max(lambda/3, 1e-12)
		nu = 2
		if decrease <= opts.FunctionTolerance*(current+decrease) {
			summary.Termination = Converged
			summary.Message = "function tolerance reached"
			break
		}
		if err := ev.evaluate(ctx, params, residuals, jac); err != nil {
			summary.Termination = terminationFor(ctx)
			summary.FinalCost = current
			return err
		}
	}
	summary.FinalCost = current
	return nil
}

func solveBFGS(ctx context.Context, ev *evaluator, params []float64, opts Options, summary *Summary) error {
	m, n := ev.numResiduals, len(ev.active)
	scratch := make([]float64, len(params))
	residuals := make([]float64, m)
	jac := mat.NewDense(m, n, nil)
	var evalErr error

	load := func(x []float64) {
		copy(scratch, params)
		for col, idx := range ev.active {
			scratch[idx] = x[col]
		}
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			load(x)
			if err := ev.evaluate(ctx, scratch, residuals, nil); err != nil {
				evalErr = err
				return math.Inf(1)
			}
			return cost(residuals)
		},
		Grad: func(grad, x []float64) {
			load(x)
			if err := ev.evaluate(ctx, scratch, residuals, jac); err != nil {
				evalErr = err
				floats.Scale(0, grad)
				return
			}
			g := mat.NewVecDense(n, grad)
			g.MulVec(jac.T(), mat.NewVecDense(m, residuals))
		},
	}
	x0 := make([]float64, n)
	for col, idx := range ev.active {
		x0[col] = params[idx]
	}
	settings := &optimize.Settings{
		MajorIterations:   opts.MaxIterations,
		GradientThreshold: opts.GradientTolerance,
		Converger: &optimize.FunctionConverge{
			Relative:   opts.FunctionTolerance,
			Iterations: 10,
		},
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.BFGS{})
	if evalErr != nil {
		summary.Termination = terminationFor(ctx)
		summary.Message = evalErr.Error()
		return evalErr
	}
	if result == nil {
		summary.Termination = Failed
		if err != nil {
			summary.Message = err.Error()
		}
		return err
	}
	summary.Iterations = result.MajorIterations
	summary.Message = result.Status.String()
	if result.F > summary.InitialCost {
		// Never report a result worse than the start.
		summary.Termination = Failed
		return nil
	}
	for col, idx := range ev.active {
		params[idx] = result.X[col]
	}
	summary.FinalCost = result.F
	switch result.Status {
	case optimize.IterationLimit:
		summary.Termination = NoConvergence
	default:
		summary.Termination = Converged
	}
	return nil
}
