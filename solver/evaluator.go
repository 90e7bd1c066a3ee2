package solver

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// evaluator computes stacked residuals and the Jacobian restricted to the active parameters,
// spreading residual blocks over a bounded number of goroutines.
type evaluator struct {
	problem      *Problem
	active       []int
	column       map[int]int
	offsets      []int
	numResiduals int
	threads      int
}

func newEvaluator(problem *Problem, threads int) *evaluator {
	if threads < 1 {
		threads = 1
	}
	e := &evaluator{
		problem: problem,
		active:  problem.activeParameters(),
		column:  map[int]int{},
		offsets: make([]int, len(problem.blocks)),
		threads: threads,
	}
	for col, idx := range e.active {
		e.column[idx] = col
	}
	for i, b := range problem.blocks {
		e.offsets[i] = e.numResiduals
		e.numResiduals += b.NumResiduals()
	}
	return e
}

// evaluate fills residuals, and jac when it is non-nil. Every block writes a disjoint row range.
func (e *evaluator) evaluate(ctx context.Context, x, residuals []float64, jac *mat.Dense) error {
	if jac != nil {
		jac.Zero()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.threads)
	for i, block := range e.problem.blocks {
		i, block := i, block
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n := block.NumResiduals()
			off := e.offsets[i]
			params := block.Parameters()
			var local []float64
			if jac != nil {
				local = make([]float64, n*len(params))
			}
			if err := block.Evaluate(x, residuals[off:off+n], local); err != nil {
				return errors.Wrapf(err, "residual block %d", i)
			}
			if jac == nil {
				return nil
			}
			for r := 0; r < n; r++ {
				for k, idx := range params {
					col, ok := e.column[idx]
					if !ok {
						continue
					}
					jac.Set(off+r, col, jac.At(off+r, col)+local[r*len(params)+k])
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// cost returns ½Σr².
func cost(residuals []float64) float64 {
	sum := 0.
	for _, r := range residuals {
		sum += r * r
	}
	return sum / 2
}
