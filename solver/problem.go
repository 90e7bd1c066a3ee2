// Package solver minimizes sums of squared residuals over a shared parameter vector.
package solver

import (
	"sort"

	"github.com/pkg/errors"
)

// ResidualBlock is a group of residuals that depends on a subset of the parameters.
type ResidualBlock interface {
	// NumResiduals returns the number of residuals the block writes.
	NumResiduals() int
	// Parameters returns the indices of the parameters the block depends on.
	Parameters() []int
	// Evaluate writes the residuals at params. When jacobian is non-nil it also writes the
	// derivatives in row-major order, one row per residual and one column per entry of Parameters.
	Evaluate(params, residuals, jacobian []float64) error
}

// Problem is a set of residual blocks over a parameter vector of fixed size.
type Problem struct {
	numParams int
	blocks    []ResidualBlock
	constant  map[int]bool
}

// NewProblem returns an empty problem over numParams parameters.
func NewProblem(numParams int) *Problem {
	return &Problem{numParams: numParams, constant: map[int]bool{}}
}

// AddResidualBlock adds a block to the problem.
func (p *Problem) AddResidualBlock(block ResidualBlock) error {
	for _, idx := range block.Parameters() {
		if idx < 0 || idx >= p.numParams {
			return errors.Errorf("residual block references parameter %d outside [0, %d)", idx, p.numParams)
		}
	}
	p.blocks = append(p.blocks, block)
	return nil
}

// SetParameterConstant holds a parameter at its initial value.
func (p *Problem) SetParameterConstant(idx int) {
	p.constant[idx] = true
}

// NumParameters returns the size of the parameter vector.
func (p *Problem) NumParameters() int {
	return p.numParams
}

// NumResidualBlocks returns the number of blocks added.
func (p *Problem) NumResidualBlocks() int {
	return len(p.blocks)
}

// NumResiduals returns the total residual count.
func (p *Problem) NumResiduals() int {
	n := 0
	for _, b := range p.blocks {
		n += b.NumResiduals()
	}
	return n
}

// activeParameters returns the sorted non-constant parameters referenced by at least one block.
func (p *Problem) activeParameters() []int {
	seen := map[int]bool{}
	for _, b := range p.blocks {
		for _, idx := range b.Parameters() {
			if !p.constant[idx] {
				seen[idx] = true
			}
		}
	}
	active := make([]int, 0, len(seen))
	for idx := range seen {
		active = append(active, idx)
	}
	sort.Ints(active)
	return active
}
