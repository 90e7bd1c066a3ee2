package spatialmath

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// PoseDOF is the number of degrees of freedom of a pose, and the dimension of its covariance.
const PoseDOF = 6

// SingularDistanceRejection is the squared Mahalanobis distance reported for a covariance that
// cannot be factorized. It is large enough to fail any consistency gate.
const SingularDistanceRejection = 1e9

// ErrBadCovariance is returned for covariances that are not 6×6 symmetric matrices.
var ErrBadCovariance = errors.New("pose covariance must be a finite 6x6 symmetric matrix")

// NewDiagCovariance returns a 6×6 covariance with the given rotation and translation variances on
// the diagonal.
func NewDiagCovariance(rotVar, transVar float64) *mat.SymDense {
	cov := mat.NewSymDense(PoseDOF, nil)
	for i := 0; i < 3; i++ {
		cov.SetSym(i, i, rotVar)
		cov.SetSym(i+3, i+3, transVar)
	}
	return cov
}

// NewCovarianceFromSlice builds a 6×6 covariance from 36 row-major values. The result is
// symmetrized by averaging mirrored entries.
func NewCovarianceFromSlice(data []float64) (*mat.SymDense, error) {
	if len(data) != PoseDOF*PoseDOF {
		return nil, errors.Wrapf(ErrBadCovariance, "got %d values", len(data))
	}
	cov := mat.NewSymDense(PoseDOF, nil)
	for i := 0; i < PoseDOF; i++ {
		for j := i; j < PoseDOF; j++ {
			v := (data[i*PoseDOF+j] + data[j*PoseDOF+i]) / 2
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Wrapf(ErrBadCovariance, "entry (%d, %d) is not finite", i, j)
			}
			cov.SetSym(i, j, v)
		}
	}
	return cov, nil
}

// CheckCovariance returns an error unless cov is a finite 6×6 matrix.
func CheckCovariance(cov mat.Symmetric) error {
	if cov == nil || cov.SymmetricDim() != PoseDOF {
		return ErrBadCovariance
	}
	for i := 0; i < PoseDOF; i++ {
		for j := i; j < PoseDOF; j++ {
			v := cov.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Wrapf(ErrBadCovariance, "entry (%d, %d) is not finite", i, j)
			}
		}
	}
	return nil
}

// CovarianceToSlice flattens a covariance into row-major order.
func CovarianceToSlice(cov mat.Symmetric) []float64 {
	n := cov.SymmetricDim()
	out := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out = append(out, cov.At(i, j))
		}
	}
	return out
}

// SumCovariances returns the element-wise sum of the given covariances.
func SumCovariances(covs ...mat.Symmetric) *mat.SymDense {
	sum := mat.NewSymDense(PoseDOF, nil)
	for _, c := range covs {
		if c == nil {
			continue
		}
		sum.AddSym(sum, c)
	}
	return sum
}

// ScaleCovariance returns f·cov.
func ScaleCovariance(f float64, cov mat.Symmetric) *mat.SymDense {
	out := mat.NewSymDense(cov.SymmetricDim(), nil)
	out.ScaleSym(f, cov)
	return out
}

// SquaredMahalanobisDistance returns vᵀ·cov⁻¹·v. A covariance that is not positive definite gives
// SingularDistanceRejection.
func SquaredMahalanobisDistance(v []float64, cov mat.Symmetric) float64 {
	if cov == nil || cov.SymmetricDim() != len(v) {
		return SingularDistanceRejection
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return SingularDistanceRejection
	}
	x := mat.NewVecDense(len(v), nil)
	b := mat.NewVecDense(len(v), append([]float64(nil), v...))
	if err := chol.SolveVecTo(x, b); err != nil {
		// An ill-conditioned but factorizable covariance still yields a usable solution.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return SingularDistanceRejection
		}
	}
	d := mat.Dot(b, x)
	if math.IsNaN(d) || d < 0 {
		return SingularDistanceRejection
	}
	return d
}
