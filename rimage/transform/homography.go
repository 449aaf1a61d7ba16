package transform

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 matrix (represented as a 2D array) used to transform a plane from the
// perspective of one camera to the perspective of another. Indices are [row][column]. A
// homography is only defined up to scale.
type Homography [3][3]float64

// IdentityHomography returns the identity matrix.
func IdentityHomography() Homography {
	return Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// NewHomographyFromDense copies a 3x3 gonum matrix.
func NewHomographyFromDense(m mat.Matrix) (Homography, error) {
	var h Homography
	r, c := m.Dims()
	if r != 3 || c != 3 {
		return h, errors.Errorf("homography must be 3x3, got %dx%d", r, c)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = m.At(i, j)
		}
	}
	return h, nil
}

// At returns the element at (row, col).
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Dense returns h as a gonum matrix.
func (h *Homography) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
}

// Apply maps pt through the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Inverse returns the inverse homography, normalized.
func (h *Homography) Inverse() (Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Dense()); err != nil {
		return Homography{}, errors.Wrap(err, "homography is not invertible")
	}
	out, err := NewHomographyFromDense(&inv)
	if err != nil {
		return Homography{}, err
	}
	return out.Normalized(), nil
}

// Mul returns h * other, i.e. other is applied first.
func (h *Homography) Mul(other Homography) Homography {
	var out Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += h[i][k] * other[k][j]
			}
		}
	}
	return out
}

// Normalized scales h so that its bottom right element is 1. Matrices whose bottom right
// element is (nearly) zero are scaled to unit Frobenius norm instead.
func (h Homography) Normalized() Homography {
	s := h[2][2]
	if math.Abs(s) < 1e-12 {
		norm := 0.0
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				norm += h[i][j] * h[i][j]
			}
		}
		s = math.Sqrt(norm)
		if s == 0 {
			return h
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] /= s
		}
	}
	return h
}

// WithoutTranslation returns a copy of h whose translation terms are zeroed.
func (h Homography) WithoutTranslation() Homography {
	h[0][2] = 0
	h[1][2] = 0
	return h
}

// AffineBlockDistance sums the absolute differences of the upper left 2x2 blocks of two
// normalized homographies, a measure of how far apart their scale, rotation and skew are.
func AffineBlockDistance(a, b Homography) float64 {
	a, b = a.Normalized(), b.Normalized()
	sum := 0.0
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			sum += math.Abs(a[i][j] - b[i][j])
		}
	}
	return sum
}

// IsFinite reports whether every element is a finite number.
func (h *Homography) IsFinite() bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.IsNaN(h[i][j]) || math.IsInf(h[i][j], 0) {
				return false
			}
		}
	}
	return true
}

func (h Homography) String() string {
	return fmt.Sprintf("[[%g %g %g] [%g %g %g] [%g %g %g]]",
		h[0][0], h[0][1], h[0][2], h[1][0], h[1][1], h[1][2], h[2][0], h[2][1], h[2][2])
}
