package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MinHomographyPoints is the number of correspondences needed to determine a homography.
const MinHomographyPoints = 4

// ErrDegenerateHomography is returned when the correspondences do not determine a homography,
// e.g. when they are collinear or repeated.
var ErrDegenerateHomography = errors.New("degenerate point configuration for homography")

// FitHomography solves for the homography H such that H*from[i] ~ to[i] in the least squares
// sense, using the normalized direct linear transform.
func FitHomography(from, to []r2.Point) (Homography, error) {
	if len(from) != len(to) {
		return Homography{}, errors.Errorf("point slices must have the same length, got %d and %d", len(from), len(to))
	}
	if len(from) < MinHomographyPoints {
		return Homography{}, errors.Errorf("need at least %d correspondences, got %d", MinHomographyPoints, len(from))
	}
	fromNorm, tFrom, err := normalizePoints(from)
	if err != nil {
		return Homography{}, err
	}
	toNorm, tTo, err := normalizePoints(to)
	if err != nil {
		return Homography{}, err
	}
	if degenerateConfiguration(fromNorm) || degenerateConfiguration(toNorm) {
		return Homography{}, ErrDegenerateHomography
	}

	// each correspondence contributes two rows of the 2n x 9 system A*h = 0
	n := len(from)
	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := fromNorm[i].X, fromNorm[i].Y
		u, v := toNorm[i].X, toNorm[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	svd := performSVD(a)
	if svd == nil {
		return Homography{}, errors.New("svd factorization of homography system failed")
	}
	// solution is the right singular vector of the smallest singular value
	h := mat.Col(nil, 8, svd.V)
	hn := mat.NewDense(3, 3, h)

	// undo normalization: H = inv(tTo) * Hn * tFrom
	var tToInv mat.Dense
	if err := tToInv.Inverse(tTo); err != nil {
		return Homography{}, errors.Wrap(err, "cannot invert normalization")
	}
	var tmp, full mat.Dense
	tmp.Mul(hn, tFrom)
	full.Mul(&tToInv, &tmp)

	out, err := NewHomographyFromDense(&full)
	if err != nil {
		return Homography{}, err
	}
	out = out.Normalized()
	if !out.IsFinite() || math.Abs(mat.Det(out.Dense())) < 1e-12 {
		return Homography{}, ErrDegenerateHomography
	}
	return out, nil
}

// normalizePoints translates the points so their centroid is the origin and scales them so
// that the mean distance to the origin is sqrt(2). It returns the normalized points and the
// 3x3 transform that performs the normalization.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	nPoints := len(pts)
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	if d < 1e-12 || math.IsNaN(d) {
		return nil, nil, ErrDegenerateHomography
	}
	scale := math.Sqrt(2) / d
	transformData := []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	}
	T := mat.NewDense(3, 3, transformData)
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = pts[i].Sub(mu).Mul(scale)
	}
	return pointsTransformed, T, nil
}

// degenerateConfiguration reports whether normalized points lie on one line, or for a minimal
// set, whether any three of them do.
func degenerateConfiguration(pts []r2.Point) bool {
	const eps = 1e-9
	var sxx, syy, sxy float64
	for _, p := range pts {
		sxx += p.X * p.X
		syy += p.Y * p.Y
		sxy += p.X * p.Y
	}
	n := float64(len(pts))
	sxx, syy, sxy = sxx/n, syy/n, sxy/n
	// smallest eigenvalue of the scatter matrix of the centred points
	half := (sxx + syy) / 2
	minEig := half - math.Sqrt(math.Max(0, half*half-(sxx*syy-sxy*sxy)))
	if minEig < eps {
		return true
	}
	if len(pts) != MinHomographyPoints {
		return false
	}
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			for k := j + 1; k < len(pts); k++ {
				if math.Abs(pts[j].Sub(pts[i]).Cross(pts[k].Sub(pts[i]))) < eps {
					return true
				}
			}
		}
	}
	return false
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U *mat.Dense
	V *mat.Dense
	S []float64
}

// performSVD performs SVD on inputMatrix and returns U, V and the singular values.
func performSVD(inputMatrix *mat.Dense) *matsSVD {
	var svd mat.SVD
	ok := svd.Factorize(inputMatrix, mat.SVDFull)
	if !ok {
		return nil
	}
	u, v := &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	return &matsSVD{U: u, V: v, S: svd.Values(nil)}
}

// ReprojectionError is the distance between H*from and to.
func ReprojectionError(h Homography, from, to r2.Point) float64 {
	return h.Apply(from).Sub(to).Norm()
}
