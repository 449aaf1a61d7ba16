// Package keypoints contains scale space interest point detection, descriptors, descriptor
// matching and the binary match file used to exchange correspondences.
package keypoints

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
)

// InterestPoint is a feature found by a detector. X and Y are the sub-pixel location; Ix and
// Iy are the pixel it was detected at and index pixel based filters.
type InterestPoint struct {
	X, Y        float32
	Ix, Iy      int32
	Orientation float32
	Scale       float32
	// Interest is the detector response; its sign is the blob polarity.
	Interest   float32
	Polarity   bool
	Octave     uint32
	ScaleLevel uint32
	Descriptor []float32
}

// InterestPoints is a list of interest points. It is unordered while detecting and sorted by
// SortInterestPoints before matching.
type InterestPoints []InterestPoint

// NewInterestPoint returns a point at pixel (x, y).
func NewInterestPoint(x, y int, scale, interest float32) InterestPoint {
	return InterestPoint{
		X:        float32(x),
		Y:        float32(y),
		Ix:       int32(x),
		Iy:       int32(y),
		Scale:    scale,
		Interest: interest,
		Polarity: interest > 0,
	}
}

// Point returns the sub-pixel location.
func (ip *InterestPoint) Point() r2.Point {
	return r2.Point{X: float64(ip.X), Y: float64(ip.Y)}
}

// SetPoint moves the point and updates the integer location to match.
func (ip *InterestPoint) SetPoint(p r2.Point) {
	ip.X = float32(p.X)
	ip.Y = float32(p.Y)
	ip.Ix = int32(math.Round(p.X))
	ip.Iy = int32(math.Round(p.Y))
}

// Points returns the sub-pixel locations of the list.
func (pts InterestPoints) Points() []r2.Point {
	out := make([]r2.Point, len(pts))
	for i := range pts {
		out[i] = pts[i].Point()
	}
	return out
}

// Clone deep copies the list, descriptors included.
func (pts InterestPoints) Clone() InterestPoints {
	if pts == nil {
		return nil
	}
	out := make(InterestPoints, len(pts))
	copy(out, pts)
	for i := range out {
		if out[i].Descriptor != nil {
			out[i].Descriptor = append([]float32(nil), out[i].Descriptor...)
		}
	}
	return out
}

// Subset returns the points at idxs, in that order.
func (pts InterestPoints) Subset(idxs []int) InterestPoints {
	out := make(InterestPoints, len(idxs))
	for i, idx := range idxs {
		out[i] = pts[idx]
	}
	return out
}

// SortInterestPoints sorts in place by decreasing response magnitude. The sort is stable, so
// among equal magnitudes the earlier point stays first.
func SortInterestPoints(pts InterestPoints) {
	sort.SliceStable(pts, func(i, j int) bool {
		return math.Abs(float64(pts[i].Interest)) > math.Abs(float64(pts[j].Interest))
	})
}
