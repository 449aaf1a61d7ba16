package stereo

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/ipmatch/cartography"
	"go.viam.com/ipmatch/rimage/transform"
	"go.viam.com/ipmatch/vision/keypoints"
)

// DefaultMaxEpipolarCandidates is how many of the points closest to the epipolar line are
// compared by descriptor.
const DefaultMaxEpipolarCandidates = 10

// EpipolarLine is the line a*x + b*y + c = 0 in pixel coordinates.
type EpipolarLine struct {
	A, B, C float64
}

// NewEpipolarLine returns the line through p1 and p2.
func NewEpipolarLine(p1, p2 r2.Point) EpipolarLine {
	return EpipolarLine{
		A: p1.Y - p2.Y,
		B: p2.X - p1.X,
		C: p1.X*p2.Y - p2.X*p1.Y,
	}
}

// Distance is the perpendicular distance from p to the line.
func (l EpipolarLine) Distance(p r2.Point) float64 {
	return math.Abs(l.A*p.X+l.B*p.Y+l.C) / math.Sqrt(l.A*l.A+l.B*l.B)
}

// Match is the result of matching one point: the index of its match in the other list when
// OK is set.
type Match struct {
	Index int
	OK    bool
}

// EpipolarLinePointMatcher matches points of one image to points of another that lie close to
// their epipolar line and win a descriptor ratio test.
type EpipolarLinePointMatcher struct {
	// Threshold is the descriptor distance ratio test threshold.
	Threshold float64
	// EpipolarThreshold is the largest pixel distance of a candidate from the line.
	EpipolarThreshold float64
	// MaxCandidates is how many of the closest points are compared.
	MaxCandidates int
	Datum         cartography.Datum
}

// NewEpipolarLinePointMatcher returns a matcher comparing up to DefaultMaxEpipolarCandidates.
func NewEpipolarLinePointMatcher(threshold, epipolarThreshold float64, datum cartography.Datum) *EpipolarLinePointMatcher {
	return &EpipolarLinePointMatcher{
		Threshold:         threshold,
		EpipolarThreshold: epipolarThreshold,
		MaxCandidates:     DefaultMaxEpipolarCandidates,
		Datum:             datum,
	}
}

// ComputeEpipolarLine returns the line in image B, in the coordinates of txB, on which the
// match of pixel p of image A must lie. p is in the coordinates of txA. The line runs through
// the projections of the datum point seen at p and of the point of the same ray at half the
// camera's height above the datum. It returns false when the ray misses the datum or the line
// is undefined.
func (m *EpipolarLinePointMatcher) ComputeEpipolarLine(
	p r2.Point,
	camA, camB transform.CameraModel,
	txA, txB transform.Transform,
) (EpipolarLine, bool) {
	pix := txA.Reverse(p)
	dir, err := camA.PixelToVector(pix)
	if err != nil {
		return EpipolarLine{}, false
	}
	center := camA.CameraCenter(pix)
	ground, ok := m.Datum.IntersectRay(center, dir)
	if !ok {
		return EpipolarLine{}, false
	}
	// halfway up the ray when the camera is not above the datum
	elevated := center.Add(dir.Mul(0.5 * ground.Sub(center).Norm()))
	if h := m.Datum.GeodeticHeight(center); h > 0 {
		if pt, ok := m.Datum.Inflate(0.5*h).IntersectRay(center, dir); ok {
			elevated = pt
		}
	}

	q1, err := camB.PointToPixel(ground)
	if err != nil {
		return EpipolarLine{}, false
	}
	q2, err := camB.PointToPixel(elevated)
	if err != nil {
		return EpipolarLine{}, false
	}
	q1, q2 = txB.Forward(q1), txB.Forward(q2)
	if q1.Sub(q2).Norm() < 1e-9 {
		return EpipolarLine{}, false
	}
	return NewEpipolarLine(q1, q2), true
}

type lineCandidate struct {
	idx  int
	dist float64
}

// Match finds, for every point of ptsA, its match in ptsB. camA and txA describe the image of
// ptsA; camB and txB the image of ptsB.
func (m *EpipolarLinePointMatcher) Match(
	ptsA, ptsB keypoints.InterestPoints,
	camA, camB transform.CameraModel,
	txA, txB transform.Transform,
	progress ProgressCallback,
) []Match {
	if progress == nil {
		progress = NopProgress{}
	}
	out := make([]Match, len(ptsA))
	if len(ptsB) == 0 {
		return out
	}
	descA, descB := keypoints.Float64Descriptors(ptsA), keypoints.Float64Descriptors(ptsB)
	locB := ptsB.Points()
	maxCandidates := m.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxEpipolarCandidates
	}

	candidates := make([]lineCandidate, 0, len(ptsB))
	dists := make([]float64, 0, maxCandidates)
	for i := range ptsA {
		if i%100 == 0 {
			progress.Report(StageMatch, float64(i)/float64(len(ptsA)))
		}
		line, ok := m.ComputeEpipolarLine(ptsA[i].Point(), camA, camB, txA, txB)
		if !ok {
			continue
		}
		candidates = candidates[:0]
		for j, q := range locB {
			if len(descB[j]) != len(descA[i]) {
				continue
			}
			if d := line.Distance(q); d <= m.EpipolarThreshold {
				candidates = append(candidates, lineCandidate{j, d})
			}
		}
		if len(candidates) == 0 {
			continue
		}
		sort.SliceStable(candidates, func(a, b int) bool { return candidates[a].dist < candidates[b].dist })
		if len(candidates) > maxCandidates {
			candidates = candidates[:maxCandidates]
		}

		dists = dists[:0]
		for _, c := range candidates {
			dists = append(dists, floats.Distance(descA[i], descB[c.idx], 2))
		}
		best, ok := keypoints.RatioTest(dists, m.Threshold)
		if !ok {
			continue
		}
		out[i] = Match{Index: candidates[best].idx, OK: true}
	}
	progress.Report(StageMatch, 1)
	return out
}

// MutualMatches keeps the pairs (i, j) with forward[i] = j and backward[j] = i.
func MutualMatches(forward, backward []Match) []keypoints.DescriptorMatch {
	var out []keypoints.DescriptorMatch
	for i, f := range forward {
		if !f.OK || f.Index < 0 || f.Index >= len(backward) {
			continue
		}
		b := backward[f.Index]
		if b.OK && b.Index == i {
			out = append(out, keypoints.DescriptorMatch{Idx1: i, Idx2: f.Index})
		}
	}
	return out
}
