package transform

import (
	"image"
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/ipmatch/utils"
)

// ErrNoConsensus is returned when no hypothesis is supported by enough correspondences. It
// is recoverable: the caller should skip the pair.
var ErrNoConsensus = errors.New("no consensus model found")

const (
	// DefaultRANSACIterations is the number of minimal-sample trials run by default.
	DefaultRANSACIterations = 100
	// maxRefitRounds bounds how often the best model is refit on its growing inlier set.
	maxRefitRounds = 5
)

// RANSACHomographyFitter robustly fits the homography mapping image B pixels to image A
// pixels from a candidate correspondence set.
type RANSACHomographyFitter struct {
	// Iterations is the number of random minimal-sample trials.
	Iterations int
	// InlierThreshold is the maximum reprojection error, in image A pixels, of an inlier.
	InlierThreshold float64
	// MinInliers is the support a hypothesis needs to be accepted.
	MinInliers int
	// Seed makes trials reproducible.
	Seed int64
}

// NewRANSACHomographyFitter returns a fitter for nCandidates correspondences where bboxA is
// the bounding box of image A. The inlier threshold is a hundredth of the box diagonal and a
// model must explain at least half the candidates, rounded up.
func NewRANSACHomographyFitter(bboxA image.Rectangle, nCandidates int) *RANSACHomographyFitter {
	diag := math.Hypot(float64(bboxA.Dx()), float64(bboxA.Dy()))
	return &RANSACHomographyFitter{
		Iterations:      DefaultRANSACIterations,
		InlierThreshold: diag / 100,
		MinInliers:      (nCandidates + 1) / 2,
		Seed:            1,
	}
}

type ransacTrial struct {
	h       Homography
	inliers []int
	ok      bool
}

// Fit estimates H with H*ptsB[i] ~ ptsA[i] and returns it along with the indices of the
// correspondences it explains.
func (f *RANSACHomographyFitter) Fit(ptsA, ptsB []r2.Point) (Homography, []int, error) {
	if len(ptsA) != len(ptsB) {
		return Homography{}, nil, errors.Errorf("point slices must have the same length, got %d and %d", len(ptsA), len(ptsB))
	}
	n := len(ptsA)
	if n < MinHomographyPoints {
		return Homography{}, nil, errors.Wrapf(ErrNoConsensus, "only %d candidates", n)
	}
	minInliers := f.MinInliers
	if minInliers < MinHomographyPoints {
		minInliers = MinHomographyPoints
	}
	iterations := f.Iterations
	if iterations <= 0 {
		iterations = DefaultRANSACIterations
	}

	// samples are drawn up front so the outcome does not depend on scheduling
	r := rand.New(rand.NewSource(f.Seed)) //nolint:gosec
	samples := make([][]int, iterations)
	for i := range samples {
		samples[i] = utils.SampleDistinctInts(MinHomographyPoints, n, r)
	}

	trials := make([]ransacTrial, iterations)
	err := utils.GroupWorkParallel(
		iterations,
		nil,
		func(_, _, _, _ int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, workNum int) error {
				sample := samples[workNum]
				h, err := f.fitSubset(sample, ptsA, ptsB)
				if err != nil {
					// a degenerate sample is just a failed trial
					return nil
				}
				inliers := f.inliers(h, ptsA, ptsB)
				trials[workNum] = ransacTrial{h: h, inliers: inliers, ok: len(inliers) >= minInliers}
				return nil
			}, nil
		},
	)
	if err != nil {
		return Homography{}, nil, err
	}

	best := -1
	for i, t := range trials {
		if !t.ok {
			continue
		}
		if best < 0 || len(t.inliers) > len(trials[best].inliers) {
			best = i
		}
	}
	if best < 0 {
		return Homography{}, nil, errors.Wrapf(ErrNoConsensus, "no trial of %d reached %d inliers", iterations, minInliers)
	}

	h, inliers := trials[best].h, trials[best].inliers
	for round := 0; round < maxRefitRounds; round++ {
		refit, err := f.fitSubset(inliers, ptsA, ptsB)
		if err != nil {
			break
		}
		refitInliers := f.inliers(refit, ptsA, ptsB)
		if len(refitInliers) < len(inliers) {
			break
		}
		grew := len(refitInliers) > len(inliers)
		h, inliers = refit, refitInliers
		if !grew {
			break
		}
	}
	return h, inliers, nil
}

func (f *RANSACHomographyFitter) fitSubset(idxs []int, ptsA, ptsB []r2.Point) (Homography, error) {
	from := make([]r2.Point, len(idxs))
	to := make([]r2.Point, len(idxs))
	for i, idx := range idxs {
		from[i] = ptsB[idx]
		to[i] = ptsA[idx]
	}
	return FitHomography(from, to)
}

func (f *RANSACHomographyFitter) inliers(h Homography, ptsA, ptsB []r2.Point) []int {
	var out []int
	for i := range ptsA {
		if ReprojectionError(h, ptsB[i], ptsA[i]) <= f.InlierThreshold {
			out = append(out, i)
		}
	}
	return out
}
