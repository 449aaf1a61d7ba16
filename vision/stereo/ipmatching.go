package stereo

import (
	"context"
	"image"
	"math"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/ipmatch/cartography"
	"go.viam.com/ipmatch/rimage"
	"go.viam.com/ipmatch/rimage/transform"
	"go.viam.com/ipmatch/vision/keypoints"
)

// maxPostFitDistance is the largest summed difference of the scale, rotation and skew terms
// between the rough homography and the one fit to the final matches.
const maxPostFitDistance = 4

// Matcher runs the interest point matching pipelines on image pairs.
type Matcher struct {
	cfg        MatchingConfig
	detector   *keypoints.IntegralBlobDetector
	descriptor keypoints.DescriptorGenerator
	progress   ProgressCallback
	logger     golog.Logger
}

// NewMatcher validates cfg and returns a Matcher. A nil cfg uses the defaults and a nil
// progress callback reports nothing.
func NewMatcher(cfg *MatchingConfig, progress ProgressCallback, logger golog.Logger) (*Matcher, error) {
	if cfg == nil {
		cfg = NewDefaultMatchingConfig()
	}
	if err := cfg.Validate("matching"); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = NopProgress{}
	}
	return &Matcher{
		cfg:        *cfg,
		detector:   keypoints.NewIntegralBlobDetector(cfg.Detector, logger),
		descriptor: keypoints.GradientDescriptor{},
		progress:   progress,
		logger:     logger,
	}, nil
}

// Config returns a copy of the matcher settings.
func (m *Matcher) Config() MatchingConfig {
	return m.cfg
}

// MatchResult is a correspondence set: A[i] matches B[i].
type MatchResult struct {
	A, B keypoints.InterestPoints
	// Homography maps B to A when the pipeline estimated one.
	Homography *transform.Homography
}

// Len is the number of correspondences.
func (r *MatchResult) Len() int {
	return len(r.A)
}

func (m *Matcher) write(outputName string, res *MatchResult) error {
	if outputName == "" {
		return nil
	}
	m.progress.Report(StageWrite, 1)
	return keypoints.WriteBinaryMatchFile(outputName, res.A, res.B)
}

func (m *Matcher) maxPoints(width, height int) int {
	switch mp := m.cfg.Detector.MaxPoints; {
	case mp == 0:
		return keypoints.PointsPerTile(width, height)
	case mp < 0:
		return 0
	default:
		return mp
	}
}

// DetectIP detects interest points in both images, drops those near no-data and describes
// the rest. Both lists are returned sorted by decreasing interest.
func DetectIP[T rimage.Pixel, VA rimage.View[T], VB rimage.View[T]](
	ctx context.Context,
	m *Matcher,
	imgA VA,
	imgB VB,
) (keypoints.InterestPoints, keypoints.InterestPoints, error) {
	nodataA, nodataB := m.cfg.NodataA(), m.cfg.NodataB()
	maxPoints := m.maxPoints(imgA.Width(), imgA.Height())
	m.logger.Debugw("detecting interest points", "max_points", maxPoints)
	m.progress.Report(StageDetect, 0)
	ptsA, ptsB, err := keypoints.DetectPair[T](ctx, m.detector, imgA, imgB, nodataA, nodataB, maxPoints)
	if err != nil {
		return nil, nil, err
	}

	foundA, foundB := len(ptsA), len(ptsB)
	ptsA = keypoints.RemoveNearNoData[T](imgA, nodataA, ptsA)
	ptsB = keypoints.RemoveNearNoData[T](imgB, nodataB, ptsB)
	if len(ptsA) != foundA || len(ptsB) != foundB {
		m.logger.Debugw("removed points near no-data", "left", foundA-len(ptsA), "right", foundB-len(ptsB))
	}
	m.progress.Report(StageDetect, 0.7)

	keypoints.AssignDescriptors[T](m.descriptor, imgA, nodataA, ptsA)
	keypoints.AssignDescriptors[T](m.descriptor, imgB, nodataB, ptsB)
	keypoints.SortInterestPoints(ptsA)
	keypoints.SortInterestPoints(ptsB)
	m.progress.Report(StageDetect, 1)
	m.logger.Infow("found interest points", "left", len(ptsA), "right", len(ptsB))
	return ptsA, ptsB, nil
}

// DetectMatchIP detects and describes points in both images and matches them by descriptor
// alone, without geometric constraints. Repeated correspondences are dropped.
func DetectMatchIP[T rimage.Pixel, VA rimage.View[T], VB rimage.View[T]](
	ctx context.Context,
	m *Matcher,
	imgA VA,
	imgB VB,
) (keypoints.InterestPoints, keypoints.InterestPoints, error) {
	ptsA, ptsB, err := DetectIP[T](ctx, m, imgA, imgB)
	if err != nil {
		return nil, nil, err
	}
	if len(ptsA) == 0 || len(ptsB) == 0 {
		return keypoints.InterestPoints{}, keypoints.InterestPoints{}, nil
	}
	matches, err := keypoints.MatchInterestPoints(ptsA, ptsB,
		&keypoints.MatchingConfig{RatioThreshold: m.cfg.RatioThreshold}, m.logger)
	if err != nil {
		return nil, nil, err
	}
	matchedA, matchedB, err := keypoints.GetMatchingInterestPoints(matches, ptsA, ptsB)
	if err != nil {
		return nil, nil, err
	}
	matchedA, matchedB = keypoints.RemoveDuplicates(matchedA, matchedB)
	m.logger.Infow("matched points", "matches", len(matchedA))
	return matchedA, matchedB, nil
}

// HomographyFit fits the homography mapping ptsB to ptsA with RANSAC, using the inlier
// threshold implied by bbox.
func HomographyFit(ptsA, ptsB keypoints.InterestPoints, bbox image.Rectangle) (transform.Homography, []int, error) {
	fitter := transform.NewRANSACHomographyFitter(bbox, len(ptsA))
	return fitter.Fit(ptsA.Points(), ptsB.Points())
}

// HomographyIPMatching matches the images by descriptor and keeps the correspondences that
// agree with a single homography. Useful when no camera models are available.
func HomographyIPMatching[T rimage.Pixel, VA rimage.View[T], VB rimage.View[T]](
	ctx context.Context,
	m *Matcher,
	imgA VA,
	imgB VB,
	outputName string,
) (*MatchResult, error) {
	matchedA, matchedB, err := DetectMatchIP[T](ctx, m, imgA, imgB)
	if err != nil {
		return nil, err
	}
	res := &MatchResult{A: keypoints.InterestPoints{}, B: keypoints.InterestPoints{}}
	if len(matchedA) == 0 {
		return res, m.write(outputName, res)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.progress.Report(StageFilter, 0)
	fitter := transform.NewRANSACHomographyFitter(image.Rect(0, 0, imgA.Width(), imgA.Height()), len(matchedA))
	if m.cfg.RANSACIterations > 0 {
		fitter.Iterations = m.cfg.RANSACIterations
	}
	h, inliers, err := fitter.Fit(matchedA.Points(), matchedB.Points())
	if err != nil {
		m.logger.Infow("homography fit failed", "error", err)
		return nil, errors.Wrap(err, "homography matching")
	}
	m.logger.Infow("homography fit", "h", h.String(), "inliers", len(inliers), "candidates", len(matchedA))
	res = &MatchResult{A: matchedA.Subset(inliers), B: matchedB.Subset(inliers), Homography: &h}
	return res, m.write(outputName, res)
}

// IPMatching matches the images using the camera models: candidates must lie near their
// epipolar lines, be found from both sides and triangulate consistently above the datum. txA
// and txB map original camera pixels to the pixels of imgA and imgB, e.g. after scaling.
func IPMatching[T rimage.Pixel, VA rimage.View[T], VB rimage.View[T]](
	ctx context.Context,
	m *Matcher,
	camA, camB transform.CameraModel,
	imgA VA,
	imgB VB,
	datum cartography.Datum,
	outputName string,
	txA, txB transform.Transform,
) (*MatchResult, error) {
	if txA == nil {
		txA = transform.Identity{}
	}
	if txB == nil {
		txB = transform.Identity{}
	}
	if err := datum.Validate(); err != nil {
		return nil, NewConfigurationError(err, "invalid datum")
	}
	ptsA, ptsB, err := DetectIP[T](ctx, m, imgA, imgB)
	if err != nil {
		return nil, err
	}
	res := &MatchResult{A: keypoints.InterestPoints{}, B: keypoints.InterestPoints{}}
	if len(ptsA) == 0 || len(ptsB) == 0 {
		return res, m.write(outputName, res)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matcher := NewEpipolarLinePointMatcher(m.cfg.RatioThreshold, m.cfg.epipolarThreshold(imgA.Width(), imgA.Height()), datum)
	forward := matcher.Match(ptsA, ptsB, camA, camB, txA, txB, subProgress{m.progress, 0, 0.5})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	backward := matcher.Match(ptsB, ptsA, camB, camA, txB, txA, subProgress{m.progress, 0.5, 1})
	mutual := MutualMatches(forward, backward)
	m.logger.Infow("matched points", "mutual", len(mutual), "left", len(ptsA), "right", len(ptsB))

	matchedA, matchedB, err := keypoints.GetMatchingInterestPoints(mutual, ptsA, ptsB)
	if err != nil {
		return nil, err
	}
	if len(matchedA) == 0 {
		return res, m.write(outputName, res)
	}

	m.progress.Report(StageFilter, 0)
	filter := NewTriangulationAltitudeFilter(datum, m.cfg.MinInliers, m.logger)
	inliers, err := filter.Filter(matchedA, matchedB, camA, camB, txA, txB)
	if err != nil {
		m.logger.Infow("triangulation filter failed", "error", err)
		return nil, errors.Wrap(err, "camera matching")
	}
	m.progress.Report(StageFilter, 1)
	m.logger.Infow("reduced matches", "inliers", len(inliers))

	res.A, res.B = matchedA.Subset(inliers), matchedB.Subset(inliers)
	if m.cfg.TransformToOriginal {
		for i := range res.A {
			res.A[i].SetPoint(txA.Reverse(res.A[i].Point()))
			res.B[i].SetPoint(txB.Reverse(res.B[i].Point()))
		}
	}
	return res, m.write(outputName, res)
}

// IPMatchingWithAlignment first warps imgB into the frame of imgA with a homography predicted
// from camera geometry, so both images have similar scale and skew, then runs IPMatching. The
// pair is rejected when the homography fit to the final matches disagrees with the prediction.
// Matches are returned, and written, in original camera pixel coordinates.
func IPMatchingWithAlignment[T rimage.Pixel, VA rimage.View[T], VB rimage.View[T]](
	ctx context.Context,
	m *Matcher,
	camA, camB transform.CameraModel,
	imgA VA,
	imgB VB,
	datum cartography.Datum,
	outputName string,
	txA, txB transform.Transform,
) (*MatchResult, error) {
	if txA == nil {
		txA = transform.Identity{}
	}
	if txB == nil {
		txB = transform.Identity{}
	}
	boxA := image.Rect(0, 0, imgA.Width(), imgA.Height())
	boxB := image.Rect(0, 0, imgB.Width(), imgB.Height())
	origA, origB := transform.ReverseBBox(txA, boxA), transform.ReverseBBox(txB, boxB)

	m.progress.Report(StageAlignment, 0)
	rough, err := RoughHomographyFit(camA, camB, origA, origB, datum, m.logger)
	if err != nil {
		return nil, err
	}
	if err := CheckOverlap(rough, origA, origB); err != nil {
		return nil, err
	}
	m.logger.Debugw("aligning right image to left with rough homography", "h", rough.String())

	roughTx, err := transform.NewHomographyTransform(rough)
	if err != nil {
		return nil, NewConfigurationError(err, "rough homography is singular")
	}
	raster := transform.ForwardBBox(transform.Compose(txB, roughTx), origB)
	if raster.Empty() {
		return nil, NewConfigurationError(ErrNoOverlap, "aligned right image is empty")
	}
	tx := transform.Compose(transform.NewTranslation(-float64(raster.Min.X), -float64(raster.Min.Y)), txB, roughTx)

	nodataB := m.cfg.NodataB()
	fill := T(0)
	switch {
	case !math.IsNaN(nodataB):
		fill = T(nodataB)
	case rimage.IsFloatPixel[T]():
		nan := math.NaN()
		fill = T(nan)
	}
	// nearest pixel keeps no-data values from bleeding into their neighbors
	warped := transform.WarpImage[T](imgB, transform.Compose(tx, transform.Inverse(txB)), raster.Dx(), raster.Dy(), fill)
	m.progress.Report(StageAlignment, 1)

	// the post fit below compares homographies in original pixel coordinates
	inner := *m
	inner.cfg.TransformToOriginal = true
	res, err := IPMatching[T](ctx, &inner, camA, camB, imgA, warped, datum, "", txA, tx)
	if err != nil {
		return nil, err
	}
	if res.Len() == 0 {
		return res, m.write(outputName, res)
	}

	post, _, err := HomographyFit(res.A, res.B, image.Rect(0, 0, raster.Dx(), raster.Dy()))
	if err != nil {
		return nil, errors.Wrap(err, "cannot fit homography to aligned matches")
	}
	if d := transform.AffineBlockDistance(rough, post); d > maxPostFitDistance {
		m.logger.Infow("post fit homography has a different scale and skew than the rough fit",
			"rough", rough.String(), "post", post.String(), "distance", d)
		return nil, errors.Wrapf(transform.ErrNoConsensus,
			"homography of the matches differs from camera geometry by %.3g", d)
	}
	res.Homography = &post
	return res, m.write(outputName, res)
}
