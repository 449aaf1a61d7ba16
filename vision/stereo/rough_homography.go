package stereo

import (
	"image"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/ipmatch/cartography"
	"go.viam.com/ipmatch/rimage/transform"
)

// roughGridSize is the number of samples along each side of image B used to fit the rough
// homography.
const roughGridSize = 20

// RoughHomographyFit predicts, from camera geometry and the datum alone, the homography that
// maps pixels of image B to pixels of image A. boxA and boxB are the image bounds in the
// original camera pixel coordinates.
func RoughHomographyFit(
	camA, camB transform.CameraModel,
	boxA, boxB image.Rectangle,
	datum cartography.Datum,
	logger golog.Logger,
) (transform.Homography, error) {
	if err := datum.Validate(); err != nil {
		return transform.Homography{}, NewConfigurationError(err, "invalid datum")
	}
	if boxA.Empty() || boxB.Empty() {
		return transform.Homography{}, NewConfigurationError(nil, "empty image bounds %v, %v", boxA, boxB)
	}
	var ptsA, ptsB []r2.Point
	for i := 0; i < roughGridSize; i++ {
		y := float64(boxB.Min.Y) + float64(boxB.Dy()-1)*float64(i)/float64(roughGridSize-1)
		for j := 0; j < roughGridSize; j++ {
			x := float64(boxB.Min.X) + float64(boxB.Dx()-1)*float64(j)/float64(roughGridSize-1)
			pixB := r2.Point{X: x, Y: y}
			dir, err := camB.PixelToVector(pixB)
			if err != nil {
				continue
			}
			ground, ok := datum.IntersectRay(camB.CameraCenter(pixB), dir)
			if !ok {
				continue
			}
			pixA, err := camA.PointToPixel(ground)
			if err != nil {
				continue
			}
			ptsA = append(ptsA, pixA)
			ptsB = append(ptsB, pixB)
		}
	}
	if len(ptsA) < transform.MinHomographyPoints {
		return transform.Homography{}, NewConfigurationError(ErrNoOverlap,
			"only %d of %d samples of the right image reach the datum and the left camera",
			len(ptsA), roughGridSize*roughGridSize)
	}

	fitter := transform.NewRANSACHomographyFitter(boxA, len(ptsA))
	h, inliers, err := fitter.Fit(ptsA, ptsB)
	if err != nil {
		// geometry that a homography cannot describe even roughly; fall back to least squares
		logger.Debugw("rough homography ransac failed, fitting all samples", "error", err)
		h, err = transform.FitHomography(ptsB, ptsA)
		if err != nil {
			return transform.Homography{}, errors.Wrap(err, "cannot fit rough homography")
		}
		inliers = nil
	}
	logger.Debugw("rough homography", "samples", len(ptsA), "inliers", len(inliers), "h", h.String())
	return h.WithoutTranslation(), nil
}

// CheckOverlap returns a ConfigurationError wrapping ErrNoOverlap when h does not map any of
// boxB onto boxA.
func CheckOverlap(h transform.Homography, boxA, boxB image.Rectangle) error {
	ht, err := transform.NewHomographyTransform(h)
	if err != nil {
		return NewConfigurationError(err, "rough homography is singular")
	}
	mapped := transform.ForwardBBox(ht, boxB)
	if !boxA.Overlaps(mapped) {
		return NewConfigurationError(ErrNoOverlap,
			"the rough alignment from camera geometry maps the right image to %v, outside the left image %v", mapped, boxA)
	}
	return nil
}
