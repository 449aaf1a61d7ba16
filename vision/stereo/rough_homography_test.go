package stereo

import (
	"image"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/ipmatch/rimage/transform"
)

func TestRoughHomographyFit(t *testing.T) {
	logger := golog.NewTestLogger(t)
	box := image.Rect(0, 0, sceneSize, sceneSize)
	camA := sceneCamera(t, 0, 0)

	for _, yaw := range []float64{0, 0.1, -0.4} {
		camB := sceneCamera(t, sceneBaseline, yaw)
		h, err := RoughHomographyFit(camA, camB, box, box, sceneDatum, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, h[0][2], test.ShouldEqual, 0)
		test.That(t, h[1][2], test.ShouldEqual, 0)
		// offsets between pixels survive once the translation is dropped
		origin := r2.Point{X: 256, Y: 256}
		for _, p := range []r2.Point{{X: 0, Y: 0}, {X: 511, Y: 0}, {X: 30, Y: 470}} {
			want := transfer(t, camB, camA, p).Sub(transfer(t, camB, camA, origin))
			got := h.Apply(p).Sub(h.Apply(origin))
			test.That(t, got.Sub(want).Norm(), test.ShouldBeLessThan, 0.05)
		}

		// the 2x2 block is the camera yaw
		c, s := math.Cos(yaw), math.Sin(yaw)
		rot := transform.Homography{{c, s, 0}, {-s, c, 0}, {0, 0, 1}}
		test.That(t, transform.AffineBlockDistance(h, rot), test.ShouldBeLessThan, 1e-3)
		test.That(t, CheckOverlap(h, box, box), test.ShouldBeNil)
	}
}

func TestRoughHomographyNoOverlap(t *testing.T) {
	logger := golog.NewTestLogger(t)
	box := image.Rect(0, 0, sceneSize, sceneSize)
	camA := sceneCamera(t, 0, 0)

	// far enough that the footprints would be disjoint; the fit drops the offset
	far := sceneCamera(t, 20000, 0)
	h, err := RoughHomographyFit(camA, far, box, box, sceneDatum, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, CheckOverlap(h, box, box), test.ShouldBeNil)

	shifted := transform.Homography{{1, 0, -2000}, {0, 1, 0}, {0, 0, 1}}
	err = CheckOverlap(shifted, box, box)
	test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
	test.That(t, errors.Is(err, ErrNoOverlap), test.ShouldBeTrue)
	test.That(t, IsPairSkippable(err), test.ShouldBeFalse)

	// looking away from the datum
	up, err := transform.NewPinholeCamera(camA.PinholeCameraIntrinsics, r3.Vector{Z: sceneRadius + sceneAltitude},
		[3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
	test.That(t, err, test.ShouldBeNil)
	_, err = RoughHomographyFit(camA, up, box, box, sceneDatum, logger)
	test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
	test.That(t, errors.Is(err, ErrNoOverlap), test.ShouldBeTrue)

	_, err = RoughHomographyFit(camA, far, image.Rectangle{}, box, sceneDatum, logger)
	test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
}
