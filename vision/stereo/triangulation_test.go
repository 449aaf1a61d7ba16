package stereo

import (
	"math/rand"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/ipmatch/rimage/transform"
	"go.viam.com/ipmatch/vision/keypoints"
)

func TestTriangulate(t *testing.T) {
	camA := sceneCamera(t, 0, 0)
	camB := sceneCamera(t, sceneBaseline, 0.2)

	for _, height := range []float64{0, 150, -80} {
		pt := groundPoint(t, camA, r2.Point{X: 320, Y: 140}, height)
		pixA, err := camA.PointToPixel(pt)
		test.That(t, err, test.ShouldBeNil)
		pixB, err := camB.PointToPixel(pt)
		test.That(t, err, test.ShouldBeNil)

		got, gap, ok := Triangulate(camA, camB, pixA, pixB)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, got.Sub(pt).Norm(), test.ShouldBeLessThan, 1e-3)
		test.That(t, gap, test.ShouldBeLessThan, 1e-3)
		test.That(t, sceneDatum.GeodeticHeight(got), test.ShouldAlmostEqual, height, 1e-3)
	}

	// rays that miss each other by a known amount
	pt := groundPoint(t, camA, r2.Point{X: 200, Y: 200}, 0)
	pixA, err := camA.PointToPixel(pt)
	test.That(t, err, test.ShouldBeNil)
	pixB, err := camB.PointToPixel(pt)
	test.That(t, err, test.ShouldBeNil)
	_, gap, ok := Triangulate(camA, camB, pixA, pixB.Add(r2.Point{X: 0, Y: 3}))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, gap, test.ShouldBeGreaterThan, 1)

	// one camera, one pixel: parallel rays
	_, _, ok = Triangulate(camA, camA, pixA, pixA)
	test.That(t, ok, test.ShouldBeFalse)

	// rays diverging upward meet behind the cameras
	_, _, ok = Triangulate(camA, camB, r2.Point{X: 0, Y: 256}, r2.Point{X: 511, Y: 256})
	test.That(t, ok, test.ShouldBeFalse)
}

// correspondences builds matched point lists from pixels of camA whose ground points are
// raised by the given heights.
func correspondences(t *testing.T, camA, camB *transform.PinholeCamera, heights []float64) (keypoints.InterestPoints, keypoints.InterestPoints) {
	t.Helper()
	ptsA := make(keypoints.InterestPoints, len(heights))
	ptsB := make(keypoints.InterestPoints, len(heights))
	for i, h := range heights {
		pix := r2.Point{X: float64(40 + (i*37)%430), Y: float64(30 + (i*53)%450)}
		pt := groundPoint(t, camA, pix, h)
		pixB, err := camB.PointToPixel(pt)
		test.That(t, err, test.ShouldBeNil)
		ptsA[i] = describedPoint(pix.X, pix.Y)
		ptsB[i] = describedPoint(pixB.X, pixB.Y)
	}
	return ptsA, ptsB
}

func TestTriangulationAltitudeFilter(t *testing.T) {
	logger := golog.NewTestLogger(t)
	camA := sceneCamera(t, 0, 0)
	camB := sceneCamera(t, sceneBaseline, 0.05)
	id := transform.Identity{}

	heights := make([]float64, 34)
	outliers := map[int]bool{3: true, 11: true, 20: true, 33: true}
	for i := range heights {
		if outliers[i] {
			heights[i] = 300 + float64(i)
		}
	}
	ptsA, ptsB := correspondences(t, camA, camB, heights)

	f := NewTriangulationAltitudeFilter(sceneDatum, DefaultMinInliers, logger)
	tris, valid := f.Triangulations(ptsA, ptsB, camA, camB, id, id)
	test.That(t, valid, test.ShouldHaveLength, len(heights))
	test.That(t, tris[11].Altitude, test.ShouldAlmostEqual, 311, 0.1)

	inliers, err := f.Filter(ptsA, ptsB, camA, camB, id, id)
	test.That(t, err, test.ShouldBeNil)
	var want []int
	for i := range heights {
		if !outliers[i] {
			want = append(want, i)
		}
	}
	test.That(t, inliers, test.ShouldResemble, want)

	// the same pixels in quarter resolution images give the same answer
	quarter := transform.NewScale(0.25)
	smallA, smallB := ptsA.Clone(), ptsB.Clone()
	for i := range smallA {
		smallA[i].SetPoint(quarter.Forward(ptsA[i].Point()))
		smallB[i].SetPoint(quarter.Forward(ptsB[i].Point()))
	}
	inliers, err = f.Filter(smallA, smallB, camA, camB, quarter, quarter)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inliers, test.ShouldResemble, want)

	f.MinInliers = 31
	_, err = f.Filter(ptsA, ptsB, camA, camB, id, id)
	test.That(t, errors.Is(err, transform.ErrNoConsensus), test.ShouldBeTrue)
	test.That(t, IsPairSkippable(err), test.ShouldBeTrue)

	_, err = f.Filter(ptsA, ptsB[:3], camA, camB, id, id)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, IsPairSkippable(err), test.ShouldBeFalse)
}

func TestTriangulationAltitudeFilterScattered(t *testing.T) {
	logger := golog.NewTestLogger(t)
	camA := sceneCamera(t, 0, 0)
	camB := sceneCamera(t, sceneBaseline, 0)
	id := transform.Identity{}
	rng := rand.New(rand.NewSource(5))

	// correspondences spread over thousands of meters describe no surface
	heights := make([]float64, 30)
	for i := range heights {
		heights[i] = 3000 * rng.Float64()
	}
	ptsA, ptsB := correspondences(t, camA, camB, heights)
	f := NewTriangulationAltitudeFilter(sceneDatum, DefaultMinInliers, logger)
	_, err := f.Filter(ptsA, ptsB, camA, camB, id, id)
	test.That(t, errors.Is(err, transform.ErrNoConsensus), test.ShouldBeTrue)
	test.That(t, IsPairSkippable(err), test.ShouldBeTrue)

	f.MaxSpreadPx = 0
	inliers, err := f.Filter(ptsA, ptsB, camA, camB, id, id)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(inliers), test.ShouldBeGreaterThan, 15)

	// ground points among scattered ones are kept, and only they
	heights = make([]float64, 34)
	scattered := map[int]bool{}
	for _, i := range rng.Perm(len(heights))[:14] {
		scattered[i] = true
		heights[i] = 500 + 2500*rng.Float64()
	}
	var ground []int
	for i := range heights {
		if !scattered[i] {
			ground = append(ground, i)
		}
	}
	ptsA, ptsB = correspondences(t, camA, camB, heights)
	f = NewTriangulationAltitudeFilter(sceneDatum, DefaultMinInliers, logger)
	inliers, err = f.Filter(ptsA, ptsB, camA, camB, id, id)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inliers, test.ShouldResemble, ground)

	// one pixel of disparity is a couple of hundred meters here
	tris, valid := f.Triangulations(ptsA, ptsB, camA, camB, id, id)
	errRes, altRes := f.pixelResolution(ptsA, ptsB, camA, camB, id, id, tris, valid)
	test.That(t, altRes, test.ShouldBeBetween, 100, 250)
	test.That(t, errRes, test.ShouldBeBetween, 1, 20)
}

func TestTriangulationAltitudeFilterFewPoints(t *testing.T) {
	logger := golog.NewTestLogger(t)
	camA := sceneCamera(t, 0, 0)
	camB := sceneCamera(t, sceneBaseline, 0)
	id := transform.Identity{}

	ptsA, ptsB := correspondences(t, camA, camB, []float64{0, 0})
	f := NewTriangulationAltitudeFilter(sceneDatum, 1, logger)
	inliers, err := f.Filter(ptsA, ptsB, camA, camB, id, id)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inliers, test.ShouldResemble, []int{0, 1})

	f.MinInliers = 3
	_, err = f.Filter(ptsA, ptsB, camA, camB, id, id)
	test.That(t, IsPairSkippable(err), test.ShouldBeTrue)

	_, err = f.Filter(keypoints.InterestPoints{}, keypoints.InterestPoints{}, camA, camB, id, id)
	test.That(t, IsPairSkippable(err), test.ShouldBeTrue)
}
