package transform

import (
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/ipmatch/rimage"
)

func image500() image.Rectangle {
	return image.Rect(0, 0, 500, 500)
}

func TestCompose(t *testing.T) {
	ht, err := NewHomographyTransform(testHomography())
	test.That(t, err, test.ShouldBeNil)
	tx := Compose(NewTranslation(-10, 5), NewScale(0.5), ht)
	p := r2.Point{X: 120, Y: 33}

	want := ht.Forward(p).Mul(0.5).Add(r2.Point{X: -10, Y: 5})
	got := tx.Forward(p)
	test.That(t, got.X, test.ShouldAlmostEqual, want.X, 1e-9)
	test.That(t, got.Y, test.ShouldAlmostEqual, want.Y, 1e-9)

	back := tx.Reverse(got)
	test.That(t, back.X, test.ShouldAlmostEqual, p.X, 1e-9)
	test.That(t, back.Y, test.ShouldAlmostEqual, p.Y, 1e-9)

	inv := Inverse(tx)
	test.That(t, inv.Forward(got).Sub(p).Norm(), test.ShouldBeLessThan, 1e-9)
	test.That(t, Inverse(inv).Forward(p), test.ShouldResemble, got)

	test.That(t, Identity{}.Forward(p), test.ShouldResemble, p)
	test.That(t, Compose().Reverse(p), test.ShouldResemble, p)

	_, err = NewHomographyTransform(Homography{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBBox(t *testing.T) {
	r := image.Rect(10, 20, 110, 70)
	test.That(t, ForwardBBox(NewTranslation(5, -5), r), test.ShouldResemble, image.Rect(15, 15, 115, 65))
	test.That(t, ReverseBBox(NewTranslation(5, -5), r), test.ShouldResemble, image.Rect(5, 25, 105, 75))
	test.That(t, ForwardBBox(NewScale(2), image.Rect(0, 0, 10, 10)), test.ShouldResemble, image.Rect(0, 0, 19, 19))
	test.That(t, ForwardBBox(Identity{}, image.Rectangle{}).Empty(), test.ShouldBeTrue)

	// a quarter turn about the origin
	ht, err := NewHomographyTransform(Homography{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ForwardBBox(ht, image.Rect(0, 0, 11, 21)), test.ShouldResemble, image.Rect(-20, 0, 1, 11))
}

func TestNadirRotation(t *testing.T) {
	for _, yaw := range []float64{0, 0.3, -2} {
		r := NewNadirRotation(yaw)
		// columns are orthonormal
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				dot := 0.
				for k := 0; k < 3; k++ {
					dot += r[k][i] * r[k][j]
				}
				if i == j {
					test.That(t, dot, test.ShouldAlmostEqual, 1, 1e-12)
				} else {
					test.That(t, dot, test.ShouldAlmostEqual, 0, 1e-12)
				}
			}
		}
		// optical axis points down
		test.That(t, r[2][2], test.ShouldEqual, -1.)
	}
}

func nadirCamera(t *testing.T, center r3.Vector, yaw float64) *PinholeCamera {
	t.Helper()
	cam, err := NewPinholeCamera(&PinholeCameraIntrinsics{
		Width: 512, Height: 512, Fx: 1000, Fy: 1000, Ppx: 256, Ppy: 256,
	}, center, NewNadirRotation(yaw))
	test.That(t, err, test.ShouldBeNil)
	return cam
}

func TestPinholeCamera(t *testing.T) {
	cam := nadirCamera(t, r3.Vector{X: 100, Y: -50, Z: 1000}, 0.2)

	v, err := cam.PixelToVector(r2.Point{X: 256, Y: 256})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v.Z, test.ShouldAlmostEqual, -1, 1e-12)

	for _, pix := range []r2.Point{{X: 0, Y: 0}, {X: 511, Y: 3}, {X: 300.25, Y: 400.5}} {
		dir, err := cam.PixelToVector(pix)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, dir.Norm(), test.ShouldAlmostEqual, 1, 1e-12)
		// intersect the ground plane z = 0
		center := cam.CameraCenter(pix)
		ground := center.Add(dir.Mul(-center.Z / dir.Z))
		back, err := cam.PointToPixel(ground)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, back.X, test.ShouldAlmostEqual, pix.X, 1e-6)
		test.That(t, back.Y, test.ShouldAlmostEqual, pix.Y, 1e-6)
	}

	_, err = cam.PointToPixel(r3.Vector{X: 100, Y: -50, Z: 2000})
	test.That(t, errors.Is(err, ErrBehindCamera), test.ShouldBeTrue)

	// image x follows world X turned by the yaw
	straight := nadirCamera(t, r3.Vector{Z: 1000}, 0)
	p, err := straight.PointToPixel(r3.Vector{X: 10})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.X, test.ShouldAlmostEqual, 266, 1e-9)
	test.That(t, p.Y, test.ShouldAlmostEqual, 256, 1e-9)
	p, err = straight.PointToPixel(r3.Vector{Y: 10})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Y, test.ShouldAlmostEqual, 246, 1e-9)

	var empty PinholeCamera
	_, err = empty.PixelToVector(r2.Point{})
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
	_, err = NewPinholeCamera(&PinholeCameraIntrinsics{Width: 10, Height: 10, Fx: 0, Fy: 1}, r3.Vector{}, NewNadirRotation(0))
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
}

func TestPinholeCameraFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "cam.json")
	err := os.WriteFile(good, []byte(`{
		"intrinsic_parameters": {"width_px": 512, "height_px": 256, "fx": 900, "fy": 901, "ppx": 256, "ppy": 128},
		"center": {"X": 1, "Y": 2, "Z": 3},
		"rotation": [[1, 0, 0], [0, -1, 0], [0, 0, -1]]
	}`), 0o600)
	test.That(t, err, test.ShouldBeNil)
	cam, err := NewPinholeCameraFromJSONFile(good)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.Width, test.ShouldEqual, 512)
	test.That(t, cam.Fy, test.ShouldEqual, 901.)
	test.That(t, cam.Center, test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, cam.Rotation, test.ShouldResemble, NewNadirRotation(0))

	bad := filepath.Join(dir, "bad.json")
	test.That(t, os.WriteFile(bad, []byte(`{"center": {"X": 1}}`), 0o600), test.ShouldBeNil)
	_, err = NewPinholeCameraFromJSONFile(bad)
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)

	_, err = NewPinholeCameraFromJSONFile(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWarpImage(t *testing.T) {
	src := rimage.NewImage[uint8](8, 6)
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			src.Set(x, y, uint8(10*y+x))
		}
	}
	out := WarpImage[uint8](src, NewTranslation(2, 1), 8, 6, 255)
	test.That(t, out.Get(0, 0), test.ShouldEqual, uint8(255))
	test.That(t, out.Get(1, 0), test.ShouldEqual, uint8(255))
	test.That(t, out.Get(2, 1), test.ShouldEqual, uint8(0))
	test.That(t, out.Get(7, 5), test.ShouldEqual, uint8(45))

	// nearest pixel
	half := WarpImage[uint8](src, NewScale(2), 16, 12, 0)
	test.That(t, half.Get(6, 4), test.ShouldEqual, uint8(23))
	test.That(t, half.Get(15, 11), test.ShouldEqual, uint8(0))
	test.That(t, math.IsNaN(float64(WarpImage[float32](rimage.NewImage[float32](1, 1), NewScale(0), 1, 1, float32(math.NaN())).Get(0, 0))), test.ShouldBeTrue)
}
