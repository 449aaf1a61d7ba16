package rimage

import (
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestImageAccess(t *testing.T) {
	img := NewImage[uint8](4, 3)
	test.That(t, img.Width(), test.ShouldEqual, 4)
	test.That(t, img.Height(), test.ShouldEqual, 3)
	img.Set(3, 2, 200)
	test.That(t, img.Get(3, 2), test.ShouldEqual, 200)
	v, ok := img.Lookup(3, 2)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldEqual, 200)
	_, ok = img.Lookup(4, 2)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = img.Lookup(-1, 0)
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, NewImageFromData(2, 2, []float32{1, 2, 3}), test.ShouldBeNil)
}

func TestCrop(t *testing.T) {
	img := NewImage[float32](3, 3)
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			img.Set(x, y, float32(y*3+x))
		}
	}
	c := Crop[float32](img, image.Rect(1, 1, 4, 3), -1)
	test.That(t, c.Width(), test.ShouldEqual, 3)
	test.That(t, c.Height(), test.ShouldEqual, 2)
	test.That(t, c.Get(0, 0), test.ShouldEqual, 4)
	test.That(t, c.Get(1, 1), test.ShouldEqual, 8)
	test.That(t, c.Get(2, 0), test.ShouldEqual, -1)
}

func TestToFloat32(t *testing.T) {
	img := NewImage[uint8](2, 1)
	img.Set(0, 0, 255)
	img.Set(1, 0, 7)
	f := ToFloat32[uint8](img, 7)
	test.That(t, f.Get(0, 0), test.ShouldEqual, 1)
	test.That(t, f.Get(1, 0), test.ShouldEqual, 0)

	g := NewImage[float64](2, 1)
	g.Set(0, 0, math.NaN())
	g.Set(1, 0, 0.5)
	f = ToFloat32[float64](g, math.NaN())
	test.That(t, f.Get(0, 0), test.ShouldEqual, 0)
	test.That(t, f.Get(1, 0), test.ShouldEqual, 0.5)

	test.That(t, MaxValue[uint16](), test.ShouldEqual, 65535)
	test.That(t, MaxValue[float32](), test.ShouldEqual, 1)
}

func TestDynamicRange(t *testing.T) {
	// 12 bit data stored in 16 bit pixels
	img := NewImage[uint16](3, 1)
	img.Set(0, 0, 100)
	img.Set(1, 0, 4095)
	img.Set(2, 0, 0)
	test.That(t, DynamicRange[uint16](img, 0), test.ShouldAlmostEqual, 3995.0/65535, 1e-12)
	test.That(t, DynamicRange[uint16](img, math.NaN()), test.ShouldAlmostEqual, 4095.0/65535, 1e-12)

	g := NewImage[float32](2, 1)
	g.Set(0, 0, float32(math.NaN()))
	g.Set(1, 0, 0.25)
	test.That(t, DynamicRange[float32](g, math.NaN()), test.ShouldEqual, 0)
	test.That(t, DynamicRange[float32](NewImage[float32](0, 0), math.NaN()), test.ShouldEqual, 0)
}

func TestIntegralImage(t *testing.T) {
	img := NewImage[float32](5, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 5; x++ {
			img.Set(x, y, float32(x+10*y))
		}
	}
	ii := NewIntegralImage[float32](img)
	for _, box := range []image.Rectangle{
		image.Rect(0, 0, 5, 4),
		image.Rect(1, 1, 3, 4),
		image.Rect(2, 0, 3, 1),
	} {
		expected := 0.0
		for y := box.Min.Y; y < box.Max.Y; y++ {
			for x := box.Min.X; x < box.Max.X; x++ {
				expected += float64(img.Get(x, y))
			}
		}
		sum, area := ii.BoxSum(box.Min.X, box.Min.Y, box.Max.X, box.Max.Y)
		test.That(t, sum, test.ShouldEqual, expected)
		test.That(t, area, test.ShouldEqual, box.Dx()*box.Dy())
	}

	// clipped to the image
	sum, area := ii.BoxSum(-10, -10, 1, 1)
	test.That(t, sum, test.ShouldEqual, 0)
	test.That(t, area, test.ShouldEqual, 1)
	_, area = ii.BoxSum(6, 0, 8, 2)
	test.That(t, area, test.ShouldEqual, 0)
	test.That(t, ii.BoxMean(6, 0, 8, 2), test.ShouldEqual, 0)
	test.That(t, ii.BoxMean(0, 0, 2, 1), test.ShouldEqual, 0.5)
}

func TestImageFileRoundTrip(t *testing.T) {
	std := image.NewGray(image.Rect(0, 0, 8, 6))
	for i := range std.Pix {
		std.Pix[i] = uint8(i * 5)
	}
	std.SetGray(3, 3, color.Gray{255})
	img := FromStdImage(std)
	test.That(t, img.Get(3, 3), test.ShouldEqual, 1)

	path := filepath.Join(t.TempDir(), "gray.png")
	test.That(t, WriteImage(path, img), test.ShouldBeNil)
	back, err := ReadImage(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Width(), test.ShouldEqual, 8)
	test.That(t, back.Height(), test.ShouldEqual, 6)
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			test.That(t, back.Get(x, y), test.ShouldAlmostEqual, img.Get(x, y), 1e-6)
		}
	}

	_, err = ReadImage(filepath.Join(t.TempDir(), "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestResample(t *testing.T) {
	std := image.NewGray(image.Rect(0, 0, 40, 20))
	half, err := Resample(std, 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, half.Bounds().Dx(), test.ShouldEqual, 20)
	test.That(t, half.Bounds().Dy(), test.ShouldEqual, 10)
	_, err = Resample(std, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFromGrayRaw(t *testing.T) {
	g := image.NewGray(image.Rect(2, 3, 6, 5))
	g.SetGray(3, 4, color.Gray{Y: 17})
	img := FromGray(g)
	test.That(t, img.Width(), test.ShouldEqual, 4)
	test.That(t, img.Height(), test.ShouldEqual, 2)
	test.That(t, img.Get(1, 1), test.ShouldEqual, uint8(17))
	test.That(t, img.Get(0, 0), test.ShouldEqual, uint8(0))

	g16 := image.NewGray16(image.Rect(0, 0, 3, 3))
	g16.SetGray16(2, 1, color.Gray16{Y: 40000})
	img16 := FromGray16(g16)
	test.That(t, img16.Get(2, 1), test.ShouldEqual, uint16(40000))
	test.That(t, IsFloatPixel[uint16](), test.ShouldBeFalse)
	test.That(t, IsFloatPixel[float32](), test.ShouldBeTrue)
}
