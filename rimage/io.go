package rimage

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"golang.org/x/image/tiff"
)

// ReadImage loads the image at path as a grey float image in [0, 1].
func ReadImage(path string) (*Image[float32], error) {
	img, err := OpenStdImage(path)
	if err != nil {
		return nil, err
	}
	return FromStdImage(img), nil
}

// FromStdImage converts a standard library image to a grey float image in [0, 1]. The result
// is anchored at the origin regardless of img.Bounds().Min.
func FromStdImage(img image.Image) *Image[float32] {
	b := img.Bounds()
	out := NewImage[float32](b.Dx(), b.Dy())
	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < out.height; y++ {
			row := out.Row(y)
			for x := range row {
				row[x] = float32(src.GrayAt(x+b.Min.X, y+b.Min.Y).Y) / 255
			}
		}
	case *image.Gray16:
		for y := 0; y < out.height; y++ {
			row := out.Row(y)
			for x := range row {
				row[x] = float32(src.Gray16At(x+b.Min.X, y+b.Min.Y).Y) / 65535
			}
		}
	default:
		for y := 0; y < out.height; y++ {
			row := out.Row(y)
			for x := range row {
				g := color.Gray16Model.Convert(img.At(x+b.Min.X, y+b.Min.Y)).(color.Gray16)
				row[x] = float32(g.Y) / 65535
			}
		}
	}
	return out
}

// FromGray copies an 8 bit grey image without rescaling.
func FromGray(img *image.Gray) *Image[uint8] {
	b := img.Bounds()
	out := NewImage[uint8](b.Dx(), b.Dy())
	for y := 0; y < out.height; y++ {
		copy(out.Row(y), img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):])
	}
	return out
}

// FromGray16 copies a 16 bit grey image without rescaling.
func FromGray16(img *image.Gray16) *Image[uint16] {
	b := img.Bounds()
	out := NewImage[uint16](b.Dx(), b.Dy())
	for y := 0; y < out.height; y++ {
		row := out.Row(y)
		for x := range row {
			row[x] = img.Gray16At(x+b.Min.X, y+b.Min.Y).Y
		}
	}
	return out
}

// ToStdGray renders a [0, 1] float image as an 8 bit grey image. Values outside the range
// are clamped.
func ToStdGray(img *Image[float32]) *image.Gray {
	out := image.NewGray(img.Bounds())
	for y := 0; y < img.height; y++ {
		for x, v := range img.Row(y) {
			switch {
			case v <= 0 || v != v:
				out.Pix[y*out.Stride+x] = 0
			case v >= 1:
				out.Pix[y*out.Stride+x] = 255
			default:
				out.Pix[y*out.Stride+x] = uint8(v*255 + 0.5)
			}
		}
	}
	return out
}

// WriteImage saves img as an 8 bit grey image, the format chosen from the extension.
func WriteImage(path string, img *Image[float32]) error {
	return imaging.Save(ToStdGray(img), path)
}

// Resample scales img by factor with a box filter, which anti aliases when shrinking.
func Resample(img image.Image, factor float64) (image.Image, error) {
	if factor <= 0 {
		return nil, errors.Errorf("resample factor must be positive, got %v", factor)
	}
	b := img.Bounds()
	w := int(float64(b.Dx())*factor + 0.5)
	h := int(float64(b.Dy())*factor + 0.5)
	if w < 1 || h < 1 {
		return nil, errors.Errorf("resampling %dx%d by %v leaves no pixels", b.Dx(), b.Dy(), factor)
	}
	return imaging.Resize(img, w, h, imaging.Box), nil
}

// OpenStdImage opens any format imaging understands without converting it. TIFF files are
// decoded directly so 16 bit data keeps its precision.
func OpenStdImage(path string) (image.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".tif" || ext == ".tiff" {
		//nolint:gosec
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot open %q", path)
		}
		defer utils.UncheckedErrorFunc(f.Close)
		img, err := tiff.Decode(f)
		return img, errors.Wrapf(err, "cannot decode tiff %q", path)
	}
	img, err := imaging.Open(path)
	return img, errors.Wrapf(err, "cannot open %q", path)
}
