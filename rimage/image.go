// Package rimage contains the dense single channel images used by interest point detection,
// along with integral images and image loading.
package rimage

import (
	"image"
	"math"
)

// Pixel is the set of numeric channel types an image may hold.
type Pixel interface {
	uint8 | uint16 | float32 | float64
}

// View is a dense, randomly addressable single channel 2-D image. Get must only be called
// with coordinates for which In returns true.
type View[T Pixel] interface {
	Width() int
	Height() int
	In(x, y int) bool
	Get(x, y int) T
}

// Image is a dense, row major View backed by a slice.
type Image[T Pixel] struct {
	data          []T
	width, height int
}

// NewImage returns a zeroed image of the given size.
func NewImage[T Pixel](width, height int) *Image[T] {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Image[T]{
		data:   make([]T, width*height),
		width:  width,
		height: height,
	}
}

// NewImageFromData wraps data, which must hold width*height pixels in row major order.
func NewImageFromData[T Pixel](width, height int, data []T) *Image[T] {
	if len(data) != width*height {
		return nil
	}
	return &Image[T]{data: data, width: width, height: height}
}

// Width returns the number of columns.
func (i *Image[T]) Width() int {
	return i.width
}

// Height returns the number of rows.
func (i *Image[T]) Height() int {
	return i.height
}

// Bounds returns the image rectangle, anchored at the origin.
func (i *Image[T]) Bounds() image.Rectangle {
	return image.Rect(0, 0, i.width, i.height)
}

// In reports whether (x, y) lies inside the image.
func (i *Image[T]) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < i.width && y < i.height
}

func (i *Image[T]) kxy(x, y int) int {
	return (y * i.width) + x
}

// Get returns the pixel at (x, y).
func (i *Image[T]) Get(x, y int) T {
	return i.data[i.kxy(x, y)]
}

// Lookup is the bounds checked form of Get.
func (i *Image[T]) Lookup(x, y int) (T, bool) {
	if !i.In(x, y) {
		var zero T
		return zero, false
	}
	return i.data[i.kxy(x, y)], true
}

// Set writes the pixel at (x, y).
func (i *Image[T]) Set(x, y int, v T) {
	i.data[i.kxy(x, y)] = v
}

// Data exposes the row major backing slice.
func (i *Image[T]) Data() []T {
	return i.data
}

// Row returns the pixels of row y.
func (i *Image[T]) Row(y int) []T {
	return i.data[y*i.width : (y+1)*i.width]
}

// Clone returns a deep copy.
func (i *Image[T]) Clone() *Image[T] {
	data := make([]T, len(i.data))
	copy(data, i.data)
	return &Image[T]{data: data, width: i.width, height: i.height}
}

// Crop copies the part of the view inside rect into a new dense image. Parts of rect outside
// the view are filled with fill.
func Crop[T Pixel, V View[T]](v V, rect image.Rectangle, fill T) *Image[T] {
	out := NewImage[T](rect.Dx(), rect.Dy())
	for y := 0; y < out.height; y++ {
		for x := 0; x < out.width; x++ {
			sx, sy := x+rect.Min.X, y+rect.Min.Y
			if v.In(sx, sy) {
				out.data[out.kxy(x, y)] = v.Get(sx, sy)
			} else {
				out.data[out.kxy(x, y)] = fill
			}
		}
	}
	return out
}

// MaxValue is the value that maps to full intensity for the pixel type: the type maximum for
// integer pixels, 1 for floating point ones.
func MaxValue[T Pixel]() float64 {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return math.MaxUint8
	case uint16:
		return math.MaxUint16
	default:
		return 1
	}
}

// IsFloatPixel reports whether T is a floating point type, which can hold NaN.
func IsFloatPixel[T Pixel]() bool {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
		return true
	default:
		return false
	}
}

// IsNoData reports whether v should be treated as missing. A NaN nodata value only matches
// NaN pixels.
func IsNoData(v, nodata float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return !math.IsNaN(nodata) && v == nodata
}

// ToFloat32 renders any view into a dense float32 image scaled to [0, 1]. Pixels that are NaN
// or equal to nodata are written as 0 so they do not contribute to box filters.
func ToFloat32[T Pixel, V View[T]](v V, nodata float64) *Image[float32] {
	out := NewImage[float32](v.Width(), v.Height())
	scale := 1 / MaxValue[T]()
	for y := 0; y < out.height; y++ {
		row := out.Row(y)
		for x := range row {
			raw := float64(v.Get(x, y))
			if IsNoData(raw, nodata) {
				row[x] = 0
				continue
			}
			row[x] = float32(raw * scale)
		}
	}
	return out
}

// DynamicRange is the spread between the darkest and brightest valid pixels of v, on the same
// [0, 1] scale as ToFloat32. It is 0 when no pixel is valid.
func DynamicRange[T Pixel, V View[T]](v V, nodata float64) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for y := 0; y < v.Height(); y++ {
		for x := 0; x < v.Width(); x++ {
			raw := float64(v.Get(x, y))
			if IsNoData(raw, nodata) {
				continue
			}
			lo = math.Min(lo, raw)
			hi = math.Max(hi, raw)
		}
	}
	if hi < lo {
		return 0
	}
	return (hi - lo) / MaxValue[T]()
}
