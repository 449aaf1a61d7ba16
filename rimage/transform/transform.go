// Package transform contains 2-D coordinate transforms, homography estimation and the camera
// models used to relate two views of the same surface.
package transform

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
)

// Transform is an invertible 2-D coordinate mapping. Forward maps from the source frame into
// the destination frame; Reverse undoes it.
type Transform interface {
	Forward(p r2.Point) r2.Point
	Reverse(p r2.Point) r2.Point
}

// Identity is the transform that changes nothing.
type Identity struct{}

// Forward returns p.
func (Identity) Forward(p r2.Point) r2.Point { return p }

// Reverse returns p.
func (Identity) Reverse(p r2.Point) r2.Point { return p }

// Translation adds Offset going forward.
type Translation struct {
	Offset r2.Point
}

// NewTranslation returns a translation by (dx, dy).
func NewTranslation(dx, dy float64) Translation {
	return Translation{Offset: r2.Point{X: dx, Y: dy}}
}

// Forward shifts p by the offset.
func (t Translation) Forward(p r2.Point) r2.Point { return p.Add(t.Offset) }

// Reverse shifts p back.
func (t Translation) Reverse(p r2.Point) r2.Point { return p.Sub(t.Offset) }

// Scale multiplies coordinates going forward, as done when an image is resampled.
type Scale struct {
	X, Y float64
}

// NewScale returns an isotropic scale.
func NewScale(factor float64) Scale {
	return Scale{X: factor, Y: factor}
}

// Forward scales p.
func (s Scale) Forward(p r2.Point) r2.Point { return r2.Point{X: p.X * s.X, Y: p.Y * s.Y} }

// Reverse unscales p.
func (s Scale) Reverse(p r2.Point) r2.Point { return r2.Point{X: p.X / s.X, Y: p.Y / s.Y} }

// HomographyTransform applies H going forward and its inverse going back.
type HomographyTransform struct {
	H   Homography
	inv Homography
}

// NewHomographyTransform precomputes the inverse of h.
func NewHomographyTransform(h Homography) (*HomographyTransform, error) {
	inv, err := h.Inverse()
	if err != nil {
		return nil, err
	}
	return &HomographyTransform{H: h, inv: inv}, nil
}

// Forward applies H.
func (ht *HomographyTransform) Forward(p r2.Point) r2.Point { return ht.H.Apply(p) }

// Reverse applies the inverse of H.
func (ht *HomographyTransform) Reverse(p r2.Point) r2.Point { return ht.inv.Apply(p) }

type composed []Transform

// Compose chains transforms so that Forward applies the last one first:
// Compose(a, b).Forward(p) == a.Forward(b.Forward(p)).
func Compose(ts ...Transform) Transform {
	return composed(ts)
}

func (c composed) Forward(p r2.Point) r2.Point {
	for i := len(c) - 1; i >= 0; i-- {
		p = c[i].Forward(p)
	}
	return p
}

func (c composed) Reverse(p r2.Point) r2.Point {
	for _, t := range c {
		p = t.Reverse(p)
	}
	return p
}

type inverted struct {
	t Transform
}

// Inverse swaps the directions of t.
func Inverse(t Transform) Transform {
	if inv, ok := t.(inverted); ok {
		return inv.t
	}
	return inverted{t}
}

func (i inverted) Forward(p r2.Point) r2.Point { return i.t.Reverse(p) }

func (i inverted) Reverse(p r2.Point) r2.Point { return i.t.Forward(p) }

// bboxSamplesPerEdge is how many points along each edge are mapped when transforming a box.
const bboxSamplesPerEdge = 16

// ForwardBBox returns the smallest pixel box holding the forward image of every pixel of r,
// estimated from points sampled along the edges and the interior of r.
func ForwardBBox(t Transform, r image.Rectangle) image.Rectangle {
	return mapBBox(t.Forward, r)
}

// ReverseBBox is ForwardBBox in the reverse direction.
func ReverseBBox(t Transform, r image.Rectangle) image.Rectangle {
	return mapBBox(t.Reverse, r)
}

func mapBBox(f func(r2.Point) r2.Point, r image.Rectangle) image.Rectangle {
	if r.Empty() {
		return image.Rectangle{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	x0, y0 := float64(r.Min.X), float64(r.Min.Y)
	x1, y1 := float64(r.Max.X-1), float64(r.Max.Y-1)
	for i := 0; i <= bboxSamplesPerEdge; i++ {
		fy := y0 + (y1-y0)*float64(i)/bboxSamplesPerEdge
		for j := 0; j <= bboxSamplesPerEdge; j++ {
			fx := x0 + (x1-x0)*float64(j)/bboxSamplesPerEdge
			p := f(r2.Point{X: fx, Y: fy})
			if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
				continue
			}
			minX = math.Min(minX, p.X)
			minY = math.Min(minY, p.Y)
			maxX = math.Max(maxX, p.X)
			maxY = math.Max(maxY, p.Y)
		}
	}
	if math.IsInf(minX, 1) {
		return image.Rectangle{}
	}
	return image.Rect(
		int(math.Floor(minX)), int(math.Floor(minY)),
		int(math.Floor(maxX))+1, int(math.Floor(maxY))+1,
	)
}
