package transform

import (
	"math"

	"github.com/golang/geo/r2"

	"go.viam.com/ipmatch/rimage"
)

// WarpImage renders src into a width x height image whose pixel p takes the value of the
// source pixel nearest to tx.Reverse(p); tx maps source pixels into the output frame. Output
// pixels that fall outside src are set to fill.
func WarpImage[T rimage.Pixel, V rimage.View[T]](src V, tx Transform, width, height int, fill T) *rimage.Image[T] {
	out := rimage.NewImage[T](width, height)
	for y := 0; y < height; y++ {
		row := out.Row(y)
		for x := range row {
			s := tx.Reverse(r2.Point{X: float64(x), Y: float64(y)})
			if math.IsNaN(s.X) || math.IsNaN(s.Y) {
				row[x] = fill
				continue
			}
			sx, sy := int(math.Round(s.X)), int(math.Round(s.Y))
			if !src.In(sx, sy) {
				row[x] = fill
				continue
			}
			row[x] = src.Get(sx, sy)
		}
	}
	return out
}
