package rimage

// IntegralImage holds prefix sums of an image so that the sum over any axis aligned box
// can be read in constant time. Sums are kept in float64 to bound accumulated error on
// large images.
type IntegralImage struct {
	sums          []float64
	width, height int
}

// NewIntegralImage builds the integral image of v.
func NewIntegralImage[T Pixel, V View[T]](v V) *IntegralImage {
	w, h := v.Width(), v.Height()
	ii := &IntegralImage{
		sums:   make([]float64, (w+1)*(h+1)),
		width:  w,
		height: h,
	}
	stride := w + 1
	for y := 0; y < h; y++ {
		rowSum := 0.0
		for x := 0; x < w; x++ {
			rowSum += float64(v.Get(x, y))
			ii.sums[(y+1)*stride+x+1] = ii.sums[y*stride+x+1] + rowSum
		}
	}
	return ii
}

// Width of the source image.
func (ii *IntegralImage) Width() int {
	return ii.width
}

// Height of the source image.
func (ii *IntegralImage) Height() int {
	return ii.height
}

// BoxSum returns the sum of the source pixels in [x0, x1) x [y0, y1) after clipping the box
// to the image, along with the number of pixels summed.
func (ii *IntegralImage) BoxSum(x0, y0, x1, y1 int) (float64, int) {
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > ii.width {
		x1 = ii.width
	}
	if y1 > ii.height {
		y1 = ii.height
	}
	if x1 <= x0 || y1 <= y0 {
		return 0, 0
	}
	stride := ii.width + 1
	sum := ii.sums[y1*stride+x1] - ii.sums[y0*stride+x1] - ii.sums[y1*stride+x0] + ii.sums[y0*stride+x0]
	return sum, (x1 - x0) * (y1 - y0)
}

// BoxMean returns the mean of the clipped box, or 0 when the box is empty.
func (ii *IntegralImage) BoxMean(x0, y0, x1, y1 int) float64 {
	sum, area := ii.BoxSum(x0, y0, x1, y1)
	if area == 0 {
		return 0
	}
	return sum / float64(area)
}
