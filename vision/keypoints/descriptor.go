package keypoints

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"go.viam.com/ipmatch/rimage"
)

// DescriptorGenerator attaches a fixed length descriptor to every point of a list.
type DescriptorGenerator interface {
	// Describe sets the Descriptor of each point from img.
	Describe(img *rimage.Image[float32], pts InterestPoints)
	// Size is the descriptor length.
	Size() int
}

const (
	gradCells          = 4
	gradSamplesPerCell = 5
	gradSamples        = gradCells * gradSamplesPerCell
	// gradSigma weights samples, in sample units, around the point.
	gradSigma = 3.3
	gradLength = gradCells * gradCells * 4

	// contrastWeight and scaleWeight weight the log blob contrast and log blob scale appended
	// to the gradient summary. Isolated blobs have near identical gradient summaries, so these
	// are what tell them apart.
	contrastWeight = 1
	scaleWeight    = 2
	minLogArg      = 1e-6
)

// GradientDescriptor summarizes image gradients on a 4x4 grid of cells around the point. Each
// cell contributes the weighted sums of dx, dy, |dx| and |dy|, and the 64 values are scaled
// to unit length. The grid spacing follows the point scale and samples are interpolated at
// the sub-pixel location; orientation is not used. Two more values follow: the log of the
// detector response relative to the brightest pixel, and the log of the scale.
type GradientDescriptor struct{}

// Size is the descriptor length.
func (GradientDescriptor) Size() int {
	return gradLength + 2
}

// Describe computes descriptors for pts on img.
func (g GradientDescriptor) Describe(img *rimage.Image[float32], pts InterestPoints) {
	brightest := 0.
	for _, v := range img.Data() {
		brightest = math.Max(brightest, float64(v))
	}
	for i := range pts {
		pts[i].Descriptor = g.describe(img, &pts[i], brightest)
	}
}

func (g GradientDescriptor) describe(img *rimage.Image[float32], ip *InterestPoint, brightest float64) []float32 {
	desc := make([]float64, g.Size())
	step := math.Max(1, float64(ip.Scale))
	center := float64(gradSamples-1) / 2
	for i := 0; i < gradSamples; i++ {
		sy := float64(ip.Y) + (float64(i)-center)*step
		for j := 0; j < gradSamples; j++ {
			sx := float64(ip.X) + (float64(j)-center)*step
			dx := bilinear(img, sx+1, sy) - bilinear(img, sx-1, sy)
			dy := bilinear(img, sx, sy+1) - bilinear(img, sx, sy-1)
			r2 := (float64(i)-center)*(float64(i)-center) + (float64(j)-center)*(float64(j)-center)
			w := math.Exp(-r2 / (2 * gradSigma * gradSigma))
			cell := (i/gradSamplesPerCell)*gradCells + j/gradSamplesPerCell
			desc[cell*4] += w * dx
			desc[cell*4+1] += w * dy
			desc[cell*4+2] += w * math.Abs(dx)
			desc[cell*4+3] += w * math.Abs(dy)
		}
	}
	grads := desc[:gradLength]
	if n := floats.Norm(grads, 2); n > 0 {
		floats.Scale(1/n, grads)
	}
	contrast := math.Abs(float64(ip.Interest))
	if brightest > 0 {
		contrast /= brightest
	}
	desc[gradLength] = contrastWeight * math.Log(math.Max(contrast, minLogArg))
	desc[gradLength+1] = scaleWeight * math.Log(math.Max(float64(ip.Scale), minLogArg))
	out := make([]float32, len(desc))
	for i, v := range desc {
		out[i] = float32(v)
	}
	return out
}

// bilinear interpolates img at (x, y), clamping to the frame.
func bilinear(img *rimage.Image[float32], x, y float64) float64 {
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := x-x0, y-y0
	ix, iy := int(x0), int(y0)
	top := (1-fx)*clampedGet(img, ix, iy) + fx*clampedGet(img, ix+1, iy)
	bottom := (1-fx)*clampedGet(img, ix, iy+1) + fx*clampedGet(img, ix+1, iy+1)
	return (1-fy)*top + fy*bottom
}

func clampedGet(img *rimage.Image[float32], x, y int) float64 {
	if x < 0 {
		x = 0
	} else if x >= img.Width() {
		x = img.Width() - 1
	}
	if y < 0 {
		y = 0
	} else if y >= img.Height() {
		y = img.Height() - 1
	}
	return float64(img.Get(x, y))
}

// AssignDescriptors renders v the way the detector sees it and describes pts on it.
func AssignDescriptors[T rimage.Pixel, V rimage.View[T]](gen DescriptorGenerator, v V, nodata float64, pts InterestPoints) {
	if len(pts) == 0 || v.Width() == 0 || v.Height() == 0 {
		return
	}
	gen.Describe(rimage.ToFloat32[T](v, nodata), pts)
}

// Float64Descriptors converts the descriptors of pts for use with gonum.
func Float64Descriptors(pts InterestPoints) [][]float64 {
	out := make([][]float64, len(pts))
	for i := range pts {
		d := make([]float64, len(pts[i].Descriptor))
		for j, v := range pts[i].Descriptor {
			d[j] = float64(v)
		}
		out[i] = d
	}
	return out
}
