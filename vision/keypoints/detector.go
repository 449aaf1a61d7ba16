package keypoints

import (
	"context"
	"math"
	"time"

	"github.com/edaniels/golog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"go.viam.com/ipmatch/rimage"
)

// minDetectSize is the smallest width or height that leaves room for the 26 neighbor scan.
const minDetectSize = 5

// FloatScale is the blob scale, as a Gaussian sigma in pixels, reported for scale index s.
func FloatScale(s int) float32 {
	return fractionalScale(float32(s))
}

func fractionalScale(s float32) float32 {
	return (s + 1.5) / 1.15
}

// boxLoGResponse fills out with a box approximation of the scale normalized negative
// Laplacian of Gaussian at scale index s: the mean of the (2h+1)^2 box around each pixel minus
// the mean of the ring between it and the (4h+1)^2 box, h = s+1. Boxes are clipped to the
// image, so bright blobs give positive responses.
func boxLoGResponse(ii *rimage.IntegralImage, s int, out *rimage.Image[float32]) {
	h := s + 1
	outer := 2 * h
	for y := 0; y < out.Height(); y++ {
		row := out.Row(y)
		for x := range row {
			innerSum, innerArea := ii.BoxSum(x-h, y-h, x+h+1, y+h+1)
			outerSum, outerArea := ii.BoxSum(x-outer, y-outer, x+outer+1, y+outer+1)
			ringArea := outerArea - innerArea
			if innerArea == 0 || ringArea == 0 {
				row[x] = 0
				continue
			}
			row[x] = float32(innerSum/float64(innerArea) - (outerSum-innerSum)/float64(ringArea))
		}
	}
}

// IntegralBlobDetector finds bright blobs as maxima of a box filtered Laplacian of Gaussian
// scale space built from one integral image.
type IntegralBlobDetector struct {
	cfg    DetectorConfig
	logger golog.Logger
}

// NewIntegralBlobDetector returns a detector using cfg, or the defaults when cfg is nil.
func NewIntegralBlobDetector(cfg *DetectorConfig, logger golog.Logger) *IntegralBlobDetector {
	if cfg == nil {
		cfg = NewDefaultDetectorConfig()
	}
	return &IntegralBlobDetector{cfg: *cfg, logger: logger}
}

// Config returns a copy of the detector settings.
func (d *IntegralBlobDetector) Config() DetectorConfig {
	return d.cfg
}

// Detect finds interest points in v. Pixels equal to nodata (or NaN) are treated as 0. The
// configured threshold is relative to the dynamic range of the valid pixels, so 12 bit data
// in 16 bit pixels behaves like the same scene stretched to full range. When maxPoints is
// positive only the maxPoints strongest points are kept. Images too small to scan yield no
// points.
func Detect[T rimage.Pixel, V rimage.View[T]](d *IntegralBlobDetector, v V, nodata float64, maxPoints int) InterestPoints {
	w, h := v.Width(), v.Height()
	if w < minDetectSize || h < minDetectSize {
		d.logger.Debugw("image too small for detection", "width", w, "height", h)
		return InterestPoints{}
	}
	start := time.Now()
	buf := rimage.ToFloat32[T](v, nodata)
	ii := rimage.NewIntegralImage[float32](buf)
	threshold := d.cfg.Threshold * rimage.DynamicRange[T](v, nodata)
	d.logger.Debugw("built integral image", "width", w, "height", h, "threshold", threshold,
		"elapsed", time.Since(start))

	// only three consecutive levels are ever needed; level s lives in slot s%3
	var levels [3]*rimage.Image[float32]
	for i := range levels {
		levels[i] = rimage.NewImage[float32](w, h)
	}
	points := InterestPoints{}
	for s := 0; s < d.cfg.NumScales; s++ {
		levelStart := time.Now()
		boxLoGResponse(ii, s, levels[s%3])
		if s < 2 {
			continue
		}
		found := scanMaxima(levels[(s-2)%3], levels[(s-1)%3], levels[s%3], s-1)
		kept := lo.Filter(found, func(ip InterestPoint, _ int) bool {
			return math.Abs(float64(ip.Interest)) > threshold
		})
		points = append(points, kept...)
		d.logger.Debugw("scanned scale", "scale", s-1, "maxima", len(found), "kept", len(kept),
			"elapsed", time.Since(levelStart))
	}

	if maxPoints > 0 && len(points) > maxPoints {
		SortInterestPoints(points)
		d.logger.Debugw("culling interest points", "found", len(points), "max", maxPoints,
			"min_kept_interest", points[maxPoints-1].Interest)
		points = points[:maxPoints]
	}
	d.logger.Debugw("detection done", "points", len(points), "elapsed", time.Since(start))
	return points
}

// maxOffset keeps a refined location closer to its own pixel than to any neighbor.
const maxOffset = 0.49

// scanMaxima returns the pixels of mid that are strictly greater than all 26 neighbors across
// the three levels. The one pixel border of the frame is not scanned. Location, scale and
// response are refined by fitting a parabola through each maximum and its neighbors along x,
// y and scale; Ix, Iy and ScaleLevel keep the sampled maximum.
func scanMaxima(low, mid, high *rimage.Image[float32], scale int) InterestPoints {
	w, h := mid.Width(), mid.Height()
	var out InterestPoints
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			v := mid.Get(x, y)
			if !isStrictMax(v, x, y, mid, true) || !isStrictMax(v, x, y, low, false) || !isStrictMax(v, x, y, high, false) {
				continue
			}
			dx, gx := parabolaPeak(mid.Get(x-1, y), v, mid.Get(x+1, y))
			dy, gy := parabolaPeak(mid.Get(x, y-1), v, mid.Get(x, y+1))
			ds, _ := parabolaPeak(low.Get(x, y), v, high.Get(x, y))
			ip := NewInterestPoint(x, y, fractionalScale(float32(scale)+ds), v+gx+gy)
			ip.X += dx
			ip.Y += dy
			ip.ScaleLevel = uint32(scale)
			out = append(out, ip)
		}
	}
	return out
}

// parabolaPeak returns the offset of the vertex of the parabola through (-1, m), (0, c) and
// (1, p), where c is a strict maximum, and how much the vertex rises above c.
func parabolaPeak(m, c, p float32) (float32, float32) {
	curv := m - 2*c + p
	if curv >= 0 {
		return 0, 0
	}
	off := (m - p) / (2 * curv)
	if off > maxOffset {
		off = maxOffset
	} else if off < -maxOffset {
		off = -maxOffset
	}
	return off, 0.25 * (p - m) * off
}

func isStrictMax(v float32, x, y int, level *rimage.Image[float32], skipCenter bool) bool {
	for dy := -1; dy <= 1; dy++ {
		row := level.Row(y + dy)
		for dx := -1; dx <= 1; dx++ {
			if skipCenter && dx == 0 && dy == 0 {
				continue
			}
			if row[x+dx] >= v {
				return false
			}
		}
	}
	return true
}

// DetectPair detects points in both images of a pair concurrently.
func DetectPair[T rimage.Pixel, VA rimage.View[T], VB rimage.View[T]](
	ctx context.Context,
	d *IntegralBlobDetector,
	imgA VA,
	imgB VB,
	nodataA, nodataB float64,
	maxPoints int,
) (InterestPoints, InterestPoints, error) {
	var ptsA, ptsB InterestPoints
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ptsA = Detect[T](d, imgA, nodataA, maxPoints)
		return nil
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ptsB = Detect[T](d, imgB, nodataB, maxPoints)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ptsA, ptsB, nil
}
