package keypoints

import (
	"github.com/samber/lo"

	"go.viam.com/ipmatch/rimage"
)

// RemoveNearNoData drops points on the one pixel border of v and points with a no-data pixel
// in their 3x3 neighborhood. Nothing is removed when nodata is NaN and v holds no NaNs.
func RemoveNearNoData[T rimage.Pixel, V rimage.View[T]](v V, nodata float64, pts InterestPoints) InterestPoints {
	w, h := v.Width(), v.Height()
	return lo.Filter(pts, func(ip InterestPoint, _ int) bool {
		x, y := int(ip.Ix), int(ip.Iy)
		if x < 1 || y < 1 || x >= w-1 || y >= h-1 {
			return false
		}
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if rimage.IsNoData(float64(v.Get(x+dx, y+dy)), nodata) {
					return false
				}
			}
		}
		return true
	})
}
