package keypoints

import (
	"image"

	"github.com/fogleman/gg"
	"github.com/pkg/errors"
)

// PlotInterestPoints draws the points on img as circles sized by their scale and saves the
// result as a PNG.
func PlotInterestPoints(img image.Image, pts InterestPoints, outName string) error {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	dc := gg.NewContext(w, h)
	dc.DrawImage(img, 0, 0)

	// draw points on image
	dc.SetRGBA(0, 0, 1, 0.5)
	for _, p := range pts {
		dc.DrawCircle(float64(p.X), float64(p.Y), 2*float64(p.Scale)+1)
		dc.Fill()
	}
	return dc.SavePNG(outName)
}

// PlotMatches draws imgA and imgB side by side and joins each matched pair with a line.
func PlotMatches(imgA, imgB image.Image, ptsA, ptsB InterestPoints, outName string) error {
	if len(ptsA) != len(ptsB) {
		return errors.Errorf("match lists differ in length: %d vs %d", len(ptsA), len(ptsB))
	}
	wA, hA := imgA.Bounds().Dx(), imgA.Bounds().Dy()
	wB, hB := imgB.Bounds().Dx(), imgB.Bounds().Dy()
	dc := gg.NewContext(wA+wB, max(hA, hB))
	dc.DrawImage(imgA, 0, 0)
	dc.DrawImage(imgB, wA, 0)

	dc.SetLineWidth(1)
	for i := range ptsA {
		xA, yA := float64(ptsA[i].X), float64(ptsA[i].Y)
		xB, yB := float64(ptsB[i].X)+float64(wA), float64(ptsB[i].Y)
		dc.SetRGBA(0, 1, 0, 0.7)
		dc.DrawLine(xA, yA, xB, yB)
		dc.Stroke()
		dc.SetRGBA(1, 0, 0, 0.8)
		dc.DrawCircle(xA, yA, 3)
		dc.DrawCircle(xB, yB, 3)
		dc.Fill()
	}
	return dc.SavePNG(outName)
}
