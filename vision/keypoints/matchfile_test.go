package keypoints

import (
	"bytes"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/ipmatch/rimage"
)

func randomPoints(r *rand.Rand, n, descSize int) InterestPoints {
	pts := make(InterestPoints, n)
	for i := range pts {
		pts[i] = InterestPoint{
			X:           r.Float32() * 1000,
			Y:           r.Float32() * 1000,
			Ix:          int32(r.Intn(1000)),
			Iy:          int32(r.Intn(1000)),
			Orientation: r.Float32(),
			Scale:       r.Float32() * 8,
			Interest:    r.Float32() - 0.5,
			Polarity:    r.Intn(2) == 0,
			Octave:      uint32(r.Intn(4)),
			ScaleLevel:  uint32(r.Intn(8)),
		}
		if descSize > 0 {
			pts[i].Descriptor = make([]float32, descSize)
			for j := range pts[i].Descriptor {
				pts[i].Descriptor[j] = r.Float32()
			}
		}
	}
	return pts
}

func TestMatchFileRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	dir := t.TempDir()
	for _, n := range []int{0, 1, 2500} {
		pts1 := randomPoints(r, n, 64)
		pts2 := randomPoints(r, n, 64)
		path := filepath.Join(dir, "pair.match")
		test.That(t, WriteBinaryMatchFile(path, pts1, pts2), test.ShouldBeNil)

		info, err := os.Stat(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.Size(), test.ShouldEqual, int64(16+2*n*(45+4*64)))

		got1, got2, err := ReadBinaryMatchFile(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(got1), test.ShouldEqual, n)
		test.That(t, len(got2), test.ShouldEqual, n)
		test.That(t, got1, test.ShouldResemble, pts1)
		test.That(t, got2, test.ShouldResemble, pts2)
	}
}

func TestMatchFileEncoding(t *testing.T) {
	ip := InterestPoint{X: 1.5, Y: -2, Ix: 2, Iy: -2, Scale: 3, Interest: 0.25, Polarity: true, ScaleLevel: 2}
	var buf bytes.Buffer
	test.That(t, WriteMatches(&buf, InterestPoints{ip}, nil), test.ShouldBeNil)
	raw := buf.Bytes()
	test.That(t, len(raw), test.ShouldEqual, 16+45)
	// header counts
	test.That(t, raw[0], test.ShouldEqual, byte(1))
	test.That(t, raw[8], test.ShouldEqual, byte(0))
	// x = 1.5f little endian
	test.That(t, raw[16:20], test.ShouldResemble, []byte{0x00, 0x00, 0xc0, 0x3f})
	// polarity byte follows seven 4 byte fields
	test.That(t, raw[16+28], test.ShouldEqual, byte(1))

	pts1, pts2, err := ReadMatches(bytes.NewReader(raw))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts1, test.ShouldResemble, InterestPoints{ip})
	test.That(t, len(pts2), test.ShouldEqual, 0)

	// truncated input
	_, _, err = ReadMatches(bytes.NewReader(raw[:30]))
	test.That(t, err, test.ShouldNotBeNil)
	_, _, err = ReadMatches(bytes.NewReader(raw[:4]))
	test.That(t, err, test.ShouldNotBeNil)

	// absurd descriptor length
	corrupt := append([]byte(nil), raw...)
	for i := 16 + 37; i < 16+45; i++ {
		corrupt[i] = 0xff
	}
	_, _, err = ReadMatches(bytes.NewReader(corrupt))
	test.That(t, err, test.ShouldNotBeNil)

	_, _, err = ReadBinaryMatchFile(filepath.Join(t.TempDir(), "missing.match"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRemoveNearNoData(t *testing.T) {
	img := rimage.NewImage[float32](10, 10)
	for i := range img.Data() {
		img.Data()[i] = 0.5
	}
	img.Set(5, 5, -1)
	img.Set(8, 2, float32(math.NaN()))
	pts := InterestPoints{
		NewInterestPoint(0, 4, 1, 1), // border
		NewInterestPoint(9, 4, 1, 1), // border
		NewInterestPoint(4, 4, 1, 1), // next to -1
		NewInterestPoint(6, 6, 1, 1), // next to -1
		NewInterestPoint(7, 3, 1, 1), // next to NaN
		NewInterestPoint(2, 2, 1, 1),
		NewInterestPoint(3, 7, 1, 1),
	}
	kept := RemoveNearNoData[float32](img, -1, pts)
	test.That(t, len(kept), test.ShouldEqual, 2)
	test.That(t, kept[0].Ix, test.ShouldEqual, int32(2))
	test.That(t, kept[1].Ix, test.ShouldEqual, int32(3))

	// with a NaN sentinel only NaN pixels and the border count
	kept = RemoveNearNoData[float32](img, math.NaN(), pts)
	test.That(t, len(kept), test.ShouldEqual, 4)
}

func TestDetectorConfig(t *testing.T) {
	cfg := NewDefaultDetectorConfig()
	test.That(t, cfg.Validate("cfg"), test.ShouldBeNil)
	test.That(t, cfg.NumScales, test.ShouldEqual, 8)
	test.That(t, cfg.Threshold, test.ShouldEqual, 0.03)

	cfg.NumScales = 2
	test.That(t, cfg.Validate("cfg"), test.ShouldNotBeNil)
	cfg.NumScales = 8
	cfg.Threshold = -1
	test.That(t, cfg.Validate("cfg"), test.ShouldNotBeNil)

	dir := t.TempDir()
	path := filepath.Join(dir, "detector.json")
	test.That(t, os.WriteFile(path, []byte(`{"n_scales": 6, "max_points": 300}`), 0o600), test.ShouldBeNil)
	loaded, err := LoadDetectorConfig(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.NumScales, test.ShouldEqual, 6)
	test.That(t, loaded.MaxPoints, test.ShouldEqual, 300)
	test.That(t, loaded.Threshold, test.ShouldEqual, DefaultThreshold)

	test.That(t, os.WriteFile(path, []byte(`{"n_scales": 100}`), 0o600), test.ShouldBeNil)
	_, err = LoadDetectorConfig(path)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = LoadDetectorConfig(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPlot(t *testing.T) {
	img := blobImage(64, 48, blob{20, 20, 3, 1})
	gray := rimage.ToStdGray(img)
	pts := InterestPoints{NewInterestPoint(20, 20, 3, 0.5)}
	dir := t.TempDir()
	test.That(t, PlotInterestPoints(gray, pts, filepath.Join(dir, "points.png")), test.ShouldBeNil)
	test.That(t, PlotMatches(gray, gray, pts, pts, filepath.Join(dir, "matches.png")), test.ShouldBeNil)
	test.That(t, PlotMatches(gray, gray, pts, nil, filepath.Join(dir, "bad.png")), test.ShouldNotBeNil)
	_, err := os.Stat(filepath.Join(dir, "matches.png"))
	test.That(t, err, test.ShouldBeNil)
}
