package stereo

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/ipmatch/vision/keypoints"
)

func TestMatchingConfig(t *testing.T) {
	cfg := NewDefaultMatchingConfig()
	test.That(t, cfg.Validate("cfg"), test.ShouldBeNil)
	test.That(t, cfg.RatioThreshold, test.ShouldEqual, keypoints.DefaultRatioThreshold)
	test.That(t, cfg.TransformToOriginal, test.ShouldBeTrue)
	test.That(t, math.IsNaN(cfg.NodataA()), test.ShouldBeTrue)
	test.That(t, math.IsNaN(cfg.NodataB()), test.ShouldBeTrue)
	test.That(t, cfg.epipolarThreshold(300, 400), test.ShouldAlmostEqual, 25)
	cfg.EpipolarThresholdPx = 7
	test.That(t, cfg.epipolarThreshold(300, 400), test.ShouldEqual, 7.)

	for _, bad := range []func(*MatchingConfig){
		func(c *MatchingConfig) { c.RatioThreshold = 0 },
		func(c *MatchingConfig) { c.RatioThreshold = 1.5 },
		func(c *MatchingConfig) { c.EpipolarThresholdPx = -1 },
		func(c *MatchingConfig) { c.RANSACIterations = -3 },
		func(c *MatchingConfig) { c.MinInliers = -1 },
		func(c *MatchingConfig) { c.Detector = nil },
		func(c *MatchingConfig) { c.Detector.NumScales = 2 },
	} {
		c := NewDefaultMatchingConfig()
		bad(c)
		test.That(t, c.Validate("cfg"), test.ShouldNotBeNil)
	}
}

func TestLoadMatchingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matching.json")
	test.That(t, os.WriteFile(path, []byte(`{
		"ratio_threshold": 0.6,
		"nodata_left": -32768,
		"detector": {"n_scales": 6, "threshold": 0.05, "max_points": 100}
	}`), 0o600), test.ShouldBeNil)

	cfg, err := LoadMatchingConfig(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.RatioThreshold, test.ShouldEqual, 0.6)
	test.That(t, cfg.NodataA(), test.ShouldEqual, -32768.)
	test.That(t, math.IsNaN(cfg.NodataB()), test.ShouldBeTrue)
	test.That(t, cfg.Detector.NumScales, test.ShouldEqual, 6)
	test.That(t, cfg.Detector.MaxPoints, test.ShouldEqual, 100)
	// untouched fields keep their defaults
	test.That(t, cfg.MinInliers, test.ShouldEqual, DefaultMinInliers)
	test.That(t, cfg.TransformToOriginal, test.ShouldBeTrue)

	test.That(t, os.WriteFile(path, []byte(`{"ratio_threshold": 3}`), 0o600), test.ShouldBeNil)
	_, err = LoadMatchingConfig(path)
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, os.WriteFile(path, []byte(`{`), 0o600), test.ShouldBeNil)
	_, err = LoadMatchingConfig(path)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = LoadMatchingConfig(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}
