package keypoints

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	ipmutils "go.viam.com/ipmatch/utils"
)

const (
	// DefaultNumScales is the number of box filter scales evaluated.
	DefaultNumScales = 8
	// DefaultThreshold is the minimum response magnitude as a fraction of the image's dynamic
	// range.
	DefaultThreshold = 0.03
	// maxNumScales bounds the kernel growth; larger boxes only see the image mean.
	maxNumScales = 64
)

// DetectorConfig contains the parameters of the integral blob detector.
type DetectorConfig struct {
	NumScales int `json:"n_scales"`
	// Threshold is relative to the spread between the darkest and brightest valid pixels.
	Threshold float64 `json:"threshold"`
	// MaxPoints caps the number of points kept per image. Pipelines read 0 as a budget derived
	// from the image size and a negative value as no cap.
	MaxPoints int `json:"max_points"`
}

// NewDefaultDetectorConfig returns the stock detector settings with no point budget.
func NewDefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		NumScales: DefaultNumScales,
		Threshold: DefaultThreshold,
	}
}

// LoadDetectorConfig loads a DetectorConfig from a json file. Missing fields take their
// default values.
func LoadDetectorConfig(file string) (*DetectorConfig, error) {
	config := NewDefaultDetectorConfig()
	filePath := filepath.Clean(file)
	configFile, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open detector config")
	}
	defer utils.UncheckedErrorFunc(configFile.Close)
	if err := json.NewDecoder(configFile).Decode(config); err != nil {
		return nil, errors.Wrapf(err, "cannot decode detector config %q", file)
	}
	if err := config.Validate(file); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate ensures all parts of the DetectorConfig are valid.
func (config *DetectorConfig) Validate(path string) error {
	if config.NumScales < 3 || config.NumScales > maxNumScales {
		return utils.NewConfigValidationError(path,
			ipmutils.NewOutOfRangeError("n_scales", float64(config.NumScales), 3, maxNumScales))
	}
	if config.Threshold < 0 {
		return utils.NewConfigValidationError(path, errors.New("threshold should be >= 0"))
	}
	return nil
}

// PointsPerTile is the point budget for an image of the given size: 5000 points per
// 1024x1024 tile worth of pixels, scaled down for larger images and kept within [50, 5000].
func PointsPerTile(width, height int) int {
	tiles := (float64(width) / 1024) * (float64(height) / 1024)
	if tiles <= 0 {
		return 5000
	}
	n := 5000 / tiles
	if n > 5000 {
		return 5000
	}
	return ipmutils.Clamp(int(n), 50, 5000)
}
