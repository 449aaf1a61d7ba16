// Package stereo matches interest points between two images of the same surface, using camera
// geometry and a reference datum to reject false correspondences.
package stereo

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/ipmatch/rimage/transform"
	ipmutils "go.viam.com/ipmatch/utils"
	"go.viam.com/ipmatch/vision/keypoints"
)

// DefaultMinInliers is the smallest inlier cluster the triangulation filter accepts.
const DefaultMinInliers = 5

// MatchingConfig contains the parameters of the pair matching pipeline.
type MatchingConfig struct {
	// RatioThreshold is the descriptor distance ratio test threshold.
	RatioThreshold float64 `json:"ratio_threshold"`
	// EpipolarThresholdPx is the largest distance of a candidate from the epipolar line. Zero
	// means a twentieth of the image diagonal.
	EpipolarThresholdPx float64 `json:"epipolar_threshold_px"`
	// NodataLeft and NodataRight are the no-data values of each image. Unset means NaN.
	NodataLeft  *float64 `json:"nodata_left,omitempty"`
	NodataRight *float64 `json:"nodata_right,omitempty"`
	// RANSACIterations is the number of homography trials; zero uses the default.
	RANSACIterations int `json:"ransac_iterations"`
	// MinInliers is the smallest cluster the triangulation filter accepts.
	MinInliers int                       `json:"min_inliers"`
	Detector   *keypoints.DetectorConfig `json:"detector"`
	// TransformToOriginal writes matches in original image coordinates instead of the
	// coordinates of the processed images.
	TransformToOriginal bool `json:"transform_to_original"`
}

// NewDefaultMatchingConfig returns the stock pipeline settings.
func NewDefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		RatioThreshold:      keypoints.DefaultRatioThreshold,
		RANSACIterations:    transform.DefaultRANSACIterations,
		MinInliers:          DefaultMinInliers,
		Detector:            keypoints.NewDefaultDetectorConfig(),
		TransformToOriginal: true,
	}
}

// LoadMatchingConfig loads a MatchingConfig from a json file. Missing fields take their default
// values.
func LoadMatchingConfig(path string) (*MatchingConfig, error) {
	config := NewDefaultMatchingConfig()
	configFile, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "cannot open matching config")
	}
	defer utils.UncheckedErrorFunc(configFile.Close)
	if err := json.NewDecoder(configFile).Decode(config); err != nil {
		return nil, errors.Wrapf(err, "cannot decode matching config %q", path)
	}
	if err := config.Validate(path); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate ensures all parts of the MatchingConfig are valid.
func (config *MatchingConfig) Validate(path string) error {
	if config.RatioThreshold <= 0 || config.RatioThreshold > 1 {
		return utils.NewConfigValidationError(path,
			ipmutils.NewOutOfRangeError("ratio_threshold", config.RatioThreshold, 0, 1))
	}
	if config.EpipolarThresholdPx < 0 {
		return utils.NewConfigValidationError(path, errors.New("epipolar_threshold_px should be >= 0"))
	}
	if config.RANSACIterations < 0 {
		return utils.NewConfigValidationError(path, errors.New("ransac_iterations should be >= 0"))
	}
	if config.MinInliers < 0 {
		return utils.NewConfigValidationError(path, errors.New("min_inliers should be >= 0"))
	}
	if config.Detector == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "detector")
	}
	return config.Detector.Validate(path + ".detector")
}

// NodataA returns the left no-data value, NaN when unset.
func (config *MatchingConfig) NodataA() float64 {
	return nodataOrNaN(config.NodataLeft)
}

// NodataB returns the right no-data value, NaN when unset.
func (config *MatchingConfig) NodataB() float64 {
	return nodataOrNaN(config.NodataRight)
}

func nodataOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// epipolarThreshold resolves the configured threshold for an image of the given size.
func (config *MatchingConfig) epipolarThreshold(width, height int) float64 {
	if config.EpipolarThresholdPx > 0 {
		return config.EpipolarThresholdPx
	}
	return math.Hypot(float64(width), float64(height)) / 20
}
