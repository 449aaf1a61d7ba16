// Package cli contains the ipmatch command line application.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"go.viam.com/ipmatch/cartography"
	"go.viam.com/ipmatch/rimage"
	"go.viam.com/ipmatch/rimage/transform"
	"go.viam.com/ipmatch/vision/keypoints"
	"go.viam.com/ipmatch/vision/stereo"
)

const (
	// Flags.
	flagDebug        = "debug"
	flagQuiet        = "quiet"
	flagConfig       = "config"
	flagDetectorCfg  = "detector-config"
	flagRender       = "render"
	flagImage        = "image"
	flagLeft         = "left"
	flagRight        = "right"
	flagLeftCamera   = "left-camera"
	flagRightCamera  = "right-camera"
	flagDatum        = "datum"
	flagDatumRadius  = "datum-radius"
	flagOutput       = "output"
	flagPlot         = "plot"
	flagNodata       = "nodata"
	flagNodataLeft   = "nodata-left"
	flagNodataRight  = "nodata-right"
	flagMaxPoints    = "max-points"
	flagRatio        = "ratio"
	flagScale        = "scale"
	flagAlign        = "align"
	flagSkipNoMatch  = "skip-unmatched"
	flagMatchFile    = "match"
	flagPrintMatches = "print"
)

const nodataUsage = "no-data pixel value, compared with raw values for 8 and 16 bit grey images " +
	"and with [0, 1] intensities otherwise"

// NewApp returns the ipmatch application. Results are printed to out.
func NewApp(out io.Writer) *cli.App {
	var logger golog.Logger

	imageFlags := []cli.Flag{
		&cli.StringFlag{
			Name:     flagLeft,
			Usage:    "left image `FILE`",
			Required: true,
		},
		&cli.StringFlag{
			Name:     flagRight,
			Usage:    "right image `FILE`",
			Required: true,
		},
		&cli.StringFlag{
			Name:     flagOutput,
			Aliases:  []string{"o"},
			Usage:    "write the matches to `FILE`",
			Required: true,
		},
		&cli.StringFlag{
			Name:  flagPlot,
			Usage: "draw the matches side by side into a PNG `FILE`",
		},
		&cli.Float64Flag{
			Name:  flagNodataLeft,
			Usage: "left " + nodataUsage,
		},
		&cli.Float64Flag{
			Name:  flagNodataRight,
			Usage: "right " + nodataUsage,
		},
		&cli.IntFlag{
			Name:  flagMaxPoints,
			Usage: "interest points kept per image, 0 picks a budget from the image size and -1 keeps all",
		},
		&cli.Float64Flag{
			Name:  flagRatio,
			Usage: "descriptor distance ratio threshold",
		},
		&cli.BoolFlag{
			Name:  flagSkipNoMatch,
			Usage: "report pairs without a consistent set of matches instead of failing",
		},
	}

	app := &cli.App{
		Name:      "ipmatch",
		Usage:     "detect and match interest points between overlapping images",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load matching configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.BoolFlag{
				Name:    flagQuiet,
				Aliases: []string{"q"},
				Usage:   "do not show progress",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = golog.NewDebugLogger("ipmatch")
			} else {
				logger = zap.NewNop().Sugar()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "detect",
				Usage:     "detect interest points in one image",
				UsageText: fmt.Sprintf("ipmatch detect <%s> [%s] [%s] [%s] [%s] [%s]",
					flagImage, flagNodata, flagMaxPoints, flagDetectorCfg, flagPlot, flagRender),
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagImage,
						Usage:    "image `FILE`",
						Required: true,
					},
					&cli.Float64Flag{
						Name:  flagNodata,
						Usage: nodataUsage,
					},
					&cli.IntFlag{
						Name:  flagMaxPoints,
						Usage: "interest points kept, 0 or less keeps all",
					},
					&cli.StringFlag{
						Name:  flagDetectorCfg,
						Usage: "load detector settings from `FILE`, replacing those of --config",
					},
					&cli.StringFlag{
						Name:  flagPlot,
						Usage: "draw the points into a PNG `FILE`",
					},
					&cli.StringFlag{
						Name:  flagRender,
						Usage: "write the intensities the detector scans, as 8 bit grey, to `FILE`",
					},
				},
				Action: func(c *cli.Context) error {
					return DetectAction(c, logger)
				},
			},
			{
				Name:      "match",
				Usage:     "match two images by descriptor and a homography, without camera models",
				UsageText: fmt.Sprintf("ipmatch match <%s> <%s> <%s> [options]", flagLeft, flagRight, flagOutput),
				Flags:     imageFlags,
				Action: func(c *cli.Context) error {
					return MatchAction(c, logger)
				},
			},
			{
				Name:  "match-cameras",
				Usage: "match two images using their camera models and a datum",
				UsageText: fmt.Sprintf("ipmatch match-cameras <%s> <%s> <%s> <%s> <%s> [options]",
					flagLeft, flagRight, flagLeftCamera, flagRightCamera, flagOutput),
				Flags: append(append([]cli.Flag{}, imageFlags...),
					&cli.StringFlag{
						Name:     flagLeftCamera,
						Usage:    "left camera json `FILE`; a geodetic_center replaces the cartesian one",
						Required: true,
					},
					&cli.StringFlag{
						Name:     flagRightCamera,
						Usage:    "right camera json `FILE`; a geodetic_center replaces the cartesian one",
						Required: true,
					},
					&cli.StringFlag{
						Name:  flagDatum,
						Usage: "reference datum: wgs84, moon or mars",
						Value: "wgs84",
					},
					&cli.Float64Flag{
						Name:  flagDatumRadius,
						Usage: "use a sphere of this radius in meters instead of a named datum",
					},
					&cli.Float64Flag{
						Name:  flagScale,
						Usage: "resample both images by this factor before matching",
						Value: 1,
					},
					&cli.BoolFlag{
						Name:  flagAlign,
						Usage: "warp the right image onto the left with the camera geometry before matching",
					},
				),
				Action: func(c *cli.Context) error {
					return MatchCamerasAction(c, logger)
				},
			},
			{
				Name:      "show",
				Usage:     "summarize a match file",
				UsageText: fmt.Sprintf("ipmatch show <%s> [%s] [%s] [%s]", flagMatchFile, flagLeft, flagRight, flagPlot),
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagMatchFile,
						Usage:    "match `FILE`",
						Required: true,
					},
					&cli.StringFlag{
						Name:  flagLeft,
						Usage: "left image `FILE`, needed to plot",
					},
					&cli.StringFlag{
						Name:  flagRight,
						Usage: "right image `FILE`, needed to plot",
					},
					&cli.StringFlag{
						Name:  flagPlot,
						Usage: "draw the matches into a PNG `FILE`",
					},
					&cli.BoolFlag{
						Name:  flagPrintMatches,
						Usage: "print every correspondence",
					},
				},
				Action: ShowAction,
			},
		},
	}
	return app
}

// matchJob is everything about a pair that does not depend on the pixel type.
type matchJob struct {
	matcher  *stereo.Matcher
	camA     transform.CameraModel
	camB     transform.CameraModel
	datum    cartography.Datum
	align    bool
	output   string
	txA, txB transform.Transform
}

func runJob[T rimage.Pixel](ctx context.Context, job *matchJob, imgA, imgB *rimage.Image[T]) (*stereo.MatchResult, error) {
	switch {
	case job.camA == nil:
		return stereo.HomographyIPMatching[T](ctx, job.matcher, imgA, imgB, job.output)
	case job.align:
		return stereo.IPMatchingWithAlignment[T](ctx, job.matcher, job.camA, job.camB, imgA, imgB,
			job.datum, job.output, job.txA, job.txB)
	default:
		return stereo.IPMatching[T](ctx, job.matcher, job.camA, job.camB, imgA, imgB,
			job.datum, job.output, job.txA, job.txB)
	}
}

// runPair keeps 8 and 16 bit grey pairs in their raw pixel type so no-data values compare
// exactly; anything else is matched as [0, 1] floats.
func runPair(ctx context.Context, job *matchJob, stdA, stdB image.Image) (*stereo.MatchResult, error) {
	switch a := stdA.(type) {
	case *image.Gray:
		if b, ok := stdB.(*image.Gray); ok {
			return runJob[uint8](ctx, job, rimage.FromGray(a), rimage.FromGray(b))
		}
	case *image.Gray16:
		if b, ok := stdB.(*image.Gray16); ok {
			return runJob[uint16](ctx, job, rimage.FromGray16(a), rimage.FromGray16(b))
		}
	}
	return runJob[float32](ctx, job, rimage.FromStdImage(stdA), rimage.FromStdImage(stdB))
}

func detectImage[T rimage.Pixel](
	d *keypoints.IntegralBlobDetector,
	img *rimage.Image[T],
	nodata float64,
	maxPoints int,
	render string,
) (keypoints.InterestPoints, error) {
	if render != "" {
		if err := rimage.WriteImage(render, rimage.ToFloat32[T](img, nodata)); err != nil {
			return nil, errors.Wrap(err, "cannot write detector input")
		}
	}
	pts := keypoints.Detect[T](d, img, nodata, maxPoints)
	pts = keypoints.RemoveNearNoData[T](img, nodata, pts)
	keypoints.SortInterestPoints(pts)
	return pts, nil
}

// geodeticPosition places a camera by latitude and longitude in degrees and height in meters
// above the datum.
type geodeticPosition struct {
	Lat    float64 `json:"lat_deg"`
	Lon    float64 `json:"lon_deg"`
	Height float64 `json:"height_m"`
}

// loadCamera reads a pinhole camera file. When the file has a geodetic_center it is placed on
// datum and its cartesian center is ignored.
func loadCamera(path string, datum cartography.Datum) (*transform.PinholeCamera, error) {
	cam, err := transform.NewPinholeCameraFromJSONFile(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "cannot read camera file")
	}
	var placement struct {
		Geodetic *geodeticPosition `json:"geodetic_center"`
	}
	if err := json.Unmarshal(data, &placement); err != nil {
		return nil, errors.Wrapf(err, "cannot parse camera %q", path)
	}
	if g := placement.Geodetic; g != nil {
		cam.Center = datum.GeodeticToCartesian(g.Lat, g.Lon, g.Height)
	}
	return cam, nil
}

func loadConfig(c *cli.Context) (*stereo.MatchingConfig, error) {
	cfg := stereo.NewDefaultMatchingConfig()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = stereo.LoadMatchingConfig(path); err != nil {
			return nil, err
		}
	}
	if c.IsSet(flagNodataLeft) {
		v := c.Float64(flagNodataLeft)
		cfg.NodataLeft = &v
	}
	if c.IsSet(flagNodataRight) {
		v := c.Float64(flagNodataRight)
		cfg.NodataRight = &v
	}
	if c.IsSet(flagMaxPoints) {
		cfg.Detector.MaxPoints = c.Int(flagMaxPoints)
	}
	if c.IsSet(flagRatio) {
		cfg.RatioThreshold = c.Float64(flagRatio)
	}
	return cfg, cfg.Validate("flags")
}

func newProgress(c *cli.Context) *ProgressManager {
	return NewProgressManager([]*Step{
		{ID: stereo.StageAlignment, Message: "Aligning images"},
		{ID: stereo.StageDetect, Message: "Detecting interest points"},
		{ID: stereo.StageMatch, Message: "Matching descriptors"},
		{ID: stereo.StageFilter, Message: "Filtering matches"},
		{ID: stereo.StageWrite, Message: "Writing matches"},
	}, WithProgressOutput(!c.Bool(flagQuiet)))
}

// DetectAction detects interest points in one image and reports how many were found.
func DetectAction(c *cli.Context, logger golog.Logger) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	std, err := rimage.OpenStdImage(c.String(flagImage))
	if err != nil {
		return err
	}
	nodata := cfg.NodataA()
	if c.IsSet(flagNodata) {
		nodata = c.Float64(flagNodata)
	}
	maxPoints := c.Int(flagMaxPoints)
	detectorCfg := cfg.Detector
	if path := c.String(flagDetectorCfg); path != "" {
		if detectorCfg, err = keypoints.LoadDetectorConfig(path); err != nil {
			return err
		}
	}
	d := keypoints.NewIntegralBlobDetector(detectorCfg, logger)

	var pts keypoints.InterestPoints
	render := c.String(flagRender)
	switch img := std.(type) {
	case *image.Gray:
		pts, err = detectImage[uint8](d, rimage.FromGray(img), nodata, maxPoints, render)
	case *image.Gray16:
		pts, err = detectImage[uint16](d, rimage.FromGray16(img), nodata, maxPoints, render)
	default:
		pts, err = detectImage[float32](d, rimage.FromStdImage(img), nodata, maxPoints, render)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d interest points in %s\n", len(pts), c.String(flagImage))
	if plot := c.String(flagPlot); plot != "" {
		if err := keypoints.PlotInterestPoints(std, pts, plot); err != nil {
			return errors.Wrap(err, "cannot plot interest points")
		}
	}
	return nil
}

// MatchAction matches two images without camera models.
func MatchAction(c *cli.Context, logger golog.Logger) error {
	return matchPair(c, logger, false)
}

// MatchCamerasAction matches two images constrained by their camera models.
func MatchCamerasAction(c *cli.Context, logger golog.Logger) error {
	return matchPair(c, logger, true)
}

func loadDatum(c *cli.Context) (cartography.Datum, error) {
	if c.IsSet(flagDatumRadius) {
		d := cartography.NewSphere("sphere", c.Float64(flagDatumRadius))
		return d, d.Validate()
	}
	return cartography.DatumByName(c.String(flagDatum))
}

func matchPair(c *cli.Context, logger golog.Logger, withCameras bool) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	progress := newProgress(c)
	defer progress.Stop()
	matcher, err := stereo.NewMatcher(cfg, progress, logger)
	if err != nil {
		return err
	}
	stdA, err := rimage.OpenStdImage(c.String(flagLeft))
	if err != nil {
		return err
	}
	stdB, err := rimage.OpenStdImage(c.String(flagRight))
	if err != nil {
		return err
	}

	job := &matchJob{matcher: matcher, output: c.String(flagOutput)}
	imgA, imgB := stdA, stdB
	if withCameras {
		if job.datum, err = loadDatum(c); err != nil {
			return err
		}
		if job.camA, err = loadCamera(c.String(flagLeftCamera), job.datum); err != nil {
			return err
		}
		if job.camB, err = loadCamera(c.String(flagRightCamera), job.datum); err != nil {
			return err
		}
		job.align = c.Bool(flagAlign)
		if scale := c.Float64(flagScale); scale != 1 {
			if imgA, err = rimage.Resample(stdA, scale); err != nil {
				return err
			}
			if imgB, err = rimage.Resample(stdB, scale); err != nil {
				return err
			}
			job.txA, job.txB = transform.NewScale(scale), transform.NewScale(scale)
		}
	}

	res, err := runPair(c.Context, job, imgA, imgB)
	progress.Finish(err)
	if err != nil {
		if c.Bool(flagSkipNoMatch) && stereo.IsPairSkippable(err) {
			fmt.Fprintf(c.App.Writer, "skipping %s and %s: %v\n", c.String(flagLeft), c.String(flagRight), err)
			return nil
		}
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d matches written to %s\n", res.Len(), job.output)
	if res.Homography != nil {
		fmt.Fprintf(c.App.Writer, "homography %s\n", res.Homography.String())
	}
	if plot := c.String(flagPlot); plot != "" {
		// matches are in the frame of the original images unless configured otherwise
		if err := keypoints.PlotMatches(stdA, stdB, res.A, res.B, plot); err != nil {
			return errors.Wrap(err, "cannot plot matches")
		}
	}
	return nil
}

// ShowAction prints a summary of a match file and optionally plots it.
func ShowAction(c *cli.Context) error {
	ptsA, ptsB, err := keypoints.ReadBinaryMatchFile(c.String(flagMatchFile))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d matches in %s\n", len(ptsA), c.String(flagMatchFile))
	if c.Bool(flagPrintMatches) {
		for i := range ptsA {
			fmt.Fprintf(c.App.Writer, "%.2f %.2f -> %.2f %.2f\n", ptsA[i].X, ptsA[i].Y, ptsB[i].X, ptsB[i].Y)
		}
	}
	plot := c.String(flagPlot)
	if plot == "" {
		return nil
	}
	if c.String(flagLeft) == "" || c.String(flagRight) == "" {
		return errors.Errorf("--%s and --%s are needed to plot", flagLeft, flagRight)
	}
	stdA, err := rimage.OpenStdImage(c.String(flagLeft))
	if err != nil {
		return err
	}
	stdB, err := rimage.OpenStdImage(c.String(flagRight))
	if err != nil {
		return err
	}
	return keypoints.PlotMatches(stdA, stdB, ptsA, ptsB, plot)
}
