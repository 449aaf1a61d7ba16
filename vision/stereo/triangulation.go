package stereo

import (
	"math"
	"sort"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"github.com/pkg/errors"

	"go.viam.com/ipmatch/cartography"
	"go.viam.com/ipmatch/rimage/transform"
	ipmutils "go.viam.com/ipmatch/utils"
	"go.viam.com/ipmatch/vision/keypoints"
)

const (
	// madToSigma converts a median absolute deviation to a normal standard deviation.
	madToSigma = 1.4826
	// gateSigmas is the half width, in robust standard deviations, of the accepted band.
	gateSigmas = 3
	// mergeDistance is the normalized distance under which the two clusters are one.
	mergeDistance = 3
	// defaultClusterRuns is how many k-means partitions are tried; the tightest one is kept.
	defaultClusterRuns = 5
	// defaultTolerance is the smallest spread, in datum units, assumed for either statistic.
	defaultTolerance = 0.01
	// defaultMaxSpreadPx is the largest robust standard deviation of either statistic in the
	// dominant cluster, in units of the change caused by moving the image B point one pixel.
	defaultMaxSpreadPx = 2
)

// Triangulation is the 3D point where the rays of a correspondence pass closest to each other.
type Triangulation struct {
	Point r3.Vector
	// Error is the length of the shortest segment between the rays.
	Error float64
	// Altitude is the height of Point above the datum.
	Altitude float64
}

// Triangulate intersects the rays through pixA of camA and pixB of camB, both in camera pixel
// coordinates. It returns false when the rays are parallel or meet behind a camera.
func Triangulate(camA, camB transform.CameraModel, pixA, pixB r2.Point) (r3.Vector, float64, bool) {
	d1, err := camA.PixelToVector(pixA)
	if err != nil {
		return r3.Vector{}, 0, false
	}
	d2, err := camB.PixelToVector(pixB)
	if err != nil {
		return r3.Vector{}, 0, false
	}
	c1, c2 := camA.CameraCenter(pixA), camB.CameraCenter(pixB)
	w0 := c1.Sub(c2)
	a, b, c := d1.Dot(d1), d1.Dot(d2), d2.Dot(d2)
	d, e := d1.Dot(w0), d2.Dot(w0)
	denom := a*c - b*b
	if denom < 1e-12 {
		return r3.Vector{}, 0, false
	}
	s := (b*e - c*d) / denom
	t := (a*e - b*d) / denom
	if s <= 0 || t <= 0 {
		return r3.Vector{}, 0, false
	}
	p1 := c1.Add(d1.Mul(s))
	p2 := c2.Add(d2.Mul(t))
	return p1.Add(p2).Mul(0.5), p1.Sub(p2).Norm(), true
}

// TriangulationAltitudeFilter rejects correspondences whose triangulation error and altitude
// stand apart from the dominant cluster of the pair.
type TriangulationAltitudeFilter struct {
	Datum cartography.Datum
	// MinInliers is the smallest number of surviving correspondences.
	MinInliers int
	// ClusterRuns is how many k-means partitions are tried.
	ClusterRuns int
	// ErrorTolerance and AltitudeTolerance bound the spreads from below, in datum units.
	ErrorTolerance    float64
	AltitudeTolerance float64
	// MaxSpreadPx bounds the spreads of the dominant cluster from above, in pixels of image B.
	// A wider cluster means the correspondences do not describe one surface. Zero disables
	// the check.
	MaxSpreadPx float64
	logger      golog.Logger
}

// NewTriangulationAltitudeFilter returns a filter with the default tolerances.
func NewTriangulationAltitudeFilter(datum cartography.Datum, minInliers int, logger golog.Logger) *TriangulationAltitudeFilter {
	return &TriangulationAltitudeFilter{
		Datum:             datum,
		MinInliers:        minInliers,
		ClusterRuns:       defaultClusterRuns,
		ErrorTolerance:    defaultTolerance,
		AltitudeTolerance: defaultTolerance,
		MaxSpreadPx:       defaultMaxSpreadPx,
		logger:            logger,
	}
}

// triObservation is a correspondence in normalized (error, altitude) space.
type triObservation struct {
	idx    int
	coords clusters.Coordinates
}

func (o triObservation) Coordinates() clusters.Coordinates {
	return o.coords
}

func (o triObservation) Distance(p clusters.Coordinates) float64 {
	return o.coords.Distance(p)
}

// Triangulations triangulates every correspondence. ptsA and ptsB are in the coordinates of
// txA and txB. Correspondences that cannot be triangulated are left out of the returned
// index list.
func (f *TriangulationAltitudeFilter) Triangulations(
	ptsA, ptsB keypoints.InterestPoints,
	camA, camB transform.CameraModel,
	txA, txB transform.Transform,
) ([]Triangulation, []int) {
	tris := make([]Triangulation, len(ptsA))
	valid := make([]int, 0, len(ptsA))
	for i := range ptsA {
		pixA := txA.Reverse(ptsA[i].Point())
		pixB := txB.Reverse(ptsB[i].Point())
		pt, gap, ok := Triangulate(camA, camB, pixA, pixB)
		if !ok {
			continue
		}
		tris[i] = Triangulation{Point: pt, Error: gap, Altitude: f.Datum.GeodeticHeight(pt)}
		valid = append(valid, i)
	}
	return tris, valid
}

// Filter returns the indices, in increasing order, of the correspondences that survive. It
// fails with transform.ErrNoConsensus when fewer than MinInliers remain.
func (f *TriangulationAltitudeFilter) Filter(
	ptsA, ptsB keypoints.InterestPoints,
	camA, camB transform.CameraModel,
	txA, txB transform.Transform,
) ([]int, error) {
	if len(ptsA) != len(ptsB) {
		return nil, errors.Errorf("correspondence lists differ in length: %d vs %d", len(ptsA), len(ptsB))
	}
	minInliers := f.MinInliers
	if minInliers < 1 {
		minInliers = 1
	}
	tris, valid := f.Triangulations(ptsA, ptsB, camA, camB, txA, txB)
	if len(valid) < minInliers {
		return nil, errors.Wrapf(transform.ErrNoConsensus,
			"only %d of %d correspondences triangulate", len(valid), len(ptsA))
	}
	errs := make(stats.Float64Data, len(valid))
	alts := make(stats.Float64Data, len(valid))
	for k, i := range valid {
		errs[k] = tris[i].Error
		alts[k] = tris[i].Altitude
	}

	dominant, err := f.dominantCluster(valid, errs, alts)
	if err != nil {
		return nil, err
	}
	errBand, err := f.band(tris, dominant, func(t Triangulation) float64 { return t.Error }, f.ErrorTolerance)
	if err != nil {
		return nil, err
	}
	altBand, err := f.band(tris, dominant, func(t Triangulation) float64 { return t.Altitude }, f.AltitudeTolerance)
	if err != nil {
		return nil, err
	}
	if f.MaxSpreadPx > 0 {
		errRes, altRes := f.pixelResolution(ptsA, ptsB, camA, camB, txA, txB, tris, valid)
		maxErr, maxAlt := gateSigmas*f.MaxSpreadPx*errRes, gateSigmas*f.MaxSpreadPx*altRes
		f.logger.Debugw("triangulation resolution", "error_per_px", errRes, "altitude_per_px", altRes)
		if errBand[1] > maxErr || altBand[1] > maxAlt {
			return nil, errors.Wrapf(transform.ErrNoConsensus,
				"no compact cluster: %d correspondences spread over error %.3g and altitude %.3g, limits %.3g and %.3g",
				len(dominant), errBand[1], altBand[1], maxErr, maxAlt)
		}
	}

	inliers := make([]int, 0, len(valid))
	for _, i := range valid {
		if math.Abs(tris[i].Error-errBand[0]) <= errBand[1] && math.Abs(tris[i].Altitude-altBand[0]) <= altBand[1] {
			inliers = append(inliers, i)
		}
	}
	f.logger.Debugw("triangulation filter",
		"candidates", len(ptsA), "triangulated", len(valid), "dominant", len(dominant), "inliers", len(inliers),
		"error_median", errBand[0], "error_band", errBand[1], "altitude_median", altBand[0], "altitude_band", altBand[1])
	if len(inliers) < minInliers {
		return nil, errors.Wrapf(transform.ErrNoConsensus,
			"%d correspondences agree on triangulation error and altitude, need %d", len(inliers), minInliers)
	}
	return inliers, nil
}

// pixelResolution returns the median change of triangulation error and of altitude when the
// image B point of a correspondence moves by one pixel, taking the larger of a step along x
// and along y. Either is +Inf when nothing can be retriangulated.
func (f *TriangulationAltitudeFilter) pixelResolution(
	ptsA, ptsB keypoints.InterestPoints,
	camA, camB transform.CameraModel,
	txA, txB transform.Transform,
	tris []Triangulation,
	valid []int,
) (float64, float64) {
	var errSteps, altSteps stats.Float64Data
	for _, i := range valid {
		pixA := txA.Reverse(ptsA[i].Point())
		dErr, dAlt, moved := 0., 0., false
		for _, step := range []r2.Point{{X: 1}, {Y: 1}} {
			pixB := txB.Reverse(ptsB[i].Point().Add(step))
			pt, gap, ok := Triangulate(camA, camB, pixA, pixB)
			if !ok {
				continue
			}
			moved = true
			dErr = math.Max(dErr, math.Abs(gap-tris[i].Error))
			dAlt = math.Max(dAlt, math.Abs(f.Datum.GeodeticHeight(pt)-tris[i].Altitude))
		}
		if moved {
			errSteps = append(errSteps, dErr)
			altSteps = append(altSteps, dAlt)
		}
	}
	errRes, err := stats.Median(errSteps)
	if err != nil || errRes <= 0 {
		errRes = math.Inf(1)
	}
	altRes, err := stats.Median(altSteps)
	if err != nil || altRes <= 0 {
		altRes = math.Inf(1)
	}
	return errRes, altRes
}

// robustScale returns the median and robust standard deviation of data, the latter no smaller
// than tol.
func robustScale(data stats.Float64Data, tol float64) (float64, float64, error) {
	med, err := stats.Median(data)
	if err != nil {
		return 0, 0, err
	}
	mad, err := stats.MedianAbsoluteDeviation(data)
	if err != nil {
		return 0, 0, err
	}
	return med, math.Max(madToSigma*mad, tol), nil
}

// dominantCluster partitions the valid correspondences with k-means on normalized (error,
// altitude) and returns the members of the largest cluster.
func (f *TriangulationAltitudeFilter) dominantCluster(valid []int, errs, alts stats.Float64Data) ([]int, error) {
	errMed, errScale, err := robustScale(errs, f.ErrorTolerance)
	if err != nil {
		return nil, err
	}
	altMed, altScale, err := robustScale(alts, f.AltitudeTolerance)
	if err != nil {
		return nil, err
	}
	obs := make(clusters.Observations, len(valid))
	for k, i := range valid {
		obs[k] = triObservation{
			idx:    i,
			coords: clusters.Coordinates{(errs[k] - errMed) / errScale, (alts[k] - altMed) / altScale},
		}
	}
	if len(obs) < 3 {
		return append([]int(nil), valid...), nil
	}

	runs := f.ClusterRuns
	if runs < 1 {
		runs = 1
	}
	var best clusters.Clusters
	bestSSE := math.Inf(1)
	km := kmeans.New()
	for run := 0; run < runs; run++ {
		cc, err := km.Partition(obs, 2)
		if err != nil {
			return nil, errors.Wrap(err, "cannot cluster triangulations")
		}
		sse := 0.
		for _, c := range cc {
			for _, o := range c.Observations {
				sse += o.Distance(c.Center)
			}
		}
		if sse < bestSSE {
			best, bestSSE = cc, sse
		}
	}

	nonEmpty := make(clusters.Clusters, 0, len(best))
	for _, c := range best {
		if len(c.Observations) > 0 {
			nonEmpty = append(nonEmpty, c)
		}
	}
	if len(nonEmpty) == 2 && math.Sqrt(nonEmpty[0].Center.Distance(nonEmpty[1].Center)) < mergeDistance {
		merged := nonEmpty[0]
		merged.Observations = append(append(clusters.Observations{}, nonEmpty[0].Observations...), nonEmpty[1].Observations...)
		nonEmpty = clusters.Clusters{merged}
	}
	sort.SliceStable(nonEmpty, func(i, j int) bool {
		if len(nonEmpty[i].Observations) != len(nonEmpty[j].Observations) {
			return len(nonEmpty[i].Observations) > len(nonEmpty[j].Observations)
		}
		return nonEmpty[i].Center[0] < nonEmpty[j].Center[0]
	})

	members := make([]int, 0, len(nonEmpty[0].Observations))
	for _, o := range nonEmpty[0].Observations {
		to, ok := o.(triObservation)
		if !ok {
			return nil, ipmutils.NewUnexpectedTypeError(triObservation{}, o)
		}
		members = append(members, to.idx)
	}
	sort.Ints(members)
	return members, nil
}

// band returns the median and half width of the accepted interval of one statistic, from the
// members of the dominant cluster.
func (f *TriangulationAltitudeFilter) band(
	tris []Triangulation,
	members []int,
	value func(Triangulation) float64,
	tol float64,
) ([2]float64, error) {
	data := make(stats.Float64Data, len(members))
	for k, i := range members {
		data[k] = value(tris[i])
	}
	med, sigma, err := robustScale(data, tol)
	if err != nil {
		return [2]float64{}, err
	}
	return [2]float64{med, gateSigmas * sigma}, nil
}
