package keypoints

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// DefaultRatioThreshold is the largest allowed ratio between the best and second best
// descriptor distances of an accepted match.
const DefaultRatioThreshold = 0.5

// MatchingConfig contains the parameters for matching descriptors.
type MatchingConfig struct {
	RatioThreshold float64 `json:"ratio_threshold"`
	DoCrossCheck   bool    `json:"do_cross_check"`
}

// NewDefaultMatchingConfig returns a ratio test at DefaultRatioThreshold with cross checking.
func NewDefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{RatioThreshold: DefaultRatioThreshold, DoCrossCheck: true}
}

// DescriptorMatch contains the index of a match in the first and second set of points.
type DescriptorMatch struct {
	Idx1     int
	Idx2     int
	Distance float64
}

// RatioTest picks the best of the candidate distances. With two or more candidates the best
// must be below ratio times the runner up; a lone candidate is accepted as is. It returns the
// position of the winner in dists.
func RatioTest(dists []float64, ratio float64) (int, bool) {
	best, second := -1, -1
	for i, d := range dists {
		switch {
		case best < 0 || d < dists[best]:
			second = best
			best = i
		case second < 0 || d < dists[second]:
			second = i
		}
	}
	if best < 0 {
		return -1, false
	}
	if second >= 0 && !(dists[best] < ratio*dists[second]) {
		return -1, false
	}
	return best, true
}

// nearestByRatio returns, for each row of desc1, the index into desc2 that passes the ratio
// test, or -1.
func nearestByRatio(desc1, desc2 [][]float64, ratio float64) ([]int, []float64) {
	idx := make([]int, len(desc1))
	dist := make([]float64, len(desc1))
	dists := make([]float64, len(desc2))
	for i, d1 := range desc1 {
		for j, d2 := range desc2 {
			dists[j] = floats.Distance(d1, d2, 2)
		}
		best, ok := RatioTest(dists, ratio)
		if !ok {
			idx[i] = -1
			continue
		}
		idx[i] = best
		dist[i] = dists[best]
	}
	return idx, dist
}

// MatchInterestPoints matches the descriptors of pts1 against pts2 by L2 distance with a
// ratio test, optionally keeping only matches found in both directions. Matches are sorted by
// increasing distance.
func MatchInterestPoints(pts1, pts2 InterestPoints, cfg *MatchingConfig, logger golog.Logger) ([]DescriptorMatch, error) {
	if cfg == nil {
		cfg = NewDefaultMatchingConfig()
	}
	if len(pts1) == 0 || len(pts2) == 0 {
		return []DescriptorMatch{}, nil
	}
	if len(pts1[0].Descriptor) == 0 || len(pts1[0].Descriptor) != len(pts2[0].Descriptor) {
		return nil, errors.Errorf("descriptor sizes do not match: %d vs %d",
			len(pts1[0].Descriptor), len(pts2[0].Descriptor))
	}
	desc1, desc2 := Float64Descriptors(pts1), Float64Descriptors(pts2)
	forward, dist := nearestByRatio(desc1, desc2, cfg.RatioThreshold)
	var backward []int
	if cfg.DoCrossCheck {
		backward, _ = nearestByRatio(desc2, desc1, cfg.RatioThreshold)
	}

	matches := make([]DescriptorMatch, 0, len(pts1))
	for i, j := range forward {
		if j < 0 {
			continue
		}
		if cfg.DoCrossCheck && backward[j] != i {
			continue
		}
		matches = append(matches, DescriptorMatch{Idx1: i, Idx2: j, Distance: dist[i]})
	}
	// sort
	floatDists := make([]float64, len(matches))
	for i, m := range matches {
		floatDists[i] = m.Distance
	}
	sortedIndices := make([]int, len(matches))
	floats.Argsort(floatDists, sortedIndices)
	sorted := make([]DescriptorMatch, len(matches))
	for i, idx := range sortedIndices {
		sorted[i] = matches[idx]
	}
	logger.Debugw("matched descriptors", "left", len(pts1), "right", len(pts2), "matches", len(sorted))
	return sorted, nil
}

// GetMatchingInterestPoints takes the matches and the points and returns the index aligned
// matched points.
func GetMatchingInterestPoints(matches []DescriptorMatch, pts1, pts2 InterestPoints) (InterestPoints, InterestPoints, error) {
	matched1 := make(InterestPoints, len(matches))
	matched2 := make(InterestPoints, len(matches))
	for i, match := range matches {
		if match.Idx1 < 0 || match.Idx1 >= len(pts1) {
			return nil, nil, errors.Errorf("match %d refers to point %d of %d in first set", i, match.Idx1, len(pts1))
		}
		if match.Idx2 < 0 || match.Idx2 >= len(pts2) {
			return nil, nil, errors.Errorf("match %d refers to point %d of %d in second set", i, match.Idx2, len(pts2))
		}
		matched1[i] = pts1[match.Idx1]
		matched2[i] = pts2[match.Idx2]
	}
	return matched1, matched2, nil
}

type locationPair struct {
	x1, y1, x2, y2 float32
}

// RemoveDuplicates drops correspondences whose locations in both images repeat an earlier
// correspondence. Order is preserved.
func RemoveDuplicates(pts1, pts2 InterestPoints) (InterestPoints, InterestPoints) {
	n := min(len(pts1), len(pts2))
	seen := make(map[locationPair]struct{}, n)
	out1 := make(InterestPoints, 0, n)
	out2 := make(InterestPoints, 0, n)
	for i := 0; i < n; i++ {
		key := locationPair{pts1[i].X, pts1[i].Y, pts2[i].X, pts2[i].Y}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out1 = append(out1, pts1[i])
		out2 = append(out2, pts2[i])
	}
	return out1, out2
}
