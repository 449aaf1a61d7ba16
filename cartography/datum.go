// Package cartography provides the ellipsoidal reference surfaces that camera rays are
// intersected with.
package cartography

import (
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Datum is an ellipsoid of revolution centred at the origin with its polar axis along z.
// Distances are in meters.
type Datum struct {
	Name      string  `json:"name"`
	SemiMajor float64 `json:"semi_major_axis_m"`
	SemiMinor float64 `json:"semi_minor_axis_m"`
}

// Well known datums.
var (
	WGS84 = Datum{Name: "WGS84", SemiMajor: 6378137, SemiMinor: 6356752.314245}
	Moon  = Datum{Name: "D_MOON", SemiMajor: 1737400, SemiMinor: 1737400}
	Mars  = Datum{Name: "D_MARS", SemiMajor: 3396190, SemiMinor: 3376200}
)

// NewSphere returns a spherical datum of the given radius.
func NewSphere(name string, radius float64) Datum {
	return Datum{Name: name, SemiMajor: radius, SemiMinor: radius}
}

// DatumByName looks a well known datum up by name, case insensitively. "earth" is an alias of
// WGS84.
func DatumByName(name string) (Datum, error) {
	switch strings.ToLower(name) {
	case "wgs84", "earth":
		return WGS84, nil
	case "moon", "d_moon":
		return Moon, nil
	case "mars", "d_mars":
		return Mars, nil
	default:
		return Datum{}, errors.Errorf("unknown datum %q", name)
	}
}

// Validate checks the axes are usable.
func (d Datum) Validate() error {
	if d.SemiMajor <= 0 || d.SemiMinor <= 0 {
		return errors.Errorf("datum %q must have positive axes, got %v and %v", d.Name, d.SemiMajor, d.SemiMinor)
	}
	if d.SemiMinor > d.SemiMajor {
		return errors.Errorf("datum %q semi minor axis %v exceeds semi major axis %v", d.Name, d.SemiMinor, d.SemiMajor)
	}
	return nil
}

// Inflate returns the datum grown by height on both axes. Intersecting with an inflated datum
// approximates intersecting with the surface at that height.
func (d Datum) Inflate(height float64) Datum {
	return Datum{Name: d.Name, SemiMajor: d.SemiMajor + height, SemiMinor: d.SemiMinor + height}
}

// IntersectRay returns the first point where the ray origin + t*dir, t >= 0, meets the
// ellipsoid. The second return is false when the ray misses.
func (d Datum) IntersectRay(origin, dir r3.Vector) (r3.Vector, bool) {
	// scale space so the ellipsoid becomes the unit sphere
	s := r3.Vector{X: 1 / d.SemiMajor, Y: 1 / d.SemiMajor, Z: 1 / d.SemiMinor}
	o := r3.Vector{X: origin.X * s.X, Y: origin.Y * s.Y, Z: origin.Z * s.Z}
	v := r3.Vector{X: dir.X * s.X, Y: dir.Y * s.Y, Z: dir.Z * s.Z}

	a := v.Dot(v)
	if a == 0 {
		return r3.Vector{}, false
	}
	b := 2 * o.Dot(v)
	c := o.Dot(o) - 1
	disc := b*b - 4*a*c
	if disc < 0 {
		return r3.Vector{}, false
	}
	sq := math.Sqrt(disc)
	t := (-b - sq) / (2 * a)
	if t < 0 {
		// origin inside the ellipsoid, take the exit point
		t = (-b + sq) / (2 * a)
	}
	if t < 0 {
		return r3.Vector{}, false
	}
	return origin.Add(dir.Mul(t)), true
}

// GeodeticHeight returns the height of p above the ellipsoid along the ellipsoid normal.
func (d Datum) GeodeticHeight(p r3.Vector) float64 {
	a, b := d.SemiMajor, d.SemiMinor
	rho := math.Hypot(p.X, p.Y)
	if a == b {
		return p.Norm() - a
	}
	if rho < 1e-9*a {
		return math.Abs(p.Z) - b
	}
	e2 := 1 - (b*b)/(a*a)
	lat := math.Atan2(p.Z, rho*(1-e2))
	height := func(lat float64) (float64, float64) {
		sinLat, cosLat := math.Sincos(lat)
		n := a / math.Sqrt(1-e2*sinLat*sinLat)
		// well conditioned at the poles, unlike rho/cos(lat) - n
		return rho*cosLat + p.Z*sinLat - a*a/n, n
	}
	for i := 0; i < 10; i++ {
		h, n := height(lat)
		next := math.Atan2(p.Z, rho*(1-e2*n/(n+h)))
		if math.Abs(next-lat) < 1e-14 {
			lat = next
			break
		}
		lat = next
	}
	h, _ := height(lat)
	return h
}

// GeodeticToCartesian converts latitude and longitude in degrees and a height in meters to an
// ellipsoid centred cartesian point.
func (d Datum) GeodeticToCartesian(latDeg, lonDeg, height float64) r3.Vector {
	lat := latDeg * math.Pi / 180
	lon := lonDeg * math.Pi / 180
	a, b := d.SemiMajor, d.SemiMinor
	e2 := 1 - (b*b)/(a*a)
	sinLat := math.Sin(lat)
	n := a / math.Sqrt(1-e2*sinLat*sinLat)
	return r3.Vector{
		X: (n + height) * math.Cos(lat) * math.Cos(lon),
		Y: (n + height) * math.Cos(lat) * math.Sin(lon),
		Z: (n*(1-e2) + height) * sinLat,
	}
}
