// Package geo provides the small set of geodetic primitives the engagement
// planners (internal/plan) need: points, distance, bearing, and bounds
// validation. No library in the retrieved corpus offers geodesy, so this
// package is a deliberate, justified stdlib-only implementation (see
// DESIGN.md) of the fixed-earth-radius haversine formulas used throughout
// original_source's engagement managers.
package geo

import (
	"fmt"
	"math"
)

// earthRadiusM is the fixed sphere radius used by every original_source
// distance/bearing computation (no WGS84 ellipsoid correction).
const earthRadiusM = 6371000.0

// Point2D is a surface position: latitude/longitude in degrees.
type Point2D struct {
	LatDeg float64
	LonDeg float64
}

// Point3D adds depth in meters, positive down, matching
// original_source's convention for sub-surface weapons (negative values are
// altitude above the waterline, used by air-breathing kinds).
type Point3D struct {
	Point2D
	DepthM float64
}

// Bounds used by Validate, matching original_source/Common validation
// constants.
const (
	MinLatDeg  = -90.0
	MaxLatDeg  = 90.0
	MinLonDeg  = -180.0
	MaxLonDeg  = 180.0
	MinDepthM  = -1000.0
	MaxDepthM  = 10000.0
)

// Validate2D reports whether p's latitude/longitude lie within bounds.
func Validate2D(p Point2D) error {
	if p.LatDeg < MinLatDeg || p.LatDeg > MaxLatDeg {
		return fmt.Errorf("latitude %.6f out of range [%g, %g]", p.LatDeg, MinLatDeg, MaxLatDeg)
	}
	if p.LonDeg < MinLonDeg || p.LonDeg > MaxLonDeg {
		return fmt.Errorf("longitude %.6f out of range [%g, %g]", p.LonDeg, MinLonDeg, MaxLonDeg)
	}
	return nil
}

// Validate3D additionally validates depth.
func Validate3D(p Point3D) error {
	if err := Validate2D(p.Point2D); err != nil {
		return err
	}
	if p.DepthM < MinDepthM || p.DepthM > MaxDepthM {
		return fmt.Errorf("depth %.2f out of range [%g, %g]", p.DepthM, MinDepthM, MaxDepthM)
	}
	return nil
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceM returns the great-circle distance between a and b in meters,
// using the haversine formula over a fixed-radius sphere.
func DistanceM(a, b Point2D) float64 {
	lat1, lat2 := toRad(a.LatDeg), toRad(b.LatDeg)
	dLat := lat2 - lat1
	dLon := toRad(b.LonDeg) - toRad(a.LonDeg)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// BearingDeg returns the initial great-circle bearing from a to b, in
// degrees, normalized to [0, 360).
func BearingDeg(a, b Point2D) float64 {
	lat1, lat2 := toRad(a.LatDeg), toRad(b.LatDeg)
	dLon := toRad(b.LonDeg) - toRad(a.LonDeg)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	brng := toDeg(math.Atan2(y, x))
	return math.Mod(brng+360, 360)
}

// Interpolate3D returns the point at fraction t (clamped to [0,1]) of the
// straight-line path from a to b, linearly interpolating lat/lon/depth. Used
// by planners to compute CurrentPosition from elapsed flight time.
func Interpolate3D(a, b Point3D, t float64) Point3D {
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return Point3D{
		Point2D: Point2D{
			LatDeg: a.LatDeg + (b.LatDeg-a.LatDeg)*t,
			LonDeg: a.LonDeg + (b.LonDeg-a.LonDeg)*t,
		},
		DepthM: a.DepthM + (b.DepthM-a.DepthM)*t,
	}
}
