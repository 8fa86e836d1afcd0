package locationctx

import (
	"fmt"
	"math"
	"math/rand"
)

const (
	wgs84SemiMajorAxis = 6378137.0
	wgs84SemiMinorAxis = 6356752.314

	// SphereRadius approximates the earth as a sphere, in meters.
	SphereRadius = (2.0*wgs84SemiMajorAxis + wgs84SemiMinorAxis) / 3.0

	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// Point is a WGS84 latitude/longitude in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// NewPoint validates the coordinate ranges.
func NewPoint(lat, lon float64) (Point, error) {
	if lat < -90 || lat > 90 || math.IsNaN(lat) {
		return Point{}, fmt.Errorf("latitude %v outside [-90, 90]", lat)
	}
	if lon < -180 || lon > 180 || math.IsNaN(lon) {
		return Point{}, fmt.Errorf("longitude %v outside [-180, 180]", lon)
	}
	return Point{Lat: lat, Lon: lon}, nil
}

// Distance is the great-circle distance to q in meters.
func (p Point) Distance(q Point) float64 {
	lat1, lat2 := p.Lat*degToRad, q.Lat*degToRad
	dLon := (q.Lon - p.Lon) * degToRad
	central := math.Sin(lat1)*math.Sin(lat2) + math.Cos(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return SphereRadius * math.Acos(math.Max(-1, math.Min(1, central)))
}

// NorthDistance converts meters along a meridian into degrees of latitude.
func (p Point) NorthDistance(meters float64) float64 {
	return meters / SphereRadius * radToDeg
}

// EastDistance converts meters along the parallel through p into degrees of
// longitude. Near the poles it saturates at a full turn.
func (p Point) EastDistance(meters float64) float64 {
	r := math.Cos(p.Lat*degToRad) * SphereRadius
	if r < 1e-6 {
		return 360
	}
	return math.Min(360, meters/r*radToDeg)
}

// Offset moves p by the given meters along a compass bearing in radians
// (0 is north, pi/2 east).
func (p Point) Offset(meters, bearing float64) Point {
	meters = math.Mod(meters, 2*math.Pi*SphereRadius)
	north := math.Cos(bearing) * meters
	east := math.Sin(bearing) * meters

	lat := p.Lat*degToRad + north/SphereRadius
	lon := p.Lon * degToRad
	if c := math.Cos(p.Lat * degToRad); c > 1e-9 {
		lon += east / (c * SphereRadius)
	}

	if lat > math.Pi/2 {
		lat = math.Pi - lat
		lon += math.Pi
	} else if lat < -math.Pi/2 {
		lat = -math.Pi - lat
		lon += math.Pi
	}
	for lon > math.Pi {
		lon -= 2 * math.Pi
	}
	for lon < -math.Pi {
		lon += 2 * math.Pi
	}
	return Point{Lat: lat * radToDeg, Lon: lon * radToDeg}
}

// Smear returns a random point at most meters away from p.
func (p Point) Smear(rng *rand.Rand, meters float64) Point {
	return p.Offset(meters*rng.Float64(), 2*math.Pi*rng.Float64())
}

func (p Point) String() string {
	ns, ew := "N", "E"
	if p.Lat < 0 {
		ns = "S"
	}
	if p.Lon < 0 {
		ew = "W"
	}
	return fmt.Sprintf("%.6f %s, %.6f %s", math.Abs(p.Lat), ns, math.Abs(p.Lon), ew)
}
