package geofence

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6_371_008.8

// ErrInvalidCoordinate is returned for latitudes or longitudes out of range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	// Latitude in degrees, [-90, 90].
	Latitude float64 `yaml:"latitude"`
	// Longitude in degrees, [-180, 180].
	Longitude float64 `yaml:"longitude"`
}

// Validate reports whether the coordinate lies on the globe.
func (c Coordinate) Validate() error {
	switch {
	case math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90:
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, c.Latitude)
	case math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180:
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, c.Longitude)
	}

	return nil
}

// ParseCoordinate parses decimal degrees and validates the result.
func ParseCoordinate(latitude, longitude string) (Coordinate, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(latitude), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: latitude %q", ErrInvalidCoordinate, latitude)
	}

	lon, err := strconv.ParseFloat(strings.TrimSpace(longitude), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: longitude %q", ErrInvalidCoordinate, longitude)
	}

	c := Coordinate{Latitude: lat, Longitude: lon}

	return c, c.Validate()
}

// String renders the coordinate as "lat,lon".
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// Fix is a single position reported by the positioning provider.
type Fix struct {
	// Coordinate is where the device was.
	Coordinate Coordinate
	// Timestamp is when the position was measured.
	Timestamp time.Time
	// HorizontalAccuracy is the radius of uncertainty in meters, 0 when unknown.
	HorizontalAccuracy float64
}

// Clone returns a copy of the fix.
func (f *Fix) Clone() *Fix {
	if f == nil {
		return nil
	}

	cloned := *f

	return &cloned
}

// DistanceMeters returns the haversine distance between a and b.
func DistanceMeters(a, b Coordinate) float64 {
	lat1 := degreesToRadians(a.Latitude)
	lat2 := degreesToRadians(b.Latitude)
	dLat := lat2 - lat1
	dLon := degreesToRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// OffsetNorth returns the coordinate meters north of c along its meridian.
// Negative values move south.
func OffsetNorth(c Coordinate, meters float64) Coordinate {
	return Coordinate{
		Latitude:  c.Latitude + radiansToDegrees(meters/EarthRadiusMeters),
		Longitude: c.Longitude,
	}
}

func degreesToRadians(d float64) float64 {
	return d * math.Pi / 180
}

func radiansToDegrees(r float64) float64 {
	return r * 180 / math.Pi
}
