package geofence

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twpayne/go-geom"
)

// SRID of the region center points (WGS84).
const SRID = 4326

// ErrInvalidRadius is returned when a region radius is not a positive finite number.
var ErrInvalidRadius = errors.New("radius must be a positive number of meters")

// Proximity is the coarse relation between the device and a region.
type Proximity int

const (
	// ProximityUnknown marks a region that has not been evaluated yet.
	ProximityUnknown Proximity = iota
	// ProximityInside means the device is within (or touching) the region.
	ProximityInside
	// ProximityNear means the region edge is less than 200 meters away.
	ProximityNear
	// ProximityFar means the region edge is 200 meters away or more.
	ProximityFar
)

// String implements fmt.Stringer.
func (p Proximity) String() string {
	switch p {
	case ProximityInside:
		return "inside"
	case ProximityNear:
		return "near"
	case ProximityFar:
		return "far"
	default:
		return "unknown"
	}
}

// Classification is the outcome of one evaluation of a region.
// Bucket is meaningful only for ProximityNear and holds the lower edge of the
// 10 meter distance band.
type Classification struct {
	// Proximity is the coarse class.
	Proximity Proximity
	// Bucket is the lower edge of the distance band in meters.
	Bucket int
}

// Inside returns the Inside classification.
func Inside() Classification {
	return Classification{Proximity: ProximityInside}
}

// Near returns the classification for the distance band starting at bucket meters.
func Near(bucket int) Classification {
	return Classification{Proximity: ProximityNear, Bucket: bucket}
}

// Far returns the Far classification.
func Far() Classification {
	return Classification{Proximity: ProximityFar}
}

// String implements fmt.Stringer.
func (c Classification) String() string {
	if c.Proximity == ProximityNear {
		return fmt.Sprintf("near(%d)", c.Bucket)
	}

	return c.Proximity.String()
}

// Region is a monitored circular geofence.
// Identity and geometry never change after construction; the evaluation state
// is rewritten by the scheduler on every completed cycle.
type Region struct {
	// id uniquely identifies the region within a registry.
	id string
	// center is the region center as a lon/lat point.
	center *geom.Point
	// radius is the region radius in meters.
	radius float64

	// mu protects the evaluation state below.
	mu sync.RWMutex
	// evaluation is the outcome of the latest completed cycle.
	evaluation Evaluation
}

// Evaluation is the mutable state a cycle writes into a region.
type Evaluation struct {
	// Distance is the signed distance from the fix to the region edge in meters.
	Distance float64
	// Classification is the proximity class derived from Distance.
	Classification Classification
	// MonitoringRadius is the radius handed to the provider, capped by its maximum.
	MonitoringRadius float64
	// Active reports whether the region is actively monitored by the provider.
	Active bool
	// EvaluatedAt is when the cycle completed.
	EvaluatedAt time.Time
}

// NewRegion validates the geometry and builds a region.
// An empty id is replaced with a random UUID.
func NewRegion(id string, center Coordinate, radius float64) (*Region, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}

	if math.IsNaN(radius) || math.IsInf(radius, 0) || radius <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRadius, radius)
	}

	if id == "" {
		id = uuid.NewString()
	}

	return &Region{
		id:     id,
		center: geom.NewPointFlat(geom.XY, []float64{center.Longitude, center.Latitude}).SetSRID(SRID),
		radius: radius,
	}, nil
}

// ID returns the region identifier.
func (r *Region) ID() string {
	return r.id
}

// Center returns the region center.
func (r *Region) Center() Coordinate {
	return Coordinate{
		Latitude:  r.center.Y(),
		Longitude: r.center.X(),
	}
}

// Point returns a copy of the center as a go-geom point (X = longitude).
func (r *Region) Point() *geom.Point {
	return r.center.Clone()
}

// Radius returns the region radius in meters.
func (r *Region) Radius() float64 {
	return r.radius
}

// Apply stores the outcome of a completed cycle.
func (r *Region) Apply(e Evaluation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evaluation = e
}

// Evaluation returns the outcome of the latest completed cycle.
func (r *Region) Evaluation() Evaluation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.evaluation
}

// Snapshot returns a read-only copy of the region.
func (r *Region) Snapshot() Snapshot {
	return Snapshot{
		ID:         r.id,
		Center:     r.Center(),
		Radius:     r.radius,
		Evaluation: r.Evaluation(),
	}
}

// Snapshot is a value copy of a Region, safe to hand to other goroutines.
type Snapshot struct {
	Evaluation

	// ID is the region identifier.
	ID string
	// Center is the region center.
	Center Coordinate
	// Radius is the region radius in meters.
	Radius float64
}
