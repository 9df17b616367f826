package proximity

import (
	"errors"
	"math"
	"slices"
	"sort"

	"github.com/oshokin/geofencer/internal/domain/geofence"
)

const (
	// BucketWidth is the width of a distance band in meters.
	BucketWidth = 10
	// NearThreshold is the rounded distance from which regions become Far.
	NearThreshold = 200
)

// ErrNoFixAvailable is returned when Classify is called without a fix.
var ErrNoFixAvailable = errors.New("no location fix available")

// Result is the evaluation of a single region.
type Result struct {
	// Distance is the signed distance to the region edge in meters.
	Distance float64
	// Classification is derived from Distance.
	Classification geofence.Classification
	// Excluded marks regions too large for the provider to monitor.
	Excluded bool
}

// Partition groups region identifiers by proximity.
// Excluded regions are only present in Results and Excluded.
type Partition struct {
	// Inside holds the regions containing the fix, in input order.
	Inside []string
	// Buckets maps the lower band edge to the sorted identifiers in that band.
	Buckets map[int][]string
	// Far holds regions 200 meters away or more, in input order.
	Far []string
	// Excluded holds regions with radius >= the maximum monitoring distance.
	Excluded []string
	// Results holds the evaluation of every input region, excluded ones included.
	Results map[string]Result
}

// BucketKeys returns the bucket keys in ascending order.
func (p *Partition) BucketKeys() []int {
	keys := make([]int, 0, len(p.Buckets))
	for k := range p.Buckets {
		keys = append(keys, k)
	}

	sort.Ints(keys)

	return keys
}

// Classify evaluates regions against fix.
func Classify(fix *geofence.Fix, regions []geofence.Snapshot, maxMonitoringDistance float64) (*Partition, error) {
	if fix == nil {
		return nil, ErrNoFixAvailable
	}

	p := &Partition{
		Buckets: make(map[int][]string),
		Results: make(map[string]Result, len(regions)),
	}

	for _, region := range regions {
		distance := geofence.DistanceMeters(fix.Coordinate, region.Center) - region.Radius
		class := ClassifyDistance(distance)
		excluded := region.Radius >= maxMonitoringDistance

		p.Results[region.ID] = Result{
			Distance:       distance,
			Classification: class,
			Excluded:       excluded,
		}

		if excluded {
			p.Excluded = append(p.Excluded, region.ID)
			continue
		}

		switch class.Proximity {
		case geofence.ProximityInside:
			p.Inside = append(p.Inside, region.ID)
		case geofence.ProximityNear:
			p.Buckets[class.Bucket] = append(p.Buckets[class.Bucket], region.ID)
		default:
			p.Far = append(p.Far, region.ID)
		}
	}

	for _, ids := range p.Buckets {
		slices.Sort(ids)
	}

	return p, nil
}

// ClassifyDistance maps a signed edge distance to a classification.
func ClassifyDistance(distance float64) geofence.Classification {
	if distance <= 0 {
		return geofence.Inside()
	}

	rounded := RoundDown(distance)

	switch {
	case rounded <= 0:
		return geofence.Inside()
	case rounded < NearThreshold:
		return geofence.Near(rounded)
	default:
		return geofence.Far()
	}
}

// RoundDown returns the lower edge of the band containing distance.
func RoundDown(distance float64) int {
	if math.IsInf(distance, 1) || distance >= math.MaxInt32 {
		return math.MaxInt32
	}

	return int(math.Floor(distance/BucketWidth)) * BucketWidth
}

// ActiveSet returns the identifiers to monitor actively: every Inside region,
// then bucket members from the nearest band outwards, capped at limit.
// A limit of zero or less disables the cap.
func ActiveSet(p *Partition, limit int) []string {
	if p == nil {
		return nil
	}

	active := make([]string, 0, len(p.Inside))
	full := func() bool { return limit > 0 && len(active) >= limit }

	for _, id := range p.Inside {
		if full() {
			return active
		}

		active = append(active, id)
	}

	for _, key := range p.BucketKeys() {
		for _, id := range p.Buckets[key] {
			if full() {
				return active
			}

			active = append(active, id)
		}
	}

	return active
}
