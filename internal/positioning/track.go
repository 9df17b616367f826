package positioning

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/geofencer/internal/domain/geofence"
)

// errEmptyTrack is returned for track files without fixes.
var errEmptyTrack = errors.New("track has no fixes")

// trackFile is the on-disk YAML layout of a recorded track.
type trackFile struct {
	// Fixes are replayed in order.
	Fixes []trackPoint `yaml:"fixes"`
}

// trackPoint is a single recorded position.
type trackPoint struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Accuracy  float64 `yaml:"accuracy,omitempty"`
}

// LoadTrack reads a YAML track file.
func LoadTrack(path string) ([]geofence.Fix, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read track: %w", err)
	}

	var file trackFile
	if err = yaml.Unmarshal(contents, &file); err != nil {
		return nil, fmt.Errorf("unmarshal track: %w", err)
	}

	if len(file.Fixes) == 0 {
		return nil, errEmptyTrack
	}

	fixes := make([]geofence.Fix, 0, len(file.Fixes))

	for i, point := range file.Fixes {
		coordinate := geofence.Coordinate{Latitude: point.Latitude, Longitude: point.Longitude}
		if err = coordinate.Validate(); err != nil {
			return nil, fmt.Errorf("track fix %d: %w", i, err)
		}

		fixes = append(fixes, geofence.Fix{
			Coordinate:         coordinate,
			HorizontalAccuracy: point.Accuracy,
		})
	}

	return fixes, nil
}
