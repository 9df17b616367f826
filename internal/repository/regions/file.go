package regions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/geofencer/internal/config"
	"github.com/oshokin/geofencer/internal/domain/geofence"
	"github.com/oshokin/geofencer/internal/wire"
)

// Repository defines persistence operations for registered regions.
type Repository interface {
	Load(ctx context.Context) ([]*geofence.Region, error)
	Save(ctx context.Context, regions []geofence.Snapshot) error
}

// FileRepository persists regions to a JSON file on disk.
// JSON is produced and consumed via protobuf JSON (protojson) so the file
// matches the region payloads of the gRPC API.
type FileRepository struct {
	// path is the filesystem location of the JSON regions file.
	path string
	// mu protects concurrent access to the regions file.
	mu sync.Mutex
}

var _ Repository = (*FileRepository)(nil)

// ErrNotFound is returned when the regions file does not exist yet.
var ErrNotFound = errors.New("regions not found")

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the file location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the regions from disk in their stored order.
func (r *FileRepository) Load(_ context.Context) ([]*geofence.Region, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read regions file: %w", err)
	}

	var document structpb.Struct
	if err = protojson.Unmarshal(contents, &document); err != nil {
		return nil, fmt.Errorf("decode regions file: %w", err)
	}

	specs, err := wire.RegionListFromStruct(&document)
	if err != nil {
		return nil, fmt.Errorf("decode regions file: %w", err)
	}

	result := make([]*geofence.Region, 0, len(specs))

	for _, spec := range specs {
		region, err := spec.Region()
		if err != nil {
			return nil, fmt.Errorf("restore region %q: %w", spec.ID, err)
		}

		result = append(result, region)
	}

	return result, nil
}

// Save replaces the file with the given regions.
func (r *FileRepository) Save(_ context.Context, regions []geofence.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	specs := make([]wire.RegionSpec, 0, len(regions))
	for _, region := range regions {
		specs = append(specs, wire.SpecOf(region))
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline: true,
		Indent:    "  ",
	}

	data, err := marshalOptions.Marshal(wire.RegionListToStruct(specs))
	if err != nil {
		return fmt.Errorf("encode regions: %w", err)
	}

	// Write next to the target and rename so readers never see a partial file.
	tmp := r.path + ".tmp"

	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write regions file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace regions file: %w", err)
	}

	return nil
}
