package regions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/geofencer/internal/domain/geofence"
)

// TestFileRepository_NotFound verifies Load returns ErrNotFound for missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"))
	regions, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, regions)
}

// TestFileRepository_SaveLoad_Roundtrip ensures Save followed by Load returns the same regions.
func TestFileRepository_SaveLoad_Roundtrip(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "regions.json")
	repo := NewFileRepository(file)

	home, err := geofence.NewRegion("home", geofence.Coordinate{Latitude: 55.7558, Longitude: 37.6173}, 150)
	require.NoError(t, err)

	office, err := geofence.NewRegion("office", geofence.Coordinate{Latitude: 59.9343, Longitude: 30.3351}, 80)
	require.NoError(t, err)

	office.Apply(geofence.Evaluation{Classification: geofence.Inside(), Active: true})

	require.NoError(t, repo.Save(context.Background(), []geofence.Snapshot{home.Snapshot(), office.Snapshot()}))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, "home", got[0].ID())
	require.Equal(t, home.Center(), got[0].Center())
	require.InDelta(t, 150.0, got[0].Radius(), 0)

	require.Equal(t, "office", got[1].ID())
	require.Equal(t, geofence.Evaluation{}, got[1].Evaluation())

	_, err = os.Stat(file)
	require.NoError(t, err)

	_, err = os.Stat(file + ".tmp")
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestFileRepository_SaveEmpty persists an empty registry.
func TestFileRepository_SaveEmpty(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "regions.json"))
	require.NoError(t, repo.Save(context.Background(), nil))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, got)
}

// TestFileRepository_Corrupt reports decode errors.
func TestFileRepository_Corrupt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: "{"},
		{name: "invalid radius", content: `{"regions":[{"id":"x","latitude":1,"longitude":1,"radius":0}]}`},
		{name: "regions not a list", content: `{"regions":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			file := filepath.Join(t.TempDir(), "regions.json")
			require.NoError(t, os.WriteFile(file, []byte(tt.content), 0o600))

			_, err := NewFileRepository(file).Load(context.Background())
			require.Error(t, err)
			require.NotErrorIs(t, err, ErrNotFound)
		})
	}
}
