package integration

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/geofencer/internal/config"
	"github.com/oshokin/geofencer/internal/domain/geofence"
	"github.com/oshokin/geofencer/internal/service/common"
	"github.com/oshokin/geofencer/internal/service/geofencer"
	"github.com/oshokin/geofencer/internal/wire"
)

// depot is where the test device stands.
var depot = geofence.Coordinate{Latitude: 52.52, Longitude: 13.405} //nolint:gochecknoglobals // Test fixture.

// freeAddress reserves a free local port.
func freeAddress(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}

// startServer starts the geofence server with a short cycle and returns a stop function.
func startServer(t *testing.T, cfg *config.Config, regionsPath string) (stop func()) {
	t.Helper()

	// Create cancellable context for server lifecycle.
	ctx, cancel := context.WithCancel(context.Background())
	cfgPath := filepath.Join(t.TempDir(), "settings.yaml")

	require.NoError(t, config.Save(cfgPath, cfg))

	done := make(chan error, 1)

	// Start server in background goroutine.
	go func() {
		done <- geofencer.Run(ctx, &geofencer.Options{
			ConfigPath:  cfgPath,
			RegionsFile: regionsPath,
		})
	}()

	return func() {
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	}
}

// regionByID finds a region in a GetState response.
func regionByID(state *structpb.Struct, id string) map[string]*structpb.Value {
	for _, value := range state.GetFields()[wire.FieldRegions].GetListValue().GetValues() {
		fields := value.GetStructValue().GetFields()
		if fields[wire.FieldID].GetStringValue() == id {
			return fields
		}
	}

	return nil
}

// TestGeofencer_EndToEnd registers regions, reports a fix and waits for the cycle to classify them.
func TestGeofencer_EndToEnd(t *testing.T) {
	t.Parallel()

	addr := freeAddress(t)
	metricsAddr := freeAddress(t)
	regionsPath := filepath.Join(t.TempDir(), "regions.json")

	stop := startServer(t, &config.Config{
		ServerAddress:  addr,
		MetricsAddress: metricsAddr,
		LogLevel:       "warn",
		Cycle: config.CycleConfig{
			InterCycleDelay: 600 * time.Millisecond,
			DeadlineBudget:  400 * time.Millisecond,
		},
	}, regionsPath)
	defer stop()

	ctx := context.Background()

	c, err := common.Dial(ctx, addr, common.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	defer func() { _ = c.Close() }()

	require.Eventually(t, func() bool {
		_, err := c.GetState(ctx)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, c.ReportFix(ctx, geofence.Fix{Coordinate: depot, Timestamp: time.Now()}))

	_, err = c.MonitorRegion(ctx, wire.RegionSpec{ID: "yard", Center: depot, Radius: 30})
	require.NoError(t, err)

	_, err = c.MonitorRegion(ctx, wire.RegionSpec{ID: "gate", Center: geofence.OffsetNorth(depot, 75), Radius: 20})
	require.NoError(t, err)

	// Keep reporting fixes so one lands inside the classification window.
	require.Eventually(t, func() bool {
		if err := c.ReportFix(ctx, geofence.Fix{Coordinate: depot, Timestamp: time.Now()}); err != nil {
			return false
		}

		state, err := c.GetState(ctx)
		if err != nil {
			return false
		}

		if state.GetFields()[wire.FieldState].GetStringValue() == "failed" {
			_ = c.Retry(ctx)
			return false
		}

		yard := regionByID(state, "yard")
		gate := regionByID(state, "gate")

		return yard[wire.FieldProximity].GetStringValue() == "inside" &&
			gate[wire.FieldProximity].GetStringValue() == "near" &&
			gate[wire.FieldBucket].GetNumberValue() == 50
	}, 10*time.Second, 100*time.Millisecond)

	response, err := http.Get("http://" + metricsAddr + "/metrics") //nolint:noctx // Test code.
	require.NoError(t, err)

	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "geofencer_cycles_completed_total")
	require.Contains(t, string(body), `geofencer_rpc_requests_total{code="OK",method="MonitorRegion",service="GeofenceService"} 2`)
}

// TestGeofencer_RegionsSurviveRestart persists regions and restores them on the next start.
func TestGeofencer_RegionsSurviveRestart(t *testing.T) {
	t.Parallel()

	addr := freeAddress(t)
	regionsPath := filepath.Join(t.TempDir(), "regions.json")
	cfg := &config.Config{ServerAddress: addr, LogLevel: "warn"}

	stop := startServer(t, cfg, regionsPath)

	ctx := context.Background()

	c, err := common.Dial(ctx, addr, common.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	defer func() { _ = c.Close() }()

	require.Eventually(t, func() bool {
		_, err := c.MonitorRegion(ctx, wire.RegionSpec{ID: "office", Center: depot, Radius: 60})
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	stop()

	stop = startServer(t, cfg, regionsPath)
	defer stop()

	require.Eventually(t, func() bool {
		state, err := c.GetState(ctx)
		if err != nil {
			return false
		}

		return regionByID(state, "office") != nil
	}, 5*time.Second, 50*time.Millisecond)
}
