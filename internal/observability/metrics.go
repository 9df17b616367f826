package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/oshokin/geofencer/internal/domain/geofence"
	"github.com/oshokin/geofencer/internal/service/scheduler"
)

// namespace prefixes every metric name.
const namespace = "geofencer"

var _ scheduler.Recorder = (*Collector)(nil)

// Collector bundles the geofencer Prometheus metrics.
type Collector struct {
	// gatherer serves the /metrics handler.
	gatherer prometheus.Gatherer

	// CyclesStarted counts armed cycles.
	CyclesStarted prometheus.Counter
	// CyclesCompleted counts successful classifications.
	CyclesCompleted prometheus.Counter
	// CyclesFailed counts missed deadlines.
	CyclesFailed prometheus.Counter
	// ResultsDiscarded counts results of superseded cycles.
	ResultsDiscarded prometheus.Counter
	// CycleDuration observes the time from the start timer to completion.
	CycleDuration prometheus.Histogram
	// Regions reports region counts by proximity class.
	Regions *prometheus.GaugeVec
	// ActiveRegions reports the size of the actively monitored set.
	ActiveRegions prometheus.Gauge
	// SchedulerState is 1 for the current state and 0 for the others.
	SchedulerState *prometheus.GaugeVec

	// RPCRequests counts handled RPCs.
	RPCRequests *prometheus.CounterVec
	// RPCDurations observes RPC latency.
	RPCDurations *prometheus.HistogramVec
}

// NewCollector registers the metrics against reg, defaulting to the global registry.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}

	var err error

	if c.CyclesStarted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_started_total",
		Help:      "Number of processing cycles armed.",
	})); err != nil {
		return nil, err
	}

	if c.CyclesCompleted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_completed_total",
		Help:      "Number of processing cycles that classified every region.",
	})); err != nil {
		return nil, err
	}

	if c.CyclesFailed, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_failed_total",
		Help:      "Number of processing cycles that missed their deadline.",
	})); err != nil {
		return nil, err
	}

	if c.ResultsDiscarded, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "results_discarded_total",
		Help:      "Number of classification results dropped because a newer cycle started.",
	})); err != nil {
		return nil, err
	}

	if c.CycleDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Time from the start timer to a completed classification.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 4, 6},
	})); err != nil {
		return nil, err
	}

	if c.Regions, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "regions",
		Help:      "Registered regions by proximity class after the last cycle.",
	}, []string{"proximity"})); err != nil {
		return nil, err
	}

	if c.ActiveRegions, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_regions",
		Help:      "Regions actively monitored by the positioning provider.",
	})); err != nil {
		return nil, err
	}

	if c.SchedulerState, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduler_state",
		Help:      "Current scheduler state (1 for the active state).",
	}, []string{"state"})); err != nil {
		return nil, err
	}

	if c.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_requests_total",
		Help:      "Handled RPCs by service, method and gRPC status code.",
	}, []string{"service", "method", "code"})); err != nil {
		return nil, err
	}

	if c.RPCDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rpc_duration_seconds",
		Help:      "RPC latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"service", "method"})); err != nil {
		return nil, err
	}

	c.StateChanged(scheduler.StateIdle)

	return c, nil
}

// CycleStarted implements scheduler.Recorder.
func (c *Collector) CycleStarted() {
	if c == nil {
		return
	}

	c.CyclesStarted.Inc()
}

// CycleCompleted implements scheduler.Recorder.
func (c *Collector) CycleCompleted(elapsed time.Duration, report *scheduler.Report) {
	if c == nil {
		return
	}

	c.CyclesCompleted.Inc()
	c.CycleDuration.Observe(elapsed.Seconds())

	if report == nil {
		return
	}

	counts := map[geofence.Proximity]int{
		geofence.ProximityUnknown: 0,
		geofence.ProximityInside:  0,
		geofence.ProximityNear:    0,
		geofence.ProximityFar:     0,
	}

	for _, region := range report.Regions {
		counts[region.Classification.Proximity]++
	}

	for proximity, count := range counts {
		c.Regions.WithLabelValues(proximity.String()).Set(float64(count))
	}

	c.ActiveRegions.Set(float64(len(report.Active)))
}

// CycleFailed implements scheduler.Recorder.
func (c *Collector) CycleFailed() {
	if c == nil {
		return
	}

	c.CyclesFailed.Inc()
}

// ResultDiscarded implements scheduler.Recorder.
func (c *Collector) ResultDiscarded() {
	if c == nil {
		return
	}

	c.ResultsDiscarded.Inc()
}

// StateChanged implements scheduler.Recorder.
func (c *Collector) StateChanged(state scheduler.State) {
	if c == nil {
		return
	}

	for _, candidate := range []scheduler.State{scheduler.StateIdle, scheduler.StateProcessing, scheduler.StateFailed} {
		value := 0.0
		if candidate == state {
			value = 1
		}

		c.SchedulerState.WithLabelValues(candidate.String()).Set(value)
	}
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *Collector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}

		service, method := SplitMethod(fullMethod)

		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

// Handler exposes the /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses "/pkg.Service/Method" into "Service" and "Method",
// returning "unknown" for the parts it cannot find.
func SplitMethod(fullMethod string) (string, string) {
	parts := strings.Split(strings.TrimPrefix(fullMethod, "/"), "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}

	service := parts[len(parts)-2]
	method := parts[len(parts)-1]

	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}

	if service == "" {
		service = "unknown"
	}

	if method == "" {
		method = "unknown"
	}

	return service, method
}

// register adds collector to reg, reusing an already registered collector of the same type.
func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError) //nolint:errorlint // Registry returns the value type.
		if !ok {
			return collector, err
		}

		existing, ok := are.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector %T already registered with incompatible type", collector)
		}

		return existing, nil
	}

	return collector, nil
}
