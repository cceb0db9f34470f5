package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Layer load outcomes.
const (
	LoadOK        = "ok"
	LoadError     = "error"
	LoadCancelled = "cancelled"
)

// EngineCollector bundles Prometheus metrics for the globe engine: the frame
// loop, layer pipelines, the websocket broadcast and the gRPC surface.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	FrameDuration       prometheus.Histogram
	Frames              prometheus.Counter
	PropagationFailures prometheus.Counter
	CatalogDropped      *prometheus.CounterVec

	LayerLoads        *prometheus.CounterVec
	LayerLoadDuration *prometheus.HistogramVec
	LayerEntities     *prometheus.GaugeVec
	RowsDropped       *prometheus.CounterVec
	Beeps             prometheus.Counter

	WSClients       prometheus.Gauge
	WSFramesDropped prometheus.Counter
	WSCommands      *prometheus.CounterVec

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewEngineCollector registers engine metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &EngineCollector{gatherer: gatherer}
	var err error

	if c.FrameDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "globe_frame_duration_seconds",
		Help:    "Time spent advancing the clock, propagating the catalog and publishing one frame.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.025, 0.05, 0.1},
	}), "globe_frame_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Frames, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "globe_frames_total",
		Help: "Frames produced by the frame loop.",
	}), "globe_frames_total"); err != nil {
		return nil, err
	}
	if c.PropagationFailures, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "globe_propagation_failures_total",
		Help: "Per-frame propagation failures; the object kept its previous position.",
	}), "globe_propagation_failures_total"); err != nil {
		return nil, err
	}
	if c.CatalogDropped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_catalog_dropped_total",
		Help: "Element sets dropped while loading the catalog, labeled by reason.",
	}, []string{"reason"}), "globe_catalog_dropped_total"); err != nil {
		return nil, err
	}
	if c.LayerLoads, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_layer_loads_total",
		Help: "Layer fetch pipelines, labeled by layer and outcome.",
	}, []string{"layer", "outcome"}), "globe_layer_loads_total"); err != nil {
		return nil, err
	}
	if c.LayerLoadDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "globe_layer_load_duration_seconds",
		Help:    "Duration of layer fetch pipelines.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"layer"}), "globe_layer_load_duration_seconds"); err != nil {
		return nil, err
	}
	if c.LayerEntities, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "globe_layer_entities",
		Help: "Entities currently held by each layer.",
	}, []string{"layer"}), "globe_layer_entities"); err != nil {
		return nil, err
	}
	if c.RowsDropped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_rows_dropped_total",
		Help: "Malformed dataset rows dropped during layer loads.",
	}, []string{"layer"}), "globe_rows_dropped_total"); err != nil {
		return nil, err
	}
	if c.Beeps, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "globe_beeps_total",
		Help: "Telemetry pulses emitted by the in-situ beeper.",
	}), "globe_beeps_total"); err != nil {
		return nil, err
	}
	if c.WSClients, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "globe_ws_clients",
		Help: "Connected websocket renderer clients.",
	}), "globe_ws_clients"); err != nil {
		return nil, err
	}
	if c.WSFramesDropped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "globe_ws_frames_dropped_total",
		Help: "Frames not sent to a client because of rate limiting or a full send buffer.",
	}), "globe_ws_frames_dropped_total"); err != nil {
		return nil, err
	}
	if c.WSCommands, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_ws_commands_total",
		Help: "Commands received over websocket, labeled by command and outcome.",
	}, []string{"command", "outcome"}), "globe_ws_commands_total"); err != nil {
		return nil, err
	}
	if c.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_grpc_requests_total",
		Help: "Total number of handled RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "globe_grpc_requests_total"); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "globe_grpc_request_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "globe_grpc_request_duration_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// ObserveFrame records one frame of the frame loop.
func (c *EngineCollector) ObserveFrame(d time.Duration) {
	if c == nil {
		return
	}
	c.Frames.Inc()
	c.FrameDuration.Observe(d.Seconds())
}

// AddPropagationFailures counts per-frame propagation failures.
func (c *EngineCollector) AddPropagationFailures(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.PropagationFailures.Add(float64(n))
}

// AddCatalogDropped counts element sets dropped at load time.
func (c *EngineCollector) AddCatalogDropped(reason string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.CatalogDropped.WithLabelValues(reason).Add(float64(n))
}

// ObserveLayerLoad records the outcome of a layer fetch pipeline.
func (c *EngineCollector) ObserveLayerLoad(layer, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.LayerLoads.WithLabelValues(layer, outcome).Inc()
	if outcome == LoadOK {
		c.LayerLoadDuration.WithLabelValues(layer).Observe(d.Seconds())
	}
}

// SetLayerEntities updates the entity gauge for a layer.
func (c *EngineCollector) SetLayerEntities(layer string, n int) {
	if c == nil {
		return
	}
	c.LayerEntities.WithLabelValues(layer).Set(float64(n))
}

// AddRowsDropped counts malformed rows skipped during a load.
func (c *EngineCollector) AddRowsDropped(layer string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.RowsDropped.WithLabelValues(layer).Add(float64(n))
}

// AddBeeps counts emitted pulses.
func (c *EngineCollector) AddBeeps(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.Beeps.Add(float64(n))
}

// SetWSClients updates the connected client gauge.
func (c *EngineCollector) SetWSClients(n int) {
	if c == nil {
		return
	}
	c.WSClients.Set(float64(n))
}

// IncWSFramesDropped counts a frame skipped for one client.
func (c *EngineCollector) IncWSFramesDropped() {
	if c == nil {
		return
	}
	c.WSFramesDropped.Inc()
}

// IncWSCommand counts a websocket command by outcome.
func (c *EngineCollector) IncWSCommand(command, outcome string) {
	if c == nil {
		return
	}
	c.WSCommands.WithLabelValues(command, outcome).Inc()
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *EngineCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
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
		code := status.Code(err).String()

		c.RPCRequests.WithLabelValues(service, method, code).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EngineCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into the short
// service name and method used as metric labels.
func SplitMethod(fullMethod string) (string, string) {
	service, method := splitFullMethod(fullMethod)
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	return service, method
}

// splitFullMethod splits "/pkg.Service/Method" into the package-qualified
// service and the method.
func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(strings.TrimPrefix(fullMethod, "/"), "/")
	if fullMethod == "" || len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register adds c to reg, returning the already registered collector when an
// identical one exists so that collectors can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, name string) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			var zero C
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero C
		return zero, err
	}
	return c, nil
}
