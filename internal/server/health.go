package server

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus is the overall verdict of a health check.
type HealthStatus string

const (
	HealthStatusOK          HealthStatus = "ok"
	HealthStatusDegraded    HealthStatus = "degraded"
	HealthStatusUnavailable HealthStatus = "unavailable"
)

// ComponentStatus represents the health of an individual component.
type ComponentStatus string

const (
	ComponentStatusUp   ComponentStatus = "up"
	ComponentStatusDown ComponentStatus = "down"
)

// Health is the /health response body.
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth is the result of probing one dependency.
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs int64           `json:"latency_ms"`
}

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

const healthTimeout = 2 * time.Second

// HandleHealth probes the store and any configured Redis or backup bucket.
// A store outage answers 503. Redis and the bucket only degrade the
// service: the limiter fails open and backups retry on the next tick.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	status := http.StatusOK
	if health.Status == HealthStatusUnavailable {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, health)
}

func (s *Server) checkHealth(ctx context.Context) Health {
	health := Health{
		Timestamp:  s.now().UTC().Format(time.RFC3339),
		Components: make(map[string]ComponentHealth),
	}

	health.Components["store"] = s.probe(ctx, "store", s.store)
	if s.redis != nil {
		health.Components["redis"] = s.probe(ctx, "redis", s.redis)
	}
	if s.bucket != nil {
		health.Components["backup"] = s.probe(ctx, "backup", s.bucket)
	}

	health.Status = overallHealth(health.Components)
	return health
}

func (s *Server) probe(ctx context.Context, name string, p Pinger) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		s.log.WithError(err).Warn("health_component_down", map[string]any{
			"request_id": RequestIDFromContext(ctx),
			"component":  name,
		})
		return ComponentHealth{Status: ComponentStatusDown, Message: "unreachable", LatencyMs: latency}
	}
	return ComponentHealth{Status: ComponentStatusUp, LatencyMs: latency}
}

// overallHealth treats the store as critical and everything else as optional.
func overallHealth(components map[string]ComponentHealth) HealthStatus {
	status := HealthStatusOK
	for name, c := range components {
		if c.Status == ComponentStatusUp {
			continue
		}
		if name == "store" {
			return HealthStatusUnavailable
		}
		status = HealthStatusDegraded
	}
	return status
}
