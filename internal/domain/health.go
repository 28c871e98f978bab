package domain

import "time"

// Health status values reported by the readiness endpoint.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck captures the outcome of probing one dependency.
type SystemHealthCheck struct {
	Status    string        `json:"status"`
	Latency   time.Duration `json:"latencyMs,omitempty"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checkedAt"`
}
