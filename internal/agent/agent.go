// Package agent holds the registered worker fleet: declared capabilities,
// administrative status and heartbeat-derived health.
package agent

import "time"

type (
	Status string
	Health string
)

const (
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusMaintenance Status = "maintenance"
)

const (
	Healthy   Health = "healthy"
	Degraded  Health = "degraded"
	Unhealthy Health = "unhealthy"
)

// An agent reporting load above this is considered degraded.
const DegradedLoadThreshold = 90.0

// Agents silent for longer than this are unhealthy regardless of the
// health value cached on their last heartbeat.
const DefaultLivenessThreshold = 90 * time.Second

type Capability struct {
	Type           string `json:"capability_type"`
	Version        string `json:"version"`
	MaxConcurrency int    `json:"max_concurrency"`
}

type Agent struct {
	ID            string         `json:"agent_id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	Capabilities  []Capability   `json:"capabilities"`
	Version       string         `json:"version"`
	Status        Status         `json:"status"`
	Config        map[string]any `json:"config,omitempty"`
	RegisteredAt  time.Time      `json:"registered_at"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
}

// Capability returns the agent's declaration for the given capability type.
func (a *Agent) Capability(capType string) (Capability, bool) {
	for _, c := range a.Capabilities {
		if c.Type == capType {
			return c, true
		}
	}
	return Capability{}, false
}

// Heartbeat is the single liveness record per agent, replaced on write.
type Heartbeat struct {
	AgentID        string       `json:"agent_id"`
	Capabilities   []Capability `json:"capabilities"`
	LastSeen       time.Time    `json:"last_seen"`
	LoadPercentage float64      `json:"load_percentage"`
	Version        string       `json:"version"`
	Health         Health       `json:"health"`
}

// HealthFromLoad derives the cached health value from reported load.
func HealthFromLoad(load float64) Health {
	if load > DegradedLoadThreshold {
		return Degraded
	}
	return Healthy
}

// EffectiveHealth treats last_seen as ground truth: a silent agent is
// unhealthy no matter what its heartbeat claimed.
func (h *Heartbeat) EffectiveHealth(now time.Time, liveness time.Duration) Health {
	if h == nil || now.Sub(h.LastSeen) > liveness {
		return Unhealthy
	}
	return h.Health
}
