package agent

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var ErrAgentNotFound = errors.New("agent not found")

// Store is the durable write-through target for agent state.
type Store interface {
	UpsertAgent(ctx context.Context, a *Agent) error
	SaveHeartbeat(ctx context.Context, hb *Heartbeat) error
}

// Registry tracks registered agents and their heartbeats. Critical sections
// are short and copy data out; event emission and alerting happen in the
// callers, outside the lock.
type Registry struct {
	mu       sync.Mutex
	agents   map[string]*Agent
	beats    map[string]*Heartbeat
	offline  map[string]bool
	liveness time.Duration
	store    Store
	now      func() time.Time
}

func NewRegistry(store Store, liveness time.Duration) *Registry {
	if liveness <= 0 {
		liveness = DefaultLivenessThreshold
	}
	return &Registry{
		agents:   make(map[string]*Agent),
		beats:    make(map[string]*Heartbeat),
		offline:  make(map[string]bool),
		liveness: liveness,
		store:    store,
		now:      time.Now,
	}
}

// SetClock overrides the registry's time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Register creates the agent or, on re-registration with the same id,
// updates capabilities, version and config in place. Returns true when the
// agent was newly created.
func (r *Registry) Register(ctx context.Context, a *Agent) (bool, error) {
	now := r.now()

	r.mu.Lock()
	existing, ok := r.agents[a.ID]
	created := !ok
	if ok {
		existing.Name = a.Name
		existing.Type = a.Type
		existing.Capabilities = a.Capabilities
		existing.Version = a.Version
		existing.Config = a.Config
		existing.Status = StatusActive
	} else {
		stored := *a
		stored.Status = StatusActive
		stored.RegisteredAt = now
		r.agents[a.ID] = &stored
	}
	delete(r.offline, a.ID)
	snapshot := *r.agents[a.ID]
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpsertAgent(ctx, &snapshot); err != nil {
			return created, err
		}
	}
	return created, nil
}

// Deregister soft-retires the agent; it is never hard-deleted.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return ErrAgentNotFound
	}
	a.Status = StatusInactive
	snapshot := *a
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpsertAgent(ctx, &snapshot); err != nil {
			return err
		}
	}
	return nil
}

// Beat ingests a liveness ping. The heartbeat record is replaced, not
// appended; health is recomputed from the reported load.
func (r *Registry) Beat(ctx context.Context, id string, caps []Capability, load float64, version string) error {
	now := r.now()
	hb := &Heartbeat{
		AgentID:        id,
		Capabilities:   caps,
		LastSeen:       now,
		LoadPercentage: load,
		Version:        version,
		Health:         HealthFromLoad(load),
	}

	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return ErrAgentNotFound
	}
	a.LastHeartbeat = now
	if len(caps) > 0 {
		a.Capabilities = caps
	}
	r.beats[id] = hb
	delete(r.offline, id)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveHeartbeat(ctx, hb); err != nil {
			log.Printf("registry: failed to persist heartbeat for %s: %v", id, err)
		}
	}
	return nil
}

// Candidate is a dispatch-eligible agent with its current heartbeat view.
type Candidate struct {
	Agent          Agent
	Load           float64
	Health         Health
	MaxConcurrency int
}

// Query returns active agents whose effective health is not unhealthy,
// filtered to those declaring the given capability. An empty capability
// matches every active healthy agent.
func (r *Registry) Query(capability string) []Candidate {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Candidate, 0, len(r.agents))
	for id, a := range r.agents {
		if a.Status != StatusActive {
			continue
		}
		hb := r.beats[id]
		health := hb.EffectiveHealth(now, r.liveness)
		if health == Unhealthy {
			continue
		}
		maxConcurrency := 0
		if capability != "" {
			decl, ok := a.Capability(capability)
			if !ok {
				continue
			}
			maxConcurrency = decl.MaxConcurrency
		}
		out = append(out, Candidate{
			Agent:          *a,
			Load:           hb.LoadPercentage,
			Health:         health,
			MaxConcurrency: maxConcurrency,
		})
	}
	return out
}

// Get returns copies of the agent and its last heartbeat.
func (r *Registry) Get(id string) (Agent, *Heartbeat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return Agent{}, nil, false
	}
	var hb *Heartbeat
	if b := r.beats[id]; b != nil {
		copied := *b
		hb = &copied
	}
	return *a, hb, true
}

// Sweep marks agents silent past the liveness threshold as unhealthy and
// returns the ids that newly went offline. The lock is held only for the
// mark pass; the caller emits events and alerts.
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for id, a := range r.agents {
		if a.Status != StatusActive || r.offline[id] {
			continue
		}
		hb := r.beats[id]
		if hb == nil {
			// Not yet beating: the liveness window runs from registration,
			// so a freshly registered agent is not declared offline.
			if now.Sub(a.RegisteredAt) <= r.liveness {
				continue
			}
		} else {
			if hb.EffectiveHealth(now, r.liveness) != Unhealthy {
				continue
			}
			hb.Health = Unhealthy
		}
		r.offline[id] = true
		expired = append(expired, id)
	}
	return expired
}
