package agent

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fra-l/verifai/internal/comms"
)

// ProposerFactory builds the Proposer for a role.
type ProposerFactory func(role Role) Proposer

// Registry maps roles to proposer factories and manages the lifecycle of
// spawned runtimes.
type Registry struct {
	mu        sync.Mutex
	bus       *comms.MessageBus
	logger    *zap.Logger
	factories map[Role]ProposerFactory
	spawned   []*Runtime
}

// NewRegistry creates a Registry whose specialists all share one proposer
// factory. Individual roles can be overridden with Register.
func NewRegistry(bus *comms.MessageBus, factory ProposerFactory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		bus:       bus,
		logger:    logger,
		factories: make(map[Role]ProposerFactory),
	}
	for _, role := range SpecialistRoles {
		r.factories[role] = factory
	}
	return r
}

// Register swaps the factory for one role.
func (r *Registry) Register(role Role, factory ProposerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[role] = factory
}

// Spawn starts a single runtime by role using the registered factory.
func (r *Registry) Spawn(ctx context.Context, role Role) (*Runtime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[role]
	if !ok {
		return nil, fmt.Errorf("agent: no factory registered for role %q", role)
	}
	rt := NewRuntime(role, r.bus, factory(role), r.logger)
	if err := rt.Start(ctx); err != nil {
		return nil, err
	}
	r.spawned = append(r.spawned, rt)
	return rt, nil
}

// SpawnAll starts runtimes for all specialist roles in spawn order. On
// failure, runtimes started so far are stopped.
func (r *Registry) SpawnAll(ctx context.Context) ([]*Runtime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var runtimes []*Runtime
	for _, role := range SpecialistRoles {
		factory, ok := r.factories[role]
		if !ok {
			stopAll(runtimes)
			return nil, fmt.Errorf("agent: no factory registered for role %q", role)
		}
		rt := NewRuntime(role, r.bus, factory(role), r.logger)
		if err := rt.Start(ctx); err != nil {
			stopAll(runtimes)
			return nil, fmt.Errorf("agent: start %q: %w", role, err)
		}
		runtimes = append(runtimes, rt)
	}
	r.spawned = append(r.spawned, runtimes...)
	return runtimes, nil
}

// StopAll stops all spawned runtimes in reverse order.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	stopAll(r.spawned)
	r.spawned = nil
}

func stopAll(runtimes []*Runtime) {
	for i := len(runtimes) - 1; i >= 0; i-- {
		runtimes[i].Stop()
	}
}
