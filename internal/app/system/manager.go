package system

import (
	"context"
	"fmt"
	"sync"

	"github.com/step-security-bot/neucore/pkg/logger"
)

// Manager starts and stops registered services in a deterministic order:
// registration order on start, reverse order on stop.
type Manager struct {
	mu       sync.Mutex
	services []Service
	started  bool
	log      *logger.Logger
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{log: logger.NewDefault("system")}
}

// Register adds a service. Registration after start is an error.
func (m *Manager) Register(service Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("cannot register %s: manager already started", service.Name())
	}
	for _, existing := range m.services {
		if existing.Name() == service.Name() {
			return fmt.Errorf("service %s already registered", service.Name())
		}
	}
	m.services = append(m.services, service)
	return nil
}

// Start starts all services. The first failure stops the ones already
// started, in reverse order, and is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, service := range m.services {
		if err := service.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := m.services[j].Stop(ctx); stopErr != nil {
					m.log.WithError(stopErr).Warnf("stop %s after failed start", m.services[j].Name())
				}
			}
			return fmt.Errorf("start %s: %w", service.Name(), err)
		}
	}
	m.started = true
	return nil
}

// Stop stops all services in reverse registration order. All services are
// stopped even if some fail; the first error is returned.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for i := len(m.services) - 1; i >= 0; i-- {
		if err := m.services[i].Stop(ctx); err != nil {
			m.log.WithError(err).Warnf("stop %s", m.services[i].Name())
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", m.services[i].Name(), err)
			}
		}
	}
	m.started = false
	return firstErr
}
