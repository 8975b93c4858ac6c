package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/mcpay/gateway/internal/config"
)

// ServiceType identifies external services for circuit breaker isolation.
type ServiceType string

const (
	ServiceFacilitator ServiceType = "facilitator"
	ServiceAutoSigner  ServiceType = "auto_signer"
	ServiceUpstream    ServiceType = "upstream"
)

// Manager manages circuit breakers for the gateway's external services.
// Each service has its own breaker so a failing facilitator cannot take
// down unpaid proxying and vice versa.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	enabled  bool
}

// NewManagerFromConfig creates a circuit breaker manager from application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		enabled:  cfg.Enabled,
	}
	if !cfg.Enabled {
		return m
	}
	m.breakers[ServiceFacilitator] = gobreaker.NewCircuitBreaker(toSettings(string(ServiceFacilitator), cfg.Facilitator))
	m.breakers[ServiceAutoSigner] = gobreaker.NewCircuitBreaker(toSettings(string(ServiceAutoSigner), cfg.AutoSigner))
	m.breakers[ServiceUpstream] = gobreaker.NewCircuitBreaker(toSettings(string(ServiceUpstream), cfg.Upstream))
	return m
}

// Execute wraps a function call with circuit breaker protection. If the
// breaker is disabled or not configured for the service, the call passes
// through.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.enabled {
		return fn()
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}
	return breaker.Execute(fn)
}

// State returns the current state of a circuit breaker. Returns
// "disabled" when breakers are off.
func (m *Manager) State(service ServiceType) string {
	if !m.enabled {
		return "disabled"
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return breaker.State().String()
}

func toSettings(name string, cfg config.BreakerConfig) gobreaker.Settings {
	maxRequests := cfg.MaxRequests
	if maxRequests == 0 {
		maxRequests = 1
	}
	timeout := cfg.Timeout.Duration
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Interval:    cfg.Interval.Duration,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRate >= cfg.FailureRatio
			}
			return false
		},
	}
}
