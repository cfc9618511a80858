// Package resilience provides the retry and circuit breaker wrappers used
// around calls to the ACME service.
package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ServiceBreaker wraps gobreaker with the agent defaults
type ServiceBreaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// BreakerOption configures a ServiceBreaker
type BreakerOption func(*gobreaker.Settings)

// WithTimeout sets the period of the open state before becoming half-open
func WithTimeout(d time.Duration) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.Timeout = d
	}
}

// WithFailureThreshold sets the number of consecutive failures before opening
func WithFailureThreshold(n uint32) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= n
		}
	}
}

// WithOnStateChange sets a callback for state changes
func WithOnStateChange(fn func(name string, from, to string)) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.OnStateChange = func(name string, from, to gobreaker.State) {
			fn(name, from.String(), to.String())
		}
	}
}

// WithSuccessClassifier marks errors that should not count as failures
func WithSuccessClassifier(fn func(error) bool) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.IsSuccessful = fn
	}
}

// NewServiceBreaker creates a breaker.
// Defaults: 1 half-open request, 60s count window, 60s open period, 5 consecutive failures to trip.
func NewServiceBreaker(name string, opts ...BreakerOption) *ServiceBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	for _, opt := range opts {
		opt(&settings)
	}

	return &ServiceBreaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Execute runs an operation through the circuit breaker
func (b *ServiceBreaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// IsOpenError reports whether err came from a rejecting breaker
func IsOpenError(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
