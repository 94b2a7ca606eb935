package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type Settings struct {
	Name string
	// consecutive failures that open the breaker
	MaxFailures uint32
	// how long the breaker stays open before letting a trial request through
	OpenTimeout time.Duration
	// errors for which IsSuccessful returns true do not count as failures
	IsSuccessful func(err error) bool
}

func DefaultSettings(name string) Settings {
	return Settings{
		Name:        name,
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	}
}

// New builds a typed breaker that logs state changes.
func New[T any](s Settings, log *zap.Logger) *gobreaker.CircuitBreaker[T] {
	if log == nil {
		log = zap.NewNop()
	}
	maxFailures := s.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: s.IsSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}
