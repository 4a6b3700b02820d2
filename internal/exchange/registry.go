package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/fluxquant/fundarb/internal/models"
)

// CollectorFailure records one exchange's failed snapshot fetch. A failure is
// isolated to its exchange; the cycle proceeds with whatever succeeded.
type CollectorFailure struct {
	Exchange string
	Err      error
}

func (f *CollectorFailure) Error() string {
	return fmt.Sprintf("collector failure on %s: %v", f.Exchange, f.Err)
}

func (f *CollectorFailure) Unwrap() error { return f.Err }

// Registry holds the configured exchange connectors behind per-exchange
// circuit breakers and fans snapshot fetches out concurrently.
type Registry struct {
	mu       sync.RWMutex
	ports    map[string]Port
	breakers map[string]*Breaker
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewRegistry creates a registry over the given connectors.
func NewRegistry(ports []Port, breakerCfg BreakerConfig, fetchTimeout time.Duration, logger *logrus.Logger) *Registry {
	if fetchTimeout <= 0 {
		fetchTimeout = 15 * time.Second
	}
	r := &Registry{
		ports:    make(map[string]Port, len(ports)),
		breakers: make(map[string]*Breaker, len(ports)),
		timeout:  fetchTimeout,
		logger:   logger,
	}
	for _, p := range ports {
		r.ports[p.Name()] = p
		r.breakers[p.Name()] = NewBreaker(p.Name(), breakerCfg, logger)
	}
	return r
}

// Port returns the connector for an exchange.
func (r *Registry) Port(name string) (Port, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.ports[name]
	return p, ok
}

// Names returns the registered exchange identifiers in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ports))
	for name := range r.ports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DisplayName returns the human-facing form of an exchange identifier.
func (r *Registry) DisplayName(name string) string {
	return cases.Title(language.English).String(name)
}

// BreakerStates reports each exchange's breaker state for status queries.
func (r *Registry) BreakerStates() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make(map[string]string, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State().String()
	}
	return states
}

// FundingSnapshots fetches funding observations from every registered exchange
// concurrently. Per-exchange failures are isolated and returned alongside
// whatever succeeded; the map only contains exchanges that answered.
func (r *Registry) FundingSnapshots(ctx context.Context, symbols []string) (map[string][]models.FundingObservation, []*CollectorFailure) {
	r.mu.RLock()
	ports := make(map[string]Port, len(r.ports))
	for name, p := range r.ports {
		ports[name] = p
	}
	r.mu.RUnlock()

	var (
		resultMu sync.Mutex
		results  = make(map[string][]models.FundingObservation, len(ports))
		failures []*CollectorFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	for name, port := range ports {
		name, port := name, port
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, r.timeout)
			defer cancel()

			var observations []models.FundingObservation
			err := r.breakers[name].Execute(fetchCtx, func(ctx context.Context) error {
				var fetchErr error
				observations, fetchErr = port.FundingSnapshots(ctx, symbols)
				return fetchErr
			})
			resultMu.Lock()
			defer resultMu.Unlock()
			if err != nil {
				failures = append(failures, &CollectorFailure{Exchange: name, Err: err})
				r.logger.WithFields(logrus.Fields{
					"exchange": name,
					"error":    err.Error(),
				}).Warn("Funding snapshot fetch failed")
				return nil // isolated, never fails the group
			}
			results[name] = observations
			return nil
		})
	}
	_ = g.Wait()

	return results, failures
}
