package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

// Manual implements domain.PriceOracle with operator-posted observations.
// It backs dev mode, where resolutions are driven by hand instead of by an
// aggregator contract.
type Manual struct {
	mu  sync.RWMutex
	obs map[domain.FeedRef]domain.Observation
}

// NewManual returns an empty manual oracle.
func NewManual() *Manual {
	return &Manual{obs: make(map[domain.FeedRef]domain.Observation)}
}

// Post records an observation for feed, replacing any previous one.
func (m *Manual) Post(feed domain.FeedRef, value *big.Int, observedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs[feed] = domain.Observation{
		Value:      new(big.Int).Set(value),
		ObservedAt: observedAt,
	}
}

// Observation returns the latest posted observation for feed.
func (m *Manual) Observation(_ context.Context, feed domain.FeedRef) (domain.Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obs, ok := m.obs[feed]
	if !ok {
		return domain.Observation{}, fmt.Errorf("oracle: no observation for %s: %w",
			feed.Hex(), domain.ErrOracleUnavailable)
	}
	return obs, nil
}
