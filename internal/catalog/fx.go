package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RateSource provides the raw conversion factor. Satisfied by *Store.
type RateSource interface {
	DollarRate(ctx context.Context) (float64, error)
}

// ErrRateUnavailable means no rate has been loaded yet.
var ErrRateUnavailable = errors.New("exchange rate not loaded")

// FXCache holds the USD to MXN rate between scheduled refreshes, so
// conversions during a chat never block on the database. A cron entry
// calls Refresh; on refresh failure the last good rate keeps serving.
type FXCache struct {
	source RateSource
	logger *slog.Logger

	mu        sync.RWMutex
	rate      float64
	refreshed time.Time
}

// NewFXCache creates an empty cache. Call Refresh before first use.
func NewFXCache(source RateSource, logger *slog.Logger) *FXCache {
	return &FXCache{source: source, logger: logger}
}

// Refresh reloads the rate from the source.
func (c *FXCache) Refresh(ctx context.Context) error {
	rate, err := c.source.DollarRate(ctx)
	if err != nil {
		c.logger.Warn("fx rate refresh failed, keeping previous rate", "error", err)
		return fmt.Errorf("refresh fx rate: %w", err)
	}
	if rate <= 0 {
		c.logger.Warn("fx rate refresh returned non-positive rate, keeping previous", "rate", rate)
		return fmt.Errorf("refresh fx rate: non-positive rate %v", rate)
	}

	c.mu.Lock()
	c.rate = rate
	c.refreshed = time.Now()
	c.mu.Unlock()

	c.logger.Debug("fx rate refreshed", "rate", rate)
	return nil
}

// Rate returns the cached USD to MXN factor.
func (c *FXCache) Rate() (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rate <= 0 {
		return 0, ErrRateUnavailable
	}
	return c.rate, nil
}

// Age reports how long ago the rate was refreshed. Zero time means
// never.
func (c *FXCache) Age() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshed
}
