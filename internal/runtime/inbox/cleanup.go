package inbox

import (
	"context"
	"time"

	errspkg "github.com/burgan-tech/relaybox/internal/runtime/errors"
	"github.com/burgan-tech/relaybox/internal/runtime/logging"
	"github.com/burgan-tech/relaybox/internal/runtime/metrics"
)

// CleanupConfig controls the retention sweep over processed inbox rows.
type CleanupConfig struct {
	// Interval between sweeps.
	Interval time.Duration

	// BatchSize caps the rows deleted per sweep.
	BatchSize int

	// RetentionPeriod is how long processed rows are kept after handling.
	RetentionPeriod time.Duration
}

func (c CleanupConfig) withDefaults() CleanupConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = 7 * 24 * time.Hour
	}
	return c
}

// CleanupService periodically deletes processed inbox rows older than the
// retention period. Rows in Received, Processing, or Failed state are never
// touched.
type CleanupService struct {
	store   Store
	cfg     CleanupConfig
	logger  logging.ServiceLogger
	metrics *metrics.Metrics
	nowFn   func() time.Time
}

// NewCleanupService wires a retention sweep over the given store.
func NewCleanupService(store Store, cfg CleanupConfig, logger logging.ServiceLogger, m *metrics.Metrics) (*CleanupService, error) {
	if store == nil {
		return nil, errspkg.ErrStoreRequired
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &CleanupService{
		store:   store,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(logging.LogFields{"component": "inbox-cleanup"}),
		metrics: m,
		nowFn:   time.Now,
	}, nil
}

// Run sweeps on the configured interval until the context is canceled. Sweep
// errors are logged and the loop continues; only cancellation stops it.
func (s *CleanupService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("inbox cleanup sweep failed", err, nil)
			}
		}
	}
}

// Sweep deletes one batch of expired processed rows.
func (s *CleanupService) Sweep(ctx context.Context) error {
	cutoff := s.nowFn().Add(-s.cfg.RetentionPeriod)
	deleted, err := s.store.DeleteProcessedBefore(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if deleted > 0 {
		if s.metrics != nil {
			s.metrics.InboxCleanupDeleted.Add(float64(deleted))
		}
		s.logger.Debug("purged processed inbox rows", logging.LogFields{
			"deleted": deleted,
			"cutoff":  cutoff,
		})
	}
	return nil
}
