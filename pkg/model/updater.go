package model

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Refresher is anything with a periodic refresh, i.e. the device models.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Updater drives one model's refresh loop. Each device gets its own
// updater; loops for different devices are fully independent and a failure
// in one never affects another.
type Updater struct {
	target   Refresher
	interval time.Duration
	logger   log.FieldLogger
}

// NewUpdater creates a refresh loop for target, polling at the given
// interval.
func NewUpdater(target Refresher, interval time.Duration, logger log.FieldLogger) *Updater {
	if logger == nil {
		logger = log.WithField("component", "updater")
	}
	return &Updater{
		target:   target,
		interval: interval,
		logger:   logger,
	}
}

// Run refreshes the model until ctx is cancelled. Refresh errors are
// logged, never fatal; the next tick tries again.
func (u *Updater) Run(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.logger.Debug("updater started")
	for {
		select {
		case <-ctx.Done():
			u.logger.Debug("updater stopped")
			return
		case <-ticker.C:
			if err := u.target.Refresh(ctx); err != nil {
				u.logger.Warnf("refresh failed: %v", err)
			}
		}
	}
}
