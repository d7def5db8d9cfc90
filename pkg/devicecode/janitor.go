package devicecode

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/dashborion/pkg/observability"
)

// Janitor periodically sweeps expired records out of stores without native
// TTL expiry (the in-memory store). Redis-backed stores expire keys
// themselves and never implement Sweeper.
type Janitor struct {
	cron    *cron.Cron
	sweeper Sweeper
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewJanitor creates a janitor over a sweepable store.
func NewJanitor(sweeper Sweeper, logger *observability.Logger, metrics *observability.Metrics) *Janitor {
	return &Janitor{
		cron:    cron.New(),
		sweeper: sweeper,
		logger:  logger,
		metrics: metrics,
	}
}

// Start schedules the sweep every minute and runs until Stop.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc("@every 1m", j.sweep); err != nil {
		return fmt.Errorf("failed to schedule device-code sweep: %w", err)
	}
	j.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) sweep() {
	swept, err := j.sweeper.SweepExpired(context.Background())
	if err != nil {
		j.logger.WithError(err).Error("device-code sweep failed")
		return
	}
	if swept > 0 {
		j.metrics.DeviceCodesSweptTotal.Add(float64(swept))
		j.logger.WithField("swept", swept).Debug("expired device codes removed")
	}
}
