package sync

import (
	"context"
	"fmt"

	"github.com/nexnum/provider-core/internal/platform/logging"
	"github.com/robfig/cron/v3"
)

// Scheduler triggers SyncAll on a fixed cadence. On shutdown, pending
// waits are cancelled but an in-flight run is left to finish.
type Scheduler struct {
	cron *cron.Cron
	sync *Synchronizer
	log  *logging.Logger
}

func NewScheduler(s *Synchronizer, log *logging.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		sync: s,
		log:  log,
	}
}

// Start registers the periodic job at the given hourly cadence and,
// if runOnStart is set, kicks off one run immediately in the
// background.
func (s *Scheduler) Start(ctx context.Context, intervalHours int, runOnStart bool) error {
	if intervalHours <= 0 {
		intervalHours = 12
	}
	spec := fmt.Sprintf("@every %dh", intervalHours)
	_, err := s.cron.AddFunc(spec, func() {
		s.runOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to register sync schedule: %w", err)
	}

	s.cron.Start()

	if runOnStart {
		go s.runOnce(ctx)
	}
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	summaries, err := s.sync.SyncAll(ctx)
	if err != nil {
		s.log.WithError(err).SyncEventLogger("*", "scheduled-sync-failed", nil)
		return
	}
	for _, sm := range summaries {
		if sm.Error != "" {
			s.log.WithVendor(sm.Vendor).SyncEventLogger(sm.Vendor, "scheduled-sync-vendor-failed", map[string]interface{}{"error": sm.Error})
		}
	}
}

// Stop cancels the schedule; the returned context is done once any
// currently-running jobs have returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
