package configsvc

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"bazaarbot/config"
	"bazaarbot/core/utils"
)

const backfillRunTimeout = 10 * time.Minute

// BackfillScheduler re-runs the idempotent backfill on a cron schedule while
// a migration window is open, so tenants provisioned or edited through legacy
// tooling mid-window still converge onto the new store.
type BackfillScheduler struct {
	cfg    config.MigrationConfig
	svc    *Service
	cron   *cron.Cron
	logger *utils.Logger
}

func NewBackfillScheduler(cfg config.MigrationConfig, svc *Service, logger *utils.Logger) *BackfillScheduler {
	return &BackfillScheduler{cfg: cfg, svc: svc, cron: cron.New(), logger: logger}
}

func (b *BackfillScheduler) Start() {
	if !b.cfg.BackfillEnabled {
		return
	}
	_, err := b.cron.AddFunc(b.cfg.BackfillCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), backfillRunTimeout)
		defer cancel()
		if _, err := b.svc.Backfill(ctx, "scheduler"); err != nil {
			b.logger.Errorf("scheduled backfill: %v", err)
		}
	})
	if err != nil {
		b.logger.Errorf("backfill schedule %q: %v", b.cfg.BackfillCron, err)
		return
	}
	b.cron.Start()
	b.logger.Printf("BACKFILL scheduler started cron=%q", b.cfg.BackfillCron)
}

func (b *BackfillScheduler) Stop() {
	b.cron.Stop()
}
