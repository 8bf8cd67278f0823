package service

import (
	"context"
	"time"

	"featuregate/internal/repository"
	"featuregate/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SubscriptionSweeper marks elapsed subscriptions expired on a cron schedule.
// Resolution checks the validity window itself, so a late sweep never grants
// an expired package.
type SubscriptionSweeper struct {
	catalog  repository.CatalogInterface
	schedule string
	now      func() time.Time
}

func NewSubscriptionSweeper(catalog repository.CatalogInterface, schedule string) *SubscriptionSweeper {
	return &SubscriptionSweeper{
		catalog:  catalog,
		schedule: schedule,
		now:      time.Now,
	}
}

// Run blocks until ctx is done. It fails fast on an invalid schedule.
func (s *SubscriptionSweeper) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		s.Sweep(ctx)
	}); err != nil {
		return err
	}
	c.Start()
	logger.Info("subscription sweeper started", zap.String("schedule", s.schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("subscription sweeper stopped")
	return nil
}

func (s *SubscriptionSweeper) Sweep(ctx context.Context) int64 {
	n, err := s.catalog.ExpireElapsed(ctx, s.now().UTC())
	if err != nil {
		logger.Error("failed to expire subscriptions", zap.Error(err))
		return 0
	}
	if n > 0 {
		logger.Info("subscriptions expired", zap.Int64("count", n))
	}
	return n
}
