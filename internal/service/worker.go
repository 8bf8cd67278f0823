package service

import (
	"context"
	"encoding/json"
	"time"

	"featuregate/internal/model"
	"featuregate/internal/repository"
	v1 "featuregate/pkg/api/v1"
	"featuregate/pkg/logger"

	"go.uber.org/zap"
)

const maxOutboxRetries = 5

// OutboxWorker publishes flag documents whose post-commit publish failed.
type OutboxWorker struct {
	outboxRepo repository.OutboxInterface
	publisher  Publisher
	interval   time.Duration
	batchSize  int
}

func NewOutboxWorker(outboxRepo repository.OutboxInterface, publisher Publisher, interval time.Duration, batchSize int) *OutboxWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &OutboxWorker{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		interval:   interval,
		batchSize:  batchSize,
	}
}

func (w *OutboxWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	logger.Info("outbox worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

func (w *OutboxWorker) processPending(ctx context.Context) {
	tasks, err := w.outboxRepo.FetchPending(ctx, w.batchSize)
	if err != nil {
		logger.Error("failed to fetch pending outbox tasks", zap.Error(err))
		return
	}

	for _, task := range tasks {
		logger.Debug("processing outbox task", zap.Int64("id", task.ID), zap.String("key", task.FlagKey))

		var doc v1.FlagDocument
		if err := json.Unmarshal([]byte(task.Payload), &doc); err != nil {
			logger.Error("failed to unmarshal task payload", zap.Int64("id", task.ID), zap.Error(err))
			// corrupt payloads are never retried
			w.outboxRepo.UpdateStatus(ctx, task.ID, model.StatusFailed, task.RetryCount)
			continue
		}

		if _, err := w.publisher.SaveIfNewer(ctx, doc); err != nil {
			logger.Warn("failed to publish outbox task", zap.Int64("id", task.ID), zap.Error(err))
			retries := task.RetryCount + 1
			status := model.StatusPending
			if retries >= maxOutboxRetries {
				logger.Error("outbox task max retries reached", zap.Int64("id", task.ID), zap.String("key", task.FlagKey))
				status = model.StatusFailed
			}
			w.outboxRepo.UpdateStatus(ctx, task.ID, status, retries)
			continue
		}

		if err := w.outboxRepo.UpdateStatus(ctx, task.ID, model.StatusCompleted, task.RetryCount); err != nil {
			logger.Error("failed to mark task completed", zap.Int64("id", task.ID), zap.Error(err))
		} else {
			logger.Info("outbox task completed", zap.Int64("id", task.ID), zap.String("key", task.FlagKey))
		}
	}
}
