package service

import (
	"context"
	"errors"
	"time"

	"medsync/internal/domain"

	"go.uber.org/zap"
)

// Scheduler 定时增量同步调度器
// 与事件网关是独立的逻辑流，但共享同步引擎的互斥标志：
// 上一轮还没结束时本轮直接跳过（不排队）
type Scheduler struct {
	engine   *SyncEngine
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler 创建调度器
func NewScheduler(engine *SyncEngine, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
		logger:   logger,
	}
}

// Start 启动定时循环（阻塞直到 ctx 取消）
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Sync scheduler started",
		zap.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sync scheduler stopped")
			return
		case <-ticker.C:
			result, err := s.engine.IncrementalSync(ctx)
			if err != nil {
				if errors.Is(err, domain.ErrSyncInProgress) {
					s.logger.Debug("Scheduled sync skipped, another pass is running")
					continue
				}
				s.logger.Error("Scheduled incremental sync failed", zap.Error(err))
				continue
			}
			s.logger.Info("Scheduled incremental sync completed",
				zap.Int("synced_records", result.SyncedRecords),
				zap.Int("conflicts", result.Conflicts),
			)
		}
	}
}
