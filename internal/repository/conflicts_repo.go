package repository

import (
	"context"
	"time"

	"medsync/internal/domain"
)

// ConflictsRepository 冲突记录存储接口
// 状态机约束在 SQL 层落实：只有 pending 的记录允许流转，
// 流转后 resolution_strategy / resolved_by / resolved_at 不再变化；
// 冲突记录永不硬删除（审计要求）
type ConflictsRepository interface {
	InsertConflict(ctx context.Context, conflict *domain.ConflictRecord) error
	GetConflict(ctx context.Context, conflictID string) (*domain.ConflictRecord, error)
	ListPendingConflicts(ctx context.Context) ([]*domain.ConflictRecord, error)
	CountPendingConflicts(ctx context.Context) (int, error)

	// MarkResolved pending → resolved（非 pending 返回 domain.ErrConflictNotFound）
	MarkResolved(ctx context.Context, conflictID, strategy, resolvedBy string, resolvedAt time.Time) error

	// MarkEscalated pending → escalated
	MarkEscalated(ctx context.Context, conflictID, escalatedBy string, escalatedAt time.Time) error

	Statistics(ctx context.Context) (*domain.ConflictStatistics, error)
}
