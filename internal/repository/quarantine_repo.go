package repository

import (
	"context"
	"time"

	"medsync/internal/domain"
)

// QuarantineRepository 隔离记录存储接口
// 只有 pending_review 的记录允许复核流转（approved / rejected）
type QuarantineRepository interface {
	InsertQuarantined(ctx context.Context, record *domain.QuarantinedRecord) error
	GetQuarantined(ctx context.Context, quarantineID string) (*domain.QuarantinedRecord, error)
	ListPendingReview(ctx context.Context) ([]*domain.QuarantinedRecord, error)

	// MarkReviewed pending_review → approved | rejected
	// 非 pending_review 返回 domain.ErrQuarantineNotFound
	MarkReviewed(ctx context.Context, quarantineID, status, reviewedBy, notes string, reviewedAt time.Time) error

	Statistics(ctx context.Context) (*domain.QuarantineStatistics, error)
}
