package repository

import (
	"context"

	"medsync/internal/domain"
)

// AuditRepository 同步审计日志接口（只追加，不更新不删除）
type AuditRepository interface {
	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error
	ListAuditByEntity(ctx context.Context, entityType domain.EntityType, entityID string) ([]*domain.AuditEntry, error)
}
