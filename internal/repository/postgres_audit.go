package repository

import (
	"context"
	"database/sql"
	"fmt"

	"medsync/internal/domain"
)

// PostgresAuditRepository 审计日志Repository实现
type PostgresAuditRepository struct {
	db *sql.DB
}

// NewPostgresAuditRepository 创建审计日志Repository
func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

// 确保实现了接口
var _ AuditRepository = (*PostgresAuditRepository)(nil)

// AppendAudit 追加审计条目
func (r *PostgresAuditRepository) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	query := `
		INSERT INTO sync_audit_log (
			audit_id, entity_id, entity_type, action, details, actor, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.AuditID,
		entry.EntityID,
		string(entry.EntityType),
		entry.Action,
		[]byte(entry.Details),
		entry.Actor,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAuditByEntity 按实体查询审计轨迹（时间升序）
func (r *PostgresAuditRepository) ListAuditByEntity(ctx context.Context, entityType domain.EntityType, entityID string) ([]*domain.AuditEntry, error) {
	query := `
		SELECT audit_id::text, entity_id, entity_type, action, details, actor, created_at
		FROM sync_audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		var et string
		var details []byte
		if err := rows.Scan(
			&entry.AuditID, &entry.EntityID, &et,
			&entry.Action, &details, &entry.Actor, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.EntityType = domain.EntityType(et)
		entry.Details = details
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}
