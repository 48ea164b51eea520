package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"medsync/internal/domain"
)

// PostgresConflictsRepository 冲突记录Repository实现
type PostgresConflictsRepository struct {
	db *sql.DB
}

// NewPostgresConflictsRepository 创建冲突记录Repository
func NewPostgresConflictsRepository(db *sql.DB) *PostgresConflictsRepository {
	return &PostgresConflictsRepository{db: db}
}

// 确保实现了接口
var _ ConflictsRepository = (*PostgresConflictsRepository)(nil)

const conflictColumns = `
	conflict_id::text,
	entity_id,
	entity_type,
	conflict_type,
	main_data,
	service_data,
	detected_at,
	status,
	resolution_strategy,
	resolved_by,
	resolved_at
`

// InsertConflict 插入新冲突（初始状态 pending）
func (r *PostgresConflictsRepository) InsertConflict(ctx context.Context, conflict *domain.ConflictRecord) error {
	query := `
		INSERT INTO sync_conflicts (
			conflict_id, entity_id, entity_type, conflict_type,
			main_data, service_data, detected_at, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		conflict.ConflictID,
		conflict.EntityID,
		string(conflict.EntityType),
		conflict.ConflictType,
		[]byte(conflict.MainData),
		[]byte(conflict.ServiceData),
		conflict.DetectedAt,
		conflict.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conflict: %w", err)
	}
	return nil
}

// GetConflict 按 ID 获取冲突记录
func (r *PostgresConflictsRepository) GetConflict(ctx context.Context, conflictID string) (*domain.ConflictRecord, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE conflict_id = $1`

	conflict, err := scanConflict(r.db.QueryRowContext(ctx, query, conflictID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrConflictNotFound
		}
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return conflict, nil
}

// ListPendingConflicts 获取全部待解决冲突（按检测时间升序）
func (r *PostgresConflictsRepository) ListPendingConflicts(ctx context.Context) ([]*domain.ConflictRecord, error) {
	query := `
		SELECT ` + conflictColumns + `
		FROM sync_conflicts
		WHERE status = 'pending'
		ORDER BY detected_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*domain.ConflictRecord
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, conflict)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conflicts: %w", err)
	}
	return conflicts, nil
}

// CountPendingConflicts 待解决冲突数
func (r *PostgresConflictsRepository) CountPendingConflicts(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_conflicts WHERE status = 'pending'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending conflicts: %w", err)
	}
	return count, nil
}

// MarkResolved pending → resolved
// WHERE status = 'pending' 保证状态机单向流转；已流转的记录当作不存在
func (r *PostgresConflictsRepository) MarkResolved(ctx context.Context, conflictID, strategy, resolvedBy string, resolvedAt time.Time) error {
	query := `
		UPDATE sync_conflicts
		SET status = 'resolved',
		    resolution_strategy = $1,
		    resolved_by = $2,
		    resolved_at = $3
		WHERE conflict_id = $4 AND status = 'pending'
	`

	res, err := r.db.ExecContext(ctx, query, strategy, resolvedBy, resolvedAt, conflictID)
	if err != nil {
		return fmt.Errorf("failed to mark conflict resolved: %w", err)
	}
	return requireOneRow(res, domain.ErrConflictNotFound)
}

// MarkEscalated pending → escalated
func (r *PostgresConflictsRepository) MarkEscalated(ctx context.Context, conflictID, escalatedBy string, escalatedAt time.Time) error {
	query := `
		UPDATE sync_conflicts
		SET status = 'escalated',
		    resolved_by = $1,
		    resolved_at = $2
		WHERE conflict_id = $3 AND status = 'pending'
	`

	res, err := r.db.ExecContext(ctx, query, escalatedBy, escalatedAt, conflictID)
	if err != nil {
		return fmt.Errorf("failed to mark conflict escalated: %w", err)
	}
	return requireOneRow(res, domain.ErrConflictNotFound)
}

// Statistics 按状态计数 + 平均解决耗时（秒）
func (r *PostgresConflictsRepository) Statistics(ctx context.Context) (*domain.ConflictStatistics, error) {
	stats := &domain.ConflictStatistics{CountsByStatus: map[string]int{}}

	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sync_conflicts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflict counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan conflict count: %w", err)
		}
		stats.CountsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conflict counts: %w", err)
	}

	var mean sql.NullFloat64
	err = r.db.QueryRowContext(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (resolved_at - detected_at)))
		FROM sync_conflicts
		WHERE status = 'resolved' AND resolved_at IS NOT NULL
	`).Scan(&mean)
	if err != nil {
		return nil, fmt.Errorf("failed to query mean resolution latency: %w", err)
	}
	if mean.Valid {
		stats.MeanResolutionSeconds = mean.Float64
	}

	return stats, nil
}

// scanConflict 从单行扫描冲突记录
func scanConflict(row interface{ Scan(...any) error }) (*domain.ConflictRecord, error) {
	var conflict domain.ConflictRecord
	var entityType string
	var strategy, resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	var mainData, serviceData []byte

	err := row.Scan(
		&conflict.ConflictID,
		&conflict.EntityID,
		&entityType,
		&conflict.ConflictType,
		&mainData,
		&serviceData,
		&conflict.DetectedAt,
		&conflict.Status,
		&strategy,
		&resolvedBy,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	conflict.EntityType = domain.EntityType(entityType)
	conflict.MainData = mainData
	conflict.ServiceData = serviceData
	if strategy.Valid {
		conflict.ResolutionStrategy = &strategy.String
	}
	if resolvedBy.Valid {
		conflict.ResolvedBy = &resolvedBy.String
	}
	if resolvedAt.Valid {
		conflict.ResolvedAt = &resolvedAt.Time
	}
	return &conflict, nil
}

// requireOneRow UPDATE 未命中行时返回给定的领域错误
func requireOneRow(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
