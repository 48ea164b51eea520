package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"medsync/internal/domain"
)

// PostgresRecordsRepository 实体记录Repository实现
// 所有实体类型共用一张 records 表：(entity_type, entity_id) 主键 + JSONB 负载
// 字段语义由实体描述符解释，Repository 层只负责数据访问
type PostgresRecordsRepository struct {
	db *sql.DB
}

// NewPostgresRecordsRepository 创建实体记录Repository
func NewPostgresRecordsRepository(db *sql.DB) *PostgresRecordsRepository {
	return &PostgresRecordsRepository{db: db}
}

// 确保实现了接口
var _ RecordsRepository = (*PostgresRecordsRepository)(nil)

// GetRecord 按实体类型和 ID 获取记录
func (r *PostgresRecordsRepository) GetRecord(ctx context.Context, entityType domain.EntityType, entityID string) (domain.Record, error) {
	query := `
		SELECT data
		FROM records
		WHERE entity_type = $1 AND entity_id = $2
	`

	var raw []byte
	err := r.db.QueryRowContext(ctx, query, string(entityType), entityID).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return unmarshalRecord(raw)
}

// ListRecords 获取某类型的全部记录（全量同步）
func (r *PostgresRecordsRepository) ListRecords(ctx context.Context, entityType domain.EntityType) ([]domain.Record, error) {
	query := `
		SELECT data
		FROM records
		WHERE entity_type = $1
		ORDER BY entity_id
	`

	rows, err := r.db.QueryContext(ctx, query, string(entityType))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ListModifiedSince 获取某类型自 since 之后修改过的记录（增量同步）
func (r *PostgresRecordsRepository) ListModifiedSince(ctx context.Context, entityType domain.EntityType, since time.Time) ([]domain.Record, error) {
	query := `
		SELECT data
		FROM records
		WHERE entity_type = $1 AND updated_at > $2
		ORDER BY entity_id
	`

	rows, err := r.db.QueryContext(ctx, query, string(entityType), since)
	if err != nil {
		return nil, fmt.Errorf("failed to list modified records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ListByField 按 JSONB 字段值查询（时段冲突预检用）
func (r *PostgresRecordsRepository) ListByField(ctx context.Context, entityType domain.EntityType, field, value string) ([]domain.Record, error) {
	query := `
		SELECT data
		FROM records
		WHERE entity_type = $1 AND data->>$2 = $3
	`

	rows, err := r.db.QueryContext(ctx, query, string(entityType), field, value)
	if err != nil {
		return nil, fmt.Errorf("failed to list records by field: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Exists 检查记录是否存在（交叉引用校验用）
func (r *PostgresRecordsRepository) Exists(ctx context.Context, entityType domain.EntityType, entityID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM records WHERE entity_type = $1 AND entity_id = $2
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, string(entityType), entityID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check record existence: %w", err)
	}
	return exists, nil
}

// CountRecords 副本库记录总数（同步状态展示用）
func (r *PostgresRecordsRepository) CountRecords(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// UpsertRecord 按 (entity_type, entity_id) 插入或更新记录
// 单条 INSERT ... ON CONFLICT，行级原子
func (r *PostgresRecordsRepository) UpsertRecord(ctx context.Context, entityType domain.EntityType, record domain.Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	query := `
		INSERT INTO records (entity_type, entity_id, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_type, entity_id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query, string(entityType), record.ID(), raw, recordUpdatedAt(record))
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// UpsertRecordCAS 乐观并发写入
// 冲突检测到写回之间没有事务保护，靠 updated_at 比对拒绝基于过期数据的写入
func (r *PostgresRecordsRepository) UpsertRecordCAS(ctx context.Context, entityType domain.EntityType, record domain.Record, expected time.Time) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	query := `
		UPDATE records
		SET data = $1, updated_at = $2
		WHERE entity_type = $3 AND entity_id = $4 AND updated_at = $5
	`

	res, err := r.db.ExecContext(ctx, query, raw, recordUpdatedAt(record), string(entityType), record.ID(), expected)
	if err != nil {
		return fmt.Errorf("failed to upsert record with cas: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return domain.ErrResolutionConflict
	}
	return nil
}

// recordUpdatedAt 取记录自带的修改时间；缺失时用当前时间兜底
func recordUpdatedAt(record domain.Record) time.Time {
	if t := record.UpdatedAt(); !t.IsZero() {
		return t
	}
	return time.Now().UTC()
}

func unmarshalRecord(raw []byte) (domain.Record, error) {
	var record domain.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return record, nil
}

func scanRecords(rows *sql.Rows) ([]domain.Record, error) {
	var records []domain.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		record, err := unmarshalRecord(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}
