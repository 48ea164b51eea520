package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"medsync/internal/domain"
)

// PostgresQuarantineRepository 隔离记录Repository实现
type PostgresQuarantineRepository struct {
	db *sql.DB
}

// NewPostgresQuarantineRepository 创建隔离记录Repository
func NewPostgresQuarantineRepository(db *sql.DB) *PostgresQuarantineRepository {
	return &PostgresQuarantineRepository{db: db}
}

// 确保实现了接口
var _ QuarantineRepository = (*PostgresQuarantineRepository)(nil)

const quarantineColumns = `
	quarantine_id::text,
	entity_id,
	entity_type,
	record_data,
	error_messages,
	quarantined_at,
	status,
	reviewed_by,
	reviewed_at,
	review_notes
`

// InsertQuarantined 插入隔离记录（初始状态 pending_review）
func (r *PostgresQuarantineRepository) InsertQuarantined(ctx context.Context, record *domain.QuarantinedRecord) error {
	query := `
		INSERT INTO sync_quarantine (
			quarantine_id, entity_id, entity_type,
			record_data, error_messages, quarantined_at, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.QuarantineID,
		record.EntityID,
		string(record.EntityType),
		[]byte(record.RecordData),
		[]byte(record.ErrorMessages),
		record.QuarantinedAt,
		record.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert quarantined record: %w", err)
	}
	return nil
}

// GetQuarantined 按 ID 获取隔离记录
func (r *PostgresQuarantineRepository) GetQuarantined(ctx context.Context, quarantineID string) (*domain.QuarantinedRecord, error) {
	query := `SELECT ` + quarantineColumns + ` FROM sync_quarantine WHERE quarantine_id = $1`

	record, err := scanQuarantined(r.db.QueryRowContext(ctx, query, quarantineID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrQuarantineNotFound
		}
		return nil, fmt.Errorf("failed to get quarantined record: %w", err)
	}
	return record, nil
}

// ListPendingReview 获取全部待复核记录（按隔离时间升序）
func (r *PostgresQuarantineRepository) ListPendingReview(ctx context.Context) ([]*domain.QuarantinedRecord, error) {
	query := `
		SELECT ` + quarantineColumns + `
		FROM sync_quarantine
		WHERE status = 'pending_review'
		ORDER BY quarantined_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending quarantine: %w", err)
	}
	defer rows.Close()

	var records []*domain.QuarantinedRecord
	for rows.Next() {
		record, err := scanQuarantined(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quarantined record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate quarantine: %w", err)
	}
	return records, nil
}

// MarkReviewed pending_review → approved | rejected
func (r *PostgresQuarantineRepository) MarkReviewed(ctx context.Context, quarantineID, status, reviewedBy, notes string, reviewedAt time.Time) error {
	query := `
		UPDATE sync_quarantine
		SET status = $1,
		    reviewed_by = $2,
		    reviewed_at = $3,
		    review_notes = $4
		WHERE quarantine_id = $5 AND status = 'pending_review'
	`

	res, err := r.db.ExecContext(ctx, query, status, reviewedBy, reviewedAt, notes, quarantineID)
	if err != nil {
		return fmt.Errorf("failed to mark quarantine reviewed: %w", err)
	}
	return requireOneRow(res, domain.ErrQuarantineNotFound)
}

// Statistics 按状态计数 + 平均复核耗时（秒，排除待复核记录）
func (r *PostgresQuarantineRepository) Statistics(ctx context.Context) (*domain.QuarantineStatistics, error) {
	stats := &domain.QuarantineStatistics{CountsByStatus: map[string]int{}}

	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sync_quarantine GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query quarantine counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan quarantine count: %w", err)
		}
		stats.CountsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate quarantine counts: %w", err)
	}

	var mean sql.NullFloat64
	err = r.db.QueryRowContext(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (reviewed_at - quarantined_at)))
		FROM sync_quarantine
		WHERE status <> 'pending_review' AND reviewed_at IS NOT NULL
	`).Scan(&mean)
	if err != nil {
		return nil, fmt.Errorf("failed to query mean review latency: %w", err)
	}
	if mean.Valid {
		stats.MeanReviewSeconds = mean.Float64
	}

	return stats, nil
}

func scanQuarantined(row interface{ Scan(...any) error }) (*domain.QuarantinedRecord, error) {
	var record domain.QuarantinedRecord
	var entityType string
	var reviewedBy, reviewNotes sql.NullString
	var reviewedAt sql.NullTime
	var recordData, errorMessages []byte

	err := row.Scan(
		&record.QuarantineID,
		&record.EntityID,
		&entityType,
		&recordData,
		&errorMessages,
		&record.QuarantinedAt,
		&record.Status,
		&reviewedBy,
		&reviewedAt,
		&reviewNotes,
	)
	if err != nil {
		return nil, err
	}

	record.EntityType = domain.EntityType(entityType)
	record.RecordData = recordData
	record.ErrorMessages = errorMessages
	if reviewedBy.Valid {
		record.ReviewedBy = &reviewedBy.String
	}
	if reviewedAt.Valid {
		record.ReviewedAt = &reviewedAt.Time
	}
	if reviewNotes.Valid {
		record.ReviewNotes = &reviewNotes.String
	}
	return &record, nil
}
