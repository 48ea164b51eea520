package domain

import (
	"encoding/json"
	"time"
)

// 隔离记录状态
// 只有 pending_review 的记录会被复检并允许流转到 approved / rejected
const (
	QuarantinePendingReview = "pending_review"
	QuarantineApproved      = "approved"
	QuarantineRejected      = "rejected"
)

// QuarantinedRecord 隔离记录领域模型（对应 sync_quarantine 表）
// 校验失败的记录进入隔离区等待人工复核
type QuarantinedRecord struct {
	QuarantineID string     `db:"quarantine_id" json:"quarantineId"` // UUID, PRIMARY KEY
	EntityID     string     `db:"entity_id" json:"entityId"`         // 实体 ID
	EntityType   EntityType `db:"entity_type" json:"entityType"`     // VARCHAR(50), NOT NULL

	RecordData    json.RawMessage `db:"record_data" json:"recordData"`       // JSONB, 完整记录快照
	ErrorMessages json.RawMessage `db:"error_messages" json:"errorMessages"` // JSONB, 校验错误列表

	QuarantinedAt time.Time `db:"quarantined_at" json:"quarantinedAt"` // TIMESTAMPTZ, NOT NULL
	Status        string    `db:"status" json:"status"`                // CHECK IN ('pending_review', 'approved', 'rejected')

	// 复核信息
	ReviewedBy  *string    `db:"reviewed_by" json:"reviewedBy,omitempty"`   // nullable
	ReviewedAt  *time.Time `db:"reviewed_at" json:"reviewedAt,omitempty"`   // nullable
	ReviewNotes *string    `db:"review_notes" json:"reviewNotes,omitempty"` // nullable
}

// Snapshot 反序列化记录快照
func (q *QuarantinedRecord) Snapshot() (Record, error) {
	var r Record
	if err := json.Unmarshal(q.RecordData, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// Errors 反序列化校验错误列表
func (q *QuarantinedRecord) Errors() ([]string, error) {
	var errs []string
	if err := json.Unmarshal(q.ErrorMessages, &errs); err != nil {
		return nil, err
	}
	return errs, nil
}

// QuarantineStatistics 隔离区统计
type QuarantineStatistics struct {
	CountsByStatus    map[string]int `json:"countsByStatus"`
	MeanReviewSeconds float64        `json:"meanReviewSeconds"`
}
