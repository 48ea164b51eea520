package domain

import (
	"encoding/json"
	"time"
)

// AuditEntry 同步审计日志条目（对应 sync_audit_log 表，只追加）
// 每次冲突解决 / 隔离复核都会留痕，引用对应的冲突或隔离记录 ID
type AuditEntry struct {
	AuditID    string          `db:"audit_id" json:"auditId"`       // UUID, PRIMARY KEY
	EntityID   string          `db:"entity_id" json:"entityId"`     // 实体 ID
	EntityType EntityType      `db:"entity_type" json:"entityType"` // VARCHAR(50), NOT NULL
	Action     string          `db:"action" json:"action"`          // VARCHAR(50), 如 'conflict_resolved', 'quarantine_approved'
	Details    json.RawMessage `db:"details" json:"details"`        // JSONB, 策略、备注等
	Actor      string          `db:"actor" json:"actor"`            // 操作者标识（人工或 'system'）
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`   // TIMESTAMPTZ, NOT NULL
}

// 审计动作
const (
	AuditConflictRecorded    = "conflict_recorded"
	AuditConflictResolved    = "conflict_resolved"
	AuditConflictEscalated   = "conflict_escalated"
	AuditQuarantineCreated   = "quarantine_created"
	AuditQuarantineApproved  = "quarantine_approved"
	AuditQuarantineRejected  = "quarantine_rejected"
)
