package domain

import (
	"encoding/json"
	"time"
)

// 冲突状态
// 状态机：pending → resolved 或 pending → escalated，不可逆，不允许硬删除（审计要求）
const (
	ConflictPending   = "pending"
	ConflictResolved  = "resolved"
	ConflictEscalated = "escalated"
)

// 冲突类型（当前只有数据不一致一种）
const (
	ConflictTypeDataMismatch = "data_mismatch"
)

// 冲突解决策略
const (
	StrategyMainWins         = "main_wins"
	StrategyMicroserviceWins = "microservice_wins"
	StrategyMerge            = "merge"
	StrategyManual           = "manual"
)

// ConflictRecord 冲突记录领域模型（对应 sync_conflicts 表）
// 主系统（system-of-record）与微服务副本之间检测到的数据分歧
type ConflictRecord struct {
	ConflictID   string     `db:"conflict_id" json:"conflictId"`     // UUID, PRIMARY KEY
	EntityID     string     `db:"entity_id" json:"entityId"`         // 实体 ID（类型内唯一）
	EntityType   EntityType `db:"entity_type" json:"entityType"`     // VARCHAR(50), NOT NULL
	ConflictType string     `db:"conflict_type" json:"conflictType"` // VARCHAR(30), 目前固定 'data_mismatch'

	// 检测时双方的快照
	MainData    json.RawMessage `db:"main_data" json:"mainData"`       // JSONB, 主系统一侧
	ServiceData json.RawMessage `db:"service_data" json:"serviceData"` // JSONB, 微服务副本一侧

	DetectedAt time.Time `db:"detected_at" json:"detectedAt"` // TIMESTAMPTZ, NOT NULL
	Status     string    `db:"status" json:"status"`          // CHECK IN ('pending', 'resolved', 'escalated')

	// 解决信息（非 pending 后不可变）
	ResolutionStrategy *string    `db:"resolution_strategy" json:"resolutionStrategy,omitempty"` // nullable
	ResolvedBy         *string    `db:"resolved_by" json:"resolvedBy,omitempty"`                 // nullable
	ResolvedAt         *time.Time `db:"resolved_at" json:"resolvedAt,omitempty"`                 // nullable
}

// MainRecord 反序列化主系统快照
func (c *ConflictRecord) MainRecord() (Record, error) {
	var r Record
	if err := json.Unmarshal(c.MainData, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// ServiceRecord 反序列化副本快照
func (c *ConflictRecord) ServiceRecord() (Record, error) {
	var r Record
	if err := json.Unmarshal(c.ServiceData, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// ConflictStatistics 冲突统计
type ConflictStatistics struct {
	CountsByStatus        map[string]int `json:"countsByStatus"`
	MeanResolutionSeconds float64        `json:"meanResolutionSeconds"`
}
