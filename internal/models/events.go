package models

import (
	"encoding/json"
	"time"

	"medsync/internal/domain"
)

// EntityEvent 入站实体生命周期事件（<domain>-events 通道）
type EntityEvent struct {
	EventType  string            `json:"eventType"` // created | updated | deleted
	EntityType domain.EntityType `json:"entityType"`
	EntityID   string            `json:"entityId"`
	Data       domain.Record     `json:"data,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Source     string            `json:"source"`
}

// SyncCommand 入站同步命令（<domain>-sync-commands 通道）
type SyncCommand struct {
	Type string `json:"type"` // full_sync | incremental_sync | health_check
}

// 同步命令类型
const (
	CommandFullSync        = "full_sync"
	CommandIncrementalSync = "incremental_sync"
	CommandHealthCheck     = "health_check"
)

// CriticalValueAlert 危急值告警（critical-value-alerts 通道，仅实验室领域）
type CriticalValueAlert struct {
	LabResultID string         `json:"labResultId"`
	Payload     map[string]any `json:"-"` // 原始负载整体转发
}

// AckEvent 出站确认事件
type AckEvent struct {
	OriginalEvent  json.RawMessage `json:"originalEvent"`
	AcknowledgedAt time.Time       `json:"acknowledgedAt"`
	Service        string          `json:"service"`
}

// ErrorEvent 出站错误事件
type ErrorEvent struct {
	OriginalEvent json.RawMessage `json:"originalEvent"`
	Error         string          `json:"error"`
	ErrorAt       time.Time       `json:"errorAt"`
	Service       string          `json:"service"`
}

// ResultEvent 出站同步结果事件
type ResultEvent struct {
	SyncType    string    `json:"syncType"`
	Result      any       `json:"result"`
	CompletedAt time.Time `json:"completedAt"`
	Service     string    `json:"service"`
}

// HealthEvent 出站健康状态事件
type HealthEvent struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}
