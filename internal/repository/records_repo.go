package repository

import (
	"context"
	"time"

	"medsync/internal/domain"
)

// RecordsRepository 实体记录存储接口
// 主系统（system-of-record）和微服务副本使用同一套表结构，
// 各自一个连接实例；同步引擎只对副本做写入，主系统一侧只读
type RecordsRepository interface {
	// 查询接口
	GetRecord(ctx context.Context, entityType domain.EntityType, entityID string) (domain.Record, error)
	ListRecords(ctx context.Context, entityType domain.EntityType) ([]domain.Record, error)
	ListModifiedSince(ctx context.Context, entityType domain.EntityType, since time.Time) ([]domain.Record, error)
	ListByField(ctx context.Context, entityType domain.EntityType, field, value string) ([]domain.Record, error)
	Exists(ctx context.Context, entityType domain.EntityType, entityID string) (bool, error)
	CountRecords(ctx context.Context) (int, error)

	// 写入接口（仅副本侧使用）
	UpsertRecord(ctx context.Context, entityType domain.EntityType, record domain.Record) error

	// 乐观并发写入：仅当副本行的 updated_at 仍等于 expected 时才写入
	// 被并发写入者抢先修改时返回 domain.ErrResolutionConflict
	UpsertRecordCAS(ctx context.Context, entityType domain.EntityType, record domain.Record, expected time.Time) error
}
