package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"medsync/internal/domain"
	"medsync/internal/repository"
	"medsync/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 同步类型
const (
	SyncTypeFull        = "full_sync"
	SyncTypeIncremental = "incremental_sync"
)

// SyncResult 一次同步遍历的汇总结果
type SyncResult struct {
	SyncType          string    `json:"syncType"`
	SyncedRecords     int       `json:"syncedRecords"`
	Conflicts         int       `json:"conflicts"`
	LastSyncTimestamp time.Time `json:"lastSyncTimestamp"`
}

// SyncStatus 同步状态视图（管理端展示）
type SyncStatus struct {
	LastFullSync        *time.Time `json:"lastFullSync"`
	LastIncrementalSync *time.Time `json:"lastIncrementalSync"`
	PendingConflicts    int        `json:"pendingConflicts"`
	TotalRecords        int        `json:"totalRecords"`
	IsHealthy           bool       `json:"isHealthy"`
}

// SyncEngine 同步引擎
// 对每种实体类型做全量/增量对账：主系统独有的记录在副本创建；
// 两边都有的走冲突检测，无冲突则更新副本，有冲突则落冲突记录；
// 仅副本独有的记录只记日志不自动删除（避免数据丢失）。
// 互斥：进程内 running 标志 + 共享缓存里的 TTL 租约，重入直接报
// ErrSyncInProgress（不排队不重试）
type SyncEngine struct {
	mainRepo      repository.RecordsRepository
	replicaRepo   repository.RecordsRepository
	conflictsRepo repository.ConflictsRepository
	kv            store.KV
	lease         store.Lease
	logger        *zap.Logger

	domainName      string
	defaultLookback time.Duration
	leaseTTL        time.Duration

	mu      sync.Mutex
	running bool
}

// NewSyncEngine 创建同步引擎
func NewSyncEngine(
	mainRepo repository.RecordsRepository,
	replicaRepo repository.RecordsRepository,
	conflictsRepo repository.ConflictsRepository,
	kv store.KV,
	lease store.Lease,
	domainName string,
	defaultLookback time.Duration,
	leaseTTL time.Duration,
	logger *zap.Logger,
) *SyncEngine {
	return &SyncEngine{
		mainRepo:        mainRepo,
		replicaRepo:     replicaRepo,
		conflictsRepo:   conflictsRepo,
		kv:              kv,
		lease:           lease,
		logger:          logger,
		domainName:      domainName,
		defaultLookback: defaultLookback,
		leaseTTL:        leaseTTL,
	}
}

func (e *SyncEngine) leaseKey() string {
	return fmt.Sprintf("medsync:%s:sync-lease", e.domainName)
}

func (e *SyncEngine) checkpointKey(syncType string) string {
	return fmt.Sprintf("medsync:%s:last-sync:%s", e.domainName, syncType)
}

// begin 进入 running 状态；已在执行时返回 ErrSyncInProgress
func (e *SyncEngine) begin(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return domain.ErrSyncInProgress
	}
	e.running = true
	e.mu.Unlock()

	// 多实例协调：共享缓存租约。缓存不可用时降级为进程内互斥（记警告）
	ok, err := e.lease.Acquire(ctx, e.leaseKey(), e.leaseTTL)
	if err != nil {
		e.logger.Warn("Sync lease unavailable, falling back to in-process exclusion",
			zap.Error(err),
		)
		return nil
	}
	if !ok {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return domain.ErrSyncInProgress
	}
	return nil
}

// end 退出 running 状态并释放租约
func (e *SyncEngine) end(ctx context.Context) {
	if err := e.lease.Release(ctx, e.leaseKey()); err != nil {
		e.logger.Warn("Failed to release sync lease", zap.Error(err))
	}
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// IsRunning 当前是否有同步遍历在执行
func (e *SyncEngine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// FullSync 全量同步
func (e *SyncEngine) FullSync(ctx context.Context) (*SyncResult, error) {
	return e.run(ctx, SyncTypeFull, nil)
}

// IncrementalSync 增量同步
// 只处理主系统自上次 checkpoint 之后修改过的记录；
// 没有历史 checkpoint 时回溯默认窗口（24 小时）
func (e *SyncEngine) IncrementalSync(ctx context.Context) (*SyncResult, error) {
	since := e.lastCheckpoint(ctx, SyncTypeIncremental)
	return e.run(ctx, SyncTypeIncremental, &since)
}

// run 执行一次同步遍历
func (e *SyncEngine) run(ctx context.Context, syncType string, since *time.Time) (*SyncResult, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	defer e.end(ctx)

	start := time.Now()
	e.logger.Info("Sync pass started",
		zap.String("sync_type", syncType),
	)

	result := &SyncResult{SyncType: syncType}
	for _, entityType := range domain.SyncedTypes {
		synced, conflicts := e.syncEntityType(ctx, entityType, since)
		result.SyncedRecords += synced
		result.Conflicts += conflicts
	}

	// 完成时间作为新的 checkpoint（成功或部分失败都记）
	// 旁路写：失败只记日志，重启后最多多回放一段历史
	completedAt := time.Now().UTC()
	result.LastSyncTimestamp = completedAt
	if err := e.kv.Set(ctx, e.checkpointKey(syncType), completedAt.Format(time.RFC3339), 0); err != nil {
		e.logger.Warn("Failed to persist sync checkpoint",
			zap.String("sync_type", syncType),
			zap.Error(err),
		)
	}
	// 增量回溯基准对全量/增量通用
	if err := e.kv.Set(ctx, e.checkpointKey(SyncTypeIncremental), completedAt.Format(time.RFC3339), 0); err != nil && syncType == SyncTypeFull {
		e.logger.Warn("Failed to persist incremental checkpoint", zap.Error(err))
	}

	e.logger.Info("Sync pass completed",
		zap.String("sync_type", syncType),
		zap.Int("synced_records", result.SyncedRecords),
		zap.Int("conflicts", result.Conflicts),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// syncEntityType 对一种实体类型做对账
// 单条记录失败只记日志并跳过，从不中断整个遍历
func (e *SyncEngine) syncEntityType(ctx context.Context, entityType domain.EntityType, since *time.Time) (synced, conflicts int) {
	var mainRecords []domain.Record
	var err error
	if since != nil {
		mainRecords, err = e.mainRepo.ListModifiedSince(ctx, entityType, *since)
	} else {
		mainRecords, err = e.mainRepo.ListRecords(ctx, entityType)
	}
	if err != nil {
		e.logger.Error("Failed to fetch main records",
			zap.String("entity_type", string(entityType)),
			zap.Error(err),
		)
		return 0, 0
	}

	replicaRecords, err := e.replicaRepo.ListRecords(ctx, entityType)
	if err != nil {
		e.logger.Error("Failed to fetch replica records",
			zap.String("entity_type", string(entityType)),
			zap.Error(err),
		)
		return 0, 0
	}

	replicaByID := make(map[string]domain.Record, len(replicaRecords))
	for _, r := range replicaRecords {
		replicaByID[r.ID()] = r
	}

	mainIDs := make(map[string]bool, len(mainRecords))
	for _, mainRecord := range mainRecords {
		id := mainRecord.ID()
		mainIDs[id] = true

		replicaRecord, present := replicaByID[id]
		if !present {
			// 主系统独有：在副本创建
			if err := e.replicaRepo.UpsertRecord(ctx, entityType, mainRecord); err != nil {
				e.logger.Error("Failed to create replica record",
					zap.String("entity_type", string(entityType)),
					zap.String("entity_id", id),
					zap.Error(err),
				)
				continue
			}
			synced++
			continue
		}

		if e.detectConflict(entityType, mainRecord, replicaRecord) {
			if err := e.recordConflict(ctx, entityType, mainRecord, replicaRecord); err != nil {
				e.logger.Error("Failed to record conflict",
					zap.String("entity_type", string(entityType)),
					zap.String("entity_id", id),
					zap.Error(err),
				)
				continue
			}
			conflicts++
			continue
		}

		// 无冲突：用主系统一侧更新副本
		if err := e.replicaRepo.UpsertRecord(ctx, entityType, mainRecord); err != nil {
			e.logger.Error("Failed to update replica record",
				zap.String("entity_type", string(entityType)),
				zap.String("entity_id", id),
				zap.Error(err),
			)
			continue
		}
		synced++
	}

	// 仅副本独有的记录：记不一致日志，不自动删除（避免数据丢失）
	// 增量遍历只看到主系统的变更子集，此检查仅对全量有意义
	if since == nil {
		for id := range replicaByID {
			if !mainIDs[id] {
				e.logger.Warn("Replica-only record detected, not deleting",
					zap.String("entity_type", string(entityType)),
					zap.String("entity_id", id),
				)
			}
		}
	}

	return synced, conflicts
}

// SyncRecord 单条记录的增量同步（事件路由和危急值强制重同步使用）
// 与整批遍历共用同一套"创建 / 冲突检测 / 更新"逻辑，但不占用互斥标志
func (e *SyncEngine) SyncRecord(ctx context.Context, entityType domain.EntityType, entityID string) error {
	mainRecord, err := e.mainRepo.GetRecord(ctx, entityType, entityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			e.logger.Warn("Record missing from main store, skipping",
				zap.String("entity_type", string(entityType)),
				zap.String("entity_id", entityID),
			)
			return nil
		}
		return fmt.Errorf("failed to fetch main record: %w", err)
	}

	replicaRecord, err := e.replicaRepo.GetRecord(ctx, entityType, entityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e.replicaRepo.UpsertRecord(ctx, entityType, mainRecord)
		}
		return fmt.Errorf("failed to fetch replica record: %w", err)
	}

	if e.detectConflict(entityType, mainRecord, replicaRecord) {
		return e.recordConflict(ctx, entityType, mainRecord, replicaRecord)
	}
	return e.replicaRepo.UpsertRecord(ctx, entityType, mainRecord)
}

// ApplyEvent 入站实体事件的单条应用（created/updated/deleted）
// deleted 与对账策略一致：只记日志，不自动删除副本
func (e *SyncEngine) ApplyEvent(ctx context.Context, eventType string, entityType domain.EntityType, entityID string, data domain.Record) error {
	switch eventType {
	case "created", "updated":
		if data == nil {
			return e.SyncRecord(ctx, entityType, entityID)
		}
		replicaRecord, err := e.replicaRepo.GetRecord(ctx, entityType, entityID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return e.replicaRepo.UpsertRecord(ctx, entityType, data)
			}
			return fmt.Errorf("failed to fetch replica record: %w", err)
		}
		if e.detectConflict(entityType, data, replicaRecord) {
			return e.recordConflict(ctx, entityType, data, replicaRecord)
		}
		return e.replicaRepo.UpsertRecord(ctx, entityType, data)

	case "deleted":
		e.logger.Warn("Delete event received, replica record retained",
			zap.String("entity_type", string(entityType)),
			zap.String("entity_id", entityID),
		)
		return nil

	default:
		return fmt.Errorf("unknown event type %q", eventType)
	}
}

// detectConflict 冲突判定
// 主系统修改时间严格更新 且 至少一个追踪字段值不同；
// 仅时间戳更新、字段值相同不算冲突
func (e *SyncEngine) detectConflict(entityType domain.EntityType, mainRecord, replicaRecord domain.Record) bool {
	if !mainRecord.UpdatedAt().After(replicaRecord.UpdatedAt()) {
		return false
	}

	desc := domain.DescriptorFor(entityType)
	if desc == nil {
		return false
	}
	for _, field := range desc.Tracked {
		if !fieldEqual(mainRecord[field], replicaRecord[field]) {
			return true
		}
	}
	return false
}

// recordConflict 落一条 pending 冲突记录
func (e *SyncEngine) recordConflict(ctx context.Context, entityType domain.EntityType, mainRecord, replicaRecord domain.Record) error {
	mainData, err := json.Marshal(mainRecord)
	if err != nil {
		return fmt.Errorf("failed to marshal main snapshot: %w", err)
	}
	serviceData, err := json.Marshal(replicaRecord)
	if err != nil {
		return fmt.Errorf("failed to marshal service snapshot: %w", err)
	}

	conflict := &domain.ConflictRecord{
		ConflictID:   uuid.NewString(),
		EntityID:     mainRecord.ID(),
		EntityType:   entityType,
		ConflictType: domain.ConflictTypeDataMismatch,
		MainData:     mainData,
		ServiceData:  serviceData,
		DetectedAt:   time.Now().UTC(),
		Status:       domain.ConflictPending,
	}

	if err := e.conflictsRepo.InsertConflict(ctx, conflict); err != nil {
		return err
	}

	e.logger.Info("Conflict recorded",
		zap.String("conflict_id", conflict.ConflictID),
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", conflict.EntityID),
	)
	return nil
}

// Status 同步状态视图
func (e *SyncEngine) Status(ctx context.Context) (*SyncStatus, error) {
	status := &SyncStatus{IsHealthy: true}

	if t, ok := e.readCheckpoint(ctx, SyncTypeFull); ok {
		status.LastFullSync = &t
	}
	if t, ok := e.readCheckpoint(ctx, SyncTypeIncremental); ok {
		status.LastIncrementalSync = &t
	}

	pending, err := e.conflictsRepo.CountPendingConflicts(ctx)
	if err != nil {
		status.IsHealthy = false
		e.logger.Error("Failed to count pending conflicts", zap.Error(err))
	}
	status.PendingConflicts = pending

	total, err := e.replicaRepo.CountRecords(ctx)
	if err != nil {
		status.IsHealthy = false
		e.logger.Error("Failed to count replica records", zap.Error(err))
	}
	status.TotalRecords = total

	return status, nil
}

// lastCheckpoint 增量同步的回溯基准
func (e *SyncEngine) lastCheckpoint(ctx context.Context, syncType string) time.Time {
	if t, ok := e.readCheckpoint(ctx, syncType); ok {
		return t
	}
	return time.Now().UTC().Add(-e.defaultLookback)
}

func (e *SyncEngine) readCheckpoint(ctx context.Context, syncType string) (time.Time, bool) {
	val, err := e.kv.Get(ctx, e.checkpointKey(syncType))
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			e.logger.Warn("Failed to read sync checkpoint",
				zap.String("sync_type", syncType),
				zap.Error(err),
			)
		}
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// fieldEqual 追踪字段值比较
// JSON 反序列化后的标量直接比较；嵌套结构走 reflect.DeepEqual
func fieldEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	switch a.(type) {
	case string, float64, bool:
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
