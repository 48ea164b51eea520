package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"medsync/internal/domain"
	"medsync/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConflictResolver 冲突解决器
// 给定冲突记录和策略，计算解决值并写回微服务副本；
// 写回走乐观并发检查（副本在检测后被他人改过则拒绝而不是覆盖）
type ConflictResolver struct {
	conflictsRepo  repository.ConflictsRepository
	replicaRepo    repository.RecordsRepository
	auditRepo      repository.AuditRepository
	validator      Validator
	notifier       Notifier
	mergeThreshold time.Duration
	logger         *zap.Logger
}

// NewConflictResolver 创建冲突解决器
func NewConflictResolver(
	conflictsRepo repository.ConflictsRepository,
	replicaRepo repository.RecordsRepository,
	auditRepo repository.AuditRepository,
	validator Validator,
	notifier Notifier,
	mergeThreshold time.Duration,
	logger *zap.Logger,
) *ConflictResolver {
	return &ConflictResolver{
		conflictsRepo:  conflictsRepo,
		replicaRepo:    replicaRepo,
		auditRepo:      auditRepo,
		validator:      validator,
		notifier:       notifier,
		mergeThreshold: mergeThreshold,
		logger:         logger,
	}
}

// Resolution 单次冲突解决的结果
type Resolution struct {
	ResolvedData domain.Record      `json:"resolvedData"`
	AuditEntry   *domain.AuditEntry `json:"auditLog"`
}

// AutoResolveResult 批量自动解决的结果
type AutoResolveResult struct {
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

// Resolve 按策略解决一个冲突
// manualData 仅 manual 策略使用；其余策略传 nil
func (r *ConflictResolver) Resolve(ctx context.Context, conflictID, strategy string, manualData domain.Record, resolvedBy, auditNote string) (*Resolution, error) {
	conflict, err := r.conflictsRepo.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Status != domain.ConflictPending {
		return nil, domain.ErrConflictNotFound
	}

	mainRecord, err := conflict.MainRecord()
	if err != nil {
		return nil, fmt.Errorf("failed to decode main snapshot: %w", err)
	}
	serviceRecord, err := conflict.ServiceRecord()
	if err != nil {
		return nil, fmt.Errorf("failed to decode service snapshot: %w", err)
	}

	desc := domain.DescriptorFor(conflict.EntityType)
	if desc == nil {
		return nil, fmt.Errorf("no descriptor registered for entity type %q", conflict.EntityType)
	}

	var resolved domain.Record
	writeBack := true

	switch strategy {
	case domain.StrategyMainWins:
		resolved = mainRecord

	case domain.StrategyMicroserviceWins:
		// 副本一侧已是权威值，不需要写回。
		// 注意：选中的值不会推回主系统，两边就此永久分歧——
		// 已知的不完整行为，保持原样并上报产品负责人，不在这里擅自补写回
		resolved = serviceRecord
		writeBack = false

	case domain.StrategyMerge:
		resolved = mergeRecords(desc, mainRecord, serviceRecord)

	case domain.StrategyManual:
		if manualData == nil {
			return nil, domain.ErrMissingResolvedData
		}
		result, err := r.validator.Validate(ctx, conflict.EntityType, manualData)
		if err != nil {
			return nil, fmt.Errorf("failed to validate manual data: %w", err)
		}
		if !result.IsValid {
			return nil, fmt.Errorf("%w: %s", domain.ErrValidationFailed, strings.Join(result.Errors, "; "))
		}
		resolved = manualData

	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStrategy, strategy)
	}

	if writeBack {
		// CAS 基准：检测时副本快照的修改时间。
		// 检测到解决之间副本被并发写入者改过 → ErrResolutionConflict
		if err := r.replicaRepo.UpsertRecordCAS(ctx, conflict.EntityType, resolved, serviceRecord.UpdatedAt()); err != nil {
			return nil, err
		}
	}

	resolvedAt := time.Now().UTC()
	if err := r.conflictsRepo.MarkResolved(ctx, conflictID, strategy, resolvedBy, resolvedAt); err != nil {
		return nil, err
	}

	entry := r.appendAudit(ctx, conflict.EntityType, conflict.EntityID, domain.AuditConflictResolved, resolvedBy, map[string]any{
		"conflictId": conflictID,
		"strategy":   strategy,
		"note":       auditNote,
	})

	r.logger.Info("Conflict resolved",
		zap.String("conflict_id", conflictID),
		zap.String("entity_id", conflict.EntityID),
		zap.String("strategy", strategy),
		zap.String("resolved_by", resolvedBy),
	)

	return &Resolution{ResolvedData: resolved, AuditEntry: entry}, nil
}

// Escalate 升级一个冲突（pending → escalated）并通知告警协作方
func (r *ConflictResolver) Escalate(ctx context.Context, conflictID, reason, actor string) error {
	conflict, err := r.conflictsRepo.GetConflict(ctx, conflictID)
	if err != nil {
		return err
	}

	if err := r.conflictsRepo.MarkEscalated(ctx, conflictID, actor, time.Now().UTC()); err != nil {
		return err
	}

	r.appendAudit(ctx, conflict.EntityType, conflict.EntityID, domain.AuditConflictEscalated, actor, map[string]any{
		"conflictId": conflictID,
		"reason":     reason,
	})

	// 通知是尽力而为的旁路写
	if err := r.notifier.NotifyEscalation(ctx, conflict, reason); err != nil {
		r.logger.Warn("Failed to notify escalation",
			zap.String("conflict_id", conflictID),
			zap.Error(err),
		)
	}
	return nil
}

// AutoResolveAll 批量自动解决全部待处理冲突
// 默认 main_wins；双方快照修改时间差在阈值内时改用 merge
// （近同时写入更可能是互补而非矛盾）。单条失败计数，不中断批次
func (r *ConflictResolver) AutoResolveAll(ctx context.Context) (*AutoResolveResult, error) {
	pending, err := r.conflictsRepo.ListPendingConflicts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending conflicts: %w", err)
	}

	result := &AutoResolveResult{}
	for _, conflict := range pending {
		strategy := domain.StrategyMainWins

		mainRecord, errM := conflict.MainRecord()
		serviceRecord, errS := conflict.ServiceRecord()
		if errM == nil && errS == nil {
			diff := mainRecord.UpdatedAt().Sub(serviceRecord.UpdatedAt())
			if diff < 0 {
				diff = -diff
			}
			if diff < r.mergeThreshold {
				strategy = domain.StrategyMerge
			}
		}

		if _, err := r.Resolve(ctx, conflict.ConflictID, strategy, nil, "system", "auto-resolved"); err != nil {
			result.Failed++
			r.logger.Error("Failed to auto-resolve conflict",
				zap.String("conflict_id", conflict.ConflictID),
				zap.String("strategy", strategy),
				zap.Error(err),
			)
			continue
		}
		result.Resolved++
	}

	r.logger.Info("Auto-resolve pass completed",
		zap.Int("resolved", result.Resolved),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// ListPending 待解决冲突列表
func (r *ConflictResolver) ListPending(ctx context.Context) ([]*domain.ConflictRecord, error) {
	return r.conflictsRepo.ListPendingConflicts(ctx)
}

// Statistics 冲突统计
func (r *ConflictResolver) Statistics(ctx context.Context) (*domain.ConflictStatistics, error) {
	return r.conflictsRepo.Statistics(ctx)
}

// appendAudit 审计留痕（尽力而为），返回写入的条目
func (r *ConflictResolver) appendAudit(ctx context.Context, entityType domain.EntityType, entityID, action, actor string, details map[string]any) *domain.AuditEntry {
	raw, err := json.Marshal(details)
	if err != nil {
		raw = []byte("{}")
	}
	entry := &domain.AuditEntry{
		AuditID:    uuid.NewString(),
		EntityID:   entityID,
		EntityType: entityType,
		Action:     action,
		Details:    raw,
		Actor:      actor,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.auditRepo.AppendAudit(ctx, entry); err != nil {
		r.logger.Warn("Failed to append audit entry",
			zap.String("action", action),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
	return entry
}
