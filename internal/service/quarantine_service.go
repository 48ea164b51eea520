package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"medsync/internal/domain"
	"medsync/internal/repository"
	"medsync/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Validator 复检接口（由校验引擎实现；打破校验引擎 → 隔离区的构造环）
type Validator interface {
	Validate(ctx context.Context, entityType domain.EntityType, record domain.Record) (*validation.Result, error)
}

// QuarantineService 隔离区服务层
// 职责：
// 1. 校验失败记录的尽力而为隔离（从不阻断调用方批次）
// 2. 人工复核流转：approve 先复检再回写副本，reject 不动副本
// 3. 审计留痕
type QuarantineService struct {
	quarantineRepo repository.QuarantineRepository
	replicaRepo    repository.RecordsRepository
	auditRepo      repository.AuditRepository
	validator      Validator
	logger         *zap.Logger
}

// NewQuarantineService 创建隔离区服务
func NewQuarantineService(
	quarantineRepo repository.QuarantineRepository,
	replicaRepo repository.RecordsRepository,
	auditRepo repository.AuditRepository,
	logger *zap.Logger,
) *QuarantineService {
	return &QuarantineService{
		quarantineRepo: quarantineRepo,
		replicaRepo:    replicaRepo,
		auditRepo:      auditRepo,
		logger:         logger,
	}
}

// SetValidator 注入复检用的校验引擎
// 校验引擎的批量隔离副作用又依赖本服务，所以在 main 里后置注入
func (s *QuarantineService) SetValidator(v Validator) {
	s.validator = v
}

// 确保可以作为校验引擎的隔离副作用使用
var _ validation.QuarantineSink = (*QuarantineService)(nil)

// Quarantine 隔离一条校验失败的记录
// 尽力而为：失败只记 warning，不向调用方传播业务失败
func (s *QuarantineService) Quarantine(ctx context.Context, entityType domain.EntityType, record domain.Record, errs []string) (string, error) {
	recordData, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	errorData, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal errors: %w", err)
	}

	q := &domain.QuarantinedRecord{
		QuarantineID:  uuid.NewString(),
		EntityID:      record.ID(),
		EntityType:    entityType,
		RecordData:    recordData,
		ErrorMessages: errorData,
		QuarantinedAt: time.Now().UTC(),
		Status:        domain.QuarantinePendingReview,
	}

	if err := s.quarantineRepo.InsertQuarantined(ctx, q); err != nil {
		return "", fmt.Errorf("failed to quarantine record: %w", err)
	}

	s.logger.Warn("Record quarantined",
		zap.String("quarantine_id", q.QuarantineID),
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", record.ID()),
		zap.Strings("errors", errs),
	)

	s.appendAudit(ctx, entityType, record.ID(), domain.AuditQuarantineCreated, "system", map[string]any{
		"quarantineId": q.QuarantineID,
		"errors":       errs,
	})

	return q.QuarantineID, nil
}

// Approve 复核通过
// 先复检快照；仍有阻断性错误返回 ErrStillInvalid，
// 否则回写副本库（按 ID upsert）并标记 approved
func (s *QuarantineService) Approve(ctx context.Context, quarantineID, reviewerID, notes string) error {
	q, err := s.quarantineRepo.GetQuarantined(ctx, quarantineID)
	if err != nil {
		return err
	}
	if q.Status != domain.QuarantinePendingReview {
		return domain.ErrQuarantineNotFound
	}

	record, err := q.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to load quarantined snapshot: %w", err)
	}

	result, err := s.validator.Validate(ctx, q.EntityType, record)
	if err != nil {
		return fmt.Errorf("failed to re-validate record: %w", err)
	}
	if !result.IsValid {
		return fmt.Errorf("%w: %s", domain.ErrStillInvalid, strings.Join(result.Errors, "; "))
	}

	if err := s.replicaRepo.UpsertRecord(ctx, q.EntityType, record); err != nil {
		return fmt.Errorf("failed to upsert approved record: %w", err)
	}

	if err := s.quarantineRepo.MarkReviewed(ctx, quarantineID, domain.QuarantineApproved, reviewerID, notes, time.Now().UTC()); err != nil {
		return err
	}

	s.logger.Info("Quarantined record approved",
		zap.String("quarantine_id", quarantineID),
		zap.String("entity_id", q.EntityID),
		zap.String("reviewer", reviewerID),
	)

	s.appendAudit(ctx, q.EntityType, q.EntityID, domain.AuditQuarantineApproved, reviewerID, map[string]any{
		"quarantineId": quarantineID,
		"notes":        notes,
	})
	return nil
}

// Reject 复核驳回（终态，不回写副本）
func (s *QuarantineService) Reject(ctx context.Context, quarantineID, reviewerID, reason string) error {
	q, err := s.quarantineRepo.GetQuarantined(ctx, quarantineID)
	if err != nil {
		return err
	}

	if err := s.quarantineRepo.MarkReviewed(ctx, quarantineID, domain.QuarantineRejected, reviewerID, reason, time.Now().UTC()); err != nil {
		return err
	}

	s.logger.Info("Quarantined record rejected",
		zap.String("quarantine_id", quarantineID),
		zap.String("entity_id", q.EntityID),
		zap.String("reviewer", reviewerID),
	)

	s.appendAudit(ctx, q.EntityType, q.EntityID, domain.AuditQuarantineRejected, reviewerID, map[string]any{
		"quarantineId": quarantineID,
		"reason":       reason,
	})
	return nil
}

// ListPending 待复核列表
func (s *QuarantineService) ListPending(ctx context.Context) ([]*domain.QuarantinedRecord, error) {
	return s.quarantineRepo.ListPendingReview(ctx)
}

// Statistics 隔离区统计
func (s *QuarantineService) Statistics(ctx context.Context) (*domain.QuarantineStatistics, error) {
	return s.quarantineRepo.Statistics(ctx)
}

// appendAudit 审计留痕（尽力而为）
func (s *QuarantineService) appendAudit(ctx context.Context, entityType domain.EntityType, entityID, action, actor string, details map[string]any) {
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
	if err := s.auditRepo.AppendAudit(ctx, entry); err != nil {
		s.logger.Warn("Failed to append audit entry",
			zap.String("action", action),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}
