package httpapi

import (
	"fmt"
	"net/http"

	"medsync/internal/domain"
	"medsync/internal/repository"
	"medsync/internal/service"
	"medsync/internal/validation"

	"go.uber.org/zap"
)

// 合规状态接口单次最多列出的问题条目数
const cliaIssueLimit = 50

// QualityHandler 数据质量 / CLIA 合规
type QualityHandler struct {
	resolver    *service.ConflictResolver
	quarantine  *service.QuarantineService
	replicaRepo repository.RecordsRepository
	validator   *validation.Engine
	logger      *zap.Logger
}

func NewQualityHandler(
	resolver *service.ConflictResolver,
	quarantine *service.QuarantineService,
	replicaRepo repository.RecordsRepository,
	validator *validation.Engine,
	logger *zap.Logger,
) *QualityHandler {
	return &QualityHandler{
		resolver:    resolver,
		quarantine:  quarantine,
		replicaRepo: replicaRepo,
		validator:   validator,
		logger:      logger,
	}
}

// Metrics GET /sync/api/v1/quality/metrics
// 汇总冲突 / 隔离区统计和副本记录总量
func (h *QualityHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conflictStats, err := h.resolver.Statistics(ctx)
	if err != nil {
		writeFailure(w, err)
		return
	}
	quarantineStats, err := h.quarantine.Statistics(ctx)
	if err != nil {
		writeFailure(w, err)
		return
	}
	totalRecords, err := h.replicaRepo.CountRecords(ctx)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeSuccess(w, map[string]any{
		"conflicts":    conflictStats,
		"quarantine":   quarantineStats,
		"totalRecords": totalRecords,
	})
}

// cliaIssue 单条不合规 / 告警记录
type cliaIssue struct {
	EntityType string   `json:"entityType"`
	EntityID   string   `json:"entityId"`
	Errors     []string `json:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// cliaTypeSummary 单实体类型的合规汇总
type cliaTypeSummary struct {
	Total        int `json:"total"`
	Compliant    int `json:"compliant"`
	NonCompliant int `json:"nonCompliant"`
	Warnings     int `json:"warnings"`
}

// CLIAStatus GET /sync/api/v1/quality/clia
// 全量扫描副本中受 CLIA 约束的实体类型，汇总合规情况
func (h *QualityHandler) CLIAStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	summaries := map[string]*cliaTypeSummary{}
	var issues []cliaIssue

	for _, entityType := range cliaEntityTypes() {
		records, err := h.replicaRepo.ListRecords(ctx, entityType)
		if err != nil {
			writeFailure(w, err)
			return
		}

		summary := &cliaTypeSummary{Total: len(records)}
		summaries[string(entityType)] = summary

		for _, record := range records {
			result, err := h.validator.Validate(ctx, entityType, record)
			if err != nil {
				writeFailure(w, err)
				return
			}
			if result.CLIACompliant {
				summary.Compliant++
			} else {
				summary.NonCompliant++
			}
			if len(result.Warnings) > 0 {
				summary.Warnings++
			}
			if (!result.CLIACompliant || len(result.Warnings) > 0) && len(issues) < cliaIssueLimit {
				issues = append(issues, cliaIssue{
					EntityType: string(entityType),
					EntityID:   record.ID(),
					Errors:     result.Errors,
					Warnings:   result.Warnings,
				})
			}
		}
	}

	writeSuccess(w, map[string]any{
		"summary": summaries,
		"issues":  issues,
	})
}

// cliaValidateRequest 批量校验请求体
type cliaValidateRequest struct {
	EntityType string          `json:"entityType"`
	Records    []domain.Record `json:"records"`
}

// cliaValidateResult 单条记录的校验结果
type cliaValidateResult struct {
	EntityID string             `json:"entityId"`
	Result   *validation.Result `json:"result"`
}

// ValidateCLIABatch POST /sync/api/v1/quality/clia/validate
// 对提交的记录做 CLIA 校验（只校验，不入库、不隔离）
func (h *QualityHandler) ValidateCLIABatch(w http.ResponseWriter, r *http.Request) {
	var req cliaValidateRequest
	if err := readBodyJSON(r, 10<<20, &req); err != nil {
		writeFailure(w, fmt.Errorf("invalid request body: %w", err))
		return
	}

	entityType := domain.EntityType(req.EntityType)
	if req.EntityType == "" {
		entityType = domain.EntityLabResult
	}
	desc := domain.DescriptorFor(entityType)
	if desc == nil || !desc.CLIA {
		writeFailure(w, fmt.Errorf("entity type %q is not subject to clia validation", entityType))
		return
	}

	results := make([]cliaValidateResult, 0, len(req.Records))
	compliant := 0
	for _, record := range req.Records {
		result, err := h.validator.Validate(r.Context(), entityType, record)
		if err != nil {
			writeFailure(w, err)
			return
		}
		if result.CLIACompliant {
			compliant++
		}
		results = append(results, cliaValidateResult{
			EntityID: record.ID(),
			Result:   result,
		})
	}

	writeSuccess(w, map[string]any{
		"entityType":   string(entityType),
		"total":        len(req.Records),
		"compliant":    compliant,
		"nonCompliant": len(req.Records) - compliant,
		"results":      results,
	})
}

// cliaEntityTypes 受 CLIA 约束的同步实体类型
func cliaEntityTypes() []domain.EntityType {
	var types []domain.EntityType
	for _, t := range domain.SyncedTypes {
		if desc := domain.DescriptorFor(t); desc != nil && desc.CLIA {
			types = append(types, t)
		}
	}
	return types
}
