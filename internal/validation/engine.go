package validation

import (
	"context"
	"fmt"

	"medsync/internal/domain"

	"go.uber.org/zap"
)

// ReplicaReader 校验所需的副本库只读视图（交叉引用 + 时段冲突预检）
type ReplicaReader interface {
	Exists(ctx context.Context, entityType domain.EntityType, entityID string) (bool, error)
	ListByField(ctx context.Context, entityType domain.EntityType, field, value string) ([]domain.Record, error)
}

// QuarantineSink 批量校验的隔离副作用（阻断性错误的记录自动进隔离区）
type QuarantineSink interface {
	Quarantine(ctx context.Context, entityType domain.EntityType, record domain.Record, errs []string) (string, error)
}

// Result 单条记录的校验结果
// Errors 为阻断性错误；Warnings 仅提示（PHI 敏感内容、CLIA 时效提醒）
type Result struct {
	IsValid       bool     `json:"isValid"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	CLIACompliant bool     `json:"cliaCompliant"`
}

// BatchResult 批量校验结果
type BatchResult struct {
	Valid          []domain.Record `json:"valid"`
	Invalid        []domain.Record `json:"invalid"`
	QuarantinedIDs []string        `json:"quarantinedIds"`
}

// Engine 校验引擎
// 结构 / 枚举 / 交叉引用 / 时段冲突 / 监管（PHI、CLIA）检查全部由实体描述符驱动
type Engine struct {
	replica    ReplicaReader
	quarantine QuarantineSink
	logger     *zap.Logger
}

// NewEngine 创建校验引擎
// quarantine 可为 nil（只做校验、不落隔离区的调用场景，如复检）
func NewEngine(replica ReplicaReader, quarantine QuarantineSink, logger *zap.Logger) *Engine {
	return &Engine{
		replica:    replica,
		quarantine: quarantine,
		logger:     logger,
	}
}

// Validate 校验单条记录
func (e *Engine) Validate(ctx context.Context, entityType domain.EntityType, record domain.Record) (*Result, error) {
	desc := domain.DescriptorFor(entityType)
	if desc == nil {
		return nil, fmt.Errorf("no descriptor registered for entity type %q", entityType)
	}

	result := &Result{CLIACompliant: true}

	// 结构检查：必填字段
	for _, field := range desc.Required {
		if v, ok := record[field]; !ok || v == nil || v == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("missing required field: %s", field))
		}
	}

	// 枚举检查：状态 / 优先级必须在允许集合内
	for field, allowed := range desc.Enums {
		val := record.GetString(field)
		if val == "" {
			continue
		}
		if !contains(allowed, val) {
			result.Errors = append(result.Errors, fmt.Sprintf("invalid %s value: %q", field, val))
		}
	}

	// 交叉引用检查：父实体必须存在于副本库
	for _, ref := range desc.References {
		parentID := record.GetString(ref.Field)
		if parentID == "" {
			continue // 缺失由必填检查覆盖
		}
		exists, err := e.replica.Exists(ctx, ref.Parent, parentID)
		if err != nil {
			return nil, fmt.Errorf("failed to check reference %s: %w", ref.Field, err)
		}
		if !exists {
			result.Errors = append(result.Errors,
				fmt.Sprintf("referenced %s %q not found", ref.Parent, parentID))
		}
	}

	// 时段冲突预检：同一资源的半开区间重叠即双重预订
	if desc.Overlap != nil {
		overlapErrs, err := e.checkOverlap(ctx, desc, record)
		if err != nil {
			return nil, err
		}
		result.Errors = append(result.Errors, overlapErrs...)
	}

	// PHI 敏感内容启发式扫描（只产生警告，不阻断）
	for _, field := range desc.TextFields {
		text := record.GetString(field)
		if text == "" {
			continue
		}
		result.Warnings = append(result.Warnings, scanSensitiveContent(field, text)...)
	}

	// CLIA 时效性检查（实验室结果类）
	if desc.CLIA {
		cliaErrs, cliaWarns := checkCLIA(entityType, record)
		result.Errors = append(result.Errors, cliaErrs...)
		result.Warnings = append(result.Warnings, cliaWarns...)
		result.CLIACompliant = len(cliaErrs) == 0
	}

	result.IsValid = len(result.Errors) == 0
	return result, nil
}

// checkOverlap 检查同一资源的已存在时段是否与本记录重叠
func (e *Engine) checkOverlap(ctx context.Context, desc *domain.EntityDescriptor, record domain.Record) ([]string, error) {
	rule := desc.Overlap

	start, okS := record.GetTime(rule.StartField)
	end, okE := record.GetTime(rule.EndField)
	resource := record.GetString(rule.ResourceField)
	if !okS || !okE || resource == "" {
		return nil, nil // 字段不全时交由必填检查处理
	}

	existing, err := e.replica.ListByField(ctx, desc.Type, rule.ResourceField, resource)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s by %s: %w", desc.Type, rule.ResourceField, err)
	}

	var errs []string
	for _, other := range existing {
		if other.ID() == record.ID() {
			continue
		}
		os, okOS := other.GetTime(rule.StartField)
		oe, okOE := other.GetTime(rule.EndField)
		if !okOS || !okOE {
			continue
		}
		// 半开区间重叠：[s1,e1) 与 [s2,e2) 重叠 iff s1 < e2 && s2 < e1
		if start.Before(oe) && os.Before(end) {
			errs = append(errs, fmt.Sprintf(
				"scheduling overlap with %s %s for %s %s",
				desc.Type, other.ID(), rule.ResourceField, resource))
		}
	}
	return errs, nil
}

// ValidateBatch 批量校验
// 存在阻断性错误的记录自动进入隔离区（副作用）
func (e *Engine) ValidateBatch(ctx context.Context, entityType domain.EntityType, records []domain.Record) (*BatchResult, error) {
	result := &BatchResult{}

	for _, record := range records {
		r, err := e.Validate(ctx, entityType, record)
		if err != nil {
			return nil, err
		}
		if r.IsValid {
			result.Valid = append(result.Valid, record)
			continue
		}

		result.Invalid = append(result.Invalid, record)
		if e.quarantine == nil {
			continue
		}
		qid, qErr := e.quarantine.Quarantine(ctx, entityType, record, r.Errors)
		if qErr != nil {
			// 隔离是尽力而为：失败记日志，不影响批次
			e.logger.Warn("Failed to quarantine invalid record",
				zap.String("entity_type", string(entityType)),
				zap.String("entity_id", record.ID()),
				zap.Error(qErr),
			)
			continue
		}
		result.QuarantinedIDs = append(result.QuarantinedIDs, qid)
	}

	return result, nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
