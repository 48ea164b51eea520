package service

import (
	"context"
	"fmt"
	"time"

	"medsync/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Notifier 外部告警协作方
// 冲突升级和危急值都推送给独立的告警服务；推送失败不阻断主流程
type Notifier interface {
	NotifyEscalation(ctx context.Context, conflict *domain.ConflictRecord, reason string) error
	NotifyCriticalValue(ctx context.Context, payload map[string]any) error
}

// AlertClient 告警服务 HTTP 客户端
type AlertClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewAlertClient 创建告警客户端
func NewAlertClient(baseURL string, timeout time.Duration, logger *zap.Logger) *AlertClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &AlertClient{
		httpClient: client,
		logger:     logger,
	}
}

var _ Notifier = (*AlertClient)(nil)

// NotifyEscalation 推送冲突升级通知
func (c *AlertClient) NotifyEscalation(ctx context.Context, conflict *domain.ConflictRecord, reason string) error {
	body := map[string]any{
		"conflictId": conflict.ConflictID,
		"entityType": conflict.EntityType,
		"entityId":   conflict.EntityID,
		"reason":     reason,
		"detectedAt": conflict.DetectedAt,
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		Post("/alerts/escalations")
	if err != nil {
		return fmt.Errorf("failed to post escalation alert: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("escalation alert rejected: status %d", resp.StatusCode())
	}

	c.logger.Info("Escalation alert sent",
		zap.String("conflict_id", conflict.ConflictID),
		zap.String("entity_id", conflict.EntityID),
	)
	return nil
}

// NotifyCriticalValue 推送危急值通知
func (c *AlertClient) NotifyCriticalValue(ctx context.Context, payload map[string]any) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/alerts/critical-values")
	if err != nil {
		return fmt.Errorf("failed to post critical value alert: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("critical value alert rejected: status %d", resp.StatusCode())
	}
	return nil
}

// NopNotifier 告警协作方未启用时的空实现
type NopNotifier struct{}

var _ Notifier = (*NopNotifier)(nil)

func (NopNotifier) NotifyEscalation(context.Context, *domain.ConflictRecord, string) error {
	return nil
}

func (NopNotifier) NotifyCriticalValue(context.Context, map[string]any) error {
	return nil
}
