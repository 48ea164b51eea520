package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"medsync/internal/config"
	"medsync/internal/domain"
	"medsync/internal/models"
	"medsync/internal/mqtt"
	"medsync/internal/service"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "medsync/internal/redis"
)

// EventGateway 事件网关
// 消费实体事件和同步命令两个通道（实验室领域额外消费危急值告警），
// 路由到同步引擎，把确认 / 错误 / 结果发回出站通道。
// 单条坏消息从不中断消费循环：异常被捕获、记日志、发错误事件后继续
type EventGateway struct {
	cfg         *config.SyncConfig
	serviceName string
	redisClient *redis.Client
	engine      *service.SyncEngine
	notifier    service.Notifier
	mqttClient  *mqtt.Client // nil 表示未启用危急值 MQTT 转发
	mqttTopic   string
	mqttQoS     byte
	logger      *zap.Logger
}

// NewEventGateway 创建事件网关
func NewEventGateway(
	cfg *config.SyncConfig,
	serviceName string,
	redisClient *redis.Client,
	engine *service.SyncEngine,
	notifier service.Notifier,
	mqttClient *mqtt.Client,
	mqttTopic string,
	mqttQoS byte,
	logger *zap.Logger,
) *EventGateway {
	return &EventGateway{
		cfg:         cfg,
		serviceName: serviceName,
		redisClient: redisClient,
		engine:      engine,
		notifier:    notifier,
		mqttClient:  mqttClient,
		mqttTopic:   mqttTopic,
		mqttQoS:     mqttQoS,
		logger:      logger,
	}
}

// inboundStreams 本实例消费的入站通道
func (g *EventGateway) inboundStreams() []string {
	streams := []string{
		g.cfg.EventsStream(),
		g.cfg.CommandsStream(),
	}
	// 危急值告警只有实验室领域订阅
	if g.cfg.Domain == "laboratory" {
		streams = append(streams, config.CriticalValueAlertsStream)
	}
	return streams
}

// Start 启动消费循环（阻塞直到 ctx 取消）
func (g *EventGateway) Start(ctx context.Context) error {
	streams := g.inboundStreams()

	for _, stream := range streams {
		if err := rediscommon.CreateConsumerGroup(ctx, g.redisClient, stream, g.cfg.ConsumerGroup); err != nil {
			return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
		}
	}

	g.logger.Info("Event gateway started",
		zap.Strings("streams", streams),
		zap.String("consumer_group", g.cfg.ConsumerGroup),
		zap.String("consumer_name", g.cfg.ConsumerName),
	)

	// 消费循环（带指数退避）
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			allFailed := true
			for _, stream := range streams {
				if err := g.consumeStream(ctx, stream); err != nil {
					g.logger.Error("Failed to consume stream",
						zap.String("stream", stream),
						zap.Error(err),
					)
				} else {
					allFailed = false
				}
			}

			if allFailed {
				// 全部通道出错才退避（redis 整体不可用）
				g.logger.Error("All streams failed, backing off",
					zap.Duration("backoff", backoffDuration),
				)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeStream 消费单个通道
// 消息按到达顺序逐条处理（同一分区内保序，保证同一实体更新的因果序）
func (g *EventGateway) consumeStream(ctx context.Context, stream string) error {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		g.redisClient,
		stream,
		g.cfg.ConsumerGroup,
		g.cfg.ConsumerName,
		g.cfg.BatchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream %s: %w", stream, err)
	}

	for _, msg := range messages {
		raw := rawPayload(msg.Values)

		if err := g.processMessage(ctx, stream, raw); err != nil {
			g.logger.Error("Failed to process message",
				zap.String("stream", stream),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			g.publishError(ctx, raw, err)
		}

		// 无论成败都确认：错误已经发到错误通道，避免坏消息反复投递
		if err := rediscommon.AckMessage(ctx, g.redisClient, stream, g.cfg.ConsumerGroup, msg.ID); err != nil {
			g.logger.Warn("Failed to ack message",
				zap.String("stream", stream),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// processMessage 按通道路由单条消息
func (g *EventGateway) processMessage(ctx context.Context, stream string, raw []byte) error {
	switch stream {
	case g.cfg.EventsStream():
		return g.handleEntityEvent(ctx, raw)
	case g.cfg.CommandsStream():
		return g.handleSyncCommand(ctx, raw)
	case config.CriticalValueAlertsStream:
		return g.handleCriticalValueAlert(ctx, raw)
	}
	return fmt.Errorf("message from unexpected stream %q", stream)
}

// handleEntityEvent 实体生命周期事件：等价于一条记录的增量同步
func (g *EventGateway) handleEntityEvent(ctx context.Context, raw []byte) error {
	var event models.EntityEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return fmt.Errorf("failed to parse entity event: %w", err)
	}
	if event.EntityID == "" || event.EntityType == "" {
		return fmt.Errorf("entity event missing entityType/entityId")
	}

	if err := g.engine.ApplyEvent(ctx, event.EventType, event.EntityType, event.EntityID, event.Data); err != nil {
		return err
	}

	g.publishAck(ctx, raw)
	return nil
}

// handleSyncCommand 同步命令：触发引擎并把结果发到结果通道
func (g *EventGateway) handleSyncCommand(ctx context.Context, raw []byte) error {
	var cmd models.SyncCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return fmt.Errorf("failed to parse sync command: %w", err)
	}

	switch cmd.Type {
	case models.CommandFullSync:
		result, err := g.engine.FullSync(ctx)
		if err != nil {
			return err
		}
		g.publishResult(ctx, service.SyncTypeFull, result)
		return nil

	case models.CommandIncrementalSync:
		result, err := g.engine.IncrementalSync(ctx)
		if err != nil {
			return err
		}
		g.publishResult(ctx, service.SyncTypeIncremental, result)
		return nil

	case models.CommandHealthCheck:
		status, err := g.engine.Status(ctx)
		if err != nil {
			return err
		}
		health := "healthy"
		if !status.IsHealthy {
			health = "unhealthy"
		}
		g.publishJSON(ctx, g.cfg.HealthStream(), models.HealthEvent{
			Status:    health,
			Timestamp: time.Now().UTC(),
			Service:   g.serviceName,
		})
		return nil
	}

	return fmt.Errorf("unknown sync command %q", cmd.Type)
}

// handleCriticalValueAlert 危急值告警（仅实验室领域）
// 转发给告警协作方和 MQTT 主题，并强制受影响的检验结果立即单条重同步
//（临床紧急性优先于批处理效率）
func (g *EventGateway) handleCriticalValueAlert(ctx context.Context, raw []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("failed to parse critical value alert: %w", err)
	}

	labResultID, _ := payload["labResultId"].(string)
	if labResultID == "" {
		return fmt.Errorf("critical value alert missing labResultId")
	}

	g.logger.Warn("Critical value alert received",
		zap.String("lab_result_id", labResultID),
	)

	// 旁路转发（尽力而为，失败不阻断重同步）
	if err := g.notifier.NotifyCriticalValue(ctx, payload); err != nil {
		g.logger.Warn("Failed to notify critical value collaborator",
			zap.String("lab_result_id", labResultID),
			zap.Error(err),
		)
	}
	g.publishJSON(ctx, config.CriticalValueNotifyStream, payload)
	g.publishJSON(ctx, config.CriticalValueForwardedStream, map[string]any{
		"alert":       payload,
		"forwardedAt": time.Now().UTC(),
		"service":     g.serviceName,
	})
	if g.mqttClient != nil && g.mqttClient.IsConnected() {
		if err := g.mqttClient.Publish(g.mqttTopic, g.mqttQoS, false, raw); err != nil {
			g.logger.Warn("Failed to forward critical value over MQTT",
				zap.String("lab_result_id", labResultID),
				zap.Error(err),
			)
		}
	}

	// 强制单条重同步（绕开批处理）
	return g.engine.SyncRecord(ctx, domain.EntityLabResult, labResultID)
}

// publishAck 发布确认事件（尽力而为）
func (g *EventGateway) publishAck(ctx context.Context, original []byte) {
	g.publishJSON(ctx, g.cfg.AcksStream(), models.AckEvent{
		OriginalEvent:  original,
		AcknowledgedAt: time.Now().UTC(),
		Service:        g.serviceName,
	})
}

// publishError 发布错误事件（尽力而为）
func (g *EventGateway) publishError(ctx context.Context, original []byte, procErr error) {
	g.publishJSON(ctx, g.cfg.ErrorsStream(), models.ErrorEvent{
		OriginalEvent: original,
		Error:         procErr.Error(),
		ErrorAt:       time.Now().UTC(),
		Service:       g.serviceName,
	})
}

// publishResult 发布同步结果事件（尽力而为）
func (g *EventGateway) publishResult(ctx context.Context, syncType string, result *service.SyncResult) {
	g.publishJSON(ctx, g.cfg.ResultsStream(), models.ResultEvent{
		SyncType:    syncType,
		Result:      result,
		CompletedAt: time.Now().UTC(),
		Service:     g.serviceName,
	})
}

// publishJSON 出站发布是尽力而为的旁路写：失败只记日志，不影响主流程
func (g *EventGateway) publishJSON(ctx context.Context, stream string, data any) {
	if _, err := rediscommon.PublishJSONToStream(ctx, g.redisClient, stream, data); err != nil {
		g.logger.Warn("Failed to publish outbound event",
			zap.String("stream", stream),
			zap.Error(err),
		)
	}
}

// rawPayload 取 stream 消息的 data 字段（PublishJSONToStream 的对偶）
func rawPayload(values map[string]interface{}) []byte {
	if s, ok := values["data"].(string); ok {
		return []byte(s)
	}
	// data 字段缺失时退化为整个 values 的 JSON（容忍手工注入的消息）
	raw, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return raw
}
