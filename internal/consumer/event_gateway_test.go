package consumer

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"medsync/internal/config"
	"medsync/internal/domain"
	"medsync/internal/service"
	"medsync/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memRecordsRepo 内存记录库（网关测试用）
type memRecordsRepo struct {
	mu      sync.Mutex
	records map[string]domain.Record
}

func newMemRecordsRepo() *memRecordsRepo {
	return &memRecordsRepo{records: map[string]domain.Record{}}
}

func (m *memRecordsRepo) key(entityType domain.EntityType, id string) string {
	return string(entityType) + "/" + id
}

func (m *memRecordsRepo) put(entityType domain.EntityType, r domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[m.key(entityType, r.ID())] = r
}

func (m *memRecordsRepo) GetRecord(ctx context.Context, entityType domain.EntityType, entityID string) (domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[m.key(entityType, entityID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return r, nil
}

func (m *memRecordsRepo) ListRecords(ctx context.Context, entityType domain.EntityType) ([]domain.Record, error) {
	return nil, nil
}

func (m *memRecordsRepo) ListModifiedSince(ctx context.Context, entityType domain.EntityType, since time.Time) ([]domain.Record, error) {
	return nil, nil
}

func (m *memRecordsRepo) ListByField(ctx context.Context, entityType domain.EntityType, field, value string) ([]domain.Record, error) {
	return nil, nil
}

func (m *memRecordsRepo) Exists(ctx context.Context, entityType domain.EntityType, entityID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[m.key(entityType, entityID)]
	return ok, nil
}

func (m *memRecordsRepo) CountRecords(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

func (m *memRecordsRepo) UpsertRecord(ctx context.Context, entityType domain.EntityType, record domain.Record) error {
	m.put(entityType, record)
	return nil
}

func (m *memRecordsRepo) UpsertRecordCAS(ctx context.Context, entityType domain.EntityType, record domain.Record, expected time.Time) error {
	m.put(entityType, record)
	return nil
}

// memConflictsRepo 内存冲突库（网关测试用）
type memConflictsRepo struct {
	mu        sync.Mutex
	conflicts []*domain.ConflictRecord
}

func (m *memConflictsRepo) InsertConflict(ctx context.Context, c *domain.ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = append(m.conflicts, c)
	return nil
}

func (m *memConflictsRepo) GetConflict(ctx context.Context, id string) (*domain.ConflictRecord, error) {
	return nil, domain.ErrConflictNotFound
}

func (m *memConflictsRepo) ListPendingConflicts(ctx context.Context) ([]*domain.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conflicts, nil
}

func (m *memConflictsRepo) CountPendingConflicts(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conflicts), nil
}

func (m *memConflictsRepo) MarkResolved(ctx context.Context, id, strategy, by string, at time.Time) error {
	return nil
}

func (m *memConflictsRepo) MarkEscalated(ctx context.Context, id, by string, at time.Time) error {
	return nil
}

func (m *memConflictsRepo) Statistics(ctx context.Context) (*domain.ConflictStatistics, error) {
	return &domain.ConflictStatistics{CountsByStatus: map[string]int{}}, nil
}

// countingNotifier 记录危急值通知次数
type countingNotifier struct {
	mu           sync.Mutex
	criticalVals int
}

func (c *countingNotifier) NotifyEscalation(ctx context.Context, conflict *domain.ConflictRecord, reason string) error {
	return nil
}

func (c *countingNotifier) NotifyCriticalValue(ctx context.Context, alert map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.criticalVals++
	return nil
}

type gatewayFixture struct {
	mr       *miniredis.Miniredis
	client   *redis.Client
	main     *memRecordsRepo
	replica  *memRecordsRepo
	notifier *countingNotifier
	gateway  *EventGateway
}

func newGatewayFixture(t *testing.T, domainName string) *gatewayFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	f := &gatewayFixture{
		mr:       mr,
		client:   client,
		main:     newMemRecordsRepo(),
		replica:  newMemRecordsRepo(),
		notifier: &countingNotifier{},
	}

	engine := service.NewSyncEngine(
		f.main, f.replica, &memConflictsRepo{},
		store.NewRedisKV(client), store.NewRedisLease(client),
		domainName, 24*time.Hour, 10*time.Minute,
		zap.NewNop(),
	)

	cfg := &config.SyncConfig{
		Domain:        domainName,
		ConsumerGroup: "medsync-" + domainName,
		ConsumerName:  "test-consumer",
		BatchSize:     10,
	}
	f.gateway = NewEventGateway(
		cfg, "medsync-test", client, engine,
		f.notifier, nil, "", 0,
		zap.NewNop(),
	)
	return f
}

func TestInboundStreams_LaboratoryConsumesCriticalAlerts(t *testing.T) {
	f := newGatewayFixture(t, "laboratory")
	assert.Equal(t, []string{
		"laboratory-events",
		"laboratory-sync-commands",
		"critical-value-alerts",
	}, f.gateway.inboundStreams())
}

func TestInboundStreams_OtherDomainsSkipCriticalAlerts(t *testing.T) {
	f := newGatewayFixture(t, "patient")
	assert.Equal(t, []string{
		"patient-events",
		"patient-sync-commands",
	}, f.gateway.inboundStreams())
}

func TestHandleEntityEvent_CreatedUpsertsAndAcks(t *testing.T) {
	f := newGatewayFixture(t, "patient")

	raw, err := json.Marshal(map[string]any{
		"eventType":  "created",
		"entityType": "patient",
		"entityId":   "pat-1",
		"data": map[string]any{
			"id": "pat-1", "status": "active", "updated_at": "2026-03-01T10:00:00Z",
		},
	})
	require.NoError(t, err)

	err = f.gateway.handleEntityEvent(context.Background(), raw)
	require.NoError(t, err)

	created, err := f.replica.GetRecord(context.Background(), domain.EntityPatient, "pat-1")
	require.NoError(t, err)
	assert.Equal(t, "active", created.GetString("status"))

	// 确认事件发到出站通道
	msgs, err := f.client.XRange(context.Background(), "patient-sync-acknowledgments", "-", "+").Result()
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHandleEntityEvent_MissingFieldsRejected(t *testing.T) {
	f := newGatewayFixture(t, "patient")

	err := f.gateway.handleEntityEvent(context.Background(), []byte(`{"eventType":"created"}`))
	assert.Error(t, err)
}

func TestHandleSyncCommand_UnknownType(t *testing.T) {
	f := newGatewayFixture(t, "patient")

	err := f.gateway.handleSyncCommand(context.Background(), []byte(`{"type":"defragment"}`))
	assert.Error(t, err)
}

func TestHandleSyncCommand_FullSyncPublishesResult(t *testing.T) {
	f := newGatewayFixture(t, "patient")
	f.main.put(domain.EntityPatient, domain.Record{
		"id": "pat-1", "status": "active", "updated_at": "2026-03-01T10:00:00Z",
	})

	err := f.gateway.handleSyncCommand(context.Background(), []byte(`{"type":"full_sync"}`))
	require.NoError(t, err)

	msgs, err := f.client.XRange(context.Background(), "patient-sync-results", "-", "+").Result()
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHandleCriticalValueAlert_ForwardsAndResyncs(t *testing.T) {
	f := newGatewayFixture(t, "laboratory")
	f.main.put(domain.EntityLabResult, domain.Record{
		"id": "result-1", "critical_flag": true, "updated_at": "2026-03-01T10:00:00Z",
	})

	raw := []byte(`{"labResultId":"result-1","value":"K 6.8 mmol/L"}`)
	err := f.gateway.handleCriticalValueAlert(context.Background(), raw)
	require.NoError(t, err)

	// 告警协作方被调用
	assert.Equal(t, 1, f.notifier.criticalVals)

	// 通知与转发通道各一条
	notify, err := f.client.XRange(context.Background(), config.CriticalValueNotifyStream, "-", "+").Result()
	require.NoError(t, err)
	assert.Len(t, notify, 1)
	forwarded, err := f.client.XRange(context.Background(), config.CriticalValueForwardedStream, "-", "+").Result()
	require.NoError(t, err)
	assert.Len(t, forwarded, 1)

	// 受影响的检验结果被强制重同步到副本
	synced, err := f.replica.GetRecord(context.Background(), domain.EntityLabResult, "result-1")
	require.NoError(t, err)
	assert.Equal(t, true, synced["critical_flag"])
}

func TestHandleCriticalValueAlert_MissingID(t *testing.T) {
	f := newGatewayFixture(t, "laboratory")

	err := f.gateway.handleCriticalValueAlert(context.Background(), []byte(`{"value":"K 6.8"}`))
	assert.Error(t, err)
}

func TestRawPayload_DataField(t *testing.T) {
	raw := rawPayload(map[string]interface{}{"data": `{"x":1}`})
	assert.JSONEq(t, `{"x":1}`, string(raw))
}

func TestRawPayload_FallbackToValues(t *testing.T) {
	raw := rawPayload(map[string]interface{}{"x": "1"})
	assert.JSONEq(t, `{"x":"1"}`, string(raw))
}
