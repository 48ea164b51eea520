package service

import (
	"context"
	"testing"
	"time"

	"medsync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(main, replica *fakeRecordsRepo, conflicts *fakeConflictsRepo) *SyncEngine {
	return NewSyncEngine(
		main, replica, conflicts,
		newFakeKV(), newFakeLease(),
		"laboratory", 24*time.Hour, 10*time.Minute,
		zap.NewNop(),
	)
}

func TestFullSync_CreatesMissingReplicaRecords(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	conflicts := newFakeConflictsRepo()
	engine := newTestEngine(main, replica, conflicts)

	main.put(domain.EntityPatient, domain.Record{
		"id": "pat-1", "status": "active", "updated_at": "2026-03-01T10:00:00Z",
	})

	result, err := engine.FullSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncTypeFull, result.SyncType)
	assert.Equal(t, 1, result.SyncedRecords)
	assert.Equal(t, 0, result.Conflicts)

	created, err := replica.GetRecord(context.Background(), domain.EntityPatient, "pat-1")
	require.NoError(t, err)
	assert.Equal(t, "active", created.GetString("status"))
}

func TestFullSync_DetectsConflict(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	conflicts := newFakeConflictsRepo()
	engine := newTestEngine(main, replica, conflicts)

	// 主系统更新且追踪字段不同
	main.put(domain.EntityPatient, domain.Record{
		"id": "pat-1", "status": "inactive", "updated_at": "2026-03-01T11:00:00Z",
	})
	replica.put(domain.EntityPatient, domain.Record{
		"id": "pat-1", "status": "active", "updated_at": "2026-03-01T10:00:00Z",
	})

	result, err := engine.FullSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)

	pending, err := conflicts.ListPendingConflicts(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "pat-1", pending[0].EntityID)
	assert.Equal(t, domain.ConflictTypeDataMismatch, pending[0].ConflictType)

	// 副本保持检测时的值，等待人工处理
	current, err := replica.GetRecord(context.Background(), domain.EntityPatient, "pat-1")
	require.NoError(t, err)
	assert.Equal(t, "active", current.GetString("status"))
}

func TestFullSync_TimestampOnlyChangeIsNotConflict(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	conflicts := newFakeConflictsRepo()
	engine := newTestEngine(main, replica, conflicts)

	// 主系统更新但追踪字段值相同
	main.put(domain.EntityPatient, domain.Record{
		"id": "pat-1", "status": "active", "updated_at": "2026-03-01T11:00:00Z",
	})
	replica.put(domain.EntityPatient, domain.Record{
		"id": "pat-1", "status": "active", "updated_at": "2026-03-01T10:00:00Z",
	})

	result, err := engine.FullSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Conflicts)
	assert.Equal(t, 1, result.SyncedRecords)

	current, err := replica.GetRecord(context.Background(), domain.EntityPatient, "pat-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T11:00:00Z", current.GetString("updated_at"))
}

func TestFullSync_ReplicaNewerIsNotConflict(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	conflicts := newFakeConflictsRepo()
	engine := newTestEngine(main, replica, conflicts)

	main.put(domain.EntityPatient, domain.Record{
		"id": "pat-1", "status": "inactive", "updated_at": "2026-03-01T10:00:00Z",
	})
	replica.put(domain.EntityPatient, domain.Record{
		"id": "pat-1", "status": "active", "updated_at": "2026-03-01T11:00:00Z",
	})

	result, err := engine.FullSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Conflicts)
}

func TestFullSync_ReplicaOnlyRecordRetained(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	conflicts := newFakeConflictsRepo()
	engine := newTestEngine(main, replica, conflicts)

	replica.put(domain.EntityPatient, domain.Record{
		"id": "pat-local", "status": "active", "updated_at": "2026-03-01T10:00:00Z",
	})

	_, err := engine.FullSync(context.Background())
	require.NoError(t, err)

	// 副本独有记录不被删除
	_, err = replica.GetRecord(context.Background(), domain.EntityPatient, "pat-local")
	assert.NoError(t, err)
}

func TestFullSync_Idempotent(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	conflicts := newFakeConflictsRepo()
	engine := newTestEngine(main, replica, conflicts)

	main.put(domain.EntityPatient, domain.Record{
		"id": "pat-1", "status": "active", "updated_at": "2026-03-01T10:00:00Z",
	})

	_, err := engine.FullSync(context.Background())
	require.NoError(t, err)
	second, err := engine.FullSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, second.Conflicts)
	count, _ := conflicts.CountPendingConflicts(context.Background())
	assert.Equal(t, 0, count)
}

func TestSync_MutualExclusionInProcess(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	engine := newTestEngine(main, replica, newFakeConflictsRepo())

	require.NoError(t, engine.begin(context.Background()))
	defer engine.end(context.Background())

	_, err := engine.FullSync(context.Background())
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)
}

func TestSync_MutualExclusionViaLease(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	lease := newFakeLease()
	engine := NewSyncEngine(
		main, replica, newFakeConflictsRepo(),
		newFakeKV(), lease,
		"laboratory", 24*time.Hour, 10*time.Minute,
		zap.NewNop(),
	)

	// 另一实例已持有租约
	ok, err := lease.Acquire(context.Background(), "medsync:laboratory:sync-lease", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = engine.FullSync(context.Background())
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)
	assert.False(t, engine.IsRunning())
}

func TestSync_LeaseFailureDegradesToInProcess(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	lease := newFakeLease()
	lease.err = assert.AnError
	engine := NewSyncEngine(
		main, replica, newFakeConflictsRepo(),
		newFakeKV(), lease,
		"laboratory", 24*time.Hour, 10*time.Minute,
		zap.NewNop(),
	)

	// 租约不可用时同步照常执行
	_, err := engine.FullSync(context.Background())
	assert.NoError(t, err)
	assert.False(t, engine.IsRunning())
}

func TestIncrementalSync_HonorsCheckpoint(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	conflicts := newFakeConflictsRepo()
	kv := newFakeKV()
	engine := NewSyncEngine(
		main, replica, conflicts,
		kv, newFakeLease(),
		"laboratory", 24*time.Hour, 10*time.Minute,
		zap.NewNop(),
	)

	// checkpoint 之后修改的记录
	recent := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	stale := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339)
	main.put(domain.EntityPatient, domain.Record{"id": "pat-recent", "status": "active", "updated_at": recent})
	main.put(domain.EntityPatient, domain.Record{"id": "pat-stale", "status": "active", "updated_at": stale})

	checkpoint := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)
	require.NoError(t, kv.Set(context.Background(), "medsync:laboratory:last-sync:incremental_sync", checkpoint, 0))

	result, err := engine.IncrementalSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.SyncedRecords)

	_, err = replica.GetRecord(context.Background(), domain.EntityPatient, "pat-recent")
	assert.NoError(t, err)
	_, err = replica.GetRecord(context.Background(), domain.EntityPatient, "pat-stale")
	assert.Error(t, err)
}

func TestSync_UpdatesCheckpoint(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	kv := newFakeKV()
	engine := NewSyncEngine(
		main, replica, newFakeConflictsRepo(),
		kv, newFakeLease(),
		"laboratory", 24*time.Hour, 10*time.Minute,
		zap.NewNop(),
	)

	_, err := engine.FullSync(context.Background())
	require.NoError(t, err)

	val, err := kv.Get(context.Background(), "medsync:laboratory:last-sync:full_sync")
	require.NoError(t, err)
	_, parseErr := time.Parse(time.RFC3339, val)
	assert.NoError(t, parseErr)

	// 全量完成也推进增量基准
	_, err = kv.Get(context.Background(), "medsync:laboratory:last-sync:incremental_sync")
	assert.NoError(t, err)
}

func TestApplyEvent_CreatedUpserts(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	engine := newTestEngine(main, replica, newFakeConflictsRepo())

	data := domain.Record{"id": "pat-1", "status": "active", "updated_at": "2026-03-01T10:00:00Z"}
	err := engine.ApplyEvent(context.Background(), "created", domain.EntityPatient, "pat-1", data)
	require.NoError(t, err)

	created, err := replica.GetRecord(context.Background(), domain.EntityPatient, "pat-1")
	require.NoError(t, err)
	assert.Equal(t, "active", created.GetString("status"))
}

func TestApplyEvent_UpdatedConflict(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	conflicts := newFakeConflictsRepo()
	engine := newTestEngine(main, replica, conflicts)

	replica.put(domain.EntityPatient, domain.Record{
		"id": "pat-1", "status": "active", "updated_at": "2026-03-01T10:00:00Z",
	})
	data := domain.Record{"id": "pat-1", "status": "inactive", "updated_at": "2026-03-01T11:00:00Z"}

	err := engine.ApplyEvent(context.Background(), "updated", domain.EntityPatient, "pat-1", data)
	require.NoError(t, err)

	count, _ := conflicts.CountPendingConflicts(context.Background())
	assert.Equal(t, 1, count)
}

func TestApplyEvent_DeletedRetainsReplica(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	engine := newTestEngine(main, replica, newFakeConflictsRepo())

	replica.put(domain.EntityPatient, domain.Record{"id": "pat-1", "status": "active"})

	err := engine.ApplyEvent(context.Background(), "deleted", domain.EntityPatient, "pat-1", nil)
	require.NoError(t, err)

	_, err = replica.GetRecord(context.Background(), domain.EntityPatient, "pat-1")
	assert.NoError(t, err, "delete events do not remove replica records")
}

func TestApplyEvent_UnknownEventType(t *testing.T) {
	engine := newTestEngine(newFakeRecordsRepo(), newFakeRecordsRepo(), newFakeConflictsRepo())

	err := engine.ApplyEvent(context.Background(), "exploded", domain.EntityPatient, "pat-1", nil)
	assert.Error(t, err)
}

func TestSyncRecord_MissingFromMainSkips(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	engine := newTestEngine(main, replica, newFakeConflictsRepo())

	err := engine.SyncRecord(context.Background(), domain.EntityLabResult, "result-missing")
	assert.NoError(t, err)
}

func TestStatus_ReportsPendingConflicts(t *testing.T) {
	main := newFakeRecordsRepo()
	replica := newFakeRecordsRepo()
	conflicts := newFakeConflictsRepo()
	engine := newTestEngine(main, replica, conflicts)

	require.NoError(t, conflicts.InsertConflict(context.Background(), &domain.ConflictRecord{
		ConflictID: "c-1", EntityID: "pat-1", EntityType: domain.EntityPatient,
		Status: domain.ConflictPending,
	}))
	replica.put(domain.EntityPatient, domain.Record{"id": "pat-1"})

	status, err := engine.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.IsHealthy)
	assert.Equal(t, 1, status.PendingConflicts)
	assert.Equal(t, 1, status.TotalRecords)
	assert.Nil(t, status.LastFullSync)
}
