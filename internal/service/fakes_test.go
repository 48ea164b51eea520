package service

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"medsync/internal/domain"
	"medsync/internal/store"
	"medsync/internal/validation"
)

// fakeRecordsRepo 仅用于单元测试（内存记录库）
type fakeRecordsRepo struct {
	mu      sync.Mutex
	records map[string]domain.Record // "type/id" → record
	casErr  error                    // 非 nil 时 UpsertRecordCAS 固定返回该错误
}

func newFakeRecordsRepo() *fakeRecordsRepo {
	return &fakeRecordsRepo{records: map[string]domain.Record{}}
}

func recordKey(entityType domain.EntityType, id string) string {
	return string(entityType) + "/" + id
}

func (f *fakeRecordsRepo) put(entityType domain.EntityType, record domain.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[recordKey(entityType, record.ID())] = record
}

func (f *fakeRecordsRepo) GetRecord(ctx context.Context, entityType domain.EntityType, entityID string) (domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[recordKey(entityType, entityID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return r, nil
}

func (f *fakeRecordsRepo) ListRecords(ctx context.Context, entityType domain.EntityType) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Record
	prefix := string(entityType) + "/"
	for key, r := range f.records {
		if strings.HasPrefix(key, prefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecordsRepo) ListModifiedSince(ctx context.Context, entityType domain.EntityType, since time.Time) ([]domain.Record, error) {
	all, _ := f.ListRecords(ctx, entityType)
	var out []domain.Record
	for _, r := range all {
		if r.UpdatedAt().After(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecordsRepo) ListByField(ctx context.Context, entityType domain.EntityType, field, value string) ([]domain.Record, error) {
	all, _ := f.ListRecords(ctx, entityType)
	var out []domain.Record
	for _, r := range all {
		if r.GetString(field) == value {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecordsRepo) Exists(ctx context.Context, entityType domain.EntityType, entityID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[recordKey(entityType, entityID)]
	return ok, nil
}

func (f *fakeRecordsRepo) CountRecords(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records), nil
}

func (f *fakeRecordsRepo) UpsertRecord(ctx context.Context, entityType domain.EntityType, record domain.Record) error {
	f.put(entityType, record)
	return nil
}

func (f *fakeRecordsRepo) UpsertRecordCAS(ctx context.Context, entityType domain.EntityType, record domain.Record, expected time.Time) error {
	if f.casErr != nil {
		return f.casErr
	}
	f.mu.Lock()
	current, ok := f.records[recordKey(entityType, record.ID())]
	f.mu.Unlock()
	if ok && !current.UpdatedAt().Equal(expected) {
		return domain.ErrResolutionConflict
	}
	f.put(entityType, record)
	return nil
}

// fakeConflictsRepo 内存冲突库
type fakeConflictsRepo struct {
	mu        sync.Mutex
	conflicts map[string]*domain.ConflictRecord
}

func newFakeConflictsRepo() *fakeConflictsRepo {
	return &fakeConflictsRepo{conflicts: map[string]*domain.ConflictRecord{}}
}

func (f *fakeConflictsRepo) InsertConflict(ctx context.Context, conflict *domain.ConflictRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts[conflict.ConflictID] = conflict
	return nil
}

func (f *fakeConflictsRepo) GetConflict(ctx context.Context, conflictID string) (*domain.ConflictRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conflicts[conflictID]
	if !ok {
		return nil, domain.ErrConflictNotFound
	}
	return c, nil
}

func (f *fakeConflictsRepo) ListPendingConflicts(ctx context.Context) ([]*domain.ConflictRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.ConflictRecord
	for _, c := range f.conflicts {
		if c.Status == domain.ConflictPending {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeConflictsRepo) CountPendingConflicts(ctx context.Context) (int, error) {
	pending, _ := f.ListPendingConflicts(ctx)
	return len(pending), nil
}

func (f *fakeConflictsRepo) MarkResolved(ctx context.Context, conflictID, strategy, resolvedBy string, resolvedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conflicts[conflictID]
	if !ok || c.Status != domain.ConflictPending {
		return domain.ErrConflictNotFound
	}
	c.Status = domain.ConflictResolved
	c.ResolutionStrategy = &strategy
	c.ResolvedBy = &resolvedBy
	c.ResolvedAt = &resolvedAt
	return nil
}

func (f *fakeConflictsRepo) MarkEscalated(ctx context.Context, conflictID, escalatedBy string, escalatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conflicts[conflictID]
	if !ok || c.Status != domain.ConflictPending {
		return domain.ErrConflictNotFound
	}
	c.Status = domain.ConflictEscalated
	c.ResolvedBy = &escalatedBy
	c.ResolvedAt = &escalatedAt
	return nil
}

func (f *fakeConflictsRepo) Statistics(ctx context.Context) (*domain.ConflictStatistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &domain.ConflictStatistics{CountsByStatus: map[string]int{}}
	for _, c := range f.conflicts {
		stats.CountsByStatus[c.Status]++
	}
	return stats, nil
}

// fakeQuarantineRepo 内存隔离库
type fakeQuarantineRepo struct {
	mu      sync.Mutex
	records map[string]*domain.QuarantinedRecord
}

func newFakeQuarantineRepo() *fakeQuarantineRepo {
	return &fakeQuarantineRepo{records: map[string]*domain.QuarantinedRecord{}}
}

func (f *fakeQuarantineRepo) InsertQuarantined(ctx context.Context, record *domain.QuarantinedRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[record.QuarantineID] = record
	return nil
}

func (f *fakeQuarantineRepo) GetQuarantined(ctx context.Context, quarantineID string) (*domain.QuarantinedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.records[quarantineID]
	if !ok {
		return nil, domain.ErrQuarantineNotFound
	}
	return q, nil
}

func (f *fakeQuarantineRepo) ListPendingReview(ctx context.Context) ([]*domain.QuarantinedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.QuarantinedRecord
	for _, q := range f.records {
		if q.Status == domain.QuarantinePendingReview {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeQuarantineRepo) MarkReviewed(ctx context.Context, quarantineID, status, reviewedBy, notes string, reviewedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.records[quarantineID]
	if !ok || q.Status != domain.QuarantinePendingReview {
		return domain.ErrQuarantineNotFound
	}
	q.Status = status
	q.ReviewedBy = &reviewedBy
	q.ReviewedAt = &reviewedAt
	q.ReviewNotes = &notes
	return nil
}

func (f *fakeQuarantineRepo) Statistics(ctx context.Context) (*domain.QuarantineStatistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &domain.QuarantineStatistics{CountsByStatus: map[string]int{}}
	for _, q := range f.records {
		stats.CountsByStatus[q.Status]++
	}
	return stats, nil
}

// fakeAuditRepo 内存审计日志
type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (f *fakeAuditRepo) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditRepo) ListAuditByEntity(ctx context.Context, entityType domain.EntityType, entityID string) ([]*domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.AuditEntry
	for _, e := range f.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAuditRepo) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

// fakeKV 内存 KV（无 TTL 语义，同步 checkpoint 不依赖过期）
type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string]string{}}
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", store.ErrMiss
	}
	return v, nil
}

func (f *fakeKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

// fakeLease 可编程租约
type fakeLease struct {
	mu       sync.Mutex
	held     map[string]bool
	acquires int
	err      error // 非 nil 时 Acquire 固定返回该错误
}

func newFakeLease() *fakeLease {
	return &fakeLease{held: map[string]bool{}}
}

func (f *fakeLease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if f.err != nil {
		return false, f.err
	}
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLease) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	return nil
}

// fakeValidator 可编程校验器
type fakeValidator struct {
	result *validation.Result
	err    error
}

func (f *fakeValidator) Validate(ctx context.Context, entityType domain.EntityType, record domain.Record) (*validation.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &validation.Result{IsValid: true, CLIACompliant: true}, nil
}

// fakeNotifier 记录告警调用
type fakeNotifier struct {
	mu           sync.Mutex
	escalations  int
	criticalVals int
}

func (f *fakeNotifier) NotifyEscalation(ctx context.Context, conflict *domain.ConflictRecord, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations++
	return nil
}

func (f *fakeNotifier) NotifyCriticalValue(ctx context.Context, alert map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.criticalVals++
	return nil
}
