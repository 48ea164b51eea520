package service

import (
	"testing"

	"medsync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labOrderDesc(t *testing.T) *domain.EntityDescriptor {
	desc := domain.DescriptorFor(domain.EntityLabOrder)
	require.NotNil(t, desc)
	return desc
}

func TestMergeRecords_StatusAdvances(t *testing.T) {
	desc := labOrderDesc(t)

	main := domain.Record{"id": "order-1", "status": "processing", "updated_at": "2026-03-01T10:00:00Z"}
	service := domain.Record{"id": "order-1", "status": "collected", "updated_at": "2026-03-01T09:58:00Z"}

	merged := mergeRecords(desc, main, service)
	assert.Equal(t, "processing", merged.GetString("status"))

	// 方向对调结果一致：状态合并对输入侧别不敏感
	merged = mergeRecords(desc, service, main)
	assert.Equal(t, "processing", merged.GetString("status"))
}

func TestMergeRecords_DeadEndStatusWins(t *testing.T) {
	desc := labOrderDesc(t)

	main := domain.Record{"id": "order-1", "status": "completed"}
	service := domain.Record{"id": "order-1", "status": "cancelled"}

	merged := mergeRecords(desc, main, service)
	assert.Equal(t, "cancelled", merged.GetString("status"))

	merged = mergeRecords(desc, service, main)
	assert.Equal(t, "cancelled", merged.GetString("status"))
}

func TestMergeRecords_TextConcatenation(t *testing.T) {
	desc := labOrderDesc(t)

	main := domain.Record{"id": "order-1", "clinical_notes": "fasting sample"}
	service := domain.Record{"id": "order-1", "clinical_notes": "patient on metformin"}

	merged := mergeRecords(desc, main, service)
	assert.Equal(t, "fasting sample | patient on metformin", merged.GetString("clinical_notes"))
}

func TestMergeRecords_TextOneSideEmpty(t *testing.T) {
	desc := labOrderDesc(t)

	main := domain.Record{"id": "order-1"}
	service := domain.Record{"id": "order-1", "clinical_notes": "patient on metformin"}

	merged := mergeRecords(desc, main, service)
	assert.Equal(t, "patient on metformin", merged.GetString("clinical_notes"))
}

func TestMergeRecords_TextIdenticalNotDuplicated(t *testing.T) {
	desc := labOrderDesc(t)

	main := domain.Record{"id": "order-1", "clinical_notes": "same note"}
	service := domain.Record{"id": "order-1", "clinical_notes": "same note"}

	merged := mergeRecords(desc, main, service)
	assert.Equal(t, "same note", merged.GetString("clinical_notes"))
}

func TestMergeRecords_TimestampsNonNullThenLarger(t *testing.T) {
	desc := labOrderDesc(t)

	main := domain.Record{
		"id":           "order-1",
		"collected_at": "2026-03-01T09:00:00Z",
		"updated_at":   "2026-03-01T09:30:00Z",
	}
	service := domain.Record{
		"id":           "order-1",
		"collected_at": "2026-03-01T09:05:00Z",
		"completed_at": "2026-03-01T09:20:00Z",
		"updated_at":   "2026-03-01T09:45:00Z",
	}

	merged := mergeRecords(desc, main, service)
	// 都非空取较大
	assert.Equal(t, "2026-03-01T09:05:00Z", merged.GetString("collected_at"))
	// 仅副本一侧有值
	assert.Equal(t, "2026-03-01T09:20:00Z", merged.GetString("completed_at"))
	// updated_at 隐式参与
	assert.Equal(t, "2026-03-01T09:45:00Z", merged.GetString("updated_at"))
}

func TestMergeRecords_MaxField(t *testing.T) {
	desc := domain.DescriptorFor(domain.EntityCriticalValue)
	require.NotNil(t, desc)

	main := domain.Record{"id": "cv-1", "escalation_level": float64(1)}
	service := domain.Record{"id": "cv-1", "escalation_level": float64(3)}

	merged := mergeRecords(desc, main, service)
	v, ok := merged.GetFloat("escalation_level")
	require.True(t, ok)
	assert.Equal(t, float64(3), v)
}

func TestMergeRecords_UnionArraySortedByTimestamp(t *testing.T) {
	desc := domain.DescriptorFor(domain.EntitySpecimenTracking)
	require.NotNil(t, desc)

	shared := map[string]any{"actor": "courier", "timestamp": "2026-03-01T09:00:00Z"}
	main := domain.Record{
		"id": "smp-1",
		"chain_of_custody": []any{
			shared,
			map[string]any{"actor": "lab-intake", "timestamp": "2026-03-01T10:00:00Z"},
		},
	}
	service := domain.Record{
		"id": "smp-1",
		"chain_of_custody": []any{
			map[string]any{"actor": "courier", "timestamp": "2026-03-01T09:00:00Z"}, // 与 shared 等值
			map[string]any{"actor": "storage", "timestamp": "2026-03-01T09:30:00Z"},
		},
	}

	merged := mergeRecords(desc, main, service)
	chain, ok := merged["chain_of_custody"].([]any)
	require.True(t, ok)
	require.Len(t, chain, 3, "duplicate entries are collapsed")

	actors := make([]string, 0, len(chain))
	for _, entry := range chain {
		m := entry.(map[string]any)
		actors = append(actors, m["actor"].(string))
	}
	assert.Equal(t, []string{"courier", "storage", "lab-intake"}, actors)
}

func TestMergeRecords_UnlistedFieldDefaultsToMain(t *testing.T) {
	desc := labOrderDesc(t)

	main := domain.Record{"id": "order-1", "priority": "stat"}
	service := domain.Record{"id": "order-1", "priority": "routine"}

	merged := mergeRecords(desc, main, service)
	assert.Equal(t, "stat", merged.GetString("priority"))
}

func TestMergeRecords_DoesNotMutateInputs(t *testing.T) {
	desc := labOrderDesc(t)

	main := domain.Record{"id": "order-1", "status": "collected", "clinical_notes": "a"}
	service := domain.Record{"id": "order-1", "status": "processing", "clinical_notes": "b"}

	_ = mergeRecords(desc, main, service)
	assert.Equal(t, "collected", main.GetString("status"))
	assert.Equal(t, "a", main.GetString("clinical_notes"))
	assert.Equal(t, "b", service.GetString("clinical_notes"))
}

func TestMergeRecords_Deterministic(t *testing.T) {
	desc := labOrderDesc(t)

	main := domain.Record{
		"id": "order-1", "status": "processing",
		"clinical_notes": "x", "collected_at": "2026-03-01T09:00:00Z",
	}
	service := domain.Record{
		"id": "order-1", "status": "collected",
		"clinical_notes": "y", "collected_at": "2026-03-01T09:10:00Z",
	}

	first := mergeRecords(desc, main, service)
	second := mergeRecords(desc, main, service)
	assert.Equal(t, first, second)
}
