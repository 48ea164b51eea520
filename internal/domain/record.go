package domain

import (
	"encoding/json"
	"time"
)

// EntityType 实体类型（实体 ID 在类型内唯一）
type EntityType string

const (
	EntityPatient           EntityType = "patient"
	EntityAppointment       EntityType = "appointment"
	EntityLabOrder          EntityType = "lab_order"
	EntityLabResult         EntityType = "lab_result"
	EntityCriticalValue     EntityType = "critical_value_notification"
	EntitySpecimenTracking  EntityType = "specimen_tracking"
	EntityQCResult          EntityType = "qc_result"

	// 仅作为交叉引用目标存在（不参与同步遍历）
	EntityHospital EntityType = "hospital"
	EntityDoctor   EntityType = "doctor"
)

// Record 领域记录（实体类型打标的不透明负载，JSONB 存储）
// 同步引擎不"拥有"记录，只比较和搬运；字段语义由 EntityDescriptor 描述
type Record map[string]any

// ID 返回记录的实体 ID（缺失时返回空串）
func (r Record) ID() string {
	return r.GetString("id")
}

// GetString 按字段名取字符串值（非字符串或缺失返回空串）
func (r Record) GetString(field string) string {
	if v, ok := r[field]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetTime 按字段名取时间值
// JSON 反序列化后时间通常是 RFC3339 字符串；也兼容 time.Time（测试构造）
func (r Record) GetTime(field string) (time.Time, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if t == "" {
			return time.Time{}, false
		}
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// GetFloat 按字段名取数值（JSON 数值反序列化为 float64）
func (r Record) GetFloat(field string) (float64, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// UpdatedAt 返回记录的最后修改时间（缺失时零值）
func (r Record) UpdatedAt() time.Time {
	t, _ := r.GetTime("updated_at")
	return t
}

// Clone 深拷贝一份记录（合并计算不得修改输入快照）
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		// map[string]any 来自 JSON 反序列化时不会失败；退化为浅拷贝
		out := make(Record, len(r))
		for k, v := range r {
			out[k] = v
		}
		return out
	}
	var out Record
	_ = json.Unmarshal(raw, &out)
	return out
}
