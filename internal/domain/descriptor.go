package domain

// Reference 交叉引用规则：Field 指向 Parent 类型的某条副本记录
type Reference struct {
	Field  string
	Parent EntityType
}

// OverlapRule 时间段冲突预检规则（同一资源的半开区间重叠即报错）
// [s1,e1) 与 [s2,e2) 重叠 iff s1 < e2 && s2 < e1
type OverlapRule struct {
	StartField    string
	EndField      string
	ResourceField string
}

// UnionRule 数组字段合并规则：并集后按嵌入时间戳字段升序
type UnionRule struct {
	Field   string
	SortKey string
}

// EntityDescriptor 实体类型描述符
// 三个领域（patient / appointment / laboratory）的同步、校验、合并规则
// 全部由描述符驱动，引擎本身只有一份通用实现
type EntityDescriptor struct {
	Type EntityType

	// 结构校验：必填字段
	Required []string

	// 枚举校验：字段 → 允许值集合
	Enums map[string][]string

	// 交叉引用校验：父实体必须存在于副本库
	References []Reference

	// 时间段冲突预检（预约 / 仪器占用的双重预订）
	Overlap *OverlapRule

	// 自由文本字段：PHI 敏感内容扫描 + merge 时拼接
	TextFields []string

	// merge 状态推进规则：固定全序（越靠后越"先进"）
	StatusOrder []string
	// 死端状态：一旦进入不再被覆盖（如 cancelled）
	DeadEndStatuses []string

	// merge 时间戳字段：非空者胜，都非空取较大
	TimestampFields []string

	// merge 数值升级字段：取最大值（如通知升级级别）
	MaxFields []string

	// merge 数组字段：并集 + 按时间戳排序（如样本监管链）
	UnionFields []UnionRule

	// 冲突检测追踪字段：仅时间戳更新、值未变不算冲突
	Tracked []string

	// 实验室结果类：参与 CLIA 时效性检查
	CLIA bool
}

// 文本拼接分隔符（merge 策略中两侧文本都保留）
const TextMergeSeparator = " | "

// Descriptors 实体类型注册表
var Descriptors = map[EntityType]*EntityDescriptor{
	EntityPatient: {
		Type:     EntityPatient,
		Required: []string{"id", "hospital_id", "medical_record_number"},
		Enums: map[string][]string{
			"status": {"active", "inactive", "transferred", "deceased"},
		},
		References: []Reference{
			{Field: "hospital_id", Parent: EntityHospital},
		},
		TextFields:      []string{"notes", "allergies"},
		TimestampFields: []string{"admitted_at", "discharged_at"},
		Tracked: []string{
			"first_name", "last_name", "date_of_birth", "status",
			"phone", "address", "notes", "allergies", "hospital_id",
		},
	},

	EntityAppointment: {
		Type:     EntityAppointment,
		Required: []string{"id", "patient_id", "doctor_id", "scheduled_start", "scheduled_end"},
		Enums: map[string][]string{
			"status": {"scheduled", "confirmed", "in_progress", "completed", "cancelled", "no_show"},
			"type":   {"consultation", "follow_up", "procedure", "telehealth"},
		},
		References: []Reference{
			{Field: "patient_id", Parent: EntityPatient},
		},
		Overlap: &OverlapRule{
			StartField:    "scheduled_start",
			EndField:      "scheduled_end",
			ResourceField: "doctor_id",
		},
		TextFields:      []string{"reason", "notes"},
		StatusOrder:     []string{"scheduled", "confirmed", "in_progress", "completed"},
		DeadEndStatuses: []string{"cancelled", "no_show"},
		TimestampFields: []string{"checked_in_at", "completed_at"},
		Tracked: []string{
			"patient_id", "doctor_id", "scheduled_start", "scheduled_end",
			"status", "type", "reason", "notes",
		},
	},

	EntityLabOrder: {
		Type:     EntityLabOrder,
		Required: []string{"id", "patient_id", "doctor_id", "test_name"},
		Enums: map[string][]string{
			"status":   {"ordered", "collected", "processing", "completed", "cancelled"},
			"priority": {"routine", "urgent", "stat"},
		},
		References: []Reference{
			{Field: "patient_id", Parent: EntityPatient},
		},
		// 仪器时段占用：同一分析仪的预约时段不允许重叠
		Overlap: &OverlapRule{
			StartField:    "slot_start",
			EndField:      "slot_end",
			ResourceField: "analyzer_id",
		},
		TextFields:      []string{"clinical_notes"},
		StatusOrder:     []string{"ordered", "collected", "processing", "completed"},
		DeadEndStatuses: []string{"cancelled"},
		TimestampFields: []string{"ordered_at", "collected_at", "completed_at"},
		Tracked: []string{
			"patient_id", "doctor_id", "test_name", "status", "priority",
			"clinical_notes", "collected_at",
		},
	},

	EntityLabResult: {
		Type:     EntityLabResult,
		Required: []string{"id", "order_id", "result_value"},
		Enums: map[string][]string{
			"status": {"preliminary", "final", "corrected", "cancelled"},
		},
		References: []Reference{
			{Field: "order_id", Parent: EntityLabOrder},
		},
		TextFields:      []string{"comments"},
		StatusOrder:     []string{"preliminary", "final", "corrected"},
		DeadEndStatuses: []string{"cancelled"},
		TimestampFields: []string{"performed_at", "verified_at", "reported_at"},
		Tracked: []string{
			"order_id", "result_value", "unit", "reference_range",
			"status", "critical_flag", "comments", "verified_at",
		},
		CLIA: true,
	},

	EntityCriticalValue: {
		Type:     EntityCriticalValue,
		Required: []string{"id", "lab_result_id", "recipient_id"},
		Enums: map[string][]string{
			"status": {"pending", "notified", "acknowledged", "escalated", "closed"},
		},
		References: []Reference{
			{Field: "lab_result_id", Parent: EntityLabResult},
		},
		TextFields:      []string{"message"},
		StatusOrder:     []string{"pending", "notified", "acknowledged", "closed"},
		TimestampFields: []string{"notified_at", "acknowledged_at"},
		MaxFields:       []string{"escalation_level"},
		Tracked: []string{
			"lab_result_id", "recipient_id", "status", "message",
			"escalation_level", "acknowledged_at",
		},
	},

	EntitySpecimenTracking: {
		Type:     EntitySpecimenTracking,
		Required: []string{"id", "order_id", "specimen_type"},
		Enums: map[string][]string{
			"status": {"collected", "in_transit", "received", "stored", "disposed"},
		},
		References: []Reference{
			{Field: "order_id", Parent: EntityLabOrder},
		},
		TextFields:      []string{"handling_notes"},
		StatusOrder:     []string{"collected", "in_transit", "received", "stored", "disposed"},
		TimestampFields: []string{"collected_at", "received_at"},
		UnionFields: []UnionRule{
			{Field: "chain_of_custody", SortKey: "timestamp"},
		},
		Tracked: []string{
			"order_id", "specimen_type", "status", "handling_notes",
			"chain_of_custody",
		},
	},

	EntityQCResult: {
		Type:     EntityQCResult,
		Required: []string{"id", "instrument_id", "analyte", "measured_value"},
		Enums: map[string][]string{
			"status": {"accepted", "rejected", "pending_review"},
		},
		TextFields:      []string{"comments"},
		TimestampFields: []string{"performed_at", "reviewed_at"},
		Tracked: []string{
			"instrument_id", "analyte", "measured_value", "within_limits",
			"status", "comments",
		},
		CLIA: true,
	},
}

// SyncedTypes 参与同步遍历的实体类型（固定顺序，父实体先行）
// hospital / doctor 仅作为引用目标，不在此列表
var SyncedTypes = []EntityType{
	EntityPatient,
	EntityAppointment,
	EntityLabOrder,
	EntityLabResult,
	EntityCriticalValue,
	EntitySpecimenTracking,
	EntityQCResult,
}

// DescriptorFor 按实体类型取描述符（未注册返回 nil）
func DescriptorFor(t EntityType) *EntityDescriptor {
	return Descriptors[t]
}

// StatusRank 返回状态在全序中的序号；不在序中返回 -1
func (d *EntityDescriptor) StatusRank(status string) int {
	for i, s := range d.StatusOrder {
		if s == status {
			return i
		}
	}
	return -1
}

// IsDeadEndStatus 是否为死端状态（merge 中不被覆盖）
func (d *EntityDescriptor) IsDeadEndStatus(status string) bool {
	for _, s := range d.DeadEndStatuses {
		if s == status {
			return true
		}
	}
	return false
}
