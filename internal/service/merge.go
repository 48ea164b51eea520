package service

import (
	"encoding/json"
	"sort"

	"medsync/internal/domain"
)

// mergeRecords 按实体描述符合并两个分歧快照
// 确定性：同样的输入和规则集产生字节级一致的输出
// 未被任何规则覆盖的字段取主系统一侧的值
func mergeRecords(desc *domain.EntityDescriptor, main, service domain.Record) domain.Record {
	merged := main.Clone()

	mergeStatus(desc, merged, main, service)

	// 自由文本：双方都保留，固定分隔符拼接
	for _, field := range desc.TextFields {
		mainText := main.GetString(field)
		serviceText := service.GetString(field)
		switch {
		case mainText == serviceText:
			// 相同（含都为空）保持主系统一侧
		case mainText == "":
			merged[field] = serviceText
		case serviceText == "":
			merged[field] = mainText
		default:
			merged[field] = mainText + domain.TextMergeSeparator + serviceText
		}
	}

	// 时间戳：非空者胜，都非空取较大
	for _, field := range desc.TimestampFields {
		mergeTimestamp(merged, main, service, field)
	}
	// 最后修改时间同样取较大（合并结果代表双方都见过的状态）
	mergeTimestamp(merged, main, service, "updated_at")

	// 数值升级字段：取最大（如通知升级级别）
	for _, field := range desc.MaxFields {
		mainVal, okM := main.GetFloat(field)
		serviceVal, okS := service.GetFloat(field)
		switch {
		case okM && okS:
			if serviceVal > mainVal {
				merged[field] = serviceVal
			}
		case okS:
			merged[field] = serviceVal
		}
	}

	// 数组字段：并集 + 按嵌入时间戳升序（如样本监管链）
	for _, rule := range desc.UnionFields {
		merged[rule.Field] = unionArrays(main[rule.Field], service[rule.Field], rule.SortKey)
	}

	return merged
}

// mergeStatus 状态沿固定全序取更"先进"的一侧；死端状态从不被覆盖
func mergeStatus(desc *domain.EntityDescriptor, merged, main, service domain.Record) {
	if len(desc.StatusOrder) == 0 && len(desc.DeadEndStatuses) == 0 {
		return
	}

	mainStatus := main.GetString("status")
	serviceStatus := service.GetString("status")
	if mainStatus == serviceStatus {
		return
	}

	// 死端优先：哪一侧进入死端就保持哪一侧
	if desc.IsDeadEndStatus(mainStatus) {
		return
	}
	if desc.IsDeadEndStatus(serviceStatus) {
		merged["status"] = serviceStatus
		return
	}

	mainRank := desc.StatusRank(mainStatus)
	serviceRank := desc.StatusRank(serviceStatus)
	if serviceRank > mainRank {
		merged["status"] = serviceStatus
	}
}

// mergeTimestamp 非空者胜，都非空取较大
func mergeTimestamp(merged, main, service domain.Record, field string) {
	mainT, okM := main.GetTime(field)
	serviceT, okS := service.GetTime(field)
	switch {
	case okM && okS:
		if serviceT.After(mainT) {
			merged[field] = service[field]
		}
	case okS:
		merged[field] = service[field]
	}
}

// unionArrays 数组并集（按 JSON 表示去重）后按 sortKey 时间戳升序
func unionArrays(a, b any, sortKey string) []any {
	seen := map[string]bool{}
	var out []any

	appendAll := func(v any) {
		items, ok := v.([]any)
		if !ok {
			return
		}
		for _, item := range items {
			key, err := json.Marshal(item)
			if err != nil {
				continue
			}
			if seen[string(key)] {
				continue
			}
			seen[string(key)] = true
			out = append(out, item)
		}
	}
	appendAll(a)
	appendAll(b)

	sort.SliceStable(out, func(i, j int) bool {
		return entryTimestamp(out[i], sortKey) < entryTimestamp(out[j], sortKey)
	})
	return out
}

// entryTimestamp 取数组元素的嵌入时间戳字符串（RFC3339 字典序即时间序）
func entryTimestamp(v any, sortKey string) string {
	if m, ok := v.(map[string]any); ok {
		if s, ok := m[sortKey].(string); ok {
			return s
		}
	}
	return ""
}
