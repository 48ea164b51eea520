package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// PHI 敏感内容启发式
// 自由文本字段里出现疑似身份证号/电话/邮箱/疾病名时产生警告（从不阻断）
// 故意保守：宁可多提示，也不拦截正常业务文本
var (
	// 政府证件号形态：3-2-4 连续数字（带或不带分隔符）
	ssnPattern = regexp.MustCompile(`\b\d{3}[- ]?\d{2}[- ]?\d{4}\b`)

	// 电话形态：3-3-4 连续数字
	phonePattern = regexp.MustCompile(`\b\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`)

	// 邮箱形态
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
)

// 疾病名关键词（小写比对）
var diseaseKeywords = []string{
	"hiv", "aids", "hepatitis", "tuberculosis", "cancer",
	"diabetes", "schizophrenia", "substance abuse", "covid",
}

// scanSensitiveContent 扫描单个文本字段，返回警告列表
func scanSensitiveContent(field, text string) []string {
	var warnings []string

	if ssnPattern.MatchString(text) {
		warnings = append(warnings, fmt.Sprintf("field %q may contain a government identifier", field))
	}
	if phonePattern.MatchString(text) {
		warnings = append(warnings, fmt.Sprintf("field %q may contain a phone number", field))
	}
	if emailPattern.MatchString(text) {
		warnings = append(warnings, fmt.Sprintf("field %q may contain an email address", field))
	}

	lower := strings.ToLower(text)
	for _, kw := range diseaseKeywords {
		if strings.Contains(lower, kw) {
			warnings = append(warnings, fmt.Sprintf("field %q mentions sensitive condition %q", field, kw))
			break
		}
	}

	return warnings
}
