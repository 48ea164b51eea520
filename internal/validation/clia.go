package validation

import (
	"fmt"
	"time"

	"medsync/internal/domain"
)

// CLIA 时效性规则
// - 危急值结果必须立即核验：critical_flag 且无 verified_at → 阻断
// - 核验距检测超过 60 分钟 → 警告
// - preliminary 结果超过 24 小时未核验 → 警告
// - QC 结果超出可接受范围 → 阻断
const (
	cliaVerificationWindow = 60 * time.Minute
	cliaPreliminaryWindow  = 24 * time.Hour
)

// checkCLIA 按实体类型执行 CLIA 检查，返回 (阻断错误, 警告)
func checkCLIA(entityType domain.EntityType, record domain.Record) ([]string, []string) {
	switch entityType {
	case domain.EntityLabResult:
		return checkLabResultCLIA(record)
	case domain.EntityQCResult:
		return checkQCResultCLIA(record)
	}
	return nil, nil
}

func checkLabResultCLIA(record domain.Record) ([]string, []string) {
	var errs, warns []string

	critical, _ := record["critical_flag"].(bool)
	verifiedAt, hasVerified := record.GetTime("verified_at")
	performedAt, hasPerformed := record.GetTime("performed_at")

	if critical && !hasVerified {
		errs = append(errs, "critical results must be verified immediately")
	}

	if hasVerified && hasPerformed {
		if verifiedAt.Sub(performedAt) > cliaVerificationWindow {
			warns = append(warns, fmt.Sprintf(
				"verification completed more than %d minutes after performance",
				int(cliaVerificationWindow.Minutes())))
		}
	}

	if record.GetString("status") == "preliminary" && !hasVerified && hasPerformed {
		if time.Since(performedAt) > cliaPreliminaryWindow {
			warns = append(warns, "preliminary result unverified for more than 24 hours")
		}
	}

	return errs, warns
}

func checkQCResultCLIA(record domain.Record) ([]string, []string) {
	var errs []string

	if within, ok := record["within_limits"].(bool); ok && !within {
		errs = append(errs, "qc result outside acceptable limits")
	}

	return errs, nil
}
