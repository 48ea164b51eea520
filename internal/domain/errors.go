package domain

import "errors"

// 领域错误集合
// 同步引擎对外的错误契约：HTTP 层和事件网关统一通过 errors.Is 判定
var (
	// ErrSyncInProgress 同步正在执行中（调用方稍后重试，不排队）
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrConflictNotFound 冲突记录不存在
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrQuarantineNotFound 隔离记录不存在
	ErrQuarantineNotFound = errors.New("quarantined record not found")

	// ErrUnknownStrategy 未知的冲突解决策略
	ErrUnknownStrategy = errors.New("unknown resolution strategy")

	// ErrMissingResolvedData manual 策略缺少人工提供的数据
	ErrMissingResolvedData = errors.New("manual strategy requires resolved data")

	// ErrStillInvalid 隔离记录复检仍然失败
	ErrStillInvalid = errors.New("record is still invalid after re-validation")

	// ErrValidationFailed 校验存在阻断性错误
	ErrValidationFailed = errors.New("validation failed")

	// ErrResolutionConflict 乐观并发检查失败（副本在解决期间被其他写入者修改）
	ErrResolutionConflict = errors.New("replica changed since conflict detection")
)
