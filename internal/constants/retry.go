package constants

import "time"

// 路由重试策略
const (
	// RouterMaxAttempts caps the failover loop: the first attempt plus
	// re-selections after retriable errors.
	RouterMaxAttempts = 3

	// DegradedFailureThreshold consecutive failures inside
	// DegradedFailureWindow move a pipeline from Active to Degraded.
	DegradedFailureThreshold = 3
	DegradedFailureWindow    = 60 * time.Second
)

// 凭证封禁阈值
const (
	DefaultAutoBan429Threshold     = 3
	DefaultAutoBan403Threshold     = 5
	DefaultAutoBan401Threshold     = 3
	DefaultAutoBanConsecutiveFails = 10

	// 自动恢复配置
	DefaultAutoRecoveryIntervalMin = 10

	// 健康探测配置
	HealthProbeInterval = 1 * time.Minute
	HealthProbeTimeout  = 10 * time.Second
)

// 错误处理配置
const (
	MaxErrorMessageLength = 200
	ErrorContextMaxLength = 500
)
