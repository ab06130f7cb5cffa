package constants

import "time"

// HTTP Client 连接池配置
const (
	BaseMaxIdleConns        = 1024
	BaseMaxIdleConnsPerHost = 256
	BaseIdleConnTimeout     = 90 * time.Second

	// 缓冲区大小
	DefaultWriteBufferSize = 64 * 1024
	DefaultReadBufferSize  = 64 * 1024

	// Keep-Alive 设置
	DefaultKeepAlive = 30 * time.Second
)

// HTTP 超时配置
const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 60 * time.Second
	DefaultExpectContinueTimeout = 2 * time.Second
)
