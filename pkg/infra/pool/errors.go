// Package pool wraps ants goroutine pools used by the task workers.
package pool

import "errors"

var (
	// ErrPoolClosed 池已关闭
	ErrPoolClosed = errors.New("pool is closed")

	// ErrPoolOverload 池已满且为非阻塞模式
	ErrPoolOverload = errors.New("pool is overloaded")

	// ErrInvalidPoolConfig 池配置无效
	ErrInvalidPoolConfig = errors.New("invalid pool config")
)
