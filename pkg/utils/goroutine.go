package utils

import (
	"runtime/debug"

	"go.uber.org/zap"

	"yqhp/orchestration-engine/pkg/logger"
)

// SafeGo 安全地启动一个 goroutine，自动捕获 panic 并记录日志
// 使用方式: utils.SafeGo(func() { ... })
func SafeGo(fn func()) {
	SafeGoWithCallback("", fn, nil)
}

// SafeGoWithCallback 启动 goroutine；panic 时记录堆栈并调用 onPanic
func SafeGoWithCallback(name string, fn func(), onPanic func(r any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panic recovered",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
