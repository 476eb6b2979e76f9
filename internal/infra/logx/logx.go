// Package logx 构造全局统一的 kratos logger。
package logx

import (
	"io"

	"github.com/go-kratos/kratos/v2/log"
)

// New 返回写到 w 的结构化 logger，低于 level 的日志被过滤。
// level 取 debug/info/warn/error（大小写不敏感，未知值按 info）。
func New(w io.Writer, level string) log.Logger {
	l := log.NewStdLogger(w)
	l = log.With(l, "ts", log.DefaultTimestamp, "caller", log.DefaultCaller)
	return log.NewFilter(l, log.FilterLevel(log.ParseLevel(level)))
}

// Nop 丢弃全部日志（测试与库默认值）。
func Nop() log.Logger {
	return log.NewStdLogger(io.Discard)
}

// OrNop 在 l 为 nil 时返回 Nop()。
func OrNop(l log.Logger) log.Logger {
	if l == nil {
		return Nop()
	}
	return l
}
