// Package throttle 提供目录接口使用的最小间隔限速器。
package throttle

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultQPS 是目录接口的默认 QPS。
const DefaultQPS = 4

// Limiter 保证相邻两次被放行的调用之间至少间隔 1/qps 秒。
//
// 约束：
// - 一个 Indexer 实例一个 Limiter（全局单游标），不做公平队列，按调用顺序放行
// - 令牌桶容量固定为 1：不允许突发，空闲再久也只放行一次
// - Acquire 阻塞期间可被 ctx 取消；取消时不消耗令牌
type Limiter struct {
	l *rate.Limiter
}

// New 创建限速器；qps<=0 时使用 DefaultQPS。
func New(qps float64) *Limiter {
	if qps <= 0 {
		qps = DefaultQPS
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(qps), 1)}
}

// Acquire 阻塞直到允许下一次调用，或 ctx 结束。
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil || l.l == nil {
		return nil
	}
	return l.l.Wait(ctx)
}

// Interval 返回两次放行之间的最小间隔。
func (l *Limiter) Interval() time.Duration {
	if l == nil || l.l == nil {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(l.l.Limit()))
}
