// Package retry 提供统一的有界重试策略（固定退避，不做指数增长）。
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy 描述一类操作的重试策略。
type Policy struct {
	// Attempts 是总尝试次数（含首次）。2 表示最多重试一次。
	Attempts int
	// Backoff 是两次尝试之间的固定等待。
	Backoff time.Duration
}

var (
	// Catalog 用于目录翻页请求：失败后等 2s 再试一次。
	Catalog = Policy{Attempts: 2, Backoff: 2 * time.Second}
	// Thumbnail 用于 cid 查询、雪碧图元数据与雪碧图下载：失败后等 1s 再试一次。
	Thumbnail = Policy{Attempts: 2, Backoff: time.Second}
)

// Classifier 判断错误是否值得重试。
type Classifier func(error) bool

// permanentError 标记不应重试的错误。
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 把 err 标记为不可重试；nil 原样返回。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable 是默认分类器：ctx 结束与 Permanent 标记的错误不重试，其他都重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *permanentError
	return !errors.As(err, &pe)
}

// ExhaustedError 表示用尽全部尝试后仍失败。
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%d 次尝试均失败：%v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do 按 p 执行 fn。
//
// 约束：
// - 不可重试的错误立即原样返回（不包 ExhaustedError）
// - 退避期间 ctx 结束则返回 ctx.Err()
// - 用尽尝试返回 *ExhaustedError（Unwrap 得到最后一次错误）
func Do(ctx context.Context, p Policy, classify Classifier, fn func(context.Context) error) error {
	if classify == nil {
		classify = IsRetryable
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !classify(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		if p.Backoff > 0 {
			t := time.NewTimer(p.Backoff)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}
	if attempts == 1 {
		return lastErr
	}
	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// Value 与 Do 相同，但返回 fn 的结果值。
func Value[T any](ctx context.Context, p Policy, classify Classifier, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, classify, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
