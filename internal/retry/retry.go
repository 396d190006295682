package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/John-Robertt/vgrab/internal/domain"
)

// 默认预算：最多 3 次尝试，间隔 1s。
const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
)

// Policy 描述一次操作的重试预算。
type Policy struct {
	// MaxAttempts 是总尝试次数（含第一次）；0 使用 DefaultAttempts。
	MaxAttempts uint
	// Delay 是固定间隔，或指数退避的初始间隔；<=0 时使用 DefaultDelay。
	Delay time.Duration
	// Exponential 为 true 时间隔按指数增长（带抖动），上限 MaxDelay。
	Exponential bool
	MaxDelay    time.Duration

	// OnRetry 在每次失败且即将等待重试前调用（attempt 从 1 开始）。
	OnRetry func(attempt uint, err error, wait time.Duration)
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultAttempts, Delay: DefaultDelay}
}

func (p Policy) attempts() uint {
	if p.MaxAttempts == 0 {
		return DefaultAttempts
	}
	return p.MaxAttempts
}

func (p Policy) backOff() backoff.BackOff {
	d := p.Delay
	if d <= 0 {
		d = DefaultDelay
	}
	if !p.Exponential {
		return backoff.NewConstantBackOff(d)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	return b
}

// Do 执行 op，失败时按 p 重试。
//
// 约束：
// - 返回最后一次尝试的错误（原样，不包装）
// - domain.IsRetryable 为 false 的错误立即返回，不再重试
// - ctx 取消后不再发起新的尝试
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var tries uint
	operation := func() (T, error) {
		tries++
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, backoff.Permanent(err)
		}
		v, err := op(ctx)
		if err != nil && !domain.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(p.attempts()),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			p.OnRetry(tries, err, wait)
		}))
	}

	v, err := backoff.Retry(ctx, operation, opts...)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return v, err
}
