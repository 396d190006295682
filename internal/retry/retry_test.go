package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/John-Robertt/vgrab/internal/domain"
)

func fastPolicy(n uint) Policy {
	return Policy{MaxAttempts: n, Delay: time.Millisecond}
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	calls := 0
	var notified []uint
	p := fastPolicy(3)
	p.OnRetry = func(attempt uint, err error, wait time.Duration) {
		notified = append(notified, attempt)
	}
	v, err := Do(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", domain.Errorf(domain.KindFetch, "第 %d 次失败", calls)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if v != "ok" || calls != 3 {
		t.Fatalf("期望第 3 次成功，实际 v=%q calls=%d", v, calls)
	}
	if len(notified) != 2 || notified[0] != 1 || notified[1] != 2 {
		t.Fatalf("OnRetry 调用不符合预期：%v", notified)
	}
}

func TestDo_SurfacesLastError(t *testing.T) {
	calls := 0
	var last error
	_, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (int, error) {
		calls++
		last = domain.Errorf(domain.KindResolutionFailed, "attempt %d", calls)
		return 0, last
	})
	if calls != 3 {
		t.Fatalf("期望 3 次尝试，实际 %d", calls)
	}
	if err != last {
		t.Fatalf("期望原样返回最后一次的错误，实际 %v", err)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	want := domain.Errorf(domain.KindInvalidURL, "bad url")
	_, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, want
	})
	if calls != 1 {
		t.Fatalf("不可重试错误只应调用一次，实际 %d", calls)
	}
	if err != want {
		t.Fatalf("期望原样返回错误，实际 %v", err)
	}

	calls = 0
	plain := errors.New("no kind")
	_, err = Do(context.Background(), fastPolicy(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, plain
	})
	if calls != 1 || err != plain {
		t.Fatalf("未分类错误视为不可重试：calls=%d err=%v", calls, err)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{MaxAttempts: 5, Delay: time.Hour}, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, domain.Errorf(domain.KindFetch, "x")
	})
	if calls != 1 {
		t.Fatalf("取消后不应再尝试，实际 %d 次", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际 %v", err)
	}
}

func TestDo_Exponential(t *testing.T) {
	var waits []time.Duration
	p := Policy{MaxAttempts: 3, Delay: time.Millisecond, Exponential: true, MaxDelay: 10 * time.Millisecond}
	p.OnRetry = func(_ uint, _ error, wait time.Duration) { waits = append(waits, wait) }
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		return 0, domain.Errorf(domain.KindFetch, "x")
	})
	if err == nil {
		t.Fatalf("期望错误")
	}
	if len(waits) != 2 {
		t.Fatalf("期望等待 2 次，实际 %d", len(waits))
	}
	for _, w := range waits {
		if w <= 0 || w > 10*time.Millisecond {
			t.Fatalf("等待时间超出范围：%v", w)
		}
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.attempts() != 3 || p.Delay != time.Second || p.Exponential {
		t.Fatalf("默认策略不符合预期：%+v", p)
	}
	if (Policy{}).attempts() != DefaultAttempts {
		t.Fatalf("零值应使用默认次数")
	}
}
