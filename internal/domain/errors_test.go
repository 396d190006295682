package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := Errorf(KindFetch, "HTTP 403")
	wrapped := fmt.Errorf("第 2 次尝试：%w", base)

	if got := KindOf(wrapped); got != KindFetch {
		t.Fatalf("期望 %q，实际 %q", KindFetch, got)
	}
	if got := KindOf(errors.New("x")); got != KindInternal {
		t.Fatalf("未分类错误应为 internal，实际 %q", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("nil 应返回空分类，实际 %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := map[Kind]bool{
		KindResolutionFailed: true,
		KindFetch:            true,
		KindInvalidMedia:     true,
		KindInvalidURL:       false,
		KindInvalidRequest:   false,
		KindNoSuchVariant:    false,
		KindNotFound:         false,
		KindInternal:         false,
	}
	for k, want := range cases {
		if got := IsRetryable(&Error{Kind: k}); got != want {
			t.Fatalf("%s：期望 %v，实际 %v", k, want, got)
		}
	}
	if IsRetryable(nil) {
		t.Fatalf("nil 不应可重试")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(KindFetch, "m", nil) != nil {
		t.Fatalf("nil 应原样返回 nil")
	}
	cause := errors.New("EOF")
	err := Wrap(KindFetch, "读取失败", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("应能 errors.Is 到底层错误")
	}
	if err.Error() != "读取失败：EOF" {
		t.Fatalf("错误文本不符合预期：%q", err.Error())
	}
}
