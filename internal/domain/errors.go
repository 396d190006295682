package domain

import (
	"errors"
	"fmt"
)

// Kind 是对外稳定的错误分类；调用方据此区分“可重试”与“终止”，而不是匹配字符串。
type Kind string

const (
	KindInvalidURL       Kind = "invalid_url"
	KindInvalidRequest   Kind = "invalid_request"
	KindBackend          Kind = "backend_error"
	KindResolutionFailed Kind = "resolution_failed"
	KindFetch            Kind = "fetch_failed"
	KindInvalidMedia     Kind = "invalid_media"
	KindNoSuchVariant    Kind = "no_such_variant"
	KindNotFound         Kind = "not_found"
	KindInternal         Kind = "internal"
)

// Retryable 只对上游/网络类瞬时错误返回 true。
func (k Kind) Retryable() bool {
	switch k {
	case KindResolutionFailed, KindFetch, KindInvalidMedia:
		return true
	default:
		return false
	}
}

// Error 是带分类的错误。
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s：%v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return fmt.Sprintf("%s：%v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) ErrKind() Kind { return e.Kind }

// Errorf 构造一个不包装底层错误的分类错误。
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 给 err 打上分类；err 为 nil 时返回 nil。
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

type kinded interface {
	ErrKind() Kind
}

// KindOf 提取 err 链上最外层的分类；没有分类时返回 KindInternal。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.ErrKind()
	}
	return KindInternal
}

// IsRetryable 判断 err 是否应进入重试循环。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Retryable()
}
