package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/John-Robertt/vgrab/internal/domain"
	"github.com/John-Robertt/vgrab/internal/metrics"
)

// 尝试阶段。
const (
	StageFetch    = "fetch"
	StageParse    = "parse"
	StageValidate = "validate"
	StageOK       = "ok"
)

// Attempt 记录一次后端尝试（用于解释降级原因）。
type Attempt struct {
	Backend string // backend name（小写）
	Stage   string // fetch / parse / validate / ok
	Err     error  // nil when Stage=="ok"
}

// Chain 是按优先级排序的后端链路。由 Registry.Chain 构造。
type Chain struct {
	backends []Backend
	client   *http.Client

	// Metrics 为 nil 时不上报。
	Metrics metrics.Metrics
}

// Names 返回链路中的后端顺序。
func (c *Chain) Names() []string {
	out := make([]string, 0, len(c.backends))
	for _, b := range c.backends {
		out = append(out, strings.ToLower(b.Name()))
	}
	return out
}

// Resolve 依次尝试每个后端，返回第一个完整成功（Fetch + Parse + Validate）的结果。
func (c *Chain) Resolve(ctx context.Context, ref domain.VideoReference) (domain.VideoDescriptor, error) {
	desc, _, err := c.ResolveTrace(ctx, ref)
	return desc, err
}

// ResolveTrace 与 Resolve 相同，但额外返回尝试链路。
//
// 约束：
// - 严格按顺序尝试；任一阶段失败都记录后继续下一个后端
// - 后端要么完整成功，要么失败；不会合并多个后端的部分结果
// - 全部失败返回 *ChainError（kind=resolution_failed），Causes 按顺序给出每个后端的原因
// - ctx 取消时立即停止，不再尝试剩余后端
func (c *Chain) ResolveTrace(ctx context.Context, ref domain.VideoReference) (domain.VideoDescriptor, []Attempt, error) {
	m := metrics.OrNoop(c.Metrics)
	var attempts []Attempt
	fail := func(name, stage string, err error) {
		attempts = append(attempts, Attempt{Backend: name, Stage: stage, Err: err})
		m.IncBackendAttempt(name, stage)
	}

	for _, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return domain.VideoDescriptor{}, attempts, &ChainError{Attempts: attempts, ctxErr: err}
		}
		name := strings.ToLower(b.Name())

		payload, err := b.Fetch(ctx, ref, c.client)
		if err != nil {
			fail(name, StageFetch, err)
			continue
		}
		desc, err := b.Parse(ref, payload)
		if err != nil {
			fail(name, StageParse, err)
			continue
		}
		if err := desc.Validate(); err != nil {
			fail(name, StageValidate, err)
			continue
		}

		attempts = append(attempts, Attempt{Backend: name, Stage: StageOK})
		m.IncBackendAttempt(name, StageOK)
		return desc, attempts, nil
	}
	return domain.VideoDescriptor{}, attempts, &ChainError{Attempts: attempts}
}

// BackendError 是单个后端阶段的可追溯错误；只作为 ChainError 的组成部分出现。
type BackendError struct {
	Backend string
	Stage   string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend=%s stage=%s: %v", e.Backend, e.Stage, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) ErrKind() domain.Kind { return domain.KindBackend }

// ChainError 表示所有后端都失败了。
type ChainError struct {
	Attempts []Attempt
	ctxErr   error
}

// Causes 按尝试顺序返回每个失败后端的错误。
func (e *ChainError) Causes() []error {
	var out []error
	for _, a := range e.Attempts {
		if a.Err == nil {
			continue
		}
		out = append(out, &BackendError{Backend: a.Backend, Stage: a.Stage, Err: a.Err})
	}
	return out
}

func (e *ChainError) Error() string {
	if e.ctxErr != nil {
		return fmt.Sprintf("解析中止：%v", e.ctxErr)
	}
	causes := e.Causes()
	if len(causes) == 0 {
		return "无可用解析后端"
	}
	parts := make([]string, 0, len(causes))
	for _, c := range causes {
		parts = append(parts, c.Error())
	}
	return "所有解析后端均失败：" + strings.Join(parts, "; ")
}

// Unwrap 让 errors.Is(err, context.Canceled) 之类的判断穿透到底层原因。
func (e *ChainError) Unwrap() []error {
	out := e.Causes()
	if e.ctxErr != nil {
		out = append(out, e.ctxErr)
	}
	return out
}

func (e *ChainError) ErrKind() domain.Kind { return domain.KindResolutionFailed }

// IsChainError 判断 err 链上是否有 *ChainError。
func IsChainError(err error) bool {
	var ce *ChainError
	return errors.As(err, &ce)
}
