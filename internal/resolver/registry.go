package resolver

import (
	"fmt"
	"net/http"
	"strings"
)

// Registry 是后端的只读注册表（按 name 索引）。
type Registry struct {
	byName map[string]Backend
}

func NewRegistry(backends ...Backend) (Registry, error) {
	byName := make(map[string]Backend, len(backends))
	for _, b := range backends {
		if b == nil {
			return Registry{}, fmt.Errorf("backend 不能为空")
		}
		name := strings.ToLower(strings.TrimSpace(b.Name()))
		if name == "" {
			return Registry{}, fmt.Errorf("backend.Name 不能为空")
		}
		if _, ok := byName[name]; ok {
			return Registry{}, fmt.Errorf("重复的 backend：%q", name)
		}
		byName[name] = b
	}
	return Registry{byName: byName}, nil
}

func (r Registry) Get(name string) (Backend, bool) {
	if r.byName == nil {
		return nil, false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	b, ok := r.byName[name]
	return b, ok
}

// Chain 按 order 组装有序链路；未注册或重复的名字直接报错（配置错误应尽早暴露）。
func (r Registry) Chain(order []string, c *http.Client) (*Chain, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("backend 顺序不能为空")
	}
	seen := make(map[string]struct{}, len(order))
	backends := make([]Backend, 0, len(order))
	for _, name := range order {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("backend 顺序中重复：%q", name)
		}
		seen[name] = struct{}{}
		b, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("未知 backend：%q", name)
		}
		backends = append(backends, b)
	}
	return &Chain{backends: backends, client: c}, nil
}
