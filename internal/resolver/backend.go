package resolver

import (
	"context"
	"net/http"

	"github.com/John-Robertt/vgrab/internal/domain"
)

// Backend 把“上游变化”限制在各自的包内部；链路只依赖统一接口与稳定的 VideoDescriptor。
//
// 约束：
// - Fetch 不做缓存、不做重试（这些由 httpx/retry 统一实现）
// - Parse 必须是纯函数：相同输入 => 相同输出
// - 缺少必需输入（例如没有 CanonicalID）时 Fetch 直接返回错误，链路会继续尝试下一个
type Backend interface {
	Name() string
	Fetch(ctx context.Context, ref domain.VideoReference, c *http.Client) (payload []byte, err error)
	Parse(ref domain.VideoReference, payload []byte) (domain.VideoDescriptor, error)
}
