package link

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/John-Robertt/vgrab/internal/domain"
)

// 有序的 ID 抽取规则：先匹配者胜出。
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/video/(\d+)`),
	regexp.MustCompile(`/v/(\d+)`),
	regexp.MustCompile(`/@[^/]+/video/(\d+)`),
	regexp.MustCompile(`/embed/v2/(\d+)`),
}

// 主域名下的短链路径形态，例如 https://www.tiktok.com/t/ZTRabc123/
var shortPathRE = regexp.MustCompile(`^/t/[A-Za-z0-9]+/?$`)

// ExtractID 从 URL 路径中提取规范 ID；不匹配返回空串。
// 对已规范化的 URL 重复调用结果不变。
func ExtractID(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	for _, re := range idPatterns {
		if m := re.FindStringSubmatch(path); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}

// Normalizer 校验并规范化用户提交的链接。
//
// 约束：
// - 域名不在白名单内直接拒绝（invalid_url，不可重试）
// - 短链只解析一跳；解析结果仍是短链视为无效
// - 除短链的那一次网络请求外，没有其它副作用
type Normalizer struct {
	// AllowedDomains 是主域名列表；其子域名同样被接受。
	AllowedDomains []string
	// ShortLinkHosts 是需要先解析重定向的短链主机名（必须同时被 AllowedDomains 覆盖）。
	ShortLinkHosts []string
	// Client 用于短链解析；必须配置为不跟随重定向（见 httpx.NewProbeClient）。
	Client *http.Client
}

// Normalize 把 raw 转为 VideoReference。
func (n *Normalizer) Normalize(ctx context.Context, raw string) (domain.VideoReference, error) {
	source := strings.TrimSpace(raw)
	u, err := n.parseAllowed(source)
	if err != nil {
		return domain.VideoReference{}, err
	}
	if !strings.Contains(source, "://") {
		source = u.String()
	}

	if n.isShort(u) {
		target, err := n.follow(ctx, u)
		if err != nil {
			return domain.VideoReference{}, err
		}
		tu, err := n.parseAllowed(target)
		if err != nil {
			return domain.VideoReference{}, &domain.Error{Kind: domain.KindInvalidURL, Msg: "短链指向了不受支持的地址", Err: err}
		}
		if n.isShort(tu) {
			return domain.VideoReference{}, domain.Errorf(domain.KindInvalidURL, "短链解析超过一跳：%s", target)
		}
		u = tu
	}

	canonical := canonicalize(u)
	return domain.VideoReference{
		SourceURL:    source,
		CanonicalURL: canonical,
		CanonicalID:  ExtractID(canonical),
	}, nil
}

func (n *Normalizer) parseAllowed(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, domain.Errorf(domain.KindInvalidURL, "URL 不能为空")
	}
	s := raw
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindInvalidURL, Msg: "URL 格式无效", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, domain.Errorf(domain.KindInvalidURL, "只支持 http/https：%q", raw)
	}
	if u.User != nil {
		return nil, domain.Errorf(domain.KindInvalidURL, "URL 不能包含用户信息：%q", raw)
	}
	host := normHost(u.Hostname())
	if host == "" || !n.allowed(host) {
		return nil, domain.Errorf(domain.KindInvalidURL, "不支持的域名：%q", u.Hostname())
	}
	return u, nil
}

func (n *Normalizer) allowed(host string) bool {
	for _, d := range n.AllowedDomains {
		d = normHost(d)
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (n *Normalizer) isShort(u *url.URL) bool {
	host := normHost(u.Hostname())
	for _, h := range n.ShortLinkHosts {
		if host == normHost(h) {
			return true
		}
	}
	return shortPathRE.MatchString(u.EscapedPath())
}

// follow 发出一次不跟随重定向的 HEAD（不被支持时回退 GET），返回 Location 的绝对地址。
func (n *Normalizer) follow(ctx context.Context, u *url.URL) (string, error) {
	if n.Client == nil {
		return "", domain.Errorf(domain.KindInternal, "短链解析未配置 http client")
	}

	loc, status, err := n.probe(ctx, http.MethodHead, u.String())
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		loc, status, err = n.probe(ctx, http.MethodGet, u.String())
	}
	if err != nil {
		return "", &domain.Error{Kind: domain.KindResolutionFailed, Msg: "短链解析失败", Err: err}
	}
	if status < 300 || status >= 400 || loc == "" {
		// 上游偶发返回 5xx 时值得重试；2xx/4xx 说明短链本身无效。
		if status >= 500 {
			return "", domain.Errorf(domain.KindResolutionFailed, "短链解析失败：HTTP %d", status)
		}
		return "", domain.Errorf(domain.KindInvalidURL, "短链没有重定向目标：HTTP %d", status)
	}

	ref, err := url.Parse(loc)
	if err != nil {
		return "", &domain.Error{Kind: domain.KindInvalidURL, Msg: "短链重定向地址无效", Err: err}
	}
	return u.ResolveReference(ref).String(), nil
}

func (n *Normalizer) probe(ctx context.Context, method, target string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := n.Client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	return strings.TrimSpace(resp.Header.Get("Location")), resp.StatusCode, nil
}

// canonicalize 去掉 query/fragment/用户信息，统一 scheme 与 host 大小写。
func canonicalize(u *url.URL) string {
	c := url.URL{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Host),
		Path:   u.Path,
	}
	if c.Path == "" {
		c.Path = "/"
	}
	return c.String()
}

func normHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.TrimSuffix(h, ".")
}

