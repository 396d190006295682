package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ErrCodeNotFound 表示 --config 指定的文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段（含环境变量）不合法。
	ErrCodeInvalid = "config_invalid"
)

// DefaultFileName 是未指定 --config 时在 cwd 下查找的配置文件（可选）。
const DefaultFileName = "vgrab.yaml"

// CatalogDisabled 作为 catalog_path 的值时关闭下载目录。
const CatalogDisabled = "off"

// 内置默认值。
const (
	DefaultAddr             = ":8000"
	DefaultStorageDir       = "data/downloads"
	DefaultCatalogPath      = "data/catalog.sqlite"
	DefaultRateStrategy     = "window"
	DefaultRateRequests     = 10
	DefaultRateWindow       = time.Hour
	DefaultRetryAttempts    = 3
	DefaultRetryDelay       = time.Second
	DefaultChunkSize        = 1 << 20
	DefaultMinBytes         = 1024
	DefaultReadTimeout      = 30 * time.Second
	DefaultRetentionMaxAge  = 24 * time.Hour
	DefaultSweepInterval    = time.Hour
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultMetricsNamespace = "vgrab"
)

var (
	DefaultAllowedDomains = []string{"tiktok.com"}
	DefaultShortLinkHosts = []string{"vm.tiktok.com", "vt.tiktok.com"}
	DefaultBackends       = []string{"feedapi", "tikwm", "webpage"}
)

// KnownBackends 是可以出现在 backends 中的名字。
var KnownBackends = map[string]bool{"feedapi": true, "tikwm": true, "webpage": true}

// CLIArgs 只包含 CLI 暴露的入口；空串表示未指定。
type CLIArgs struct {
	ConfigPath string
	Addr       string
}

// FileConfig 对应 vgrab.yaml 的解析结构。未知字段视为配置错误。
type FileConfig struct {
	Addr              string          `yaml:"addr"`
	StorageDir        string          `yaml:"storage_dir"`
	CatalogPath       string          `yaml:"catalog_path"`
	AllowedDomains    []string        `yaml:"allowed_domains"`
	ShortLinkHosts    []string        `yaml:"short_link_hosts"`
	Backends          []string        `yaml:"backends"`
	FeedAPIBaseURL    string          `yaml:"feed_api_base_url"`
	AggregatorBaseURL string          `yaml:"aggregator_base_url"`
	Proxy             *ProxyConfig    `yaml:"proxy"`
	TrustedProxies    []string        `yaml:"trusted_proxies"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
	Retry             RetryConfig     `yaml:"retry"`
	Fetch             FetchConfig     `yaml:"fetch"`
	Retention         RetentionConfig `yaml:"retention"`
	Log               LogConfig       `yaml:"log"`
	MetricsNamespace  string          `yaml:"metrics_namespace"`
}

type ProxyConfig struct {
	URL string `yaml:"url"`
}

type RateLimitConfig struct {
	Strategy string        `yaml:"strategy"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	RedisURL string        `yaml:"redis_url"`
}

type RetryConfig struct {
	Attempts    uint          `yaml:"attempts"`
	Delay       time.Duration `yaml:"delay"`
	Exponential bool          `yaml:"exponential"`
}

type FetchConfig struct {
	ChunkSize int   `yaml:"chunk_size"`
	MinBytes  int64 `yaml:"min_bytes"`
	MaxBytes  int64 `yaml:"max_bytes"`
	// ReadTimeout 是响应体两次读到数据之间允许的最长间隔。
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type RetentionConfig struct {
	MaxAge        time.Duration `yaml:"max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Addr string
	// StorageDir/CatalogPath 已是绝对路径；CatalogPath 为空表示关闭下载目录。
	StorageDir  string
	CatalogPath string

	AllowedDomains []string
	ShortLinkHosts []string
	Backends       []string

	FeedAPIBaseURL    string
	AggregatorBaseURL string
	ProxyURL          string
	// TrustedProxies 为空时客户端 IP 取连接对端地址；非空时只信任来自这些网段的 X-Forwarded-For。
	TrustedProxies []*net.IPNet

	RateLimit RateLimitConfig
	Retry     RetryConfig
	Fetch     FetchConfig
	Retention RetentionConfig
	Log       LogConfig

	MetricsNamespace string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 读取配置文件与环境变量，并与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：该文件必须存在
// 2) 未提供：读取 <cwd>/vgrab.yaml（可选，不存在则全部使用默认值）
//
// 覆盖优先级（固定）：CLI > 环境变量 VGRAB_* > 配置文件 > 内置默认值。
// 相对路径（storage_dir/catalog_path）以 cwd 为基准。getenv 为 nil 时使用 os.Getenv。
func LoadEffective(cwd string, cli CLIArgs, getenv func(string) string) (EffectiveConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath string
		fc      FileConfig
		exists  bool
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
	} else {
		cfgPath = filepath.Join(cwdAbs, DefaultFileName)
		fc, _, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	}

	if err := applyEnv(&fc, getenv); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if a := strings.TrimSpace(cli.Addr); a != "" {
		fc.Addr = a
	}

	eff, err := merge(cwdAbs, fc)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	return eff, nil
}

// applyEnv 用 VGRAB_* 环境变量覆盖文件配置（只覆盖非空的变量）。
func applyEnv(fc *FileConfig, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = splitList(v)
		}
	}

	str("VGRAB_ADDR", &fc.Addr)
	str("VGRAB_STORAGE_DIR", &fc.StorageDir)
	str("VGRAB_CATALOG_PATH", &fc.CatalogPath)
	list("VGRAB_ALLOWED_DOMAINS", &fc.AllowedDomains)
	list("VGRAB_SHORT_LINK_HOSTS", &fc.ShortLinkHosts)
	list("VGRAB_BACKENDS", &fc.Backends)
	list("VGRAB_TRUSTED_PROXIES", &fc.TrustedProxies)
	str("VGRAB_FEED_API_BASE_URL", &fc.FeedAPIBaseURL)
	str("VGRAB_AGGREGATOR_BASE_URL", &fc.AggregatorBaseURL)
	if v := strings.TrimSpace(getenv("VGRAB_PROXY_URL")); v != "" {
		fc.Proxy = &ProxyConfig{URL: v}
	}
	str("VGRAB_RATE_LIMIT_STRATEGY", &fc.RateLimit.Strategy)
	str("VGRAB_REDIS_URL", &fc.RateLimit.RedisURL)
	str("VGRAB_LOG_LEVEL", &fc.Log.Level)
	str("VGRAB_LOG_FORMAT", &fc.Log.Format)

	if v := strings.TrimSpace(getenv("VGRAB_RATE_LIMIT_REQUESTS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VGRAB_RATE_LIMIT_REQUESTS 无效：%q", v)
		}
		fc.RateLimit.Requests = n
	}
	if v := strings.TrimSpace(getenv("VGRAB_RATE_LIMIT_WINDOW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VGRAB_RATE_LIMIT_WINDOW 无效：%q", v)
		}
		fc.RateLimit.Window = d
	}
	if v := strings.TrimSpace(getenv("VGRAB_FETCH_READ_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VGRAB_FETCH_READ_TIMEOUT 无效：%q", v)
		}
		fc.Fetch.ReadTimeout = d
	}
	if v := strings.TrimSpace(getenv("VGRAB_RETENTION_MAX_AGE")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VGRAB_RETENTION_MAX_AGE 无效：%q", v)
		}
		fc.Retention.MaxAge = d
	}
	return nil
}

func merge(cwdAbs string, fc FileConfig) (EffectiveConfig, error) {
	eff := EffectiveConfig{
		Addr:              orDefault(fc.Addr, DefaultAddr),
		StorageDir:        absCleanFrom(cwdAbs, orDefault(fc.StorageDir, DefaultStorageDir)),
		AllowedDomains:    normList(fc.AllowedDomains, DefaultAllowedDomains),
		ShortLinkHosts:    normList(fc.ShortLinkHosts, DefaultShortLinkHosts),
		Backends:          normList(fc.Backends, DefaultBackends),
		FeedAPIBaseURL:    strings.TrimSpace(fc.FeedAPIBaseURL),
		AggregatorBaseURL: strings.TrimSpace(fc.AggregatorBaseURL),
		MetricsNamespace:  orDefault(fc.MetricsNamespace, DefaultMetricsNamespace),
	}

	switch catalog := strings.TrimSpace(fc.CatalogPath); {
	case strings.EqualFold(catalog, CatalogDisabled):
		eff.CatalogPath = ""
	case catalog == "":
		eff.CatalogPath = absCleanFrom(cwdAbs, DefaultCatalogPath)
	default:
		eff.CatalogPath = absCleanFrom(cwdAbs, catalog)
	}
	if eff.CatalogPath != "" && filepath.Dir(eff.CatalogPath) == eff.StorageDir {
		return EffectiveConfig{}, fmt.Errorf("catalog_path 不能位于 storage_dir 内（会被清理任务删除）")
	}

	for _, name := range eff.Backends {
		if !KnownBackends[name] {
			return EffectiveConfig{}, fmt.Errorf("未知 backend：%q", name)
		}
	}
	for _, h := range eff.ShortLinkHosts {
		if !coveredBy(h, eff.AllowedDomains) {
			return EffectiveConfig{}, fmt.Errorf("short_link_hosts 中的 %q 不在 allowed_domains 内", h)
		}
	}

	if fc.Proxy != nil {
		eff.ProxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if eff.ProxyURL != "" {
		u, err := url.Parse(eff.ProxyURL)
		if err != nil {
			return EffectiveConfig{}, fmt.Errorf("proxy.url 无效：%w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "socks5") || u.Host == "" {
			return EffectiveConfig{}, fmt.Errorf("proxy.url 只支持 http/https/socks5 地址：%q", eff.ProxyURL)
		}
	}
	for _, raw := range fc.TrustedProxies {
		n, err := parseNet(raw)
		if err != nil {
			return EffectiveConfig{}, err
		}
		eff.TrustedProxies = append(eff.TrustedProxies, n)
	}
	for key, v := range map[string]string{"feed_api_base_url": eff.FeedAPIBaseURL, "aggregator_base_url": eff.AggregatorBaseURL} {
		if err := validateHTTPURL(key, v); err != nil {
			return EffectiveConfig{}, err
		}
	}

	rl := fc.RateLimit
	rl.Strategy = strings.ToLower(orDefault(rl.Strategy, DefaultRateStrategy))
	switch rl.Strategy {
	case "window", "bucket":
	case "redis":
		if strings.TrimSpace(rl.RedisURL) == "" {
			return EffectiveConfig{}, fmt.Errorf("rate_limit.strategy=redis 但 redis_url 为空")
		}
	default:
		return EffectiveConfig{}, fmt.Errorf("rate_limit.strategy 只能是 window/bucket/redis，实际是 %q", rl.Strategy)
	}
	if rl.Requests < 0 || rl.Window < 0 {
		return EffectiveConfig{}, fmt.Errorf("rate_limit 的 requests/window 不能为负")
	}
	if rl.Requests == 0 {
		rl.Requests = DefaultRateRequests
	}
	if rl.Window == 0 {
		rl.Window = DefaultRateWindow
	}
	eff.RateLimit = rl

	rt := fc.Retry
	if rt.Attempts == 0 {
		rt.Attempts = DefaultRetryAttempts
	}
	if rt.Delay < 0 {
		return EffectiveConfig{}, fmt.Errorf("retry.delay 不能为负")
	}
	if rt.Delay == 0 {
		rt.Delay = DefaultRetryDelay
	}
	eff.Retry = rt

	ft := fc.Fetch
	if ft.ChunkSize < 0 || ft.MinBytes < 0 || ft.MaxBytes < 0 || ft.ReadTimeout < 0 {
		return EffectiveConfig{}, fmt.Errorf("fetch 的 chunk_size/min_bytes/max_bytes/read_timeout 不能为负")
	}
	if ft.ReadTimeout == 0 {
		ft.ReadTimeout = DefaultReadTimeout
	}
	if ft.ChunkSize == 0 {
		ft.ChunkSize = DefaultChunkSize
	}
	if ft.MinBytes == 0 {
		ft.MinBytes = DefaultMinBytes
	}
	if ft.MaxBytes > 0 && ft.MaxBytes < ft.MinBytes {
		return EffectiveConfig{}, fmt.Errorf("fetch.max_bytes 不能小于 min_bytes")
	}
	eff.Fetch = ft

	rn := fc.Retention
	if rn.MaxAge < 0 || rn.SweepInterval < 0 {
		return EffectiveConfig{}, fmt.Errorf("retention 的 max_age/sweep_interval 不能为负")
	}
	if rn.MaxAge == 0 {
		rn.MaxAge = DefaultRetentionMaxAge
	}
	if rn.SweepInterval == 0 {
		rn.SweepInterval = DefaultSweepInterval
	}
	eff.Retention = rn

	lg := LogConfig{
		Level:  strings.ToLower(orDefault(fc.Log.Level, DefaultLogLevel)),
		Format: strings.ToLower(orDefault(fc.Log.Format, DefaultLogFormat)),
	}
	switch lg.Level {
	case "debug", "info", "warn", "error":
	default:
		return EffectiveConfig{}, fmt.Errorf("log.level 只能是 debug/info/warn/error，实际是 %q", lg.Level)
	}
	if lg.Format != "text" && lg.Format != "json" {
		return EffectiveConfig{}, fmt.Errorf("log.format 只能是 text/json，实际是 %q", lg.Format)
	}
	eff.Log = lg

	return eff, nil
}

// parseNet 接受 CIDR 或单个 IP（视为 /32 或 /128）。
func parseNet(raw string) (*net.IPNet, error) {
	raw = strings.TrimSpace(raw)
	if _, n, err := net.ParseCIDR(raw); err == nil {
		return n, nil
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return nil, fmt.Errorf("trusted_proxies 中的 %q 不是 IP 或 CIDR", raw)
	}
	bits := 128
	if v4 := ip.To4(); v4 != nil {
		ip, bits = v4, 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

func validateHTTPURL(key, v string) error {
	if v == "" {
		return nil
	}
	u, err := url.Parse(v)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s 无效：%q", key, v)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s 必须是 http/https：%q", key, v)
	}
	return nil
}

func coveredBy(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

// normList 小写、去空白、去重；结果为空时返回 def 的副本。
func normList(in, def []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 YAML 配置文件（拒绝未知字段）。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
