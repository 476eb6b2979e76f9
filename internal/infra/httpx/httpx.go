package httpx

import (
	"errors"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultTimeout  = 20 * time.Second
	defaultMaxConns = 10
	defaultDNSTTL   = 5 * time.Minute
)

// Options 描述共享 client 的网络策略。
type Options struct {
	// Cookie 是登录态凭据（原样放进 Cookie 头）；为空则不附加。
	// 凭据是否有效只由接口返回码判断，这里不做任何本地校验。
	Cookie string

	// MaxConns 限制单 host 并发连接数（<=0 时为 10）。
	MaxConns int

	// Timeout 是单次请求总超时（<=0 时为 20s）。
	Timeout time.Duration

	// DNSTTL 是 DNS 结果缓存时长（<=0 时为 5min）。
	DNSTTL time.Duration

	// ProxyURL 为空时沿用环境变量（HTTP_PROXY/HTTPS_PROXY）。
	ProxyURL string
}

// Transport 把“UA 池 + 凭据头 + 通用 Accept 头”固化为统一策略。
//
// 约束：
// - 不做重试（重试统一由 retry 包按操作类别执行，避免两层叠加）
// - 调用方显式设置的头优先，Transport 只补缺
// - 不修改调用方的 *http.Request
type Transport struct {
	Base *http.Transport

	ua *uaPool

	Cookie string
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", t.ua.random())
	}
	if t.Cookie != "" && r.Header.Get("Cookie") == "" {
		r.Header.Set("Cookie", t.Cookie)
	}
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "application/json, text/plain, */*")
	}
	if r.Header.Get("Accept-Language") == "" {
		r.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	}
	return t.Base.RoundTrip(r)
}

// NewClient 构造 indexer 与 extractor 共享的 HTTP client。
//
// 规则：
// - 连接池：单 host 最多 MaxConns 个连接，keep-alive 复用
// - DNS 结果按 DNSTTL 缓存
// - 内置 UA 池：每个请求随机 UA
// - ProxyURL 非法时静默回退到环境变量代理（合法性由 config 层校验）
func NewClient(opt Options) *http.Client {
	maxConns := opt.MaxConns
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ttl := opt.DNSTTL
	if ttl <= 0 {
		ttl = defaultDNSTTL
	}

	proxy := http.ProxyFromEnvironment
	if raw := strings.TrimSpace(opt.ProxyURL); raw != "" {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			proxy = http.ProxyURL(u)
		}
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	dns := newDNSCache(ttl)

	base := &http.Transport{
		Proxy:                 proxy,
		DialContext:           dns.dialContext(dialer),
		MaxConnsPerHost:       maxConns,
		MaxIdleConns:          maxConns * 2,
		MaxIdleConnsPerHost:   maxConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	tr := &Transport{
		Base:   base,
		ua:     globalUA,
		Cookie: strings.TrimSpace(opt.Cookie),
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}
}

type uaPool struct {
	mu  sync.Mutex
	rnd *rand.Rand
	uas []string
}

func (p *uaPool) random() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uas[p.rnd.Intn(len(p.uas))]
}

var globalUA = newUAPool()

func newUAPool() *uaPool {
	// 只放桌面浏览器 UA：移动端 UA 会被目录接口要求额外参数。
	uas := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	}
	return &uaPool{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		uas: uas,
	}
}
