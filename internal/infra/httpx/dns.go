package httpx

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

type dnsEntry struct {
	addrs   []string
	expires time.Time
}

// dnsCache 缓存 host -> IP 列表，TTL 内不再查询。
// 只缓存成功结果；失败交给下一次请求重新解析。
type dnsCache struct {
	ttl    time.Duration
	now    func() time.Time
	lookup func(ctx context.Context, host string) ([]string, error)

	mu      sync.Mutex
	entries map[string]dnsEntry
}

func newDNSCache(ttl time.Duration) *dnsCache {
	return &dnsCache{
		ttl:     ttl,
		now:     time.Now,
		lookup:  net.DefaultResolver.LookupHost,
		entries: make(map[string]dnsEntry),
	}
}

func (c *dnsCache) LookupHost(ctx context.Context, host string) ([]string, error) {
	c.mu.Lock()
	e, ok := c.entries[host]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		return e.addrs, nil
	}

	addrs, err := c.lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
	}

	c.mu.Lock()
	c.entries[host] = dnsEntry{addrs: addrs, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return addrs, nil
}

func (c *dnsCache) dialContext(d *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		if net.ParseIP(host) != nil {
			return d.DialContext(ctx, network, addr)
		}

		ips, err := c.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, ip := range ips {
			conn, err := d.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				break
			}
		}
		if lastErr == nil {
			lastErr = errors.New("dial: 没有可用地址")
		}
		return nil, lastErr
	}
}
