package probe

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

type resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type dnsChecker struct {
	resolver resolver
}

func newDNSChecker(r resolver) *dnsChecker {
	if r == nil {
		r = &net.Resolver{PreferGo: true}
	}
	return &dnsChecker{resolver: r}
}

// hostOf extracts the hostname from a bare host, host:port or URL target.
func hostOf(target string) string {
	target = strings.TrimSpace(target)
	if strings.Contains(target, "://") {
		if u, err := url.Parse(target); err == nil {
			return u.Hostname()
		}
	}
	if host, _, err := net.SplitHostPort(target); err == nil {
		return host
	}
	return strings.TrimSuffix(target, ".")
}

// Check reports up when the target resolves to at least one address.
// Failures carry no latency.
func (c *dnsChecker) Check(ctx context.Context, req Request) Outcome {
	host := hostOf(req.Target)

	start := time.Now()
	addrs, err := c.resolver.LookupHost(ctx, host)
	latency := time.Since(start)
	if err != nil {
		return down(err)
	}
	if len(addrs) == 0 {
		return down(&CheckError{Class: ClassDNS, Err: fmt.Errorf("%s resolved to no addresses", host)})
	}

	shown := addrs
	if len(shown) > 4 {
		shown = shown[:4]
	}
	return up(latency, fmt.Sprintf("resolved %s to %s", host, strings.Join(shown, ", ")))
}
