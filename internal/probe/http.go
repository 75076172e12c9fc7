package probe

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const maxRedirects = 10

type httpChecker struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

func newHTTPChecker(userAgent string, maxBodyBytes int64) *httpChecker {
	return &httpChecker{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:    100,
				IdleConnTimeout: 90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
	}
}

// NormalizeURL prefixes http:// when the target has no scheme and appends
// port when one is set and the URL carries none.
func NormalizeURL(target string, port int) (string, error) {
	target = strings.TrimSpace(target)
	if !strings.Contains(target, "://") {
		target = "http://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", target)
	}
	if port > 0 && u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	}
	return u.String(), nil
}

// Check issues a GET. With a keyword the check is up iff the body contains
// it, whatever the status code; otherwise it is up iff the status is 200.
func (c *httpChecker) Check(ctx context.Context, req Request) Outcome {
	target, err := NormalizeURL(req.Target, req.Port)
	if err != nil {
		return misconfigured(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return misconfigured(err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return down(err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, c.maxBodyBytes)

	if req.Keyword != "" {
		content, err := io.ReadAll(body)
		latency := time.Since(start)
		if err != nil {
			return down(fmt.Errorf("reading response body: %w", err))
		}
		if bytes.Contains(content, []byte(req.Keyword)) {
			return up(latency, fmt.Sprintf("keyword %q found (HTTP %d)", req.Keyword, resp.StatusCode))
		}
		return downAfter(latency, ClassKeyword, fmt.Sprintf("keyword %q not found (HTTP %d)", req.Keyword, resp.StatusCode))
	}

	_, _ = io.Copy(io.Discard, body)
	latency := time.Since(start)
	if resp.StatusCode == http.StatusOK {
		return up(latency, "HTTP 200")
	}
	return downAfter(latency, ClassStatus, fmt.Sprintf("unexpected status code %d", resp.StatusCode))
}
