package probe

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/1broseidon/beacon/pkg/models"
)

type stubResolver struct {
	addrs []string
	err   error
	host  string
}

func (r *stubResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	r.host = host
	return r.addrs, r.err
}

func TestHostOf(t *testing.T) {
	tests := map[string]string{
		"example.com":              "example.com",
		"example.com.":             "example.com",
		"https://example.com/path": "example.com",
		"example.com:53":           "example.com",
		"[::1]:53":                 "::1",
	}
	for in, want := range tests {
		if got := hostOf(in); got != want {
			t.Fatalf("hostOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDNSCheckResolves(t *testing.T) {
	r := &stubResolver{addrs: []string{"192.0.2.1", "192.0.2.2"}}
	c := newDNSChecker(r)

	out := c.Check(context.Background(), Request{Kind: models.KindDNS, Target: "https://example.com"})
	if out.Status != models.StatusUp {
		t.Fatalf("expected up, got %s", out.Status)
	}
	if r.host != "example.com" {
		t.Fatalf("expected lookup of example.com, got %q", r.host)
	}
	if !strings.Contains(out.Details, "192.0.2.1") || out.LatencyMS == nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestDNSCheckEmptyAnswer(t *testing.T) {
	c := newDNSChecker(&stubResolver{})

	out := c.Check(context.Background(), Request{Kind: models.KindDNS, Target: "empty.example"})
	if out.Status != models.StatusDown || out.Class != ClassDNS || out.LatencyMS != nil {
		t.Fatalf("expected dns failure without latency, got %+v", out)
	}
}

func TestDNSCheckUnresolvableHost(t *testing.T) {
	p, _ := newTestProber(t)

	out, err := p.Probe(context.Background(), Request{
		Kind:    models.KindDNS,
		Target:  "does-not-exist.invalid",
		Timeout: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != models.StatusDown {
		t.Fatalf("expected down for unresolvable host, got %s", out.Status)
	}
	if out.LatencyMS != nil {
		t.Fatalf("expected nil latency, got %v", *out.LatencyMS)
	}
}
