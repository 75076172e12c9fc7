package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/1broseidon/beacon/internal/logging"
	"github.com/1broseidon/beacon/internal/metrics"
	"github.com/1broseidon/beacon/pkg/models"
)

func newTestProber(t *testing.T) (*Prober, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return New(logging.Nop(), m, Options{}), m
}

type blockingChecker struct{}

func (blockingChecker) Check(ctx context.Context, req Request) Outcome {
	<-ctx.Done()
	return down(ctx.Err())
}

func TestEveryKindHasAChecker(t *testing.T) {
	p, _ := newTestProber(t)
	for _, kind := range models.AllKinds() {
		if _, ok := p.checkers[kind]; !ok {
			t.Fatalf("no checker registered for %s", kind)
		}
	}
}

func TestProbeUnknownKindIsConfigurationError(t *testing.T) {
	p, _ := newTestProber(t)

	out, err := p.Probe(context.Background(), Request{Kind: "smtp", Target: "mail.example.com"})
	if err == nil {
		t.Fatalf("expected configuration error for unknown kind")
	}
	var kindErr *UnsupportedKindError
	if !errors.As(err, &kindErr) || !errors.Is(err, models.ErrInvalidMonitor) {
		t.Fatalf("expected UnsupportedKindError matching ErrInvalidMonitor, got %v", err)
	}
	if out.Status != models.StatusDown || out.Details != "unsupported monitor type" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.LatencyMS != nil {
		t.Fatalf("expected nil latency")
	}
}

func TestProbeTCPWithoutPortIsConfigurationError(t *testing.T) {
	p, _ := newTestProber(t)

	_, err := p.Probe(context.Background(), Request{Kind: models.KindTCP, Target: "localhost"})
	if !errors.Is(err, models.ErrInvalidMonitor) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestProbeEnforcesTimeout(t *testing.T) {
	p, m := newTestProber(t)
	p.Register(models.KindDNS, blockingChecker{})

	start := time.Now()
	out, err := p.Probe(context.Background(), Request{Kind: models.KindDNS, Target: "slow", Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("probe exceeded its timeout: %s", elapsed)
	}
	if out.Status != models.StatusDown || out.Class != ClassTimeout {
		t.Fatalf("expected timeout down outcome, got %+v", out)
	}
	if got := testutil.ToFloat64(m.CheckErrorsTotal.WithLabelValues("dns", ClassTimeout)); got != 1 {
		t.Fatalf("expected timeout error to be counted, got %v", got)
	}
}

type stubbornChecker struct{ delay time.Duration }

func (c stubbornChecker) Check(ctx context.Context, req Request) Outcome {
	time.Sleep(c.delay)
	return up(c.delay, "late")
}

func TestCheckReturnsByDeadlineWhenCheckerIgnoresContext(t *testing.T) {
	p, m := newTestProber(t)
	p.Register(models.KindPing, stubbornChecker{delay: 300 * time.Millisecond})

	start := time.Now()
	out, err := p.Probe(context.Background(), Request{Kind: models.KindPing, Target: "slow", Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 250*time.Millisecond {
		t.Fatalf("waited for the checker past its timeout: %s", elapsed)
	}
	if out.Status != models.StatusDown || out.Class != ClassTimeout {
		t.Fatalf("expected timeout down outcome, got %+v", out)
	}
	if got := testutil.ToFloat64(m.CheckErrorsTotal.WithLabelValues("ping", ClassTimeout)); got != 1 {
		t.Fatalf("expected timeout error to be counted, got %v", got)
	}
}

type panickingChecker struct{}

func (panickingChecker) Check(ctx context.Context, req Request) Outcome {
	panic("checker exploded")
}

func TestCheckerPanicReachesCaller(t *testing.T) {
	p, _ := newTestProber(t)
	p.Register(models.KindDNS, panickingChecker{})

	defer func() {
		if r := recover(); r != "checker exploded" {
			t.Fatalf("expected checker panic to reach the caller, got %v", r)
		}
	}()
	_, _ = p.Probe(context.Background(), Request{Kind: models.KindDNS, Target: "example.com", Timeout: time.Second})
	t.Fatal("expected panic")
}

func TestRequestForMonitor(t *testing.T) {
	port := 8443
	m := &models.Monitor{Kind: models.KindHTTP, Target: "example.com", Port: &port, Keyword: "OK"}

	req := RequestFor(m, 3*time.Second)
	if req.Port != 8443 || req.Keyword != "OK" || req.Timeout != 3*time.Second || req.Kind != models.KindHTTP {
		t.Fatalf("unexpected request: %+v", req)
	}
}
