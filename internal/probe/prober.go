// Package probe executes single reachability checks (ping, HTTP, DNS, TCP)
// against a target and reports up or down with latency.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/1broseidon/beacon/internal/logging"
	"github.com/1broseidon/beacon/internal/metrics"
	"github.com/1broseidon/beacon/pkg/models"
)

// DefaultTimeout bounds a check when the request carries no timeout.
const DefaultTimeout = 5 * time.Second

// Request describes one check
type Request struct {
	Kind    models.MonitorKind
	Target  string
	Port    int
	Keyword string
	Timeout time.Duration
}

// RequestFor builds the check request for a monitor.
func RequestFor(m *models.Monitor, timeout time.Duration) Request {
	return Request{
		Kind:    m.Kind,
		Target:  m.Target,
		Port:    m.PortValue(),
		Keyword: m.Keyword,
		Timeout: timeout,
	}
}

// Outcome is the result of one check. LatencyMS is nil when no measurement
// was possible.
type Outcome struct {
	Status    models.Status
	LatencyMS *float64
	Details   string
	Class     string
}

func up(latency time.Duration, details string) Outcome {
	return Outcome{Status: models.StatusUp, LatencyMS: models.Milliseconds(latency), Details: details}
}

func down(err error) Outcome {
	return Outcome{Status: models.StatusDown, Details: err.Error(), Class: Classify(err)}
}

func downAfter(latency time.Duration, class, details string) Outcome {
	return Outcome{Status: models.StatusDown, LatencyMS: models.Milliseconds(latency), Details: details, Class: class}
}

func misconfigured(err error) Outcome {
	return Outcome{Status: models.StatusDown, Details: err.Error(), Class: ClassConfig}
}

// Checker performs checks for one monitor kind. Check must honour the
// context deadline.
type Checker interface {
	Check(ctx context.Context, req Request) Outcome
}

// Options tunes the built-in checkers
type Options struct {
	DefaultTimeout time.Duration
	UserAgent      string
	MaxBodyBytes   int64
}

// Prober dispatches checks to the checker registered for each kind
type Prober struct {
	checkers       map[models.MonitorKind]Checker
	defaultTimeout time.Duration
	logger         *logging.Logger
	metrics        *metrics.Metrics
}

// New creates a prober with the ping, HTTP, DNS and TCP checkers registered.
func New(logger *logging.Logger, m *metrics.Metrics, opts Options) *Prober {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Beacon/1.0"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	log := logger.WithComponent(logging.ComponentProbe)
	return &Prober{
		checkers: map[models.MonitorKind]Checker{
			models.KindPing: newPingChecker(log),
			models.KindHTTP: newHTTPChecker(opts.UserAgent, opts.MaxBodyBytes),
			models.KindDNS:  newDNSChecker(nil),
			models.KindTCP:  newTCPChecker(),
		},
		defaultTimeout: opts.DefaultTimeout,
		logger:         log,
		metrics:        m,
	}
}

// Register replaces the checker for kind.
func (p *Prober) Register(kind models.MonitorKind, c Checker) {
	p.checkers[kind] = c
}

// Probe runs one check. The returned error is non-nil only for configuration
// errors; the outcome is then a down result describing the problem.
func (p *Prober) Probe(ctx context.Context, req Request) (Outcome, error) {
	checker, ok := p.checkers[req.Kind]
	if !ok {
		return Outcome{Status: models.StatusDown, Details: "unsupported monitor type", Class: ClassConfig},
			&UnsupportedKindError{Kind: req.Kind}
	}
	if req.Kind == models.KindTCP && req.Port <= 0 {
		err := &models.ValidationError{Field: "port", Reason: "is required for tcp monitors"}
		return Outcome{Status: models.StatusDown, Details: err.Error(), Class: ClassConfig}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := runChecker(ctx, checker, req)
	if out.Status != models.StatusUp {
		out.Status = models.StatusDown
		if out.Class != "" {
			p.metrics.RecordCheckError(string(req.Kind), out.Class)
		}
	}
	return out, nil
}

type checkReturn struct {
	out      Outcome
	panicked interface{}
}

// runChecker returns by the context deadline even when the checker does
// not. A checker panic is re-raised in the calling goroutine.
func runChecker(ctx context.Context, checker Checker, req Request) Outcome {
	done := make(chan checkReturn, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- checkReturn{panicked: r}
			}
		}()
		done <- checkReturn{out: checker.Check(ctx, req)}
	}()

	select {
	case ret := <-done:
		if ret.panicked != nil {
			panic(ret.panicked)
		}
		return ret.out
	case <-ctx.Done():
		return down(&CheckError{Class: ClassTimeout, Err: fmt.Errorf("check abandoned: %w", ctx.Err())})
	}
}
