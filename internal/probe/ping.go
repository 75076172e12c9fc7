package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/1broseidon/beacon/internal/logging"
)

type pinger interface {
	Run() error
	Stop()
	SetPrivileged(bool)
	Privileged() bool
	SetCount(int)
	SetTimeout(time.Duration)
	Statistics() *probing.Statistics
}

type probingPinger struct {
	*probing.Pinger
}

func (p *probingPinger) SetCount(count int) {
	p.Pinger.Count = count
}

func (p *probingPinger) SetTimeout(timeout time.Duration) {
	p.Pinger.Timeout = timeout
}

// defaultPingerFactory resolves target within resolveTimeout.
func defaultPingerFactory(target string, resolveTimeout time.Duration) (pinger, error) {
	p := probing.New(target)
	p.ResolveTimeout = resolveTimeout
	if err := p.Resolve(); err != nil {
		return nil, err
	}
	return &probingPinger{Pinger: p}, nil
}

type pingChecker struct {
	logger    *logging.Logger
	newPinger func(target string, resolveTimeout time.Duration) (pinger, error)
}

func newPingChecker(logger *logging.Logger) *pingChecker {
	return &pingChecker{logger: logger, newPinger: defaultPingerFactory}
}

// Check sends one ICMP echo. A raw socket is tried first and an unprivileged
// UDP socket is used when that is not permitted.
func (c *pingChecker) Check(ctx context.Context, req Request) Outcome {
	timeout := remaining(ctx)
	if timeout <= 0 {
		return down(context.DeadlineExceeded)
	}

	// The resolve step shares the probe deadline with the echo itself.
	p, err := c.newPinger(hostOf(req.Target), timeout)
	if err != nil {
		return down(fmt.Errorf("resolving %s: %w", req.Target, err))
	}
	if timeout = remaining(ctx); timeout <= 0 {
		return down(context.DeadlineExceeded)
	}
	p.SetCount(1)
	p.SetTimeout(timeout)
	p.SetPrivileged(true)

	err = run(ctx, p)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		c.logger.WithFields(map[string]interface{}{
			"target": req.Target,
			"error":  err.Error(),
		}).Debug("Privileged ICMP failed, trying unprivileged mode")

		p.SetPrivileged(false)
		if fallbackErr := run(ctx, p); fallbackErr != nil {
			return down(fmt.Errorf("ping failed in privileged and unprivileged mode: %w", fallbackErr))
		}
		err = nil
	}
	if err != nil {
		return down(err)
	}

	stats := p.Statistics()
	if stats == nil || stats.PacketsRecv == 0 {
		return down(&CheckError{
			Class: ClassNoReply,
			Err:   fmt.Errorf("no echo reply from %s within %s", req.Target, timeout.Round(time.Millisecond)),
		})
	}

	mode := "icmp"
	if !p.Privileged() {
		mode = "udp"
	}
	return up(stats.AvgRtt, fmt.Sprintf("reply from %s in %s (%s)", stats.Addr, stats.AvgRtt.Round(time.Microsecond), mode))
}

// remaining returns the time left before ctx's deadline, or DefaultTimeout
// when it has none.
func remaining(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return DefaultTimeout
}

// run executes the pinger, stopping it if ctx ends first.
func run(ctx context.Context, p pinger) error {
	done := make(chan error, 1)
	go func() {
		done <- p.Run()
	}()

	select {
	case <-ctx.Done():
		p.Stop()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}
