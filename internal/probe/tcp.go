package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

type tcpChecker struct {
	dialer *net.Dialer
}

func newTCPChecker() *tcpChecker {
	return &tcpChecker{dialer: &net.Dialer{}}
}

// Check reports up when the TCP handshake with target:port completes.
func (c *tcpChecker) Check(ctx context.Context, req Request) Outcome {
	address := net.JoinHostPort(req.Target, strconv.Itoa(req.Port))

	start := time.Now()
	conn, err := c.dialer.DialContext(ctx, "tcp", address)
	latency := time.Since(start)
	if err != nil {
		return down(err)
	}
	conn.Close()

	return up(latency, fmt.Sprintf("connected to %s in %s", address, latency.Round(time.Microsecond)))
}
