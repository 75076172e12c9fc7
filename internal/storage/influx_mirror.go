package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/1broseidon/beacon/internal/logging"
	"github.com/1broseidon/beacon/pkg/models"
)

const influxMeasurement = "check_result"

// pointWriter is the part of the InfluxDB non-blocking write API the mirror
// uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
	Errors() <-chan error
}

// InfluxMirror wraps a Store and copies every saved result into InfluxDB as a
// time-series point. Reads are served by the wrapped store; mirror write
// failures are logged and never fail SaveResult.
type InfluxMirror struct {
	Store

	client     influxdb2.Client
	writer     pointWriter
	logger     *logging.Logger
	stopErr    chan struct{}
	errStopped chan struct{}
	closeOnce  sync.Once
}

// InfluxOptions configures NewInfluxMirror
type InfluxOptions struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewInfluxMirror connects to InfluxDB and wraps inner.
func NewInfluxMirror(ctx context.Context, inner Store, opts InfluxOptions, logger *logging.Logger) (*InfluxMirror, error) {
	client := influxdb2.NewClient(opts.URL, opts.Token)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb health check failed: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influxdb not healthy: %s", health.Status)
	}

	mirror := newInfluxMirror(inner, client.WriteAPI(opts.Org, opts.Bucket), logger)
	mirror.client = client

	mirror.logger.WithFields(map[string]interface{}{
		"url":    opts.URL,
		"org":    opts.Org,
		"bucket": opts.Bucket,
	}).Info("InfluxDB result mirror initialized")

	return mirror, nil
}

func newInfluxMirror(inner Store, w pointWriter, logger *logging.Logger) *InfluxMirror {
	m := &InfluxMirror{
		Store:      inner,
		writer:     w,
		logger:     logger.WithComponent(logging.ComponentStorage),
		stopErr:    make(chan struct{}),
		errStopped: make(chan struct{}),
	}
	go m.listenForWriteErrors()
	return m
}

// resultPoint converts a result into its InfluxDB point.
func resultPoint(r *models.CheckResult) *write.Point {
	p := influxdb2.NewPointWithMeasurement(influxMeasurement).
		AddTag("monitor_id", strconv.FormatInt(r.MonitorID, 10)).
		AddTag("status", string(r.Status)).
		AddField("up", r.IsUp()).
		SetTime(r.Timestamp)
	if r.LatencyMS != nil {
		p.AddField("latency_ms", *r.LatencyMS)
	}
	return p.SortTags().SortFields()
}

func (m *InfluxMirror) Name() string { return m.Store.Name() + "+influxdb" }

// SaveResult saves through the wrapped store, then queues the point.
func (m *InfluxMirror) SaveResult(ctx context.Context, result *models.CheckResult) error {
	if err := m.Store.SaveResult(ctx, result); err != nil {
		return err
	}
	m.writer.WritePoint(resultPoint(result))
	return nil
}

// HealthCheck checks the wrapped store. Mirror availability is not part of
// readiness since mirror writes never fail a save.
func (m *InfluxMirror) HealthCheck(ctx context.Context) error {
	if hc, ok := m.Store.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (m *InfluxMirror) listenForWriteErrors() {
	defer close(m.errStopped)

	for {
		select {
		case err := <-m.writer.Errors():
			m.logger.WithError(err).Error("InfluxDB write error")
		case <-m.stopErr:
			return
		}
	}
}

// Close flushes pending points, closes the client and then the wrapped store.
func (m *InfluxMirror) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopErr)
		select {
		case <-m.errStopped:
		case <-time.After(2 * time.Second):
			m.logger.Warn("Error listener did not stop in time")
		}

		m.writer.Flush()
		if m.client != nil {
			m.client.Close()
		}
		err = m.Store.Close()
	})
	return err
}
