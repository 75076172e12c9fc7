package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"gopkg.in/yaml.v3"

	"github.com/1broseidon/beacon/internal/scheduler"
	"github.com/1broseidon/beacon/internal/storage"
	"github.com/1broseidon/beacon/pkg/models"
)

const (
	defaultHistoryWindow = 24 * time.Hour
	defaultRecentLimit   = 20
)

// MonitorView is a monitor with its runtime state
type MonitorView struct {
	*models.Monitor
	Status models.Status      `json:"status"`
	Job    *scheduler.JobInfo `json:"job,omitempty"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidMonitor):
		return fiber.StatusBadRequest
	case errors.Is(err, storage.ErrMonitorNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, scheduler.ErrCheckInFlight):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.WithFields(map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
		}).
			WithError(err).
			Error("Request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func monitorID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid monitor id")
	}
	return id, nil
}

func (s *Server) view(m *models.Monitor) MonitorView {
	v := MonitorView{Monitor: m, Status: s.scheduler.Results().LastStatus(m.ID)}
	if v.Status == models.StatusUnknown {
		v.Status = m.KnownStatus()
	}
	for _, j := range s.scheduler.Jobs() {
		if j.MonitorID == m.ID {
			job := j
			v.Job = &job
			break
		}
	}
	return v
}

// healthHandler handles health check requests
func (s *Server) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "beacon",
		"version": Version,
	})
}

// readyHandler reports ready once the scheduler runs and storage answers.
func (s *Server) readyHandler(c *fiber.Ctx) error {
	checks := fiber.Map{"scheduler": "ok", "storage": "ok"}
	ready := true

	if !s.scheduler.IsRunning() {
		checks["scheduler"] = "stopped"
		ready = false
	}
	if hc, ok := s.store.(storage.HealthChecker); ok {
		if err := hc.HealthCheck(c.UserContext()); err != nil {
			checks["storage"] = err.Error()
			ready = false
		}
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"checks": checks,
		})
	}
	return c.JSON(fiber.Map{
		"status": "ready",
		"checks": checks,
	})
}

// listMonitorsHandler lists monitors, optionally for one owner
func (s *Server) listMonitorsHandler(c *fiber.Ctx) error {
	var owner int64
	if raw := c.Query("owner"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return badRequest(c, "invalid owner")
		}
		owner = v
	}

	list, err := s.manager.List(c.UserContext(), owner)
	if err != nil {
		return s.fail(c, err)
	}

	views := make([]MonitorView, 0, len(list))
	for _, m := range list {
		views = append(views, s.view(m))
	}
	return c.JSON(fiber.Map{
		"monitors": views,
		"total":    len(views),
	})
}

// getMonitorHandler returns one monitor
func (s *Server) getMonitorHandler(c *fiber.Ctx) error {
	id, err := monitorID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	m, err := s.manager.Get(c.UserContext(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(s.view(m))
}

// createMonitorHandler creates a monitor. Monitors are enabled unless the
// body says otherwise.
func (s *Server) createMonitorHandler(c *fiber.Ctx) error {
	m := models.Monitor{Enabled: true}
	if err := c.BodyParser(&m); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	m.ID = 0

	created, err := s.manager.Create(c.UserContext(), &m)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(s.view(created))
}

// updateMonitorHandler replaces a monitor's configuration
func (s *Server) updateMonitorHandler(c *fiber.Ctx) error {
	id, err := monitorID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var m models.Monitor
	if err := c.BodyParser(&m); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	m.ID = id

	updated, outcome, err := s.manager.Update(c.UserContext(), &m)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"monitor": s.view(updated),
		"job":     outcome.String(),
	})
}

// deleteMonitorHandler deletes a monitor and its history
func (s *Server) deleteMonitorHandler(c *fiber.Ctx) error {
	id, err := monitorID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	outcome, err := s.manager.Delete(c.UserContext(), id)
	if err != nil {
		return s.fail(c, err)
	}

	resp := fiber.Map{
		"deleted": true,
		"job":     outcome.Job.String(),
	}
	if outcome.CancelErr != nil {
		resp["cancel_error"] = outcome.CancelErr.Error()
	}
	return c.JSON(resp)
}

// triggerHandler runs one check now and returns its result
func (s *Server) triggerHandler(c *fiber.Ctx) error {
	id, err := monitorID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := s.scheduler.TriggerNow(c.UserContext(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(result)
}

// historyHandler returns results in [from, to], oldest first. The window
// defaults to the last 24 hours.
func (s *Server) historyHandler(c *fiber.Ctx) error {
	id, err := monitorID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	to := time.Now().UTC()
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			return badRequest(c, "invalid to: expected RFC3339")
		}
	}
	from := to.Add(-defaultHistoryWindow)
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			return badRequest(c, "invalid from: expected RFC3339")
		}
	}

	results, err := s.manager.History(c.UserContext(), id, from, to)
	if err != nil {
		return s.fail(c, err)
	}
	if results == nil {
		results = []*models.CheckResult{}
	}
	return c.JSON(fiber.Map{
		"monitor_id": id,
		"from":       from,
		"to":         to,
		"results":    results,
		"total":      len(results),
	})
}

// recentHandler returns the newest buffered results
func (s *Server) recentHandler(c *fiber.Ctx) error {
	id, err := monitorID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	limit := c.QueryInt("limit", defaultRecentLimit)
	if limit <= 0 {
		return badRequest(c, "limit must be positive")
	}

	results := s.scheduler.Results().Recent(id, limit)
	return c.JSON(fiber.Map{
		"monitor_id": id,
		"results":    results,
		"total":      len(results),
	})
}

// uptimeHandler returns the uptime percentage over a window of buffered
// results
func (s *Server) uptimeHandler(c *fiber.Ctx) error {
	id, err := monitorID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	window := defaultHistoryWindow
	if raw := c.Query("window"); raw != "" {
		if window, err = time.ParseDuration(raw); err != nil || window <= 0 {
			return badRequest(c, "invalid window")
		}
	}

	uptime, samples := s.scheduler.Results().Uptime(id, window)
	return c.JSON(fiber.Map{
		"monitor_id":     id,
		"window":         models.Duration(window),
		"uptime_percent": uptime,
		"samples":        samples,
	})
}

// schedulerHandler returns scheduler statistics and the job table
func (s *Server) schedulerHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"stats": s.scheduler.Stats(),
		"jobs":  s.scheduler.Jobs(),
	})
}

// getConfigHandler renders the effective configuration as YAML with
// secrets masked.
func (s *Server) getConfigHandler(c *fiber.Ctx) error {
	out, err := yaml.Marshal(s.config.Redacted())
	if err != nil {
		return s.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/yaml")
	return c.Send(out)
}
