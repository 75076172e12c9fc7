// Package logging provides structured logging using zerolog with configurable
// levels, output formats and rotating file output.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog with additional context for Beacon
type Logger struct {
	logger zerolog.Logger
}

// LogEvent represents a monitoring event type
type LogEvent string

const (
	EventCheckCompleted LogEvent = "check_completed"
	EventCheckFailed    LogEvent = "check_failed"
	EventJobScheduled   LogEvent = "job_scheduled"
	EventJobCancelled   LogEvent = "job_cancelled"
	EventJobSkipped     LogEvent = "job_skipped"
	EventConfigLoaded   LogEvent = "config_loaded"
	EventServerStart    LogEvent = "server_start"
	EventServerStop     LogEvent = "server_stop"
	EventAlertSent      LogEvent = "alert_sent"
	EventAlertFailed    LogEvent = "alert_failed"
	EventResultDropped  LogEvent = "result_dropped"
)

// LogComponent represents a component of the application
type LogComponent string

const (
	ComponentScheduler LogComponent = "scheduler"
	ComponentProbe     LogComponent = "probe"
	ComponentStorage   LogComponent = "storage"
	ComponentNotify    LogComponent = "notify"
	ComponentMonitors  LogComponent = "monitors"
	ComponentAPI       LogComponent = "api"
	ComponentConfig    LogComponent = "config"
	ComponentMetrics   LogComponent = "metrics"
)

// Config represents logging configuration
type Config struct {
	Level      string            `yaml:"level" mapstructure:"level"`
	Format     string            `yaml:"format" mapstructure:"format"` // json or console
	Output     string            `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
	MaxSizeMB  int               `yaml:"maxSizeMB" mapstructure:"maxSizeMB"`
	MaxBackups int               `yaml:"maxBackups" mapstructure:"maxBackups"`
	MaxAgeDays int               `yaml:"maxAgeDays" mapstructure:"maxAgeDays"`
	Fields     map[string]string `yaml:"fields" mapstructure:"fields"`
}

// InitLogger initializes the global logger
func InitLogger(config Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer
	switch strings.ToLower(config.Output) {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		output = &lumberjack.Logger{
			Filename:   config.Output,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
		}
	}

	var logger zerolog.Logger
	switch strings.ToLower(config.Format) {
	case "text", "console":
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		})
	default:
		logger = zerolog.New(output)
	}

	ctx := logger.With().
		Timestamp().
		Str("service", "beacon")
	for key, value := range config.Fields {
		ctx = ctx.Str(key, value)
	}
	logger = ctx.Logger()

	log.Logger = logger

	return &Logger{logger: logger}, nil
}

// New returns a JSON logger writing to w without touching global state.
func New(w io.Writer) *Logger {
	return &Logger{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithComponent adds component context to the logger
func (l *Logger) WithComponent(component LogComponent) *Logger {
	return &Logger{
		logger: l.logger.With().Str("component", string(component)).Logger(),
	}
}

// WithMonitor adds monitor context to the logger
func (l *Logger) WithMonitor(id int64, name, kind string) *Logger {
	return &Logger{
		logger: l.logger.With().
			Int64("monitor_id", id).
			Str("monitor", name).
			Str("kind", kind).
			Logger(),
	}
}

// WithEvent adds event context to the logger
func (l *Logger) WithEvent(event LogEvent) *Logger {
	return &Logger{
		logger: l.logger.With().Str("event", string(event)).Logger(),
	}
}

// WithError adds error context to the logger
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		logger: l.logger.With().AnErr("error", err).Logger(),
	}
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.logger.With()
	for key, value := range fields {
		switch v := value.(type) {
		case string:
			ctx = ctx.Str(key, v)
		case int:
			ctx = ctx.Int(key, v)
		case int64:
			ctx = ctx.Int64(key, v)
		case float64:
			ctx = ctx.Float64(key, v)
		case bool:
			ctx = ctx.Bool(key, v)
		case time.Duration:
			ctx = ctx.Dur(key, v)
		case time.Time:
			ctx = ctx.Time(key, v)
		case error:
			ctx = ctx.AnErr(key, v)
		default:
			ctx = ctx.Interface(key, v)
		}
	}
	return &Logger{logger: ctx.Logger()}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string) {
	l.logger.Fatal().Msg(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatal().Msgf(format, args...)
}

// MonitorCheck logs the outcome of one check with structured data.
func (l *Logger) MonitorCheck(monitorID int64, name, kind, status, trigger string, duration time.Duration, details string) {
	event := l.logger.Debug()
	if status != "up" {
		event = l.logger.Info().Str("details", details)
	}
	event.
		Str("event", string(EventCheckCompleted)).
		Int64("monitor_id", monitorID).
		Str("monitor", name).
		Str("kind", kind).
		Str("status", status).
		Str("trigger", trigger).
		Dur("duration_ms", duration).
		Msg("Monitor check completed")
}

// AlertEvent logs the outcome of one notification channel.
func (l *Logger) AlertEvent(event LogEvent, monitorID int64, channel string, attempts int, err error) {
	logEvent := l.logger.Info()
	if err != nil {
		logEvent = l.logger.Error().AnErr("error", err)
	}
	logEvent.
		Str("event", string(event)).
		Str("component", string(ComponentNotify)).
		Int64("monitor_id", monitorID).
		Str("channel", channel).
		Int("attempts", attempts).
		Msg("Alert notification")
}
