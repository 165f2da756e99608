// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"tradepipeline/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       false,
		FilePath:   filepath.Join(home, ".config", "tradepipeline", "logs", "pipeline.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	if len(writers) == 0 {
		writer = os.Stdout
	} else if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithStage adds a pipeline stage name to the logger context.
func WithStage(logger zerolog.Logger, stage string) zerolog.Logger {
	return logger.With().Str("stage", stage).Logger()
}

// WithSymbol adds a symbol to the logger context.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithCycle adds a cycle ID to the logger context.
func WithCycle(logger zerolog.Logger, cycleID string) zerolog.Logger {
	return logger.With().Str("cycle_id", cycleID).Logger()
}

// LogProposal logs a stage-boundary snapshot of a trade proposal.
func LogProposal(logger zerolog.Logger, stage string, proposal *models.TradeProposal) {
	logger.Info().
		Str("event", "proposal").
		Str("stage", stage).
		Int("trades", len(proposal.Trades)).
		Int("total_abs_quantity", proposal.TotalAbsQuantity()).
		Float64("confidence", proposal.Confidence).
		Msg("Proposal updated")
}

// LogOrder logs a finalized order.
func LogOrder(logger zerolog.Logger, order models.Order) {
	event := logger.Info().
		Str("event", "order").
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("type", string(order.Type)).
		Str("tif", string(order.TimeInForce)).
		Int("quantity", order.Quantity)
	if order.HasPrice {
		event = event.Float64("price", order.Price)
	}
	event.Msg("Order finalized")
}

// LogRiskIteration logs one pass of the risk feedback loop.
func LogRiskIteration(logger zerolog.Logger, iteration int, metrics models.RiskMetrics, acceptable bool) {
	logger.Debug().
		Str("event", "risk_iteration").
		Int("iteration", iteration).
		Float64("portfolio_risk", metrics.PortfolioRisk).
		Float64("value_at_risk", metrics.ValueAtRisk).
		Bool("acceptable", acceptable).
		Msg("Risk loop iteration")
}

// LogCycle logs the terminal state of an execution cycle.
func LogCycle(logger zerolog.Logger, report *models.CycleReport) {
	event := logger.Info()
	if report.Status == models.CycleError {
		event = logger.Error()
	}
	event.
		Str("event", "cycle").
		Str("cycle_id", report.ID).
		Str("status", string(report.Status)).
		Bool("converged", report.Converged).
		Int("orders", report.OrderCount).
		Strs("warnings", report.Warnings).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Cycle finished")
}
