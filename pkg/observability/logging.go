package observability

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Latency statuses
const (
	LatencyNormal   = "normal"
	LatencyDegraded = "degraded"
	LatencyCritical = "critical"
)

// LatencyLogger reports operations that exceed a latency threshold: warn
// above it, error above twice it
type LatencyLogger struct {
	logger    *zap.Logger
	threshold time.Duration
}

// NewLatencyLogger creates a latency logger; a zero threshold disables it
func NewLatencyLogger(logger *zap.Logger, threshold time.Duration) *LatencyLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LatencyLogger{
		logger:    logger.With(zap.String("component", "performance")),
		threshold: threshold,
	}
}

// Log classifies latency and logs it when above the threshold
func (l *LatencyLogger) Log(operation string, latency time.Duration, fields ...zap.Field) string {
	if l == nil || l.threshold <= 0 {
		return LatencyNormal
	}

	level := zapcore.DebugLevel
	status := LatencyNormal
	switch {
	case latency > 2*l.threshold:
		level = zapcore.ErrorLevel
		status = LatencyCritical
	case latency > l.threshold:
		level = zapcore.WarnLevel
		status = LatencyDegraded
	}
	if status == LatencyNormal {
		return status
	}

	l.logger.Log(level, "slow operation", append(fields,
		zap.String("operation", operation),
		zap.Duration("latency", latency),
		zap.Duration("threshold", l.threshold),
		zap.String("status", status),
		zap.Float64("threshold_ratio", float64(latency)/float64(l.threshold)),
	)...)
	return status
}
