// Package logger builds the process zap logger and carries request-scoped
// fields on contexts.
package logger

import (
	"context"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/brick2/pkg/errors"
)

// Config selects level, encoding and sinks
type Config struct {
	Level       string   `mapstructure:"level" yaml:"level" json:"level"`
	Development bool     `mapstructure:"development" yaml:"development" json:"development"`
	Encoding    string   `mapstructure:"encoding" yaml:"encoding" json:"encoding"` // json or console
	OutputPaths []string `mapstructure:"output_paths" yaml:"output_paths" json:"output_paths"`
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	operationKey
)

var (
	global atomic.Pointer[zap.Logger]
	level  = zap.NewAtomicLevel()
)

// Init replaces the process logger. The CLI calls it again once flags
// have been applied.
func Init(cfg Config) error {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	l, err := build(cfg, level)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	global.Store(l)
	return nil
}

// New builds a standalone logger from cfg
func New(cfg Config) (*zap.Logger, error) {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return build(cfg, lvl)
}

func parseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return lvl, errors.Wrap(err, errors.ErrorTypeConfig, "invalid log level").WithDetail("level", name)
	}
	return lvl, nil
}

func build(cfg Config, enab zapcore.LevelEnabler) (*zap.Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var enc zapcore.Encoder
	switch cfg.Encoding {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		if cfg.Development {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown log encoding %q", cfg.Encoding)
	}

	paths := cfg.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stdout"}
	}
	sink, _, err := zap.Open(paths...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "cannot open log output")
	}

	opts := []zap.Option{zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.New(zapcore.NewCore(enc, sink, enab), opts...), nil
}

// Get returns the process logger, building a JSON info logger on first use
func Get() *zap.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	l, err := build(Config{}, level)
	if err != nil {
		l = zap.NewNop()
	}
	global.CompareAndSwap(nil, l)
	return global.Load()
}

// SetLevel changes the process logger level at runtime
func SetLevel(name string) error {
	lvl, err := parseLevel(name)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// Sync flushes the process logger
func Sync() error {
	if l := global.Load(); l != nil {
		return l.Sync()
	}
	return nil
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func WithOperation(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, operationKey, name)
}

// RequestID returns the id set by WithRequestID, or ""
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// FromContext adds the request_id and operation carried by ctx to base
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	var fields []zap.Field
	if id := RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if op, ok := ctx.Value(operationKey).(string); ok && op != "" {
		fields = append(fields, zap.String("operation", op))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
