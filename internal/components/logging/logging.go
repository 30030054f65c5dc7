// Package logging implements a Zap-based logging component, adapted to this
// module's Factory shape: no more static Dependencies() declaration, and
// config now arrives as an opaque config.ComponentSection decoded on
// demand instead of a pre-typed interface{} handed in by a container.
package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/consts"
)

const callerSkip = 2

// Config mirrors LoggingConfig.
type Config struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Level        string        `yaml:"level" json:"level"`
	Format       string        `yaml:"format" json:"format"`
	Output       string        `yaml:"output" json:"output"`
	FileConfig   *FileConfig   `yaml:"file_config,omitempty" json:"file_config,omitempty"`
	RotateConfig *RotateConfig `yaml:"rotate_config,omitempty" json:"rotate_config,omitempty"`
}

type FileConfig struct {
	Dir      string `yaml:"dir" json:"dir"`
	Filename string `yaml:"filename" json:"filename"`
}

type RotateConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	RotateInterval time.Duration `yaml:"rotate_interval" json:"rotate_interval"`
	MaxAge         time.Duration `yaml:"max_age" json:"max_age"`
	CleanupEnabled bool          `yaml:"cleanup_enabled" json:"cleanup_enabled"`
}

// Logger is what the rest of the module depends on; other components call
// bc.FindComponent(consts.ComponentLogging) and type-assert to this.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...zap.Field)
	Info(ctx context.Context, msg string, fields ...zap.Field)
	Warn(ctx context.Context, msg string, fields ...zap.Field)
	Error(ctx context.Context, msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
	Sync() error
}

type zapLogger struct {
	cfg    Config
	logger *zap.Logger
}

// Factory returns a component.Factory reading its config from section.
func Factory(section *config.ComponentSection) component.Factory {
	return func(bc *component.BuildContext) (component.Component, error) {
		var cfg Config
		if err := section.Decode(&cfg); err != nil {
			return nil, err
		}
		setDefaults(&cfg)
		if err := validate(&cfg); err != nil {
			return nil, err
		}
		return newZapLogger(cfg)
	}
}

func setDefaults(cfg *Config) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
	if cfg.Output != "stdout" && cfg.Output != "stderr" && cfg.FileConfig == nil {
		cfg.FileConfig = &FileConfig{Dir: "./logs", Filename: "app"}
	}
}

func validate(cfg *Config) error {
	if cfg.RotateConfig != nil && cfg.RotateConfig.Enabled {
		if cfg.RotateConfig.RotateInterval <= 0 {
			return fmt.Errorf("logging: rotate_config.rotate_interval must be > 0 when enabled")
		}
		if cfg.RotateConfig.MaxAge < 0 {
			return fmt.Errorf("logging: rotate_config.max_age must be >= 0")
		}
	}
	return nil
}

func newZapLogger(cfg Config) (*zapLogger, error) {
	encoder := buildEncoder(cfg)
	writer, err := buildWriteSyncer(cfg)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	level := parseLevel(cfg.Level)

	l := zap.New(
		zapcore.NewCore(encoder, writer, level),
		zap.AddCaller(),
		zap.AddCallerSkip(callerSkip),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	l.Info("logging component started",
		zap.String("level", cfg.Level),
		zap.String("format", cfg.Format),
		zap.String("output", cfg.Output),
	)
	return &zapLogger{cfg: cfg, logger: l}, nil
}

func buildEncoder(cfg Config) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if cfg.Format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	return zapcore.NewConsoleEncoder(ec)
}

func buildWriteSyncer(cfg Config) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	case "file":
		return buildFileWriteSyncer(cfg)
	default:
		return buildCustomFileWriteSyncer(cfg.Output)
	}
}

func buildFileWriteSyncer(cfg Config) (zapcore.WriteSyncer, error) {
	if cfg.FileConfig == nil {
		return nil, fmt.Errorf("file_config is required when output is 'file'")
	}
	if err := os.MkdirAll(cfg.FileConfig.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	logFile := filepath.Join(cfg.FileConfig.Dir, cfg.FileConfig.Filename+".log")

	if cfg.RotateConfig != nil && cfg.RotateConfig.Enabled {
		lumber := &lumberjack.Logger{
			Filename:  logFile,
			MaxSize:   100,
			MaxAge:    int(cfg.RotateConfig.MaxAge.Hours() / 24),
			Compress:  true,
			LocalTime: true,
		}
		return zapcore.AddSync(lumber), nil
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return zapcore.AddSync(file), nil
}

func buildCustomFileWriteSyncer(path string) (zapcore.WriteSyncer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return zapcore.AddSync(file), nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "INFO":
		return zapcore.InfoLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "FATAL":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *zapLogger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}
func (l *zapLogger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}
func (l *zapLogger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}
func (l *zapLogger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

func (l *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{cfg: l.cfg, logger: l.logger.With(fields...)}
}

func (l *zapLogger) Sync() error { return l.logger.Sync() }

// ClearComponent flushes buffered log entries on shutdown.
func (l *zapLogger) ClearComponent() {
	_ = l.logger.Sync()
}

// OnLogRotate reopens file-backed output; lumberjack handles this itself on
// SIGHUP in production deployments, but the hook lets Manager trigger it
// programmatically too.
func (l *zapLogger) OnLogRotate(ctx context.Context) error {
	if lj, ok := writerOf(l); ok {
		return lj.Rotate()
	}
	return nil
}

func writerOf(l *zapLogger) (*lumberjack.Logger, bool) {
	// Rotation only applies to file output with rotation enabled; anything
	// else has nothing to rotate.
	if l.cfg.Output != "file" || l.cfg.RotateConfig == nil || !l.cfg.RotateConfig.Enabled || l.cfg.FileConfig == nil {
		return nil, false
	}
	return &lumberjack.Logger{
		Filename: filepath.Join(l.cfg.FileConfig.Dir, l.cfg.FileConfig.Filename+".log"),
	}, true
}

func (l *zapLogger) log(ctx context.Context, level zapcore.Level, msg string, fields []zap.Field) {
	if traceID := extractTraceID(ctx); traceID != "" && !hasTraceField(fields) {
		fields = append([]zap.Field{zap.String(consts.KeyTraceID, traceID)}, fields...)
	}
	switch level {
	case zapcore.DebugLevel:
		l.logger.Debug(msg, fields...)
	case zapcore.InfoLevel:
		l.logger.Info(msg, fields...)
	case zapcore.WarnLevel:
		l.logger.Warn(msg, fields...)
	case zapcore.ErrorLevel:
		l.logger.Error(msg, fields...)
	}
}

func hasTraceField(fields []zap.Field) bool {
	for _, f := range fields {
		if f.Key == consts.KeyTraceID {
			return true
		}
	}
	return false
}

func extractTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() && sc.TraceID().IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// NewRequestID generates a request/trace identifier for contexts with no
// active OTel span.
func NewRequestID() string {
	return uuid.New().String()
}
