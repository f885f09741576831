package utils

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey string

// ContextKeyPeer carries the remote peer a log line is about.
const ContextKeyPeer contextKey = "peer"

// Logger configuration constants
const (
	DefaultLogLevel    = "info"
	DefaultLogFileSize = 100 // MB
	DefaultMaxBackups  = 10
	DefaultMaxAge      = 30 // days
)

var sensitiveFieldNames = map[string]bool{
	"password":    true,
	"secret":      true,
	"token":       true,
	"private_key": true,
	"seed":        true,
	"id_seed":     true,
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level       string
	Development bool

	// Output settings
	OutputPath string

	// Rotation settings (used when OutputPath is set)
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool

	// Sampling keeps a dropped-message storm from flooding the sink:
	// first 100 entries per second per message, then every 10th.
	EnableSampling bool

	EnableSanitization bool

	NodeID    string
	Component string

	DefaultFields map[string]interface{}
}

// DefaultLogConfig returns production defaults read from the environment.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:              getEnvOrDefault("LOG_LEVEL", DefaultLogLevel),
		Development:        getEnvOrDefault("ENVIRONMENT", "production") == "development",
		OutputPath:         getEnvOrDefault("LOG_FILE_PATH", ""),
		MaxSize:            getEnvAsIntOrDefault("LOG_MAX_SIZE", DefaultLogFileSize),
		MaxBackups:         getEnvAsIntOrDefault("LOG_MAX_BACKUPS", DefaultMaxBackups),
		MaxAge:             getEnvAsIntOrDefault("LOG_MAX_AGE", DefaultMaxAge),
		Compress:           getEnvAsBoolOrDefault("LOG_COMPRESS", true),
		EnableSampling:     true,
		EnableSanitization: true,
		NodeID:             getEnvOrDefault("NODE_ID", ""),
		Component:          getEnvOrDefault("SERVICE_NAME", "cybermesh-node"),
	}
}

// Logger provides structured logging on top of zap.
type Logger struct {
	base     *zap.Logger
	sanitize bool

	shutdownOnce *sync.Once
}

// NewLogger creates a new logger instance
func NewLogger(config *LogConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLogConfig()
	}

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	encoderConfig := zapcore.EncoderConfig{
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
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	core := buildCore(config, encoderConfig, atomicLevel)
	if config.EnableSampling {
		core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 10)
	}

	zapLogger := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	if config.NodeID != "" {
		zapLogger = zapLogger.With(zap.String("node_id", config.NodeID))
	}
	if config.Component != "" {
		zapLogger = zapLogger.With(zap.String("component", config.Component))
	}
	if len(config.DefaultFields) > 0 {
		fields := make([]zap.Field, 0, len(config.DefaultFields))
		for k, v := range config.DefaultFields {
			fields = append(fields, zap.Any(k, v))
		}
		zapLogger = zapLogger.With(fields...)
	}

	return &Logger{
		base:         zapLogger,
		sanitize:     config.EnableSanitization,
		shutdownOnce: new(sync.Once),
	}, nil
}

// NewLoggerFromCore wraps an existing zap core. Tests pair it with
// zaptest/observer to assert on emitted entries.
func NewLoggerFromCore(core zapcore.Core) *Logger {
	return &Logger{
		base:         zap.New(core),
		shutdownOnce: new(sync.Once),
	}
}

// WithContext creates a new logger with context fields
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	fields := extractContextFields(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.derive(l.base.With(fields...))
}

// Named adds a sub-scope to the logger name.
func (l *Logger) Named(name string) *Logger {
	return l.derive(l.base.Named(name))
}

func (l *Logger) derive(base *zap.Logger) *Logger {
	return &Logger{
		base:         base,
		sanitize:     l.sanitize,
		shutdownOnce: l.shutdownOnce,
	}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.base.Debug(msg, l.sanitizeFields(fields)...)
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.base.Info(msg, l.sanitizeFields(fields)...)
}

func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.base.Warn(msg, l.sanitizeFields(fields)...)
}

func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.base.Error(msg, l.sanitizeFields(fields)...)
}

func (l *Logger) Fatal(msg string, fields ...zap.Field) {
	l.base.Fatal(msg, l.sanitizeFields(fields)...)
}

func (l *Logger) Shutdown() error {
	var err error
	l.shutdownOnce.Do(func() {
		err = l.base.Sync()
	})
	return err
}

func buildCore(config *LogConfig, encoderConfig zapcore.EncoderConfig, level zap.AtomicLevel) zapcore.Core {
	var encoder zapcore.Encoder
	if config.Development {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	if config.OutputPath != "" {
		writer := &lumberjack.Logger{
			Filename:   config.OutputPath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		return zapcore.NewCore(encoder, zapcore.AddSync(writer), level)
	}

	return zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
}

func extractContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 1)
	if val := ctx.Value(ContextKeyPeer); val != nil {
		fields = append(fields, zap.String("peer", fmt.Sprintf("%v", val)))
	}
	return fields
}

func (l *Logger) sanitizeFields(fields []zap.Field) []zap.Field {
	if !l.sanitize || len(fields) == 0 {
		return fields
	}
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		if isSensitiveField(field.Key) {
			result = append(result, zap.String(field.Key, "[REDACTED]"))
			continue
		}
		result = append(result, field)
	}
	return result
}

func isSensitiveField(key string) bool {
	lower := strings.ToLower(key)
	return sensitiveFieldNames[lower] || strings.Contains(lower, "secret") ||
		strings.Contains(lower, "password")
}

func ContextWithPeer(ctx context.Context, peer string) context.Context {
	return context.WithValue(ctx, ContextKeyPeer, peer)
}

// Zap field helpers

func ZapString(key, val string) zap.Field                 { return zap.String(key, val) }
func ZapInt(key string, val int) zap.Field                { return zap.Int(key, val) }
func ZapUint64(key string, val uint64) zap.Field          { return zap.Uint64(key, val) }
func ZapFloat64(key string, val float64) zap.Field        { return zap.Float64(key, val) }
func ZapBool(key string, val bool) zap.Field              { return zap.Bool(key, val) }
func ZapError(err error) zap.Field                        { return zap.Error(err) }
func ZapDuration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }
func ZapAny(key string, val interface{}) zap.Field        { return zap.Any(key, val) }
func ZapStringer(key string, val fmt.Stringer) zap.Field  { return zap.Stringer(key, val) }
func ZapStringArray(key string, val []string) zap.Field   { return zap.Strings(key, val) }

// Global logger management

var (
	globalLogger     *Logger
	globalLoggerOnce sync.Once
	globalLoggerMu   sync.RWMutex
)

func GetLogger() *Logger {
	globalLoggerOnce.Do(func() {
		logger, err := NewLogger(DefaultLogConfig())
		if err != nil {
			zapLogger, _ := zap.NewProduction()
			logger = &Logger{
				base:         zapLogger,
				shutdownOnce: new(sync.Once),
			}
		}
		globalLoggerMu.Lock()
		if globalLogger == nil {
			globalLogger = logger
		}
		globalLoggerMu.Unlock()
	})
	globalLoggerMu.RLock()
	defer globalLoggerMu.RUnlock()
	return globalLogger
}

func SetGlobalLogger(logger *Logger) {
	globalLoggerOnce.Do(func() {})
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = logger
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
