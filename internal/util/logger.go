package util

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// Init builds the process-wide logger. The first call wins; later calls are
// no-ops, so the factory and tests can both trigger initialization safely.
func Init(environment, level, format string) {
	once.Do(func() {
		cfg := baseConfig(environment)
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
		if format == "console" {
			cfg.Encoding = "console"
		} else {
			cfg.Encoding = "json"
		}
		// Container runtimes collect stdout; no file sinks.
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}

		built, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
		if err != nil {
			panic("logger init: " + err.Error())
		}
		logger = built
		zap.ReplaceGlobals(built)
	})
}

func baseConfig(environment string) zap.Config {
	if environment == "production" {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.DisableStacktrace = true
		cfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
		return cfg
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

func parseLevel(level string) zapcore.Level {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return parsed
}

func get() *zap.Logger {
	if logger == nil {
		Init("production", "info", "json")
	}
	return logger
}

// Sync flushes buffered entries; call it on shutdown.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}

func Debug(msg string, fields ...zap.Field) { get().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { get().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { get().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { get().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { get().Fatal(msg, fields...) }

// Field constructors mirror zap's so call sites only import util.
func String(key, value string) zap.Field { return zap.String(key, value) }
func Bool(key string, value bool) zap.Field { return zap.Bool(key, value) }
func Int(key string, value int) zap.Field { return zap.Int(key, value) }
func Any(key string, value interface{}) zap.Field { return zap.Any(key, value) }
func Duration(key string, d time.Duration) zap.Field { return zap.Duration(key, d) }

// ErrorField wraps an error; the name avoids colliding with Error above.
func ErrorField(err error) zap.Field { return zap.Error(err) }
