// Package logger wraps zap behind package-level helpers so callers do not
// carry a logger handle through every constructor.
package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	global *zap.Logger
	once   sync.Once
)

type Config struct {
	Level      string
	OutputPath string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func Init(cfg Config) {
	once.Do(func() {
		level := zapcore.InfoLevel
		switch cfg.Level {
		case "debug":
			level = zapcore.DebugLevel
		case "warn":
			level = zapcore.WarnLevel
		case "error":
			level = zapcore.ErrorLevel
		}

		encoderConfig := zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.RFC3339TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}

		consoleCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			level,
		)

		core := consoleCore
		if cfg.OutputPath != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o755); err != nil {
				panic(err)
			}
			fileWriter := zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.OutputPath,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
			})
			fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), fileWriter, level)
			core = zapcore.NewTee(consoleCore, fileCore)
		}

		global = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	})
}

func Debug(msg string, fields ...zap.Field) {
	if global != nil {
		global.Debug(msg, fields...)
	}
}

func Info(msg string, fields ...zap.Field) {
	if global != nil {
		global.Info(msg, fields...)
	}
}

func Warn(msg string, fields ...zap.Field) {
	if global != nil {
		global.Warn(msg, fields...)
	}
}

func Error(msg string, fields ...zap.Field) {
	if global != nil {
		global.Error(msg, fields...)
	}
}

func Fatal(msg string, fields ...zap.Field) {
	if global != nil {
		global.Fatal(msg, fields...)
	}
}

func String(key, val string) zap.Field          { return zap.String(key, val) }
func Int(key string, val int) zap.Field         { return zap.Int(key, val) }
func Bool(key string, val bool) zap.Field       { return zap.Bool(key, val) }
func ErrorField(err error) zap.Field            { return zap.Error(err) }
func Any(key string, val interface{}) zap.Field { return zap.Any(key, val) }
