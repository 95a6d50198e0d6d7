package logger

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log   *zap.Logger
	Sugar *zap.SugaredLogger
)

func init() {
	if err := os.MkdirAll("logs", 0755); err != nil {
		panic(err)
	}

	file, err := os.OpenFile("logs/pytorrent.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		panic(err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006/01/02 15:04:05"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	// Console encoder keeps the log file human-readable; switch to
	// NewJSONEncoder if the logs ever need machine parsing.
	fileEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	level := zapcore.InfoLevel
	levelStr := strings.TrimSpace(os.Getenv("PYTORRENT_LOG_LEVEL"))
	if levelStr == "" {
		levelStr = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	}
	if levelStr != "" {
		_ = level.UnmarshalText([]byte(strings.ToLower(levelStr)))
	}

	core := zapcore.NewCore(
		fileEncoder,
		zapcore.AddSync(file),
		level,
	)

	Log = zap.New(core, zap.AddCaller())
	Sugar = Log.Sugar()
}
