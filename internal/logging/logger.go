package logging

import (
	"fmt"
	"log/slog"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

type ShutdownFunc func() error

// New builds a slog.Logger backed by zap. format is "console" or "json";
// level is any zap level name. Logs go to stderr so stdout stays reserved for
// reports.
func New(level, format string) (*slog.Logger, ShutdownFunc, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log level: %w", err)
	}

	var logConfig zap.Config
	if format == "json" {
		logConfig = zap.NewProductionConfig()
	} else {
		logConfig = zap.NewDevelopmentConfig()
		logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		logConfig.DisableStacktrace = true
	}
	logConfig.Level = zap.NewAtomicLevelAt(lvl)
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logConfig.OutputPaths = []string{"stderr"}
	logConfig.ErrorOutputPaths = []string{"stderr"}

	zapLog, err := logConfig.Build()
	if err != nil {
		return nil, nil, err
	}
	shutdown := func() error {
		return zapLog.Core().Sync()
	}
	return slog.New(zapslog.NewHandler(zapLog.Core(), zapslog.WithCaller(true))), shutdown, nil
}

func FallbackLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}
