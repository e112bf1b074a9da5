package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// SetupLogger returns the base text logger for env. local writes debug to
// stdout, dev writes debug to logPath, prod writes info to logPath.
func SetupLogger(env, logPath string) (*slog.Logger, error) {
	var out io.Writer = os.Stdout
	level := slog.LevelDebug

	switch env {
	case envLocal:
	case envDev, envProd:
		logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		out = logFile
		if env == envProd {
			level = slog.LevelInfo
		}
	default:
		return nil, fmt.Errorf("invalid environment: %s", env)
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), nil
}
