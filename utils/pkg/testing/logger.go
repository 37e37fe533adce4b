package calctesting

import (
	"log/slog"
	"os"

	"github.com/malbeclabs/slack-calculator/utils/pkg/logger"
)

// NewLogger returns a logger for tests. Output is suppressed below error
// level unless DEBUG is set to 1 (info) or 2 (debug).
func NewLogger() *slog.Logger {
	switch os.Getenv("DEBUG") {
	case "2":
		return logger.NewWithFormat(os.Stderr, logger.FormatText, true)
	case "1":
		return logger.NewWithFormat(os.Stderr, logger.FormatText, false)
	default:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}
}
