package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger instantiate zerolog configuration.
// The level is driven by RAFTER_LOG_LEVEL and defaults to info,
// RAFTER_LOG_FORMAT_JSON switches the console writer off
func NewLogger() *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.TrimSpace(os.Getenv("RAFTER_LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output = zerolog.New(os.Stdout)
	if strings.TrimSpace(os.Getenv("RAFTER_LOG_FORMAT_JSON")) == "" {
		console := zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true, TimeFormat: time.RFC3339}
		console.FormatLevel = func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %s |", i))
		}
		output = zerolog.New(console)
	}

	logger := output.With().Timestamp().Caller().Logger()
	return &logger
}
