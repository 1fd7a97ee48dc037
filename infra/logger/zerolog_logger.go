package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

var (
	settingsMu sync.RWMutex
	level      string
	console    bool
)

// Configure sets the level and console output for loggers created
// afterwards. It takes precedence over LOG_LEVEL and APP_ENV.
func Configure(lvl string, consoleOut bool) {
	settingsMu.Lock()
	level = lvl
	console = consoleOut
	settingsMu.Unlock()
}

func settings() (string, bool) {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	lvl, cons := level, console
	if lvl == "" {
		lvl = os.Getenv("LOG_LEVEL")
	}
	if !cons {
		cons = strings.ToLower(os.Getenv("APP_ENV")) == "dev"
	}
	return lvl, cons
}

// NewZerologLogger creates a ZerologLogger writing to stdout. APP_ENV=dev
// switches to the human readable console writer and LOG_LEVEL sets the
// minimum level (debug, info, warn, error). Every entry carries the
// component field.
func NewZerologLogger(component string) Logger {
	return newZerologLogger(os.Stdout, component)
}

func newZerologLogger(out io.Writer, component string) *ZerologLogger {
	lvlName, cons := settings()
	if cons {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	z := zerolog.New(out).With().Timestamp().Str("component", component).Logger()
	if lvl, err := zerolog.ParseLevel(strings.ToLower(lvlName)); err == nil && lvl != zerolog.NoLevel {
		z = z.Level(lvl)
	}
	return &ZerologLogger{log: z}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	l.log.Debug().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
