package observability

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger on top of zerolog's structured JSON
// event builder.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger constructs a ZerologLogger writing to w. level
// controls the minimum level emitted ("debug", "info", "warn", "error");
// an unrecognized level falls back to info.
func NewZerologLogger(w io.Writer, level string) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	logger := zerolog.New(w).Level(parsed).With().Timestamp().Logger()
	return &ZerologLogger{logger: logger}
}

// Info logs an info-level event with the given fields.
func (l *ZerologLogger) Info(msg string, fields map[string]any) {
	l.log(l.logger.Info(), msg, fields)
}

// Error logs an error-level event with the given fields.
func (l *ZerologLogger) Error(msg string, fields map[string]any) {
	l.log(l.logger.Error(), msg, fields)
}

func (l *ZerologLogger) log(event *zerolog.Event, msg string, fields map[string]any) {
	if l == nil || event == nil {
		return
	}
	for key, value := range fields {
		event = event.Interface(key, value)
	}
	event.Msg(msg)
}
