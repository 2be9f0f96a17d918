package log

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/YuminosukeSato/sipredict/pkg/errors"
)

const (
	ErrAttrKey = "error"

	FormatJSON    = "json"
	FormatConsole = "console"
	// FormatCloud emits Cloud Logging style JSON via log/slog.
	FormatCloud = "cloud"
)

// SetupLogger configures the global provider.
// format is one of "json", "console" or "cloud"; w defaults to stderr.
func SetupLogger(level, format string, w io.Writer) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if w == nil {
		w = os.Stderr
	}

	switch strings.ToLower(format) {
	case "", FormatJSON:
		SetProvider(NewZerologProvider(w, lvl))
	case FormatConsole:
		SetProvider(NewZerologProvider(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}, lvl))
	case FormatCloud:
		SetProvider(newCloudProvider(w, lvl))
	default:
		return perrors.NewValidationError("log.format", "must be one of json, console, cloud", format)
	}
	return nil
}

func newCloudProvider(w io.Writer, level Level) LoggerProvider {
	lv := new(slog.LevelVar)
	lv.Set(slog.Level(level))
	ops := slog.HandlerOptions{
		AddSource: true,
		Level:     lv,
		// Replace attributes to convert to CloudLogging format.
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				attr.Key = "severity"
			case slog.MessageKey:
				attr.Key = "message"
			case slog.SourceKey:
				attr.Key = "logging.googleapis.com/sourceLocation"
			}
			return attr
		},
	}
	handler := WrapByErrFmtHandler(slog.NewJSONHandler(w, &ops))
	return &slogProvider{level: lv, logger: slog.New(handler)}
}

// ParseLevel converts "debug", "info", "warn" or "error" into a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, perrors.NewValidationError("log.level", "must be one of debug, info, warn, error", level)
	}
}

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}
