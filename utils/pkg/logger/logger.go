package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type Options struct {
	Verbose bool
	Format  Format
	Output  io.Writer
}

func New(verbose bool) *slog.Logger {
	return NewWithOptions(Options{Verbose: verbose})
}

// NewWithOptions builds a logger with UTC millisecond timestamps. Text output
// is colorized with tint; JSON output is meant for log shippers.
func NewWithOptions(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}

	if opts.Format == FormatJSON {
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level:       logLevel,
			ReplaceAttr: replaceAttr,
		}))
	}
	return slog.New(tint.NewHandler(out, &tint.Options{
		Level:       logLevel,
		ReplaceAttr: replaceAttr,
	}))
}

// ParseFormat accepts "text", "json" or the empty string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q", s)
	}
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
	}
	if s, ok := a.Value.Any().(string); ok && s == "" {
		return slog.Attr{}
	}
	return a
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
