package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"mercator-hq/keyrelay/pkg/config"
)

// LogFormat is the output encoding.
type LogFormat string

const (
	// FormatJSON writes one JSON object per record.
	FormatJSON LogFormat = "json"
	// FormatText writes logfmt-style key=value records.
	FormatText LogFormat = "text"
)

// Config controls logger construction.
type Config struct {
	// Level is the minimum level ("debug", "info", "warn", "error").
	Level string

	// Format is "json" or "text".
	Format string

	// AddSource includes file:line in records.
	AddSource bool

	// RedactSecrets masks API keys in messages and attributes.
	RedactSecrets bool

	// RedactPatterns are extra regular expressions to mask.
	RedactPatterns []config.RedactPattern

	// Writer defaults to os.Stderr.
	Writer io.Writer

	// LevelVar, if set, receives Level and controls the logger, so the
	// level can be changed later with SetLevel.
	LevelVar *slog.LevelVar
}

// FromConfig maps the logging section of the application config.
func FromConfig(cfg *config.LoggingConfig) Config {
	return Config{
		Level:          cfg.Level,
		Format:         cfg.Format,
		AddSource:      cfg.AddSource,
		RedactSecrets:  cfg.RedactSecrets,
		RedactPatterns: cfg.RedactPatterns,
	}
}

// New builds a logger. Records carry the request ID from their context, and
// secrets are masked when RedactSecrets is set.
func New(cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}

	var leveler slog.Leveler = level
	if cfg.LevelVar != nil {
		cfg.LevelVar.Set(level)
		leveler = cfg.LevelVar
	}

	opts := &slog.HandlerOptions{Level: leveler, AddSource: cfg.AddSource}
	var handler slog.Handler
	switch format {
	case FormatText:
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	var redactor *Redactor
	if cfg.RedactSecrets {
		redactor = NewRedactor(cfg.RedactPatterns)
	}

	return slog.New(&contextHandler{next: handler, redactor: redactor}), nil
}

// Setup builds a logger and installs it as the slog default, so every
// component logger created with slog.Default().With(...) inherits it.
func Setup(cfg Config) (*slog.Logger, error) {
	logger, err := New(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

// SetLevel parses level and applies it to v.
func SetLevel(v *slog.LevelVar, level string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	v.Set(l)
	return nil
}

// contextHandler decorates records with context fields and redacts them.
type contextHandler struct {
	next     slog.Handler
	redactor *Redactor
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	if h.redactor != nil {
		out.Message = h.redactor.RedactString(r.Message)
	}

	out.AddAttrs(contextAttrs(ctx)...)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redact(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redact(a)
	}
	return &contextHandler{next: h.next.WithAttrs(redacted), redactor: h.redactor}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name), redactor: h.redactor}
}

func (h *contextHandler) redact(a slog.Attr) slog.Attr {
	if h.redactor == nil {
		return a
	}
	return h.redactor.RedactAttr(a)
}

// ParseLevel parses a level name. The empty string is info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

func parseFormat(format string) (LogFormat, error) {
	switch strings.ToLower(format) {
	case "json", "":
		return FormatJSON, nil
	case "text", "console":
		return FormatText, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format: %s", format)
	}
}
