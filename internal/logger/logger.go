// Package logger provides structured logging for development and production environments.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	formatJSON   = "json"
	formatPretty = "pretty"
)

// ANSI color codes.
const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorGray    = "\033[37m"
	colorBold    = "\033[1m"
	colorDim     = "\033[2m"
)

// Logger embeds *slog.Logger and adds component and error scoping.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Writer      io.Writer
	Format      string // "json" or "pretty"; derived from Environment when empty
	Environment string
	Level       slog.Level
	AddSource   bool
}

// New creates a logger. Production defaults to JSON, everything else to the pretty handler.
func New(cfg Config) *Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:       cfg.Level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: shortSource,
	}

	if cfg.format() == formatJSON {
		return &Logger{Logger: slog.New(slog.NewJSONHandler(w, opts))}
	}
	return &Logger{Logger: slog.New(NewPrettyHandler(w, opts))}
}

func (c Config) format() string {
	switch {
	case c.Format != "":
		return c.Format
	case c.Environment == "production":
		return formatJSON
	default:
		return formatPretty
	}
}

// shortSource trims source file paths to their base name.
func shortSource(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	if src, ok := a.Value.Any().(*slog.Source); ok {
		src.File = filepath.Base(src.File)
	}
	return a
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// ParseLevel converts a string to slog.Level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// WithComponent tags every record with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.With(slog.String("component", name))}
}

// WithError adds an error attribute to the logger.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.With(slog.String("error", err.Error()))}
}

type ctxKey struct{}

// NewContext returns a context carrying l.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request-scoped logger, or fallback when none is set.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// PrettyHandler writes colored single-line records for terminals:
// "15:04:05 INF [file.go:42] message key=value".
type PrettyHandler struct {
	opts   slog.HandlerOptions
	out    *lockedWriter
	attrs  []slog.Attr
	prefix string // dotted group path applied to attribute keys
}

// lockedWriter serializes writes from handlers that share one destination.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) write(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.w.Write(p)
	return err
}

// NewPrettyHandler creates a new pretty handler.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	h := &PrettyHandler{out: &lockedWriter{w: w}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

// Enabled reports whether the handler handles records at the given level.
func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.opts.Level == nil {
		return level >= slog.LevelInfo
	}
	return level >= h.opts.Level.Level()
}

// Handle writes r as one line.
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.Grow(256)

	paint(&b, colorDim, r.Time.Format("15:04:05"))
	b.WriteByte(' ')

	style := styleFor(r.Level)
	paint(&b, style.color, style.tag)
	b.WriteByte(' ')

	if h.opts.AddSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		paint(&b, colorDim, filepath.Base(frame.File)+":"+strconv.Itoa(frame.Line))
		b.WriteByte(' ')
	}

	paint(&b, colorBold, r.Message)

	pairs := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		pairs = append(pairs, a.Key+"="+formatValue(a.Value))
	}
	r.Attrs(func(a slog.Attr) bool {
		pairs = append(pairs, h.prefix+a.Key+"="+formatValue(a.Value))
		return true
	})
	if len(pairs) > 0 {
		b.WriteByte(' ')
		paint(&b, colorCyan, strings.Join(pairs, " "))
	}

	b.WriteByte('\n')
	return h.out.write([]byte(b.String()))
}

// WithAttrs returns a new handler with additional attributes.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		next.attrs = append(next.attrs, a)
	}
	return next
}

// WithGroup returns a new handler whose attribute keys are qualified by name.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.prefix += name + "."
	return next
}

func (h *PrettyHandler) clone() *PrettyHandler {
	return &PrettyHandler{
		opts:   h.opts,
		out:    h.out,
		attrs:  slices.Clone(h.attrs),
		prefix: h.prefix,
	}
}

func paint(b *strings.Builder, color, text string) {
	b.WriteString(color)
	b.WriteString(text)
	b.WriteString(colorReset)
}

type levelStyle struct {
	tag   string
	color string
}

var levelStyles = map[slog.Level]levelStyle{
	slog.LevelDebug: {"DBG", colorMagenta},
	slog.LevelInfo:  {"INF", colorGreen},
	slog.LevelWarn:  {"WRN", colorYellow},
	slog.LevelError: {"ERR", colorRed},
}

func styleFor(level slog.Level) levelStyle {
	if s, ok := levelStyles[level]; ok {
		return s
	}
	return levelStyle{level.String(), colorGray}
}

func formatValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\"=") {
			return strconv.Quote(s)
		}
		return s
	default:
		return v.String()
	}
}
