// Package logging provides the slog setup for fpreduce and the narrow Emitter
// sink through which the reduction stages report progress.
package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Emitter accepts free-text progress and diagnostic messages
type Emitter interface {
	Emit(message string)
}

// Discard is an Emitter that drops every message
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(string) {}

// New returns a slog.Logger with the provided level string (info, debug, warn, error).
// format may be "json", "text" or "traditional".
func New(level string, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is New writing to w
func NewWithWriter(w io.Writer, level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = &TraditionalHandler{
			logger: log.New(w, "", log.LstdFlags),
			level:  opts.Level.Level(),
		}
	}
	return slog.New(handler)
}

// TraditionalHandler implements slog.Handler with traditional log formatting
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
	attrs  []slog.Attr
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	attrs := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})
	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(attrs, " "))
	}

	// [LEVEL] message
	h.logger.Printf("[%s] %s", strings.ToUpper(r.Level.String()), msg)
	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &TraditionalHandler{logger: h.logger, level: h.level, attrs: merged}
}

func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	// groups are flattened
	return h
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SlogEmitter forwards emitted messages to a slog.Logger at info level
type SlogEmitter struct {
	Logger *slog.Logger
}

func (e SlogEmitter) Emit(message string) {
	if e.Logger == nil {
		return
	}
	e.Logger.Info(message)
}

// Recorder is an Emitter that keeps every message, for tests and diagnostics
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *Recorder) Emit(message string) {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	r.mu.Unlock()
}

// Messages returns a copy of the recorded messages
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}

// Progress emits "<label> N% done" notices, at most one per 10% step
type Progress struct {
	emitter Emitter
	label   string
	total   int
	last    int
}

// NewProgress creates a progress reporter over total units of work
func NewProgress(emitter Emitter, label string, total int) *Progress {
	if emitter == nil {
		emitter = Discard
	}
	return &Progress{emitter: emitter, label: label, total: total}
}

// Update reports that done units are complete
func (p *Progress) Update(done int) {
	if p.total <= 0 {
		return
	}
	pct := 10 * (done * 10 / p.total)
	if pct > 100 {
		pct = 100
	}
	if pct > p.last {
		p.last = pct
		p.emitter.Emit(fmt.Sprintf("%s %d%% done", p.label, pct))
	}
}

// LogStageStart logs the beginning of a pipeline stage
func LogStageStart(logger *slog.Logger, runID, stage string) {
	logger.Debug("stage started",
		"run", runID,
		"stage", stage,
	)
}

// LogStageComplete logs a finished pipeline stage
func LogStageComplete(logger *slog.Logger, runID, stage string, duration time.Duration, details map[string]any) {
	logger.Info("stage completed",
		"run", runID,
		"stage", stage,
		"duration_ms", duration.Milliseconds(),
		"details", details,
	)
}

// LogStageError logs a failed pipeline stage
func LogStageError(logger *slog.Logger, runID, stage string, duration time.Duration, err error) {
	logger.Error("stage failed",
		"run", runID,
		"stage", stage,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
	)
}
