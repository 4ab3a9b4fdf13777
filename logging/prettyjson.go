package logging

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// PrettyJSONHandler writes each record as an indented JSON object. It is
// meant for reading rollout logs by eye, not for throughput.
type PrettyJSONHandler struct {
	w         io.Writer
	mu        *sync.Mutex
	level     slog.Leveler
	addSource bool

	attrs  []boundAttr
	groups []string
}

// boundAttr remembers the groups that were open when WithAttrs was called.
type boundAttr struct {
	groups []string
	attr   slog.Attr
}

func NewPrettyJSONHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyJSONHandler {
	h := &PrettyJSONHandler{w: w, mu: &sync.Mutex{}, level: slog.LevelInfo}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.addSource = opts.AddSource
	}
	return h
}

func (h *PrettyJSONHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *PrettyJSONHandler) Handle(_ context.Context, r slog.Record) error {
	when := r.Time
	if when.IsZero() {
		when = time.Now()
	}
	out := map[string]any{
		slog.TimeKey:    when.Format(time.RFC3339Nano),
		slog.LevelKey:   r.Level.String(),
		slog.MessageKey: r.Message,
	}
	if h.addSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			out[slog.SourceKey] = filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
		}
	}

	for _, b := range h.attrs {
		putAttr(groupMap(out, b.groups), b.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		putAttr(groupMap(out, h.groups), a)
		return true
	})

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		b, _ = json.Marshal(map[string]string{
			slog.TimeKey:    when.Format(time.RFC3339Nano),
			slog.LevelKey:   r.Level.String(),
			slog.MessageKey: r.Message,
			"marshal_error": err.Error(),
		})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(append(b, '\n'))
	return err
}

func (h *PrettyJSONHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]boundAttr(nil), h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, boundAttr{groups: h.groups, attr: a})
	}
	return &clone
}

func (h *PrettyJSONHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func groupMap(root map[string]any, groups []string) map[string]any {
	dst := root
	for _, g := range groups {
		m, ok := dst[g].(map[string]any)
		if !ok {
			m = map[string]any{}
			dst[g] = m
		}
		dst = m
	}
	return dst
}

func putAttr(dst map[string]any, a slog.Attr) {
	v := a.Value.Resolve()
	if a.Key == "" && v.Kind() != slog.KindGroup {
		return
	}
	switch v.Kind() {
	case slog.KindGroup:
		target := dst
		if a.Key != "" {
			child := map[string]any{}
			dst[a.Key] = child
			target = child
		}
		for _, ga := range v.Group() {
			putAttr(target, ga)
		}
	case slog.KindDuration:
		dst[a.Key] = v.Duration().String()
	case slog.KindTime:
		dst[a.Key] = v.Time().Format(time.RFC3339Nano)
	default:
		dst[a.Key] = v.Any()
	}
}
