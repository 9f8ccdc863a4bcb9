package logger

import (
	"context"
	"log/slog"
)

// shapeHandler is a slog.Handler that renders every record as C1's
// shape-0 level line and hands it to the async sink, instead of formatting
// JSON/text. Attrs beyond msg are folded into the message text, since the
// wire shape carries a single free-form msg field.
type shapeHandler struct {
	level slog.Leveler
	sink  *sink
	attrs []slog.Attr
}

func newShapeHandler(level slog.Leveler, s *sink) *shapeHandler {
	return &shapeHandler{level: level, sink: s}
}

func (h *shapeHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *shapeHandler) Handle(ctx context.Context, r slog.Record) error {
	lc, ok := FromContext(ctx)

	msg := r.Message
	r.Attrs(func(a slog.Attr) bool {
		msg += " " + a.String()
		return true
	})
	for _, a := range h.attrs {
		msg += " " + a.String()
	}

	module, file, line := frameFromPC(r.PC)

	line2 := formatLevel(lc, ok, r.Level.String(), msg, module, file, line)
	h.sink.enqueue([]byte(line2))
	return nil
}

func (h *shapeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &shapeHandler{level: h.level, sink: h.sink, attrs: merged}
}

func (h *shapeHandler) WithGroup(_ string) slog.Handler {
	// The wire shape has no notion of attribute groups; flatten.
	return h
}
