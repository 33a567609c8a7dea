package logging

import (
	"context"
	"log/slog"
	"strings"
)

// BridgeWriter turns standard-library log output, such as
// http.Server.ErrorLog, into slog records under one component.
type BridgeWriter struct {
	component string
}

// NewBridgeWriter creates a writer that logs under component.
func NewBridgeWriter(component string) *BridgeWriter {
	return &BridgeWriter{component: component}
}

// Write logs p as one record. The first line is the message; any further
// lines (panic stacks) go into "detail". A "http: " prefix is moved into
// the "source" attribute.
func (bw *BridgeWriter) Write(p []byte) (int, error) {
	text := strings.TrimSpace(string(p))
	if text == "" {
		return len(p), nil
	}
	msg, detail, _ := strings.Cut(text, "\n")

	attrs := []slog.Attr{slog.String("component", bw.component)}
	if rest, ok := strings.CutPrefix(msg, "http: "); ok {
		msg = rest
		attrs = append(attrs, slog.String("source", "net/http"))
	}
	if detail != "" {
		attrs = append(attrs, slog.String("detail", detail))
	}
	Logger().LogAttrs(context.Background(), bridgeLevel(msg), msg, attrs...)
	return len(p), nil
}

func bridgeLevel(msg string) slog.Level {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "panic"):
		return slog.LevelError
	case strings.Contains(lower, "error"),
		strings.Contains(lower, "failed"),
		strings.Contains(lower, "timeout"):
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
