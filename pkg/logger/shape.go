package logger

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// formatLevel renders "0 vid ts tid server level msg [module:file:line:col]".
func formatLevel(lc LogContext, hasCtx bool, level, msg, module, file string, line int) string {
	vid, tid, server := unknown, unknown, unknown
	if hasCtx {
		vid = orUnknown(lc.RequestVersion)
		tid = orUnknown(lc.TraceID)
		server = orUnknown(lc.ServerName)
	}
	return fmt.Sprintf("0 %s %d %s %s %s %s [%s:%s:%d:%d]",
		vid, nowMillis(), tid, server, level, msg, module, file, line, 0)
}

// formatAccess renders "1 vid ts tid nid server cost method url peer status bytes".
func formatAccess(lc LogContext, hasCtx bool, cost int64, method, url, peer string, status, bytes int) string {
	vid, tid, nid, server := unknown, unknown, unknown, unknown
	if hasCtx {
		vid = orUnknown(lc.RequestVersion)
		tid = orUnknown(lc.TraceID)
		nid = orUnknown(lc.SpanID)
		server = orUnknown(lc.ServerName)
	}
	return fmt.Sprintf("1 %s %d %s %s %s %d %s %s %s %d %d",
		vid, nowMillis(), tid, nid, server, cost, method, url, peer, status, bytes)
}

// LogAccess emits a shape-1 access record for one completed request, using
// whatever LogContext is attached to ctx (UNKNOWN fields if none is).
func LogAccess(ctx context.Context, cost int64, method, url, peer string, status, bytes int) {
	if globalSink == nil {
		return
	}
	lc, ok := FromContext(ctx)
	line := formatAccess(lc, ok, cost, method, url, peer, status, bytes)
	globalSink.enqueue([]byte(line))
}

// frameFromPC returns the calling package's last path segment and base
// filename for the "[module:file:line:col]" suffix, given a slog.Record's
// PC. Go's runtime does not track source columns, so col is always 0.
func frameFromPC(pc uintptr) (module, file string, line int) {
	if pc == 0 {
		return unknown, unknown, 0
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.File == "" {
		return unknown, unknown, 0
	}
	file = filepath.Base(frame.File)
	line = frame.Line

	name := frame.Function
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.Index(name, "."); idx >= 0 {
		name = name[:idx]
	}
	module = name
	return module, file, line
}
