package httpbridge

import (
	"net/http"
	"time"

	"github.com/kadds/job-judge/pkg/logger"
)

// statusRecorder captures the status code and body size a handler wrote, so
// they can be folded into the access log line after ServeHTTP returns.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// AccessLogMiddleware emits a shape-1 access record for every request via
// logger.LogAccess, using whatever log context a prior interceptor attached.
func AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _ := logger.NewRootContext(r.Context(), r.URL.Path, "")
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		next.ServeHTTP(rec, r)

		cost := time.Since(start).Milliseconds()
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		logger.LogAccess(r.Context(), cost, r.Method, r.URL.Path, r.RemoteAddr, status, rec.bytes)
	})
}
