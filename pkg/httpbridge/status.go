// Package httpbridge bridges gRPC-style service errors onto plain HTTP: a
// status code mapping for error responses and a TOKEN-header auth gate for
// handlers that front a gRPC service without a generated HTTP gateway.
package httpbridge

import (
	"encoding/json"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kadds/job-judge/pkg/apperror"
)

// StatusToHTTP maps a gRPC status code to the HTTP status code the bridge
// reports to browser/CLI clients.
func StatusToHTTP(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.OutOfRange:
		return http.StatusRequestedRangeNotSatisfiable
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// errUnauthenticated builds the *apperror.Error AuthMiddleware writes on a
// missing or invalid TOKEN header.
func errUnauthenticated(msg string) error {
	return apperror.New(apperror.CodeUnauthenticated, msg)
}

// errorBody is the JSON shape written for a bridged error.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError converts err (an *apperror.Error, a gRPC status error, or a
// plain error) into an HTTP response via StatusToHTTP and writes a small
// JSON error body.
func WriteError(w http.ResponseWriter, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	st, _ := status.FromError(apperror.ToGRPC(err))
	code := string(apperror.Code(err))
	if code == string(apperror.CodeInternal) {
		// Not an *apperror.Error; fall back to the gRPC code's name.
		code = st.Code().String()
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(StatusToHTTP(st.Code()))
	_ = json.NewEncoder(w).Encode(errorBody{Code: code, Message: st.Message()})
}
