package interceptors

import (
	"context"
	"time"

	"github.com/kadds/job-judge/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor starts a new root log context for every request and
// logs the call's outcome tagged with its trace id. A trace id sent by a peer
// in incoming metadata is not picked up.
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, lc := logger.NewRootContext(ctx, info.FullMethod, "")
		start := time.Now()

		resp, err := handler(ctx, req)

		duration := time.Since(start)

		st, _ := status.FromError(err)
		code := st.Code().String()

		if err != nil {
			logger.Log.Error("gRPC request failed",
				"method", info.FullMethod,
				"trace_id", lc.TraceID,
				"duration_ms", duration.Milliseconds(),
				"code", code,
				"error", err.Error(),
			)
		} else {
			logger.Log.Info("gRPC request completed",
				"method", info.FullMethod,
				"trace_id", lc.TraceID,
				"duration_ms", duration.Milliseconds(),
				"code", code,
			)
		}

		return resp, err
	}
}

// StreamLoggingInterceptor is LoggingInterceptor's streaming-call
// counterpart: one log context per stream, held for its whole lifetime.
func StreamLoggingInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, lc := logger.NewRootContext(ss.Context(), info.FullMethod, "")
		ss = &loggingServerStream{ServerStream: ss, ctx: ctx}
		start := time.Now()

		err := handler(srv, ss)

		duration := time.Since(start)

		if err != nil {
			logger.Log.Error("gRPC stream failed",
				"method", info.FullMethod,
				"trace_id", lc.TraceID,
				"duration_ms", duration.Milliseconds(),
				"error", err.Error(),
			)
		} else {
			logger.Log.Info("gRPC stream completed",
				"method", info.FullMethod,
				"trace_id", lc.TraceID,
				"duration_ms", duration.Milliseconds(),
			)
		}

		return err
	}
}

// loggingServerStream overrides Context so downstream handlers see the
// stream's log context instead of the bare incoming one.
type loggingServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *loggingServerStream) Context() context.Context {
	return s.ctx
}
