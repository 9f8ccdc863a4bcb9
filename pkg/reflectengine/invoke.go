package reflectengine

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/kadds/job-judge/pkg/apperror"
)

// Invoke performs a unary call: requestJSON is validated and encoded against
// method's request schema, sent over the wire, and the response is decoded
// back to JSON against the response schema. Streaming methods are rejected.
func (e *Engine) Invoke(ctx context.Context, service, method, requestJSON string) (string, error) {
	md, err := e.resolveMethod(ctx, service, method)
	if err != nil {
		return "", err
	}
	if md.IsStreamingClient() || md.IsStreamingServer() {
		return "", apperror.New(apperror.CodeUnimplemented, "reflection invoke supports unary methods only").WithField(method)
	}

	reqMsg := dynamicpb.NewMessage(md.Input())
	if err := protojson.Unmarshal([]byte(requestJSON), reqMsg); err != nil {
		return "", typeMismatch("$", err)
	}
	if err := validateRequired(reqMsg); err != nil {
		return "", err
	}

	respMsg := dynamicpb.NewMessage(md.Output())
	fullMethod := fmt.Sprintf("/%s/%s", service, method)
	if err := e.conn.Invoke(ctx, fullMethod, reqMsg, respMsg); err != nil {
		return "", connectionFailed(err)
	}

	out, err := protojson.Marshal(respMsg)
	if err != nil {
		return "", apperror.Wrap(err, apperror.CodeInternal, "encode response to JSON")
	}
	return string(out), nil
}

// validateRequired walks msg's top-level fields looking for a required
// field (proto2-style, label == LABEL_REQUIRED) the caller never set.
// Unary judge-facing messages in scope here are proto3 and rarely declare
// required fields, but the schema graph still carries the label so this
// check honors it when present.
func validateRequired(msg protoreflect.Message) error {
	fields := msg.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.Cardinality() == protoreflect.Required && !msg.Has(fd) {
			return apperror.New(apperror.CodeRequired, "required field missing").WithField(fd.JSONName())
		}
	}
	return nil
}

func typeMismatch(path string, cause error) error {
	return apperror.Wrap(cause, apperror.CodeTypeMismatch, "request JSON does not match the method's schema").WithField(path)
}
