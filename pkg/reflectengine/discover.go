package reflectengine

import (
	"context"
	"sort"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/kadds/job-judge/pkg/apperror"
)

// Engine issues standard gRPC reflection requests against one connection
// and resolves the responses into the schema graph types in schema.go.
type Engine struct {
	conn *grpc.ClientConn
}

// New wraps an established connection to the target instance. The caller
// owns conn's lifecycle.
func New(conn *grpc.ClientConn) *Engine {
	return &Engine{conn: conn}
}

// ListServices returns every service the instance exposes, excluding those
// whose names start with "grpc." (reflection, health and the like).
func (e *Engine) ListServices(ctx context.Context) ([]string, error) {
	stream, err := grpc_reflection_v1.NewServerReflectionClient(e.conn).ServerReflectionInfo(ctx)
	if err != nil {
		return nil, connectionFailed(err)
	}
	defer stream.CloseSend()

	req := &grpc_reflection_v1.ServerReflectionRequest{
		MessageRequest: &grpc_reflection_v1.ServerReflectionRequest_ListServices{},
	}
	if err := stream.Send(req); err != nil {
		return nil, connectionFailed(err)
	}
	resp, err := stream.Recv()
	if err != nil {
		return nil, connectionFailed(err)
	}
	list := resp.GetListServicesResponse()
	if list == nil {
		return nil, apperror.New(apperror.CodeInternal, "reflection: list_services returned an unexpected response shape")
	}

	names := make([]string, 0, len(list.GetService()))
	for _, s := range list.GetService() {
		if strings.HasPrefix(s.GetName(), "grpc.") {
			continue
		}
		names = append(names, s.GetName())
	}
	sort.Strings(names)
	return names, nil
}

// ListRPCs returns the method names declared by service.
func (e *Engine) ListRPCs(ctx context.Context, service string) ([]string, error) {
	sd, _, err := e.resolveService(ctx, service)
	if err != nil {
		return nil, err
	}
	methods := sd.Methods()
	names := make([]string, methods.Len())
	for i := 0; i < methods.Len(); i++ {
		names[i] = string(methods.Get(i).Name())
	}
	return names, nil
}

// RPCInfo resolves method's request/response types and the closed schema
// of every type they transitively reference.
func (e *Engine) RPCInfo(ctx context.Context, service, method string) (*RpcInfo, error) {
	md, err := e.resolveMethod(ctx, service, method)
	if err != nil {
		return nil, err
	}

	schema := map[string]CommonType{}
	collectType(md.Input(), schema)
	collectType(md.Output(), schema)

	return &RpcInfo{
		Service:       service,
		Method:        method,
		RequestType:   string(md.Input().FullName()),
		ResponseType:  string(md.Output().FullName()),
		RelatedSchema: schema,
	}, nil
}

// resolveService resolves service's descriptor against a fresh reflection
// stream, closing over every file needed to describe it.
func (e *Engine) resolveService(ctx context.Context, service string) (protoreflect.ServiceDescriptor, *protoregistry.Files, error) {
	client := grpc_reflection_v1.NewServerReflectionClient(e.conn)
	stream, err := client.ServerReflectionInfo(ctx)
	if err != nil {
		return nil, nil, connectionFailed(err)
	}
	defer stream.CloseSend()

	files := &protoregistry.Files{}
	if err := resolveSymbolClosure(stream, service, files); err != nil {
		return nil, nil, err
	}

	desc, err := files.FindDescriptorByName(protoreflect.FullName(service))
	if err != nil {
		return nil, nil, apperror.New(apperror.CodeNotFound, "service not found").WithField(service)
	}
	sd, ok := desc.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, nil, apperror.New(apperror.CodeInvalidArgument, "symbol is not a service").WithField(service)
	}
	return sd, files, nil
}

func (e *Engine) resolveMethod(ctx context.Context, service, method string) (protoreflect.MethodDescriptor, error) {
	sd, _, err := e.resolveService(ctx, service)
	if err != nil {
		return nil, err
	}
	md := sd.Methods().ByName(protoreflect.Name(method))
	if md == nil {
		return nil, apperror.New(apperror.CodeNotFound, "rpc not found").WithField(method)
	}
	return md, nil
}

type reflectionStream = grpc_reflection_v1.ServerReflection_ServerReflectionInfoClient

// resolveSymbolClosure fetches the file containing symbol and every file it
// transitively depends on, registering each into files once its own
// dependencies are already registered. A round that registers nothing means
// a dependency the server never served, which can only be a protocol bug on
// its side, not a cycle in well-formed proto files.
func resolveSymbolClosure(stream reflectionStream, symbol string, files *protoregistry.Files) error {
	fds, err := fetchBySymbol(stream, symbol)
	if err != nil {
		return err
	}
	return registerClosure(stream, fds, files)
}

func registerClosure(stream reflectionStream, seed []*descriptorpb.FileDescriptorProto, files *protoregistry.Files) error {
	pending := map[string]*descriptorpb.FileDescriptorProto{}
	seen := map[string]bool{}
	for _, fd := range seed {
		pending[fd.GetName()] = fd
	}

	for len(pending) > 0 {
		progressed := false
		for name, fd := range pending {
			ready := true
			for _, dep := range fd.GetDependency() {
				if seen[dep] {
					continue
				}
				if _, already := pending[dep]; already {
					ready = false
					continue
				}
				depFds, err := fetchByFilename(stream, dep)
				if err != nil {
					return err
				}
				for _, d := range depFds {
					if !seen[d.GetName()] {
						pending[d.GetName()] = d
					}
				}
				ready = false
			}
			if !ready {
				continue
			}

			fileDesc, err := protodesc.NewFile(fd, files)
			if err != nil {
				return apperror.Wrap(err, apperror.CodeTypeNotFound, "build file descriptor from reflection data")
			}
			if err := files.RegisterFile(fileDesc); err != nil {
				return apperror.Wrap(err, apperror.CodeTypeNotFound, "register file descriptor")
			}
			seen[name] = true
			delete(pending, name)
			progressed = true
		}
		if !progressed {
			return apperror.New(apperror.CodeTypeNotFound, "reflection: could not resolve the full dependency closure")
		}
	}
	return nil
}

func fetchBySymbol(stream reflectionStream, symbol string) ([]*descriptorpb.FileDescriptorProto, error) {
	return sendRecv(stream, &grpc_reflection_v1.ServerReflectionRequest{
		MessageRequest: &grpc_reflection_v1.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: symbol},
	})
}

func fetchByFilename(stream reflectionStream, name string) ([]*descriptorpb.FileDescriptorProto, error) {
	return sendRecv(stream, &grpc_reflection_v1.ServerReflectionRequest{
		MessageRequest: &grpc_reflection_v1.ServerReflectionRequest_FileByFilename{FileByFilename: name},
	})
}

func sendRecv(stream reflectionStream, req *grpc_reflection_v1.ServerReflectionRequest) ([]*descriptorpb.FileDescriptorProto, error) {
	if err := stream.Send(req); err != nil {
		return nil, connectionFailed(err)
	}
	resp, err := stream.Recv()
	if err != nil {
		return nil, connectionFailed(err)
	}
	if errResp := resp.GetErrorResponse(); errResp != nil {
		return nil, apperror.New(apperror.CodeNotFound, errResp.GetErrorMessage())
	}
	fdResp := resp.GetFileDescriptorResponse()
	if fdResp == nil {
		return nil, apperror.New(apperror.CodeInternal, "reflection: unexpected response shape")
	}

	fds := make([]*descriptorpb.FileDescriptorProto, 0, len(fdResp.GetFileDescriptorProto()))
	for _, raw := range fdResp.GetFileDescriptorProto() {
		fd := &descriptorpb.FileDescriptorProto{}
		if err := proto.Unmarshal(raw, fd); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternal, "unmarshal file descriptor proto")
		}
		fds = append(fds, fd)
	}
	return fds, nil
}

func connectionFailed(err error) error {
	return apperror.Wrap(err, apperror.CodeConnectionFailed, "reflection request failed")
}
