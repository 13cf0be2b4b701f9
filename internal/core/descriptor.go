package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

const structProtoFile = "google/protobuf/struct.proto"

// StructMethod is a unary RPC exchanging google.protobuf.Struct messages.
type StructMethod func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// StructService is a gRPC service built without generated stubs. Every method
// takes and returns a google.protobuf.Struct; a file descriptor is registered
// globally so server reflection (and grpcurl) can describe it.
type StructService struct {
	File    string
	Package string
	Name    string
	Methods map[string]StructMethod
}

var descriptorMu sync.Mutex

// FullName returns the fully-qualified service name.
func (s StructService) FullName() string {
	return s.Package + "." + s.Name
}

// MethodPath returns the invoke path for a method, e.g. "/pkg.Service/Method".
func (s StructService) MethodPath(method string) string {
	return "/" + s.FullName() + "/" + method
}

// Register installs the service on server.
func (s StructService) Register(server *grpc.Server) error {
	if err := s.registerDescriptor(); err != nil {
		return err
	}

	desc := grpc.ServiceDesc{
		ServiceName: s.FullName(),
		HandlerType: (*any)(nil),
		Metadata:    s.File,
	}
	for _, name := range s.methodNames() {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    structHandler(s.MethodPath(name), s.Methods[name]),
		})
	}
	server.RegisterService(&desc, s)
	return nil
}

func (s StructService) methodNames() []string {
	names := make([]string, 0, len(s.Methods))
	for name := range s.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s StructService) registerDescriptor() error {
	descriptorMu.Lock()
	defer descriptorMu.Unlock()

	if _, err := protoregistry.GlobalFiles.FindFileByPath(s.File); err == nil {
		return nil
	}
	structType := "." + string((&structpb.Struct{}).ProtoReflect().Descriptor().FullName())
	service := &descriptorpb.ServiceDescriptorProto{Name: proto.String(s.Name)}
	for _, name := range s.methodNames() {
		service.Method = append(service.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}

	file := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(s.File),
		Package:    proto.String(s.Package),
		Dependency: []string{structProtoFile},
		Syntax:     proto.String("proto3"),
		Service:    []*descriptorpb.ServiceDescriptorProto{service},
	}

	fd, err := protodesc.NewFile(file, protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("build descriptor %s: %w", s.File, err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		return fmt.Errorf("register descriptor %s: %w", s.File, err)
	}
	return nil
}

func structHandler(fullMethod string, fn StructMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return fn(ctx, req.(*structpb.Struct))
		})
	}
}
