package core

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// RegistryDescriptor is the gRPC surface of the plugin registry.
var RegistryDescriptor = StructService{
	File:    "tpanel/registry/v1/registry.proto",
	Package: "tpanel.registry.v1",
	Name:    "Registry",
}

// RegistryService provides plugin discovery to clients.
type RegistryService struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistryService(plugins []Plugin) *RegistryService {
	return &RegistryService{plugins: plugins}
}

// Register installs the registry on the gRPC server.
func (r *RegistryService) Register(server *grpc.Server) error {
	svc := RegistryDescriptor
	svc.Methods = map[string]StructMethod{
		"ListPlugins":    r.ListPlugins,
		"DescribePlugin": r.DescribePlugin,
	}
	return svc.Register(server)
}

func (r *RegistryService) ListPlugins(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make([]any, 0, len(r.plugins))
	for _, p := range r.plugins {
		manifest := p.Manifest()
		plugins = append(plugins, map[string]any{
			"plugin_id":    manifest.PluginID,
			"display_name": manifest.DisplayName,
			"version":      manifest.Version,
			"status":       string(p.Health()),
		})
	}

	return NewStruct(map[string]any{"plugins": plugins})
}

func (r *RegistryService) DescribePlugin(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx

	pluginID := StringField(req, "plugin_id")
	if pluginID == "" {
		return nil, status.Error(codes.InvalidArgument, "plugin_id is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != pluginID {
			continue
		}

		services := make([]any, 0, len(manifest.Services))
		for _, svc := range manifest.Services {
			services = append(services, svc)
		}
		dashboards := make([]any, 0)
		for _, d := range p.Dashboards() {
			dashboards = append(dashboards, map[string]any{
				"name": d.Name,
				"path": DashboardPath(manifest.PluginID, d.Name),
			})
		}

		return NewStruct(map[string]any{
			"plugin": map[string]any{
				"plugin_id":      manifest.PluginID,
				"display_name":   manifest.DisplayName,
				"version":        manifest.Version,
				"services":       services,
				"dashboards":     dashboards,
				"agents_md":      p.AgentsMD(),
				"status":         string(p.Health()),
				"health_message": p.HealthMessage(),
			},
		})
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
}

// NewStruct converts a plain map into a Struct, reporting conversion failures
// as internal RPC errors.
func NewStruct(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// StringField reads a string field from a request, returning "" when absent.
func StringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// NumberField reads a numeric field from a request.
func NumberField(s *structpb.Struct, key string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, false
	}
	if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); !isNumber {
		return 0, false
	}
	return v.GetNumberValue(), true
}
