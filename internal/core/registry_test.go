package core

import (
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/known/structpb"
)

type stubPlugin struct {
	id            string
	name          string
	version       string
	services      []string
	dashboards    []Dashboard
	agents        string
	health        HealthStatus
	healthMessage string
}

func (s stubPlugin) ID() string { return s.id }

func (s stubPlugin) Manifest() Manifest {
	return Manifest{
		PluginID:    s.id,
		DisplayName: s.name,
		Version:     s.version,
		Services:    s.services,
	}
}

func (s stubPlugin) AgentsMD() string { return s.agents }

func (s stubPlugin) Dashboards() []Dashboard { return s.dashboards }

func (s stubPlugin) RegisterGRPC(*grpc.Server) {}

func (s stubPlugin) Collectors() []prometheus.Collector { return nil }

func (s stubPlugin) Health() HealthStatus { return s.health }

func (s stubPlugin) HealthMessage() string { return s.healthMessage }

func newStubPlugin(id string) stubPlugin {
	return stubPlugin{
		id:         id,
		name:       "Demo",
		version:    "0.1.0",
		services:   []string{"tpanel.plugins.demo.v1.DemoService"},
		agents:     "demo agents",
		health:     HealthHealthy,
		dashboards: []Dashboard{{Name: "demo", JSON: []byte("{}")}},
	}
}

func TestRegistryListPlugins(t *testing.T) {
	plugin := newStubPlugin("demo")
	svc := NewRegistryService([]Plugin{plugin})

	resp, err := svc.ListPlugins(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("ListPlugins error: %v", err)
	}
	plugins := resp.GetFields()["plugins"].GetListValue().GetValues()
	if len(plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(plugins))
	}

	got := plugins[0].GetStructValue()
	if StringField(got, "plugin_id") != "demo" || StringField(got, "display_name") != "Demo" || StringField(got, "version") != "0.1.0" {
		t.Fatalf("unexpected plugin summary: %v", got)
	}
	if StringField(got, "status") != string(HealthHealthy) {
		t.Fatalf("unexpected health status: %s", StringField(got, "status"))
	}
}

func TestRegistryDescribePlugin(t *testing.T) {
	plugin := newStubPlugin("demo")
	svc := NewRegistryService([]Plugin{plugin})

	req, _ := structpb.NewStruct(map[string]any{"plugin_id": "demo"})
	resp, err := svc.DescribePlugin(context.Background(), req)
	if err != nil {
		t.Fatalf("DescribePlugin error: %v", err)
	}
	desc := resp.GetFields()["plugin"].GetStructValue()
	if desc == nil {
		t.Fatalf("expected plugin descriptor")
	}
	if StringField(desc, "plugin_id") != "demo" {
		t.Fatalf("unexpected plugin id: %s", StringField(desc, "plugin_id"))
	}
	dashboards := desc.GetFields()["dashboards"].GetListValue().GetValues()
	if len(dashboards) != 1 {
		t.Fatalf("expected 1 dashboard, got %d", len(dashboards))
	}
	if path := StringField(dashboards[0].GetStructValue(), "path"); path != "/dashboards/demo/demo.json" {
		t.Fatalf("unexpected dashboard path: %s", path)
	}
}

func TestRegistryDescribeUnknownPlugin(t *testing.T) {
	svc := NewRegistryService([]Plugin{newStubPlugin("demo")})

	req, _ := structpb.NewStruct(map[string]any{"plugin_id": "missing"})
	resp, err := svc.DescribePlugin(context.Background(), req)
	if err != nil {
		t.Fatalf("DescribePlugin error: %v", err)
	}
	if _, ok := resp.GetFields()["plugin"]; ok {
		t.Fatalf("expected empty response, got %v", resp)
	}

	if _, err := svc.DescribePlugin(context.Background(), &structpb.Struct{}); err == nil {
		t.Fatalf("expected error for missing plugin_id")
	}
}

func TestFilterPlugins(t *testing.T) {
	compiled := []Plugin{newStubPlugin("demo"), newStubPlugin("extra")}

	active := FilterPlugins(compiled, map[string]bool{"demo": true}, false)
	if len(active) != 1 || active[0].ID() != "demo" {
		t.Fatalf("unexpected active plugins: %v", active)
	}

	active = FilterPlugins(compiled, map[string]bool{}, true)
	if len(active) != 2 {
		t.Fatalf("expected all plugins, got %d", len(active))
	}
}

func TestValidateEnabledPlugins(t *testing.T) {
	compiled := []Plugin{newStubPlugin("demo")}

	if err := ValidateEnabledPlugins(compiled, map[string]bool{"demo": true}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ValidateEnabledPlugins(compiled, map[string]bool{"missing": true}, false); err == nil {
		t.Fatalf("expected error for missing plugin")
	}
}

func TestValidatePlugins(t *testing.T) {
	if err := ValidatePlugins([]Plugin{newStubPlugin("demo"), newStubPlugin("demo")}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("Demo")}); err == nil {
		t.Fatalf("expected pattern error")
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("crestron")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStructServiceOverGRPC(t *testing.T) {
	svc := StructService{
		File:    "tpanel/test/v1/echo.proto",
		Package: "tpanel.test.v1",
		Name:    "Echo",
		Methods: map[string]StructMethod{
			"Echo": func(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return NewStruct(map[string]any{"echo": StringField(req, "msg")})
			},
		},
	}

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	if err := svc.Register(server); err != nil {
		t.Fatalf("register: %v", err)
	}
	go func() { _ = server.Serve(listener) }()
	defer server.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, _ := structpb.NewStruct(map[string]any{"msg": "hello"})
	resp := &structpb.Struct{}
	if err := conn.Invoke(context.Background(), svc.MethodPath("Echo"), req, resp); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got := StringField(resp, "echo"); got != "hello" {
		t.Fatalf("unexpected echo: %q", got)
	}

	desc, err := protoregistry.GlobalFiles.FindDescriptorByName(protoreflect.FullName(svc.FullName()))
	if err != nil {
		t.Fatalf("descriptor not registered: %v", err)
	}
	if methods := desc.(protoreflect.ServiceDescriptor).Methods(); methods.Len() != 1 {
		t.Fatalf("expected 1 method, got %d", methods.Len())
	}

	// A second registration of the same file must not fail.
	if err := svc.Register(grpc.NewServer()); err != nil {
		t.Fatalf("re-register: %v", err)
	}
}
