package crestron

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/tpanel/internal/core"
)

// PanelServiceDescriptor is the gRPC surface of the crestron plugin.
var PanelServiceDescriptor = core.StructService{
	File:    "tpanel/plugins/crestron/v1/crestron.proto",
	Package: "tpanel.plugins.crestron.v1",
	Name:    "PanelService",
}

type service struct {
	panels *panelSet
}

func RegisterPanelService(server *grpc.Server, panels *panelSet) error {
	s := &service{panels: panels}
	svc := PanelServiceDescriptor
	svc.Methods = map[string]core.StructMethod{
		"ListPanels":     s.ListPanels,
		"GetPanel":       s.GetPanel,
		"Refresh":        s.Refresh,
		"SetBrightness":  s.SetBrightness,
		"TurnOn":         s.TurnOn,
		"TurnOff":        s.TurnOff,
		"TestConnection": s.TestConnection,
	}
	return svc.Register(server)
}

func (s *service) ListPanels(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx

	panels := make([]any, 0, len(s.panels.all()))
	for _, c := range s.panels.all() {
		panels = append(panels, s.panelFields(c))
	}
	return core.NewStruct(map[string]any{"panels": panels})
}

func (s *service) GetPanel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx

	c, err := s.find(req)
	if err != nil {
		return nil, err
	}
	return core.NewStruct(map[string]any{"panel": s.panelFields(c)})
}

func (s *service) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.findActive(req)
	if err != nil {
		return nil, err
	}
	result := c.Refresh(ctx)
	return core.NewStruct(map[string]any{
		"reachable": result.Reachable,
		"panel":     s.panelFields(c),
	})
}

func (s *service) SetBrightness(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.findActive(req)
	if err != nil {
		return nil, err
	}
	level, ok := core.NumberField(req, "brightness")
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "brightness is required")
	}
	target, ok := BrightnessFromFloat(level)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "brightness must be a number")
	}
	return s.commandResult(c, c.SetBrightness(ctx, target))
}

func (s *service) TurnOn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.findActive(req)
	if err != nil {
		return nil, err
	}
	return s.commandResult(c, c.TurnOn(ctx))
}

func (s *service) TurnOff(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.findActive(req)
	if err != nil {
		return nil, err
	}
	return s.commandResult(c, c.TurnOff(ctx))
}

// TestConnection also works on panels that failed setup.
func (s *service) TestConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.find(req)
	if err != nil {
		return nil, err
	}
	return core.NewStruct(map[string]any{"ok": c.TestConnection(ctx)})
}

func (s *service) commandResult(c *Coordinator, ok bool) (*structpb.Struct, error) {
	return core.NewStruct(map[string]any{
		"ok":    ok,
		"panel": s.panelFields(c),
	})
}

func (s *service) find(req *structpb.Struct) (*Coordinator, error) {
	name := core.StringField(req, "name")
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}
	c, ok := s.panels.lookup(name)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "panel %q not found", name)
	}
	return c, nil
}

func (s *service) findActive(req *structpb.Struct) (*Coordinator, error) {
	c, err := s.find(req)
	if err != nil {
		return nil, err
	}
	if !s.panels.isActive(c) {
		return nil, status.Errorf(codes.FailedPrecondition, "panel %q is not active", c.Name())
	}
	return c, nil
}

func (s *service) panelFields(c *Coordinator) map[string]any {
	state, reach := c.Snapshot()
	cfg := c.Config()
	lastSuccess := ""
	if last := c.LastSuccess(); !last.IsZero() {
		lastSuccess = last.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"name":         cfg.Name,
		"host":         cfg.Host,
		"port":         cfg.Port,
		"brightness":   state.Brightness,
		"is_on":        state.IsOn,
		"reachability": reach.String(),
		"active":       s.panels.isActive(c),
		"last_success": lastSuccess,
	}
}
