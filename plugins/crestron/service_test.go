package crestron

import (
	"context"
	"math"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/tpanel/internal/core"
)

func newTestService(t *testing.T) (*service, *fakeRunner, *fakeRunner) {
	t.Helper()
	lobbyRunner := &fakeRunner{replies: map[string]string{
		"BRIGHTNESS":    "Current LCD brightness level: 60%",
		"BRIGHTNESS 40": "New LCD brightness level: 40%",
		"STANDBY":       "Entering standby",
	}}
	officeRunner := &fakeRunner{replies: map[string]string{"BRIGHTNESS": "Current LCD brightness level: 5%"}}

	lobby := NewCoordinator(PanelConfig{Name: "Lobby", Host: "10.0.0.5", Port: 22}, lobbyRunner, Options{Logger: quietLogger()})
	office := NewCoordinator(PanelConfig{Name: "office", Host: "10.0.0.6", Port: 2222}, officeRunner, Options{Logger: quietLogger()})
	panels := newPanelSet([]*Coordinator{lobby, office})
	panels.setActive(lobby)
	return &service{panels: panels}, lobbyRunner, officeRunner
}

func request(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	req, err := core.NewStruct(fields)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return req
}

func TestServiceListPanels(t *testing.T) {
	svc, _, _ := newTestService(t)
	resp, err := svc.ListPanels(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("ListPanels: %v", err)
	}
	panels := resp.Fields["panels"].GetListValue().GetValues()
	if len(panels) != 2 {
		t.Fatalf("expected 2 panels, got %d", len(panels))
	}
	first := panels[0].GetStructValue()
	if core.StringField(first, "name") != "Lobby" || !first.Fields["active"].GetBoolValue() {
		t.Fatalf("unexpected first panel: %v", first)
	}
	if port, _ := core.NumberField(panels[1].GetStructValue(), "port"); port != 2222 {
		t.Fatalf("unexpected port: %v", port)
	}
}

func TestServiceGetPanelErrors(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.GetPanel(context.Background(), &structpb.Struct{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	_, err = svc.GetPanel(context.Background(), request(t, map[string]any{"name": "attic"}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	resp, err := svc.GetPanel(context.Background(), request(t, map[string]any{"name": "lobby"}))
	if err != nil {
		t.Fatalf("lookup should ignore case: %v", err)
	}
	panel := resp.Fields["panel"].GetStructValue()
	if b, _ := core.NumberField(panel, "brightness"); b != 100 {
		t.Fatalf("unexpected brightness: %v", b)
	}
}

func TestServiceCommands(t *testing.T) {
	svc, lobbyRunner, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.SetBrightness(ctx, request(t, map[string]any{"name": "Lobby", "brightness": 40}))
	if err != nil {
		t.Fatalf("SetBrightness: %v", err)
	}
	if !resp.Fields["ok"].GetBoolValue() {
		t.Fatalf("expected ok: %v", resp)
	}
	if lobbyRunner.last() != "BRIGHTNESS 40" {
		t.Fatalf("unexpected command: %q", lobbyRunner.last())
	}

	resp, err = svc.TurnOff(ctx, request(t, map[string]any{"name": "Lobby"}))
	if err != nil || !resp.Fields["ok"].GetBoolValue() {
		t.Fatalf("TurnOff: %v %v", resp, err)
	}
	if resp.Fields["panel"].GetStructValue().Fields["is_on"].GetBoolValue() {
		t.Fatalf("expected panel off")
	}

	resp, err = svc.Refresh(ctx, request(t, map[string]any{"name": "Lobby"}))
	if err != nil || !resp.Fields["reachable"].GetBoolValue() {
		t.Fatalf("Refresh: %v %v", resp, err)
	}

	lobbyRunner.err = ErrTimeout
	resp, err = svc.TurnOn(ctx, request(t, map[string]any{"name": "Lobby"}))
	if err != nil {
		t.Fatalf("command failure is not an RPC error: %v", err)
	}
	if resp.Fields["ok"].GetBoolValue() {
		t.Fatalf("expected ok=false on fault")
	}

	_, err = svc.SetBrightness(ctx, request(t, map[string]any{"name": "Lobby"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument without brightness, got %v", err)
	}
}

func TestServiceSetBrightnessClampsBeforeRounding(t *testing.T) {
	svc, lobbyRunner, _ := newTestService(t)
	ctx := context.Background()

	for _, level := range []float64{1e300, math.Inf(1)} {
		req := request(t, map[string]any{"name": "Lobby"})
		req.Fields["brightness"] = structpb.NewNumberValue(level)
		if _, err := svc.SetBrightness(ctx, req); err != nil {
			t.Fatalf("SetBrightness(%v): %v", level, err)
		}
		if got := lobbyRunner.last(); got != "BRIGHTNESS 100" {
			t.Fatalf("brightness %v sent %q", level, got)
		}
	}

	req := request(t, map[string]any{"name": "Lobby"})
	req.Fields["brightness"] = structpb.NewNumberValue(math.NaN())
	if _, err := svc.SetBrightness(ctx, req); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for NaN, got %v", err)
	}
}

func TestServiceInactivePanel(t *testing.T) {
	svc, _, officeRunner := newTestService(t)
	ctx := context.Background()

	_, err := svc.TurnOn(ctx, request(t, map[string]any{"name": "office"}))
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
	if len(officeRunner.commands) != 0 {
		t.Fatalf("inactive panel received a command")
	}

	resp, err := svc.TestConnection(ctx, request(t, map[string]any{"name": "office"}))
	if err != nil || !resp.Fields["ok"].GetBoolValue() {
		t.Fatalf("TestConnection on inactive panel: %v %v", resp, err)
	}
}
