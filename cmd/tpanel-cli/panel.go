package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/tpanel/internal/core"
	"github.com/joshp123/tpanel/plugins/crestron"
)

func panelCmd(ctx context.Context, conn *grpc.ClientConn, args []string, jsonOutput bool) {
	out := outputMode{json: jsonOutput}
	if len(args) == 0 {
		panelUsage()
		os.Exit(2)
	}

	svc := crestron.PanelServiceDescriptor
	switch args[0] {
	case "status", "list":
		resp, err := invoke(ctx, conn, svc.MethodPath("ListPanels"), nil)
		if err != nil {
			fatal("panel list", err)
		}
		panels := panelList(resp)
		if len(args) > 1 {
			name := resolvePanel(ctx, conn, args[1])
			panels = filterPanels(panels, name)
		}
		if out.json {
			out.printJSON(panelMaps(panels))
			return
		}
		rows := [][]string{{"PANEL", "HOST", "BRIGHTNESS", "POWER", "STATE", "ACTIVE"}}
		for _, p := range panels {
			rows = append(rows, panelRow(p))
		}
		out.table(rows)
	case "brightness", "set":
		if len(args) < 3 {
			fatal("panel brightness", fmt.Errorf("usage: tpanel-cli panel brightness <name> <0-100>"))
		}
		level, err := strconv.Atoi(args[2])
		if err != nil {
			fatal("panel brightness", fmt.Errorf("invalid brightness %q", args[2]))
		}
		name := resolvePanel(ctx, conn, args[1])
		resp, err := invoke(ctx, conn, svc.MethodPath("SetBrightness"), map[string]any{"name": name, "brightness": level})
		if err != nil {
			fatal("panel brightness", err)
		}
		out.commandResult(name, fmt.Sprintf("brightness %d%%", crestron.ClampBrightness(level)), resp)
	case "on", "off", "refresh", "test":
		if len(args) < 2 {
			fatal("panel "+args[0], fmt.Errorf("usage: tpanel-cli panel %s <name>", args[0]))
		}
		method := map[string]string{
			"on":      "TurnOn",
			"off":     "TurnOff",
			"refresh": "Refresh",
			"test":    "TestConnection",
		}[args[0]]
		name := resolvePanel(ctx, conn, args[1])
		resp, err := invoke(ctx, conn, svc.MethodPath(method), map[string]any{"name": name})
		if err != nil {
			fatal("panel "+args[0], err)
		}
		if args[0] == "refresh" {
			// Refresh reports reachability rather than ok.
			resp.Fields["ok"] = structpb.NewBoolValue(resp.Fields["reachable"].GetBoolValue())
		}
		out.commandResult(name, args[0], resp)
	default:
		panelUsage()
		os.Exit(2)
	}
}

// resolvePanel maps a loosely typed name onto a configured panel name.
func resolvePanel(ctx context.Context, conn *grpc.ClientConn, input string) string {
	resp, err := invoke(ctx, conn, crestron.PanelServiceDescriptor.MethodPath("ListPanels"), nil)
	if err != nil {
		fatal("panel list", err)
	}
	options := make(map[string]string)
	for _, p := range panelList(resp) {
		name := core.StringField(p, "name")
		options[name] = name
	}
	name, err := resolveNamedID("panel", input, options)
	if err != nil {
		fatal("panel", err)
	}
	return name
}

func panelList(resp *structpb.Struct) []*structpb.Struct {
	values := resp.Fields["panels"].GetListValue().GetValues()
	out := make([]*structpb.Struct, 0, len(values))
	for _, v := range values {
		out = append(out, v.GetStructValue())
	}
	return out
}

func filterPanels(panels []*structpb.Struct, name string) []*structpb.Struct {
	for _, p := range panels {
		if core.StringField(p, "name") == name {
			return []*structpb.Struct{p}
		}
	}
	return nil
}

func panelMaps(panels []*structpb.Struct) []any {
	out := make([]any, 0, len(panels))
	for _, p := range panels {
		out = append(out, p.AsMap())
	}
	return out
}

func panelRow(p *structpb.Struct) []string {
	brightness, _ := core.NumberField(p, "brightness")
	port, _ := core.NumberField(p, "port")
	power := "standby"
	if p.Fields["is_on"].GetBoolValue() {
		power = "on"
	}
	active := "no"
	if p.Fields["active"].GetBoolValue() {
		active = "yes"
	}
	return []string{
		core.StringField(p, "name"),
		fmt.Sprintf("%s:%d", core.StringField(p, "host"), int(port)),
		fmt.Sprintf("%d%%", int(brightness)),
		power,
		core.StringField(p, "reachability"),
		active,
	}
}

func panelUsage() {
	fmt.Println("tpanel-cli panel <command>")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  status [name]")
	fmt.Println("  brightness <name> <0-100>")
	fmt.Println("  on <name>")
	fmt.Println("  off <name>")
	fmt.Println("  refresh <name>")
	fmt.Println("  test <name>")
}
