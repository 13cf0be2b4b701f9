package router

import (
	"fmt"

	"google.golang.org/grpc"

	"github.com/joshp123/tpanel/internal/core"
)

// RegisterPlugins registers the registry service and every plugin service on
// the gRPC server.
func RegisterPlugins(server *grpc.Server, plugins []core.Plugin) error {
	if err := core.NewRegistryService(plugins).Register(server); err != nil {
		return fmt.Errorf("register registry service: %w", err)
	}

	for _, p := range plugins {
		p.RegisterGRPC(server)
	}
	return nil
}
