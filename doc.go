// Package mcpgateway negotiates and translates MCP protocol revisions for a
// gateway that fronts many backend tool servers.
//
// Clients of the gateway speak the newest protocol revision; each backend may
// speak any of the three dated revisions. The package detects a backend's
// revision during the initialize handshake, holds traffic back until the
// handshake completes, and installs an adapter that reshapes every request,
// response and notification between the two revisions.
//
// Example:
//
//	g := mcpgateway.NewGateway(mcpgateway.Config{
//		Logger: mcpgateway.NewDefaultLogger(),
//	})
//
//	transport := mcpgateway.NewStdioTransport(proc.Stdout, proc.Stdin, proc.Stdin)
//	conn, err := g.Negotiate(ctx, "weather-backend", transport)
//	if err != nil {
//		log.Fatalf("backend negotiation failed: %v", err)
//	}
//
//	req, _ := mcpgateway.NewRequest("1", mcpgateway.MethodToolsList, nil)
//	resp, err := g.Dispatch(ctx, conn, req)
//	// resp is shaped for the newest revision regardless of what the
//	// backend speaks.
package mcpgateway
