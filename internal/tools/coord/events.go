package coord

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/conductor/internal/app"
)

// registerSubscribeEvents registers the subscribe_events tool.
func registerSubscribeEvents(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("subscribe_events",
			mcp.WithDescription("Stream session and mail events to this connection as notifications. Calling again replaces the active filter. The subscription ends when the connection closes."),
			mcp.WithString("filter", mcp.Description("Filter mode: 'all' (default), 'sessions' (only listed session ids), or 'project' (one project's events)")),
			mcp.WithArray("session_ids", mcp.Description("Session ids to follow when filter is 'sessions'")),
			mcp.WithString("project_id", mcp.Description("Project to follow when filter is 'project'")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			session := server.ClientSessionFromContext(ctx)
			if session == nil {
				return nil, fmt.Errorf("subscribe_events needs a persistent client connection")
			}
			filter, err := filterFromArgs(req.GetArguments())
			if err != nil {
				return nil, err
			}

			connID := session.SessionID()
			// Re-subscribing with a live connection only swaps the filter;
			// attaching fresh would drop queued events.
			if err := d.Bridge.SetFilter(connID, filter); err != nil {
				d.Bridge.Attach(connID, filter, d.SinkFor(connID))
			}
			d.Logger.Printf("Events: %s subscribed (filter=%s)", connID, filter.Mode)
			return mcp.NewToolResultText(fmt.Sprintf("Subscribed with filter %q", filter.Mode)), nil
		},
	)
}

// registerUnsubscribeEvents registers the unsubscribe_events tool.
func registerUnsubscribeEvents(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("unsubscribe_events",
			mcp.WithDescription("Stop streaming events to this connection."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			session := server.ClientSessionFromContext(ctx)
			if session == nil {
				return nil, fmt.Errorf("unsubscribe_events needs a persistent client connection")
			}
			d.Bridge.Detach(session.SessionID())
			d.Logger.Printf("Events: %s unsubscribed", session.SessionID())
			return mcp.NewToolResultText("Unsubscribed"), nil
		},
	)
}

func filterFromArgs(args map[string]any) (app.Filter, error) {
	mode := app.FilterMode(optionalString(args, "filter"))
	if mode == "" {
		mode = app.FilterAll
	}
	switch mode {
	case app.FilterAll:
		return app.Filter{Mode: app.FilterAll}, nil
	case app.FilterSessions:
		ids := optionalStringList(args, "session_ids")
		if len(ids) == 0 {
			return app.Filter{}, fmt.Errorf("filter 'sessions' needs session_ids")
		}
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		return app.Filter{Mode: app.FilterSessions, SessionIDs: set}, nil
	case app.FilterProject:
		projectID, err := requireString(args, "project_id")
		if err != nil {
			return app.Filter{}, fmt.Errorf("filter 'project' needs project_id")
		}
		return app.Filter{Mode: app.FilterProject, ProjectID: projectID}, nil
	}
	return app.Filter{}, fmt.Errorf("unknown filter %q", mode)
}
