package coord

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/conductor/internal/app"
	"github.com/jaakkos/conductor/internal/domain"
)

// registerSpawnSession registers the spawn_session tool.
func registerSpawnSession(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("spawn_session",
			mcp.WithDescription("Register a new agent session. Returns the session record including its id; pass that id to the agent process so it can identify itself."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project the session works on")),
			mcp.WithString("mode", mcp.Required(), mcp.Description("Session mode: 'execute' (worker) or 'coordinate' (coordinator)")),
			mcp.WithString("parent_session_id", mcp.Description("Session that requested the spawn, empty for top-level sessions")),
			mcp.WithString("strategy", mcp.Description("Free-form strategy label, e.g. 'plan-first'")),
			mcp.WithArray("task_ids", mcp.Description("Task ids to hand to the task tracker when the session starts working")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			projectID, err := requireString(args, "project_id")
			if err != nil {
				return nil, err
			}
			mode, err := requireString(args, "mode")
			if err != nil {
				return nil, err
			}

			sess, err := d.Lifecycle.Spawn(app.SpawnRequest{
				ProjectID:       projectID,
				ParentSessionID: optionalString(args, "parent_session_id"),
				Mode:            domain.SessionMode(mode),
				Strategy:        optionalString(args, "strategy"),
				TaskIDs:         optionalStringList(args, "task_ids"),
			})
			if err != nil {
				return nil, err
			}

			d.Logger.Printf("Tool spawn_session: %s in %s", sess.ID, projectID)
			return jsonResult(sess)
		},
	)
}

// registerReportStatus registers the report_status tool.
func registerReportStatus(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("report_status",
			mcp.WithDescription("Report a session status change. Valid moves: spawning->working, working<->needs_input, working<->blocked, and any active state to completed/failed/cancelled. Terminal states are final."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session reporting the change")),
			mcp.WithString("status", mcp.Required(), mcp.Description("New status: working, needs_input, blocked, completed, failed, or cancelled")),
			mcp.WithString("reason", mcp.Description("Short human-readable reason for the change")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			sessionID, err := requireString(args, "session_id")
			if err != nil {
				return nil, err
			}
			status, err := requireString(args, "status")
			if err != nil {
				return nil, err
			}
			bindCaller(ctx, d.Registry, sessionID)

			sess, err := d.Lifecycle.Transition(sessionID, domain.SessionStatus(status), optionalString(args, "reason"))
			if err != nil {
				return nil, err
			}
			return jsonResult(sess)
		},
	)
}

// registerGetSession registers the get_session tool.
func registerGetSession(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("get_session",
			mcp.WithDescription("Fetch a single session record by id."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to fetch")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			sessionID, err := requireString(req.GetArguments(), "session_id")
			if err != nil {
				return nil, err
			}
			sess, err := d.Lifecycle.Get(sessionID)
			if err != nil {
				return nil, err
			}
			return jsonResult(sess)
		},
	)
}

// registerListSessions registers the list_sessions tool.
func registerListSessions(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List sessions in a project, optionally filtered by status."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project to list")),
			mcp.WithString("status", mcp.Description("Only sessions with this status")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			projectID, err := requireString(args, "project_id")
			if err != nil {
				return nil, err
			}
			statusFilter := domain.SessionStatus(optionalString(args, "status"))
			if statusFilter != "" && !domain.ValidStatus(statusFilter) {
				return nil, fmt.Errorf("unknown status %q", statusFilter)
			}

			sessions, err := d.Lifecycle.List(projectID)
			if err != nil {
				return nil, err
			}
			if statusFilter != "" {
				filtered := sessions[:0]
				for _, sess := range sessions {
					if sess.Status == statusFilter {
						filtered = append(filtered, sess)
					}
				}
				sessions = filtered
			}
			if sessions == nil {
				sessions = []domain.Session{}
			}
			return jsonResult(sessions)
		},
	)
}
