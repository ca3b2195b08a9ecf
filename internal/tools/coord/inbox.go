package coord

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/conductor/internal/domain"
)

// registerCheckMailbox registers the check_mailbox tool.
func registerCheckMailbox(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("check_mailbox",
			mcp.WithDescription("Read your mailbox: direct messages plus broadcasts whose scope includes you. Critical messages come first, then by priority, oldest first within a tier."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session whose mailbox to read")),
			mcp.WithString("since", mcp.Description("Only messages created after this RFC3339 timestamp")),
			mcp.WithString("type", mcp.Description("Only messages of this type")),
			mcp.WithNumber("limit", mcp.Description("Maximum messages to return (default from server config)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			sessionID, err := requireString(args, "session_id")
			if err != nil {
				return nil, err
			}
			since, err := parseSince(args)
			if err != nil {
				return nil, err
			}
			bindCaller(ctx, d.Registry, sessionID)

			msgs, err := d.Mailbox.Inbox(sessionID, since, domain.MailType(optionalString(args, "type")))
			if err != nil {
				return nil, err
			}

			limit := int(optionalFloat64(args, "limit", float64(d.Policy.InboxLimit())))
			if limit < 1 {
				limit = 1
			}
			if len(msgs) > limit {
				msgs = msgs[:limit]
			}
			return jsonResult(toMailViews(msgs))
		},
	)
}

// registerWaitForMail registers the wait_for_mail tool.
func registerWaitForMail(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("wait_for_mail",
			mcp.WithDescription("Block until mail arrives or the timeout passes. Returns an empty list on timeout, so poll in a loop. A critical message returns immediately even if it predates 'since'."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session waiting for mail")),
			mcp.WithNumber("timeout_seconds", mcp.Description("How long to wait (default 30, capped by server config)")),
			mcp.WithString("since", mcp.Description("Only messages created after this RFC3339 timestamp")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			sessionID, err := requireString(args, "session_id")
			if err != nil {
				return nil, err
			}
			since, err := parseSince(args)
			if err != nil {
				return nil, err
			}
			bindCaller(ctx, d.Registry, sessionID)

			timeout := time.Duration(optionalFloat64(args, "timeout_seconds", 30)) * time.Second
			if timeout <= 0 {
				timeout = time.Second
			}
			if max := d.Policy.WaitMaxTimeout(); timeout > max {
				timeout = max
			}

			msgs, err := d.Mailbox.Wait(ctx, sessionID, timeout, since)
			if err != nil {
				return nil, err
			}
			return jsonResult(toMailViews(msgs))
		},
	)
}

// registerGetThread registers the get_thread tool.
func registerGetThread(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("get_thread",
			mcp.WithDescription("Fetch a full conversation thread, oldest message first."),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id (equals the id of the thread's first message)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			threadID, err := requireString(req.GetArguments(), "thread_id")
			if err != nil {
				return nil, err
			}
			msgs, err := d.Mailbox.Thread(threadID)
			if err != nil {
				return nil, err
			}
			return jsonResult(toMailViews(msgs))
		},
	)
}
