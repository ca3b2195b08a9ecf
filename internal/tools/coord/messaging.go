package coord

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/conductor/internal/app"
	"github.com/jaakkos/conductor/internal/domain"
)

// registerSendMail registers the send_mail tool.
func registerSendMail(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("send_mail",
			mcp.WithDescription("Send a direct message to another session. Use broadcast_mail to reach a scope (all sessions, your workers, your team)."),
			mcp.WithString("from", mcp.Required(), mcp.Description("Sending session id")),
			mcp.WithString("to", mcp.Required(), mcp.Description("Recipient session id")),
			mcp.WithString("type", mcp.Required(), mcp.Description("Message type: assignment, status_update, query, response, directive, or notification")),
			mcp.WithString("subject", mcp.Required(), mcp.Description("Short subject line")),
			mcp.WithString("body", mcp.Required(), mcp.Description("Message body text")),
			mcp.WithString("priority", mcp.Description("critical, high, normal (default), or low")),
			mcp.WithString("reply_to", mcp.Description("Message id to thread under")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			from, err := requireString(args, "from")
			if err != nil {
				return nil, err
			}
			to, err := requireString(args, "to")
			if err != nil {
				return nil, err
			}
			mailType, subject, body, err := mailContent(args)
			if err != nil {
				return nil, err
			}
			bindCaller(ctx, d.Registry, from)

			msg, err := d.Mailbox.Send(from, to, mailType, subject, body, app.SendOptions{
				Priority: domain.MailPriority(optionalString(args, "priority")),
				ReplyTo:  optionalString(args, "reply_to"),
			})
			if err != nil {
				return nil, err
			}
			return jsonResult(toMailView(msg))
		},
	)
}

// registerBroadcastMail registers the broadcast_mail tool.
func registerBroadcastMail(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("broadcast_mail",
			mcp.WithDescription("Send one message to every session in a scope. Scopes: 'all' (active sessions in the project), 'my-workers' (sessions you spawned), 'team' (sessions sharing your parent)."),
			mcp.WithString("from", mcp.Required(), mcp.Description("Sending session id")),
			mcp.WithString("scope", mcp.Required(), mcp.Description("Recipient scope: all, my-workers, or team")),
			mcp.WithString("type", mcp.Required(), mcp.Description("Message type: assignment, status_update, query, response, directive, or notification")),
			mcp.WithString("subject", mcp.Required(), mcp.Description("Short subject line")),
			mcp.WithString("body", mcp.Required(), mcp.Description("Message body text")),
			mcp.WithString("priority", mcp.Description("critical, high, normal (default), or low")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			from, err := requireString(args, "from")
			if err != nil {
				return nil, err
			}
			scope, err := requireString(args, "scope")
			if err != nil {
				return nil, err
			}
			mailType, subject, body, err := mailContent(args)
			if err != nil {
				return nil, err
			}
			bindCaller(ctx, d.Registry, from)

			msg, recipients, err := d.Mailbox.Broadcast(from, domain.MailScope(scope), mailType, subject, body, app.SendOptions{
				Priority: domain.MailPriority(optionalString(args, "priority")),
			})
			if err != nil {
				return nil, err
			}
			return jsonResult(struct {
				Message    mailView `json:"message"`
				Recipients []string `json:"recipients"`
			}{toMailView(msg), recipients})
		},
	)
}

// registerReplyMail registers the reply_mail tool.
func registerReplyMail(s *server.MCPServer, d Deps) {
	s.AddTool(
		mcp.NewTool("reply_mail",
			mcp.WithDescription("Reply to a message. The reply joins the original's thread and goes back to its sender; replying to a broadcast answers only the broadcaster."),
			mcp.WithString("from", mcp.Required(), mcp.Description("Replying session id")),
			mcp.WithString("mail_id", mcp.Required(), mcp.Description("Message being replied to")),
			mcp.WithString("body", mcp.Required(), mcp.Description("Reply body text")),
			mcp.WithString("type", mcp.Description("Message type of the reply (default response)")),
			mcp.WithString("priority", mcp.Description("critical, high, normal (default), or low")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			from, err := requireString(args, "from")
			if err != nil {
				return nil, err
			}
			mailID, err := requireString(args, "mail_id")
			if err != nil {
				return nil, err
			}
			bodyText, err := requireString(args, "body")
			if err != nil {
				return nil, err
			}
			replyType := domain.MailType(optionalString(args, "type"))
			if replyType == "" {
				replyType = domain.MailResponse
			}
			body, err := bodyForType(replyType, bodyText)
			if err != nil {
				return nil, err
			}
			bindCaller(ctx, d.Registry, from)

			msg, err := d.Mailbox.Reply(from, mailID, body, app.ReplyOptions{
				Type:     replyType,
				Priority: domain.MailPriority(optionalString(args, "priority")),
			})
			if err != nil {
				return nil, err
			}
			return jsonResult(toMailView(msg))
		},
	)
}

// mailContent pulls the shared type/subject/body triple out of tool args and
// builds the typed body.
func mailContent(args map[string]any) (domain.MailType, string, domain.MailBody, error) {
	rawType, err := requireString(args, "type")
	if err != nil {
		return "", "", nil, err
	}
	subject, err := requireString(args, "subject")
	if err != nil {
		return "", "", nil, err
	}
	bodyText, err := requireString(args, "body")
	if err != nil {
		return "", "", nil, err
	}
	mailType := domain.MailType(rawType)
	body, err := bodyForType(mailType, bodyText)
	if err != nil {
		return "", "", nil, fmt.Errorf("type: %w", err)
	}
	return mailType, subject, body, nil
}
