package coord

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/conductor/internal/app"
	"github.com/jaakkos/conductor/internal/domain"
)

// jsonResult marshals v into a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// bodyForType wraps free-form body text in the typed body matching the mail
// type.
func bodyForType(t domain.MailType, text string) (domain.MailBody, error) {
	switch t {
	case domain.MailAssignment:
		return domain.AssignmentBody{Instructions: text}, nil
	case domain.MailStatusUpdate:
		return domain.StatusUpdateBody{Message: text}, nil
	case domain.MailQuery:
		return domain.QueryBody{Question: text}, nil
	case domain.MailResponse:
		return domain.ResponseBody{Answer: text}, nil
	case domain.MailDirective:
		return domain.DirectiveBody{Details: text}, nil
	case domain.MailNotification:
		return domain.NotificationBody{Message: text}, nil
	}
	return nil, fmt.Errorf("unknown mail type %q", t)
}

// parseSince parses an optional RFC3339 "since" argument. Empty means the
// beginning of time.
func parseSince(args map[string]any) (time.Time, error) {
	raw := optionalString(args, "since")
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("since must be RFC3339: %w", err)
	}
	return ts, nil
}

// bindCaller associates the MCP client connection with the agent session it
// acts for. Stdio clients have no transport session; that is fine, identity
// then rests on the session_id argument alone.
func bindCaller(ctx context.Context, registry *app.ClientRegistry, sessionID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		registry.Bind(session.SessionID(), sessionID)
	}
}

// mailView is the wire shape of a message in tool results. The body is
// flattened to its display text; consumers that need the typed body use the
// type field.
type mailView struct {
	ID        string              `json:"id"`
	ThreadID  string              `json:"thread_id"`
	From      string              `json:"from"`
	To        string              `json:"to,omitempty"`
	Scope     domain.MailScope    `json:"scope,omitempty"`
	ReplyTo   string              `json:"reply_to,omitempty"`
	Type      domain.MailType     `json:"type"`
	Priority  domain.MailPriority `json:"priority"`
	Subject   string              `json:"subject"`
	Body      string              `json:"body"`
	CreatedAt time.Time           `json:"created_at"`
}

func toMailView(m domain.MailMessage) mailView {
	return mailView{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		From:      m.FromSessionID,
		To:        m.ToSessionID,
		Scope:     m.Scope,
		ReplyTo:   m.ReplyToMailID,
		Type:      m.Type,
		Priority:  m.Priority,
		Subject:   m.Subject,
		Body:      domain.BodyText(m.Body),
		CreatedAt: m.CreatedAt,
	}
}

func toMailViews(msgs []domain.MailMessage) []mailView {
	out := make([]mailView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMailView(m))
	}
	return out
}
