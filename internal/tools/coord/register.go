// Package coord exposes the session coordination and mailbox services as MCP
// tools.
package coord

import (
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/conductor/internal/app"
	"github.com/jaakkos/conductor/internal/policy"
)

// Deps bundles what the tool handlers need.
type Deps struct {
	Lifecycle *app.Lifecycle
	Mailbox   *app.Mailbox
	Bridge    *app.Bridge
	Registry  *app.ClientRegistry
	Policy    *policy.Policy
	Logger    *log.Logger

	// SinkFor builds the event delivery sink for an observer connection.
	// nil disables subscribe_events (no notification transport).
	SinkFor func(clientID string) app.Sink
}

// Register registers the coordination tools with the mcp-go server.
func Register(s *server.MCPServer, d Deps) {
	// Session lifecycle tools (4)
	registerSpawnSession(s, d)
	registerReportStatus(s, d)
	registerGetSession(s, d)
	registerListSessions(s, d)

	// Messaging tools (3)
	registerSendMail(s, d)
	registerBroadcastMail(s, d)
	registerReplyMail(s, d)

	// Inbox tools (3)
	registerCheckMailbox(s, d)
	registerWaitForMail(s, d)
	registerGetThread(s, d)

	// Event subscription tools (2, need a notification transport)
	if d.SinkFor != nil {
		registerSubscribeEvents(s, d)
		registerUnsubscribeEvents(s, d)
	}
}
