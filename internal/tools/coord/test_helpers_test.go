package coord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/conductor/internal/app"
	"github.com/jaakkos/conductor/internal/bus"
	"github.com/jaakkos/conductor/internal/domain"
	"github.com/jaakkos/conductor/internal/policy"
	"github.com/jaakkos/conductor/internal/repository/sqlite"
)

type testEnv struct {
	server    *server.MCPServer
	lifecycle *app.Lifecycle
	mailbox   *app.Mailbox
	bridge    *app.Bridge
	bus       *bus.Bus
}

// testServer wires the full stack over an in-memory store and registers every
// tool.
func testServer(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	b := bus.New()
	t.Cleanup(b.Close)
	logger := log.New(io.Discard, "", 0)

	lifecycle := app.NewLifecycle(store, b, logger)
	mailbox := app.NewMailbox(store, store, b, logger, app.WithWaitPoll(20*time.Millisecond))
	bridge := app.NewBridge(b, logger)
	t.Cleanup(bridge.Close)

	s := server.NewMCPServer("test", "1.0.0")
	Register(s, Deps{
		Lifecycle: lifecycle,
		Mailbox:   mailbox,
		Bridge:    bridge,
		Registry:  app.NewClientRegistry(),
		Policy:    policy.New(policy.DefaultConfig()),
		Logger:    logger,
		SinkFor:   func(string) app.Sink { return func(domain.EventEnvelope) error { return nil } },
	})
	return &testEnv{server: s, lifecycle: lifecycle, mailbox: mailbox, bridge: bridge, bus: b}
}

// callTool calls a registered tool via the MCPServer's HandleMessage.
// Returns the parsed CallToolResult or an error.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t.Helper()

	reqJSON, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	respJSON := s.HandleMessage(context.Background(), reqJSON)

	respBytes, marshalErr := json.Marshal(respJSON)
	if marshalErr != nil {
		t.Fatalf("marshal response: %v", marshalErr)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}

	return &result, nil
}

// resultText extracts the first text content from a CallToolResult.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("result is nil")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

// resultJSON unmarshals the result's text content into out.
func resultJSON(t *testing.T, result *mcp.CallToolResult, out any) {
	t.Helper()
	if err := json.Unmarshal([]byte(resultText(t, result)), out); err != nil {
		t.Fatalf("unmarshal result JSON: %v", err)
	}
}

// spawnSession spawns a session via the tool and returns its id.
func spawnSession(t *testing.T, env *testEnv, projectID, parentID, mode string) string {
	t.Helper()
	args := map[string]any{"project_id": projectID, "mode": mode}
	if parentID != "" {
		args["parent_session_id"] = parentID
	}
	result, err := callTool(t, env.server, "spawn_session", args)
	if err != nil {
		t.Fatalf("spawn_session: %v", err)
	}
	var sess struct {
		ID string `json:"id"`
	}
	resultJSON(t, result, &sess)
	if sess.ID == "" {
		t.Fatalf("spawn_session returned no id: %s", resultText(t, result))
	}
	return sess.ID
}
