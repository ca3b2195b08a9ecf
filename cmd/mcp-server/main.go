// Conductor MCP server
// Stdio for the driving agent, HTTP for spawned workers connecting back.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/conductor/internal/app"
	"github.com/jaakkos/conductor/internal/bus"
	"github.com/jaakkos/conductor/internal/domain"
	"github.com/jaakkos/conductor/internal/policy"
	"github.com/jaakkos/conductor/internal/repository"
	"github.com/jaakkos/conductor/internal/tools/coord"
)

// Version is set by -ldflags at build time.
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Println("conductor " + Version)
			return
		}
	}

	tmpLogger := log.New(os.Stderr, "[conductor] ", log.LstdFlags|log.Lshortfile)
	cfg := loadConfig(tmpLogger)
	pol := policy.New(cfg)

	logger := setupLogger(pol.LogFile())
	logger.Println("Starting conductor server...")
	logger.Printf("Log file: %s", pol.LogFile())
	logger.Printf("State file: %s", pol.StateFile())

	store, err := repository.NewStore(pol.StateFile())
	if err != nil {
		logger.Fatalf("State store: %v", err)
	}

	eventBus := bus.New()

	// Writers poke the signal file so sibling server processes sharing the
	// database notice new rows.
	signalPath := pol.SignalFilePath()
	writeSignal := func() {
		if err := app.TouchNotifySignal(signalPath); err != nil {
			logger.Printf("Warning: touch notify signal: %v", err)
		}
	}

	lifecycle := app.NewLifecycle(store, eventBus, logger, app.WithWriteSignal(writeSignal))
	mailbox := app.NewMailbox(store, store, eventBus, logger,
		app.WithWaitPoll(pol.WaitPollInterval()),
		app.WithMailWriteSignal(writeSignal),
	)
	bridge := app.NewBridge(eventBus, logger)
	registry := app.NewClientRegistry()

	// Holds actual ClientSession objects for push notifications.
	sessions := newSessionStore()

	hooks := &server.Hooks{}
	hooks.AddAfterCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest, result *mcp.CallToolResult) {
		if message != nil {
			logger.Printf("Calling tool: %s", message.Params.Name)
		}
	})
	hooks.AddBeforeInitialize(func(ctx context.Context, id any, message *mcp.InitializeRequest) {
		if session := server.ClientSessionFromContext(ctx); session != nil {
			sessions.set(session.SessionID(), session)
			logger.Printf("Client session registered: %s", session.SessionID())
		}
	})
	// Drop filter state and identity bindings when a client disconnects.
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		sid := session.SessionID()
		agent := registry.SessionFor(sid)
		bridge.Detach(sid)
		registry.Remove(sid)
		sessions.remove(sid)
		if agent != "" {
			logger.Printf("Client session unregistered: %s (session=%s)", sid, agent)
		} else {
			logger.Printf("Client session unregistered: %s", sid)
		}
	})

	mcpServer := server.NewMCPServer(
		"conductor",
		Version,
		server.WithHooks(hooks),
	)

	coord.Register(mcpServer, coord.Deps{
		Lifecycle: lifecycle,
		Mailbox:   mailbox,
		Bridge:    bridge,
		Registry:  registry,
		Policy:    pol,
		Logger:    logger,
		SinkFor: func(clientID string) app.Sink {
			return func(ev domain.EventEnvelope) error {
				session := sessions.get(clientID)
				if session == nil || !session.Initialized() {
					return fmt.Errorf("client %s not connected", clientID)
				}
				notification := mcp.JSONRPCNotification{
					JSONRPC: "2.0",
					Notification: mcp.Notification{
						Method: "notifications/session_event",
						Params: mcp.NotificationParams{AdditionalFields: map[string]any{
							"event":       ev.Type,
							"project_id":  ev.ProjectID,
							"session_ids": ev.SessionIDs,
							"payload":     ev.Payload,
						}},
					},
				}
				select {
				case session.NotificationChannel() <- notification:
					return nil
				default:
					return fmt.Errorf("notification channel full for %s", clientID)
				}
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Keep running when daemonized (nohup, launchd, etc.)
	signal.Ignore(syscall.SIGHUP)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Watch the shared signal file so waits in this process notice writes
	// from other server processes.
	watcher := app.NewStoreWatcher(signalPath, eventBus, logger)
	go watcher.Start(ctx)

	var httpShutdown func()
	if cfg.HTTPPort > 0 {
		httpShutdown = startHTTPServer(mcpServer, cfg.HTTPPort, logger)
	}

	logger.Println("Stdio ready (driver connection)")
	stdioSrv := server.NewStdioServer(mcpServer)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Printf("Stdio server stopped: %v", err)
	}

	cancel()
	if httpShutdown != nil {
		httpShutdown()
	}
	watcher.Stop()
	bridge.Close()
	eventBus.Close()

	if err := store.Close(); err != nil {
		logger.Printf("Warning: close state store: %v", err)
	}

	logger.Println("Server stopped")
}

// startHTTPServer starts the HTTP transport in the background for workers
// connecting back. Returns a shutdown function. Uses net.Listen to support
// port 0 (auto-assign).
func startHTTPServer(mcpServer *server.MCPServer, port int, logger *log.Logger) func() {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Fatalf("HTTP listen: %v", err)
	}
	actualPort := ln.Addr().(*net.TCPAddr).Port
	baseURL := fmt.Sprintf("http://localhost:%d", actualPort)
	logger.Printf("HTTP server on :%d", actualPort)
	logger.Printf("  Workers connect at: %s/mcp", baseURL)

	sseSrv := server.NewSSEServer(mcpServer, server.WithBaseURL(baseURL))
	streamSrv := server.NewStreamableHTTPServer(mcpServer)

	mux := http.NewServeMux()
	mux.Handle("/sse", sseSrv)
	mux.Handle("/sse/", sseSrv)
	mux.Handle("/message", sseSrv)
	mux.Handle("/mcp", streamSrv)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","port":%d}`, actualPort)
	})

	httpServer := &http.Server{Handler: mux}
	go func() {
		if err := httpServer.Serve(ln); err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}
	}
}

// sessionStore holds active ClientSession objects for push notifications.
type sessionStore struct {
	mu   sync.RWMutex
	data map[string]server.ClientSession
}

func newSessionStore() *sessionStore {
	return &sessionStore{data: make(map[string]server.ClientSession)}
}

func (ss *sessionStore) set(id string, s server.ClientSession) {
	ss.mu.Lock()
	ss.data[id] = s
	ss.mu.Unlock()
}

func (ss *sessionStore) get(id string) server.ClientSession {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.data[id]
}

func (ss *sessionStore) remove(id string) {
	ss.mu.Lock()
	delete(ss.data, id)
	ss.mu.Unlock()
}

// setupLogger creates a logger that writes to a log file and optionally stderr.
// When stderr is redirected (daemon mode via nohup), logs go only to the file
// to avoid duplicate lines.
func setupLogger(logFilePath string) *log.Logger {
	var writers []io.Writer

	stderrIsTerminal := false
	if info, err := os.Stderr.Stat(); err == nil {
		stderrIsTerminal = (info.Mode() & os.ModeCharDevice) != 0
	}

	hasLogFile := false
	lower := strings.ToLower(logFilePath)
	if lower != "none" && lower != "off" && logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err == nil {
			f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				writers = append(writers, f)
				hasLogFile = true
			} else {
				fmt.Fprintf(os.Stderr, "[conductor] Warning: cannot open log file %s: %v\n", logFilePath, err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "[conductor] Warning: cannot create log dir %s: %v\n", filepath.Dir(logFilePath), err)
		}
	}

	if stderrIsTerminal || !hasLogFile {
		writers = append(writers, os.Stderr)
	}

	return log.New(io.MultiWriter(writers...), "[conductor] ", log.LstdFlags|log.Lshortfile)
}

func loadConfig(logger *log.Logger) *policy.Config {
	cfg := policy.DefaultConfig()
	if configPath := os.Getenv("CONDUCTOR_CONFIG"); configPath != "" {
		var err error
		cfg, err = policy.LoadConfig(configPath)
		if err != nil {
			logger.Printf("Warning: failed to load config %s: %v, using defaults", configPath, err)
			cfg = policy.DefaultConfig()
		}
	}
	if cfg.WorkspaceRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to get working directory: %v\n", err)
			os.Exit(1)
		}
		cfg.WorkspaceRoot = cwd
	}
	return cfg
}
