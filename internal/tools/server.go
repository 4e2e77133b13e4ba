// Package tools exposes individual engine capabilities as callable tools to
// an external supervisor over a bidirectional text-frame protocol. Each frame
// is one JSON object; requests carry {id, method, params, timestamp} and
// responses {id, result|error, timestamp}.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming frame.
	maxMessageSize = 65536

	// callTimeout bounds a single tool invocation.
	callTimeout = 150 * time.Second
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The tools port binds on operator infrastructure; origin checks are
		// left to the deployment.
		return true
	},
}

// Handler executes one tool call. params is the raw JSON params object.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Tool is one named capability with its input schema.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	Handler     Handler        `json:"-"`
}

// request is the inbound frame shape.
type request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// response is the outbound frame shape.
type response struct {
	ID        string `json:"id"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// callParams is the params shape of a tools/call request.
type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Server serves the tool registry over WebSocket.
type Server struct {
	srv    *http.Server
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// NewServer creates a tools server on the given port with the given tool
// set.
func NewServer(port int, tools []Tool, logger *slog.Logger) *Server {
	s := &Server{
		tools:  make(map[string]Tool, len(tools)),
		logger: logger.With(slog.String("component", "tools_server")),
	}
	for _, t := range tools {
		s.tools[t.Name] = t
		s.order = append(s.order, t.Name)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("tools server listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("tools: serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

// handleWS upgrades the connection and runs the frame loop until the peer
// disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Writes come from both the ping ticker and call handlers.
	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	s.logger.Info("supervisor connected", slog.String("remote", conn.RemoteAddr().String()))

	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("read failed", slog.String("error", err.Error()))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		resp := s.dispatch(r.Context(), req)
		if err := write(resp); err != nil {
			s.logger.Warn("write failed", slog.String("error", err.Error()))
			return
		}
	}
}

// dispatch routes one request frame.
func (s *Server) dispatch(ctx context.Context, req request) response {
	resp := response{ID: req.ID, Timestamp: time.Now().UnixMilli()}

	switch req.Method {
	case "tools/list":
		list := make([]Tool, 0, len(s.order))
		for _, name := range s.order {
			list = append(list, s.tools[name])
		}
		resp.Result = map[string]any{"tools": list}

	case "tools/call":
		var call callParams
		if err := json.Unmarshal(req.Params, &call); err != nil {
			resp.Error = "invalid params: " + err.Error()
			return resp
		}
		tool, ok := s.tools[call.Name]
		if !ok {
			resp.Error = fmt.Sprintf("unknown tool %q", call.Name)
			return resp
		}

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		result, err := tool.Handler(callCtx, call.Arguments)
		cancel()
		if err != nil {
			s.logger.Warn("tool call failed",
				slog.String("tool", call.Name),
				slog.String("error", err.Error()),
			)
			resp.Error = err.Error()
			return resp
		}
		resp.Result = result

	default:
		resp.Error = fmt.Sprintf("unknown method %q", req.Method)
	}

	return resp
}
