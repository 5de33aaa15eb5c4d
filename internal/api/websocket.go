package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rustyclaw/rustyclaw/internal/approval"
	"github.com/rustyclaw/rustyclaw/internal/session"
)

const (
	wsPingInterval = 30 * time.Second
	// wsPongWait closes the connection after two missed pongs.
	wsPongWait   = 2 * wsPingInterval
	wsWriteWait  = 10 * time.Second
	wsSendBuffer = 64
	wsMaxPayload = 1 << 20
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsEnvelope is the tagged frame exchanged with WebSocket clients.
type wsEnvelope struct {
	Type string `json:"type"`

	// message / stream
	Content string `json:"content,omitempty"`

	// connected / start / end
	SessionID   string `json:"session_id,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	TotalTokens int    `json:"total_tokens,omitempty"`
	Model       string `json:"model,omitempty"`
	LatencyMs   int64  `json:"latency_ms,omitempty"`

	// error
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`

	// approval_request / approval_response
	RequestID          string `json:"request_id,omitempty"`
	ToolName           string `json:"tool_name,omitempty"`
	Arguments          string `json:"arguments,omitempty"`
	Policy             string `json:"policy,omitempty"`
	SandboxAvailable   bool   `json:"sandbox_available,omitempty"`
	Approved           bool   `json:"approved,omitempty"`
	UseSandbox         bool   `json:"use_sandbox,omitempty"`
	RememberForSession bool   `json:"remember_for_session,omitempty"`
}

// wsClient is one connected control client.
type wsClient struct {
	conn      *websocket.Conn
	send      chan wsEnvelope
	sessionID string
	userID    string
}

// wsHub tracks connected clients for approval broadcast.
type wsHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	logger  *slog.Logger
}

func newWSHub(logger *slog.Logger) *wsHub {
	return &wsHub{
		clients: make(map[*wsClient]struct{}),
		logger:  logger,
	}
}

func (h *wsHub) add(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// broadcastApproval pushes an approval request to every connected
// client. Fire-and-forget: a full buffer drops the frame and the
// pending approval simply expires.
func (h *wsHub) broadcastApproval(pending approval.Pending) {
	frame := wsEnvelope{
		Type:             "approval_request",
		RequestID:        pending.RequestID,
		ToolName:         pending.ToolName,
		Arguments:        pending.Arguments,
		Policy:           pending.Policy,
		SandboxAvailable: pending.SandboxAvailable,
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- frame:
		default:
			h.logger.Warn("dropping approval_request for slow ws client")
		}
	}
}

// handleWebSocket upgrades the connection, authenticates via the token
// query parameter and runs the read/write pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	uid, err := s.auth.ResolveToken(r.Context(), token)
	if err != nil {
		writeError(w, unauthorized())
		return
	}

	sess, err := s.router.Resolve(r.Context(), uid, "web")
	if err != nil {
		s.logger.Error("ws session resolve failed", "error", err)
		writeError(w, internal())
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn:      conn,
		send:      make(chan wsEnvelope, wsSendBuffer),
		sessionID: sess.ID,
		userID:    uid,
	}
	s.hub.add(client)
	defer s.hub.remove(client)

	client.send <- wsEnvelope{Type: "connected", SessionID: sess.ID}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.wsWritePump(ctx, client)
	s.wsReadPump(ctx, client)
}

// wsReadPump consumes client frames until the connection dies.
func (s *Server) wsReadPump(ctx context.Context, client *wsClient) {
	defer client.conn.Close()
	client.conn.SetReadLimit(wsMaxPayload)
	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame wsEnvelope
		if err := json.Unmarshal(raw, &frame); err != nil {
			client.send <- wsEnvelope{Type: "error", Error: "Invalid message format", ErrorCode: 400}
			continue
		}

		switch frame.Type {
		case "message":
			s.wsHandleMessage(ctx, client, frame.Content)
		case "pong":
			_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		case "approval_response":
			if frame.RequestID == "" {
				client.send <- wsEnvelope{Type: "error", Error: "request_id is required", ErrorCode: 400}
				continue
			}
			s.approvals.Submit(frame.RequestID, frame.Approved, frame.UseSandbox, frame.RememberForSession)
			if s.metrics != nil {
				decision := "denied"
				if frame.Approved {
					decision = "approved"
				}
				s.metrics.Approvals.WithLabelValues(decision).Inc()
			}
		default:
			s.logger.Debug("unexpected ws frame", "type", frame.Type)
		}
	}
}

// wsWritePump serializes all writes: queued frames and periodic pings.
func (s *Server) wsWritePump(ctx context.Context, client *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	defer client.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-client.send:
			if !ok {
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteJSON(wsEnvelope{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

// wsHandleMessage runs one turn, streaming frames back to the client.
func (s *Server) wsHandleMessage(ctx context.Context, client *wsClient, content string) {
	if content == "" {
		client.send <- wsEnvelope{Type: "error", Error: "message cannot be empty", ErrorCode: 400}
		return
	}
	if len(content) > maxMessageChars {
		client.send <- wsEnvelope{Type: "error", Error: "message too long", ErrorCode: 400}
		return
	}

	messageID := "msg-" + uuid.NewString()
	start := time.Now()
	client.send <- wsEnvelope{Type: "start", SessionID: client.sessionID, MessageID: messageID}

	sink := make(chan session.StreamEvent, 32)
	done := make(chan *session.Reply, 1)
	go func() {
		reply, err := s.router.ProcessSession(ctx, client.sessionID, content, sink)
		if err != nil {
			s.logger.Error("ws message failed", "session", client.sessionID, "error", err)
		}
		close(sink)
		done <- reply
	}()

	for ev := range sink {
		switch ev.Type {
		case session.EventDelta:
			client.send <- wsEnvelope{Type: "stream", Content: ev.Text}
		case session.EventError:
			client.send <- wsEnvelope{Type: "error", Error: ev.Err, ErrorCode: 500}
		}
	}

	reply := <-done
	if reply == nil {
		client.send <- wsEnvelope{Type: "error", Error: "Failed to process message", ErrorCode: 500}
		return
	}
	client.send <- wsEnvelope{
		Type:        "end",
		MessageID:   messageID,
		TotalTokens: reply.Usage.TotalTokens(),
		Model:       reply.Model,
		LatencyMs:   time.Since(start).Milliseconds(),
	}
	if s.metrics != nil {
		s.metrics.MessagesProcessed.WithLabelValues("ws").Inc()
	}
}
