package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/rustyclaw/rustyclaw/internal/session"
)

const maxMessageChars = 10000

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Stream    bool   `json:"stream"`
}

type chatResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
	Response  string `json:"response"`
	LatencyMs int64  `json:"latency_ms"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("Invalid JSON body"))
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, badRequest("message cannot be empty"))
		return
	}
	if len(req.Message) > maxMessageChars {
		writeError(w, badRequest(fmt.Sprintf("message too long (max %d chars)", maxMessageChars)))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sess, err := s.router.Resolve(r.Context(), userID(r), "web")
		if err != nil {
			s.logger.Error("resolve session failed", "error", err)
			writeError(w, internal())
			return
		}
		sessionID = sess.ID
	} else if sess, err := s.store.GetSession(r.Context(), sessionID); err != nil || sess.UserID != userID(r) {
		writeError(w, notFound("Not found"))
		return
	}

	if req.Stream {
		s.streamChat(w, r, sessionID, req.Message)
		return
	}

	reply, err := s.router.ProcessSession(r.Context(), sessionID, req.Message, nil)
	if err != nil {
		s.logger.Error("chat failed", "session", sessionID, "error", err)
		writeError(w, internal())
		return
	}
	if s.metrics != nil {
		s.metrics.MessagesProcessed.WithLabelValues("web").Inc()
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Status:    "success",
		MessageID: reply.MessageID,
		SessionID: reply.SessionID,
		Input:     req.Message,
		Response:  reply.Content,
		LatencyMs: reply.LatencyMs,
	})
}

// streamChat renders the turn as Server-Sent Events: default events for
// text deltas, named events for tool lifecycle and completion.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, sessionID, message string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, internal())
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := make(chan session.StreamEvent, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.router.ProcessSession(r.Context(), sessionID, message, sink); err != nil {
			s.logger.Error("stream chat failed", "session", sessionID, "error", err)
		}
		close(sink)
	}()

	for ev := range sink {
		switch ev.Type {
		case session.EventDelta:
			writeSSE(w, "", ev.Text)
		case session.EventToolStart:
			writeSSE(w, "tool_start", ev.ToolName)
		case session.EventToolEnd:
			payload, _ := json.Marshal(map[string]string{"tool": ev.ToolName, "result": ev.Result})
			writeSSE(w, "tool_end", string(payload))
		case session.EventDone:
			payload, _ := json.Marshal(map[string]any{"model": ev.Model, "usage": ev.Usage})
			writeSSE(w, "done", string(payload))
		case session.EventError:
			writeSSE(w, "error", ev.Err)
		}
		flusher.Flush()
	}
	<-done
	if s.metrics != nil {
		s.metrics.MessagesProcessed.WithLabelValues("web").Inc()
	}
}

// writeSSE emits one SSE frame. An empty event name sends the default
// event type. Multi-line data is split across data: lines per the spec.
func writeSSE(w http.ResponseWriter, event, data string) {
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	messages, total, err := s.store.ListMessages(r.Context(), limit, offset)
	if err != nil {
		writeError(w, fromStoreErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.store.GetMessage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, fromStoreErr(err))
		return
	}
	writeJSON(w, http.StatusOK, msg)
}
