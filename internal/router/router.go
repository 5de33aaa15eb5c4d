// Package router is the thin facade channels and the API call into:
// it maps (user, channel) onto a session and forwards the message to
// the session manager.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rustyclaw/rustyclaw/internal/session"
	"github.com/rustyclaw/rustyclaw/internal/storage"
)

// Router routes inbound utterances to sessions.
type Router struct {
	sessions *session.Manager
	logger   *slog.Logger
}

// New creates a router over the session manager.
func New(sessions *session.Manager, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sessions: sessions, logger: logger.With("component", "router")}
}

// Resolve returns the session for (user, channel), creating it if needed.
func (r *Router) Resolve(ctx context.Context, userID, channel string) (*storage.Session, error) {
	return r.sessions.Resolve(ctx, userID, channel)
}

// HandleMessage processes one utterance synchronously and returns the
// assistant reply.
func (r *Router) HandleMessage(ctx context.Context, userID, channel, content string) (*session.Reply, error) {
	sess, err := r.sessions.Resolve(ctx, userID, channel)
	if err != nil {
		return nil, err
	}
	reply, err := r.sessions.Process(ctx, sess.ID, content, nil)
	if err != nil {
		return nil, fmt.Errorf("process message: %w", err)
	}
	r.logger.Info("message processed",
		"session", sess.ID, "channel", channel, "model", reply.Model, "tokens", reply.Usage.TotalTokens())
	return reply, nil
}

// HandleMessageStream processes one utterance, emitting StreamEvents to
// sink in order. The caller owns the sink's receive end; the sink is
// not closed by this call.
func (r *Router) HandleMessageStream(ctx context.Context, userID, channel, content string, sink chan<- session.StreamEvent) (*session.Reply, error) {
	sess, err := r.sessions.Resolve(ctx, userID, channel)
	if err != nil {
		return nil, err
	}
	return r.sessions.Process(ctx, sess.ID, content, sink)
}

// ProcessSession runs a turn against an explicit session id.
func (r *Router) ProcessSession(ctx context.Context, sessionID, content string, sink chan<- session.StreamEvent) (*session.Reply, error) {
	return r.sessions.Process(ctx, sessionID, content, sink)
}

// ClearSession resets the conversation for (user, channel).
func (r *Router) ClearSession(ctx context.Context, userID, channel string) error {
	sess, err := r.sessions.Resolve(ctx, userID, channel)
	if err != nil {
		return err
	}
	return r.sessions.Clear(ctx, sess.ID)
}
