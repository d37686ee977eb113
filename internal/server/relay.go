package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/presencehub/internal/auth"
)

// ChatRelay validates inbound chat frames, appends accepted messages to the
// bounded history and republishes the history to every session. Each frame
// carries its own token; the identity verified at upgrade is not reused.
type ChatRelay struct {
	hub        *Hub
	tokens     TokenVerifier
	historyCap int
	now        func() time.Time
	log        *zap.Logger
}

func newChatRelay(hub *Hub, tokens TokenVerifier, historyCap int) *ChatRelay {
	return &ChatRelay{
		hub:        hub,
		tokens:     tokens,
		historyCap: historyCap,
		now:        time.Now,
		log:        hub.log.With(zap.String("component", "relay")),
	}
}

// Handle processes one raw inbound frame from c. Errors are reported to c only.
func (r *ChatRelay) Handle(ctx context.Context, c *Client, raw []byte) {
	frame, err := parseInbound(raw)
	if err != nil {
		r.reject(c, "malformed", err)
		return
	}

	identity, err := r.tokens.VerifyAccess(frame.Token)
	if err != nil {
		r.reject(c, authReason(err), err)
		return
	}

	if frame.ChatMessage == "" {
		return
	}
	r.accept(ctx, identity, frame.ChatMessage)
}

func (r *ChatRelay) accept(ctx context.Context, identity auth.Identity, text string) {
	record, err := json.Marshal(MessageRecord{
		Name:    identity.Name,
		Message: text,
		Date:    r.now().UnixMilli(),
	})
	if err != nil {
		r.log.Error("encode message record", zap.Error(err))
		return
	}

	r.hub.store.AppendBounded(ctx, MessagesKey, string(record), r.historyCap)
	r.hub.metrics.recordChatAccepted()
	r.hub.broadcast(encodeFrame(messagesFrame{Messages: r.history(ctx)}))
}

func (r *ChatRelay) reject(c *Client, reason string, err error) {
	r.hub.metrics.recordChatRejected(reason)
	r.log.Debug("rejecting frame", zap.String("session", c.id), zap.String("reason", reason), zap.Error(err))
	r.hub.sendTo(c, errorFrame(err))
}

// history reads the bounded history oldest-first. Undecodable entries are skipped.
func (r *ChatRelay) history(ctx context.Context) []MessageRecord {
	raw := r.hub.store.ReadBoundedList(ctx, MessagesKey, r.historyCap)
	records := make([]MessageRecord, 0, len(raw))
	for _, entry := range raw {
		var rec MessageRecord
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			r.log.Warn("skipping undecodable history entry", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records
}

func authReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissing):
		return "missing"
	case errors.Is(err, auth.ErrExpired):
		return "expired"
	case errors.Is(err, auth.ErrInvalid):
		return "invalid"
	default:
		return "error"
	}
}
