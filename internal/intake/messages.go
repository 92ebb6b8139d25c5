package intake

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/cypherguy/internal/chat"
	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/ashureev/cypherguy/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Envelope types on the message surface.
const (
	EnvelopeAuth  = "auth"
	EnvelopeChat  = "chat"
	EnvelopeError = "error"
	EnvelopePong  = "pong"
	envelopePing  = "ping"
	resultSuffix  = "_result"
	writeTimeout  = 5 * time.Second
)

// Envelope is one inbound message. Type is auth, chat, ping or a category
// name; the remaining fields are read according to Type.
type Envelope struct {
	Type      string `json:"type"`
	Sender    string `json:"sender,omitempty"`
	Signature string `json:"signature,omitempty"`
	domain.Request
	chat.Message
}

// Outbound is one message sent back to a client.
type Outbound struct {
	Type    string `json:"type"`
	Sender  string `json:"sender,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// MessageHandler serves the websocket message surface.
type MessageHandler struct {
	handler    *Handler
	conns      *Connections
	silentDrop bool
	origins    []string
}

// NewMessageHandler creates the message surface on top of the HTTP handler's
// services. With silentDrop set, requests carrying an invalid session are
// logged and not answered.
func NewMessageHandler(h *Handler, conns *Connections, silentDrop bool, origins []string) *MessageHandler {
	if conns == nil {
		conns = NewConnections()
	}
	return &MessageHandler{handler: h, conns: conns, silentDrop: silentDrop, origins: origins}
}

// ServeHTTP upgrades the request and runs the read loop.
func (m *MessageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(m.origins) > 0 {
		opts.OriginPatterns = m.origins
	} else {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("failed to accept websocket", "error", err, "ip", identity.IPFromRequest(r))
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "closed"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr)
		}
	}()

	ctx := r.Context()
	p := &peer{addr: identity.IPFromRequest(r), token: identity.TokenFromContext(ctx)}
	if s := identity.SessionFromContext(ctx); s != nil {
		p.owner = s.UserID
	}

	var (
		registered string
		verified   bool
	)
	defer func() {
		if registered != "" {
			m.conns.Unregister(registered, conn)
		}
	}()
	bind := func(sender string) bool {
		v := p.owner != ""
		if sender == registered && v == verified {
			return true
		}
		if !m.conns.Register(sender, conn, v) {
			return false
		}
		if registered != "" && registered != sender {
			m.conns.Unregister(registered, conn)
		}
		registered, verified = sender, v
		return true
	}

	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("websocket closed by client", "sender", registered)
			} else {
				slog.Warn("websocket read error", "error", err, "sender", registered)
			}
			return
		}

		sender := p.sender(env.Sender)
		var (
			out Outbound
			ok  = true
		)
		// Auth proves the claimed name, so it may run before the name is bound.
		if env.Type == EnvelopeAuth || bind(sender) {
			out, ok = m.dispatch(ctx, p, sender, env)
			if now := p.sender(env.Sender); bind(now) {
				sender = now
			}
		} else {
			out = errorEnvelope("sender already connected: " + sender)
		}
		if !ok {
			continue
		}
		out.Sender = sender
		if err := m.write(ctx, conn, out); err != nil {
			slog.Warn("websocket write failed", "error", err, "sender", sender)
			return
		}
	}
}

// peer is the identity of one websocket connection. Once a valid session is
// seen, owner is the only sender the connection may speak for.
type peer struct {
	owner string
	token string
	addr  string
}

func (p *peer) sender(claimed string) string {
	switch {
	case p.owner != "":
		return p.owner
	case claimed != "":
		return claimed
	default:
		return p.addr
	}
}

// dispatch handles one envelope. ok is false when nothing should be sent.
func (m *MessageHandler) dispatch(ctx context.Context, p *peer, sender string, env Envelope) (Outbound, bool) {
	switch env.Type {
	case envelopePing:
		return Outbound{Type: EnvelopePong}, true

	case EnvelopeAuth:
		userID := env.UserID
		if userID == "" {
			userID = sender
		}
		res, err := m.handler.auth.Authenticate(ctx, userID, env.WalletAddress, env.Signature)
		if err != nil {
			slog.Error("authentication failed", "sender", sender, "error", err)
			return errorEnvelope("authentication failed"), true
		}
		if res.Success {
			p.owner = res.UserID
			p.token = res.SessionToken
		}
		return Outbound{Type: EnvelopeAuth + resultSuffix, Data: res}, true

	case EnvelopeChat:
		reply, err := m.handler.chat.Handle(ctx, sender, env.Message)
		if err != nil {
			slog.Error("chat failed", "sender", sender, "error", err)
			return errorEnvelope("chat failed"), true
		}
		return Outbound{Type: EnvelopeChat, Data: reply}, true
	}

	category, err := domain.ParseCategory(env.Type)
	if err != nil {
		return errorEnvelope("unknown message type: " + env.Type), true
	}

	req := env.Request
	if req.SessionToken == "" {
		req.SessionToken = p.token
	}
	session, err := m.handler.svc.Authorize(ctx, req.SessionToken)
	if err != nil && !errors.Is(err, ErrInvalidSession) {
		slog.Error("session lookup failed", "sender", sender, "error", err)
		return errorEnvelope("session lookup failed"), true
	}
	if !m.handler.limiter.Allow(rateKey(session, p.addr)) {
		return errorEnvelope("rate limit exceeded"), true
	}
	if session == nil {
		if m.silentDrop {
			slog.Warn("dropping message with invalid session", "sender", sender, "type", env.Type)
			return Outbound{}, false
		}
		return errorEnvelope(ErrInvalidSession.Error()), true
	}
	p.owner = session.UserID

	resp, err := m.handler.svc.Submit(ctx, session, category, req)
	if err != nil {
		slog.Error("message processing failed", "sender", sender, "category", category, "error", err)
		return Outbound{Type: string(category) + resultSuffix, Data: domain.Reject(category, err.Error())}, true
	}
	return Outbound{Type: string(category) + resultSuffix, Data: resp}, true
}

func (m *MessageHandler) write(ctx context.Context, conn *websocket.Conn, v Outbound) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, v)
}

func errorEnvelope(message string) Outbound {
	return Outbound{Type: EnvelopeError, Message: message}
}
