package intake

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/cypherguy/internal/chat"
	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// inbound mirrors Outbound with a raw payload for decoding in tests.
type inbound struct {
	Type    string          `json:"type"`
	Sender  string          `json:"sender"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newMessageServer(t *testing.T, silentDrop bool, limiter *RateLimiter) (string, *testEnv, *Connections) {
	t.Helper()
	env := newTestEnv(t, limiter)
	conns := NewConnections()
	srv := httptest.NewServer(NewMessageHandler(env.handler, conns, silentDrop, nil))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), env, conns
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func dialMessages(t *testing.T, silentDrop bool) (*websocket.Conn, *testEnv, *Connections) {
	t.Helper()
	url, env, conns := newMessageServer(t, silentDrop, nil)
	return dial(t, url), env, conns
}

func roundTrip(t *testing.T, conn *websocket.Conn, v any) inbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, v); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out inbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	return out
}

func TestMessages_AuthThenCredit(t *testing.T) {
	conn, env, conns := dialMessages(t, false)

	out := roundTrip(t, conn, map[string]any{
		"type": "auth", "sender": "dave", "wallet_address": testWallet, "signature": "sig",
	})
	if out.Type != "auth_result" || out.Sender != "dave" {
		t.Fatalf("Unexpected auth envelope %+v", out)
	}
	var session domain.SessionResult
	if err := json.Unmarshal(out.Data, &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if !session.Success || session.UserID != "dave" {
		t.Fatalf("Expected dave authenticated, got %+v", session)
	}
	if conns.Get("dave") == nil {
		t.Error("Expected connection registered for dave")
	}

	out = roundTrip(t, conn, map[string]any{
		"type": "credit", "sender": "dave", "session_token": session.SessionToken, "amount": 1500, "token": "USDC",
	})
	if out.Type != "credit_result" {
		t.Fatalf("Expected credit_result, got %+v", out)
	}
	var resp domain.Response
	if err := json.Unmarshal(out.Data, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.RequestID != "credit_1" {
		t.Errorf("Unexpected credit response %+v", resp)
	}
	if len(env.stage.forwarded()) != 1 || env.stage.forwarded()[0].UserID != "dave" {
		t.Errorf("Expected credit forwarded for dave, got %+v", env.stage.forwarded())
	}
}

func TestMessages_InvalidSessionRejected(t *testing.T) {
	conn, env, _ := dialMessages(t, false)

	out := roundTrip(t, conn, map[string]any{"type": "trade", "sender": "eve", "session_token": "forged", "sell_amount": 20})
	if out.Type != EnvelopeError || out.Message != "invalid session token" {
		t.Errorf("Expected invalid session envelope, got %+v", out)
	}
	if len(env.stage.forwarded()) != 0 {
		t.Errorf("Expected no downstream call, got %d", len(env.stage.forwarded()))
	}
}

func TestMessages_InvalidSessionSilentDrop(t *testing.T) {
	conn, _, _ := dialMessages(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, map[string]any{"type": "trade", "session_token": "forged"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// The next answer must be the pong, proving the forged message got nothing.
	out := roundTrip(t, conn, map[string]any{"type": "ping"})
	if out.Type != EnvelopePong {
		t.Errorf("Expected pong after dropped message, got %+v", out)
	}
}

func TestMessages_Chat(t *testing.T) {
	conn, _, _ := dialMessages(t, false)

	out := roundTrip(t, conn, map[string]any{"type": "chat", "sender": "frank", "msg_id": "a1", "kind": "start_session"})
	var reply chat.Reply
	if err := json.Unmarshal(out.Data, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if out.Type != EnvelopeChat || reply.AckID != "a1" || reply.Text != chat.WelcomeReply {
		t.Errorf("Unexpected chat reply %+v %+v", out, reply)
	}
}

func TestMessages_UnknownType(t *testing.T) {
	conn, _, _ := dialMessages(t, false)

	out := roundTrip(t, conn, map[string]any{"type": "lottery"})
	if out.Type != EnvelopeError || !strings.Contains(out.Message, "lottery") {
		t.Errorf("Expected unknown type error, got %+v", out)
	}
}

func TestConnections_ReplaceAndUnregister(t *testing.T) {
	c := NewConnections()
	a := &websocket.Conn{}
	b := &websocket.Conn{}

	c.Register("u", a, false)
	c.Unregister("u", b)
	if c.Get("u") != a {
		t.Error("Expected stale unregister to keep the live connection")
	}
	c.Unregister("u", a)
	if c.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", c.Len())
	}
}

func TestConnections_UnverifiedCannotDisplaceVerified(t *testing.T) {
	c := NewConnections()
	owner := &websocket.Conn{}
	intruder := &websocket.Conn{}

	if !c.Register("dave", owner, true) {
		t.Fatal("Expected verified registration to succeed")
	}
	if c.Register("dave", intruder, false) {
		t.Error("Expected unverified claim to be refused")
	}
	if c.Get("dave") != owner {
		t.Error("Expected the verified connection to stay bound")
	}
}

func authenticate(t *testing.T, conn *websocket.Conn, user string) string {
	t.Helper()
	out := roundTrip(t, conn, map[string]any{
		"type": "auth", "sender": user, "wallet_address": testWallet, "signature": "sig",
	})
	var session domain.SessionResult
	if err := json.Unmarshal(out.Data, &session); err != nil || !session.Success {
		t.Fatalf("auth as %s failed: %v %+v", user, err, out)
	}
	return session.SessionToken
}

func TestMessages_SenderBoundToSession(t *testing.T) {
	url, env, conns := newMessageServer(t, false, nil)
	dave := dial(t, url)
	token := authenticate(t, dave, "dave")

	out := roundTrip(t, dave, map[string]any{"type": "chat", "sender": "frank", "msg_id": "c1", "kind": "start_session"})
	if out.Sender != "dave" {
		t.Errorf("Expected authenticated connection to speak as dave, got %q", out.Sender)
	}
	if conns.Get("frank") != nil {
		t.Error("Expected no connection registered for frank")
	}

	out = roundTrip(t, dave, map[string]any{
		"type": "credit", "user_id": "frank", "session_token": token, "amount": 1500,
	})
	if out.Type != "credit_result" {
		t.Fatalf("Expected credit_result, got %+v", out)
	}
	if fwd := env.stage.forwarded(); len(fwd) != 1 || fwd[0].UserID != "dave" {
		t.Errorf("Expected request attributed to dave, got %+v", fwd)
	}

	intruder := dial(t, url)
	out = roundTrip(t, intruder, map[string]any{"type": "chat", "sender": "dave", "msg_id": "x1", "kind": "start_session"})
	if out.Type != EnvelopeError || !strings.Contains(out.Message, "already connected") {
		t.Errorf("Expected claim on dave refused, got %+v", out)
	}
	if conns.Get("dave") == nil {
		t.Error("Expected dave to stay connected")
	}
}

func TestMessages_RateLimitIgnoresClaimedUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url, env, _ := newMessageServer(t, false, NewRateLimiter(ctx, 2, time.Minute))
	conn := dial(t, url)

	var limited int
	for i, user := range []string{"u1", "u2", "u3", "u4"} {
		out := roundTrip(t, conn, map[string]any{
			"type": "credit", "user_id": user, "session_token": env.token, "amount": 1000 + i,
		})
		if out.Type == EnvelopeError && out.Message == "rate limit exceeded" {
			limited++
		}
	}
	if limited != 2 {
		t.Errorf("Expected 2 rate-limited envelopes, got %d", limited)
	}
	if n := len(env.stage.forwarded()); n != 2 {
		t.Errorf("Expected 2 forwarded requests, got %d", n)
	}
}
