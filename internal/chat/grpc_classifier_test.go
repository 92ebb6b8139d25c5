package chat

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ashureev/cypherguy/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func startClassifierServer(t *testing.T, backend TextClassifier) *GRPCClassifier {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterClassifierServer(srv, backend)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cfg := DefaultGRPCClassifierConfig("passthrough:///bufnet")
	cfg.ConnectTimeout = 2 * time.Second
	client, err := NewGRPCClassifier(cfg, nil, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("NewGRPCClassifier failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestGRPCClassifier_RoundTrip(t *testing.T) {
	client := startClassifierServer(t, KeywordClassifier{})

	got, err := client.Classify(context.Background(), "I want to swap SOL")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if got != domain.CategoryTrade {
		t.Errorf("Expected trade, got %s", got)
	}
}

func TestGRPCClassifier_NoIntent(t *testing.T) {
	client := startClassifierServer(t, KeywordClassifier{})

	if _, err := client.Classify(context.Background(), "bananas"); !errors.Is(err, ErrNoIntent) {
		t.Errorf("Expected ErrNoIntent, got %v", err)
	}
}

func TestGRPCClassifier_BackendError(t *testing.T) {
	client := startClassifierServer(t, &stubClassifier{err: errors.New("model offline")})

	_, err := client.Classify(context.Background(), "bananas")
	if err == nil || errors.Is(err, ErrNoIntent) {
		t.Errorf("Expected transport error, got %v", err)
	}
}

func TestGRPCClassifier_AsChatFallback(t *testing.T) {
	client := startClassifierServer(t, &stubClassifier{intent: domain.CategoryAutomation})

	_, reply := NewClassifier(client).ClassifyTurn(context.Background(), "u", "bananas", domain.NewChatContext("u"))
	if reply != "I see you're interested in automation. Let me help you with that!" {
		t.Errorf("Unexpected reply %q", reply)
	}
}

func TestNewGRPCClassifier_Unreachable(t *testing.T) {
	cfg := DefaultGRPCClassifierConfig("127.0.0.1:1")
	cfg.ConnectTimeout = 200 * time.Millisecond
	if _, err := NewGRPCClassifier(cfg, nil); err == nil {
		t.Error("Expected readiness error")
	}
}
