package intake

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/cypherguy/internal/auth"
	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/ashureev/cypherguy/internal/pipeline"
	"github.com/ashureev/cypherguy/internal/store"
)

const testWallet = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

// recordingStage captures forwarded requests and answers with an approval.
type recordingStage struct {
	mu    sync.Mutex
	calls []domain.Request
	err   error
}

func (s *recordingStage) Handle(_ context.Context, category domain.Category, req domain.Request) (domain.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return domain.Response{}, s.err
	}
	resp := domain.Response{Success: true, Message: "ok"}
	resp.SetOutcome(category, true)
	return resp, nil
}

func (s *recordingStage) forwarded() []domain.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Request(nil), s.calls...)
}

func newTestService(t *testing.T, next pipeline.Stage) (*Service, *auth.Authenticator, store.Repository, string) {
	t.Helper()
	repo := store.NewMemory()
	authn := auth.New(repo)
	res, err := authn.Authenticate(context.Background(), "alice", testWallet, "sig")
	if err != nil || !res.Success {
		t.Fatalf("Authenticate failed: %v %+v", err, res)
	}
	return NewService(authn, repo, next), authn, repo, res.SessionToken
}

func TestService_InvalidSession(t *testing.T) {
	stage := &recordingStage{}
	svc, _, repo, _ := newTestService(t, stage)

	_, err := svc.Process(context.Background(), domain.CategoryCredit, domain.Request{SessionToken: "nope", Amount: 1000})
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("Expected ErrInvalidSession, got %v", err)
	}
	if len(stage.forwarded()) != 0 {
		t.Errorf("Expected no downstream call, got %d", len(stage.forwarded()))
	}
	counts, _ := repo.CountRequests(context.Background())
	if counts[domain.CategoryCredit] != 0 {
		t.Errorf("Expected nothing stored, got %d", counts[domain.CategoryCredit])
	}
}

func TestService_ForwardsAndStores(t *testing.T) {
	stage := &recordingStage{}
	svc, _, repo, token := newTestService(t, stage)

	resp, err := svc.Process(context.Background(), domain.CategoryCredit, domain.Request{SessionToken: token, Amount: 1000, Token: "SOL"})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !resp.Success || !resp.Outcome() {
		t.Errorf("Expected approval, got %+v", resp)
	}
	if resp.RequestID != "credit_1" {
		t.Errorf("Expected request id credit_1, got %q", resp.RequestID)
	}
	if len(stage.forwarded()) != 1 {
		t.Fatalf("Expected one downstream call, got %d", len(stage.forwarded()))
	}
	fwd := stage.forwarded()[0]
	if fwd.SessionToken != "" {
		t.Error("Expected session token stripped before forwarding")
	}
	if fwd.UserID != "alice" || fwd.WalletAddress != testWallet {
		t.Errorf("Expected identity filled from session, got %q %q", fwd.UserID, fwd.WalletAddress)
	}

	records, _ := repo.ListRequests(context.Background(), domain.CategoryCredit)
	if len(records) != 1 || records[0].Fields["amount"] != 1000.0 {
		t.Errorf("Expected stored record with amount, got %+v", records)
	}
}

func TestService_SessionOwnsRequest(t *testing.T) {
	stage := &recordingStage{}
	svc, _, repo, token := newTestService(t, stage)

	_, err := svc.Process(context.Background(), domain.CategoryCredit, domain.Request{SessionToken: token, UserID: "mallory", Amount: 1000})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if fwd := stage.forwarded(); len(fwd) != 1 || fwd[0].UserID != "alice" {
		t.Errorf("Expected request forwarded as alice, got %+v", fwd)
	}
	records, _ := repo.ListRequests(context.Background(), domain.CategoryCredit)
	if len(records) != 1 || records[0].UserID != "alice" {
		t.Errorf("Expected record stored for alice, got %+v", records)
	}
}

func TestService_Bounds(t *testing.T) {
	tests := []struct {
		name     string
		category domain.Category
		req      domain.Request
		wantMsg  string
	}{
		{"credit too small", domain.CategoryCredit, domain.Request{Amount: 99}, creditBoundsMsg},
		{"credit too large", domain.CategoryCredit, domain.Request{Amount: 100001}, creditBoundsMsg},
		{"rwa too small", domain.CategoryRWA, domain.Request{PropertyValue: 10000}, propertyBoundsMsg},
		{"automation too small", domain.CategoryAutomation, domain.Request{PortfolioValue: 999}, portfolioBoundsMsg},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage := &recordingStage{}
			svc, _, _, token := newTestService(t, stage)
			tt.req.SessionToken = token

			resp, err := svc.Process(context.Background(), tt.category, tt.req)
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if resp.Success || resp.Outcome() {
				t.Errorf("Expected rejection, got %+v", resp)
			}
			if resp.Message != tt.wantMsg {
				t.Errorf("Expected %q, got %q", tt.wantMsg, resp.Message)
			}
			if len(stage.forwarded()) != 0 {
				t.Errorf("Expected no downstream call, got %d", len(stage.forwarded()))
			}
		})
	}
}

func TestService_TradeHasNoIntakeBounds(t *testing.T) {
	stage := &recordingStage{}
	svc, _, _, token := newTestService(t, stage)

	if _, err := svc.Process(context.Background(), domain.CategoryTrade, domain.Request{SessionToken: token, SellAmount: 1}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(stage.forwarded()) != 1 {
		t.Errorf("Expected trade forwarded to policy, got %d calls", len(stage.forwarded()))
	}
}

func TestService_DownstreamFailure(t *testing.T) {
	svc, _, _, token := newTestService(t, &recordingStage{err: errors.New("connection refused")})

	resp, err := svc.Process(context.Background(), domain.CategoryCredit, domain.Request{SessionToken: token, Amount: 500})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if resp.Success {
		t.Error("Expected failure response")
	}
	if !strings.HasPrefix(resp.Message, "Policy check failed: ") || !strings.Contains(resp.Message, "connection refused") {
		t.Errorf("Expected embedded downstream error, got %q", resp.Message)
	}
	if resp.RequestID == "" {
		t.Error("Expected request id on downstream failure")
	}
}

func TestService_NoNextStage(t *testing.T) {
	svc, _, _, token := newTestService(t, nil)

	resp, err := svc.Process(context.Background(), domain.CategoryAutomation, domain.Request{SessionToken: token, PortfolioValue: 5000})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if resp.Success {
		t.Errorf("Expected failure without a policy stage, got %+v", resp)
	}
}
