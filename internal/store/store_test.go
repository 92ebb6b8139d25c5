package store

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func newSQLiteForTest(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newBoltForTest(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBolt(filepath.Join(t.TempDir(), "nested", "test.bolt"))
	if err != nil {
		t.Fatalf("NewBolt failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newPostgresForTest connects to DATABASE_URL inside a throwaway schema so
// every test sees empty tables. It returns nil when DATABASE_URL is unset.
func newPostgresForTest(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil
	}
	ctx := context.Background()
	schema := "cypherguy_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		_ = admin.Close(ctx)
		t.Fatalf("create schema: %v", err)
	}

	s, err := NewPostgres(ctx, withSearchPath(dsn, schema))
	if err != nil {
		_ = admin.Close(ctx)
		t.Fatalf("NewPostgres failed: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
		if _, err := admin.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE"); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
		_ = admin.Close(ctx)
	})
	return s
}

func withSearchPath(dsn, schema string) string {
	if u, err := url.Parse(dsn); err == nil && (u.Scheme == "postgres" || u.Scheme == "postgresql") {
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String()
	}
	return dsn + " search_path=" + schema
}

func repositories(t *testing.T) map[string]Repository {
	repos := map[string]Repository{
		"memory": NewMemory(),
		"sqlite": newSQLiteForTest(t),
		"bolt":   newBoltForTest(t),
	}
	if pg := newPostgresForTest(t); pg != nil {
		repos["postgres"] = pg
	} else {
		t.Log("DATABASE_URL not set, skipping postgres")
	}
	return repos
}

func TestRepository_Sessions(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			got, err := repo.GetSession(ctx, "missing")
			if err != nil {
				t.Fatalf("GetSession failed: %v", err)
			}
			if got != nil {
				t.Fatalf("Expected nil for unknown token, got %+v", got)
			}

			s := &domain.Session{Token: "tok", UserID: "u1", WalletAddress: "w", CreatedAt: time.Now()}
			if err := repo.PutSession(ctx, s); err != nil {
				t.Fatalf("PutSession failed: %v", err)
			}
			got, err = repo.GetSession(ctx, "tok")
			if err != nil {
				t.Fatalf("GetSession failed: %v", err)
			}
			if got == nil || got.UserID != "u1" || got.WalletAddress != "w" {
				t.Errorf("Expected stored session, got %+v", got)
			}
		})
	}
}

func TestRepository_DeleteExpiredSessions(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			old := &domain.Session{Token: "old", UserID: "u", CreatedAt: time.Now().Add(-2 * time.Hour)}
			fresh := &domain.Session{Token: "fresh", UserID: "u", CreatedAt: time.Now()}
			for _, s := range []*domain.Session{old, fresh} {
				if err := repo.PutSession(ctx, s); err != nil {
					t.Fatalf("PutSession failed: %v", err)
				}
			}

			n, err := repo.DeleteExpiredSessions(ctx, time.Hour)
			if err != nil {
				t.Fatalf("DeleteExpiredSessions failed: %v", err)
			}
			if n != 1 {
				t.Errorf("Expected 1 deleted session, got %d", n)
			}
			if s, _ := repo.GetSession(ctx, "old"); s != nil {
				t.Error("Expected old session to be gone")
			}
			if s, _ := repo.GetSession(ctx, "fresh"); s == nil {
				t.Error("Expected fresh session to survive")
			}
		})
	}
}

func TestRepository_AppendRequestSequentialIDs(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			want := []string{"credit_1", "credit_2", "rwa_1", "credit_3"}
			cats := []domain.Category{domain.CategoryCredit, domain.CategoryCredit, domain.CategoryRWA, domain.CategoryCredit}
			for i, c := range cats {
				rec, err := repo.AppendRequest(ctx, c, "u1", map[string]any{"amount": 1000.0})
				if err != nil {
					t.Fatalf("AppendRequest failed: %v", err)
				}
				if rec.ID != want[i] {
					t.Errorf("Expected id %s, got %s", want[i], rec.ID)
				}
				if rec.Status != domain.RequestStatusPending {
					t.Errorf("Expected pending status, got %s", rec.Status)
				}
			}

			list, err := repo.ListRequests(ctx, domain.CategoryCredit)
			if err != nil {
				t.Fatalf("ListRequests failed: %v", err)
			}
			if len(list) != 3 {
				t.Fatalf("Expected 3 credit records, got %d", len(list))
			}
			if list[2].ID != "credit_3" {
				t.Errorf("Expected insertion order, got last id %s", list[2].ID)
			}
			if list[0].Fields["amount"] != 1000.0 {
				t.Errorf("Expected amount field to round-trip, got %v", list[0].Fields["amount"])
			}

			counts, err := repo.CountRequests(ctx)
			if err != nil {
				t.Fatalf("CountRequests failed: %v", err)
			}
			if counts[domain.CategoryCredit] != 3 || counts[domain.CategoryRWA] != 1 || counts[domain.CategoryTrade] != 0 {
				t.Errorf("Unexpected counts: %v", counts)
			}
		})
	}
}

func TestRepository_ConcurrentAppendsHaveUniqueIDs(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			const n = 20
			var wg sync.WaitGroup
			ids := make(chan string, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					rec, err := repo.AppendRequest(ctx, domain.CategoryTrade, "u", map[string]any{})
					if err != nil {
						t.Errorf("AppendRequest failed: %v", err)
						return
					}
					ids <- rec.ID
				}()
			}
			wg.Wait()
			close(ids)

			seen := make(map[string]bool)
			for id := range ids {
				if seen[id] {
					t.Errorf("Duplicate request id %s", id)
				}
				seen[id] = true
			}
			if len(seen) != n {
				t.Errorf("Expected %d unique ids, got %d", n, len(seen))
			}
		})
	}
}

func TestRepository_ChatContext(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			amount := 5000
			c := &domain.ChatContext{
				Sender: "agent1",
				State:  domain.ChatStateCollectingCollateral,
				Intent: domain.CategoryCredit,
				Amount: &amount,
			}
			if err := repo.PutChatContext(ctx, c); err != nil {
				t.Fatalf("PutChatContext failed: %v", err)
			}

			got, err := repo.GetChatContext(ctx, "agent1")
			if err != nil {
				t.Fatalf("GetChatContext failed: %v", err)
			}
			if got == nil || got.State != domain.ChatStateCollectingCollateral || got.Amount == nil || *got.Amount != 5000 {
				t.Fatalf("Unexpected chat context: %+v", got)
			}
			if got.Collateral != "" {
				t.Errorf("Expected empty collateral, got %q", got.Collateral)
			}

			if err := repo.DeleteChatContext(ctx, "agent1"); err != nil {
				t.Fatalf("DeleteChatContext failed: %v", err)
			}
			if got, _ := repo.GetChatContext(ctx, "agent1"); got != nil {
				t.Errorf("Expected deleted context, got %+v", got)
			}
		})
	}
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.bolt")

	s, err := NewBolt(path)
	if err != nil {
		t.Fatalf("NewBolt failed: %v", err)
	}
	if _, err := s.AppendRequest(ctx, domain.CategoryTrade, "u1", map[string]any{"token_pair": "SOL/USDC"}); err != nil {
		t.Fatalf("AppendRequest failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = NewBolt(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	rec, err := s.AppendRequest(ctx, domain.CategoryTrade, "u1", nil)
	if err != nil {
		t.Fatalf("AppendRequest failed: %v", err)
	}
	if rec.ID != "trade_2" {
		t.Errorf("Expected sequence to continue after reopen, got %s", rec.ID)
	}
	list, _ := s.ListRequests(ctx, domain.CategoryTrade)
	if len(list) != 2 || list[0].Fields["token_pair"] != "SOL/USDC" {
		t.Errorf("Unexpected records after reopen: %+v", list)
	}
}

func TestWithSearchPath(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://u:p@localhost:5432/db?sslmode=disable", "postgres://u:p@localhost:5432/db?search_path=s1&sslmode=disable"},
		{"host=localhost dbname=db", "host=localhost dbname=db search_path=s1"},
	}
	for _, tt := range tests {
		if got := withSearchPath(tt.dsn, "s1"); got != tt.want {
			t.Errorf("withSearchPath(%q): expected %q, got %q", tt.dsn, tt.want, got)
		}
	}
}
