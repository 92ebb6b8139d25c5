package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Repository on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and creates the schema if needed.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		wallet_address TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS request_counters (
		category TEXT PRIMARY KEY,
		seq BIGINT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		seq BIGINT NOT NULL,
		user_id TEXT NOT NULL,
		fields JSONB NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_category ON requests(category, seq);
	CREATE TABLE IF NOT EXISTS chat_contexts (
		sender TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		intent TEXT,
		amount BIGINT,
		collateral TEXT,
		updated_at TIMESTAMPTZ NOT NULL
	);`)
	return err
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// PutSession stores a session.
func (s *PostgresStore) PutSession(ctx context.Context, session *domain.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions(token,user_id,wallet_address,created_at) VALUES($1,$2,$3,$4)
		ON CONFLICT(token) DO UPDATE SET user_id=EXCLUDED.user_id, wallet_address=EXCLUDED.wallet_address`,
		session.Token, session.UserID, session.WalletAddress, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by token.
func (s *PostgresStore) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	var session domain.Session
	err := s.pool.QueryRow(ctx,
		`SELECT token,user_id,wallet_address,created_at FROM sessions WHERE token=$1`, token).
		Scan(&session.Token, &session.UserID, &session.WalletAddress, &session.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// DeleteExpiredSessions removes sessions created before now-ttl.
func (s *PostgresStore) DeleteExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE created_at < $1`, time.Now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AppendRequest bumps the category counter and inserts the record in one transaction.
func (s *PostgresStore) AppendRequest(ctx context.Context, category domain.Category, userID string, fields map[string]any) (*domain.RequestRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append request: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO request_counters(category,seq) VALUES($1,1)
		ON CONFLICT(category) DO UPDATE SET seq=request_counters.seq+1
		RETURNING seq`, string(category)).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("next request id: %w", err)
	}

	rec := &domain.RequestRecord{
		ID:        FormatRequestID(category, seq),
		Category:  category,
		UserID:    userID,
		Fields:    fields,
		Status:    domain.RequestStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO requests(id,category,seq,user_id,fields,status,created_at) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, string(category), seq, userID, fields, rec.Status, rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert request: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append request: %w", err)
	}
	return rec, nil
}

// ListRequests returns the records of category ordered by sequence.
func (s *PostgresStore) ListRequests(ctx context.Context, category domain.Category) ([]*domain.RequestRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id,category,user_id,fields,status,created_at
		FROM requests WHERE category=$1 ORDER BY seq`, string(category))
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var out []*domain.RequestRecord
	for rows.Next() {
		var rec domain.RequestRecord
		var cat string
		if err := rows.Scan(&rec.ID, &cat, &rec.UserID, &rec.Fields, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan request row: %w", err)
		}
		rec.Category = domain.Category(cat)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return out, nil
}

// CountRequests returns per-category record counts.
func (s *PostgresStore) CountRequests(ctx context.Context) (map[domain.Category]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT category, COUNT(*) FROM requests GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Category]int64, len(domain.Categories))
	for _, c := range domain.Categories {
		counts[c] = 0
	}
	for rows.Next() {
		var cat string
		var n int64
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[domain.Category(cat)] = n
	}
	return counts, rows.Err()
}

// GetChatContext retrieves conversation state for sender.
func (s *PostgresStore) GetChatContext(ctx context.Context, sender string) (*domain.ChatContext, error) {
	var c domain.ChatContext
	var state string
	var intent, collateral *string
	var amount *int64
	err := s.pool.QueryRow(ctx, `
		SELECT sender,state,intent,amount,collateral,updated_at FROM chat_contexts WHERE sender=$1`, sender).
		Scan(&c.Sender, &state, &intent, &amount, &collateral, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat context: %w", err)
	}
	c.State = domain.ChatState(state)
	if intent != nil {
		c.Intent = domain.Category(*intent)
	}
	if collateral != nil {
		c.Collateral = *collateral
	}
	if amount != nil {
		v := int(*amount)
		c.Amount = &v
	}
	return &c, nil
}

// PutChatContext creates or replaces conversation state.
func (s *PostgresStore) PutChatContext(ctx context.Context, chatCtx *domain.ChatContext) error {
	var intent, collateral *string
	var amount *int64
	if chatCtx.Intent != "" {
		v := string(chatCtx.Intent)
		intent = &v
	}
	if chatCtx.Collateral != "" {
		collateral = &chatCtx.Collateral
	}
	if chatCtx.Amount != nil {
		v := int64(*chatCtx.Amount)
		amount = &v
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_contexts(sender,state,intent,amount,collateral,updated_at) VALUES($1,$2,$3,$4,$5,$6)
		ON CONFLICT(sender) DO UPDATE SET state=EXCLUDED.state, intent=EXCLUDED.intent,
			amount=EXCLUDED.amount, collateral=EXCLUDED.collateral, updated_at=EXCLUDED.updated_at`,
		chatCtx.Sender, string(chatCtx.State), intent, amount, collateral, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put chat context: %w", err)
	}
	return nil
}

// DeleteChatContext removes conversation state for sender.
func (s *PostgresStore) DeleteChatContext(ctx context.Context, sender string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chat_contexts WHERE sender=$1`, sender); err != nil {
		return fmt.Errorf("delete chat context: %w", err)
	}
	return nil
}
