package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/ashureev/cypherguy/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	sqliteRetries   = 3
	sqliteBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	// writeMu serializes writers to avoid SQLITE_BUSY under WAL.
	writeMu sync.Mutex
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		wallet_address TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);

	CREATE TABLE IF NOT EXISTS request_counters (
		category TEXT PRIMARY KEY,
		seq INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		seq INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		fields_json TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_category ON requests(category, seq);

	CREATE TABLE IF NOT EXISTS chat_contexts (
		sender TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		intent TEXT,
		amount INTEGER,
		collateral TEXT,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// write runs fn under the writer mutex with busy retry.
func (s *SQLiteStore) write(ctx context.Context, op string, fn func() error) error {
	return shared.RetryOnConflict(ctx, op, sqliteRetries, sqliteBaseDelay, func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return fn()
	})
}

// PutSession stores a session.
func (s *SQLiteStore) PutSession(ctx context.Context, session *domain.Session) error {
	query := `
	INSERT INTO sessions (token, user_id, wallet_address, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(token) DO UPDATE SET
		user_id = excluded.user_id,
		wallet_address = excluded.wallet_address`

	err := s.write(ctx, "put_session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.Token, session.UserID, session.WalletAddress, session.CreatedAt.UnixNano())
		return err
	})
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by token.
func (s *SQLiteStore) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, wallet_address, created_at FROM sessions WHERE token = ?`, token)

	var session domain.Session
	var createdAt int64
	err := row.Scan(&session.Token, &session.UserID, &session.WalletAddress, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	session.CreatedAt = time.Unix(0, createdAt)
	return &session, nil
}

// DeleteExpiredSessions removes sessions created before now-ttl.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixNano()
	var n int64
	err := s.write(ctx, "delete_expired_sessions", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, threshold)
		if err != nil {
			return err
		}
		n, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return n, nil
}

// AppendRequest bumps the category counter and inserts the record in one transaction.
func (s *SQLiteStore) AppendRequest(ctx context.Context, category domain.Category, userID string, fields map[string]any) (*domain.RequestRecord, error) {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal request fields: %w", err)
	}

	now := time.Now()
	var rec *domain.RequestRecord
	err = s.write(ctx, "append_request", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to rollback append request", "error", rbErr)
			}
		}()

		var seq int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO request_counters (category, seq) VALUES (?, 1)
			ON CONFLICT(category) DO UPDATE SET seq = seq + 1
			RETURNING seq`, string(category)).Scan(&seq)
		if err != nil {
			return err
		}

		id := FormatRequestID(category, seq)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO requests (id, category, seq, user_id, fields_json, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, string(category), seq, userID, string(fieldsJSON), domain.RequestStatusPending, now.UnixNano())
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		rec = &domain.RequestRecord{
			ID:        id,
			Category:  category,
			UserID:    userID,
			Fields:    fields,
			Status:    domain.RequestStatusPending,
			CreatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append request: %w", err)
	}
	return rec, nil
}

// ListRequests returns the records of category ordered by sequence.
func (s *SQLiteStore) ListRequests(ctx context.Context, category domain.Category) ([]*domain.RequestRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, user_id, fields_json, status, created_at
		FROM requests WHERE category = ? ORDER BY seq`, string(category))
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close requests rows", "error", closeErr)
		}
	}()

	var out []*domain.RequestRecord
	for rows.Next() {
		var rec domain.RequestRecord
		var cat, fieldsJSON string
		var createdAt int64
		if err := rows.Scan(&rec.ID, &cat, &rec.UserID, &fieldsJSON, &rec.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan request row: %w", err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
			return nil, fmt.Errorf("decode request fields: %w", err)
		}
		rec.Category = domain.Category(cat)
		rec.CreatedAt = time.Unix(0, createdAt)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return out, nil
}

// CountRequests returns per-category record counts.
func (s *SQLiteStore) CountRequests(ctx context.Context) (map[domain.Category]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM requests GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close count rows", "error", closeErr)
		}
	}()

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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// GetChatContext retrieves conversation state for sender.
func (s *SQLiteStore) GetChatContext(ctx context.Context, sender string) (*domain.ChatContext, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sender, state, intent, amount, collateral, updated_at
		FROM chat_contexts WHERE sender = ?`, sender)

	var c domain.ChatContext
	var state string
	var intent, collateral sql.NullString
	var amount sql.NullInt64
	var updatedAt int64
	err := row.Scan(&c.Sender, &state, &intent, &amount, &collateral, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat context: %w", err)
	}

	c.State = domain.ChatState(state)
	c.Intent = domain.Category(intent.String)
	c.Collateral = collateral.String
	if amount.Valid {
		v := int(amount.Int64)
		c.Amount = &v
	}
	c.UpdatedAt = time.Unix(0, updatedAt)
	return &c, nil
}

// PutChatContext creates or replaces conversation state.
func (s *SQLiteStore) PutChatContext(ctx context.Context, chatCtx *domain.ChatContext) error {
	query := `
	INSERT INTO chat_contexts (sender, state, intent, amount, collateral, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(sender) DO UPDATE SET
		state = excluded.state,
		intent = excluded.intent,
		amount = excluded.amount,
		collateral = excluded.collateral,
		updated_at = excluded.updated_at`

	var intent, collateral, amount interface{}
	if chatCtx.Intent != "" {
		intent = string(chatCtx.Intent)
	}
	if chatCtx.Collateral != "" {
		collateral = chatCtx.Collateral
	}
	if chatCtx.Amount != nil {
		amount = int64(*chatCtx.Amount)
	}

	err := s.write(ctx, "put_chat_context", func() error {
		_, err := s.db.ExecContext(ctx, query,
			chatCtx.Sender, string(chatCtx.State), intent, amount, collateral, time.Now().UnixNano())
		return err
	})
	if err != nil {
		return fmt.Errorf("put chat context: %w", err)
	}
	return nil
}

// DeleteChatContext removes conversation state for sender.
func (s *SQLiteStore) DeleteChatContext(ctx context.Context, sender string) error {
	err := s.write(ctx, "delete_chat_context", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM chat_contexts WHERE sender = ?`, sender)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete chat context for %s: %w", sender, err)
	}
	return nil
}
