package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/cypherguy/internal/domain"
	bolt "go.etcd.io/bbolt"
)

var (
	sessionsBucket = []byte("sessions")
	chatsBucket    = []byte("chat_contexts")
)

func requestsBucket(c domain.Category) []byte {
	return []byte("requests_" + string(c))
}

// BoltStore implements Repository in a single bbolt file. Each category's
// records live in their own bucket keyed by the big-endian sequence, so a
// cursor walks them in insertion order.
type BoltStore struct {
	db *bolt.DB
}

// NewBolt opens (or creates) the database at path.
func NewBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{sessionsBucket, chatsBucket}
		for _, c := range domain.Categories {
			buckets = append(buckets, requestsBucket(c))
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// PutSession stores a session under its token.
func (s *BoltStore) PutSession(_ context.Context, session *domain.Session) error {
	return s.put(sessionsBucket, []byte(session.Token), session)
}

// GetSession returns the session for token, or nil.
func (s *BoltStore) GetSession(_ context.Context, token string) (*domain.Session, error) {
	var out *domain.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(token))
		if v == nil {
			return nil
		}
		out = &domain.Session{}
		return json.Unmarshal(v, out)
	})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return out, nil
}

// DeleteExpiredSessions removes sessions created before now-ttl.
func (s *BoltStore) DeleteExpiredSessions(_ context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl)
	var n int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var expired [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var session domain.Session
			if err := json.Unmarshal(v, &session); err != nil {
				// Unreadable entries are treated as expired.
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}
			if session.CreatedAt.Before(threshold) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = int64(len(expired))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return n, nil
}

// AppendRequest assigns the bucket's next sequence and stores the record.
func (s *BoltStore) AppendRequest(_ context.Context, category domain.Category, userID string, fields map[string]any) (*domain.RequestRecord, error) {
	var rec *domain.RequestRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(requestsBucket(category))
		if b == nil {
			return fmt.Errorf("unknown category %q", category)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec = &domain.RequestRecord{
			ID:        FormatRequestID(category, int64(seq)),
			Category:  category,
			UserID:    userID,
			Fields:    fields,
			Status:    domain.RequestStatusPending,
			CreatedAt: time.Now(),
		}
		v, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), v)
	})
	if err != nil {
		return nil, fmt.Errorf("append request: %w", err)
	}
	return rec, nil
}

// ListRequests returns the records of category in insertion order.
func (s *BoltStore) ListRequests(_ context.Context, category domain.Category) ([]*domain.RequestRecord, error) {
	out := []*domain.RequestRecord{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(requestsBucket(category))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec domain.RequestRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return out, nil
}

// CountRequests returns the number of records per category.
func (s *BoltStore) CountRequests(_ context.Context) (map[domain.Category]int64, error) {
	counts := make(map[domain.Category]int64, len(domain.Categories))
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, c := range domain.Categories {
			if b := tx.Bucket(requestsBucket(c)); b != nil {
				counts[c] = int64(b.Stats().KeyN)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}
	return counts, nil
}

// GetChatContext returns the conversation state for sender, or nil.
func (s *BoltStore) GetChatContext(_ context.Context, sender string) (*domain.ChatContext, error) {
	var out *domain.ChatContext
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(chatsBucket).Get([]byte(sender))
		if v == nil {
			return nil
		}
		out = &domain.ChatContext{}
		return json.Unmarshal(v, out)
	})
	if err != nil {
		return nil, fmt.Errorf("get chat context: %w", err)
	}
	return out, nil
}

// PutChatContext creates or replaces the state for its sender.
func (s *BoltStore) PutChatContext(_ context.Context, chatCtx *domain.ChatContext) error {
	c := *chatCtx
	c.UpdatedAt = time.Now()
	return s.put(chatsBucket, []byte(c.Sender), c)
}

// DeleteChatContext removes the state for sender.
func (s *BoltStore) DeleteChatContext(_ context.Context, sender string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(chatsBucket).Delete([]byte(sender))
	})
}

// Ping checks that the database can serve a read transaction.
func (s *BoltStore) Ping(context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket, key []byte, v any) error {
	enc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, enc)
	})
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
