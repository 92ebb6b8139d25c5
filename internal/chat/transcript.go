package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Transcript directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// TranscriptEvent is one logged chat turn.
type TranscriptEvent struct {
	Timestamp time.Time `json:"ts"`
	Sender    string    `json:"sender"`
	Direction string    `json:"direction"`
	Kind      Kind      `json:"kind,omitempty"`
	MsgID     string    `json:"msg_id,omitempty"`
	State     string    `json:"state,omitempty"`
	Intent    string    `json:"intent,omitempty"`
	Text      string    `json:"text"`
}

// TranscriptLogger records chat turns. Log must not block the caller.
type TranscriptLogger interface {
	Log(event TranscriptEvent)
	Close() error
}

type noopTranscript struct{}

func (noopTranscript) Log(TranscriptEvent) {}
func (noopTranscript) Close() error        { return nil }

// TranscriptConfig controls NDJSON transcript logging.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// FileTranscript appends events to <dir>/<sender>.ndjson from a single
// background writer. Events are dropped when the queue is full.
type FileTranscript struct {
	dir    string
	queue  chan TranscriptEvent
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewTranscriptLogger returns a no-op logger when cfg is disabled.
func NewTranscriptLogger(cfg TranscriptConfig, logger *slog.Logger) (TranscriptLogger, error) {
	if !cfg.Enabled {
		return noopTranscript{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	t := &FileTranscript{
		dir:    cfg.Dir,
		queue:  make(chan TranscriptEvent, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go t.run()
	return t, nil
}

// Log enqueues event.
func (t *FileTranscript) Log(event TranscriptEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Text = readable(event.Text)
	select {
	case t.queue <- event:
	default:
		t.logger.Warn("transcript queue full, dropping event", "sender", event.Sender)
	}
}

// Close flushes queued events and stops the writer.
func (t *FileTranscript) Close() error {
	t.once.Do(func() { close(t.queue) })
	<-t.done
	return nil
}

func (t *FileTranscript) run() {
	defer close(t.done)
	for event := range t.queue {
		if err := t.write(event); err != nil {
			t.logger.Warn("transcript write failed", "sender", event.Sender, "error", err)
		}
	}
}

func (t *FileTranscript) write(event TranscriptEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	path := filepath.Join(t.dir, fileName(event.Sender)+".ndjson")
	// #nosec G304 -- file name is sanitized by fileName.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// fileName maps a sender to a safe single path element.
func fileName(sender string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, sender)
	if name == "" || strings.Trim(name, "_") == "" {
		return "anonymous"
	}
	return name
}

// readable drops control characters other than newlines and tabs.
func readable(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, s)
}
