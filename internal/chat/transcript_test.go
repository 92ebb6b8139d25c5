package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/cypherguy/internal/store"
)

func TestTranscriptWritesPerSenderNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewTranscriptLogger(TranscriptConfig{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}

	p := NewProtocol(NewClassifier(nil), store.NewMemory())
	p.Transcript = logger
	if _, err := p.Handle(context.Background(), "user-1", Message{ID: "m1", Kind: KindText, Text: "swap \x1b[31mSOL\x1b[0m"}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "user-1.ndjson"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected inbound and outbound lines, got %d", len(lines))
	}

	var in, out TranscriptEvent
	if err := json.Unmarshal([]byte(lines[0]), &in); err != nil {
		t.Fatalf("unmarshal inbound: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &out); err != nil {
		t.Fatalf("unmarshal outbound: %v", err)
	}
	if in.Direction != DirectionInbound || in.MsgID != "m1" {
		t.Errorf("Unexpected inbound event %+v", in)
	}
	if strings.ContainsRune(in.Text, '\x1b') {
		t.Errorf("Expected control characters stripped, got %q", in.Text)
	}
	if out.Direction != DirectionOutbound || out.Text != tradeReply {
		t.Errorf("Unexpected outbound event %+v", out)
	}
	if out.Timestamp.Before(time.Now().Add(-time.Minute)) {
		t.Errorf("Expected recent timestamp, got %v", out.Timestamp)
	}
}

func TestTranscriptDisabled(t *testing.T) {
	t.Parallel()

	logger, err := NewTranscriptLogger(TranscriptConfig{}, nil)
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}
	logger.Log(TranscriptEvent{Sender: "x"})
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestTranscriptFileName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"alice":            "alice",
		"../../etc/passwd": "______etc_passwd",
		"":                 "anonymous",
		"///":              "anonymous",
		"127.0.0.1":        "127_0_0_1",
	}
	for in, want := range tests {
		if got := fileName(in); got != want {
			t.Errorf("fileName(%q): expected %q, got %q", in, want, got)
		}
	}
}
