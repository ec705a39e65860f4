package thoughtlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriter_RecordAppendsNDJSONLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "thoughts.ndjson")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	if err := w.Record("thinking", "considering options", map[string]string{"conversationId": "abc"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var entry Entry
	if err := json.Unmarshal(data[:len(data)-1], &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.Content != "considering options" || entry.MemoryType != "thinking" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Metadata["conversationId"] != "abc" {
		t.Fatalf("expected metadata conversationId=abc, got %v", entry.Metadata)
	}
	if !entry.RecordedAt.Equal(fixed) {
		t.Fatalf("expected recordedAt %v, got %v", fixed, entry.RecordedAt)
	}
}

func TestWriter_RecordAppendsMultipleLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thoughts.ndjson")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	for i := 0; i < 3; i++ {
		if err := w.Record("thinking", "line", nil); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open for read: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	if lines != 3 {
		t.Fatalf("expected 3 lines, got %d", lines)
	}
}
