package channel

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/bus"
	"chatrelay/internal/domain"
)

func TestCLI_PublishesInboundMessageAndEchoesReply(t *testing.T) {
	in := strings.NewReader("hello there\n/quit\n")
	var out bytes.Buffer

	b := bus.New(4, nil)
	cli := NewCLI(CLIConfig{In: in, Out: &out})

	done := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { done <- cli.Start(ctx, b) }()

	select {
	case msg := <-b.Subscribe():
		if msg.Content != "hello there" {
			t.Fatalf("expected 'hello there', got %q", msg.Content)
		}
		if msg.Kind != domain.KindText {
			t.Fatalf("expected KindText, got %v", msg.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound message")
	}

	b.SendOutbound(domain.OutboundMessage{ConversationID: "direct", Content: "hi back"})

	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !strings.Contains(out.String(), "hi back") {
		t.Fatalf("expected output to contain reply, got: %s", out.String())
	}
}

func TestCLI_RecognizesCommandPrefix(t *testing.T) {
	in := strings.NewReader("/status\n/quit\n")
	var out bytes.Buffer

	b := bus.New(4, nil)
	cli := NewCLI(CLIConfig{In: in, Out: &out})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cli.Start(ctx, b) }()

	select {
	case msg := <-b.Subscribe():
		if msg.Kind != domain.KindCommand {
			t.Fatalf("expected KindCommand, got %v", msg.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
	<-done
}

func TestSplitMessage_RespectsMaxLenAndPrefersNewlines(t *testing.T) {
	msg := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 10)
	chunks := splitMessage(msg, 15)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if strings.TrimRight(chunks[0], "\n") != strings.Repeat("a", 10) {
		t.Fatalf("expected first chunk to end at newline, got %q", chunks[0])
	}
}

func TestSplitMessage_SingleChunkWhenUnderLimit(t *testing.T) {
	chunks := splitMessage("short", 100)
	if len(chunks) != 1 || chunks[0] != "short" {
		t.Fatalf("expected single unchanged chunk, got %v", chunks)
	}
}

func TestSplitSlackMessage_SplitsLongMessages(t *testing.T) {
	msg := strings.Repeat("x", 20)
	chunks := splitSlackMessage(msg, 8)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	joined := strings.Join(chunks, "")
	if joined != msg {
		t.Fatalf("expected chunks to reconstruct original message")
	}
}
