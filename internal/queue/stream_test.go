package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"ottobot/internal/platform"
)

func TestStreamQueueRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	q := NewStreamQueue(rdb, "ottobot:asks", "ottobot-workers", "worker-test", 100*time.Millisecond)
	if q.Consumer() != "worker-test" {
		t.Fatalf("unexpected consumer name %q", q.Consumer())
	}
	if err := q.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	// Second call must tolerate the group already existing.
	if err := q.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("ensure group twice: %v", err)
	}

	job := AskJob{
		ChatID:        77,
		UserID:        77,
		PlaceholderID: 901,
		Request: platform.AskRequest{
			Query:     "how do I publish an agent?",
			UserID:    "user-77",
			MessageID: "msg-1",
			ConversationHistory: []platform.HistoryEntry{
				{Query: "hello", Response: "hi there"},
			},
		},
	}

	if _, err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	msgs, err := q.Read(context.Background(), 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	got := msgs[0].Job
	if got.JobID == "" {
		t.Fatalf("expected enqueue to assign a job id")
	}
	if got.EnqueuedAt.IsZero() {
		t.Fatalf("expected enqueue to stamp the job")
	}
	if got.ChatID != 77 || got.PlaceholderID != 901 {
		t.Fatalf("unexpected routing fields: chat=%d placeholder=%d", got.ChatID, got.PlaceholderID)
	}
	if got.Request.Query != "how do I publish an agent?" || got.Request.UserID != "user-77" {
		t.Fatalf("unexpected request payload: %+v", got.Request)
	}
	if len(got.Request.ConversationHistory) != 1 || got.Request.ConversationHistory[0].Response != "hi there" {
		t.Fatalf("conversation history did not survive the queue: %+v", got.Request.ConversationHistory)
	}

	if err := q.Ack(context.Background(), msgs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	again, err := q.Read(context.Background(), 10)
	if err != nil {
		t.Fatalf("read after ack: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no messages after ack, got %d", len(again))
	}
}
