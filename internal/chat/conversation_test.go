package chat

import (
	"errors"
	"testing"
	"time"
)

func TestBeginIgnoresEmptyQuestion(t *testing.T) {
	var c Conversation
	for _, text := range []string{"", "   ", "\n\t "} {
		if _, err := c.Begin(text, "u1", "m1"); !errors.Is(err, ErrEmptyQuestion) {
			t.Fatalf("text %q: expected ErrEmptyQuestion, got %v", text, err)
		}
	}
	if len(c.Messages) != 0 {
		t.Fatalf("transcript must stay empty, got %d messages", len(c.Messages))
	}
}

func TestBeginSingleFlight(t *testing.T) {
	var c Conversation
	if _, err := c.Begin("first question", "u1", "m1"); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	before := len(c.Messages)

	if _, err := c.Begin("second question", "u1", "m2"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if len(c.Messages) != before {
		t.Fatalf("in-flight begin must not append, had %d now %d", before, len(c.Messages))
	}

	c.Resolve("answer")
	if _, err := c.Begin("second question", "u1", "m2"); err != nil {
		t.Fatalf("begin after resolve: %v", err)
	}
}

func TestBeginAppendsUserAndPlaceholder(t *testing.T) {
	var c Conversation
	req, err := c.Begin("  what is an agent graph?  ", "u1", "m1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if req.Query != "what is an agent graph?" {
		t.Fatalf("query not trimmed: %q", req.Query)
	}
	if req.UserID != "u1" || req.MessageID != "m1" {
		t.Fatalf("identifiers lost: %+v", req)
	}
	if len(c.Messages) != 2 {
		t.Fatalf("expected user message plus placeholder, got %d", len(c.Messages))
	}
	if c.Messages[0].Type != MessageUser || c.Messages[0].Content != "what is an agent graph?" {
		t.Fatalf("unexpected user message %+v", c.Messages[0])
	}
	last := c.Messages[1]
	if last.Type != MessageAssistant || !last.Pending || last.Content != ProcessingNotice {
		t.Fatalf("unexpected placeholder %+v", last)
	}
	if !c.InFlight {
		t.Fatalf("conversation must be in flight after begin")
	}
}

func TestBeginAnonymousFallback(t *testing.T) {
	var c Conversation
	req, err := c.Begin("hello", "", "m1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if req.UserID != "anonymous" {
		t.Fatalf("expected anonymous fallback, got %q", req.UserID)
	}
}

func TestHistoryPairsCompletedTurns(t *testing.T) {
	c := Conversation{Messages: []Message{
		{Type: MessageUser, Content: "A"},
		{Type: MessageAssistant, Content: "B"},
		{Type: MessageUser, Content: "C"},
		{Type: MessageAssistant, Content: "D"},
	}}

	req, err := c.Begin("E", "u1", "m3")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if len(req.ConversationHistory) != 2 {
		t.Fatalf("expected 2 pairs, got %d: %+v", len(req.ConversationHistory), req.ConversationHistory)
	}
	if req.ConversationHistory[0].Query != "A" || req.ConversationHistory[0].Response != "B" {
		t.Fatalf("unexpected first pair %+v", req.ConversationHistory[0])
	}
	if req.ConversationHistory[1].Query != "C" || req.ConversationHistory[1].Response != "D" {
		t.Fatalf("unexpected second pair %+v", req.ConversationHistory[1])
	}
}

func TestHistoryExcludesUnansweredTrailingMessage(t *testing.T) {
	c := Conversation{Messages: []Message{
		{Type: MessageUser, Content: "A"},
		{Type: MessageAssistant, Content: "B"},
		{Type: MessageUser, Content: "unanswered"},
	}}

	req, err := c.Begin("next", "u1", "m1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if len(req.ConversationHistory) != 1 {
		t.Fatalf("expected 1 pair, got %+v", req.ConversationHistory)
	}
	if req.ConversationHistory[0].Query != "A" {
		t.Fatalf("unexpected pair %+v", req.ConversationHistory[0])
	}
}

func TestHistoryNeverPairsPendingPlaceholder(t *testing.T) {
	var c Conversation
	if _, err := c.Begin("first", "u1", "m1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	c.Resolve("answer one")

	req, err := c.Begin("second", "u1", "m2")
	if err != nil {
		t.Fatalf("second begin: %v", err)
	}
	if len(req.ConversationHistory) != 1 {
		t.Fatalf("expected 1 pair, got %+v", req.ConversationHistory)
	}
	pair := req.ConversationHistory[0]
	if pair.Query != "first" || pair.Response != "answer one" {
		t.Fatalf("unexpected pair %+v", pair)
	}
}

func TestResolveReplacesPlaceholderInPlace(t *testing.T) {
	var c Conversation
	if _, err := c.Begin("question", "u1", "m1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	c.Resolve("the answer")

	if len(c.Messages) != 2 {
		t.Fatalf("resolve must replace, not append: %d messages", len(c.Messages))
	}
	last := c.Messages[1]
	if last.Pending || last.Content != "the answer" {
		t.Fatalf("unexpected final message %+v", last)
	}
	if c.InFlight {
		t.Fatalf("conversation must leave in-flight after resolve")
	}
}

func TestFailAuthUsesAuthNotice(t *testing.T) {
	var c Conversation
	if _, err := c.Begin("question", "u1", "m1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	c.FailAuth()

	last := c.Messages[len(c.Messages)-1]
	if last.Content != AuthNotice {
		t.Fatalf("expected auth notice, got %q", last.Content)
	}
	if last.Content == FailureNotice {
		t.Fatalf("auth failure must never render the generic notice")
	}
}

func TestIncludeContextIsOneShot(t *testing.T) {
	c := Conversation{IncludeContext: true, GraphID: "graph-1"}

	req, err := c.Begin("with context", "u1", "m1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !req.IncludeGraphData || req.GraphID != "graph-1" {
		t.Fatalf("expected graph context on request, got %+v", req)
	}
	if c.IncludeContext {
		t.Fatalf("opt-in must be consumed by begin")
	}

	c.Fail()
	if c.IncludeContext {
		t.Fatalf("opt-in must stay cleared after a failed turn")
	}

	req, err = c.Begin("without context", "u1", "m2")
	if err != nil {
		t.Fatalf("second begin: %v", err)
	}
	if req.IncludeGraphData {
		t.Fatalf("second request must not carry the consumed opt-in")
	}
}

func TestStaleInFlight(t *testing.T) {
	var c Conversation
	if _, err := c.Begin("question", "u1", "m1"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if c.StaleInFlight(time.Now(), 5*time.Minute) {
		t.Fatalf("fresh turn must not be stale")
	}
	if !c.StaleInFlight(time.Now().Add(10*time.Minute), 5*time.Minute) {
		t.Fatalf("expected turn to go stale after the max age")
	}

	c.Resolve("answer")
	if c.StaleInFlight(time.Now().Add(24*time.Hour), 5*time.Minute) {
		t.Fatalf("settled conversation is never stale")
	}
}
