package chat

import (
	"errors"
	"strings"
	"time"

	"ottobot/internal/platform"
)

var (
	ErrEmptyQuestion = errors.New("chat: question is empty")
	ErrBusy          = errors.New("chat: a question is already in flight")
)

const (
	ProcessingNotice = "Processing your question..."
	AuthNotice       = "You need to be logged in to do that. Link your platform account with /login <token>."
	FailureNotice    = "Sorry, something went wrong while answering. Please try again."
)

type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
)

type Message struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
	Pending bool        `json:"pending,omitempty"`
}

type Conversation struct {
	Messages       []Message `json:"messages"`
	InFlight       bool      `json:"in_flight"`
	AskedAt        time.Time `json:"asked_at,omitempty"`
	IncludeContext bool      `json:"include_context"`
	GraphID        string    `json:"graph_id,omitempty"`
}

func (c *Conversation) Begin(text, userID, messageID string) (platform.AskRequest, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return platform.AskRequest{}, ErrEmptyQuestion
	}
	if c.InFlight {
		return platform.AskRequest{}, ErrBusy
	}

	history := c.pairHistory()

	if userID == "" {
		userID = "anonymous"
	}

	req := platform.AskRequest{
		Query:               query,
		ConversationHistory: history,
		UserID:              userID,
		MessageID:           messageID,
		IncludeGraphData:    c.IncludeContext,
		GraphID:             c.GraphID,
	}

	c.Messages = append(c.Messages,
		Message{Type: MessageUser, Content: query},
		Message{Type: MessageAssistant, Content: ProcessingNotice, Pending: true},
	)
	c.InFlight = true
	c.AskedAt = time.Now().UTC()
	// The graph-context opt-in is one-shot, consumed however the turn ends.
	c.IncludeContext = false

	return req, nil
}

func (c *Conversation) StaleInFlight(now time.Time, maxAge time.Duration) bool {
	if !c.InFlight {
		return false
	}
	return !c.AskedAt.IsZero() && now.Sub(c.AskedAt) > maxAge
}

// pairHistory pairs each user message with the assistant message immediately
// after it; unanswered turns and the pending placeholder never pair.
func (c *Conversation) pairHistory() []platform.HistoryEntry {
	var history []platform.HistoryEntry
	for i := 0; i < len(c.Messages)-1; i++ {
		if c.Messages[i].Type != MessageUser {
			continue
		}
		next := c.Messages[i+1]
		if next.Type != MessageAssistant || next.Pending {
			continue
		}
		history = append(history, platform.HistoryEntry{
			Query:    c.Messages[i].Content,
			Response: next.Content,
		})
	}
	return history
}

func (c *Conversation) Resolve(answer string) {
	c.replacePlaceholder(answer)
}

func (c *Conversation) FailAuth() {
	c.replacePlaceholder(AuthNotice)
}

func (c *Conversation) Fail() {
	c.replacePlaceholder(FailureNotice)
}

func (c *Conversation) replacePlaceholder(content string) {
	c.InFlight = false
	c.AskedAt = time.Time{}
	if n := len(c.Messages); n > 0 && c.Messages[n-1].Pending {
		c.Messages[n-1] = Message{Type: MessageAssistant, Content: content}
		return
	}
	c.Messages = append(c.Messages, Message{Type: MessageAssistant, Content: content})
}
