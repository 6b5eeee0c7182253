package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ottobot/internal/chat"
	"ottobot/internal/credits"
	"ottobot/internal/secrets"
)

type Session struct {
	PlatformUserID string    `json:"platform_user_id"`
	SealedToken    string    `json:"sealed_token"`
	GraphID        string    `json:"graph_id,omitempty"`
	LinkedAt       time.Time `json:"linked_at"`
}

type Store struct {
	redis      *redis.Client
	keyring    *secrets.Keyring
	sessionTTL time.Duration
	stateTTL   time.Duration
}

func NewStore(rdb *redis.Client, keyring *secrets.Keyring, sessionTTL, stateTTL time.Duration) *Store {
	if sessionTTL <= 0 {
		sessionTTL = 720 * time.Hour
	}
	if stateTTL <= 0 {
		stateTTL = 12 * time.Hour
	}
	return &Store{redis: rdb, keyring: keyring, sessionTTL: sessionTTL, stateTTL: stateTTL}
}

func (s *Store) sessionKey(userID int64) string { return fmt.Sprintf("ottobot:session:%d", userID) }
func (s *Store) chatKey(userID int64) string    { return fmt.Sprintf("ottobot:chat:%d", userID) }
func (s *Store) creditsKey(userID int64) string { return fmt.Sprintf("ottobot:credits:%d", userID) }

func (s *Store) SaveSession(ctx context.Context, userID int64, platformUserID, accessToken string) error {
	sealed, err := s.keyring.SealString(accessToken)
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}
	sess := Session{
		PlatformUserID: platformUserID,
		SealedToken:    sealed,
		LinkedAt:       time.Now().UTC(),
	}
	return s.setJSON(ctx, s.sessionKey(userID), sess, s.sessionTTL)
}

func (s *Store) Session(ctx context.Context, userID int64) (*Session, error) {
	raw, err := s.redis.Get(ctx, s.sessionKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, err
	}
	// Reseal-on-read keeps rotated keyrings able to retire old envelopes.
	if s.keyring.Stale(sess.SealedToken) {
		if resealed, err := s.keyring.Reseal(sess.SealedToken); err == nil {
			sess.SealedToken = resealed
			_ = s.setJSON(ctx, s.sessionKey(userID), sess, s.sessionTTL)
		}
	}
	return &sess, nil
}

func (s *Store) OpenToken(sess *Session) (string, error) {
	return s.keyring.OpenString(sess.SealedToken)
}

func (s *Store) SetGraph(ctx context.Context, userID int64, graphID string) error {
	sess, err := s.Session(ctx, userID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("no linked session for user %d", userID)
	}
	sess.GraphID = graphID
	return s.setJSON(ctx, s.sessionKey(userID), *sess, s.sessionTTL)
}

func (s *Store) ClearSession(ctx context.Context, userID int64) error {
	return s.redis.Del(ctx, s.sessionKey(userID), s.chatKey(userID), s.creditsKey(userID)).Err()
}

func (s *Store) Conversation(ctx context.Context, userID int64) (chat.Conversation, error) {
	var conv chat.Conversation
	err := s.getJSON(ctx, s.chatKey(userID), &conv)
	return conv, err
}

func (s *Store) SaveConversation(ctx context.Context, userID int64, conv chat.Conversation) error {
	return s.setJSON(ctx, s.chatKey(userID), conv, s.stateTTL)
}

func (s *Store) Credits(ctx context.Context, userID int64) (credits.State, error) {
	var st credits.State
	err := s.getJSON(ctx, s.creditsKey(userID), &st)
	return st, err
}

func (s *Store) SaveCredits(ctx context.Context, userID int64, st credits.State) error {
	return s.setJSON(ctx, s.creditsKey(userID), st, s.stateTTL)
}

func (s *Store) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, string(b), ttl).Err()
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}
