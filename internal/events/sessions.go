package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionExpired is returned on a heartbeat for a session Redis has
// already evicted. The client re-subscribes and re-syncs via polling.
var ErrSessionExpired = errors.New("session expired or unknown")

const sessionPrefix = "kanban:session:"

// Session is one live subscriber. It exists only as a TTL'd Redis key;
// a missed heartbeat window removes it without any sweeper.
type Session struct {
	ID         string    `json:"id"`
	ProjectID  int64     `json:"projectId"`
	ClientInfo string    `json:"clientInfo,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) save(ctx context.Context, session Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionPrefix+session.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SessionStore) Create(ctx context.Context, sessionID string, projectID int64, clientInfo string) (Session, error) {
	now := time.Now().UTC()
	session := Session{
		ID:         sessionID,
		ProjectID:  projectID,
		ClientInfo: clientInfo,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.save(ctx, session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Heartbeat refreshes the session TTL and its last-seen mark.
func (s *SessionStore) Heartbeat(ctx context.Context, sessionID string) (Session, error) {
	data, err := s.client.Get(ctx, sessionPrefix+sessionID).Result()
	if err == redis.Nil {
		return Session{}, ErrSessionExpired
	}
	if err != nil {
		return Session{}, fmt.Errorf("heartbeat lookup: %w", err)
	}
	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	session.LastSeenAt = time.Now().UTC()
	if err := s.save(ctx, session); err != nil {
		return Session{}, err
	}
	return session, nil
}

func (s *SessionStore) Remove(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// Active lists live sessions for a project by scanning the session
// keyspace. Session counts are small; a SCAN is fine here.
func (s *SessionStore) Active(ctx context.Context, projectID int64) ([]Session, error) {
	var sessions []Session
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, sessionPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan sessions: %w", err)
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read session %s: %w", key, err)
			}
			var session Session
			if err := json.Unmarshal([]byte(data), &session); err != nil {
				continue
			}
			if session.ProjectID == projectID {
				sessions = append(sessions, session)
			}
		}
		cursor = next
		if cursor == 0 {
			return sessions, nil
		}
	}
}
