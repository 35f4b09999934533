package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each project's feed in a sorted set scored by event
// timestamp. Range queries over the score give cursor polling for free;
// score-based trimming gives retention.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStoreWithClient(redis.NewClient(opts)), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "kanban:changes:project:"}
}

func (s *RedisStore) key(projectID int64) string {
	return s.prefix + strconv.FormatInt(projectID, 10)
}

func (s *RedisStore) Append(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = s.client.ZAdd(ctx, s.key(event.ProjectID), redis.Z{
		Score:  float64(event.Timestamp),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *RedisStore) QuerySince(ctx context.Context, projectID int64, since int64, limit int) ([]Event, error) {
	rangeBy := &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since, 10),
		Max: "+inf",
	}
	if limit > 0 {
		rangeBy.Count = int64(limit)
	}
	members, err := s.client.ZRangeByScore(ctx, s.key(projectID), rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	out := make([]Event, 0, len(members))
	for _, member := range members {
		var event Event
		if err := json.Unmarshal([]byte(member), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		out = append(out, event)
	}
	return out, nil
}

func (s *RedisStore) Prune(ctx context.Context, projectID int64, olderThan int64) error {
	err := s.client.ZRemRangeByScore(ctx, s.key(projectID),
		"-inf", "("+strconv.FormatInt(olderThan, 10)).Err()
	if err != nil {
		return fmt.Errorf("prune events: %w", err)
	}
	return nil
}

// Client exposes the underlying connection so the session store can
// share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
