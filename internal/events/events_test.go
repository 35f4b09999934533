package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) (*RedisStore, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client), client
}

func TestAppendAndQueryCursor(t *testing.T) {
	store, _ := setupRedis(t)
	ctx := context.Background()

	for i, ts := range []int64{100, 200, 300} {
		err := store.Append(ctx, Event{
			ID:           string(rune('a' + i)),
			ProjectID:    1,
			Timestamp:    ts,
			ChangeType:   "issue_updated",
			ResourceType: "issue",
			ResourceID:   int64(i + 1),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.QuerySince(ctx, 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	if all[0].Timestamp != 100 || all[2].Timestamp != 300 {
		t.Fatalf("events out of order: %+v", all)
	}

	// The cursor is exclusive: polling with the last seen timestamp
	// must not replay it.
	tail, err := store.QuerySince(ctx, 1, 200, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 1 || tail[0].Timestamp != 300 {
		t.Fatalf("tail = %+v, want only timestamp 300", tail)
	}
}

func TestQueryIsolatedPerProject(t *testing.T) {
	store, _ := setupRedis(t)
	ctx := context.Background()

	if err := store.Append(ctx, Event{ID: "a", ProjectID: 1, Timestamp: 100}); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, Event{ID: "b", ProjectID: 2, Timestamp: 100}); err != nil {
		t.Fatal(err)
	}

	got, err := store.QuerySince(ctx, 2, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("project 2 feed = %+v", got)
	}
}

func TestPrune(t *testing.T) {
	store, _ := setupRedis(t)
	ctx := context.Background()

	if err := store.Append(ctx, Event{ID: "old", ProjectID: 1, Timestamp: 100}); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, Event{ID: "new", ProjectID: 1, Timestamp: 500}); err != nil {
		t.Fatal(err)
	}

	if err := store.Prune(ctx, 1, 500); err != nil {
		t.Fatal(err)
	}
	got, err := store.QuerySince(ctx, 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("after prune = %+v, want only the boundary event kept", got)
	}
}

func TestDistributorTimestampsStrictlyIncrease(t *testing.T) {
	store, _ := setupRedis(t)
	d := NewDistributor(store, nil, time.Hour)
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return frozen }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d.Record(ctx, 1, "issue_updated", "issue", int64(i), nil)
	}

	got, err := store.QuerySince(ctx, 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d events, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp <= got[i-1].Timestamp {
			t.Fatalf("timestamps not strictly increasing: %d then %d",
				got[i-1].Timestamp, got[i].Timestamp)
		}
	}
}

func TestAdjacentTimestampsSurviveScoreRoundTrip(t *testing.T) {
	store, _ := setupRedis(t)
	ctx := context.Background()

	// Epoch-scale microsecond timestamps one apart must come back in
	// order with the exclusive cursor intact; the ZSET score is a
	// float64 and would merge adjacent values at nanosecond scale.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMicro()
	for i := int64(0); i < 3; i++ {
		err := store.Append(ctx, Event{
			ID:        string(rune('a' + i)),
			ProjectID: 1,
			Timestamp: base + i,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.QuerySince(ctx, 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	for i := range got {
		if got[i].Timestamp != base+int64(i) {
			t.Fatalf("event %d timestamp = %d, want %d", i, got[i].Timestamp, base+int64(i))
		}
	}

	tail, err := store.QuerySince(ctx, 1, base+1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 1 || tail[0].Timestamp != base+2 {
		t.Fatalf("tail = %+v, want only %d", tail, base+2)
	}
}

func TestDistributorPollCursor(t *testing.T) {
	store, _ := setupRedis(t)
	d := NewDistributor(store, nil, time.Hour)
	ctx := context.Background()

	d.Record(ctx, 1, "issue_created", "issue", 7, map[string]any{"lockVersion": 0})

	items, cursor, hasMore, err := d.PollSince(ctx, 1, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d events, want 1", len(items))
	}
	if hasMore {
		t.Fatal("hasMore set on a complete page")
	}
	if cursor != items[0].Timestamp {
		t.Fatalf("cursor = %d, want %d", cursor, items[0].Timestamp)
	}

	empty, next, _, err := d.PollSince(ctx, 1, cursor, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Fatalf("replayed events: %+v", empty)
	}
	if next != cursor {
		t.Fatalf("empty poll moved cursor: %d -> %d", cursor, next)
	}
}

func TestDistributorPollPagination(t *testing.T) {
	store, _ := setupRedis(t)
	d := NewDistributor(store, nil, time.Hour)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d.Record(ctx, 1, "issue_updated", "issue", int64(i), nil)
	}

	first, cursor, hasMore, err := d.PollSince(ctx, 1, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || !hasMore {
		t.Fatalf("first page = %d events, hasMore = %v", len(first), hasMore)
	}

	rest, _, hasMore, err := d.PollSince(ctx, 1, cursor, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 3 || hasMore {
		t.Fatalf("second page = %d events, hasMore = %v", len(rest), hasMore)
	}
	if rest[0].Timestamp <= first[len(first)-1].Timestamp {
		t.Fatal("pages overlap")
	}
}

func TestDistributorRetention(t *testing.T) {
	store, _ := setupRedis(t)
	d := NewDistributor(store, nil, 24*time.Hour)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	stale := Event{ID: "stale", ProjectID: 1, Timestamp: now.Add(-25 * time.Hour).UnixMicro()}
	if err := store.Append(ctx, stale); err != nil {
		t.Fatal(err)
	}

	d.Record(ctx, 1, "issue_updated", "issue", 1, nil)

	got, err := store.QuerySince(ctx, 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID == "stale" {
		t.Fatalf("feed = %+v, want stale event pruned", got)
	}
}

func TestSubscribeReceivesPush(t *testing.T) {
	store, _ := setupRedis(t)
	d := NewDistributor(store, nil, time.Hour)
	ctx := context.Background()

	ch, cancel := d.Subscribe(1)
	defer cancel()
	otherCh, otherCancel := d.Subscribe(2)
	defer otherCancel()

	d.Record(ctx, 1, "issue_moved", "issue", 3, nil)

	select {
	case event := <-ch:
		if event.ChangeType != "issue_moved" || event.ResourceID != 3 {
			t.Fatalf("event = %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("no push received")
	}

	select {
	case event := <-otherCh:
		t.Fatalf("cross-project push: %+v", event)
	default:
	}
}

func TestSubscribeCancelCloses(t *testing.T) {
	store, _ := setupRedis(t)
	d := NewDistributor(store, nil, time.Hour)

	ch, cancel := d.Subscribe(1)
	cancel()
	if _, open := <-ch; open {
		t.Fatal("channel still open after cancel")
	}

	// Recording after cancel must not panic on the closed channel.
	d.Record(context.Background(), 1, "issue_updated", "issue", 1, nil)
}

func TestSessionLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	sessions := NewSessionStore(client, 30*time.Minute)
	ctx := context.Background()

	created, err := sessions.Create(ctx, "sess-1", 1, "grid-ui")
	if err != nil {
		t.Fatal(err)
	}
	if created.ProjectID != 1 {
		t.Fatalf("session = %+v", created)
	}
	if _, err := sessions.Create(ctx, "sess-2", 2, ""); err != nil {
		t.Fatal(err)
	}

	beat, err := sessions.Heartbeat(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if beat.LastSeenAt.Before(created.LastSeenAt) {
		t.Fatal("heartbeat must advance last-seen")
	}

	active, err := sessions.Active(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != "sess-1" {
		t.Fatalf("active = %+v", active)
	}

	mr.FastForward(31 * time.Minute)
	_, err = sessions.Heartbeat(ctx, "sess-1")
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}

	if err := sessions.Remove(ctx, "sess-2"); err != nil {
		t.Fatal(err)
	}
	active, err = sessions.Active(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Fatalf("active after remove = %+v", active)
	}
}
