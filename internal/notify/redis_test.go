package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/taxi-dispatch/internal/models"
)

// fakeRedis keeps lists in memory and only implements the commands RedisFeed
// issues; anything else panics through the nil embedded interface.
type fakeRedis struct {
	redis.Cmdable
	lists   map[string][]string
	execErr error
	readErr error
	execs   int
}

func newFakeRedis() *fakeRedis { return &fakeRedis{lists: make(map[string][]string)} }

func (f *fakeRedis) TxPipeline() redis.Pipeliner { return &fakeTx{db: f} }

func (f *fakeRedis) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	if f.readErr != nil {
		return redis.NewStringSliceResult(nil, f.readErr)
	}
	return redis.NewStringSliceResult(window(f.lists[key], start, stop), nil)
}

// fakeTx queues writes and applies them all on Exec, or none when execErr is set.
type fakeTx struct {
	redis.Pipeliner
	db  *fakeRedis
	ops []func()
}

func (t *fakeTx) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	t.ops = append(t.ops, func() {
		for _, v := range values {
			var s string
			switch b := v.(type) {
			case []byte:
				s = string(b)
			case string:
				s = b
			}
			t.db.lists[key] = append([]string{s}, t.db.lists[key]...)
		}
	})
	return redis.NewIntResult(0, nil)
}

func (t *fakeTx) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	t.ops = append(t.ops, func() { t.db.lists[key] = window(t.db.lists[key], start, stop) })
	return redis.NewStatusResult("OK", nil)
}

func (t *fakeTx) Exec(ctx context.Context) ([]redis.Cmder, error) {
	t.db.execs++
	if t.db.execErr != nil {
		return nil, t.db.execErr
	}
	for _, op := range t.ops {
		op()
	}
	return nil, nil
}

func window(l []string, start, stop int64) []string {
	if stop >= int64(len(l)) {
		stop = int64(len(l)) - 1
	}
	if start > stop {
		return nil
	}
	return append([]string(nil), l[start:stop+1]...)
}

func TestRedisFeedCapsListsUnderPrefix(t *testing.T) {
	db := newFakeRedis()
	f := NewRedisFeed(db, "taxi:notify:", 2)
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 3; i++ {
		n := models.Notification{ID: string(rune('a' + i)), UserID: 7, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := f.Append(ctx, n); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Append(ctx, models.Notification{ID: "all", Audience: models.RoleDriver, CreatedAt: base.Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}

	if got := len(db.lists["taxi:notify:user:7"]); got != 2 {
		t.Fatalf("user list must be capped at 2, has %d", got)
	}
	if got := len(db.lists["taxi:notify:role:driver"]); got != 1 {
		t.Fatalf("expected one driver broadcast, has %d", got)
	}
	for k := range db.lists {
		if !strings.HasPrefix(k, "taxi:notify:") {
			t.Fatalf("key %q written outside the prefix", k)
		}
	}

	got, err := f.List(ctx, 7, models.RoleDriver, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "all" || got[1].ID != "c" {
		t.Fatalf("unexpected merged feed %+v", got)
	}
	own, _ := f.List(ctx, 7, "", 5)
	if len(own) != 2 || own[0].ID != "c" || own[1].ID != "b" {
		t.Fatalf("unexpected own feed %+v", own)
	}
}

func TestRedisFeedAppendIsOneTransaction(t *testing.T) {
	db := newFakeRedis()
	db.execErr = errors.New("connection reset")
	f := NewRedisFeed(db, "p:", 0)
	err := f.Append(context.Background(),
		models.Notification{ID: "a", UserID: 1},
		models.Notification{ID: "b", Audience: models.RoleDriver},
	)
	if !errors.Is(err, db.execErr) {
		t.Fatalf("expected exec error, got %v", err)
	}
	if db.execs != 1 || len(db.lists) != 0 {
		t.Fatalf("failed transaction must write nothing: execs=%d lists=%v", db.execs, db.lists)
	}
	if err := f.Append(context.Background()); err != nil || db.execs != 1 {
		t.Fatalf("empty append must not touch redis: %v execs=%d", err, db.execs)
	}
}

func TestRedisFeedSkipsCorruptEntries(t *testing.T) {
	db := newFakeRedis()
	db.lists["p:user:3"] = []string{`{"id":"ok","user_id":3}`, `not json`}
	f := NewRedisFeed(db, "p:", 0)
	got, err := f.List(context.Background(), 3, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "ok" {
		t.Fatalf("expected the valid entry only, got %+v", got)
	}

	db.readErr = errors.New("timeout")
	if _, err := f.List(context.Background(), 3, "", 0); !errors.Is(err, db.readErr) {
		t.Fatalf("expected wrapped read error, got %v", err)
	}
}
