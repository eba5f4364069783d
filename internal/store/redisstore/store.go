package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps the Redis client behind the narrow surface the rest of the
// application uses: the pending-document list, the per-document state keys
// and the per-user daily quota counters.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func NewWithClient(c *redis.Client) *Store {
	return &Store{rdb: c}
}

// Client exposes the underlying client for middleware that needs it
// (rate limiter store).
func (s *Store) Client() *redis.Client { return s.rdb }

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.rdb.Close() }

// Enqueue appends a serialized record to the tail of the pending list and
// returns the list length after the append (the record's 1-based position).
func (s *Store) Enqueue(ctx context.Context, queue string, payload []byte) (int64, error) {
	return s.rdb.RPush(ctx, queue, payload).Result()
}

// DequeueBatch pops up to max records from the head of the list, one at a
// time. An empty pop ends collection early. Once popped a record is never
// returned to the list.
func (s *Store) DequeueBatch(ctx context.Context, queue string, max int) ([][]byte, error) {
	var out [][]byte
	for i := 0; i < max; i++ {
		v, err := s.rdb.LPop(ctx, queue).Bytes()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) QueueLen(ctx context.Context, queue string) (int64, error) {
	return s.rdb.LLen(ctx, queue).Result()
}

func docKey(id, field string) string {
	return "doc:" + id + ":" + field
}

func (s *Store) SetField(ctx context.Context, id, field, value string) error {
	return s.rdb.Set(ctx, docKey(id, field), value, 0).Err()
}

// GetFields reads several state fields for one document in a single
// pipelined round trip. Missing fields are absent from the result map.
func (s *Store) GetFields(ctx context.Context, id string, fields ...string) (map[string]string, error) {
	cmds := make([]*redis.StringCmd, len(fields))
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, f := range fields {
			cmds[i] = p.Get(ctx, docKey(id, f))
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, err
	}

	out := make(map[string]string, len(fields))
	for i, cmd := range cmds {
		v, err := cmd.Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[fields[i]] = v
	}
	return out, nil
}

// ExpireDocument applies ttl to the given state fields of a document.
func (s *Store) ExpireDocument(ctx context.Context, id string, ttl time.Duration, fields ...string) error {
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, f := range fields {
			p.Expire(ctx, docKey(id, f), ttl)
		}
		return nil
	})
	return err
}

// IncrDailyQuota bumps the user's document counter for the current UTC day
// and returns the new count. The key expires at the next midnight.
func (s *Store) IncrDailyQuota(ctx context.Context, userID uint64) (int64, error) {
	now := time.Now().UTC()
	key := fmt.Sprintf("quota:user:%d:%s", userID, now.Format("20060102"))

	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		s.rdb.ExpireAt(ctx, key, midnight)
	}
	return n, nil
}

// DailyQuotaUsed reads the user's counter for the current UTC day without
// bumping it.
func (s *Store) DailyQuotaUsed(ctx context.Context, userID uint64) (int64, error) {
	key := fmt.Sprintf("quota:user:%d:%s", userID, time.Now().UTC().Format("20060102"))
	n, err := s.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
