package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares sessions between relay instances.
//
// Each session is a JSON value under <prefix>:<callSid> with a PX expiry.
// A sorted set <prefix>:index scored by expiry time backs Count; expired
// members are trimmed lazily by the scripts below.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: "relay:session", now: time.Now}
}

var putScript = redis.NewScript(`
-- KEYS[1] = session key
-- KEYS[2] = index key
-- ARGV[1] = payload
-- ARGV[2] = ttl_ms
-- ARGV[3] = expires_at_ms
-- ARGV[4] = call sid
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
return 1
`)

var removeScript = redis.NewScript(`
-- KEYS[1] = session key
-- KEYS[2] = index key
-- ARGV[1] = call sid
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

var countScript = redis.NewScript(`
-- KEYS[1] = index key
-- ARGV[1] = now_ms
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
return redis.call('ZCARD', KEYS[1])
`)

func (r *RedisStore) key(callSid string) string { return r.prefix + ":" + callSid }

func (r *RedisStore) indexKey() string { return r.prefix + ":index" }

func (r *RedisStore) Put(ctx context.Context, s State) error {
	if s.CallSid == "" {
		return ErrInvalidState
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	expiresAt := r.now().Add(r.ttl).UnixMilli()
	_, err = putScript.Run(ctx, r.rdb,
		[]string{r.key(s.CallSid), r.indexKey()},
		string(payload), r.ttl.Milliseconds(), expiresAt, s.CallSid,
	).Result()
	if err != nil {
		return fmt.Errorf("session put: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, callSid string) (State, bool, error) {
	raw, err := r.rdb.Get(ctx, r.key(callSid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("session get: %w", err)
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, false, fmt.Errorf("session decode: %w", err)
	}
	return s, true, nil
}

func (r *RedisStore) Remove(ctx context.Context, callSid string) error {
	_, err := removeScript.Run(ctx, r.rdb, []string{r.key(callSid), r.indexKey()}, callSid).Result()
	if err != nil {
		return fmt.Errorf("session remove: %w", err)
	}
	return nil
}

func (r *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := countScript.Run(ctx, r.rdb, []string{r.indexKey()}, r.now().UnixMilli()).Int()
	if err != nil {
		return 0, fmt.Errorf("session count: %w", err)
	}
	return n, nil
}
