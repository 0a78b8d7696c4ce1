package oauthstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	vaulterrors "github.com/flow-hydraulics/credential-vault/errors"
	"github.com/gomodule/redigo/redis"
)

// RedisStore keeps state records in redis and lets redis expire them.
type RedisStore struct {
	pool   *redis.Pool
	prefix string
	expiry time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisPool(url string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialURLContext(ctx, url)
		},
	}
}

func NewRedisStore(pool *redis.Pool, expiry time.Duration) *RedisStore {
	return &RedisStore{pool: pool, prefix: "oauthstate", expiry: expiry}
}

func (r *RedisStore) stateKey(service, state string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, service, state)
}

func (r *RedisStore) pendingKey(userID, service string) string {
	return fmt.Sprintf("%s:pending:%s:%s", r.prefix, service, userID)
}

func (r *RedisStore) Insert(ctx context.Context, st *State) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	b, err := json.Marshal(st)
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= maxInsertAttempts; attempt++ {
		won, err := r.insert(ctx, conn, st, b)
		if err != nil {
			return err
		}
		if won {
			return nil
		}
	}
	return fmt.Errorf("oauth state for user %s kept being superseded", st.UserID)
}

// insert runs one optimistic transaction guarded by a WATCH on the pending
// pointer. It reports false if the pointer changed before EXEC.
func (r *RedisStore) insert(ctx context.Context, conn redis.Conn, st *State, b []byte) (bool, error) {
	px := int(r.expiry.Milliseconds())
	pending := r.pendingKey(st.UserID, st.Service)

	if _, err := redis.DoContext(conn, ctx, "WATCH", pending); err != nil {
		return false, err
	}

	previous, err := redis.String(redis.DoContext(conn, ctx, "GET", pending))
	if err != nil && !errors.Is(err, redis.ErrNil) {
		_, _ = redis.DoContext(conn, ctx, "UNWATCH")
		return false, err
	}

	if err := conn.Send("MULTI"); err != nil {
		return false, err
	}
	if previous != "" {
		if err := conn.Send("DEL", r.stateKey(st.Service, previous)); err != nil {
			return false, err
		}
	}
	if err := conn.Send("SET", r.stateKey(st.Service, st.State), b, "PX", px, "NX"); err != nil {
		return false, err
	}
	if err := conn.Send("SET", pending, st.State, "PX", px); err != nil {
		return false, err
	}

	// EXEC replies nil when the watched pointer was modified
	_, err = redis.Values(redis.DoContext(conn, ctx, "EXEC"))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func (r *RedisStore) Consume(ctx context.Context, service, state string, at time.Time) (*State, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// GETDEL makes the redeem at-most-once
	b, err := redis.Bytes(redis.DoContext(conn, ctx, "GETDEL", r.stateKey(service, state)))
	if errors.Is(err, redis.ErrNil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	st := &State{}
	if err := json.Unmarshal(b, st); err != nil {
		return nil, &vaulterrors.EncodingError{Err: err}
	}

	st.ConsumedAt = &at
	return st, nil
}

// Prune is a no-op since redis expires records on its own.
func (r *RedisStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}
