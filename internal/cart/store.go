package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-retail-checkout/internal/redisx"
)

// RedisStore keeps carts, checkout drafts and checkout idempotency keys in Redis.
type RedisStore struct {
	Redis    *redis.Client
	LockWait time.Duration
	Now      func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{Redis: rdb, LockWait: 3 * time.Second, Now: time.Now}
}

func (s *RedisStore) Load(ctx context.Context, customer string) ([]Item, error) {
	b, err := s.Redis.Get(ctx, fmt.Sprintf(redisx.KeyCart, customer)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []Item{}, nil
	}
	if err != nil {
		return nil, err
	}
	items := []Item{}
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("cart: decode %s: %w", customer, err)
	}
	return items, nil
}

// Save replaces the cart; an empty cart is deleted.
func (s *RedisStore) Save(ctx context.Context, customer string, items []Item) error {
	if len(items) == 0 {
		return s.Clear(ctx, customer)
	}
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	_, err = s.Redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, fmt.Sprintf(redisx.KeyCart, customer), b, 0)
		p.ZAdd(ctx, redisx.KeyCartsTouched, redis.Z{Score: float64(s.Now().Unix()), Member: customer})
		return nil
	})
	return err
}

func (s *RedisStore) Clear(ctx context.Context, customer string) error {
	_, err := s.Redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, fmt.Sprintf(redisx.KeyCart, customer))
		p.ZRem(ctx, redisx.KeyCartsTouched, customer)
		return nil
	})
	return err
}

// Lock serialises mutations of one customer's cart.
func (s *RedisStore) Lock(ctx context.Context, customer string) (func(), error) {
	return redisx.Lock(ctx, s.Redis, fmt.Sprintf(redisx.KeyCartLock, customer), redisx.TTLCartLock, s.LockWait)
}

// Idle lists customers whose cart has not changed since before.
func (s *RedisStore) Idle(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return s.Redis.ZRangeByScore(ctx, redisx.KeyCartsTouched, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.Unix(), 10),
		Count: int64(limit),
	}).Result()
}

// Touched reports when the cart last changed; ok is false when there is no cart.
func (s *RedisStore) Touched(ctx context.Context, customer string) (time.Time, bool, error) {
	score, err := s.Redis.ZScore(ctx, redisx.KeyCartsTouched, customer).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(int64(score), 0), true, nil
}

func (s *RedisStore) LoadDraft(ctx context.Context, customer string) (Draft, error) {
	var d Draft
	err := s.Redis.HGetAll(ctx, fmt.Sprintf(redisx.KeyCheckoutDraft, customer)).Scan(&d)
	return d, err
}

func (s *RedisStore) SaveDraft(ctx context.Context, customer string, d Draft) error {
	key := fmt.Sprintf(redisx.KeyCheckoutDraft, customer)
	_, err := s.Redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "name", d.Name, "phone", d.Phone, "address", d.Address, "payment", d.Payment)
		p.Expire(ctx, key, redisx.TTLDraft)
		return nil
	})
	return err
}

func (s *RedisStore) RememberOrder(ctx context.Context, key, orderID string) error {
	return s.Redis.Set(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, key), orderID, redisx.TTLIdempotency).Err()
}

func (s *RedisStore) RecallOrder(ctx context.Context, key string) (string, bool, error) {
	v, err := s.Redis.Get(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
