// Package cart reads and trims the shopping carts kept in Redis.
package cart

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/safar/go-bookstore/internal/config"
)

type Line struct {
	BookID   int64
	Quantity int
}

type Store interface {
	Items(ctx context.Context, userID int64) ([]Line, error)
	Remove(ctx context.Context, userID int64, lines []Line) error
}

// removeScript subtracts each ordered quantity from the matching hash field
// and drops fields that reach zero. Quantities added after the order was
// placed stay in the cart.
var removeScript = redis.NewScript(`
for i = 1, #ARGV, 2 do
	local current = tonumber(redis.call('HGET', KEYS[1], ARGV[i]) or '0')
	local remaining = current - tonumber(ARGV[i + 1])
	if remaining > 0 then
		redis.call('HSET', KEYS[1], ARGV[i], remaining)
	else
		redis.call('HDEL', KEYS[1], ARGV[i])
	end
end
return redis.call('HLEN', KEYS[1])
`)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

func (s *RedisStore) Items(ctx context.Context, userID int64) ([]Line, error) {
	fields, err := s.client.HGetAll(ctx, cartKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	lines := make([]Line, 0, len(fields))
	for field, value := range fields {
		bookID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse cart book id %q: %w", field, err)
		}
		qty, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("parse cart quantity for book %d: %w", bookID, err)
		}
		lines = append(lines, Line{BookID: bookID, Quantity: qty})
	}

	sort.Slice(lines, func(i, j int) bool { return lines[i].BookID < lines[j].BookID })
	return lines, nil
}

func (s *RedisStore) Remove(ctx context.Context, userID int64, lines []Line) error {
	if len(lines) == 0 {
		return nil
	}

	args := make([]any, 0, len(lines)*2)
	for _, l := range lines {
		args = append(args, strconv.FormatInt(l.BookID, 10), l.Quantity)
	}

	if err := removeScript.Run(ctx, s.client, []string{cartKey(userID)}, args...).Err(); err != nil {
		return fmt.Errorf("redis remove cart items failed: %w", err)
	}
	return nil
}

func cartKey(userID int64) string {
	return fmt.Sprintf("cart:%d", userID)
}
