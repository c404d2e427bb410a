package cart

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client), mr
}

func TestItems(t *testing.T) {
	store, mr := setupTestRedis(t)

	mr.HSet(cartKey(7), "12", "3", "4", "1")

	lines, err := store.Items(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []Line{{BookID: 4, Quantity: 1}, {BookID: 12, Quantity: 3}}, lines)
}

func TestItemsEmptyCart(t *testing.T) {
	store, _ := setupTestRedis(t)

	lines, err := store.Items(context.Background(), 99)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestItemsCorruptQuantity(t *testing.T) {
	store, mr := setupTestRedis(t)

	mr.HSet(cartKey(7), "12", "lots")

	_, err := store.Items(context.Background(), 7)
	assert.ErrorContains(t, err, "parse cart quantity")
}

func TestRemoveOnlyOrderedQuantities(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	// The customer ordered 2 of book 1 and 1 of book 2, then added another
	// copy of book 1 and a new book 3 before the order finished.
	mr.HSet(cartKey(5), "1", "3", "2", "1", "3", "4")

	err := store.Remove(ctx, 5, []Line{{BookID: 1, Quantity: 2}, {BookID: 2, Quantity: 1}})
	require.NoError(t, err)

	assert.Equal(t, "1", mr.HGet(cartKey(5), "1"))
	assert.Equal(t, "", mr.HGet(cartKey(5), "2"))
	assert.Equal(t, "4", mr.HGet(cartKey(5), "3"))
}

func TestRemoveMoreThanPresent(t *testing.T) {
	store, mr := setupTestRedis(t)

	mr.HSet(cartKey(5), "1", "1")

	require.NoError(t, store.Remove(context.Background(), 5, []Line{{BookID: 1, Quantity: 4}, {BookID: 9, Quantity: 1}}))
	assert.False(t, mr.Exists(cartKey(5)))
}

func TestRemoveNothing(t *testing.T) {
	store, _ := setupTestRedis(t)
	assert.NoError(t, store.Remove(context.Background(), 5, nil))
}
