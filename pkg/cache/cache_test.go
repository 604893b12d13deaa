package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Name     string  `json:"name"`
	Calories float64 `json:"calories"`
}

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewCache(client), mr
}

func TestGetSet(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()
	key := MealsDayKey("u1", "2024-01-15")

	t.Run("miss", func(t *testing.T) {
		var got []entry
		err := c.Get(ctx, key, &got)
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("hit", func(t *testing.T) {
		want := []entry{{Name: "oats", Calories: 400}}
		require.NoError(t, c.Set(ctx, key, want, time.Minute))

		var got []entry
		require.NoError(t, c.Get(ctx, key, &got))
		assert.Equal(t, want, got)
	})

	t.Run("expires", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, key, []entry{}, time.Minute))
		mr.FastForward(2 * time.Minute)

		var got []entry
		assert.ErrorIs(t, c.Get(ctx, key, &got), ErrCacheMiss)
	})

	t.Run("corrupt value", func(t *testing.T) {
		require.NoError(t, mr.Set(key, "{not json"))

		var got []entry
		err := c.Get(ctx, key, &got)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCacheMiss)
		assert.False(t, mr.Exists(key), "undecodable entries are dropped")
	})
}

func TestDeletePattern(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	for _, date := range []string{"2024-01-13", "2024-01-14"} {
		require.NoError(t, c.Set(ctx, MealsDayKey("u1", date), []entry{}, time.Minute))
	}
	require.NoError(t, c.Set(ctx, MealsDayKey("u2", "2024-01-14"), []entry{}, time.Minute))

	require.NoError(t, c.DeletePattern(ctx, UserMealsPattern("u1")))

	assert.False(t, mr.Exists(MealsDayKey("u1", "2024-01-13")))
	assert.False(t, mr.Exists(MealsDayKey("u1", "2024-01-14")))
	assert.True(t, mr.Exists(MealsDayKey("u2", "2024-01-14")))
}

func TestDelete(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, MealsDayKey("u1", "2024-01-13"), []entry{}, time.Minute))
	require.NoError(t, c.Set(ctx, MealsDayKey("u1", "2024-01-14"), []entry{}, time.Minute))

	require.NoError(t, c.Delete(ctx, MealsDayKey("u1", "2024-01-13"), MealsDayKey("u1", "2000-01-01")))

	assert.False(t, mr.Exists(MealsDayKey("u1", "2024-01-13")))
	assert.True(t, mr.Exists(MealsDayKey("u1", "2024-01-14")))
	assert.NoError(t, c.Delete(ctx))
}

func TestDeletePatternRedisDown(t *testing.T) {
	c, mr := setupCache(t)
	mr.Close()

	err := c.DeletePattern(context.Background(), UserMealsPattern("u1"))

	assert.ErrorIs(t, err, ErrCacheInvalidation)
}
