package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisHistory(t *testing.T, capacity int) (*RedisHistory, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	h, err := NewRedis(context.Background(), "redis://"+mr.Addr()+"/0", capacity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h, mr
}

func implementations(t *testing.T, capacity int) map[string]History {
	redisHistory, _ := newRedisHistory(t, capacity)
	return map[string]History{
		"memory": NewMemory(capacity),
		"redis":  redisHistory,
	}
}

func turn(role string, i int) Turn {
	return Turn{Role: role, Content: fmt.Sprintf("msg %d", i), At: time.Unix(int64(i), 0).UTC()}
}

func TestHistoryKeepsNewestTurnsInOrder(t *testing.T) {
	for name, h := range implementations(t, 4) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				require.NoError(t, h.Append(ctx, "ana", turn(RoleUser, 2*i), turn(RoleAssistant, 2*i+1)))
			}

			got, err := h.Recent(ctx, "ana", 10)
			require.NoError(t, err)
			require.Len(t, got, 4)
			assert.Equal(t, "msg 2", got[0].Content)
			assert.Equal(t, "msg 5", got[3].Content)
			assert.Equal(t, RoleAssistant, got[3].Role)
			assert.True(t, got[0].At.Equal(time.Unix(2, 0)))

			last, err := h.Recent(ctx, "ana", 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"msg 4", "msg 5"}, []string{last[0].Content, last[1].Content})

			none, err := h.Recent(ctx, "ana", 0)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestHistoryIsolatesAndClearsUsers(t *testing.T) {
	for name, h := range implementations(t, 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, h.Append(ctx, "ana", turn(RoleUser, 1)))
			require.NoError(t, h.Append(ctx, "bia", turn(RoleUser, 2)))

			require.NoError(t, h.Clear(ctx, "ana"))

			ana, err := h.Recent(ctx, "ana", 10)
			require.NoError(t, err)
			assert.Empty(t, ana)

			bia, err := h.Recent(ctx, "bia", 10)
			require.NoError(t, err)
			assert.Len(t, bia, 1)
		})
	}
}

func TestHistoryWithZeroCapacityStoresNothing(t *testing.T) {
	for name, h := range implementations(t, 0) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, h.Append(ctx, "ana", turn(RoleUser, 1)))
			got, err := h.Recent(ctx, "ana", 5)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestRedisHistorySetsTTL(t *testing.T) {
	h, mr := newRedisHistory(t, 4)
	require.NoError(t, h.Append(context.Background(), "ana", turn(RoleUser, 1)))
	assert.Equal(t, DefaultTTL, mr.TTL(key("ana")))

	mr.FastForward(DefaultTTL + time.Second)
	got, err := h.Recent(context.Background(), "ana", 4)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisHistoryRejectsBadData(t *testing.T) {
	h, mr := newRedisHistory(t, 4)
	_, err := mr.RPush(key("ana"), "{not json")
	require.NoError(t, err)
	_, err = h.Recent(context.Background(), "ana", 4)
	assert.ErrorContains(t, err, "decode turn")
}

func TestNewRedisErrors(t *testing.T) {
	_, err := NewRedis(context.Background(), "http://nope", 4)
	assert.ErrorContains(t, err, "parse url")

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = NewRedis(ctx, "redis://"+addr, 4)
	assert.ErrorContains(t, err, "ping")
}

func TestNewRedisWithClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	h := NewRedisWithClient(client, 2, 0)
	defer h.Close()

	require.NoError(t, h.Append(context.Background(), "ana", turn(RoleUser, 1)))
	assert.Zero(t, mr.TTL(key("ana")))
}
