package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ranking struct {
	Nickname string `json:"nickname"`
	Points   int64  `json:"points"`
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := NewClient(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestAside_FetchesOnceAndCaches(t *testing.T) {
	mr, rdb := setupRedis(t)
	ctx := context.Background()

	calls := 0
	fetch := func(dest *[]ranking) func() error {
		return func() error {
			calls++
			*dest = []ranking{{Nickname: "코인왕", Points: 1200}}
			return nil
		}
	}

	var first []ranking
	require.NoError(t, Aside(ctx, rdb, RankingKey, &first, RankingTTL, fetch(&first)))
	var second []ranking
	require.NoError(t, Aside(ctx, rdb, RankingKey, &second, RankingTTL, fetch(&second)))

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, RankingTTL, mr.TTL(RankingKey))
}

func TestAside_PropagatesFetchError(t *testing.T) {
	_, rdb := setupRedis(t)
	boom := errors.New("db down")

	var dest []ranking
	err := Aside(context.Background(), rdb, RankingKey, &dest, time.Minute, func() error { return boom })
	assert.ErrorIs(t, err, boom)

	found, err := GetJSON(context.Background(), rdb, RankingKey, &dest)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAside_NilClientFallsThrough(t *testing.T) {
	var dest ranking
	err := Aside(context.Background(), nil, "k", &dest, time.Minute, func() error {
		dest.Points = 5
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), dest.Points)
}

func TestNewClient_URLAndAddr(t *testing.T) {
	c, err := NewClient("redis://localhost:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", c.Options().Addr)
	assert.Equal(t, 2, c.Options().DB)
	_ = c.Close()

	c, err = NewClient("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", c.Options().Addr)
	_ = c.Close()

	_, err = NewClient("redis://localhost:6379/notanumber")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "verify:signup:01012345678", VerifyCodeKey("signup", "01012345678"))
	assert.Equal(t, "market:mark:BTCUSDT", MarkPriceKey("BTCUSDT"))
	assert.Equal(t, "market:BTCUSDT", MarketChannel("BTCUSDT"))
	assert.Equal(t, "post_view:3:user:9", PostViewKey(3, "user:9"))
	assert.Equal(t, "blacklist:abc", BlacklistKey("abc"))
}

func TestInvalidate(t *testing.T) {
	mr, rdb := setupRedis(t)
	require.NoError(t, mr.Set(UserKey(1), "x"))
	require.NoError(t, mr.Set(PostKey(2), "y"))

	InvalidateUser(context.Background(), rdb, 1)
	InvalidatePost(context.Background(), rdb, 2)
	Invalidate(context.Background(), nil, "ignored")

	assert.False(t, mr.Exists(UserKey(1)))
	assert.False(t, mr.Exists(PostKey(2)))
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
	_ = rdb.Close()

	down, err := miniredis.Run()
	require.NoError(t, err)
	addr := down.Addr()
	down.Close()

	rdb, err = Connect(context.Background(), addr)
	assert.ErrorContains(t, err, "ping redis")
	assert.Nil(t, rdb)
}

func TestAside_ConcurrentMissesShareOneFetch(t *testing.T) {
	_, rdb := setupRedis(t)
	var calls atomic.Int32
	release := make(chan struct{})

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]ranking, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var dest []ranking
			err := Aside(context.Background(), rdb, "rank:shared", &dest, time.Minute, func() error {
				calls.Add(1)
				<-release
				dest = []ranking{{Nickname: "whale", Points: 900}}
				return nil
			})
			assert.NoError(t, err)
			results[i] = dest
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		require.Len(t, r, 1)
		assert.Equal(t, "whale", r[0].Nickname)
	}
}
