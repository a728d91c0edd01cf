package lock

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_Exclusive(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "2025-02-10", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "2025-02-10", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = l.TryLock(ctx, "2025-02-17", time.Minute)
	assert.True(t, ok)

	release()
	release()
	_, ok, _ = l.TryLock(ctx, "2025-02-10", time.Minute)
	assert.True(t, ok)
}

func TestMemoryLocker_ExpiredLeaseIsNotReleasedByOldHolder(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2025, 2, 16, 20, 1, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, ok, _ := l.TryLock(ctx, "p", time.Minute)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = l.TryLock(ctx, "p", time.Minute)
	require.True(t, ok)

	stale()
	_, ok, _ = l.TryLock(ctx, "p", time.Minute)
	assert.False(t, ok)
}

func TestMemoryLocker_Concurrent(t *testing.T) {
	l := NewMemoryLocker()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := l.TryLock(context.Background(), "p", time.Minute); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

var uuidPattern = regexp.MustCompile(`^[0-9a-f-]{36}$`)

func TestRedisLocker(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := &RedisLocker{Client: client, Prefix: "pc:settle:"}
	mock.MatchExpectationsInOrder(true)

	var token string
	mock.Regexp().ExpectSetNX("pc:settle:2025-02-10", `^[0-9a-f-]{36}$`, time.Minute).SetVal(true)
	mock.CustomMatch(func(expected, actual []interface{}) error {
		token, _ = actual[len(actual)-1].(string)
		if !uuidPattern.MatchString(token) {
			return errors.New("release token is not a uuid")
		}
		return nil
	}).ExpectEval(releaseScript, []string{"pc:settle:2025-02-10"}, "").SetVal(int64(1))

	release, ok, err := l.TryLock(context.Background(), "2025-02-10", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	release()
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_Held(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := &RedisLocker{Client: client, Prefix: "pc:"}
	mock.Regexp().ExpectSetNX("pc:p", `.+`, time.Minute).SetVal(false)

	release, ok, err := l.TryLock(context.Background(), "p", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, release)

	mock.Regexp().ExpectSetNX("pc:p", `.+`, time.Minute).SetErr(errors.New("conn refused"))
	_, _, err = l.TryLock(context.Background(), "p", time.Minute)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
