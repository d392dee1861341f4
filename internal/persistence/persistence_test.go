package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, &Redis{Client: client, Prefix: "test"}
}

func TestRedisSequencerPerGuild(t *testing.T) {
	_, r := startTestRedis(t)
	seq := NewSequencer(r)
	ctx := context.Background()

	first, err := seq.Next(ctx, "g1")
	require.NoError(t, err)
	second, err := seq.Next(ctx, "g1")
	require.NoError(t, err)
	other, err := seq.Next(ctx, "g2")
	require.NoError(t, err)

	assert.Equal(t, "T0001", first)
	assert.Equal(t, "T0002", second)
	assert.Equal(t, "T0001", other)
}

func TestRandomSequencerFallback(t *testing.T) {
	seq := NewSequencer(&Redis{})
	id, err := seq.Next(context.Background(), "g1")
	require.NoError(t, err)
	assert.Regexp(t, `^TCK-[0-9A-F]{8}$`, id)
}

func TestKeyedMutexSerializes(t *testing.T) {
	locker := NewKeyedMutex()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "ticket")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, locker.locks)
}

func TestKeyedMutexTimeout(t *testing.T) {
	locker := NewKeyedMutex()
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	assert.True(t, errors.Is(err, ErrLockTimeout))

	other, err := locker.Lock(context.Background(), "other")
	require.NoError(t, err)
	other()
}

func TestRedisLockerExclusiveAndRelease(t *testing.T) {
	mr, r := startTestRedis(t)
	locker := NewRedisLocker(r, time.Minute)

	unlock, err := locker.Lock(context.Background(), "create:g1:u1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:create:g1:u1"))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "create:g1:u1")
	assert.True(t, errors.Is(err, ErrLockTimeout))

	unlock()
	assert.False(t, mr.Exists("test:lock:create:g1:u1"))

	again, err := locker.Lock(context.Background(), "create:g1:u1")
	require.NoError(t, err)
	again()
}

func TestRedisLockerDoesNotReleaseForeignToken(t *testing.T) {
	mr, r := startTestRedis(t)
	locker := NewRedisLocker(r, time.Minute)

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	// Simulate expiry followed by another holder taking the key.
	require.NoError(t, mr.Set("test:lock:k", "someone-else"))
	unlock()

	got, err := mr.Get("test:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockerExtendsWhileHeld(t *testing.T) {
	mr, r := startTestRedis(t)
	locker := NewRedisLocker(r, 300*time.Millisecond)

	unlock, err := locker.Lock(context.Background(), "ticket:g1:T0001")
	require.NoError(t, err)
	const key = "test:lock:ticket:g1:T0001"

	// Let most of the ttl pass, then give the holder time to re-arm it.
	mr.FastForward(250 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return mr.TTL(key) > 200*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	mr.FastForward(250 * time.Millisecond)
	assert.True(t, mr.Exists(key))

	unlock()
	assert.False(t, mr.Exists(key))

	// Nothing re-creates the key once released.
	time.Sleep(250 * time.Millisecond)
	assert.False(t, mr.Exists(key))
}

func TestRedisLockerStopsExtendingForeignKey(t *testing.T) {
	mr, r := startTestRedis(t)
	locker := NewRedisLocker(r, 300*time.Millisecond)

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	require.NoError(t, mr.Set("test:lock:k", "someone-else"))
	mr.SetTTL("test:lock:k", 50*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, mr.TTL("test:lock:k"))
}

func TestMigrationNamesOrdered(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_ticket_history.sql", "0002_ticket_transcripts.sql"}, names)
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "ticketbot:lock:a", (&Redis{}).Key("lock", "a"))
	assert.Equal(t, "p:x", (&Redis{Prefix: "p"}).Key("x"))
}
