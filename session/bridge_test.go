package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"strdash/storage"
	"strdash/util/goroutine"
)

type recordingMirror struct {
	mu    sync.Mutex
	saved map[string]string
	err   error
	delay time.Duration
}

func (m *recordingMirror) SaveToSession(ctx context.Context, key string, value any) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.err != nil {
		return m.err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]string{}
	}
	m.saved[key] = string(data)
	return nil
}

func TestBridge_SaveMirrorsAndStores(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	store, err := NewMemoryStore(16)
	require.NoError(t, err)
	mirror := &recordingMirror{delay: 20 * time.Millisecond}
	bridge := NewBridge("s1", store, mirror, time.Second, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	bridge.Save(ctx, KeyAlertID, "A1")
	bridge.Save(ctx, KeyAlertData, map[string]any{"columns": []string{"STR_ALERT_ID"}})
	cancel()

	var id string
	found, err := bridge.Load(context.Background(), KeyAlertID, &id)
	require.NoError(t, err)
	assert.True(t, found, "local copy is available before the mirror finishes")
	assert.Equal(t, "A1", id)

	bridge.Wait()
	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	assert.Equal(t, `"A1"`, mirror.saved[KeyAlertID], "caller cancellation does not abort the mirror")
	assert.JSONEq(t, `{"columns":["STR_ALERT_ID"]}`, mirror.saved[KeyAlertData])
}

func TestBridge_MirrorFailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	bridge := NewBridge("s1", nil, &recordingMirror{err: errors.New("backend down")}, time.Second, zap.New(core).Sugar())

	bridge.Save(context.Background(), KeyCustomerData, []int{1})
	bridge.Wait()

	require.Equal(t, 1, logs.FilterMessage("Failed to mirror value to backend session").Len())
}

func TestBridge_UnencodableValue(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	mirror := &recordingMirror{}
	bridge := NewBridge("s1", nil, mirror, time.Second, zap.New(core).Sugar())

	bridge.Save(context.Background(), "bad", make(chan int))
	bridge.Wait()

	assert.Equal(t, 1, logs.FilterMessage("Failed to encode session value").Len())
	assert.Empty(t, mirror.saved)
}

func TestMemoryStore(t *testing.T) {
	store, err := NewMemoryStore(2)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", "a", []byte("1")))
	require.NoError(t, store.Save(ctx, "s2", "a", []byte("2")))

	data, found, err := store.Load(ctx, "s1", "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("1"), data)

	require.NoError(t, store.Save(ctx, "s3", "a", []byte("3")))
	_, found, _ = store.Load(ctx, "s2", "a")
	assert.False(t, found, "least recently used value is evicted")

	require.NoError(t, store.Clear(ctx, "s1"))
	_, found, _ = store.Load(ctx, "s1", "a")
	assert.False(t, found)
	assert.Equal(t, 1, store.Len())
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cache := storage.NewRedisCache(storage.RedisOptions{Addr: mr.Addr()}, zaptest.NewLogger(t).Sugar())
	defer cache.Close()
	store := NewRedisStore(cache, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", KeyAlertID, []byte(`"A1"`)))
	require.NoError(t, store.Save(ctx, "s1", KeyCustomerData, []byte(`{}`)))
	require.NoError(t, store.Save(ctx, "s2", KeyAlertID, []byte(`"B1"`)))

	data, found, err := store.Load(ctx, "s1", KeyAlertID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `"A1"`, string(data))
	assert.Greater(t, mr.TTL("session:s1:"+KeyAlertID), time.Duration(0))

	require.NoError(t, store.Clear(ctx, "s1"))
	_, found, err = store.Load(ctx, "s1", KeyCustomerData)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, _ = store.Load(ctx, "s2", KeyAlertID)
	assert.True(t, found)
}

func TestBridge_ResetOverwritesSearchKeys(t *testing.T) {
	store, err := NewMemoryStore(32)
	require.NoError(t, err)
	mirror := &recordingMirror{}
	bridge := NewBridge("s1", store, mirror, time.Second, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	bridge.Save(ctx, KeyCustomerData, map[string]any{"rows": [][]string{{"C1"}}})
	bridge.Wait()
	bridge.Reset(ctx)
	bridge.Wait()

	var customer map[string]any
	found, err := bridge.Load(ctx, KeyCustomerData, &customer)
	require.NoError(t, err)
	assert.False(t, found, "a reset value reads as absent")

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	for _, key := range SearchKeys {
		assert.Equal(t, "null", mirror.saved[key], key)
	}
}

func TestBridge_LatestValueWinsPerKey(t *testing.T) {
	mirror := &recordingMirror{delay: 5 * time.Millisecond}
	bridge := NewBridge("s1", nil, mirror, time.Second, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	bridge.Reset(ctx)
	for i := 0; i < 5; i++ {
		bridge.Save(ctx, KeyCustomerData, i)
	}
	bridge.Wait()

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	assert.Equal(t, "4", mirror.saved[KeyCustomerData])
}

func TestBridge_Resync(t *testing.T) {
	store, err := NewMemoryStore(32)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "s1", KeyAlertID, []byte(`"A1"`)))
	require.NoError(t, store.Save(ctx, "s1", KeyCustomerData, []byte("null")))
	require.NoError(t, store.Save(ctx, "s2", KeyAlertData, []byte(`{}`)))

	mirror := &recordingMirror{}
	bridge := NewBridge("s1", store, mirror, time.Second, zaptest.NewLogger(t).Sugar())

	assert.Equal(t, 1, bridge.Resync(ctx))
	bridge.Wait()

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	assert.Equal(t, map[string]string{KeyAlertID: `"A1"`}, mirror.saved)
}

func TestBridge_CloseRacingSaves(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	store, err := NewMemoryStore(32)
	require.NoError(t, err)
	mirror := &recordingMirror{delay: time.Millisecond}
	bridge := NewBridge("s1", store, mirror, time.Second, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bridge.Save(ctx, KeyAlertID, i)
		}(i)
	}
	bridge.Close()
	wg.Wait()

	mirror.mu.Lock()
	before := len(mirror.saved)
	mirror.saved = nil
	mirror.mu.Unlock()
	assert.LessOrEqual(t, before, 1)

	bridge.Save(ctx, KeyAlertID, "late")
	bridge.Wait()

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	assert.Empty(t, mirror.saved, "closed bridge does not mirror")

	var id string
	found, err := bridge.Load(ctx, KeyAlertID, &id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "late", id, "values are still stored locally")
}
