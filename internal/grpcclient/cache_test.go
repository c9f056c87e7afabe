package grpcclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/Asher-Wang/envoy/internal/config"
)

// fakeConn is a Conn that records whether it was closed.
type fakeConn struct {
	id     int
	closed atomic.Bool
}

func (c *fakeConn) Invoke(_ context.Context, _ string, _, _ interface{}, _ ...grpc.CallOption) error {
	return nil
}

func (c *fakeConn) NewStream(_ context.Context, _ *grpc.StreamDesc, _ string, _ ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("streaming not supported")
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

// fakeManager is a ConnectionManager that counts constructions and can
// be made to fail.
type fakeManager struct {
	constructed atomic.Int64
	err         error
	mu          sync.Mutex
	conns       []*fakeConn
}

func (m *fakeManager) NewConn(_ *config.GRPCServiceConfig) (Conn, error) {
	if m.err != nil {
		return nil, m.err
	}
	n := m.constructed.Add(1)
	conn := &fakeConn{id: int(n)}
	m.mu.Lock()
	m.conns = append(m.conns, conn)
	m.mu.Unlock()
	return conn, nil
}

// sharedService returns a descriptor for the shared client path.
func sharedService(target string) *config.GRPCServiceConfig {
	return &config.GRPCServiceConfig{
		GoogleGRPC: &config.GoogleGRPCConfig{TargetURI: target},
	}
}

// TestClientCache_GetOrCreate_SharesByKey tests that equal descriptors
// share one connection and distinct descriptors get distinct ones.
func TestClientCache_GetOrCreate_SharesByKey(t *testing.T) {
	t.Parallel()

	// Arrange
	cache := NewClientCache()
	cm := &fakeManager{}

	// Act
	first, err := cache.GetOrCreate(sharedService("authz.local:9001"), cm)
	require.NoError(t, err)
	second, err := cache.GetOrCreate(sharedService("authz.local:9001"), cm)
	require.NoError(t, err)
	other, err := cache.GetOrCreate(sharedService("authz.local:9002"), cm)
	require.NoError(t, err)

	// Assert
	assert.Same(t, first.Conn(), second.Conn())
	assert.NotSame(t, first.Conn(), other.Conn())
	assert.Equal(t, int64(2), cm.constructed.Load())
	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, 2, cache.Refs(first.Key()))
	assert.Equal(t, 1, cache.Refs(other.Key()))
}

// TestClientCache_Release tests reference counting and teardown of the
// underlying connection when the last reference drops.
func TestClientCache_Release(t *testing.T) {
	t.Parallel()

	// Arrange
	cache := NewClientCache()
	cm := &fakeManager{}

	first, err := cache.GetOrCreate(sharedService("authz.local:9001"), cm)
	require.NoError(t, err)
	second, err := cache.GetOrCreate(sharedService("authz.local:9001"), cm)
	require.NoError(t, err)

	conn := cm.conns[0]

	// Act & Assert
	first.Release()
	assert.Equal(t, 1, cache.Refs(second.Key()))
	assert.False(t, conn.closed.Load())

	second.Release()
	assert.Equal(t, 0, cache.Len())
	assert.True(t, conn.closed.Load())
}

// TestClientCache_Release_Idempotent tests that releasing a handle twice
// does not double-decrement the reference count.
func TestClientCache_Release_Idempotent(t *testing.T) {
	t.Parallel()

	// Arrange
	cache := NewClientCache()
	cm := &fakeManager{}

	first, err := cache.GetOrCreate(sharedService("authz.local:9001"), cm)
	require.NoError(t, err)
	second, err := cache.GetOrCreate(sharedService("authz.local:9001"), cm)
	require.NoError(t, err)

	// Act
	first.Release()
	first.Release()

	// Assert
	assert.Equal(t, 1, cache.Refs(second.Key()))
	assert.Equal(t, 1, cache.Len())
	assert.False(t, cm.conns[0].closed.Load())
}

// TestClientCache_RecreateAfterEviction tests that a descriptor acquired
// again after full release constructs a fresh connection.
func TestClientCache_RecreateAfterEviction(t *testing.T) {
	t.Parallel()

	// Arrange
	cache := NewClientCache()
	cm := &fakeManager{}

	handle, err := cache.GetOrCreate(sharedService("authz.local:9001"), cm)
	require.NoError(t, err)
	handle.Release()

	// Act
	fresh, err := cache.GetOrCreate(sharedService("authz.local:9001"), cm)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, int64(2), cm.constructed.Load())
	assert.NotSame(t, handle.Conn(), fresh.Conn())
}

// TestClientCache_ConstructionError tests that a failed construction is
// surfaced as CacheConstructionError and not cached.
func TestClientCache_ConstructionError(t *testing.T) {
	t.Parallel()

	// Arrange
	cache := NewClientCache()
	dialErr := errors.New("resolver failure")
	failing := &fakeManager{err: dialErr}

	// Act
	_, err := cache.GetOrCreate(sharedService("authz.local:9001"), failing)

	// Assert
	require.Error(t, err)
	var constructionErr *CacheConstructionError
	require.ErrorAs(t, err, &constructionErr)
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, 0, cache.Len())

	// A later attempt with a working manager succeeds.
	working := &fakeManager{}
	handle, err := cache.GetOrCreate(sharedService("authz.local:9001"), working)
	require.NoError(t, err)
	assert.NotNil(t, handle.Conn())
}

// TestClientCache_ConcurrentGetOrCreate tests that concurrent loads of
// the same descriptor observe exactly one construction.
func TestClientCache_ConcurrentGetOrCreate(t *testing.T) {
	t.Parallel()

	// Arrange
	cache := NewClientCache()
	cm := &fakeManager{}

	const callers = 50
	handles := make([]*Handle, callers)

	var wg sync.WaitGroup
	wg.Add(callers)

	// Act
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			h, err := cache.GetOrCreate(sharedService("authz.local:9001"), cm)
			if assert.NoError(t, err) {
				handles[i] = h
			}
		}(i)
	}
	wg.Wait()

	// Assert
	assert.Equal(t, int64(1), cm.constructed.Load())
	assert.Equal(t, 1, cache.Len())
	for _, h := range handles {
		assert.Same(t, handles[0].Conn(), h.Conn())
	}
	assert.Equal(t, callers, cache.Refs(handles[0].Key()))

	for _, h := range handles {
		h.Release()
	}
	assert.Equal(t, 0, cache.Len())
	assert.True(t, cm.conns[0].closed.Load())
}

// TestClientCache_Close tests shutdown behavior.
func TestClientCache_Close(t *testing.T) {
	t.Parallel()

	// Arrange
	cache := NewClientCache()
	cm := &fakeManager{}

	_, err := cache.GetOrCreate(sharedService("authz.local:9001"), cm)
	require.NoError(t, err)

	// Act
	require.NoError(t, cache.Close())

	// Assert
	assert.True(t, cm.conns[0].closed.Load())
	assert.Equal(t, 0, cache.Len())

	_, err = cache.GetOrCreate(sharedService("authz.local:9001"), cm)
	assert.ErrorIs(t, err, ErrCacheClosed)

	// Closing again is a no-op.
	require.NoError(t, cache.Close())
}

// TestClientCache_GetOrCreate_NilArgs tests argument validation.
func TestClientCache_GetOrCreate_NilArgs(t *testing.T) {
	t.Parallel()

	cache := NewClientCache()

	_, err := cache.GetOrCreate(nil, &fakeManager{})
	assert.Error(t, err)

	_, err = cache.GetOrCreate(sharedService("authz.local:9001"), nil)
	assert.Error(t, err)
}
