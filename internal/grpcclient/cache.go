package grpcclient

import (
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"

	"github.com/Asher-Wang/envoy/internal/config"
	"github.com/Asher-Wang/envoy/internal/observability"
)

// ErrCacheClosed is returned by GetOrCreate after the cache is closed.
var ErrCacheClosed = errors.New("client cache is closed")

// CacheConstructionError indicates that the connection manager failed
// to produce a client for one cache key. Other entries and concurrent
// loads are unaffected; the failure is not cached.
type CacheConstructionError struct {
	// Key is the canonical cache key of the failed entry.
	Key string

	// Err is the underlying connection manager error.
	Err error
}

// Error returns the error message.
func (e *CacheConstructionError) Error() string {
	return fmt.Sprintf("failed to construct shared client for key %s: %v", e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *CacheConstructionError) Unwrap() error {
	return e.Err
}

// ClientCache is a process-wide store of shared gRPC client handles
// keyed by canonical service-descriptor identity. Entries are
// reference-counted: GetOrCreate acquires a reference and
// Handle.Release drops it; the underlying connection is closed when the
// last reference is released.
//
// Construction happens under the cache lock, so concurrent GetOrCreate
// calls for the same key observe exactly one construction and all
// receive the same handle.
type ClientCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	closed  bool
	logger  observability.Logger
	metrics *CacheMetrics
}

// cacheEntry is one shared client and its reference count.
type cacheEntry struct {
	conn Conn
	refs int
}

// Handle is a reference to a shared client cache entry. All handles for
// the same key expose the same underlying connection. Release must be
// called exactly once when the referencing configuration is torn down.
type Handle struct {
	cache       *ClientCache
	key         string
	conn        Conn
	releaseOnce sync.Once
}

// Conn returns the shared client connection.
func (h *Handle) Conn() grpc.ClientConnInterface {
	return h.conn
}

// Key returns the canonical cache key of the entry.
func (h *Handle) Key() string {
	return h.key
}

// Release drops this handle's reference. The underlying connection is
// closed when the last reference is released. Safe to call more than
// once; only the first call has effect.
func (h *Handle) Release() {
	h.releaseOnce.Do(func() {
		h.cache.release(h.key)
	})
}

// CacheOption is a functional option for the client cache.
type CacheOption func(*ClientCache)

// WithCacheLogger sets the logger for the client cache.
func WithCacheLogger(logger observability.Logger) CacheOption {
	return func(c *ClientCache) {
		c.logger = logger
	}
}

// WithCacheMetrics sets the metrics for the client cache.
func WithCacheMetrics(metrics *CacheMetrics) CacheOption {
	return func(c *ClientCache) {
		c.metrics = metrics
	}
}

// NewClientCache creates a new client cache. One cache is created at
// process start and closed at shutdown; it is injected into the client
// factory rather than accessed as ambient global state.
func NewClientCache(opts ...CacheOption) *ClientCache {
	c := &ClientCache{
		entries: make(map[string]*cacheEntry),
		logger:  observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.metrics == nil {
		c.metrics = GetSharedCacheMetrics()
	}

	return c
}

// GetOrCreate returns a handle to the shared client for the service
// descriptor, constructing it through the connection manager if no live
// entry exists. Equal descriptors yield handles to the same underlying
// connection.
func (c *ClientCache) GetOrCreate(svc *config.GRPCServiceConfig, cm ConnectionManager) (*Handle, error) {
	if svc == nil {
		return nil, errors.New("grpc service config is required")
	}
	if cm == nil {
		return nil, errors.New("connection manager is required")
	}

	key := CacheKey(svc)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCacheClosed
	}

	if e, ok := c.entries[key]; ok {
		e.refs++
		c.metrics.RecordHit()
		return &Handle{cache: c, key: key, conn: e.conn}, nil
	}

	c.metrics.RecordMiss()

	// Construction stays under the lock: single-writer-wins, and no
	// network I/O happens here (connections establish lazily).
	conn, err := cm.NewConn(svc)
	if err != nil {
		return nil, &CacheConstructionError{Key: key, Err: err}
	}

	c.entries[key] = &cacheEntry{conn: conn, refs: 1}
	c.metrics.SetEntries(len(c.entries))

	c.logger.Info("created shared authorization client",
		observability.String("key", key),
	)

	return &Handle{cache: c, key: key, conn: conn}, nil
}

// release drops one reference to the keyed entry, evicting and closing
// it when the count reaches zero.
func (c *ClientCache) release(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.entries, key)
	c.metrics.SetEntries(len(c.entries))
	c.mu.Unlock()

	if err := e.conn.Close(); err != nil {
		c.logger.Error("failed to close shared authorization client",
			observability.String("key", key),
			observability.Error(err),
		)
	}

	c.logger.Info("evicted shared authorization client",
		observability.String("key", key),
	)
}

// Len returns the number of live entries.
func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Refs returns the reference count of the keyed entry, or zero if no
// entry exists.
func (c *ClientCache) Refs(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.refs
	}
	return 0
}

// Close closes all remaining entries and rejects further use. Called
// once at process shutdown.
func (c *ClientCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	entries := c.entries
	c.entries = make(map[string]*cacheEntry)
	c.metrics.SetEntries(0)
	c.mu.Unlock()

	var lastErr error
	for key, e := range entries {
		if err := e.conn.Close(); err != nil {
			c.logger.Error("failed to close shared authorization client",
				observability.String("key", key),
				observability.Error(err),
			)
			lastErr = err
		}
	}
	return lastErr
}
