package extauthz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/Asher-Wang/envoy/internal/config"
)

// capturingConn is a grpc.ClientConnInterface that records the invoked
// method and call context and returns a canned response.
type capturingConn struct {
	method   string
	md       metadata.MD
	deadline time.Time
	hadDL    bool
	resp     CheckResponse
	err      error
}

func (c *capturingConn) Invoke(ctx context.Context, method string, _, reply interface{}, _ ...grpc.CallOption) error {
	c.method = method
	c.md, _ = metadata.FromOutgoingContext(ctx)
	c.deadline, c.hadDL = ctx.Deadline()
	if c.err != nil {
		return c.err
	}
	*(reply.(*CheckResponse)) = c.resp
	return nil
}

func (c *capturingConn) NewStream(_ context.Context, _ *grpc.StreamDesc, _ string, _ ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("streaming not supported")
}

// TestGRPCClient_Check tests a successful check over the v3 method.
func TestGRPCClient_Check(t *testing.T) {
	t.Parallel()

	// Arrange
	conn := &capturingConn{
		resp: CheckResponse{
			Allowed: true,
			Headers: map[string]string{"X-User-Id": "alice"},
		},
	}
	client, err := NewGRPCClient(conn, time.Second, config.TransportAPIVersionV3,
		WithInitialMetadata(map[string]string{"tenant": "acme"}),
	)
	require.NoError(t, err)

	// Act
	resp, err := client.Check(context.Background(), &CheckRequest{
		ID:     "check-1",
		Method: "GET",
		Path:   "/orders",
	})

	// Assert
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	assert.Equal(t, "alice", resp.Headers["X-User-Id"])

	assert.Equal(t, GRPCCheckMethodV3, conn.method)
	assert.Equal(t, []string{"acme"}, conn.md.Get("tenant"))
	assert.True(t, conn.hadDL, "check call must carry a deadline")
	assert.WithinDuration(t, time.Now().Add(time.Second), conn.deadline, 500*time.Millisecond)
}

// TestGRPCClient_Check_V2Method tests method selection for the legacy
// protocol version.
func TestGRPCClient_Check_V2Method(t *testing.T) {
	t.Parallel()

	// Arrange
	conn := &capturingConn{resp: CheckResponse{Allowed: true}}
	client, err := NewGRPCClient(conn, time.Second, config.TransportAPIVersionV2)
	require.NoError(t, err)

	// Act
	_, err = client.Check(context.Background(), &CheckRequest{Method: "GET", Path: "/"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, GRPCCheckMethodV2, conn.method)
}

// TestGRPCClient_Check_Deny tests a denying response.
func TestGRPCClient_Check_Deny(t *testing.T) {
	t.Parallel()

	// Arrange
	conn := &capturingConn{
		resp: CheckResponse{
			Allowed: false,
			Status:  401,
			Body:    []byte("token expired"),
		},
	}
	client, err := NewGRPCClient(conn, time.Second, config.TransportAPIVersionAuto)
	require.NoError(t, err)

	// Act
	resp, err := client.Check(context.Background(), &CheckRequest{Method: "GET", Path: "/"})

	// Assert
	require.NoError(t, err)
	assert.False(t, resp.Allowed)
	assert.Equal(t, 401, resp.Status)
	assert.Equal(t, []byte("token expired"), resp.Body)
}

// TestGRPCClient_Check_Error tests transport failure propagation.
func TestGRPCClient_Check_Error(t *testing.T) {
	t.Parallel()

	// Arrange
	conn := &capturingConn{err: errors.New("connection reset")}
	client, err := NewGRPCClient(conn, time.Second, config.TransportAPIVersionV3)
	require.NoError(t, err)

	// Act
	_, err = client.Check(context.Background(), &CheckRequest{Method: "GET", Path: "/"})

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCheckFailed)
}

// TestGRPCClient_Close tests closer ownership.
func TestGRPCClient_Close(t *testing.T) {
	t.Parallel()

	t.Run("WithCloser", func(t *testing.T) {
		t.Parallel()

		// Arrange
		closed := false
		client, err := NewGRPCClient(&capturingConn{}, time.Second, config.TransportAPIVersionV3,
			WithCloser(func() error {
				closed = true
				return nil
			}),
		)
		require.NoError(t, err)

		// Act & Assert
		require.NoError(t, client.Close())
		assert.True(t, closed)
	})

	t.Run("SharedConnectionNotClosed", func(t *testing.T) {
		t.Parallel()

		// Arrange
		client, err := NewGRPCClient(&capturingConn{}, time.Second, config.TransportAPIVersionV3)
		require.NoError(t, err)

		// Act & Assert
		require.NoError(t, client.Close())
	})
}

// TestNewGRPCClient_NilConn tests argument validation.
func TestNewGRPCClient_NilConn(t *testing.T) {
	t.Parallel()

	// Act
	_, err := NewGRPCClient(nil, time.Second, config.TransportAPIVersionV3)

	// Assert
	require.Error(t, err)
}
