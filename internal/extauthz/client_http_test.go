package extauthz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRawHTTPClient_Check_Allow tests an allowing authorization server.
func TestRawHTTPClient_Check_Allow(t *testing.T) {
	t.Parallel()

	// Arrange
	var gotReq CheckRequest
	var gotPath, gotCheckID string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCheckID = r.Header.Get(HeaderCheckID)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("X-User-Id", "alice")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewRawHTTPClient(&ClientConfig{
		ServerURI:  srv.URL,
		PathPrefix: "/check",
		Timeout:    time.Second,
	})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	// Act
	resp, err := client.Check(context.Background(), &CheckRequest{
		ID:     "check-1",
		Method: http.MethodGet,
		Path:   "/orders",
		Headers: map[string]string{
			"Authorization": "Bearer token",
		},
	})

	// Assert
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	assert.Equal(t, "alice", resp.Headers["X-User-Id"])

	assert.Equal(t, "/check/orders", gotPath)
	assert.Equal(t, "check-1", gotCheckID)
	assert.Equal(t, http.MethodGet, gotReq.Method)
	assert.Equal(t, "/orders", gotReq.Path)
	assert.Equal(t, "Bearer token", gotReq.Headers["Authorization"])
}

// TestRawHTTPClient_Check_Deny tests a denying authorization server.
func TestRawHTTPClient_Check_Deny(t *testing.T) {
	t.Parallel()

	// Arrange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("token expired"))
	}))
	defer srv.Close()

	client, err := NewRawHTTPClient(&ClientConfig{
		ServerURI: srv.URL,
		Timeout:   time.Second,
	})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	// Act
	resp, err := client.Check(context.Background(), &CheckRequest{
		Method: http.MethodGet,
		Path:   "/orders",
	})

	// Assert
	require.NoError(t, err)
	assert.False(t, resp.Allowed)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, []byte("token expired"), resp.Body)
	assert.Equal(t, "Bearer", resp.DeniedHeaders["WWW-Authenticate"])
	assert.NotContains(t, resp.DeniedHeaders, "Content-Length")
}

// TestRawHTTPClient_Check_Timeout tests that a slow authorization
// server surfaces a check failure.
func TestRawHTTPClient_Check_Timeout(t *testing.T) {
	t.Parallel()

	// Arrange
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	client, err := NewRawHTTPClient(&ClientConfig{
		ServerURI: srv.URL,
		Timeout:   50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	// Act
	_, err = client.Check(context.Background(), &CheckRequest{
		Method: http.MethodGet,
		Path:   "/orders",
	})

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCheckFailed)
	<-started
}

// TestRawHTTPClient_Check_ConnectionRefused tests an unreachable server.
func TestRawHTTPClient_Check_ConnectionRefused(t *testing.T) {
	t.Parallel()

	// Arrange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.Close()

	client, err := NewRawHTTPClient(&ClientConfig{
		ServerURI: srv.URL,
		Timeout:   time.Second,
	})
	require.NoError(t, err)

	// Act
	_, err = client.Check(context.Background(), &CheckRequest{
		Method: http.MethodGet,
		Path:   "/orders",
	})

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCheckFailed)
}

// TestNewRawHTTPClient_NilConfig tests argument validation.
func TestNewRawHTTPClient_NilConfig(t *testing.T) {
	t.Parallel()

	// Act
	_, err := NewRawHTTPClient(nil)

	// Assert
	require.Error(t, err)
}
