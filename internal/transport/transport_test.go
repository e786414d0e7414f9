package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T, cfg Config) (client, server *Transport) {
	t.Helper()
	c1, c2 := net.Pipe()
	return New(c1, cfg), New(c2, cfg)
}

func TestSendReceiveRoundTrip(t *testing.T) {
	client, server := pipePair(t, Config{})
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- client.Send([]byte(`{"hello":"world"}`)) }()

	payload, err := server.Receive()
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, `{"hello":"world"}`, string(payload))
}

func TestZeroLengthFrameIsNoOp(t *testing.T) {
	client, server := pipePair(t, Config{})
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- client.Send([]byte{}) }()

	payload, err := server.Receive()
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.NotNil(t, payload)
	require.Len(t, payload, 0)
}

func TestOversizedFrameRejected(t *testing.T) {
	// The sender's own limit is generous so Send doesn't short-circuit the
	// write; the receiver's tighter limit is what's under test here.
	c1, c2 := net.Pipe()
	client := New(c1, Config{MaxMessageSize: 4096})
	server := New(c2, Config{MaxMessageSize: 8})
	defer client.Close()
	defer server.Close()

	big := make([]byte, 9)
	go func() { _ = client.Send(big) }()

	_, err := server.Receive()
	require.ErrorIs(t, err, ErrTooLarge)

	// TooLarge discards the connection: further receives fail immediately.
	_, err = server.Receive()
	require.ErrorIs(t, err, ErrPeerClosed)
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	cfg := Config{MaxMessageSize: 8}
	client, server := pipePair(t, cfg)
	defer client.Close()
	defer server.Close()

	err := client.Send(make([]byte, 9))
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestExactlyAtMaxMessageSizeAccepted(t *testing.T) {
	cfg := Config{MaxMessageSize: 8}
	client, server := pipePair(t, cfg)
	defer client.Close()
	defer server.Close()

	payload := make([]byte, 8)
	for i := range payload {
		payload[i] = byte(i)
	}
	go func() { _ = client.Send(payload) }()

	got, err := server.Receive()
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestCloseIsIdempotentAndPoisonsFutureCalls(t *testing.T) {
	client, server := pipePair(t, Config{})
	defer server.Close()

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err := client.Receive()
	require.ErrorIs(t, err, ErrPeerClosed)
	err = client.Send([]byte("x"))
	require.ErrorIs(t, err, ErrPeerClosed)
}

func TestReceiveTimesOutOnIdleConnection(t *testing.T) {
	cfg := Config{ReceiveTimeout: 20 * time.Millisecond}
	_, server := pipePair(t, cfg)
	defer server.Close()

	_, err := server.Receive()
	require.ErrorIs(t, err, ErrTimeout)
}

func TestRateLimiterThrottlesReceive(t *testing.T) {
	cfg := Config{RateLimitPerSecond: 1, RateLimitBurst: 1, ReceiveTimeout: 50 * time.Millisecond}
	client, server := pipePair(t, cfg)
	defer client.Close()
	defer server.Close()

	go func() {
		_ = client.Send([]byte("a"))
		_ = client.Send([]byte("b"))
	}()

	_, err := server.Receive()
	require.NoError(t, err)

	// Second call should be throttled by the token bucket before it even
	// attempts a socket read.
	_, err = server.Receive()
	require.ErrorIs(t, err, ErrTimeout)
}
