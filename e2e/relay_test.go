package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/opusrelay/qvox/config"
	"github.com/opusrelay/qvox/registry"
	"github.com/opusrelay/qvox/server"
	"github.com/opusrelay/qvox/testclient"
)

func allowAllAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func rejectAllAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func startRelay(t *testing.T, authURI string) (*server.Server, string) {
	t.Helper()

	cfg := &config.Config{
		QuicPort:         0,
		HTTPPort:         0,
		AuthorizationURI: authURI,
		LogLevel:         config.LogLevelNone,
	}
	srv := server.New(cfg, registry.New())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = srv.Start(ctx) }()
	return srv, srv.Addr()
}

func dial(t *testing.T, addr string) *testclient.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := testclient.Dial(ctx, addr, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readFrameWithTimeout(t *testing.T, c *testclient.Client, timeout time.Duration) (uint32, []byte, error) {
	t.Helper()
	type result struct {
		senderID uint32
		payload  []byte
		err      error
	}
	resCh := make(chan result, 1)
	go func() {
		senderID, payload, err := c.ReadFrame()
		resCh <- result{senderID, payload, err}
	}()

	select {
	case r := <-resCh:
		return r.senderID, r.payload, r.err
	case <-time.After(timeout):
		return 0, nil, context.DeadlineExceeded
	}
}

// Scenario 1: echo.
func TestE2E_Echo(t *testing.T) {
	_, addr := startRelay(t, allowAllAuthServer(t).URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dial(t, addr)
	require.NoError(t, c.Authenticate(ctx, true, "alice", ""))

	require.NoError(t, c.SendFrame(nil))
	require.NoError(t, c.SendFrame([]byte("Test Message")))

	senderID, payload, err := readFrameWithTimeout(t, c, 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, uint32(0), senderID)
	require.Equal(t, "Test Message", string(payload))
}

// Scenario 2: fan-out with two receivers.
func TestE2E_FanOutTwoReceivers(t *testing.T) {
	_, addr := startRelay(t, allowAllAuthServer(t).URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, addr)
	b := dial(t, addr)
	c := dial(t, addr)

	require.NoError(t, a.Authenticate(ctx, false, "a", ""))
	require.NoError(t, b.Authenticate(ctx, false, "b", ""))
	require.NoError(t, c.Authenticate(ctx, false, "c", ""))

	require.NoError(t, a.JoinChannel(1))
	require.NoError(t, b.JoinChannel(1))
	require.NoError(t, c.JoinChannel(1))
	time.Sleep(100 * time.Millisecond) // let joins land before the send races them

	require.NoError(t, a.SendFrame([]byte("Test Message")))

	for _, receiver := range []*testclient.Client{b, c} {
		senderID, payload, err := readFrameWithTimeout(t, receiver, 3*time.Second)
		require.NoError(t, err)
		require.Equal(t, uint32(0), senderID)
		require.Equal(t, "Test Message", string(payload))
	}

	_, _, err := readFrameWithTimeout(t, a, 300*time.Millisecond)
	require.Error(t, err, "sender must not receive its own fan-out")
}

// Scenario 3: mutual broadcast.
func TestE2E_MutualBroadcast(t *testing.T) {
	_, addr := startRelay(t, allowAllAuthServer(t).URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clients := make([]*testclient.Client, 3)
	for i, alias := range []string{"a", "b", "c"} {
		cl := dial(t, addr)
		require.NoError(t, cl.Authenticate(ctx, false, alias, ""))
		require.NoError(t, cl.JoinChannel(1))
		clients[i] = cl
	}
	time.Sleep(100 * time.Millisecond)

	for i, cl := range clients {
		require.NoError(t, cl.SendFrame([]byte("Test Message")), "sender %d", i)
	}

	for i, cl := range clients {
		seen := map[uint32]bool{}
		for j := 0; j < 2; j++ {
			senderID, payload, err := readFrameWithTimeout(t, cl, 3*time.Second)
			require.NoError(t, err, "client %d frame %d", i, j)
			require.Equal(t, "Test Message", string(payload))
			seen[senderID] = true
		}
		require.Len(t, seen, 2)
		require.NotContains(t, seen, uint32(i), "client must not see its own frame")
	}
}

// Scenario 4: authorization rejection.
func TestE2E_AuthorizationRejection(t *testing.T) {
	_, addr := startRelay(t, rejectAllAuthServer(t).URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dial(t, addr)
	require.NoError(t, c.Authenticate(ctx, false, "denied", ""))

	_, _, err := readFrameWithTimeout(t, c, 2*time.Second)
	require.Error(t, err)
}

// Scenario 5: channel-0 silence.
func TestE2E_ChannelZeroSilence(t *testing.T) {
	_, addr := startRelay(t, allowAllAuthServer(t).URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, addr)
	b := dial(t, addr)
	require.NoError(t, a.Authenticate(ctx, false, "a", ""))
	require.NoError(t, b.Authenticate(ctx, false, "b", ""))
	// Neither joins a channel; both stay on the default channel 0.

	require.NoError(t, a.SendFrame([]byte("Test Message")))

	_, _, err := readFrameWithTimeout(t, b, 500*time.Millisecond)
	require.Error(t, err, "channel 0 must never relay")
}

// Scenario 6: rejoin collapses old channel.
func TestE2E_RejoinCollapsesOldChannel(t *testing.T) {
	srv, addr := startRelay(t, allowAllAuthServer(t).URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, addr)
	require.NoError(t, a.Authenticate(ctx, false, "a", ""))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, srv.Registry().StoreInfo().ChannelCount, "default channel 0 counts as one channel")

	require.NoError(t, a.JoinChannel(1))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, srv.Registry().StoreInfo().ChannelCount)

	require.NoError(t, a.JoinChannel(2))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, srv.Registry().StoreInfo().ChannelCount, "channel count must not grow across a rejoin")

	infos := srv.Registry().ClientInfos()
	for _, info := range infos {
		require.Equal(t, uint32(2), info.Channel)
	}
}
