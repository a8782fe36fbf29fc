package connection

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/realtime/internal/message"
)

func TestNew_InitialState(t *testing.T) {
	c := newTestClient(t, nil)

	st := c.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.Equal(t, 0, st.ReconnectAttempts)
	assert.Equal(t, 0, c.dialer.dialCount())
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{URL: "http://console.test/ws"})
	assert.Error(t, err)
}

func TestConnect_TransitionsToConnected(t *testing.T) {
	c := newTestClient(t, nil)

	var mu sync.Mutex
	var seen []State
	c.WatchState(func(st Status) {
		mu.Lock()
		seen = append(seen, st.State)
		mu.Unlock()
	})

	require.NoError(t, c.Connect())
	c.dialer.next(t)
	c.waitState(t, StateConnected)

	st := c.Status()
	assert.Equal(t, 0, st.ReconnectAttempts)
	assert.Equal(t, c.clock.Now(), st.ConnectedAt)

	// CONNECTING may be coalesced if the dial wins the race to notify.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == StateConnected
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, len(seen), 2)
	assert.NotContains(t, seen, StateError)
}

func TestConnect_SingleTransport(t *testing.T) {
	c := newTestClient(t, nil)
	c.connect(t)

	require.NoError(t, c.Connect())
	require.NoError(t, c.Connect())

	assert.Equal(t, 1, c.dialer.dialCount())
	assert.Equal(t, StateConnected, c.State())
}

func TestReconnect_AfterAbnormalClose(t *testing.T) {
	c := newTestClient(t, nil)
	conn := c.connect(t)

	conn.errs <- &websocket.CloseError{Code: websocket.CloseAbnormalClosure}

	c.waitState(t, StateDisconnected)
	st := c.Status()
	assert.GreaterOrEqual(t, st.ReconnectAttempts, 1)
	require.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)

	c.clock.Advance(c.cfg.ReconnectBaseDelay)

	c.dialer.next(t)
	c.waitState(t, StateConnected)
	assert.Equal(t, 0, c.Status().ReconnectAttempts)
	assert.Equal(t, 2, c.dialer.dialCount())
}

func TestReconnect_TransportErrorIsErrorState(t *testing.T) {
	c := newTestClient(t, nil)
	conn := c.connect(t)

	conn.errs <- errors.New("connection reset by peer")

	c.waitState(t, StateError)
	assert.Equal(t, 1, c.Status().ReconnectAttempts)
}

func TestReconnect_ExponentialBackoff(t *testing.T) {
	c := newTestClient(t, func(cfg *Config) {
		cfg.ReconnectBaseDelay = time.Second
		cfg.ReconnectMaxDelay = 5 * time.Second
	})
	c.dialer.failNext(4)

	require.NoError(t, c.Connect())

	// Each failed dial schedules the next attempt with a longer delay.
	for attempt := 1; attempt <= 4; attempt++ {
		require.Eventually(t, func() bool {
			st := c.Status()
			return st.State == StateError && st.ReconnectAttempts == attempt
		}, 2*time.Second, 5*time.Millisecond, "attempt %d", attempt)
		c.clock.Advance(c.backoff.Delay(attempt))
	}

	c.dialer.next(t)
	c.waitState(t, StateConnected)

	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
	}, c.observer.reconnectDelays())
	assert.Equal(t, 0, c.Status().ReconnectAttempts)
}

func TestReconnect_MaxAttempts(t *testing.T) {
	c := newTestClient(t, func(cfg *Config) {
		cfg.MaxReconnectAttempts = 2
	})
	c.dialer.failNext(10)

	require.NoError(t, c.Connect())
	for attempt := 1; attempt <= 2; attempt++ {
		require.Eventually(t, func() bool {
			return c.Status().ReconnectAttempts == attempt && c.State() == StateError
		}, 2*time.Second, 5*time.Millisecond)
		c.clock.Advance(c.cfg.ReconnectMaxDelay)
	}

	// Third dial fails and no further attempt is scheduled.
	require.Eventually(t, func() bool { return c.dialer.dialCount() == 3 && c.State() == StateError },
		2*time.Second, 5*time.Millisecond)
	c.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 3, c.dialer.dialCount())
	assert.Equal(t, 2, c.Status().ReconnectAttempts)
	assert.Len(t, c.observer.reconnectDelays(), 2)

	// An explicit Connect restarts the cycle.
	require.NoError(t, c.Connect())
	require.Eventually(t, func() bool { return c.dialer.dialCount() == 4 }, 2*time.Second, 5*time.Millisecond)
}

func TestDisconnect_IsTerminal(t *testing.T) {
	c := newTestClient(t, nil)
	conn := c.connect(t)

	calls := 0
	_, err := c.Subscribe(message.ChannelMetrics, func(json.RawMessage) { calls++ })
	require.NoError(t, err)

	c.Disconnect()

	st := c.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.Equal(t, 0, st.Subscriptions)
	assert.True(t, conn.isClosed())

	assert.ErrorIs(t, c.Connect(), ErrClosed)
	assert.ErrorIs(t, c.Send(message.ChannelMetrics, nil), ErrClosed)
	_, err = c.Subscribe(message.ChannelMetrics, func(json.RawMessage) {})
	assert.ErrorIs(t, err, ErrClosed)

	c.dispatch(frame(t, message.ChannelMetrics, nil))
	assert.Equal(t, 0, calls)

	c.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.dialer.dialCount())

	// Idempotent.
	c.Disconnect()
}

func TestDisconnect_CancelsPendingReconnect(t *testing.T) {
	c := newTestClient(t, nil)
	conn := c.connect(t)

	conn.errs <- &websocket.CloseError{Code: websocket.CloseGoingAway}
	c.waitState(t, StateDisconnected)

	c.Disconnect()
	c.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, c.dialer.dialCount())
	assert.Equal(t, StateDisconnected, c.State())
}

func TestDisconnect_DuringDial(t *testing.T) {
	c := newTestClient(t, nil)
	c.dialer.block = true

	require.NoError(t, c.Connect())
	assert.Equal(t, StateConnecting, c.State())

	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())

	// The cancelled dial must not resurrect the client or schedule a retry.
	time.Sleep(20 * time.Millisecond)
	c.clock.Advance(time.Hour)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 0, c.Status().ReconnectAttempts)
}

func TestWatchState_Cancel(t *testing.T) {
	c := newTestClient(t, nil)

	var mu sync.Mutex
	count := 0
	cancel := c.WatchState(func(Status) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	cancel()
	cancel()

	c.connect(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestWatchState_PanicIsolated(t *testing.T) {
	c := newTestClient(t, nil)

	var mu sync.Mutex
	var got []State
	c.WatchState(func(Status) { panic("watcher bug") })
	c.WatchState(func(st Status) {
		mu.Lock()
		got = append(got, st.State)
		mu.Unlock()
	})

	c.connect(t)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1] == StateConnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CONNECTING", StateConnecting.String())
	assert.Equal(t, "CONNECTED", StateConnected.String())
	assert.Equal(t, "DISCONNECTED", StateDisconnected.String())
	assert.Equal(t, "ERROR", StateError.String())
	assert.Equal(t, "State(9)", State(9).String())
}
