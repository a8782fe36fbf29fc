package connection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/realtime/internal/message"
)

const testURL = "ws://console.test/ws"

var errDialRefused = errors.New("connection refused")

// fakeConn is an in-memory Conn driven by the test.
type fakeConn struct {
	frames chan []byte
	errs   chan error
	closed chan struct{}

	closeOnce sync.Once

	mu        sync.Mutex
	written   [][]byte
	failAfter int // Fail writes once this many have succeeded (0 = never)
	writeErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 64),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case data := <-f.frames:
		return data, nil
	case err := <-f.errs:
		return nil, err
	case <-f.closed:
		return nil, net.ErrClosed
	}
}

func (f *fakeConn) WriteFrame(data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if f.failAfter > 0 && len(f.written) >= f.failAfter {
		return errors.New("broken pipe")
	}
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// deliver pushes an inbound frame.
func (f *fakeConn) deliver(t *testing.T, channel string, data any) {
	t.Helper()
	m, err := message.New(channel, data)
	require.NoError(t, err)
	frame, err := m.Encode()
	require.NoError(t, err)
	f.frames <- frame
}

// sent decodes every frame written so far.
func (f *fakeConn) sent(t *testing.T) []message.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]message.Message, 0, len(f.written))
	for _, frame := range f.written {
		m, err := message.Decode(frame)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) sentOn(t *testing.T, channel string) []message.Message {
	t.Helper()
	var out []message.Message
	for _, m := range f.sent(t) {
		if m.Type == channel {
			out = append(out, m)
		}
	}
	return out
}

// fakeDialer hands out fakeConns. Each Dial consumes the next scripted
// outcome; without a script it succeeds with a fresh connection.
type fakeDialer struct {
	mu     sync.Mutex
	script []func(*fakeConn) error
	dials  int
	block  bool // Wait for ctx cancellation instead of connecting

	dialed chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan *fakeConn, 16)}
}

// failNext makes the next n dials fail.
func (d *fakeDialer) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.script = append(d.script, func(*fakeConn) error { return errDialRefused })
	}
}

// prepareNext customises the connection returned by the next successful dial.
func (d *fakeDialer) prepareNext(fn func(*fakeConn)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, func(fc *fakeConn) error {
		fn(fc)
		return nil
	})
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	d.dials++
	block := d.block
	var step func(*fakeConn) error
	if len(d.script) > 0 {
		step = d.script[0]
		d.script = d.script[1:]
	}
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	fc := newFakeConn()
	if step != nil {
		if err := step(fc); err != nil {
			return nil, err
		}
	}
	d.dialed <- fc
	return fc, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// next waits for the next successfully dialed connection.
func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case fc := <-d.dialed:
		return fc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

// recordingObserver captures telemetry for assertions.
type recordingObserver struct {
	mu        sync.Mutex
	states    []State
	delays    []time.Duration
	received  map[string]int
	sentCount map[string]int
	drops     map[string]int
	panics    map[string]int
	depth     int
	subCounts []int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		received:  make(map[string]int),
		sentCount: make(map[string]int),
		drops:     make(map[string]int),
		panics:    make(map[string]int),
	}
}

func (o *recordingObserver) StateChanged(st Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, st.State)
}

func (o *recordingObserver) ReconnectScheduled(_ int, delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delays = append(o.delays, delay)
}

func (o *recordingObserver) FrameReceived(channel string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received[channel]++
}

func (o *recordingObserver) FrameSent(channel string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sentCount[channel]++
}

func (o *recordingObserver) FrameDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drops[reason]++
}

func (o *recordingObserver) HandlerPanicked(channel string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.panics[channel]++
}

func (o *recordingObserver) QueueDepth(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.depth = n
}

func (o *recordingObserver) SubscriptionCount(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subCounts = append(o.subCounts, n)
}

func (o *recordingObserver) subscriptionCounts() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.subCounts...)
}

func (o *recordingObserver) dropCount(reason string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.drops[reason]
}

func (o *recordingObserver) reconnectDelays() []time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]time.Duration(nil), o.delays...)
}

type testClient struct {
	*Client
	dialer   *fakeDialer
	clock    *clockwork.FakeClock
	observer *recordingObserver
}

func newTestClient(t *testing.T, mutate func(*Config)) *testClient {
	t.Helper()

	cfg := DefaultConfig()
	cfg.URL = testURL
	if mutate != nil {
		mutate(&cfg)
	}

	dialer := newFakeDialer()
	clock := clockwork.NewFakeClock()
	obs := newRecordingObserver()

	c, err := New(cfg,
		WithDialer(dialer),
		WithClock(clock),
		WithObserver(obs),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)

	return &testClient{Client: c, dialer: dialer, clock: clock, observer: obs}
}

// connect calls Connect and waits for CONNECTED.
func (tc *testClient) connect(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, tc.Connect())
	fc := tc.dialer.next(t)
	tc.waitState(t, StateConnected)
	return fc
}

func (tc *testClient) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return tc.State() == want
	}, 2*time.Second, 5*time.Millisecond, "state never became %s (now %s)", want, tc.State())
}

// frame encodes an inbound frame for direct dispatch.
func frame(t *testing.T, channel string, data any) []byte {
	t.Helper()
	m, err := message.New(channel, data)
	require.NoError(t, err)
	b, err := m.Encode()
	require.NoError(t, err)
	return b
}

func decodeMap(t *testing.T, data json.RawMessage) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}
