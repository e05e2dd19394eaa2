package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/activityrecognition/internal/domain"
	"example.com/activityrecognition/internal/feed"
	"example.com/activityrecognition/internal/synth"
)

func TestSessionEmitsOneMessagePerTick(t *testing.T) {
	m := newTestManager(t, &stubPredictor{length: 8})
	conn := newFakeConn()
	conn.send(configMessage("running", 0.05))

	require.NoError(t, m.Serve(context.Background(), conn))

	msgs := conn.messages()
	require.Len(t, msgs, 5)
	for i, msg := range msgs {
		require.Equal(t, uint64(i+1), msg.Seq)
		require.Equal(t, "running", msg.Activity)
		require.Nil(t, msg.Prediction, "no model is trained")
	}
	code, _ := conn.closeStatus()
	require.Equal(t, CloseNormal, code)
	require.Zero(t, m.Active())
}

func TestDurationAliasAndPartialTicks(t *testing.T) {
	m := newTestManager(t, &stubPredictor{length: 8})
	conn := newFakeConn()
	duration := 0.045
	conn.send(ClientMessage{Type: MessageTypeConfig, Activity: "walking", Duration: &duration})

	require.NoError(t, m.Serve(context.Background(), conn))
	require.Len(t, conn.messages(), 5)
}

func TestDefaultsApplyWithoutConfig(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultDuration = 30 * time.Millisecond
	m := newTestManagerWithConfig(t, cfg, &stubPredictor{length: 8})
	conn := newFakeConn()

	require.NoError(t, m.Serve(context.Background(), conn))

	msgs := conn.messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "walking", msgs[0].Activity)
}

func TestSyntheticSessionPredictsFromFirstTick(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = 20 * time.Millisecond
	predictor := &stubPredictor{trained: true, length: 4}
	m := newTestManagerWithConfig(t, cfg, predictor)
	conn := newFakeConn()
	conn.send(configMessage("walking", 0.12))

	require.NoError(t, m.Serve(context.Background(), conn))

	msgs := conn.messages()
	require.Len(t, msgs, 6)
	for i, msg := range msgs {
		require.NotNil(t, msg.Prediction, "tick %d", i+1)
		require.Equal(t, "walking", msg.Prediction.Label)
	}
	for _, window := range predictor.seen() {
		require.Len(t, window, 4)
	}
}

func TestUntypedConfigMessageStartsSession(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		activity string
		want     int
	}{
		{name: "duration_seconds", raw: `{"activity":"running","duration_seconds":0.05}`, activity: "running", want: 5},
		{name: "duration alias", raw: `{"activity":"walking","duration":0.03}`, activity: "walking", want: 3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var msg ClientMessage
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &msg))
			require.NoError(t, msg.Validate())

			m := newTestManager(t, &stubPredictor{length: 8})
			conn := newFakeConn()
			conn.send(msg)

			require.NoError(t, m.Serve(context.Background(), conn))

			msgs := conn.messages()
			require.Len(t, msgs, tc.want)
			require.Equal(t, tc.activity, msgs[0].Activity)
			code, _ := conn.closeStatus()
			require.Equal(t, CloseNormal, code)
		})
	}
}

func TestOversizedDurationIsClamped(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDuration = 50 * time.Millisecond
	m := newTestManagerWithConfig(t, cfg, &stubPredictor{length: 8})
	conn := newFakeConn()
	conn.send(configMessage("walking", 1e12))

	require.NoError(t, m.Serve(context.Background(), conn))
	require.Len(t, conn.messages(), 5)
}

func TestStopMessageEndsSession(t *testing.T) {
	m := newTestManager(t, &stubPredictor{length: 8})
	conn := newFakeConn()
	conn.send(configMessage("walking", 10))
	conn.onWrite = func(msg Message) {
		if msg.Seq == 2 {
			conn.send(ClientMessage{Type: MessageTypeStop})
		}
	}

	done := make(chan error, 1)
	go func() { done <- m.Serve(context.Background(), conn) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}

	code, reason := conn.closeStatus()
	require.Equal(t, CloseNormal, code)
	require.Equal(t, "stopped by client", reason)
	require.Less(t, len(conn.messages()), 10)
}

func TestConfigUpdateSwitchesActivity(t *testing.T) {
	m := newTestManager(t, &stubPredictor{length: 8})
	conn := newFakeConn()
	conn.send(configMessage("walking", 0.1))
	conn.onWrite = func(msg Message) {
		if msg.Seq == 2 {
			conn.send(ClientMessage{Type: MessageTypeConfig, Activity: "sitting"})
		}
	}

	require.NoError(t, m.Serve(context.Background(), conn))

	msgs := conn.messages()
	require.Equal(t, "walking", msgs[0].Activity)
	require.Equal(t, "sitting", msgs[len(msgs)-1].Activity)
}

func TestCancellationStopsEmission(t *testing.T) {
	m := newTestManager(t, &stubPredictor{length: 8})
	conn := newFakeConn()
	conn.send(configMessage("walking", 10))

	ctx, cancel := context.WithCancel(context.Background())
	conn.onWrite = func(msg Message) {
		if msg.Seq == 2 {
			cancel()
		}
	}

	err := m.Serve(ctx, conn)
	require.ErrorIs(t, err, context.Canceled)

	written := len(conn.messages())
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, written, len(conn.messages()))
	code, _ := conn.closeStatus()
	require.Equal(t, CloseGoingAway, code)
}

func TestPeerDisconnectCancelsSession(t *testing.T) {
	m := newTestManager(t, &stubPredictor{length: 8})
	conn := newFakeConn()
	conn.send(configMessage("walking", 10))
	conn.onWrite = func(msg Message) {
		if msg.Seq == 1 {
			conn.disconnect()
		}
	}

	err := m.Serve(context.Background(), conn)
	require.ErrorIs(t, err, ErrPeerGone)
	require.Less(t, len(conn.messages()), 10)
}

func TestInvalidMessagesAreRejected(t *testing.T) {
	tests := []struct {
		name string
		msg  ClientMessage
	}{
		{name: "unknown type", msg: ClientMessage{Type: "subscribe"}},
		{name: "unknown activity", msg: configMessage("swimming", 1)},
		{name: "negative duration", msg: configMessage("walking", -1)},
		{name: "unknown source", msg: ClientMessage{Type: MessageTypeConfig, Source: "camera"}},
		{name: "live without hub", msg: ClientMessage{Type: MessageTypeConfig, Source: SourceLive}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t, &stubPredictor{length: 8})
			conn := newFakeConn()
			conn.send(tc.msg)

			err := m.Serve(context.Background(), conn)
			require.ErrorIs(t, err, ErrProtocol)
			code, reason := conn.closeStatus()
			require.Equal(t, ClosePolicyViolation, code)
			require.NotEmpty(t, reason)
			require.Empty(t, conn.messages())
		})
	}
}

func TestSlowClientDropsOldestMessages(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.BufferSize = 2
	m := newTestManagerWithConfig(t, cfg, &stubPredictor{length: 8})

	conn := newFakeConn()
	conn.send(configMessage("walking", 0.1))
	release := make(chan struct{})
	conn.blockWrites = release
	time.AfterFunc(150*time.Millisecond, func() { close(release) })

	droppedBefore := testutil.ToFloat64(messagesDroppedCounter)
	require.NoError(t, m.Serve(context.Background(), conn))

	msgs := conn.messages()
	require.NotEmpty(t, msgs)
	require.Less(t, len(msgs), 20)
	for i := 1; i < len(msgs); i++ {
		require.Greater(t, msgs[i].Seq, msgs[i-1].Seq)
	}
	require.Equal(t, uint64(20), msgs[len(msgs)-1].Seq, "the newest message survives")
	require.Greater(t, testutil.ToFloat64(messagesDroppedCounter), droppedBefore)
}

func TestLiveSourceUsesFeedReadings(t *testing.T) {
	hub := feed.NewHub()
	cfg := testConfig()
	m := newTestManagerWithConfig(t, cfg, &stubPredictor{length: 8}, WithFeedHub(hub))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				hub.Publish(feed.DeviceReading{DeviceID: "watch-1", Reading: domain.Reading{X: 1, Y: 2, Z: 3}})
			}
		}
	}()

	conn := newFakeConn()
	duration := 0.05
	conn.send(ClientMessage{Type: MessageTypeConfig, Source: SourceLive, DeviceID: "watch-1", DurationSeconds: &duration})

	require.NoError(t, m.Serve(context.Background(), conn))

	msgs := conn.messages()
	require.NotEmpty(t, msgs)
	require.LessOrEqual(t, len(msgs), 5)
	require.Equal(t, liveActivity, msgs[0].Activity)
	require.Equal(t, 1.0, msgs[0].X)
}

func TestLiveSessionPredictsOnDeviceWindow(t *testing.T) {
	hub := feed.NewHub()
	cfg := testConfig()
	cfg.TickInterval = 20 * time.Millisecond
	predictor := &stubPredictor{trained: true, length: 4}
	m := newTestManagerWithConfig(t, cfg, predictor, WithFeedHub(hub))

	conn := newFakeConn()
	duration := 0.3
	conn.send(ClientMessage{Source: SourceLive, DeviceID: "watch-1", DurationSeconds: &duration})

	done := make(chan error, 1)
	go func() { done <- m.Serve(context.Background(), conn) }()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	for i := 1; i <= 6; i++ {
		hub.Publish(feed.DeviceReading{DeviceID: "watch-1", Reading: domain.Reading{X: float64(i)}})
	}
	require.NoError(t, <-done)

	msgs := conn.messages()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	require.Equal(t, 6.0, last.X)
	require.NotNil(t, last.Prediction)

	windows := predictor.seen()
	require.NotEmpty(t, windows)
	require.Equal(t, []domain.Reading{{X: 3}, {X: 4}, {X: 5}, {X: 6}}, windows[len(windows)-1])
}

func TestShutdownClosesSessions(t *testing.T) {
	m := newTestManager(t, &stubPredictor{length: 8})
	conn := newFakeConn()
	conn.send(configMessage("walking", 60))
	started := make(chan struct{})
	var once sync.Once
	conn.onWrite = func(Message) { once.Do(func() { close(started) }) }

	done := make(chan error, 1)
	go func() { done <- m.Serve(context.Background(), conn) }()
	<-started

	require.Len(t, m.Sessions(), 1)
	require.Equal(t, SourceSynthetic, m.Sessions()[0].Source)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	require.ErrorIs(t, <-done, errServerShutdown)

	code, _ := conn.closeStatus()
	require.Equal(t, CloseGoingAway, code)

	require.ErrorIs(t, m.Serve(context.Background(), newFakeConn()), ErrShuttingDown)
}

func TestOutboxDropsOldest(t *testing.T) {
	box := newOutbox(3)
	for i := 1; i <= 5; i++ {
		evicted := box.push(Message{Seq: uint64(i)})
		require.Equal(t, i > 3, evicted)
	}
	box.close()
	require.False(t, box.push(Message{Seq: 6}))

	var seqs []uint64
	for {
		msg, ok := box.pop(context.Background())
		if !ok {
			break
		}
		seqs = append(seqs, msg.Seq)
	}
	require.Equal(t, []uint64{3, 4, 5}, seqs)
	require.Equal(t, uint64(2), box.droppedCount())
}

func TestOutboxPopHonoursContext(t *testing.T) {
	box := newOutbox(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := box.pop(ctx)
	require.False(t, ok)
}

func TestRollingWindowKeepsLatest(t *testing.T) {
	w := newRollingWindow(3)
	w.push(domain.Reading{X: 1}, domain.Reading{X: 2})
	require.False(t, w.full())

	w.push(domain.Reading{X: 3}, domain.Reading{X: 4}, domain.Reading{X: 5})
	require.True(t, w.full())
	require.Equal(t, []domain.Reading{{X: 3}, {X: 4}, {X: 5}}, w.snapshot())
}

func TestTickCount(t *testing.T) {
	require.Equal(t, 5, tickCount(5*time.Second, time.Second))
	require.Equal(t, 6, tickCount(5500*time.Millisecond, time.Second))
	require.Equal(t, 1, tickCount(time.Millisecond, time.Second))
}

func testConfig() Config {
	return Config{
		TickInterval:    10 * time.Millisecond,
		DefaultDuration: time.Second,
		MaxDuration:     time.Minute,
		BufferSize:      16,
		ConfigWait:      20 * time.Millisecond,
		WriteTimeout:    time.Second,
		DefaultActivity: "walking",
	}
}

func newTestManager(t *testing.T, predictor Predictor) *Manager {
	return newTestManagerWithConfig(t, testConfig(), predictor)
}

func newTestManagerWithConfig(t *testing.T, cfg Config, predictor Predictor, opts ...Option) *Manager {
	t.Helper()
	s, err := synth.New(synth.DefaultProfiles(), 1)
	require.NoError(t, err)
	opts = append([]Option{WithLogger(log.New(testWriter{t}, "", 0))}, opts...)
	return NewManager(cfg, predictor, s, opts...)
}

func configMessage(activity string, seconds float64) ClientMessage {
	return ClientMessage{Type: MessageTypeConfig, Activity: activity, DurationSeconds: &seconds}
}

type stubPredictor struct {
	trained bool
	length  int

	mu      sync.Mutex
	windows [][]domain.Reading
}

func (p *stubPredictor) Trained() bool { return p.trained }

func (p *stubPredictor) SequenceLength() int { return p.length }

func (p *stubPredictor) Predict(_ context.Context, window []domain.Reading) (domain.Prediction, error) {
	if len(window) != p.length {
		return domain.Prediction{}, domain.ErrInvalidWindow
	}
	p.mu.Lock()
	p.windows = append(p.windows, window)
	p.mu.Unlock()
	return domain.Prediction{Label: "walking", Confidence: 0.8}, nil
}

func (p *stubPredictor) seen() [][]domain.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]domain.Reading(nil), p.windows...)
}

var errConnClosed = errors.New("connection closed")

type fakeConn struct {
	in          chan ClientMessage
	closed      chan struct{}
	gone        chan struct{}
	closeOnce   sync.Once
	goneOnce    sync.Once
	onWrite     func(Message)
	blockWrites chan struct{}

	mu      sync.Mutex
	written []Message
	code    int
	reason  string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan ClientMessage, 8),
		closed: make(chan struct{}),
		gone:   make(chan struct{}),
	}
}

func (c *fakeConn) send(msg ClientMessage) {
	c.in <- msg
}

func (c *fakeConn) disconnect() {
	c.goneOnce.Do(func() { close(c.gone) })
}

func (c *fakeConn) ReadMessage() (ClientMessage, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.gone:
		return ClientMessage{}, io.EOF
	case <-c.closed:
		return ClientMessage{}, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(ctx context.Context, msg Message) error {
	if c.blockWrites != nil {
		select {
		case <-c.blockWrites:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}

	c.mu.Lock()
	c.written = append(c.written, msg)
	c.mu.Unlock()

	if c.onWrite != nil {
		c.onWrite(msg)
	}
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.code, c.reason = code, reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.written...)
}

func (c *fakeConn) closeStatus() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.reason
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
