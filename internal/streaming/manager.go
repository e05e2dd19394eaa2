// Package streaming runs per-connection sessions that emit sensor readings and live predictions.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/activityrecognition/internal/domain"
	"example.com/activityrecognition/internal/feed"
	"example.com/activityrecognition/internal/synth"
)

var (
	// ErrShuttingDown is returned when a session is opened after Shutdown.
	ErrShuttingDown = errors.New("streaming manager shutting down")
	// ErrPeerGone is returned when the client disconnects mid-session.
	ErrPeerGone = errors.New("peer disconnected")

	errServerShutdown = errors.New("server shutdown")
)

const liveActivity = "live"

// Predictor classifies windows with the currently active model.
type Predictor interface {
	Trained() bool
	SequenceLength() int
	Predict(ctx context.Context, window []domain.Reading) (domain.Prediction, error)
}

// Conn is a message-oriented client connection. ReadMessage must return once Close is called.
type Conn interface {
	ReadMessage() (ClientMessage, error)
	WriteMessage(ctx context.Context, msg Message) error
	Close(code int, reason string) error
}

// Config controls session timing and buffering.
type Config struct {
	TickInterval    time.Duration
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	BufferSize      int
	ConfigWait      time.Duration
	WriteTimeout    time.Duration
	DefaultActivity string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		TickInterval:    time.Second,
		DefaultDuration: 30 * time.Second,
		MaxDuration:     time.Hour,
		BufferSize:      16,
		ConfigWait:      time.Second,
		WriteTimeout:    5 * time.Second,
		DefaultActivity: "walking",
	}
}

// SessionStats describes one active session.
type SessionStats struct {
	ID        string    `json:"id"`
	Activity  string    `json:"activity"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
	Ticks     uint64    `json:"ticks"`
	Sent      uint64    `json:"sent"`
	Dropped   uint64    `json:"dropped"`
}

// Option configures optional behaviour for the Manager.
type Option func(*Manager)

// WithLogger overrides the logger used to report session outcomes.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithFeedHub enables the live source.
func WithFeedHub(hub *feed.Hub) Option {
	return func(m *Manager) {
		m.hub = hub
	}
}

// Manager owns the set of streaming sessions.
type Manager struct {
	cfg       Config
	predictor Predictor
	synth     *synth.Synthesizer
	hub       *feed.Hub
	logger    *log.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup
}

// NewManager constructs a Manager. Zero config fields fall back to DefaultConfig.
func NewManager(cfg Config, predictor Predictor, s *synth.Synthesizer, opts ...Option) *Manager {
	defaults := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaults.TickInterval
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = defaults.DefaultDuration
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = defaults.MaxDuration
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.ConfigWait <= 0 {
		cfg.ConfigWait = defaults.ConfigWait
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.DefaultActivity == "" || !s.HasActivity(cfg.DefaultActivity) {
		cfg.DefaultActivity = s.Activities()[0]
	}

	m := &Manager{
		cfg:       cfg,
		predictor: predictor,
		synth:     s,
		logger:    log.New(log.Writer(), "[stream] ", log.LstdFlags|log.Lshortfile),
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type session struct {
	cancel context.CancelCauseFunc

	mu    sync.Mutex
	stats SessionStats
}

func (s *session) update(fn func(*SessionStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
}

func (s *session) snapshot() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

type sessionParams struct {
	activity string
	duration time.Duration
	source   string
	deviceID string
}

// closeReason describes how a session ends.
type closeReason struct {
	code    int
	reason  string
	outcome string
	err     error
}

const (
	outcomeCompleted    = "completed"
	outcomeStopped      = "stopped"
	outcomeDisconnected = "disconnected"
	outcomeRejected     = "rejected"
	outcomeFailed       = "failed"
	outcomeCancelled    = "cancelled"
)

// writerState publishes the writer goroutine's result once done is closed.
type writerState struct {
	done chan struct{}
	err  error
}

type inboundResult struct {
	msg ClientMessage
	err error
}

// Serve runs one session on conn until it completes, the client stops or disconnects, or ctx is
// cancelled. conn is always closed on return. A nil error means the session ended normally.
func (m *Manager) Serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sess, err := m.register(cancel)
	if err != nil {
		_ = conn.Close(CloseGoingAway, "server shutting down")
		sessionsCounter.WithLabelValues(outcomeCancelled).Inc()
		return err
	}
	defer m.unregister(sess)

	inbound := make(chan inboundResult, 1)
	quit := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readLoop(conn, inbound, quit)
	}()

	end := m.run(ctx, cancel, conn, sess, inbound)

	close(quit)
	if err := conn.Close(end.code, end.reason); err != nil && end.outcome != outcomeDisconnected {
		m.logger.Printf("session %s: close: %v", sess.stats.ID, err)
	}
	<-readerDone

	sessionsCounter.WithLabelValues(end.outcome).Inc()
	stats := sess.snapshot()
	m.logger.Printf("session %s %s (ticks=%d, sent=%d, dropped=%d)", stats.ID, end.outcome, stats.Ticks, stats.Sent, stats.Dropped)
	return end.err
}

func readLoop(conn Conn, out chan<- inboundResult, quit <-chan struct{}) {
	for {
		msg, err := conn.ReadMessage()
		if err == nil {
			err = msg.Validate()
		}
		select {
		case out <- inboundResult{msg: msg, err: err}:
		case <-quit:
			return
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) run(ctx context.Context, cancel context.CancelCauseFunc, conn Conn, sess *session, inbound <-chan inboundResult) *closeReason {
	params, end := m.awaitConfig(ctx, inbound)
	if end != nil {
		return end
	}

	src, end := m.openSource(sess.stats.ID, params)
	if end != nil {
		return end
	}
	defer src.close()

	sess.update(func(s *SessionStats) {
		s.Activity = params.activity
		s.Source = params.source
	})

	box := newOutbox(m.cfg.BufferSize)
	w := &writerState{done: make(chan struct{})}
	go func() {
		defer close(w.done)
		w.err = m.writeLoop(ctx, conn, box, sess)
	}()

	end = m.produce(ctx, sess, params, src, box, inbound, w)
	if end.outcome != outcomeCompleted && end.outcome != outcomeStopped {
		cancel(end.err)
	}
	box.close()
	<-w.done
	if w.err != nil && end.err == nil {
		end = writeFailure(w.err)
	}
	if end.outcome == outcomeCompleted || end.outcome == outcomeStopped {
		if ctxErr := ctx.Err(); ctxErr != nil {
			end = m.cancelled(ctx)
		}
	}
	return end
}

func (m *Manager) awaitConfig(ctx context.Context, inbound <-chan inboundResult) (sessionParams, *closeReason) {
	params := sessionParams{
		activity: m.cfg.DefaultActivity,
		duration: m.cfg.DefaultDuration,
		source:   SourceSynthetic,
	}

	timer := time.NewTimer(m.cfg.ConfigWait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return params, m.cancelled(ctx)
	case <-timer.C:
		return params, nil
	case in := <-inbound:
		if in.err != nil {
			return params, readFailure(in.err)
		}
		if in.msg.Type == MessageTypeStop {
			return params, &closeReason{code: CloseNormal, reason: "stopped by client", outcome: outcomeStopped}
		}
		return m.applyConfig(params, in.msg)
	}
}

func (m *Manager) applyConfig(params sessionParams, msg ClientMessage) (sessionParams, *closeReason) {
	if msg.Source != "" {
		params.source = msg.Source
	}
	if msg.DeviceID != "" {
		params.deviceID = msg.DeviceID
	}
	if seconds, ok := msg.durationSeconds(); ok {
		if seconds >= m.cfg.MaxDuration.Seconds() {
			params.duration = m.cfg.MaxDuration
		} else {
			params.duration = time.Duration(seconds * float64(time.Second))
		}
	}

	switch {
	case msg.Activity != "":
		params.activity = msg.Activity
	case params.source == SourceLive:
		params.activity = liveActivity
	}
	if params.source == SourceSynthetic && !m.synth.HasActivity(params.activity) {
		return params, rejected(fmt.Errorf("%w: unknown activity %q", ErrProtocol, params.activity))
	}
	return params, nil
}

func (m *Manager) openSource(sessionID string, params sessionParams) (source, *closeReason) {
	switch params.source {
	case SourceLive:
		if m.hub == nil {
			return nil, rejected(fmt.Errorf("%w: live source unavailable", ErrProtocol))
		}
		src, err := newLiveSource(m.hub, sessionID, params.deviceID, m.predictor.SequenceLength())
		if err != nil {
			return nil, &closeReason{code: CloseInternalError, reason: "live source unavailable", outcome: outcomeFailed, err: err}
		}
		return src, nil
	default:
		src, err := newSyntheticSource(m.synth, params.activity, m.cfg.TickInterval)
		if err != nil {
			return nil, rejected(fmt.Errorf("%w: %v", ErrProtocol, err))
		}
		return src, nil
	}
}

// produce emits one message per tick. The first tick fires immediately and the session ends
// after ceil(duration/interval) ticks. Synthetic sessions start with a full window so every tick
// can carry a prediction; live sessions predict once the device has delivered a full window.
func (m *Manager) produce(ctx context.Context, sess *session, params sessionParams, src source, box *outbox, inbound <-chan inboundResult, w *writerState) *closeReason {
	total := tickCount(params.duration, m.cfg.TickInterval)
	window := newRollingWindow(m.predictor.SequenceLength())
	window.push(src.history(m.predictor.SequenceLength())...)
	activity := params.activity

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	var seq uint64
	for tick := 0; tick < total; tick++ {
		if tick > 0 {
			if end := m.waitTick(ctx, ticker, inbound, w, src, &activity); end != nil {
				return end
			}
		}
		if ctx.Err() != nil {
			return m.cancelled(ctx)
		}

		sess.update(func(s *SessionStats) {
			s.Ticks++
			s.Activity = activity
		})
		readings, ok := src.next()
		if !ok || len(readings) == 0 {
			continue
		}
		window.push(readings...)

		last := readings[len(readings)-1]
		seq++
		msg := Message{
			Seq:        seq,
			Timestamp:  time.Now().UTC(),
			X:          last.X,
			Y:          last.Y,
			Z:          last.Z,
			Activity:   activity,
			Prediction: m.predict(ctx, sess, window),
		}
		if box.push(msg) {
			messagesDroppedCounter.Inc()
			sess.update(func(s *SessionStats) { s.Dropped++ })
		}
	}
	return &closeReason{code: CloseNormal, reason: "session complete", outcome: outcomeCompleted}
}

func (m *Manager) waitTick(ctx context.Context, ticker *time.Ticker, inbound <-chan inboundResult, w *writerState, src source, activity *string) *closeReason {
	for {
		select {
		case <-ctx.Done():
			return m.cancelled(ctx)
		case <-ticker.C:
			return nil
		case <-w.done:
			if w.err == nil {
				return m.cancelled(ctx)
			}
			return writeFailure(w.err)
		case in := <-inbound:
			if in.err != nil {
				return readFailure(in.err)
			}
			if in.msg.Type == MessageTypeStop {
				return &closeReason{code: CloseNormal, reason: "stopped by client", outcome: outcomeStopped}
			}
			if in.msg.Activity == "" {
				continue
			}
			if err := src.setActivity(in.msg.Activity); err != nil {
				return rejected(fmt.Errorf("%w: %v", ErrProtocol, err))
			}
			*activity = in.msg.Activity
		}
	}
}

func (m *Manager) predict(ctx context.Context, sess *session, window *rollingWindow) *domain.Prediction {
	if !m.predictor.Trained() || !window.full() {
		return nil
	}
	prediction, err := m.predictor.Predict(ctx, window.snapshot())
	if err != nil {
		m.logger.Printf("session %s: predict: %v", sess.stats.ID, err)
		return nil
	}
	return &prediction
}

// writeLoop drains the outbox in order. It returns nil once the outbox is closed and drained or
// the session is cancelled.
func (m *Manager) writeLoop(ctx context.Context, conn Conn, box *outbox, sess *session) error {
	for {
		msg, ok := box.pop(ctx)
		if !ok || ctx.Err() != nil {
			return nil
		}

		writeCtx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
		err := conn.WriteMessage(writeCtx, msg)
		cancel()
		if err != nil {
			return fmt.Errorf("write message %d: %w", msg.Seq, err)
		}
		messagesSentCounter.Inc()
		sess.update(func(s *SessionStats) { s.Sent++ })
	}
}

func (m *Manager) cancelled(ctx context.Context) *closeReason {
	err := context.Cause(ctx)
	if err == nil {
		err = context.Canceled
	}
	return &closeReason{code: CloseGoingAway, reason: "session cancelled", outcome: outcomeCancelled, err: err}
}

func rejected(err error) *closeReason {
	return &closeReason{code: ClosePolicyViolation, reason: err.Error(), outcome: outcomeRejected, err: err}
}

func writeFailure(err error) *closeReason {
	return &closeReason{code: CloseInternalError, reason: "write failed", outcome: outcomeFailed, err: err}
}

func readFailure(err error) *closeReason {
	if errors.Is(err, ErrProtocol) {
		return rejected(err)
	}
	return &closeReason{code: CloseNormal, reason: "", outcome: outcomeDisconnected, err: fmt.Errorf("%w: %v", ErrPeerGone, err)}
}

func tickCount(duration, interval time.Duration) int {
	n := int(math.Ceil(float64(duration) / float64(interval)))
	if n < 1 {
		n = 1
	}
	return n
}

func (m *Manager) register(cancel context.CancelCauseFunc) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrShuttingDown
	}
	sess := &session{
		cancel: cancel,
		stats:  SessionStats{ID: uuid.NewString(), StartedAt: time.Now().UTC()},
	}
	m.sessions[sess.stats.ID] = sess
	m.wg.Add(1)
	activeSessionsGauge.Inc()
	return sess, nil
}

func (m *Manager) unregister(sess *session) {
	m.mu.Lock()
	delete(m.sessions, sess.stats.ID)
	m.mu.Unlock()

	activeSessionsGauge.Dec()
	m.wg.Done()
}

// Active is the number of running sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sessions lists running sessions, oldest first.
func (m *Manager) Sessions() []SessionStats {
	m.mu.Lock()
	out := make([]SessionStats, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Shutdown cancels every session and waits for them to release their connections.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, sess := range m.sessions {
		sess.cancel(errServerShutdown)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
