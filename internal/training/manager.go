// Package training runs model fitting off the request path and owns the active model.
package training

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"example.com/activityrecognition/internal/domain"
)

const (
	defaultHistoryLimit = 100
	sideEffectTimeout   = 5 * time.Second
)

// Option configures optional behaviour for the Manager.
type Option func(*Manager)

// WithLogger overrides the logger used to report run outcomes.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithRunRecorder persists every run transition.
func WithRunRecorder(recorder domain.RunRecorder) Option {
	return func(m *Manager) {
		m.recorder = recorder
	}
}

// WithEventSink publishes run lifecycle events.
func WithEventSink(sink domain.RunEventSink) Option {
	return func(m *Manager) {
		m.events = sink
	}
}

// WithHistoryLimit bounds the number of runs kept in memory.
func WithHistoryLimit(limit int) Option {
	return func(m *Manager) {
		if limit > 0 {
			m.historyLimit = limit
		}
	}
}

type activeModel struct {
	model     domain.Model
	runID     string
	trainedAt time.Time
}

// Manager allows at most one training run at a time and swaps in the model of each successful run.
type Manager struct {
	store          domain.SampleStore
	classifier     domain.Classifier
	recorder       domain.RunRecorder
	events         domain.RunEventSink
	sequenceLength int
	historyLimit   int
	logger         *log.Logger
	now            func() time.Time

	mu      sync.Mutex
	busy    bool
	closed  bool
	current *domain.TrainingRun
	history []domain.TrainingRun

	model atomic.Pointer[activeModel]

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a Manager. sequenceLength is the window length L every sample and
// prediction window must have.
func NewManager(store domain.SampleStore, classifier domain.Classifier, sequenceLength int, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:          store,
		classifier:     classifier,
		sequenceLength: sequenceLength,
		historyLimit:   defaultHistoryLimit,
		logger:         log.New(log.Writer(), "[training] ", log.LstdFlags|log.Lshortfile),
		now:            func() time.Time { return time.Now().UTC() },
		baseCtx:        ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SequenceLength is the window length L.
func (m *Manager) SequenceLength() int {
	return m.sequenceLength
}

// StartTraining accepts a new run and fits it in the background. The returned run is in the
// running state. ctx only bounds the sample snapshot; the run itself outlives the request.
func (m *Manager) StartTraining(ctx context.Context, cfg domain.TrainingConfig) (domain.TrainingRun, error) {
	if err := cfg.Validate(); err != nil {
		return domain.TrainingRun{}, err
	}
	if err := m.admit(); err != nil {
		return domain.TrainingRun{}, err
	}

	samples, err := m.store.Snapshot(ctx)
	if err != nil {
		return domain.TrainingRun{}, fmt.Errorf("snapshot samples: %w", err)
	}
	if len(samples) == 0 {
		return domain.TrainingRun{}, domain.ErrInsufficientData
	}

	m.mu.Lock()
	if err := m.admitLocked(); err != nil {
		m.mu.Unlock()
		return domain.TrainingRun{}, err
	}
	run := domain.TrainingRun{
		ID:          uuid.NewString(),
		Status:      domain.RunStatusRunning,
		Config:      cfg,
		SampleCount: len(samples),
		StartedAt:   m.now(),
	}
	m.busy = true
	m.current = &run
	m.wg.Add(1)
	m.mu.Unlock()

	recordRunStarted()
	m.logger.Printf("run %s started (samples=%d, epochs=%d, batch_size=%d)", run.ID, run.SampleCount, cfg.Epochs, cfg.BatchSize)

	go m.execute(run.Clone(), samples)

	return run.Clone(), nil
}

func (m *Manager) execute(run domain.TrainingRun, samples []domain.LabeledSample) {
	defer m.wg.Done()

	m.notifyStarted(run.Clone())

	model, metrics, err := m.train(samples, run.Config)
	finished := m.now()
	run.FinishedAt = &finished

	m.mu.Lock()
	if err != nil {
		msg := err.Error()
		run.Status = domain.RunStatusFailed
		run.Error = &msg
	} else {
		accuracy := metrics.Accuracy
		run.Status = domain.RunStatusSucceeded
		run.Accuracy = &accuracy
		run.Classes = model.Classes()
		m.model.Store(&activeModel{model: model, runID: run.ID, trainedAt: finished})
	}
	m.current = &run
	m.history = append(m.history, run.Clone())
	if len(m.history) > m.historyLimit {
		m.history = append([]domain.TrainingRun(nil), m.history[len(m.history)-m.historyLimit:]...)
	}
	m.busy = false
	m.mu.Unlock()

	recordRunCompleted(run)
	if err != nil {
		m.logger.Printf("run %s failed: %v", run.ID, err)
	} else {
		m.logger.Printf("run %s succeeded (accuracy=%.3f, train_accuracy=%.3f, loss=%.4f)", run.ID, metrics.Accuracy, metrics.TrainAccuracy, metrics.FinalLoss)
	}
	m.notifyCompleted(run.Clone())
}

// train calls the classifier and converts a panic into a run failure.
func (m *Manager) train(samples []domain.LabeledSample, cfg domain.TrainingConfig) (model domain.Model, metrics domain.Metrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("training panic: %v\n%s", r, debug.Stack())
			model = nil
			err = fmt.Errorf("training panicked: %v", r)
		}
	}()

	model, metrics, err = m.classifier.Train(m.baseCtx, samples, cfg)
	if err == nil && model == nil {
		err = fmt.Errorf("classifier returned no model")
	}
	return model, metrics, err
}

func (m *Manager) admit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admitLocked()
}

func (m *Manager) admitLocked() error {
	switch {
	case m.closed:
		return domain.ErrShuttingDown
	case m.busy:
		return domain.ErrAlreadyTraining
	}
	return nil
}

// Status reports the most recent run, or none when no run has started.
func (m *Manager) Status() domain.TrainingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return domain.TrainingStatus{Status: domain.RunStatusNone}
	}
	run := m.current.Clone()
	started := run.StartedAt
	return domain.TrainingStatus{
		RunID:      run.ID,
		Status:     run.Status,
		Accuracy:   run.Accuracy,
		Error:      run.Error,
		StartedAt:  &started,
		FinishedAt: run.FinishedAt,
	}
}

// ModelInfo describes the active model.
func (m *Manager) ModelInfo() domain.ModelInfo {
	active := m.model.Load()
	if active == nil {
		return domain.ModelInfo{SequenceLength: m.sequenceLength}
	}
	trainedAt := active.trainedAt
	return domain.ModelInfo{
		Trained:        true,
		Classes:        active.model.Classes(),
		SequenceLength: active.model.WindowLength(),
		RunID:          active.runID,
		TrainedAt:      &trainedAt,
	}
}

// Trained reports whether a model is active.
func (m *Manager) Trained() bool {
	return m.model.Load() != nil
}

// Predict classifies a window with the active model. Without a model it reports the unknown
// label with zero confidence.
func (m *Manager) Predict(ctx context.Context, window []domain.Reading) (domain.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Prediction{}, err
	}
	if len(window) != m.sequenceLength {
		return domain.Prediction{}, fmt.Errorf("%w: expected %d readings, got %d", domain.ErrInvalidWindow, m.sequenceLength, len(window))
	}

	active := m.model.Load()
	if active == nil {
		return domain.Prediction{Label: domain.UnknownLabel, Confidence: 0}, nil
	}
	return active.model.Predict(window)
}

// History returns completed runs, oldest first.
func (m *Manager) History() []domain.TrainingRun {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.TrainingRun, 0, len(m.history))
	for _, run := range m.history {
		out = append(out, run.Clone())
	}
	return out
}

// Runs lists recent runs, newest first. The run recorder is preferred when configured since it
// survives restarts.
func (m *Manager) Runs(ctx context.Context, limit int) ([]domain.TrainingRun, error) {
	if m.recorder != nil {
		return m.recorder.ListRuns(ctx, limit)
	}

	history := m.History()
	out := make([]domain.TrainingRun, 0, len(history))
	for i := len(history) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, history[i])
	}
	return out, nil
}

// Wait blocks until the in-flight run, if any, has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown stops accepting runs and waits for the in-flight one. When ctx expires first the run
// is cancelled and ctx.Err() is returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}

func (m *Manager) notifyStarted(run domain.TrainingRun) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	if m.recorder != nil {
		if err := m.recorder.RecordRun(ctx, run); err != nil {
			m.logger.Printf("record run %s: %v", run.ID, err)
		}
	}
	if m.events != nil {
		if err := m.events.RunStarted(ctx, run); err != nil {
			m.logger.Printf("publish run_started %s: %v", run.ID, err)
		}
	}
}

func (m *Manager) notifyCompleted(run domain.TrainingRun) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	if m.recorder != nil {
		if err := m.recorder.RecordRun(ctx, run); err != nil {
			m.logger.Printf("record run %s: %v", run.ID, err)
		}
	}
	if m.events != nil {
		if err := m.events.RunCompleted(ctx, run); err != nil {
			m.logger.Printf("publish run_completed %s: %v", run.ID, err)
		}
	}
}
