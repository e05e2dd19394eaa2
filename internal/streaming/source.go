package streaming

import (
	"math"
	"time"

	"example.com/activityrecognition/internal/domain"
	"example.com/activityrecognition/internal/feed"
	"example.com/activityrecognition/internal/synth"
)

// source yields the readings for one tick. ok is false when nothing is available for the tick.
type source interface {
	next() (readings []domain.Reading, ok bool)
	// history returns up to n readings that precede the first tick.
	history(n int) []domain.Reading
	setActivity(activity string) error
	close()
}

type syntheticSource struct {
	stream  *synth.Stream
	perTick int
}

func newSyntheticSource(s *synth.Synthesizer, activity string, interval time.Duration) (*syntheticSource, error) {
	stream, err := s.NewStream(activity)
	if err != nil {
		return nil, err
	}
	perTick := int(math.Round(s.SampleRateHz() * interval.Seconds()))
	if perTick < 1 {
		perTick = 1
	}
	return &syntheticSource{stream: stream, perTick: perTick}, nil
}

func (s *syntheticSource) next() ([]domain.Reading, bool) {
	return s.stream.Next(s.perTick), true
}

func (s *syntheticSource) history(n int) []domain.Reading {
	return s.stream.Next(n)
}

func (s *syntheticSource) setActivity(activity string) error {
	return s.stream.SetActivity(activity)
}

func (s *syntheticSource) close() {}

// liveSource takes every reading the feed hub delivered since the previous tick, up to one
// window's worth.
type liveSource struct {
	hub      *feed.Hub
	id       string
	receiver *feed.Receiver
}

func newLiveSource(hub *feed.Hub, sessionID, deviceID string, backlog int) (*liveSource, error) {
	receiver, err := hub.SubscribeBuffered(sessionID, deviceID, backlog)
	if err != nil {
		return nil, err
	}
	return &liveSource{hub: hub, id: sessionID, receiver: receiver}, nil
}

func (s *liveSource) next() ([]domain.Reading, bool) {
	backlog := s.receiver.Drain()
	if len(backlog) == 0 {
		return nil, false
	}
	readings := make([]domain.Reading, len(backlog))
	for i, r := range backlog {
		readings[i] = r.Reading
	}
	return readings, true
}

func (s *liveSource) history(int) []domain.Reading {
	return nil
}

// setActivity only relabels live readings.
func (s *liveSource) setActivity(string) error {
	return nil
}

func (s *liveSource) close() {
	_ = s.hub.Unsubscribe(s.id)
}

// rollingWindow keeps the last n readings in arrival order.
type rollingWindow struct {
	readings []domain.Reading
	start    int
	size     int
}

func newRollingWindow(n int) *rollingWindow {
	return &rollingWindow{readings: make([]domain.Reading, n)}
}

func (w *rollingWindow) push(readings ...domain.Reading) {
	n := len(w.readings)
	if n == 0 {
		return
	}
	for _, r := range readings {
		if w.size < n {
			w.readings[(w.start+w.size)%n] = r
			w.size++
			continue
		}
		w.readings[w.start] = r
		w.start = (w.start + 1) % n
	}
}

func (w *rollingWindow) full() bool {
	return len(w.readings) > 0 && w.size == len(w.readings)
}

// snapshot copies the window, oldest first.
func (w *rollingWindow) snapshot() []domain.Reading {
	out := make([]domain.Reading, w.size)
	for i := range out {
		out[i] = w.readings[(w.start+i)%len(w.readings)]
	}
	return out
}
