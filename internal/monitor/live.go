// Package monitor exposes the running alignment scan on the debug HTTP
// server: progress, best point, a scan map and a live tail of points.
package monitor

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/beamalign/internal/scan"
)

// DefaultMaxPoints bounds the points kept for the scan map.
const DefaultMaxPoints = 20000

// Status is a snapshot of the live session.
type Status struct {
	Key       string          `json:"key"`
	Running   bool            `json:"running"`
	Outcome   string          `json:"outcome,omitempty"`
	Completed int             `json:"completed"`
	Total     int             `json:"total"`
	Percent   float64         `json:"percent"`
	Remaining time.Duration   `json:"remaining_ns"`
	Samples   int             `json:"samples"`
	Best      *scan.ScanPoint `json:"best,omitempty"`
}

func (s Status) String() string {
	if s.Key == "" {
		return "idle"
	}
	state := "running"
	if !s.Running {
		state = s.Outcome
	}
	best := "none"
	if s.Best != nil {
		best = fmt.Sprintf("%s,%s signal %d", s.Best.Axis1, s.Best.Axis2, s.Best.Signal)
	}
	return fmt.Sprintf("%s %s %.1f%% (%d/%d), %d samples, best %s", s.Key, state, s.Percent, s.Completed, s.Total, s.Samples, best)
}

// Live tracks the active session. It implements scan.Recorder and is safe
// for concurrent readers; subscribers receive every point as a CSV line.
type Live struct {
	mu       sync.RWMutex
	session  scan.Session
	points   *scan.Decimator
	samples  int
	best     *scan.ScanPoint
	progress scan.Progress
	result   *scan.Result

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
}

// NewLive creates a live view keeping at most maxPoints points, or
// DefaultMaxPoints when maxPoints is not positive.
func NewLive(maxPoints int) *Live {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	return &Live{points: scan.NewDecimator(maxPoints), subscribers: make(map[string]chan string)}
}

// Begin implements scan.Recorder.
func (l *Live) Begin(s scan.Session) error {
	l.mu.Lock()
	l.session = s
	l.points.Reset()
	l.samples = 0
	l.best = nil
	l.progress = scan.Progress{Total: s.TotalSteps}
	l.result = nil
	l.mu.Unlock()

	l.publish(fmt.Sprintf("# begin %s", s.Key()))
	return nil
}

// Record implements scan.Recorder. Kept points are evenly strided over the
// whole session; the stride doubles whenever maxPoints are held.
func (l *Live) Record(p scan.ScanPoint) error {
	l.mu.Lock()
	if !p.Seed {
		l.samples++
	}
	if l.best == nil || p.Signal > l.best.Signal {
		best := p
		l.best = &best
	}
	l.points.Add(p)
	l.mu.Unlock()

	l.publish(fmt.Sprintf("%06X,%06X,%d,%d", uint32(p.Axis1), uint32(p.Axis2), p.Signal, p.Aux))
	return nil
}

// Finish implements scan.Recorder.
func (l *Live) Finish(r scan.Result) error {
	l.mu.Lock()
	l.result = &r
	l.progress.Completed = r.Session.CompletedSteps
	l.mu.Unlock()

	l.publish(fmt.Sprintf("# %s", r.Outcome))
	return nil
}

// OnProgress records leg progress. It fits scan.Scanner.OnProgress.
func (l *Live) OnProgress(p scan.Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = p
}

// Status returns a snapshot of the session.
func (l *Live) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Status{
		Completed: l.progress.Completed,
		Total:     l.progress.Total,
		Remaining: l.progress.Remaining,
		Samples:   l.samples,
	}
	if l.session.Range > 0 {
		s.Key = l.session.Key()
		s.Running = l.result == nil
		s.Percent = 100 * l.progress.Fraction()
	}
	if l.result != nil {
		s.Outcome = l.result.Outcome.String()
	}
	if l.best != nil {
		best := *l.best
		s.Best = &best
	}
	return s
}

// Points returns the kept points.
func (l *Live) Points() []scan.ScanPoint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.points.Points()
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel of point lines and its id for Unsubscribe.
func (l *Live) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 64)
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	l.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (l *Live) Unsubscribe(id string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	if ch, ok := l.subscribers[id]; ok {
		close(ch)
		delete(l.subscribers, id)
	}
}

func (l *Live) publish(line string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	for _, ch := range l.subscribers {
		select {
		case ch <- line:
		default:
			// subscriber is full, drop the line
		}
	}
}
