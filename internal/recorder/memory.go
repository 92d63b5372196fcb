package recorder

import (
	"math"
	"sync"

	"github.com/banshee-data/beamalign/internal/scan"
)

// DefaultMaxPoints bounds the points an in-memory or plot recorder keeps.
// The reference scan plans millions of samples.
const DefaultMaxPoints = 50000

// Memory keeps the last session in memory. Points beyond maxPoints are
// decimated to an even stride; the signal count, mean, spread and extremes
// are accumulated over every point. It is safe for concurrent readers while
// a scan records into it.
type Memory struct {
	mu       sync.RWMutex
	session  scan.Session
	points   *scan.Decimator
	stats    running
	result   scan.Result
	finished bool
}

// running accumulates signal statistics with Welford's update.
type running struct {
	n        int
	mean, m2 float64
	min, max float64
	best     scan.ScanPoint
}

func (r *running) add(p scan.ScanPoint) {
	v := float64(p.Signal)
	r.n++
	if r.n == 1 {
		r.min, r.max, r.best = v, v, p
	}
	d := v - r.mean
	r.mean += d / float64(r.n)
	r.m2 += d * (v - r.mean)
	r.min = math.Min(r.min, v)
	if v > r.max {
		r.max, r.best = v, p
	}
}

// NewMemory creates an empty in-memory recorder keeping at most maxPoints
// points, or DefaultMaxPoints when maxPoints is not positive.
func NewMemory(maxPoints int) *Memory {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	return &Memory{points: scan.NewDecimator(maxPoints)}
}

// Begin implements scan.Recorder and discards the previous session.
func (m *Memory) Begin(s scan.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
	m.points.Reset()
	m.stats = running{}
	m.result = scan.Result{}
	m.finished = false
	return nil
}

// Record implements scan.Recorder.
func (m *Memory) Record(p scan.ScanPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points.Add(p)
	m.stats.add(p)
	return nil
}

// Finish implements scan.Recorder.
func (m *Memory) Finish(r scan.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = r
	m.finished = true
	return nil
}

// Session returns the current session.
func (m *Memory) Session() scan.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Points returns a copy of the kept points in traversal order.
func (m *Memory) Points() []scan.ScanPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.points.Points()
}

// Summary describes every recorded point. The median comes from the kept
// points, everything else is exact.
func (m *Memory) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summarize(m.points.Points())
	st := m.stats
	if st.n == 0 {
		return s
	}
	s.Samples = st.n
	s.Mean = st.mean
	s.StdDev = 0
	if st.n > 1 {
		s.StdDev = math.Sqrt(st.m2 / float64(st.n-1))
	}
	s.Min, s.Max, s.Best = st.min, st.max, st.best
	s.Contrast = 0
	if s.StdDev > 0 {
		s.Contrast = (s.Max - s.Median) / s.StdDev
	}
	return s
}

// Result returns the final result and whether the session has finished.
func (m *Memory) Result() (scan.Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.result, m.finished
}
