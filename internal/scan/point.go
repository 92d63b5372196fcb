package scan

import (
	"time"

	"github.com/banshee-data/beamalign/internal/mount"
)

// ScanPoint is one sampled location and its readings. Signal is the
// detection channel, Aux the second analog channel. DirX and DirY are the
// travel direction that led to the point, each -1, 0 or +1.
type ScanPoint struct {
	Axis1  mount.Position `json:"axis1"`
	Axis2  mount.Position `json:"axis2"`
	Signal int            `json:"signal"`
	Aux    int            `json:"aux"`
	DirX   int            `json:"dir_x"`
	DirY   int            `json:"dir_y"`
	// Seed marks the reading taken at the start position before any motion.
	Seed bool `json:"seed,omitempty"`
}

// Outcome is how a scan ended.
type Outcome int

const (
	// Found: a sample exceeded the detection threshold. The mount is left
	// at that sample.
	Found Outcome = iota
	// Covered: the whole field was sampled and the mount re-pointed to the
	// best sample.
	Covered
	// Cancelled: the context ended the scan early.
	Cancelled
	// Failed: a motion, sampling or recording error ended the scan.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case Covered:
		return "covered"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result summarises a finished scan.
type Result struct {
	Outcome Outcome
	Session Session
	Best    ScanPoint
	Samples int // scan points recorded after the seed
	Elapsed time.Duration
}

// Progress is reported after each leg. Remaining is a linear extrapolation
// and advisory only.
type Progress struct {
	Completed int
	Total     int
	Elapsed   time.Duration
	Remaining time.Duration
}

// Fraction is Completed/Total, or 1 for an empty plan.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 1
	}
	return float64(p.Completed) / float64(p.Total)
}

// Recorder receives the session record. Begin is called once before the
// seed point, Record once per point in traversal order, and Finish once
// when the scan ends for any reason after a successful Begin.
type Recorder interface {
	Begin(s Session) error
	Record(p ScanPoint) error
	Finish(r Result) error
}

type nopRecorder struct{}

func (nopRecorder) Begin(Session) error    { return nil }
func (nopRecorder) Record(ScanPoint) error { return nil }
func (nopRecorder) Finish(Result) error    { return nil }
