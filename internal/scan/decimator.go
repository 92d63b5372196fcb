package scan

// Decimator keeps an evenly strided subset of a point stream: every
// Stride-th point counted from the first. When the cap is reached the kept
// points at odd positions are dropped and the stride doubles, so old and new
// parts of the spiral stay sampled at the same density. It is not safe for
// concurrent use.
type Decimator struct {
	limit  int
	stride int
	seen   int
	points []ScanPoint
}

// NewDecimator keeps at most limit points. A cap below 2 is raised to 2.
func NewDecimator(limit int) *Decimator {
	return &Decimator{limit: max(limit, 2), stride: 1}
}

// Reset forgets all points and restores a stride of 1.
func (d *Decimator) Reset() {
	d.stride = 1
	d.seen = 0
	d.points = d.points[:0]
}

// Add offers the next point of the stream.
func (d *Decimator) Add(p ScanPoint) {
	defer func() { d.seen++ }()
	if d.seen%d.stride != 0 {
		return
	}
	if len(d.points) >= d.limit {
		kept := d.points[:0]
		for i := 0; i < len(d.points); i += 2 {
			kept = append(kept, d.points[i])
		}
		d.points = kept
		d.stride *= 2
		if d.seen%d.stride != 0 {
			return
		}
	}
	d.points = append(d.points, p)
}

// Points returns a copy of the kept points in stream order.
func (d *Decimator) Points() []ScanPoint {
	return append([]ScanPoint(nil), d.points...)
}

// Seen is the number of points offered since the last Reset.
func (d *Decimator) Seen() int { return d.seen }

// Stride is the current spacing of kept points.
func (d *Decimator) Stride() int { return d.stride }
