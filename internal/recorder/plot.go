package recorder

import (
	"bytes"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/beamalign/internal/fsutil"
	"github.com/banshee-data/beamalign/internal/mount"
	"github.com/banshee-data/beamalign/internal/scan"
	"github.com/banshee-data/beamalign/internal/security"
)

// Plot renders the scan map as "{dir}/{range}-{field}.png" when a session
// finishes: sample positions relative to the start, shaded by signal, with
// the best point marked.
type Plot struct {
	fs      fsutil.FileSystem
	dir     string
	path    string
	session scan.Session
	points  *scan.Decimator
}

// NewPlot creates a scan map recorder writing under dir. At most
// DefaultMaxPoints evenly strided points are drawn.
func NewPlot(fs fsutil.FileSystem, dir string) *Plot {
	if dir == "" {
		dir = "."
	}
	return &Plot{fs: fs, dir: dir, points: scan.NewDecimator(DefaultMaxPoints)}
}

// Path returns the image of the last finished session.
func (p *Plot) Path() string { return p.path }

// Begin implements scan.Recorder.
func (p *Plot) Begin(s scan.Session) error {
	p.session = s
	p.points.Reset()
	return nil
}

// Record implements scan.Recorder.
func (p *Plot) Record(pt scan.ScanPoint) error {
	p.points.Add(pt)
	return nil
}

// Finish implements scan.Recorder.
func (p *Plot) Finish(res scan.Result) error {
	points := p.points.Points()
	if len(points) == 0 {
		return nil
	}
	img, err := RenderScanMap(p.session, points, res.Best)
	if err != nil {
		return err
	}
	if err := p.fs.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create plot dir: %w", err)
	}
	path, err := security.OutputPath(p.dir, p.session.Key(), ".png")
	if err != nil {
		return err
	}
	p.path = path
	if err := p.fs.WriteFile(p.path, img, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p.path, err)
	}
	return nil
}

// RenderScanMap draws points as a PNG. Offsets are in encoder steps from
// the first point.
func RenderScanMap(s scan.Session, points []scan.ScanPoint, best scan.ScanPoint) ([]byte, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("no points to plot")
	}
	origin := points[0]
	xys := make(plotter.XYs, len(points))
	lo, hi := points[0].Signal, points[0].Signal
	for i, pt := range points {
		xys[i].X = stepOffset(pt.Axis1, origin.Axis1)
		xys[i].Y = stepOffset(pt.Axis2, origin.Axis2)
		lo = min(lo, pt.Signal)
		hi = max(hi, pt.Signal)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Scan %s (%d steps per sample)", s.Key(), s.ResolutionSteps)
	p.X.Label.Text = "Axis 1 offset (steps)"
	p.Y.Label.Text = "Axis 2 offset (steps)"
	p.Add(plotter.NewGrid())

	path, err := plotter.NewLine(xys)
	if err != nil {
		return nil, fmt.Errorf("failed to create path: %w", err)
	}
	path.Color = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	path.Width = vg.Points(0.5)
	p.Add(path)

	samples, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, fmt.Errorf("failed to create scatter: %w", err)
	}
	samples.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		return draw.GlyphStyle{
			Color:  heat(points[i].Signal, lo, hi),
			Radius: vg.Points(2.5),
			Shape:  draw.CircleGlyph{},
		}
	}
	p.Add(samples)

	bestXY := plotter.XYs{{X: stepOffset(best.Axis1, origin.Axis1), Y: stepOffset(best.Axis2, origin.Axis2)}}
	marker, err := plotter.NewScatter(bestXY)
	if err != nil {
		return nil, fmt.Errorf("failed to create best marker: %w", err)
	}
	marker.GlyphStyle = draw.GlyphStyle{Color: color.RGBA{R: 220, A: 255}, Radius: vg.Points(6), Shape: draw.CrossGlyph{}}
	p.Add(marker)
	p.Legend.Add(fmt.Sprintf("best %d", best.Signal), marker)

	w, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to render plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode plot: %w", err)
	}
	return buf.Bytes(), nil
}

// heat maps v in [lo, hi] from blue to red.
func heat(v, lo, hi int) color.Color {
	f := 0.0
	if hi > lo {
		f = float64(v-lo) / float64(hi-lo)
	}
	return color.RGBA{R: uint8(255 * f), G: 40, B: uint8(255 * (1 - f)), A: 255}
}

func stepOffset(p, origin mount.Position) float64 {
	return float64(int64(p) - int64(origin))
}
