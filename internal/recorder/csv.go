// Package recorder persists and summarises scan records.
package recorder

import (
	"bufio"
	"fmt"
	"io"

	"github.com/banshee-data/beamalign/internal/fsutil"
	"github.com/banshee-data/beamalign/internal/scan"
	"github.com/banshee-data/beamalign/internal/security"
)

// CSV writes one line per scan point to "{dir}/{range}-{field}.csv". The
// seed line carries the start readings as reals:
//
//	004F2A,00A1B3,512.000000,498.000000
//	004F41,00A1B3,530,497
type CSV struct {
	fs   fsutil.FileSystem
	dir  string
	path string
	f    io.WriteCloser
	w    *bufio.Writer
}

// NewCSV creates a CSV recorder writing under dir.
func NewCSV(fs fsutil.FileSystem, dir string) *CSV {
	if dir == "" {
		dir = "."
	}
	return &CSV{fs: fs, dir: dir}
}

// Path returns the file of the current or last session.
func (c *CSV) Path() string { return c.path }

// Begin implements scan.Recorder.
func (c *CSV) Begin(s scan.Session) error {
	if c.f != nil {
		return fmt.Errorf("csv recorder: session %s already open", c.path)
	}
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create record dir: %w", err)
	}
	path, err := security.OutputPath(c.dir, s.Key(), ".csv")
	if err != nil {
		return err
	}
	c.path = path
	f, err := c.fs.Create(c.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", c.path, err)
	}
	c.f = f
	c.w = bufio.NewWriter(f)
	return nil
}

// Record implements scan.Recorder.
func (c *CSV) Record(p scan.ScanPoint) error {
	if c.w == nil {
		return fmt.Errorf("csv recorder: no open session")
	}
	var err error
	if p.Seed {
		_, err = fmt.Fprintf(c.w, "%06X,%06X,%f,%f\n", uint32(p.Axis1), uint32(p.Axis2), float64(p.Signal), float64(p.Aux))
	} else {
		_, err = fmt.Fprintf(c.w, "%06X,%06X,%d,%d\n", uint32(p.Axis1), uint32(p.Axis2), p.Signal, p.Aux)
	}
	return err
}

// Finish implements scan.Recorder. It flushes and closes the file.
func (c *CSV) Finish(scan.Result) error {
	if c.f == nil {
		return nil
	}
	ferr := c.w.Flush()
	cerr := c.f.Close()
	c.f, c.w = nil, nil
	if ferr != nil {
		return fmt.Errorf("failed to flush %s: %w", c.path, ferr)
	}
	return cerr
}
