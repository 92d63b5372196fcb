package recorder

import (
	"errors"

	"github.com/banshee-data/beamalign/internal/scan"
)

type multi []scan.Recorder

// Multi fans a session out to several recorders. Begin stops at the first
// failure after finishing the recorders already begun; Record and Finish
// reach every recorder and join their errors.
func Multi(recs ...scan.Recorder) scan.Recorder {
	var m multi
	for _, r := range recs {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m multi) Begin(s scan.Session) error {
	for i, r := range m {
		if err := r.Begin(s); err != nil {
			for _, begun := range m[:i] {
				_ = begun.Finish(scan.Result{Outcome: scan.Failed, Session: s})
			}
			return err
		}
	}
	return nil
}

func (m multi) Record(p scan.ScanPoint) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.Record(p))
	}
	return errors.Join(errs...)
}

func (m multi) Finish(res scan.Result) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.Finish(res))
	}
	return errors.Join(errs...)
}
