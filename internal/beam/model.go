// Package beam sizes the alignment scan from Gaussian-beam optics: the spot
// grows from its waist with link distance, and consecutive scan samples are
// spaced so they overlap the spot.
package beam

import "math"

// Defaults for the 1550 nm terminal laser.
const (
	DefaultWaist0      = 0.017   // initial beam waist, m
	DefaultWavelength  = 1.55e-6 // m
	DefaultScaleFactor = 0.4
)

// Model describes the transmitted beam.
type Model struct {
	Waist0      float64 `json:"waist0"`
	Wavelength  float64 `json:"wavelength"`
	ScaleFactor float64 `json:"scale_factor"`
}

// DefaultModel returns the terminal's beam parameters.
func DefaultModel() Model {
	return Model{
		Waist0:      DefaultWaist0,
		Wavelength:  DefaultWavelength,
		ScaleFactor: DefaultScaleFactor,
	}
}

// RayleighRange is the distance over which the beam stays near its waist.
func (m Model) RayleighRange() float64 {
	return math.Pi * m.Waist0 * m.Waist0 / m.Wavelength
}

// Radius is the beam radius at distance z.
func (m Model) Radius(z float64) float64 {
	r := z / m.RayleighRange()
	return m.Waist0 * math.Sqrt(1+r*r)
}

// Resolution returns the scan step, in metres at the receiver, for a link of
// length rangeM: the beam radius there scaled by ScaleFactor.
func (m Model) Resolution(rangeM float64) float64 {
	return m.ScaleFactor * m.Radius(rangeM)
}
