// Package atmcorr selects the atmospheric model that best removes skyline
// residuals from single-dish spectra.
package atmcorr

import (
	"errors"
	"fmt"
)

// ErrEmptyGrid is returned when any axis of the model grid has no values
var ErrEmptyGrid = errors.New("model grid has an empty axis")

// Named atmospheric profiles accepted by the correction service
const (
	AtmTropical = iota + 1
	AtmMidLatSummer
	AtmMidLatWinter
	AtmSubarcticSummer
	AtmSubarcticWinter
)

var atmTypeNames = map[int]string{
	AtmTropical:        "tropical",
	AtmMidLatSummer:    "mid-latitude summer",
	AtmMidLatWinter:    "mid-latitude winter",
	AtmSubarcticSummer: "subarctic summer",
	AtmSubarcticWinter: "subarctic winter",
}

// AtmTypeName returns the profile name for t
func AtmTypeName(t int) string {
	if n, ok := atmTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", t)
}

// Model is one atmospheric model candidate
type Model struct {
	AtmType     int     `json:"atm_type" msgpack:"atm_type" yaml:"atm_type"`
	MaxAltitude float64 `json:"max_altitude" msgpack:"max_altitude" yaml:"max_altitude"` // km
	LapseRate   float64 `json:"lapse_rate" msgpack:"lapse_rate" yaml:"lapse_rate"`       // K/km
	ScaleHeight float64 `json:"scale_height" msgpack:"scale_height" yaml:"scale_height"` // km
}

func (m Model) String() string {
	return fmt.Sprintf("atmtype=%d (%s) maxalt=%g lapserate=%g scaleht=%g",
		m.AtmType, AtmTypeName(m.AtmType), m.MaxAltitude, m.LapseRate, m.ScaleHeight)
}

// Validate checks the model against the correction service's domain
func (m Model) Validate() error {
	if m.AtmType < AtmTropical || m.AtmType > AtmSubarcticWinter {
		return fmt.Errorf("atm type %d outside 1..5", m.AtmType)
	}
	if m.MaxAltitude <= 0 {
		return fmt.Errorf("max altitude %g must be positive", m.MaxAltitude)
	}
	if m.ScaleHeight <= 0 {
		return fmt.Errorf("scale height %g must be positive", m.ScaleHeight)
	}
	return nil
}

// DefaultModel is the model applied when no fit can be made
func DefaultModel() Model {
	return Model{AtmType: AtmTropical, MaxAltitude: 120, LapseRate: -5.6, ScaleHeight: 2.0}
}

// Grid holds the values tried along each model axis
type Grid struct {
	AtmTypes     []int     `json:"atm_types" msgpack:"atm_types"`
	MaxAltitudes []float64 `json:"max_altitudes" msgpack:"max_altitudes"`
	LapseRates   []float64 `json:"lapse_rates" msgpack:"lapse_rates"`
	ScaleHeights []float64 `json:"scale_heights" msgpack:"scale_heights"`
}

// DefaultGrid returns the grid searched when none is configured
func DefaultGrid() Grid {
	return Grid{
		AtmTypes:     []int{AtmTropical, AtmMidLatSummer, AtmMidLatWinter, AtmSubarcticSummer},
		MaxAltitudes: []float64{120},
		LapseRates:   []float64{-5.6},
		ScaleHeights: []float64{1.0, 1.5, 2.0, 2.5},
	}
}

// Models expands the grid into its Cartesian product. The atm type is the
// outermost axis, then max altitude, lapse rate and scale height.
func (g Grid) Models() ([]Model, error) {
	if len(g.AtmTypes) == 0 || len(g.MaxAltitudes) == 0 || len(g.LapseRates) == 0 || len(g.ScaleHeights) == 0 {
		return nil, ErrEmptyGrid
	}
	models := make([]Model, 0, len(g.AtmTypes)*len(g.MaxAltitudes)*len(g.LapseRates)*len(g.ScaleHeights))
	for _, at := range g.AtmTypes {
		for _, alt := range g.MaxAltitudes {
			for _, lr := range g.LapseRates {
				for _, sh := range g.ScaleHeights {
					models = append(models, Model{AtmType: at, MaxAltitude: alt, LapseRate: lr, ScaleHeight: sh})
				}
			}
		}
	}
	return models, nil
}

// FieldSPW keys per-field, per-spectral-window results
type FieldSPW struct {
	Field int `json:"field" msgpack:"field"`
	SPW   int `json:"spw" msgpack:"spw"`
}

func (k FieldSPW) String() string {
	return fmt.Sprintf("field=%d spw=%d", k.Field, k.SPW)
}
