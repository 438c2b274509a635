package dataset

import (
	"gonum.org/v1/gonum/stat"
)

// JyPerKEntry is one row of the Jy/K conversion table
type JyPerKEntry struct {
	MS      string  `json:"ms"`
	SPW     int     `json:"spw"`
	Antenna string  `json:"antenna,omitempty"`
	Pol     string  `json:"pol,omitempty"`
	Factor  float64 `json:"factor"`
}

type gainKey struct {
	ms  string
	spw int
}

// JyPerKTable answers Jy/K lookups. Per-antenna and per-polarization
// factors of a window are averaged.
type JyPerKTable struct {
	factors map[gainKey]float64
}

// NewJyPerKTable indexes the entries. Non-positive factors are ignored.
func NewJyPerKTable(entries []JyPerKEntry) *JyPerKTable {
	grouped := map[gainKey][]float64{}
	for _, e := range entries {
		if e.Factor > 0 {
			k := gainKey{e.MS, e.SPW}
			grouped[k] = append(grouped[k], e.Factor)
		}
	}
	t := &JyPerKTable{factors: make(map[gainKey]float64, len(grouped))}
	for k, fs := range grouped {
		t.factors[k] = stat.Mean(fs, nil)
	}
	return t
}

// JyPerK implements atmcorr.GainTable
func (t *JyPerKTable) JyPerK(ms string, spw int) (float64, bool) {
	f, ok := t.factors[gainKey{ms, spw}]
	return f, ok
}
