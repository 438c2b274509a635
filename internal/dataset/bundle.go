// Package dataset reads exported calibration and measurement-set bundles.
//
// A bundle is a directory holding caltables.msgpack (or caltables.json),
// ms.msgpack and jyperk.json. Any of them may be missing; HasTable reports
// which are present so callers can take the documented fallback instead of
// failing.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/chrissnell/atmcorr/internal/intervals"
	"github.com/chrissnell/atmcorr/internal/source"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/multierr"
)

// Table names a bundle component
type Table string

const (
	TableCal    Table = "caltables"
	TableMS     Table = "ms"
	TableJyPerK Table = "jyperk"
)

// ErrClosed is returned by a bundle used after Close
var ErrClosed = errors.New("dataset bundle is closed")

// ErrNoTable is returned when an operation needs a table the bundle lacks
var ErrNoTable = errors.New("table not in bundle")

// CalTables is the calibration export: per-window opacity and the Tsys
// scans.
type CalTables struct {
	Windows []Window   `json:"windows" msgpack:"windows"`
	Tsys    []TsysScan `json:"tsys" msgpack:"tsys"`
}

// Window is one spectral window of the calibration tables
type Window struct {
	SPW  int       `json:"spw" msgpack:"spw"`
	Freq []float64 `json:"freq" msgpack:"freq"` // GHz

	// Tau is the zenith opacity from the ATM calibration
	Tau      []float64 `json:"tau" msgpack:"tau"`
	ChanMask []bool    `json:"chan_mask,omitempty" msgpack:"chan_mask,omitempty"`

	// Science is the channel range covered by the science windows mapped
	// onto this window
	Science intervals.Set `json:"science,omitempty" msgpack:"science,omitempty"`

	// Lines are known science-target line channels, used to keep emission
	// out of the baseline when there are no on-source integrations
	Lines intervals.Set `json:"lines,omitempty" msgpack:"lines,omitempty"`
}

// Intent tells what a Tsys scan observed
type Intent string

const (
	IntentBandpass Intent = "bandpass"
	IntentScience  Intent = "science"
)

// TsysScan is the Tsys measurement of one antenna and polarization
type TsysScan struct {
	SPW     int       `json:"spw" msgpack:"spw"`
	Field   int       `json:"field" msgpack:"field"`
	Scan    int       `json:"scan" msgpack:"scan"`
	Intent  Intent    `json:"intent" msgpack:"intent"`
	Antenna int       `json:"antenna" msgpack:"antenna"`
	Pol     int       `json:"pol" msgpack:"pol"`
	Start   float64   `json:"start" msgpack:"start"`
	Tsys    []float64 `json:"tsys" msgpack:"tsys"`
	Trec    []float64 `json:"trec,omitempty" msgpack:"trec,omitempty"`
}

// MeasurementSet is the visibility export
type MeasurementSet struct {
	Name   string     `json:"name" msgpack:"name"`
	Fields []Field    `json:"fields" msgpack:"fields"`
	Rows   []OnSource `json:"rows" msgpack:"rows"`
}

// Field is an observed target
type Field struct {
	ID      int      `json:"id" msgpack:"id"`
	Name    string   `json:"name" msgpack:"name"`
	Intents []Intent `json:"intents" msgpack:"intents"`
}

// HasIntent reports whether the field was observed with intent i
func (f Field) HasIntent(i Intent) bool {
	for _, x := range f.Intents {
		if x == i {
			return true
		}
	}
	return false
}

// OnSource holds the on-source integrations of one field and window
type OnSource struct {
	Field        int                  `json:"field" msgpack:"field"`
	SPW          int                  `json:"spw" msgpack:"spw"`
	Integrations []source.Integration `json:"integrations" msgpack:"integrations"`
}

// Bundle is an opened dataset directory. It is released with Close.
type Bundle struct {
	dir    string
	cal    *CalTables
	ms     *MeasurementSet
	jyperk *JyPerKTable
	closed bool
}

// Open loads every table present in dir
func Open(dir string) (*Bundle, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	b := &Bundle{dir: dir}

	var cal CalTables
	ok, err := loadFirst(&cal, filepath.Join(dir, "caltables.msgpack"), filepath.Join(dir, "caltables.json"))
	if err != nil {
		return nil, err
	}
	if ok {
		b.cal = &cal
	}

	var ms MeasurementSet
	ok, err = loadFirst(&ms, filepath.Join(dir, "ms.msgpack"), filepath.Join(dir, "ms.json"))
	if err != nil {
		return nil, err
	}
	if ok {
		b.ms = &ms
	}

	var entries []JyPerKEntry
	ok, err = loadFirst(&entries, filepath.Join(dir, "jyperk.json"))
	if err != nil {
		return nil, err
	}
	if ok {
		b.jyperk = NewJyPerKTable(entries)
	}
	return b, nil
}

// loadFirst decodes the first existing path into v. ok is false when none
// exists.
func loadFirst(v any, paths ...string) (ok bool, err error) {
	for _, p := range paths {
		f, err := os.Open(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return false, err
		}
		err = decode(f, filepath.Ext(p), v)
		err = multierr.Append(err, f.Close())
		if err != nil {
			return false, fmt.Errorf("reading %s: %w", p, err)
		}
		return true, nil
	}
	return false, nil
}

func decode(r io.Reader, ext string, v any) error {
	if ext == ".msgpack" {
		return msgpack.NewDecoder(r).Decode(v)
	}
	return json.NewDecoder(r).Decode(v)
}

// Close releases the bundle's tables
func (b *Bundle) Close() error {
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	b.cal, b.ms, b.jyperk = nil, nil, nil
	return nil
}

// HasTable reports whether the bundle provides table t
func (b *Bundle) HasTable(t Table) bool {
	switch t {
	case TableCal:
		return b.cal != nil
	case TableMS:
		return b.ms != nil
	case TableJyPerK:
		return b.jyperk != nil
	}
	return false
}

// Name is the measurement set name, or the directory name without one
func (b *Bundle) Name() string {
	if b.ms != nil && b.ms.Name != "" {
		return b.ms.Name
	}
	return filepath.Base(b.dir)
}

// SPWs lists the calibration windows in ascending order
func (b *Bundle) SPWs() []int {
	if b.cal == nil {
		return nil
	}
	out := make([]int, 0, len(b.cal.Windows))
	for _, w := range b.cal.Windows {
		out = append(out, w.SPW)
	}
	sort.Ints(out)
	return out
}

// Fields lists the fields observed with intent i, or all fields when i is
// empty.
func (b *Bundle) Fields(i Intent) []Field {
	if b.ms == nil {
		return nil
	}
	var out []Field
	for _, f := range b.ms.Fields {
		if i == "" || f.HasIntent(i) {
			out = append(out, f)
		}
	}
	return out
}

func (b *Bundle) window(spw int) (Window, error) {
	if b.closed {
		return Window{}, ErrClosed
	}
	if b.cal == nil {
		return Window{}, fmt.Errorf("%w: %s", ErrNoTable, TableCal)
	}
	for _, w := range b.cal.Windows {
		if w.SPW == spw {
			return w, nil
		}
	}
	return Window{}, fmt.Errorf("spw %d not in calibration tables", spw)
}
