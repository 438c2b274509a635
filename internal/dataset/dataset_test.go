package dataset

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/chrissnell/atmcorr/internal/intervals"
	"github.com/chrissnell/atmcorr/internal/source"
	"github.com/vmihailenco/msgpack/v5"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeMsgpack(t *testing.T, path string, v any) {
	t.Helper()
	b, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func testBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeMsgpack(t, filepath.Join(dir, "caltables.msgpack"), CalTables{
		Windows: []Window{
			{
				SPW:     19,
				Freq:    []float64{230.0, 230.1, 230.2, 230.3},
				Tau:     []float64{0.1, 0.2, 0.3, 0},
				Science: intervals.Set{{Start: 1, End: 2}},
				Lines:   intervals.Set{{Start: 2, End: 2}},
			},
			{SPW: 17, Freq: []float64{1, 2}, Tau: []float64{0.1, 0.1}},
		},
		Tsys: []TsysScan{
			{SPW: 19, Field: 0, Scan: 2, Intent: IntentBandpass, Tsys: []float64{100, 100, 100, 100}},
			{SPW: 19, Field: 0, Scan: 2, Intent: IntentBandpass, Antenna: 1, Tsys: []float64{110, 120, 130, 140}},
			{SPW: 19, Field: 3, Scan: 9, Intent: IntentScience, Start: 50, Tsys: []float64{90, 90, 90, 90}, Trec: []float64{40, 40, 40, 40}},
			{SPW: 19, Field: 3, Scan: 5, Intent: IntentScience, Start: 10, Tsys: []float64{70, math.Inf(1), 80, 90}, Trec: []float64{40, 40, 40, 40}},
			{SPW: 19, Field: 4, Scan: 7, Intent: IntentScience, Tsys: []float64{1, 1, 1, 1}},
		},
	})
	writeMsgpack(t, filepath.Join(dir, "ms.msgpack"), MeasurementSet{
		Name: "uid___A002_X1.ms",
		Fields: []Field{
			{ID: 0, Name: "J1924-2914", Intents: []Intent{IntentBandpass}},
			{ID: 3, Name: "NGC253", Intents: []Intent{IntentScience}},
		},
		Rows: []OnSource{
			{Field: 3, SPW: 19, Integrations: []source.Integration{{Time: 12, Data: []float64{1, 2, 3, 4}}}},
			{Field: 3, SPW: 17, Integrations: []source.Integration{{Time: 12, Data: []float64{1, 2}}}},
		},
	})
	writeJSON(t, filepath.Join(dir, "jyperk.json"), []JyPerKEntry{
		{MS: "uid___A002_X1.ms", SPW: 19, Antenna: "DA41", Factor: 40},
		{MS: "uid___A002_X1.ms", SPW: 19, Antenna: "DA42", Factor: 44},
		{MS: "uid___A002_X1.ms", SPW: 17, Factor: 0},
	})
	return dir
}

func TestOpenBundle(t *testing.T) {
	b, err := Open(testBundle(t))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer b.Close()

	for _, tbl := range []Table{TableCal, TableMS, TableJyPerK} {
		if !b.HasTable(tbl) {
			t.Errorf("HasTable(%s) = false", tbl)
		}
	}
	if b.Name() != "uid___A002_X1.ms" {
		t.Errorf("Name() = %q", b.Name())
	}
	if spws := b.SPWs(); len(spws) != 2 || spws[0] != 17 || spws[1] != 19 {
		t.Errorf("SPWs() = %v", spws)
	}
	if f := b.Fields(IntentScience); len(f) != 1 || f[0].ID != 3 {
		t.Errorf("Fields(science) = %v", f)
	}

	g := b.Gains()
	if f, ok := g.JyPerK("uid___A002_X1.ms", 19); !ok || math.Abs(f-42) > 1e-12 {
		t.Errorf("JyPerK(spw 19) = (%v, %v), expected 42", f, ok)
	}
	if _, ok := g.JyPerK("uid___A002_X1.ms", 17); ok {
		t.Error("a zero factor should not count as an entry")
	}
}

func TestSetup(t *testing.T) {
	b, err := Open(testBundle(t))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	s, err := b.Setup(3, 19)
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if s.NChan() != 4 || len(s.Integrations) != 1 || len(s.Segments) != 2 {
		t.Errorf("setup = %+v", s)
	}
	want := []bool{false, false, true, false}
	for i := range want {
		if s.ScienceMask[i] != want[i] {
			t.Errorf("science mask = %v, expected %v", s.ScienceMask, want)
			break
		}
	}

	if _, err := b.Setup(3, 25); err == nil {
		t.Error("expected an error for an unknown spw")
	}
}

func TestTsysInput(t *testing.T) {
	b, err := Open(testBundle(t))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	in, err := b.TsysInput(3, 19)
	if err != nil {
		t.Fatalf("TsysInput() error: %v", err)
	}

	wantBP := []float64{105, 110, 115, 120}
	wantSrc := []float64{80, 90, 85, 90}
	wantMin := []float64{70, 90, 80, 90}
	for i := range wantBP {
		if in.Bandpass[i] != wantBP[i] || in.Source[i] != wantSrc[i] || in.MinScience[i] != wantMin[i] {
			t.Fatalf("channel %d: bandpass %v source %v min %v", i, in.Bandpass[i], in.Source[i], in.MinScience[i])
		}
	}
	if len(in.Scans) != 2 || in.Scans[0] != 5 || in.Scans[1] != 9 {
		t.Errorf("scans = %v, expected [5 9]", in.Scans)
	}
	if math.Abs(in.Atm[1]-math.Exp(-0.2)) > 1e-12 || in.Atm[3] != 1 {
		t.Errorf("atm = %v", in.Atm)
	}
	if !in.Science.Equal(intervals.Set{{Start: 1, End: 2}}) {
		t.Errorf("science = %v", in.Science)
	}

	if _, err := b.TsysInput(0, 17); err == nil {
		t.Error("expected an error without Tsys scans")
	}
}

func TestMissingTables(t *testing.T) {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if b.HasTable(TableCal) || b.HasTable(TableMS) || b.HasTable(TableJyPerK) {
		t.Error("empty bundle reports tables")
	}
	if _, err := b.Setup(0, 19); !errors.Is(err, ErrNoTable) {
		t.Errorf("Setup() error = %v, expected ErrNoTable", err)
	}
	if _, ok := b.Gains().JyPerK("x", 19); ok {
		t.Error("empty gain table returned a factor")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := b.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() = %v, expected ErrClosed", err)
	}
	if _, err := b.Setup(0, 19); !errors.Is(err, ErrClosed) {
		t.Errorf("Setup() after Close = %v, expected ErrClosed", err)
	}
}

func TestOpenRejectsCorruptTable(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "jyperk.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir); err == nil {
		t.Error("expected an error for a corrupt table")
	}
}
