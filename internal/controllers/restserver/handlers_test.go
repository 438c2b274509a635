package restserver

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/chrissnell/atmcorr/internal/atmcorr"
	"github.com/chrissnell/atmcorr/internal/intervals"
	"github.com/chrissnell/atmcorr/internal/log"
	"github.com/chrissnell/atmcorr/internal/metric"
	"github.com/chrissnell/atmcorr/internal/storage"
	"github.com/chrissnell/atmcorr/internal/storage/sqlite"
	"github.com/chrissnell/atmcorr/internal/tsyscontam"
	"github.com/chrissnell/atmcorr/pkg/config"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

type fixture struct {
	handler http.Handler
	search  storage.Run
	contam  storage.Run
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, ":memory:", log.Nop())
	if err != nil {
		t.Fatalf("sqlite.New() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	search, err := store.CreateRun(ctx, storage.KindModelSearch, "uid___A002_X1")
	if err != nil {
		t.Fatal(err)
	}
	d := &atmcorr.Decision{
		Dataset:   "uid___A002_X1",
		Field:     1,
		Best:      atmcorr.DefaultModel(),
		BestIndex: -1,
		FitStatus: atmcorr.FitStatusDefault,
		Reason:    atmcorr.ReasonNoSkylines,
		Metrics:   []atmcorr.CandidateMetrics{{Model: atmcorr.DefaultModel(), Decision: metric.Unavailable()}},
	}
	if err := store.SaveDecision(ctx, search.ID, d); err != nil {
		t.Fatal(err)
	}

	contam, err := store.CreateRun(ctx, storage.KindContamination, "uid___A002_X1")
	if err != nil {
		t.Fatal(err)
	}
	for _, spw := range []int{17, 19} {
		r := &tsyscontam.Report{
			SPW:   spw,
			Field: 2,
			Scans: []int{4},
			Intervals: map[tsyscontam.Label]intervals.Set{
				tsyscontam.LabelLine: {{Start: 10, End: 20}},
			},
			Residual: tsyscontam.Series{0, math.NaN()},
		}
		if err := store.SaveReport(ctx, contam.ID, r); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	ctrl, err := NewController(ctx, &wg, config.RESTData{}, store, log.Nop())
	if err != nil {
		t.Fatalf("NewController() error: %v", err)
	}
	return fixture{handler: ctrl.Server.Handler, search: search, contam: contam}
}

func (f fixture) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusCodes(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		path string
		want int
	}{
		{"/api/health", http.StatusOK},
		{"/api/runs", http.StatusOK},
		{"/api/runs/" + f.search.ID.String() + "/decisions", http.StatusOK},
		{"/api/runs/" + f.contam.ID.String() + "/contamination", http.StatusOK},
		{"/api/runs/" + f.contam.ID.String() + "/flags", http.StatusOK},
		{"/api/runs/not-a-uuid/decisions", http.StatusBadRequest},
		{"/api/runs/" + uuid.NewString() + "/decisions", http.StatusNotFound},
		{"/api/runs/" + f.contam.ID.String() + "/contamination?spw=x", http.StatusBadRequest},
		{"/api/nothing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := f.get(tt.path).Code; got != tt.want {
				t.Errorf("GET %s = %d, expected %d", tt.path, got, tt.want)
			}
		})
	}
}

func TestGetDecisionsJSON(t *testing.T) {
	f := newFixture(t)
	rec := f.get("/api/runs/" + f.search.ID.String() + "/decisions")
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var resp DecisionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v\n%s", err, rec.Body.String())
	}
	if resp.Run != f.search.ID || len(resp.Decisions) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	d := resp.Decisions[0]
	if d.FitStatus != atmcorr.FitStatusDefault || d.Metrics[0].Decision.Available() {
		t.Errorf("decision = %+v", d)
	}
}

func TestGetContaminationFilterAndMsgpack(t *testing.T) {
	f := newFixture(t)
	rec := f.get("/api/runs/" + f.contam.ID.String() + "/contamination?spw=19&format=msgpack")
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-msgpack" {
		t.Fatalf("content type = %q", ct)
	}
	var resp ContaminationResponse
	dec := msgpack.NewDecoder(rec.Body)
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Reports) != 1 || resp.Reports[0].SPW != 19 {
		t.Errorf("reports = %+v", resp.Reports)
	}
}

func TestGetFlags(t *testing.T) {
	f := newFixture(t)
	rec := f.get("/api/runs/" + f.contam.ID.String() + "/flags")
	body := rec.Body.String()
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
	for _, want := range []string{
		"# field 2 spw 17\n",
		"mode='manual' scan='4' spw='17:10~20' reason='Tsys:tsysflag_tsys_channel'\n",
		"spw='19:10~20'",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("flags body %q does not contain %q", body, want)
		}
	}
}
