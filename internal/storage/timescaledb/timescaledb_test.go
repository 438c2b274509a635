package timescaledb

import (
	"testing"

	"github.com/chrissnell/atmcorr/internal/database"
	"github.com/chrissnell/atmcorr/internal/storage"
)

func TestRunRecordRoundTrip(t *testing.T) {
	run := storage.NewRun(storage.KindContamination, "uid___A002_X3")
	got, err := fromRunRecord(*runRecord(run))
	if err != nil {
		t.Fatalf("fromRunRecord() error: %v", err)
	}
	if got.ID != run.ID || got.Kind != run.Kind || got.Dataset != run.Dataset || !got.Created.Equal(run.Created) {
		t.Errorf("round trip = %+v, expected %+v", got, run)
	}
}

func TestFromRunRecordBadID(t *testing.T) {
	if _, err := fromRunRecord(database.RunRecord{ID: "not-a-uuid"}); err == nil {
		t.Error("expected an error for a malformed run id")
	}
}
