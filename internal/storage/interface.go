// Package storage defines the result store shared by the pipeline programs
// and the REST server.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/chrissnell/atmcorr/internal/atmcorr"
	"github.com/chrissnell/atmcorr/internal/tsyscontam"
	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run identifier is not in the store
var ErrRunNotFound = errors.New("run not found")

// Kind names the program that produced a run
type Kind string

const (
	KindModelSearch   Kind = "modelsearch"
	KindContamination Kind = "contamination"
)

// Run is one invocation of a pipeline program
type Run struct {
	ID      uuid.UUID `json:"id" msgpack:"id"`
	Kind    Kind      `json:"kind" msgpack:"kind"`
	Dataset string    `json:"dataset" msgpack:"dataset"`
	Created time.Time `json:"created" msgpack:"created"`
}

// ResultStore persists model decisions and contamination reports per run.
// Records come back in the order they were saved.
type ResultStore interface {
	CreateRun(ctx context.Context, kind Kind, dataset string) (Run, error)
	Runs(ctx context.Context) ([]Run, error)

	SaveDecision(ctx context.Context, run uuid.UUID, d *atmcorr.Decision) error
	Decisions(ctx context.Context, run uuid.UUID) ([]*atmcorr.Decision, error)

	SaveReport(ctx context.Context, run uuid.UUID, r *tsyscontam.Report) error
	Reports(ctx context.Context, run uuid.UUID) ([]*tsyscontam.Report, error)

	// Ping reports whether the backend is reachable
	Ping(ctx context.Context) error
	Close() error
}

// NewRun returns a run with a fresh identifier
func NewRun(kind Kind, dataset string) Run {
	return Run{ID: uuid.New(), Kind: kind, Dataset: dataset, Created: time.Now().UTC()}
}
