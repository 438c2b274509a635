package storage

import (
	"fmt"

	"github.com/chrissnell/atmcorr/internal/atmcorr"
	"github.com/chrissnell/atmcorr/internal/tsyscontam"
	"github.com/vmihailenco/msgpack/v5"
)

// Payloads are stored as MessagePack, which keeps NaN metric values intact.

func EncodeDecision(d *atmcorr.Decision) ([]byte, error) {
	b, err := msgpack.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding decision for field %d: %w", d.Field, err)
	}
	return b, nil
}

func DecodeDecision(b []byte) (*atmcorr.Decision, error) {
	var d atmcorr.Decision
	if err := msgpack.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decoding decision: %w", err)
	}
	return &d, nil
}

func EncodeReport(r *tsyscontam.Report) ([]byte, error) {
	b, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding report for spw %d field %d: %w", r.SPW, r.Field, err)
	}
	return b, nil
}

func DecodeReport(b []byte) (*tsyscontam.Report, error) {
	var r tsyscontam.Report
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &r, nil
}
