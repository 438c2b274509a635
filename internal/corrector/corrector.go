// Package corrector runs the external atmospheric correction command.
//
// The command receives one atmcorr.CorrectionRequest as JSON on stdin and
// writes one atmcorr.Corrected as JSON on stdout. Channels it cannot
// correct are reported through the mask, since JSON has no NaN.
package corrector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chrissnell/atmcorr/internal/atmcorr"
	"go.uber.org/zap"
)

// ErrNoCommand is returned by New without a command
var ErrNoCommand = errors.New("no correction command configured")

// Options describes the command to run
type Options struct {
	Command string
	Args    []string

	// Env is appended to the current environment
	Env []string

	// Timeout bounds each call; zero means no limit beyond the context
	Timeout time.Duration
}

// Exec is an atmcorr.Corrector backed by a subprocess per call
type Exec struct {
	opts   Options
	logger *zap.SugaredLogger
}

var _ atmcorr.Corrector = (*Exec)(nil)

// New checks that the command can be found
func New(opts Options, logger *zap.SugaredLogger) (*Exec, error) {
	if opts.Command == "" {
		return nil, ErrNoCommand
	}
	path, err := exec.LookPath(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("correction command: %w", err)
	}
	opts.Command = path
	return &Exec{opts: opts, logger: logger}, nil
}

// Correct runs the command once for req
func (e *Exec) Correct(ctx context.Context, req atmcorr.CorrectionRequest) (*atmcorr.Corrected, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	in, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding correction request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.opts.Command, e.opts.Args...)
	cmd.Env = append(os.Environ(), e.opts.Env...)
	cmd.Stdin = bytes.NewReader(in)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("correction of spw %d (%v): %w", req.SPW, req.Model, ctx.Err())
		}
		return nil, fmt.Errorf("correction of spw %d (%v) failed: %w\n%s", req.SPW, req.Model, err,
			strings.TrimSpace(stderr.String()))
	}
	e.logger.Debugf("corrected spw %d with %v in %v", req.SPW, req.Model, time.Since(start))

	var out atmcorr.Corrected
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("decoding corrected spectra of spw %d: %w", req.SPW, err)
	}
	if err := validate(&out); err != nil {
		return nil, fmt.Errorf("corrected spectra of spw %d: %w", req.SPW, err)
	}
	return &out, nil
}

func validate(c *atmcorr.Corrected) error {
	if len(c.Data) == 0 {
		return errors.New("no polarizations")
	}
	n := len(c.Data[0])
	for p, row := range c.Data {
		if len(row) != n {
			return fmt.Errorf("polarization %d has %d channels, expected %d", p, len(row), n)
		}
	}
	if c.Freq != nil && len(c.Freq) != n {
		return fmt.Errorf("%d frequencies for %d channels", len(c.Freq), n)
	}
	if c.Sigma != nil && len(c.Sigma) != len(c.Data) {
		return fmt.Errorf("sigma has %d polarizations, data has %d", len(c.Sigma), len(c.Data))
	}
	if c.Mask != nil && len(c.Mask) != len(c.Data) {
		return fmt.Errorf("mask has %d polarizations, data has %d", len(c.Mask), len(c.Data))
	}
	return nil
}
