package atmcorr

import "context"

// CorrectionRequest asks the correction service to apply one model to one
// spectral window of a dataset.
type CorrectionRequest struct {
	Dataset    string  `json:"dataset"`
	Field      int     `json:"field"`
	SPW        int     `json:"spw"`
	Model      Model   `json:"model"`
	GainFactor float64 `json:"gain_factor"`
}

// Corrected holds the time-averaged corrected spectra of one spectral
// window, one row per polarization.
type Corrected struct {
	Freq  []float64   `json:"freq"`
	Data  [][]float64 `json:"data"`
	Sigma [][]float64 `json:"sigma,omitempty"`
	Mask  [][]bool    `json:"mask,omitempty"`
}

// Corrector applies an atmospheric model to a dataset
type Corrector interface {
	Correct(ctx context.Context, req CorrectionRequest) (*Corrected, error)
}

// GainTable looks up the Jy/K conversion factor of a dataset and spectral
// window. ok is false when the table has no entry.
type GainTable interface {
	JyPerK(dataset string, spw int) (factor float64, ok bool)
}
