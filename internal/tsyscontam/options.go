package tsyscontam

import (
	"github.com/chrissnell/atmcorr/internal/baseline"
	"github.com/chrissnell/atmcorr/internal/skyline"
)

// Trigger escalates to the rich model when more than Fraction of the
// channels lie beyond Sigma × sigma.
type Trigger struct {
	Sigma    float64 `yaml:"sigma"`
	Fraction float64 `yaml:"fraction"`
}

// Options parameterizes the classifier
type Options struct {
	// AsymFactor weights negative residuals of the simple fit
	AsymFactor float64

	ClipSigma  float64
	ClipPasses int

	// DetectionSigma overrides the channel-count dependent detection limit
	// when positive
	DetectionSigma float64

	// GrowSigma is the level down to which a detection is widened
	GrowSigma float64

	// RelativeDetectionFactor × median(min science) is the smallest
	// peak-to-peak residual treated as contamination
	RelativeDetectionFactor float64

	// LargeIntervalWarningLimit is the fraction of the window above which a
	// line is demoted
	LargeIntervalWarningLimit float64

	// MaxVelocityWidth in km/s above which a line is demoted
	MaxVelocityWidth float64

	// COTolerance in GHz around the CO rest frequencies
	COTolerance float64

	// LegendreDegree is the starting degree of the rich model baseline
	LegendreDegree int
	MaxEscalations int

	Triggers []Trigger

	// AtmProminence is the smallest tau depth of a prominent ATM line
	AtmProminence float64
	AtmLines      skyline.Options

	// Peaks detects features in the individual normalized spectra
	Peaks skyline.Options

	// RepeatedWidthRatio bounds the width mismatch of a repeated peak and
	// ProminenceMismatch the relative prominence difference tolerated
	// without a warning
	RepeatedWidthRatio float64
	ProminenceMismatch float64

	// WeakAmplitudeSigma is the Gaussian amplitude (in sigma) below which a
	// fitted line is only a possible line
	WeakAmplitudeSigma float64

	// MinSigma floors the residual sigma
	MinSigma float64

	// MaxEvaluations bounds each Nelder-Mead minimization
	MaxEvaluations int
}

// DefaultOptions returns the classifier settings used by the pipeline
func DefaultOptions() Options {
	peaks := skyline.DefaultOptions()
	peaks.MinPeakLevel = 0.01

	atm := skyline.DefaultOptions()
	atm.Baseline = baseline.ClipOptions{Degree: 1, NClip: 5, LowSigma: 3, HighSigma: 2}

	return Options{
		AsymFactor:                0.1,
		ClipSigma:                 3,
		ClipPasses:                3,
		GrowSigma:                 1,
		RelativeDetectionFactor:   0.005,
		LargeIntervalWarningLimit: 0.3,
		MaxVelocityWidth:          520,
		COTolerance:               0.05,
		LegendreDegree:            1,
		MaxEscalations:            2,
		Triggers: []Trigger{
			{Sigma: 1, Fraction: 0.5},
			{Sigma: 3, Fraction: 0.4},
			{Sigma: 5, Fraction: 0.2},
		},
		AtmProminence:      0.02,
		AtmLines:           atm,
		Peaks:              peaks,
		RepeatedWidthRatio: 2,
		ProminenceMismatch: 0.3,
		WeakAmplitudeSigma: 3,
		MinSigma:           1e-6,
		MaxEvaluations:     20000,
	}
}

// DetectionLimit is the detection threshold in sigma for a window of
// nchan channels.
func DetectionLimit(nchan int) float64 {
	return (6.0-5.0)/(4096.0-128.0)*float64(nchan-128) + 5.0
}

// CORestFrequencies are the 12CO rotational lines in GHz (J=1-0 to 8-7)
var CORestFrequencies = []float64{
	115.2712018,
	230.538,
	345.7959899,
	461.0407682,
	576.2679305,
	691.4730763,
	806.651806,
	921.7997,
}

// speedOfLight in km/s
const speedOfLight = 299792.458
