// Package config loads the pipeline and server configuration.
package config

import (
	"time"

	"github.com/chrissnell/atmcorr/internal/atmcorr"
)

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Search    SearchData    `yaml:"search"`
	Skyline   SkylineData   `yaml:"skyline"`
	Baseline  BaselineData  `yaml:"baseline"`
	Source    SourceData    `yaml:"source"`
	Tsys      TsysData      `yaml:"tsys"`
	Corrector CorrectorData `yaml:"corrector"`
	Storage   StorageData   `yaml:"storage"`
	REST      RESTData      `yaml:"rest"`
	Plots     PlotsData     `yaml:"plots"`
	Debug     bool          `yaml:"debug"`
}

// SearchData holds the model grid and the decision settings
type SearchData struct {
	AtmTypes     IntList   `yaml:"atm_types"`
	MaxAltitudes FloatList `yaml:"max_altitudes"`
	LapseRates   FloatList `yaml:"lapse_rates"`
	ScaleHeights FloatList `yaml:"scale_heights"`

	DecisionMetric   string        `yaml:"decision_metric"`
	DefaultModel     atmcorr.Model `yaml:"default_model"`
	SmoothBox        int           `yaml:"smooth_box"`
	Workers          int           `yaml:"workers"`
	CenterWeight     float64       `yaml:"center_weight"`
	BroadWidthFactor float64       `yaml:"broad_width_factor"`
	ForceMultipleSPW bool          `yaml:"force_multiple_spw"`
}

// SkylineData holds the atmospheric line detection settings
type SkylineData struct {
	FractionLevel  float64      `yaml:"fraction_level"`
	MinPeakLevel   float64      `yaml:"min_peak_level"`
	BorderFraction float64      `yaml:"border_fraction"`
	Baseline       BaselineData `yaml:"baseline"`
}

// BaselineData is a sigma-clipped polynomial fit
type BaselineData struct {
	Degree         int     `yaml:"degree"`
	NClip          int     `yaml:"nclip"`
	LowSigma       float64 `yaml:"low_sigma"`
	HighSigma      float64 `yaml:"high_sigma"`
	BorderFraction float64 `yaml:"border_fraction"`
}

// SourceData holds the science line selection settings
type SourceData struct {
	NClips            int     `yaml:"nclips"`
	NDegree           int     `yaml:"ndegree"`
	ClipSigma         float64 `yaml:"clip_sigma"`
	DetectionSigma    float64 `yaml:"detection_sigma"`
	ExtPenalty        float64 `yaml:"ext_penalty"`
	MaxMaskedFraction float64 `yaml:"max_masked_fraction"`
	AdjacentPad       int     `yaml:"adjacent_pad"`
}

// TsysData holds the contamination classifier settings
type TsysData struct {
	AsymFactor                float64 `yaml:"asym_factor"`
	DetectionSigma            float64 `yaml:"detection_sigma"`
	GrowSigma                 float64 `yaml:"grow_sigma"`
	RelativeDetectionFactor   float64 `yaml:"relative_detection_factor"`
	LargeIntervalWarningLimit float64 `yaml:"large_interval_warning_limit"`
	MaxVelocityWidth          float64 `yaml:"max_velocity_width"`
	COTolerance               float64 `yaml:"co_tolerance"`
	LegendreDegree            int     `yaml:"legendre_degree"`
	MaxEscalations            int     `yaml:"max_escalations"`
}

// CorrectorData configures the external correction command
type CorrectorData struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorageData holds the configuration for the result store backends
type StorageData struct {
	SQLite      *SQLiteData      `yaml:"sqlite,omitempty"`
	TimescaleDB *TimescaleDBData `yaml:"timescaledb,omitempty"`
}

type SQLiteData struct {
	Path string `yaml:"path"`
}

type TimescaleDBData struct {
	ConnectionString string `yaml:"connection_string"`
}

// RESTData configures the result server
type RESTData struct {
	Cert       string `yaml:"cert,omitempty"`
	Key        string `yaml:"key,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// PlotsData enables diagnostic plots when Dir is set
type PlotsData struct {
	Dir string `yaml:"dir,omitempty"`
}
