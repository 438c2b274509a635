package atmcorr

import (
	"math"

	"github.com/chrissnell/atmcorr/internal/metric"
	"github.com/chrissnell/atmcorr/internal/skyline"
)

// FitStatus tells how the decision's model was chosen
type FitStatus string

const (
	FitStatusBest    FitStatus = "bestfitmodel"
	FitStatusDefault FitStatus = "defaultmodel"
)

// Reasons recorded with a default-model decision
const (
	ReasonNoSkylines    = "no skylines detected"
	ReasonNoGainFactor  = "no Jy/K factor"
	ReasonAllCandidates = "decision metric unavailable for every candidate"
)

// SPWMetrics holds every metric of one candidate on one spectral window
type SPWMetrics struct {
	SPW     int                           `json:"spw" msgpack:"spw"`
	Metrics map[metric.Type]metric.Result `json:"metrics" msgpack:"metrics"`
	Error   string                        `json:"error,omitempty" msgpack:"error,omitempty"`
}

// CandidateMetrics is one row of the metrics table
type CandidateMetrics struct {
	Index int          `json:"index" msgpack:"index"`
	Model Model        `json:"model" msgpack:"model"`
	SPWs  []SPWMetrics `json:"spws" msgpack:"spws"`

	// Decision is the decision metric combined over the processed windows
	Decision metric.Result `json:"decision" msgpack:"decision"`
}

// Decision is the model-decision record of one field
type Decision struct {
	Dataset        string              `json:"dataset" msgpack:"dataset"`
	Field          int                 `json:"field" msgpack:"field"`
	Best           Model               `json:"best_model" msgpack:"best_model"`
	BestIndex      int                 `json:"best_index" msgpack:"best_index"`
	Models         []Model             `json:"all_models" msgpack:"all_models"`
	Metrics        []CandidateMetrics  `json:"metrics" msgpack:"metrics"`
	DecisionMetric metric.Type         `json:"decision_metric" msgpack:"decision_metric"`
	FitStatus      FitStatus           `json:"fit_status" msgpack:"fit_status"`
	Reason         string              `json:"reason,omitempty" msgpack:"reason,omitempty"`
	SPWsProcessed  []int               `json:"spws_processed" msgpack:"spws_processed"`
	LineIDs        []skyline.Selection `json:"metric_line_ids" msgpack:"metric_line_ids"`
}

// Keys returns the (field, spw) keys the decision covers
func (d *Decision) Keys() []FieldSPW {
	keys := make([]FieldSPW, 0, len(d.SPWsProcessed))
	for _, spw := range d.SPWsProcessed {
		keys = append(keys, FieldSPW{Field: d.Field, SPW: spw})
	}
	return keys
}

func nanMetrics() map[metric.Type]metric.Result {
	out := make(map[metric.Type]metric.Result, len(metric.All))
	for _, t := range metric.All {
		out[t] = metric.Unavailable()
	}
	return out
}

// combine sums the decision metric over windows, adding errors in
// quadrature. Windows without a value are skipped.
func combine(rows []SPWMetrics, t metric.Type) metric.Result {
	var sum, e2 float64
	found := false
	for _, r := range rows {
		v, ok := r.Metrics[t]
		if !ok || !v.Available() {
			continue
		}
		found = true
		sum += v.Value
		e2 += v.Error * v.Error
	}
	if !found {
		return metric.Unavailable()
	}
	return metric.Result{Value: sum, Error: math.Sqrt(e2)}
}

// argmin returns the index of the smallest available decision value; the
// earliest candidate wins ties. ok is false when none is available.
func argmin(rows []CandidateMetrics) (best int, ok bool) {
	best = -1
	for i, r := range rows {
		if !r.Decision.Available() {
			continue
		}
		if best < 0 || r.Decision.Value < rows[best].Decision.Value {
			best = i
		}
	}
	return best, best >= 0
}
