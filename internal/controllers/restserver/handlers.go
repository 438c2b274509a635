package restserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/chrissnell/atmcorr/internal/atmcorr"
	"github.com/chrissnell/atmcorr/internal/storage"
	"github.com/chrissnell/atmcorr/internal/tsyscontam"
	"github.com/chrissnell/atmcorr/pkg/responseformat"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Handlers contains all HTTP handlers for the REST server
type Handlers struct {
	controller *Controller
	formatter  *responseformat.Formatter
}

// NewHandlers creates a new handlers instance
func NewHandlers(ctrl *Controller) *Handlers {
	return &Handlers{
		controller: ctrl,
		formatter:  responseformat.NewFormatter(),
	}
}

// DecisionsResponse lists the model decisions of one run
type DecisionsResponse struct {
	Run       uuid.UUID           `json:"run"`
	Decisions []*atmcorr.Decision `json:"decisions"`
}

// ContaminationResponse lists the contamination reports of one run
type ContaminationResponse struct {
	Run     uuid.UUID            `json:"run"`
	Reports []*tsyscontam.Report `json:"reports"`
}

// GetHealth reports whether the result store is reachable
func (h *Handlers) GetHealth(w http.ResponseWriter, req *http.Request) {
	if err := h.controller.Store.Ping(req.Context()); err != nil {
		h.controller.logger.Warnf("health check failed: %v", err)
		h.formatter.WriteError(w, http.StatusServiceUnavailable, "result store unavailable")
		return
	}
	h.formatter.WriteResponse(w, req, map[string]string{"status": "ok"}, nil)
}

// GetRuns lists every stored run
func (h *Handlers) GetRuns(w http.ResponseWriter, req *http.Request) {
	runs, err := h.controller.Store.Runs(req.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	h.formatter.WriteResponse(w, req, runs, nil)
}

// GetDecisions returns the model decisions of a run
func (h *Handlers) GetDecisions(w http.ResponseWriter, req *http.Request) {
	run, ok := h.runID(w, req)
	if !ok {
		return
	}
	decisions, err := h.controller.Store.Decisions(req.Context(), run)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.formatter.WriteResponse(w, req, DecisionsResponse{Run: run, Decisions: decisions}, nil)
}

// GetContamination returns the contamination reports of a run. A spw query
// parameter restricts the reports to one window.
func (h *Handlers) GetContamination(w http.ResponseWriter, req *http.Request) {
	reports, run, ok := h.reports(w, req)
	if !ok {
		return
	}
	h.formatter.WriteResponse(w, req, ContaminationResponse{Run: run, Reports: reports}, nil)
}

// GetFlags returns the flag template of a run as plain text
func (h *Handlers) GetFlags(w http.ResponseWriter, req *http.Request) {
	reports, _, ok := h.reports(w, req)
	if !ok {
		return
	}
	var sb strings.Builder
	if err := tsyscontam.WriteFlagTemplate(&sb, reports); err != nil {
		h.formatter.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.formatter.WriteText(w, sb.String())
}

func (h *Handlers) reports(w http.ResponseWriter, req *http.Request) ([]*tsyscontam.Report, uuid.UUID, bool) {
	run, ok := h.runID(w, req)
	if !ok {
		return nil, run, false
	}
	reports, err := h.controller.Store.Reports(req.Context(), run)
	if err != nil {
		h.storeError(w, err)
		return nil, run, false
	}

	if q := req.URL.Query().Get("spw"); q != "" {
		spw, err := strconv.Atoi(q)
		if err != nil {
			h.formatter.WriteError(w, http.StatusBadRequest, "invalid spw")
			return nil, run, false
		}
		var filtered []*tsyscontam.Report
		for _, r := range reports {
			if r.SPW == spw {
				filtered = append(filtered, r)
			}
		}
		reports = filtered
	}
	if reports == nil {
		reports = []*tsyscontam.Report{}
	}
	return reports, run, true
}

func (h *Handlers) runID(w http.ResponseWriter, req *http.Request) (uuid.UUID, bool) {
	run, err := uuid.Parse(mux.Vars(req)["run"])
	if err != nil {
		h.formatter.WriteError(w, http.StatusBadRequest, "invalid run id")
		return uuid.Nil, false
	}
	return run, true
}

func (h *Handlers) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrRunNotFound) {
		h.formatter.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	h.controller.logger.Errorf("result store error: %v", err)
	h.formatter.WriteError(w, http.StatusInternalServerError, "result store error")
}
