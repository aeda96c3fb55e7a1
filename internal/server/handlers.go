package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/fairvalue/internal/domain"
	"github.com/aristath/fairvalue/internal/modules/valuation"
	"github.com/aristath/fairvalue/internal/utils"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "fairvalue",
	})
}

// runRequest is the POST /api/valuations/run payload.
type runRequest struct {
	RunType       string `json:"run_type"`
	TargetID      string `json:"target_id"`
	ValuationDate string `json:"valuation_date"`
	Workers       int    `json:"workers,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`

	BenchmarkCurve    string  `json:"benchmark_curve_name,omitempty"`
	SpreadCurve       *string `json:"spread_curve_name,omitempty"`
	CurveDate         string  `json:"curve_date,omitempty"`
	ReportingCurrency string  `json:"reporting_currency,omitempty"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	valuationDate := time.Now().UTC().Truncate(24 * time.Hour)
	if req.ValuationDate != "" {
		parsed, err := utils.ParseDate(req.ValuationDate)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "valuation_date must be YYYY-MM-DD")
			return
		}
		valuationDate = parsed
	}
	var curveDate time.Time
	if req.CurveDate != "" {
		parsed, err := utils.ParseDate(req.CurveDate)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "curve_date must be YYYY-MM-DD")
			return
		}
		curveDate = parsed
	}

	run, err := s.deps.Orchestrator.Start(valuationRequest(req, valuationDate, curveDate))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Runs.GetRun(chi.URLParam(r, "runID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := s.deps.Runs.GetRun(runID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	results, err := s.deps.Runs.ListResults(runID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  runID,
		"results": results,
	})
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	securityID := chi.URLParam(r, "securityID")
	steps, err := s.deps.Runs.ListSteps(runID, securityID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":      runID,
		"security_id": securityID,
		"steps":       steps,
	})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Bus.Replay(100)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleSaveCurve(w http.ResponseWriter, r *http.Request) {
	var curve domain.Curve
	if err := json.NewDecoder(r.Body).Decode(&curve); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if curve.Name == "" || len(curve.Points) == 0 {
		s.writeError(w, http.StatusBadRequest, "curve requires a name and points")
		return
	}
	if curve.Source == "" {
		curve.Source = domain.CurveSourceManual
	}
	if curve.CurveDate.IsZero() {
		curve.CurveDate = time.Now().UTC().Truncate(24 * time.Hour)
	}

	if err := s.deps.Curves.Save(&curve); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, curve)
}

func (s *Server) handleGetCurve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	asOf, err := dateQuery(r, "date")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	curve, err := s.deps.Curves.GetLatest(name, asOf, nil)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, curve)
}

func (s *Server) handleSaveFxRate(w http.ResponseWriter, r *http.Request) {
	var rate domain.FxRate
	if err := json.NewDecoder(r.Body).Decode(&rate); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if rate.From == "" || rate.To == "" || rate.Rate <= 0 {
		s.writeError(w, http.StatusBadRequest, "fx rate requires from, to, and a positive rate")
		return
	}
	if rate.Source == "" {
		rate.Source = "manual"
	}
	if rate.RateDate.IsZero() {
		rate.RateDate = time.Now().UTC().Truncate(24 * time.Hour)
	}

	if err := s.deps.FxRepo.Save(&rate); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rate)
}

func (s *Server) handleResolveFxRate(w http.ResponseWriter, r *http.Request) {
	from := strings.ToUpper(chi.URLParam(r, "from"))
	to := strings.ToUpper(chi.URLParam(r, "to"))
	asOf, err := dateQuery(r, "date")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	res, err := s.deps.FxService.Resolve(r.Context(), from, to, asOf)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"from":   from,
		"to":     to,
		"date":   utils.FormatDate(asOf),
		"rate":   res.Rate,
		"source": res.Source,
	})
}

func (s *Server) handleCreateSecurity(w http.ResponseWriter, r *http.Request) {
	var sec domain.Security
	if err := json.NewDecoder(r.Body).Decode(&sec); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.deps.Securities.Create(&sec); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sec)
}

func (s *Server) handleGetSecurity(w http.ResponseWriter, r *http.Request) {
	sec, err := s.deps.Securities.GetWithClassification(chi.URLParam(r, "securityID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sec)
}

func (s *Server) handleGetDiscountSpec(w http.ResponseWriter, r *http.Request) {
	spec, err := s.deps.DiscountSpec.GetBySecurity(chi.URLParam(r, "securityID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, spec)
}

func (s *Server) handlePutDiscountSpec(w http.ResponseWriter, r *http.Request) {
	var spec domain.DiscountSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	spec.SecurityID = chi.URLParam(r, "securityID")

	if err := s.deps.DiscountSpec.Upsert(&spec); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, spec)
}

func (s *Server) handleDeleteDiscountSpec(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.DiscountSpec.Delete(chi.URLParam(r, "securityID")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeDomainError maps domain error kinds to HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case domain.IsValidation(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		var curveErr *domain.CurveUnavailableError
		var fxErr *domain.FxUnavailableError
		if errors.As(err, &curveErr) || errors.As(err, &fxErr) {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.log.Error().Err(err).Msg("request failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func valuationRequest(req runRequest, valuationDate, curveDate time.Time) valuation.Request {
	return valuation.Request{
		RunType:           domain.RunType(req.RunType),
		TargetID:          req.TargetID,
		ValuationDate:     valuationDate,
		Workers:           req.Workers,
		CreatedBy:         req.CreatedBy,
		BenchmarkCurve:    req.BenchmarkCurve,
		SpreadCurve:       req.SpreadCurve,
		CurveDate:         curveDate,
		ReportingCurrency: req.ReportingCurrency,
	}
}

func dateQuery(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	return utils.ParseDate(raw)
}
