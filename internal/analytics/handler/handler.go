// Package handler exposes the guarded analytics endpoints and the
// role-scoped audit read endpoints. Every analytics response goes through
// the enforcement pipeline; every audit read is itself audited.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"edushield/internal/analytics"
	"edushield/internal/audit"
	"edushield/internal/audit/query"
	"edushield/internal/cohort"
	"edushield/internal/export"
	"edushield/internal/piiguard"
	"edushield/internal/pipeline"
	"edushield/internal/principal"
	"edushield/internal/ratelimit/service"
	"edushield/pkg/platform/httputil"
	"edushield/pkg/platform/middleware/rolecheck"
)

// Handler serves the analytics and audit endpoints.
type Handler struct {
	provider analytics.Provider
	pipeline *pipeline.Pipeline
	recorder *audit.Recorder
	query    *query.Service
	exports  *export.Guard
	logger   *slog.Logger
}

// New wires the handler and its enforcement pipeline.
func New(
	provider analytics.Provider,
	limiter *service.Service,
	cohortGuard *cohort.Guard,
	piiGuard *piiguard.Guard,
	recorder *audit.Recorder,
	querySvc *query.Service,
	exportGuard *export.Guard,
	logger *slog.Logger,
) *Handler {
	h := &Handler{
		provider: provider,
		recorder: recorder,
		query:    querySvc,
		exports:  exportGuard,
		logger:   logger,
	}
	h.pipeline = pipeline.New(recorder, logger,
		pipeline.RateLimitStage(limiter),
		pipeline.FetchStage(h.fetch),
		pipeline.CohortStage(cohortGuard),
		pipeline.PIIStage(piiGuard),
	)
	return h
}

// Register mounts the routes. Authentication and client metadata middleware
// must already be installed on the parent router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(rolecheck.Require(principal.RoleAdmin, h.logger, h.recordDenied))
		r.Get("/analytics/overview", h.overview)
		r.Get("/analytics/course/{courseID}", h.courseDetail)
		r.Get("/analytics/timeseries", h.timeseries)
		r.Get("/audit/summary", h.auditSummary)
	})
	r.Route("/root/audit", func(r chi.Router) {
		r.Use(rolecheck.Require(principal.RoleRoot, h.logger, h.recordDenied))
		r.Get("/logs", h.auditLogs)
		r.Get("/export", h.auditExport)
	})
}

func (h *Handler) recordDenied(r *http.Request, p principal.Principal, required principal.Role) {
	h.recorder.Record(r.Context(), audit.Event{
		Endpoint:      r.URL.Path,
		Action:        audit.ActionAccessDenied,
		Method:        r.Method,
		PrincipalID:   p.ID,
		PrincipalRole: string(p.Role),
		Success:       false,
		Metadata: map[string]any{
			audit.MetaReason: "insufficient role",
			"required_role":  string(required),
		},
	})
}

func (h *Handler) fetch(ctx context.Context, ex *pipeline.Exchange) (any, error) {
	switch ex.Action {
	case audit.ActionViewCourseDetail:
		courseID, _ := ex.Params["course_id"].(string)
		return h.provider.CourseDetail(ctx, courseID)
	case audit.ActionViewTimeseries:
		window, _ := ex.Params["window"].(string)
		return h.provider.Timeseries(ctx, window)
	default:
		return h.provider.Overview(ctx)
	}
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	h.serveAnalytics(w, r, audit.ActionViewDashboard, map[string]any{})
}

func (h *Handler) courseDetail(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	h.serveAnalytics(w, r, audit.ActionViewCourseDetail, map[string]any{
		"course_id": courseID,
	})
}

func (h *Handler) timeseries(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("window")
	if window == "" {
		window = "7d"
	}
	h.serveAnalytics(w, r, audit.ActionViewTimeseries, map[string]any{
		"window": window,
	})
}

func (h *Handler) serveAnalytics(w http.ResponseWriter, r *http.Request, action string, params map[string]any) {
	p, _ := principal.FromContext(r.Context())
	ex := &pipeline.Exchange{
		Principal: p,
		Endpoint:  r.URL.Path,
		Method:    r.Method,
		Action:    action,
		Params:    params,
	}
	payload, err := h.pipeline.Run(r.Context(), ex)
	if err != nil {
		h.writePipelineError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, payload)
}

func (h *Handler) writePipelineError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *pipeline.RateLimitedError:
		w.Header().Set("Retry-After", strconv.Itoa(e.Result.RetryAfter))
		httputil.WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "")
	case *pipeline.PIIBlockedError:
		httputil.WriteJSON(w, http.StatusForbidden, map[string]any{
			"success": false,
			"error":   "privacy_violation",
			"message": e.Error(),
		})
	default:
		if analytics.IsNotFound(err) {
			httputil.WriteError(w, http.StatusNotFound, "not_found", "course not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func (h *Handler) auditSummary(w http.ResponseWriter, r *http.Request) {
	p, _ := principal.FromContext(r.Context())
	summary, err := h.query.Summarize(r.Context(), p, r.URL.Query().Get("window"))
	if err != nil {
		h.writeQueryError(w, err)
		return
	}

	exportCapability := "not_available"
	if p.Role.AtLeast(principal.RoleRoot) {
		exportCapability = "available"
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"message":           "Privacy enforcement audit summary",
		"viewer_role":       string(p.Role),
		"access_level":      "aggregate_only",
		"statistics":        summary,
		"notice":            "Aggregate statistics only. For full audit logs, root access required.",
		"export_capability": exportCapability,
	})
}

func (h *Handler) auditLogs(w http.ResponseWriter, r *http.Request) {
	p, _ := principal.FromContext(r.Context())
	q := r.URL.Query()

	now := time.Now().UTC()
	startDate := q.Get("startDate")
	if startDate == "" {
		startDate = now.AddDate(0, 0, -7).Format("2006-01-02")
	}
	endDate := q.Get("endDate")
	if endDate == "" {
		endDate = now.Format("2006-01-02")
	}
	start, end, err := query.DayRange(startDate, endDate)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	filters := query.Filters{
		Start:    start,
		End:      end,
		Endpoint: q.Get("endpoint"),
		Action:   q.Get("action"),
	}
	if s := q.Get("success"); s != "" {
		success := s == "true"
		filters.Success = &success
	}
	if limit := q.Get("limit"); limit != "" {
		filters.Limit, _ = strconv.Atoi(limit)
	}
	if offset := q.Get("offset"); offset != "" {
		filters.Offset, _ = strconv.Atoi(offset)
	}

	result, err := h.query.Query(r.Context(), p, filters)
	if err != nil {
		h.writeQueryError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"message":           "Audit logs retrieved",
		"viewer_role":       string(p.Role),
		"access_level":      "full_compliance",
		"logs":              result.Logs,
		"pagination":        result.Pagination,
		"available_filters": result.Available,
		"privacy_notice":    "Audit logs do not contain student PII or raw analytics payloads",
		"export_available":  true,
		"export_endpoint":   "/root/audit/export",
	})
}

func (h *Handler) auditExport(w http.ResponseWriter, r *http.Request) {
	p, _ := principal.FromContext(r.Context())
	q := r.URL.Query()

	now := time.Now().UTC()
	req := export.Request{
		Format:    q.Get("format"),
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
		Reason:    q.Get("reason"),
		Confirmed: q.Get("confirmed") == "1" || q.Get("confirmed") == "true",
	}
	if req.Format == "" {
		req.Format = export.FormatJSON
	}
	if req.StartDate == "" {
		req.StartDate = now.AddDate(0, 0, -30).Format("2006-01-02")
	}
	if req.EndDate == "" {
		req.EndDate = now.Format("2006-01-02")
	}
	if req.Reason == "" {
		req.Reason = "compliance_review"
	}

	window, err := h.exports.Validate(req)
	if err != nil {
		h.writeExportError(w, err)
		return
	}

	events, total, err := h.query.CollectForExport(r.Context(), window.Start, window.End, h.exports.Limits().MaxEntries)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit export collection failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	if err := h.exports.CheckVolume(total, req.Confirmed); err != nil {
		if confirm, ok := err.(*export.ConfirmationRequired); ok {
			httputil.WriteJSON(w, http.StatusOK, map[string]any{
				"success":               false,
				"confirmation_required": true,
				"message":               "Large export requires confirmation",
				"export_details": map[string]any{
					"entry_count": confirm.EntryCount,
					"date_range":  map[string]string{"start": req.StartDate, "end": req.EndDate},
					"days":        window.Days,
					"format":      req.Format,
					"reason":      req.Reason,
				},
				"to_confirm": "Add parameter: confirmed=1",
			})
			return
		}
		h.writeExportError(w, err)
		return
	}

	h.recorder.RecordExport(r.Context(), audit.Event{
		Endpoint:      r.URL.Path,
		Action:        audit.ActionAuditExport,
		Method:        r.Method,
		PrincipalID:   p.ID,
		PrincipalRole: string(p.Role),
		Success:       true,
		Parameters: map[string]any{
			"format":      req.Format,
			"startDate":   req.StartDate,
			"endDate":     req.EndDate,
			"entry_count": total,
			"reason":      req.Reason,
			"confirmed":   req.Confirmed,
		},
	})

	filename := export.Filename(req.Format, req.StartDate, req.EndDate)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Cache-Control", "no-cache")

	if req.Format == export.FormatCSV {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		if err := export.WriteCSV(w, events); err != nil {
			h.logger.ErrorContext(r.Context(), "csv export write failed", "error", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	meta := export.NewMetadata(p.ID, req.Reason, req.Format,
		export.DateRange{Start: req.StartDate, End: req.EndDate}, len(events))
	if err := export.WriteJSON(w, meta, events); err != nil {
		h.logger.ErrorContext(r.Context(), "json export write failed", "error", err)
	}
}

func (h *Handler) writeQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, query.ErrForbidden) {
		httputil.WriteError(w, http.StatusForbidden, "forbidden", "insufficient role")
		return
	}
	httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "")
}

func (h *Handler) writeExportError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *export.ValidationError:
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Export validation failed",
			"errors":  e.Problems,
		})
	case *export.TooLarge:
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Export validation failed",
			"errors":  []string{e.Error()},
		})
	default:
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
