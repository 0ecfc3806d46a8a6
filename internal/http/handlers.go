package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/memory"
	"github.com/lawbranch/geogate/internal/pipeline"
)

// overlayStages lists the pipeline stages that consume memory overlays.
var overlayStages = map[string]bool{
	"screening":  true,
	"research":   true,
	"validation": true,
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: serviceName})
}

// handleAnalyze runs the full screening pipeline for one feature and
// returns the complete run state, including any absorbed stage failure.
func (s *Server) handleAnalyze(c echo.Context) error {
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid analyze request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.FeatureName) == "" || strings.TrimSpace(req.FeatureDescription) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "feature_name and feature_description are required")
	}

	// Secrets are scrubbed before the content can reach prompts, the
	// vector index, or the audit trail.
	state := pipeline.NewState(req.FeatureName, s.scrubber.Scrub(req.FeatureDescription).Content)
	if req.ContextDocuments != "" {
		state.ContextDocuments = s.scrubber.Scrub(req.ContextDocuments).Content
	}

	state, err := s.runner.Run(c.Request().Context(), state)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, state)
}

// handleFeedback applies a reviewer verdict to a finished run. The
// caller resubmits the trace it got back from analyze; the learning
// stage distills it into memory records and reports what was applied.
func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid feedback request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	state := &pipeline.State{
		SessionID:          req.SessionID,
		FeatureName:        req.FeatureName,
		FeatureDescription: req.FeatureDescription,
		Screening:          req.Screening,
		Research:           req.Research,
		Validation:         req.Validation,
	}
	feedback := pipeline.Feedback{IsCorrect: req.IsCorrect, Notes: req.Notes}

	state, err := s.runner.Learn(c.Request().Context(), state, feedback)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, FeedbackResponse{
		SessionID: state.SessionID,
		Learning:  state.Learning,
	})
}

// handleRun returns the registry snapshot for one run.
func (s *Server) handleRun(c echo.Context) error {
	run, err := s.registry.Get(c.Param("session_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

// handleRunEvents streams a run's lifecycle events as server-sent
// events until the client disconnects. Requires the NATS event bus.
func (s *Server) handleRunEvents(c echo.Context) error {
	sessionID := c.Param("session_id")

	sub, msgs, err := s.registry.Subscribe(sessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	defer func() { _ = sub.Unsubscribe() }()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	s.logger.Debug("event stream opened", zap.String("session_id", sessionID))

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintf(res, "data: %s\n\n", msg.Data); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

// handleMemorySearch lists stored records from one memory namespace,
// most recent first.
func (s *Server) handleMemorySearch(c echo.Context) error {
	namespace := c.QueryParam("namespace")
	if namespace == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "namespace query parameter is required")
	}

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}

	records, err := s.memory.Search(c.Request().Context(), namespace, limit)
	if err != nil {
		s.logger.Error("memory search failed", zap.String("namespace", namespace), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "memory search failed")
	}

	return c.JSON(http.StatusOK, MemorySearchResponse{
		Namespace: namespace,
		Count:     len(records),
		Records:   records,
	})
}

// handleMemoryOverlay renders the learned prompt overlay for a stage.
func (s *Server) handleMemoryOverlay(c echo.Context) error {
	stage := c.Param("stage")
	if !overlayStages[stage] {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("stage must be screening, research, or validation, got %q", stage))
	}

	overlay, err := s.memory.RenderOverlay(c.Request().Context(), stage)
	if err != nil {
		s.logger.Error("overlay rendering failed", zap.String("stage", stage), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "overlay rendering failed")
	}

	return c.JSON(http.StatusOK, OverlayResponse{Stage: stage, Overlay: overlay})
}

// handleMemorySeed bulk-loads glossary terms. Re-posting the same
// catalog is safe; dedup makes it a no-op.
func (s *Server) handleMemorySeed(c echo.Context) error {
	if s.seeder == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "glossary seeding is not configured")
	}

	var req SeedGlossaryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Terms) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "terms are required")
	}

	entries := make([]memory.GlossaryEntry, 0, len(req.Terms))
	for _, term := range req.Terms {
		entries = append(entries, memory.GlossaryEntry{
			Term:      term.Term,
			Expansion: term.Expansion,
			Hints:     term.Hints,
		})
	}

	applied, err := s.seeder.SeedGlossary(c.Request().Context(), entries)
	if err != nil {
		s.logger.Error("glossary seeding failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	s.logger.Info("glossary seeded",
		zap.Int("submitted", len(entries)),
		zap.Int("applied", applied))

	return c.JSON(http.StatusOK, SeedGlossaryResponse{
		Submitted: len(entries),
		Applied:   applied,
	})
}

// handleIngest reindexes the regulation corpus. Long-running; callers
// set their own request timeouts.
func (s *Server) handleIngest(c echo.Context) error {
	if s.ingester == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "ingestion is not configured")
	}

	result, err := s.ingester.Run(c.Request().Context())
	if err != nil {
		s.logger.Error("corpus ingestion failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, result)
}

// httpError maps pipeline error kinds onto transport status codes:
// caller mistakes map to 4xx, dependency failures to 502.
func httpError(err error) *echo.HTTPError {
	switch pipeline.KindOf(err) {
	case pipeline.ErrorKindInput:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case pipeline.ErrorKindPrecondition:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case pipeline.ErrorKindUpstream, pipeline.ErrorKindSchema:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
