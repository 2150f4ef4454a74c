package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"StoryRisk/internal/domain/models"
	domrepo "StoryRisk/internal/domain/repository"
	"StoryRisk/internal/service/ratelimit"
	"StoryRisk/internal/usecase"
	xhttp "StoryRisk/pkg/http"
	xlogger "StoryRisk/pkg/logger"
	"StoryRisk/pkg/queue"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig is the per-client token bucket for estimation routes.
// Capacity <= 0 disables limiting.
type RateLimitConfig struct {
	Capacity     float64
	RefillPerSec float64
}

// EstimateHandler serves the story estimation API.
type EstimateHandler struct {
	logger *xlogger.Logger
	est    *usecase.Estimator
	store  domrepo.StoryStore
	hub    *StreamHub
	rl     *ratelimit.Limiter
	rlCfg  RateLimitConfig

	requests queue.Publisher
}

// NewEstimateHandler builds the handler. hub may be nil to disable the stream.
func NewEstimateHandler(logger *xlogger.Logger, est *usecase.Estimator, store domrepo.StoryStore, hub *StreamHub, rl *ratelimit.Limiter, rlCfg RateLimitConfig) *EstimateHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if rl == nil {
		rl = ratelimit.New()
	}
	return &EstimateHandler{logger: logger, est: est, store: store, hub: hub, rl: rl, rlCfg: rlCfg}
}

// WithRequestQueue enables POST /api/estimate/batch/async. Call before RegisterRoutes.
func (h *EstimateHandler) WithRequestQueue(p queue.Publisher) *EstimateHandler {
	h.requests = p
	return h
}

func (h *EstimateHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api/estimate")
	g.POST("", h.Estimate, h.rateLimit)
	g.POST("/batch", h.EstimateBatch, h.rateLimit)
	if h.requests != nil {
		g.POST("/batch/async", h.EnqueueBatch, h.rateLimit)
	}
	g.POST("/validate", h.Validate, h.rateLimit)
	g.POST("/optimal-influence", h.OptimalInfluence, h.rateLimit)

	g.GET("/stories", h.Stories)
	g.GET("/projects/:projectId/stories", h.ProjectStories)
	g.PUT("/update-team-estimate", h.UpdateTeamEstimate)
	g.POST("/save-story", h.SaveStory)
	if h.hub != nil {
		g.GET("/stream", h.hub.Serve)
	}
}

func (h *EstimateHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.rlCfg.Capacity > 0 && !h.rl.Allow(c.RealIP()+":estimate", h.rlCfg.Capacity, h.rlCfg.RefillPerSec) {
			h.logger.Warn("estimate rate_limited", xlogger.String("remote", c.RealIP()))
			return xhttp.TooManyRequestsResponse(c)
		}
		return next(c)
	}
}

func (h *EstimateHandler) fail(c echo.Context, op string, err error) error {
	ae := appError(err)
	if ae.Status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", xlogger.Error(err))
	} else {
		h.logger.Debug(op+" rejected", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, ae)
}

func persist(p *bool) bool { return p == nil || *p }

func (h *EstimateHandler) Estimate(c echo.Context) error {
	req := &models.EstimateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	in := req.Input()
	influence := h.est.ResolveInfluence(req.DQNInfluence.Ptr())

	res, err := h.est.EstimateOne(c.Request().Context(), in, influence, persist(req.Persist))
	if err != nil {
		return h.fail(c, "estimate", err)
	}
	return xhttp.SuccessResponse(c, models.NewEstimateResponse(in, res, influence))
}

func (h *EstimateHandler) EstimateBatch(c echo.Context) error {
	req := &models.BatchEstimateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ins := req.Inputs()
	influence := h.est.ResolveInfluence(req.DQNInfluence.Ptr())

	results, err := h.est.EstimateBatch(c.Request().Context(), ins, influence, persist(req.Persist))
	if err != nil {
		return h.fail(c, "estimate batch", err)
	}
	items := make([]models.BatchItemResponse, len(results))
	for i, r := range results {
		items[i] = models.NewBatchItemResponse(ins[i], r, influence)
	}
	return xhttp.ListResponse(c, items, len(items))
}

// EnqueueBatch accepts a batch for background estimation. Results are stored
// and announced on the event stream, not returned.
func (h *EstimateHandler) EnqueueBatch(c echo.Context) error {
	req := &models.BatchEstimateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	msg := models.EstimationRequestMessage{
		Stories:      req.Stories,
		DQNInfluence: req.DQNInfluence,
		ProjectID:    req.ProjectID,
	}
	if err := h.requests.Enqueue(c.Request().Context(), usecase.EstimationRequestJobType, msg); err != nil {
		if errors.Is(err, queue.ErrNotRunning) {
			return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("request queue is not running").WithCode("ERR_QUEUE_UNAVAILABLE"))
		}
		h.logger.Error("enqueue estimation request failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("failed to enqueue request").WithError(err))
	}
	return xhttp.DataResponse(c, http.StatusAccepted, map[string]int{"queued": len(req.Stories)})
}

func (h *EstimateHandler) Validate(c echo.Context) error {
	req := &models.ValidateModelRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	raw, err := h.est.ValidateModel(c.Request().Context(), req.TestDataPath, h.est.ResolveInfluence(req.DQNInfluence.Ptr()))
	if err != nil {
		return h.fail(c, "validate model", err)
	}
	return xhttp.SuccessResponse(c, raw)
}

func (h *EstimateHandler) OptimalInfluence(c echo.Context) error {
	req := &models.OptimalInfluenceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	raw, err := h.est.FindOptimalInfluence(c.Request().Context(), req.TestDataPath, req.InfluenceValues)
	if err != nil {
		return h.fail(c, "find optimal influence", err)
	}
	return xhttp.SuccessResponse(c, raw)
}

func (h *EstimateHandler) Stories(c echo.Context) error {
	recs, err := h.est.ListAll(c.Request().Context())
	if err != nil {
		return h.fail(c, "list stories", err)
	}
	return xhttp.ListResponse(c, recs, len(recs))
}

func (h *EstimateHandler) ProjectStories(c echo.Context) error {
	req := &models.ProjectStoriesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	recs, err := h.est.ListByProject(c.Request().Context(), req.ProjectID)
	if err != nil {
		return h.fail(c, "list project stories", err)
	}
	return xhttp.ListResponse(c, recs, len(recs))
}

func (h *EstimateHandler) UpdateTeamEstimate(c echo.Context) error {
	req := &models.UpdateTeamEstimateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	switch {
	case !req.TeamEstimate.Set:
		return xhttp.AppErrorResponse(c, appError(models.Validationf("teamEstimate", "teamEstimate is required")))
	case !req.TeamEstimate.Valid:
		return xhttp.AppErrorResponse(c, appError(models.Validationf("teamEstimate", "teamEstimate must be a number")))
	}
	rec, err := h.est.SetTeamEstimate(c.Request().Context(), req.StoryID, req.TeamEstimate.Value)
	if err != nil {
		return h.fail(c, "update team estimate", err)
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *EstimateHandler) SaveStory(c echo.Context) error {
	req := &models.SaveStoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rec, err := h.est.SaveStory(c.Request().Context(), req.Input())
	if err != nil {
		return h.fail(c, "save story", err)
	}
	return xhttp.CreatedResponse(c, rec)
}

// Health reports whether the store answers.
func (h *EstimateHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if h.store != nil {
		if err := h.store.Health(ctx); err != nil {
			h.logger.Warn("health check failed", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("store unavailable").WithError(err))
		}
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

var _ xhttp.Handler = (*EstimateHandler)(nil)
