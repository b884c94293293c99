// Package handler exposes the follow-up engine and lead scoring on the ops API.
package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"travel_crm_backend/internal/followups"
	"travel_crm_backend/internal/followups/transport"
	"travel_crm_backend/internal/leads/scoring"
	"travel_crm_backend/platform/httpkit"
	"travel_crm_backend/platform/logger"
	"travel_crm_backend/platform/sanitize"
	"travel_crm_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	statusQueued        = "queued"
	defaultListLimit    = 100
)

// Engine is the slice of followups.Engine the handler drives.
type Engine interface {
	HandleStageChange(ctx context.Context, leadID uuid.UUID, now time.Time) (followups.EvaluationResult, error)
	HandleInboundMessage(ctx context.Context, leadID uuid.UUID, at time.Time) (int, error)
	HandleContactUpdated(ctx context.Context, leadID uuid.UUID, now time.Time) (int, error)
	CancelFollowUp(ctx context.Context, id uuid.UUID, reason string) (followups.Record, error)
	ListRecords(ctx context.Context, filter followups.RecordFilter) ([]followups.Record, error)
}

// Runner executes a full follow-up pass on demand.
type Runner interface {
	RunOnce(ctx context.Context, now time.Time) (followups.RunReport, error)
}

// Scores recalculates stored lead scores.
type Scores interface {
	Recalculate(ctx context.Context, leadID uuid.UUID) (*scoring.Result, error)
	RecalculateAll(ctx context.Context, batchSize int) (scoring.BatchSummary, error)
}

// TaskQueue hands lead events to the background worker. When it is nil the
// handler runs the work inline.
type TaskQueue interface {
	EnqueueStageChanged(ctx context.Context, leadID uuid.UUID, changedAt time.Time) error
	EnqueueInboundMessage(ctx context.Context, leadID uuid.UUID, receivedAt time.Time) error
	EnqueueContactUpdated(ctx context.Context, leadID uuid.UUID) error
	EnqueueFollowUpRun(ctx context.Context) error
}

// Stream serves the live event feed.
type Stream interface {
	Handler() gin.HandlerFunc
}

// Handler serves the lead event and follow-up endpoints.
type Handler struct {
	engine Engine
	runner Runner
	scores Scores
	queue  TaskQueue
	stream Stream
	val    *validator.Validator
	log    *logger.Logger
	now    func() time.Time
}

// Deps are the handler's collaborators. Queue and Stream are optional.
type Deps struct {
	Engine    Engine
	Runner    Runner
	Scores    Scores
	Queue     TaskQueue
	Stream    Stream
	Validator *validator.Validator
	Logger    *logger.Logger
}

// New creates a handler from its dependencies.
func New(deps Deps) *Handler {
	val := deps.Validator
	if val == nil {
		val = validator.New()
	}
	return &Handler{
		engine: deps.Engine,
		runner: deps.Runner,
		scores: deps.Scores,
		queue:  deps.Queue,
		stream: deps.Stream,
		val:    val,
		log:    deps.Logger,
		now:    time.Now,
	}
}

func (h *Handler) RegisterRoutes(leads, followUps *gin.RouterGroup) {
	leads.POST("/score/recalculate", h.RecalculateAllScores)
	leads.POST("/:id/score", h.RecalculateScore)
	leads.POST("/:id/stage-changed", h.StageChanged)
	leads.POST("/:id/inbound-messages", h.InboundMessage)
	leads.POST("/:id/contact-updated", h.ContactUpdated)

	followUps.GET("", h.List)
	followUps.POST("/run", h.RunNow)
	followUps.POST("/:id/cancel", h.Cancel)
	if h.stream != nil {
		followUps.GET("/stream", h.stream.Handler())
	}
}

func (h *Handler) RecalculateScore(c *gin.Context) {
	leadID, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.scores.Recalculate(c.Request.Context(), leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) RecalculateAllScores(c *gin.Context) {
	var req transport.RecalculateAllRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Describe(err))
		return
	}

	summary, err := h.scores.RecalculateAll(c.Request.Context(), req.BatchSize)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, summary)
}

func (h *Handler) StageChanged(c *gin.Context) {
	leadID, ok := parseID(c)
	if !ok {
		return
	}
	var req transport.StageChangedRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	changedAt := h.timeOrNow(req.ChangedAt)

	if h.queue != nil {
		if err := h.queue.EnqueueStageChanged(c.Request.Context(), leadID, changedAt); httpkit.HandleError(c, err) {
			return
		}
		httpkit.JSON(c, http.StatusAccepted, transport.QueuedResponse{Status: statusQueued, LeadID: leadID})
		return
	}

	result, err := h.engine.HandleStageChange(c.Request.Context(), leadID, h.now())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) InboundMessage(c *gin.Context) {
	leadID, ok := parseID(c)
	if !ok {
		return
	}
	var req transport.InboundMessageRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	receivedAt := h.timeOrNow(req.ReceivedAt)

	if h.queue != nil {
		if err := h.queue.EnqueueInboundMessage(c.Request.Context(), leadID, receivedAt); httpkit.HandleError(c, err) {
			return
		}
		httpkit.JSON(c, http.StatusAccepted, transport.QueuedResponse{Status: statusQueued, LeadID: leadID})
		return
	}

	cancelled, err := h.engine.HandleInboundMessage(c.Request.Context(), leadID, receivedAt)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.InboundMessageResponse{LeadID: leadID, Cancelled: cancelled})
}

func (h *Handler) ContactUpdated(c *gin.Context) {
	leadID, ok := parseID(c)
	if !ok {
		return
	}

	if h.queue != nil {
		if err := h.queue.EnqueueContactUpdated(c.Request.Context(), leadID); httpkit.HandleError(c, err) {
			return
		}
		httpkit.JSON(c, http.StatusAccepted, transport.QueuedResponse{Status: statusQueued, LeadID: leadID})
		return
	}

	requeued, err := h.engine.HandleContactUpdated(c.Request.Context(), leadID, h.now())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ContactUpdatedResponse{LeadID: leadID, Requeued: requeued})
}

func (h *Handler) List(c *gin.Context) {
	var query transport.ListFollowUpsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(query); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Describe(err))
		return
	}

	filter := followups.RecordFilter{Limit: query.Limit}
	if filter.Limit == 0 {
		filter.Limit = defaultListLimit
	}
	if query.LeadID != "" {
		filter.LeadID = uuid.MustParse(query.LeadID)
	}
	if query.Status != "" {
		filter.Statuses = []followups.Status{followups.Status(query.Status)}
	}
	if query.RuleType != "" {
		filter.RuleTypes = []followups.RuleType{followups.RuleType(strings.TrimSpace(query.RuleType))}
	}

	records, err := h.engine.ListRecords(c.Request.Context(), filter)
	if httpkit.HandleError(c, err) {
		return
	}
	if records == nil {
		records = []followups.Record{}
	}
	httpkit.OK(c, transport.FollowUpListResponse[followups.Record]{Items: records, Total: len(records)})
}

func (h *Handler) Cancel(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req transport.CancelFollowUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Describe(err))
		return
	}

	rec, err := h.engine.CancelFollowUp(c.Request.Context(), id, sanitize.Text(req.Reason))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, rec)
}

func (h *Handler) RunNow(c *gin.Context) {
	if h.queue != nil {
		if err := h.queue.EnqueueFollowUpRun(c.Request.Context()); httpkit.HandleError(c, err) {
			return
		}
		httpkit.JSON(c, http.StatusAccepted, transport.QueuedResponse{Status: statusQueued})
		return
	}

	report, err := h.runner.RunOnce(c.Request.Context(), h.now())
	if err != nil && h.log != nil {
		h.log.WithContext(c.Request.Context()).Error("manual follow-up run failed", "error", err)
	}
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, report)
}

func (h *Handler) bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	return true
}

func (h *Handler) timeOrNow(t *time.Time) time.Time {
	if t == nil || t.IsZero() {
		return h.now().UTC()
	}
	return t.UTC()
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return uuid.Nil, false
	}
	return id, true
}
