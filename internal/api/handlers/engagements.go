// Package handlers contains the HTTP handler implementations for the
// engagement pipeline API: batch scheduling, pipeline stats, and dead-letter
// inspection.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"podflow/internal/core"
	"podflow/internal/queue"
	"podflow/internal/types"
	"podflow/internal/worker"
)

// defaultDeadLetterLimit bounds GET /engagements/dead-letters when no limit
// query parameter is given.
const defaultDeadLetterLimit = 50

// --- Service Interfaces ---
//
// Defined locally so the handler depends on abstractions rather than the
// concrete scheduler, repositories, and queue reader.

// BatchScheduler promotes pending activities into the delivery queue.
type BatchScheduler interface {
	ScheduleBatch(ctx context.Context, podID string, kind types.EngagementType, limit int) (types.ScheduleSummary, error)
}

// ActivityCounter reports activity totals grouped by lifecycle status.
type ActivityCounter interface {
	StatusCounts(ctx context.Context) (map[types.ActivityStatus]int, error)
}

// QueueInspector reports approximate engagement queue depths.
type QueueInspector interface {
	Depths(ctx context.Context) (queue.Depths, error)
}

// DeadLetterLister fetches recent permanently failed activities.
type DeadLetterLister interface {
	ListRecent(ctx context.Context, limit int) ([]*types.DeadLetterRecord, error)
}

// PoolHealth reports the worker pool state. Wired to (*worker.Pool).Health in
// the worker binary; the API binary passes nil and the stats response omits
// the worker section.
type PoolHealth func() worker.Health

// --- Request/Response Models ---

// ScheduleRequest is the request body for POST /v1/engagements/schedule.
type ScheduleRequest struct {
	PodID          string               `json:"pod_id" validate:"required"`
	EngagementType types.EngagementType `json:"engagement_type,omitempty" validate:"omitempty,oneof=like comment"`
	Limit          int                  `json:"limit,omitempty" validate:"omitempty,min=1,max=500"`
}

// StatsResponse aggregates queue depths, activity counts, and worker health
// for GET /v1/engagements/stats.
type StatsResponse struct {
	Queue      queue.Depths   `json:"queue"`
	Activities map[string]int `json:"activities"`
	Worker     *worker.Health `json:"worker,omitempty"`
}

// --- Handler ---

// EngagementHandler serves the engagement pipeline endpoints.
type EngagementHandler struct {
	scheduler   BatchScheduler
	activities  ActivityCounter
	queueStats  QueueInspector
	deadLetters DeadLetterLister
	poolHealth  PoolHealth
	batchLimit  int
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewEngagementHandler creates an EngagementHandler. poolHealth may be nil
// when the API runs in a separate binary from the worker pool.
func NewEngagementHandler(
	scheduler BatchScheduler,
	activities ActivityCounter,
	queueStats QueueInspector,
	deadLetters DeadLetterLister,
	poolHealth PoolHealth,
	batchLimit int,
	logger *slog.Logger,
) *EngagementHandler {
	return &EngagementHandler{
		scheduler:   scheduler,
		activities:  activities,
		queueStats:  queueStats,
		deadLetters: deadLetters,
		poolHealth:  poolHealth,
		batchLimit:  batchLimit,
		validate:    validator.New(),
		logger:      logger,
	}
}

// RegisterRoutes mounts the engagement endpoints onto the v1 router.
func (h *EngagementHandler) RegisterRoutes(r chi.Router) {
	r.Route("/engagements", func(r chi.Router) {
		r.Post("/schedule", h.HandleSchedule)
		r.Get("/stats", h.HandleStats)
		r.Get("/dead-letters", h.HandleDeadLetters)
	})
}

// HandleSchedule promotes a pod's pending activities into the delivery
// queue. Responds 202 Accepted with the batch summary; scheduling is
// asynchronous from the caller's perspective since execution happens later.
func (h *EngagementHandler) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidation, "invalid schedule request: "+err.Error(), err))
		return
	}

	limit := req.Limit
	if limit == 0 {
		limit = h.batchLimit
	}

	summary, err := h.scheduler.ScheduleBatch(r.Context(), req.PodID, req.EngagementType, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "batch scheduled",
		"pod_id", req.PodID,
		"batch_id", summary.BatchID,
		"scheduled_count", summary.ScheduledCount,
	)
	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: summary})
}

// HandleStats reports queue depths, per-status activity counts, and worker
// pool health in one snapshot.
func (h *EngagementHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	depths, err := h.queueStats.Depths(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	counts, err := h.activities.StatusCounts(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	activities := make(map[string]int, len(counts))
	for status, n := range counts {
		activities[string(status)] = n
	}

	resp := StatsResponse{
		Queue:      depths,
		Activities: activities,
	}
	if h.poolHealth != nil {
		health := h.poolHealth()
		resp.Worker = &health
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// HandleDeadLetters lists recent permanently failed activities. Supports an
// optional ?limit= query parameter.
func (h *EngagementHandler) HandleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeadLetterLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidation, "limit must be an integer between 1 and 500", err))
			return
		}
		limit = n
	}

	records, err := h.deadLetters.ListRecent(r.Context(), limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if records == nil {
		records = []*types.DeadLetterRecord{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: records})
}
