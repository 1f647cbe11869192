package schedule

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"podflow/internal/config"
	"podflow/internal/types"
)

// ActivityStore is the subset of the activity repository the scheduler needs.
type ActivityStore interface {
	ListPendingForPod(ctx context.Context, podID string, kind types.EngagementType, limit int) ([]*types.EngagementActivity, error)
	MarkScheduled(ctx context.Context, id string, scheduledFor time.Time) (bool, error)
}

// JobPublisher enqueues engagement jobs with a delivery delay.
type JobPublisher interface {
	Publish(ctx context.Context, msg types.EngagementJobMessage, delay time.Duration) error
}

// Scheduler promotes pending activities to scheduled and enqueues one job per
// activity. Concurrent runs over the same pod are safe: the pending status
// guard on MarkScheduled lets exactly one run claim each row.
type Scheduler struct {
	store     ActivityStore
	publisher JobPublisher
	cfg       config.SchedulerConfig
	logger    *slog.Logger

	// rng is guarded by mu; *rand.Rand is not safe for concurrent use and
	// the API may trigger overlapping batch runs.
	mu  sync.Mutex
	rng *rand.Rand
}

// NewScheduler creates a Scheduler. The rng seeds the jitter source; pass a
// fixed-seed rand.New in tests for deterministic delays.
func NewScheduler(store ActivityStore, publisher JobPublisher, cfg config.SchedulerConfig, rng *rand.Rand, logger *slog.Logger) *Scheduler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		rng:       rng,
	}
}

// ScheduleBatch selects pending activities for the pod, staggers them per
// post, and promotes each claimed row to scheduled with a queued job.
//
// Per-post cap: at most cfg.PostMemberCap members are promoted per post in a
// single batch; the rest stay pending for a later run so one post never
// receives the whole pod at once.
//
// Row-level failures (claim lost, publish error) are logged and skipped;
// a batch makes partial progress rather than failing wholesale.
func (s *Scheduler) ScheduleBatch(ctx context.Context, podID string, kind types.EngagementType, limit int) (types.ScheduleSummary, error) {
	if limit <= 0 {
		limit = s.cfg.BatchLimit
	}

	batchID := "batch_" + uuid.New().String()
	log := s.logger.With("batch_id", batchID, "pod_id", podID)

	pending, err := s.store.ListPendingForPod(ctx, podID, kind, limit)
	if err != nil {
		return types.ScheduleSummary{}, err
	}
	if len(pending) == 0 {
		return types.ScheduleSummary{BatchID: batchID}, nil
	}

	scheduled := 0
	for postID, group := range groupByPost(pending) {
		take := s.cfg.PostMemberCap
		if take <= 0 || take > len(group) {
			take = len(group)
		}

		for idx, activity := range group[:take] {
			delay, scheduledFor := s.computeDelay(idx, take, activity.EngagementType)

			claimed, err := s.store.MarkScheduled(ctx, activity.ID, scheduledFor)
			if err != nil {
				log.ErrorContext(ctx, "failed to claim activity, skipping",
					"activity_id", activity.ID, "post_id", postID, "error", err)
				continue
			}
			if !claimed {
				// Another batch run got there first.
				continue
			}

			msg := types.EngagementJobMessage{
				Kind:           types.JobKindEngagement,
				ActivityID:     activity.ID,
				PodID:          activity.PodID,
				EngagementType: activity.EngagementType,
				ScheduledFor:   scheduledFor,
				Attempt:        1,
				TraceID:        uuid.New().String(),
			}
			if err := s.publisher.Publish(ctx, msg, delay); err != nil {
				// The row is already scheduled; the job will surface via the
				// stats endpoint as scheduled-but-idle and can be re-triggered.
				log.ErrorContext(ctx, "failed to enqueue job for claimed activity",
					"activity_id", activity.ID, "post_id", postID, "error", err)
				continue
			}

			scheduled++
			log.InfoContext(ctx, "activity scheduled",
				"activity_id", activity.ID,
				"post_id", postID,
				"member_index", idx,
				"delay", delay.String(),
				"scheduled_for", scheduledFor,
				"trace_id", msg.TraceID,
			)
		}
	}

	log.InfoContext(ctx, "batch promotion finished",
		"pending_seen", len(pending), "scheduled_count", scheduled)

	return types.ScheduleSummary{ScheduledCount: scheduled, BatchID: batchID}, nil
}

func (s *Scheduler) computeDelay(idx, total int, kind types.EngagementType) (time.Duration, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ComputeDelay(idx, total, kind, s.rng)
}

// groupByPost buckets activities by post ID, preserving creation order inside
// each bucket so member stagger positions are stable across runs.
func groupByPost(activities []*types.EngagementActivity) map[string][]*types.EngagementActivity {
	groups := make(map[string][]*types.EngagementActivity)
	for _, a := range activities {
		groups[a.PostID] = append(groups[a.PostID], a)
	}
	return groups
}
