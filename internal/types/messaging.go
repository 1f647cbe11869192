package types

import "time"

// EngagementJobMessage is the SQS payload carrying one engagement activity
// from the Scheduler to the worker pool. It is the single tagged payload type
// for engagement jobs: the publisher validates it before enqueue so that
// malformed jobs fail fast at the queue boundary instead of deep inside the
// handler. JSON tags use snake_case to match the stored column names.
type EngagementJobMessage struct {
	// Kind discriminates job payload types on the queue. Always
	// JobKindEngagement for this message; consumers reject anything else.
	Kind string `json:"kind" validate:"required,eq=engagement"`

	ActivityID string `json:"activity_id" validate:"required"`
	PodID      string `json:"pod_id" validate:"required"`

	EngagementType EngagementType `json:"engagement_type" validate:"required,oneof=like comment"`

	// ScheduledFor is the earliest time the activity may execute. Carried in
	// the envelope so the worker can re-delay early deliveries without a
	// database read when the queue under-delays (SQS caps DelaySeconds at
	// 15 minutes, far below a comment stagger window).
	ScheduledFor time.Time `json:"scheduled_for" validate:"required"`

	// Voice optionally configures the comment text transform.
	Voice *VoiceParams `json:"voice,omitempty"`

	// Attempt carries the execution attempt number across the
	// publish-subscribe retry cycle. Incremented by the publisher before
	// each re-publish on transient failure.
	Attempt int `json:"attempt"`

	// TraceID correlates scheduler, queue, and worker logs for one activity.
	TraceID string `json:"trace_id"`
}

// JobKindEngagement is the payload discriminator for engagement jobs.
const JobKindEngagement = "engagement"
