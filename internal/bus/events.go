package bus

import (
	"fmt"

	"github.com/vlogmedia/vlog/internal/models"
)

// Event type discriminators carried in every published record.
const (
	EventTypeProgress        = "progress"
	EventTypeWorkerStatus    = "worker_status"
	EventTypeJobCompleted    = "job_completed"
	EventTypeJobFailed       = "job_failed"
	EventTypeCommand         = "command"
	EventTypeLogsResponse    = "logs_response"
	EventTypeMetricsResponse = "metrics_response"
	EventTypeCommandResponse = "command_response"
)

// Channel naming. Per-video and per-worker channels are parameterized; the
// fan-out channels are fixed.
const (
	ChannelProgressAll     = "progress:all"
	ChannelWorkersStatus   = "workers:status"
	ChannelJobsCompleted   = "jobs:completed"
	ChannelJobsFailed      = "jobs:failed"
	ChannelWorkersCommands = "workers:commands"
)

// ProgressChannel returns the per-video progress channel.
func ProgressChannel(videoID models.ULID) string {
	return "progress:" + videoID.String()
}

// ProgressPattern matches every progress channel, including progress:all.
func ProgressPattern() string {
	return "progress:*"
}

// CommandChannel returns the per-worker command channel.
func CommandChannel(workerID string) string {
	return fmt.Sprintf("worker:%s:commands", workerID)
}

// ResponseChannel returns the per-request command response channel.
func ResponseChannel(workerID, requestID string) string {
	return fmt.Sprintf("worker:%s:response:%s", workerID, requestID)
}

// EventQuality is the per-quality progress row embedded in progress and
// completion events.
type EventQuality struct {
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// ProgressEvent is published on every accepted progress update, to the
// video's channel and to progress:all.
type ProgressEvent struct {
	Type            string         `json:"type"`
	JobID           models.ULID    `json:"job_id"`
	VideoID         models.ULID    `json:"video_id"`
	CurrentStep     string         `json:"current_step"`
	ProgressPercent float64        `json:"progress_percent"`
	Qualities       []EventQuality `json:"qualities"`
	Attempt         int            `json:"attempt"`
	WorkerID        string         `json:"worker_id"`
	Status          string         `json:"status,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
	Timestamp       models.Time    `json:"timestamp"`
}

// WorkerStatusEvent is published when a worker's status changes.
type WorkerStatusEvent struct {
	Type       string              `json:"type"`
	WorkerID   string              `json:"worker_id"`
	WorkerName string              `json:"worker_name"`
	Status     models.WorkerStatus `json:"status"`
	Timestamp  models.Time         `json:"timestamp"`
}

// JobCompletedEvent is published when a job reaches COMPLETED, on
// jobs:completed and echoed on the video's progress channel so progress
// subscribers see the terminal event without a second subscription.
type JobCompletedEvent struct {
	Type            string         `json:"type"`
	JobID           models.ULID    `json:"job_id"`
	VideoID         models.ULID    `json:"video_id"`
	VideoSlug       string         `json:"video_slug"`
	WorkerID        string         `json:"worker_id"`
	WorkerName      string         `json:"worker_name"`
	Qualities       []EventQuality `json:"qualities"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	Timestamp       models.Time    `json:"timestamp"`
}

// JobFailedEvent is published when a job reaches FAILED or starts retrying.
type JobFailedEvent struct {
	Type        string      `json:"type"`
	JobID       models.ULID `json:"job_id"`
	VideoID     models.ULID `json:"video_id"`
	VideoSlug   string      `json:"video_slug"`
	WorkerID    string      `json:"worker_id"`
	WorkerName  string      `json:"worker_name,omitempty"`
	Error       string      `json:"error"`
	Attempt     int         `json:"attempt"`
	MaxAttempts int         `json:"max_attempts"`
	WillRetry   bool        `json:"will_retry"`
	Timestamp   models.Time `json:"timestamp"`
}

// Worker command names understood by the agent.
const (
	CommandRestart        = "restart"
	CommandStop           = "stop"
	CommandUpdate         = "update"
	CommandGetMetrics     = "get_metrics"
	CommandGetLogs        = "get_logs"
	CommandFlushRemaining = "flush_remaining"
)

// CommandEvent is an operator command addressed to one worker, or to every
// worker via workers:commands. The worker replies on the per-request
// response channel.
type CommandEvent struct {
	Type      string            `json:"type"`
	RequestID string            `json:"request_id"`
	Command   string            `json:"command"`
	Args      map[string]string `json:"args,omitempty"`
	Timestamp models.Time       `json:"timestamp"`
}

// CommandResponseEvent is a worker's reply to a CommandEvent. Type is
// logs_response or metrics_response for the query commands and
// command_response otherwise.
type CommandResponseEvent struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	WorkerID  string         `json:"worker_id"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Timestamp models.Time    `json:"timestamp"`
}
