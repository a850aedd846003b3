package models

// DeploymentEventType classifies operator actions on workers.
type DeploymentEventType string

const (
	// DeploymentEventRestart is a requested worker restart.
	DeploymentEventRestart DeploymentEventType = "restart"
	// DeploymentEventStop is a requested worker stop.
	DeploymentEventStop DeploymentEventType = "stop"
	// DeploymentEventUpdate is a requested worker software update.
	DeploymentEventUpdate DeploymentEventType = "update"
	// DeploymentEventDeploy records a new worker deployment.
	DeploymentEventDeploy DeploymentEventType = "deploy"
	// DeploymentEventRollback records a version rollback.
	DeploymentEventRollback DeploymentEventType = "rollback"
	// DeploymentEventVersionChange records an observed version change.
	DeploymentEventVersionChange DeploymentEventType = "version_change"
)

// DeploymentEventStatus is the progress of a deployment event.
type DeploymentEventStatus string

const (
	// DeploymentStatusPending indicates the command was queued.
	DeploymentStatusPending DeploymentEventStatus = "pending"
	// DeploymentStatusCompleted indicates the worker confirmed the action.
	DeploymentStatusCompleted DeploymentEventStatus = "completed"
	// DeploymentStatusFailed indicates the action failed or timed out.
	DeploymentStatusFailed DeploymentEventStatus = "failed"
)

// DeploymentEvent is an append-only audit record of operator actions on
// workers. Rows are never updated except to set status and CompletedAt.
type DeploymentEvent struct {
	BaseModel

	WorkerID string `gorm:"not null;size:36;index" json:"worker_id"`

	EventType  DeploymentEventType   `gorm:"not null;size:20" json:"event_type"`
	OldVersion string                `gorm:"size:64" json:"old_version,omitempty"`
	NewVersion string                `gorm:"size:64" json:"new_version,omitempty"`
	Status     DeploymentEventStatus `gorm:"not null;default:'pending';size:10" json:"status"`

	TriggeredBy string `gorm:"size:255" json:"triggered_by,omitempty"`
	CompletedAt *Time  `json:"completed_at,omitempty"`
}

// TableName returns the table name for DeploymentEvent.
func (DeploymentEvent) TableName() string {
	return "deployment_events"
}
