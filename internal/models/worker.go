package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// WorkerType distinguishes in-process workers from remote agents.
type WorkerType string

const (
	// WorkerTypeLocal runs on the coordinator host.
	WorkerTypeLocal WorkerType = "local"
	// WorkerTypeRemote connects over the worker HTTP API.
	WorkerTypeRemote WorkerType = "remote"
)

// WorkerStatus represents the reported or derived status of a worker.
type WorkerStatus string

const (
	// WorkerStatusActive indicates the worker registered recently.
	WorkerStatusActive WorkerStatus = "active"
	// WorkerStatusIdle indicates the worker is heartbeating without a job.
	WorkerStatusIdle WorkerStatus = "idle"
	// WorkerStatusBusy indicates the worker holds a claim.
	WorkerStatusBusy WorkerStatus = "busy"
	// WorkerStatusOffline indicates heartbeats lapsed.
	WorkerStatusOffline WorkerStatus = "offline"
	// WorkerStatusDisabled indicates an operator disabled the worker.
	WorkerStatusDisabled WorkerStatus = "disabled"
)

// Bounded limits for capability/metadata records (spec'd at the worker API).
const (
	// MaxStructuredRecordBytes bounds a serialized capabilities or metadata
	// record accepted from a worker.
	MaxStructuredRecordBytes = 10 * 1024
	// MaxRecordStringLen bounds individual string values inside records.
	MaxRecordStringLen = 512
)

// Capabilities is a bounded structured record describing worker hardware.
type Capabilities struct {
	HWAccel          string   `json:"hwaccel_type,omitempty"` // none, qsv, nvenc
	Codecs           []string `json:"codecs,omitempty"`
	MaxHeight        int      `json:"max_height,omitempty"`
	CPUCores         int      `json:"cpu_cores,omitempty"`
	MemoryMB         int      `json:"memory_mb,omitempty"`
	FFmpegVersion    string   `json:"ffmpeg_version,omitempty"`
	SupportsCMAF     bool     `json:"supports_cmaf,omitempty"`
	SupportsOriginal bool     `json:"supports_original,omitempty"`
}

// Validate enforces the bounded-record limits.
func (c *Capabilities) Validate() error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("serializing capabilities: %w", err)
	}
	if len(raw) > MaxStructuredRecordBytes {
		return ErrRecordTooLarge
	}
	for _, s := range append([]string{c.HWAccel, c.FFmpegVersion}, c.Codecs...) {
		if len(s) > MaxRecordStringLen {
			return ErrRecordStringTooLong
		}
	}
	return nil
}

// CanEncode reports whether the capabilities cover the codec. An empty codec
// list is treated as h264-only, the baseline every worker supports.
func (c *Capabilities) CanEncode(codec Codec) bool {
	if codec == CodecH264 {
		return true
	}
	for _, have := range c.Codecs {
		if Codec(have) == codec {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer, storing capabilities as JSON.
func (c Capabilities) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *Capabilities) Scan(value any) error {
	return scanJSON(value, c)
}

// WorkerMetadata is a bounded structured record of free-form worker details.
type WorkerMetadata map[string]string

// Validate enforces the bounded-record limits.
func (m WorkerMetadata) Validate() error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("serializing metadata: %w", err)
	}
	if len(raw) > MaxStructuredRecordBytes {
		return ErrRecordTooLarge
	}
	for k, v := range m {
		if len(k) > MaxRecordStringLen || len(v) > MaxRecordStringLen {
			return ErrRecordStringTooLong
		}
	}
	return nil
}

// Value implements driver.Valuer, storing metadata as JSON.
func (m WorkerMetadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *WorkerMetadata) Scan(value any) error {
	return scanJSON(value, m)
}

// scanJSON decodes a driver value holding JSON into dst.
func scanJSON(value any, dst any) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported type for JSON column: %T", value)
	}
}

// Worker represents a registered remote executor.
type Worker struct {
	// WorkerID is a UUID issued at registration; it is the identity the
	// worker presents on every subsequent call.
	WorkerID   string     `gorm:"primarykey;size:36" json:"worker_id"`
	WorkerName string     `gorm:"not null;size:255" json:"worker_name"`
	WorkerType WorkerType `gorm:"not null;default:'remote';size:10" json:"worker_type"`

	RegisteredAt  Time  `json:"registered_at"`
	LastHeartbeat *Time `gorm:"index" json:"last_heartbeat,omitempty"`

	Status WorkerStatus `gorm:"not null;default:'active';size:10;index" json:"status"`

	// CurrentJobID references the job this worker currently claims.
	// ON DELETE SET NULL keeps workers alive across job deletion.
	CurrentJobID *ULID `gorm:"type:varchar(26);constraint:OnDelete:SET NULL" json:"current_job_id,omitempty"`
	CurrentJob   *Job  `gorm:"foreignKey:CurrentJobID" json:"-"`

	Capabilities Capabilities   `gorm:"type:text" json:"capabilities"`
	Metadata     WorkerMetadata `gorm:"type:text" json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for Worker.
func (Worker) TableName() string {
	return "workers"
}

// IsOffline reports whether the worker's last heartbeat is older than cutoff.
func (w *Worker) IsOffline(now time.Time, offlineAfter time.Duration) bool {
	if w.LastHeartbeat == nil {
		return false
	}
	return AsUTC(*w.LastHeartbeat).Before(now.Add(-offlineAfter))
}

// Validate performs basic validation on the worker.
func (w *Worker) Validate() error {
	if w.WorkerID == "" {
		return ErrWorkerIDRequired
	}
	if w.WorkerName == "" {
		return ErrWorkerNameRequired
	}
	if err := w.Capabilities.Validate(); err != nil {
		return err
	}
	return w.Metadata.Validate()
}

// BeforeCreate validates the worker.
func (w *Worker) BeforeCreate(tx *gorm.DB) error {
	return w.Validate()
}
