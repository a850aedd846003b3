package models

// Quality identifies a transcoded output variant.
type Quality string

// Known quality ladder rungs, lowest to highest.
const (
	Quality360p     Quality = "360p"
	Quality480p     Quality = "480p"
	Quality720p     Quality = "720p"
	Quality1080p    Quality = "1080p"
	Quality1440p    Quality = "1440p"
	Quality2160p    Quality = "2160p"
	QualityOriginal Quality = "original"
)

// qualityRank orders qualities for minimum-quality comparisons.
// "original" ranks above everything on the ladder.
var qualityRank = map[Quality]int{
	Quality360p:     1,
	Quality480p:     2,
	Quality720p:     3,
	Quality1080p:    4,
	Quality1440p:    5,
	Quality2160p:    6,
	QualityOriginal: 7,
}

// ValidQuality reports whether q names a known variant.
func ValidQuality(q Quality) bool {
	_, ok := qualityRank[q]
	return ok
}

// AtLeast reports whether q is at or above min on the quality ladder.
func (q Quality) AtLeast(min Quality) bool {
	return qualityRank[q] >= qualityRank[min]
}

// QualityStatus is the per-variant sub-status of a job.
type QualityStatus string

const (
	// QualityPending indicates the variant has not started.
	QualityPending QualityStatus = "pending"
	// QualityInProgress indicates the encoder is producing segments.
	QualityInProgress QualityStatus = "in_progress"
	// QualityUploading indicates segments are streaming to the coordinator.
	QualityUploading QualityStatus = "uploading"
	// QualityUploaded indicates all segments arrived but the variant is not finalized.
	QualityUploaded QualityStatus = "uploaded"
	// QualityCompleted indicates the variant finalized successfully.
	QualityCompleted QualityStatus = "completed"
	// QualityFailed indicates the variant failed permanently.
	QualityFailed QualityStatus = "failed"
	// QualitySkipped indicates the variant was not applicable (e.g. upscaling).
	QualitySkipped QualityStatus = "skipped"
)

// QualityProgress tracks per-variant sub-progress of a job.
type QualityProgress struct {
	BaseModel

	JobID ULID `gorm:"not null;index:idx_job_quality,unique;type:varchar(26)" json:"job_id"`
	Job   *Job `gorm:"foreignKey:JobID" json:"-"`

	Quality Quality       `gorm:"not null;index:idx_job_quality,unique;size:20" json:"quality"`
	Status  QualityStatus `gorm:"not null;default:'pending';size:20" json:"status"`

	ProgressPercent   float64 `gorm:"default:0" json:"progress_percent"`
	SegmentsTotal     int     `gorm:"default:0" json:"segments_total"`
	SegmentsCompleted int     `gorm:"default:0" json:"segments_completed"`
}

// TableName returns the table name for QualityProgress.
func (QualityProgress) TableName() string {
	return "quality_progress"
}

// IsTerminal reports whether the variant can make no further progress.
func (q *QualityProgress) IsTerminal() bool {
	return q.Status == QualityCompleted || q.Status == QualityFailed || q.Status == QualitySkipped
}
