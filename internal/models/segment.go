package models

// Segment is the metadata row for one verified upload unit. Payload bytes
// live in the storage layer; the catalog stores only references.
type Segment struct {
	BaseModel

	VideoID ULID   `gorm:"not null;index:idx_segment_unique,unique;type:varchar(26)" json:"video_id"`
	Video   *Video `gorm:"foreignKey:VideoID" json:"-"`

	Quality  Quality `gorm:"not null;index:idx_segment_unique,unique;size:20" json:"quality"`
	Filename string  `gorm:"not null;index:idx_segment_unique,unique;size:255" json:"filename"`

	SizeBytes int64  `gorm:"not null" json:"size_bytes"`
	SHA256    string `gorm:"column:sha256;not null;size:64" json:"sha256"`
}

// TableName returns the table name for Segment.
func (Segment) TableName() string {
	return "segments"
}
