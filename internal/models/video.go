package models

import (
	"regexp"

	"gorm.io/gorm"
)

// VideoStatus represents the lifecycle status of a video.
type VideoStatus string

const (
	// VideoStatusPending indicates the video is uploaded but not yet claimed.
	VideoStatusPending VideoStatus = "pending"
	// VideoStatusProcessing indicates a worker is transcoding the video.
	VideoStatusProcessing VideoStatus = "processing"
	// VideoStatusReady indicates transcoded streams are available.
	VideoStatusReady VideoStatus = "ready"
	// VideoStatusFailed indicates transcoding exhausted its retries.
	VideoStatusFailed VideoStatus = "failed"
)

// StreamingFormat is the segment container format for a video.
type StreamingFormat string

const (
	// FormatHLSTS uses MPEG-TS segments in a flat per-video layout.
	FormatHLSTS StreamingFormat = "hls_ts"
	// FormatCMAF uses fragmented MP4 segments in per-quality subdirectories.
	FormatCMAF StreamingFormat = "cmaf"
)

// Codec is the primary video codec of the transcoded output.
type Codec string

const (
	// CodecH264 is the default, universally supported codec.
	CodecH264 Codec = "h264"
	// CodecHEVC is H.265.
	CodecHEVC Codec = "hevc"
	// CodecAV1 is AV1.
	CodecAV1 Codec = "av1"
)

// slugPattern matches lowercase alphanumeric runs separated by single hyphens.
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidSlug reports whether s is a URL-safe video slug. Anything else,
// including path traversal candidates, is rejected before any catalog lookup.
func ValidSlug(s string) bool {
	return s != "" && slugPattern.MatchString(s)
}

// Video represents an uploaded source and its transcoded artifacts.
type Video struct {
	BaseModel

	// Slug is the unique URL-safe identifier used in public routes and
	// the on-disk layout.
	Slug string `gorm:"uniqueIndex;not null;size:255" json:"slug"`

	Title       string `gorm:"not null;size:255" json:"title"`
	Description string `gorm:"size:4096" json:"description,omitempty"`
	Category    string `gorm:"size:255;index" json:"category,omitempty"`

	// DurationSeconds is reported by the worker after probing the source.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	SourceWidth     int     `json:"source_width,omitempty"`
	SourceHeight    int     `json:"source_height,omitempty"`
	SourceSizeBytes int64   `json:"source_size_bytes,omitempty"`

	Status VideoStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	StreamingFormat StreamingFormat `gorm:"not null;default:'hls_ts';size:20" json:"streaming_format"`
	PrimaryCodec    Codec           `gorm:"not null;default:'h264';size:20" json:"primary_codec"`

	// DeletedAt soft-deletes the video; rows are retained for audit.
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName returns the table name for Video.
func (Video) TableName() string {
	return "videos"
}

// IsReady returns true when transcoded streams are available.
func (v *Video) IsReady() bool {
	return v.Status == VideoStatusReady
}

// Validate performs basic validation on the video.
func (v *Video) Validate() error {
	if !ValidSlug(v.Slug) {
		return ErrInvalidSlug
	}
	if v.Title == "" {
		return ErrTitleRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the video and generates its ULID.
func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if err := v.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return v.Validate()
}
