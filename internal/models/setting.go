package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// SettingType names the declared type of a setting value.
type SettingType string

const (
	// SettingTypeString is a free-form string.
	SettingTypeString SettingType = "string"
	// SettingTypeInt is a 64-bit integer.
	SettingTypeInt SettingType = "int"
	// SettingTypeFloat is a 64-bit float.
	SettingTypeFloat SettingType = "float"
	// SettingTypeBool is a boolean.
	SettingTypeBool SettingType = "bool"
	// SettingTypeEnum is a string restricted to EnumValues.
	SettingTypeEnum SettingType = "enum"
	// SettingTypeJSON is an arbitrary JSON document.
	SettingTypeJSON SettingType = "json"
)

// SettingConstraints bound the values a setting accepts.
type SettingConstraints struct {
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	EnumValues []string `json:"enum_values,omitempty"`
	Pattern    string   `json:"pattern,omitempty"`
	MinLength  *int     `json:"min_length,omitempty"`
	MaxLength  *int     `json:"max_length,omitempty"`
}

// Value implements driver.Valuer, storing constraints as JSON.
func (c SettingConstraints) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *SettingConstraints) Scan(value any) error {
	return scanJSON(value, c)
}

// Setting is runtime configuration with optional env-var fallback.
// Keys are dotted and category-namespaced, e.g. "transcoding.hls_segment_duration".
type Setting struct {
	BaseModel

	Key      string `gorm:"uniqueIndex;not null;size:255" json:"key"`
	Value    string `gorm:"size:4096" json:"value"`
	Type     SettingType `gorm:"not null;default:'string';size:10" json:"type"`
	Category string `gorm:"size:64;index" json:"category,omitempty"`

	Constraints SettingConstraints `gorm:"type:text" json:"constraints"`

	UpdatedBy string `gorm:"size:255" json:"updated_by,omitempty"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}

// EnvName returns the predictable env-var fallback name for key, stripping
// the category prefix: "transcoding.hls_segment_duration" -> "VLOG_HLS_SEGMENT_DURATION".
func EnvName(key string) string {
	if i := strings.IndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	return "VLOG_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// ValidateValue checks raw against the setting's declared type and
// constraints. Set operations must pass before commit.
func (s *Setting) ValidateValue(raw string) error {
	switch s.Type {
	case SettingTypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not an integer", ErrSettingInvalid, raw)
		}
		return s.Constraints.checkRange(float64(n))
	case SettingTypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not a number", ErrSettingInvalid, raw)
		}
		return s.Constraints.checkRange(f)
	case SettingTypeBool:
		if _, err := strconv.ParseBool(raw); err != nil {
			return fmt.Errorf("%w: %q is not a boolean", ErrSettingInvalid, raw)
		}
		return nil
	case SettingTypeEnum:
		for _, v := range s.Constraints.EnumValues {
			if raw == v {
				return nil
			}
		}
		return fmt.Errorf("%w: %q not in enum %v", ErrSettingInvalid, raw, s.Constraints.EnumValues)
	case SettingTypeJSON:
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("%w: invalid JSON", ErrSettingInvalid)
		}
		return nil
	default:
		return s.Constraints.checkString(raw)
	}
}

// checkRange validates a numeric value against min/max bounds.
func (c *SettingConstraints) checkRange(v float64) error {
	if c.Min != nil && v < *c.Min {
		return fmt.Errorf("%w: %v below minimum %v", ErrSettingInvalid, v, *c.Min)
	}
	if c.Max != nil && v > *c.Max {
		return fmt.Errorf("%w: %v above maximum %v", ErrSettingInvalid, v, *c.Max)
	}
	return nil
}

// checkString validates a string value against length and pattern bounds.
func (c *SettingConstraints) checkString(v string) error {
	if c.MinLength != nil && len(v) < *c.MinLength {
		return fmt.Errorf("%w: shorter than %d", ErrSettingInvalid, *c.MinLength)
	}
	if c.MaxLength != nil && len(v) > *c.MaxLength {
		return fmt.Errorf("%w: longer than %d", ErrSettingInvalid, *c.MaxLength)
	}
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return fmt.Errorf("compiling constraint pattern: %w", err)
		}
		if !re.MatchString(v) {
			return fmt.Errorf("%w: does not match %q", ErrSettingInvalid, c.Pattern)
		}
	}
	return nil
}

// Validate performs basic validation on the setting.
func (s *Setting) Validate() error {
	if s.Key == "" {
		return ErrSettingKeyRequired
	}
	return s.ValidateValue(s.Value)
}

// BeforeCreate validates the setting and generates its ULID.
func (s *Setting) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate validates the setting before update.
func (s *Setting) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}
