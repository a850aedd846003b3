package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestEnvName(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"transcoding.hls_segment_duration", "VLOG_HLS_SEGMENT_DURATION"},
		{"max_upload_size", "VLOG_MAX_UPLOAD_SIZE"},
		{"workers.default_lease", "VLOG_DEFAULT_LEASE"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EnvName(tt.key))
	}
}

func TestSetting_ValidateValue(t *testing.T) {
	tests := []struct {
		name    string
		setting Setting
		raw     string
		wantErr bool
	}{
		{
			name:    "int within range",
			setting: Setting{Type: SettingTypeInt, Constraints: SettingConstraints{Min: floatPtr(1), Max: floatPtr(30)}},
			raw:     "6",
		},
		{
			name:    "int above max",
			setting: Setting{Type: SettingTypeInt, Constraints: SettingConstraints{Max: floatPtr(30)}},
			raw:     "31",
			wantErr: true,
		},
		{
			name:    "not an int",
			setting: Setting{Type: SettingTypeInt},
			raw:     "six",
			wantErr: true,
		},
		{
			name:    "bool",
			setting: Setting{Type: SettingTypeBool},
			raw:     "true",
		},
		{
			name:    "enum member",
			setting: Setting{Type: SettingTypeEnum, Constraints: SettingConstraints{EnumValues: []string{"hls_ts", "cmaf"}}},
			raw:     "cmaf",
		},
		{
			name:    "enum outsider",
			setting: Setting{Type: SettingTypeEnum, Constraints: SettingConstraints{EnumValues: []string{"hls_ts", "cmaf"}}},
			raw:     "dash",
			wantErr: true,
		},
		{
			name:    "string with pattern",
			setting: Setting{Type: SettingTypeString, Constraints: SettingConstraints{Pattern: `^[a-z]+$`}},
			raw:     "abc",
		},
		{
			name:    "string failing pattern",
			setting: Setting{Type: SettingTypeString, Constraints: SettingConstraints{Pattern: `^[a-z]+$`}},
			raw:     "ABC",
			wantErr: true,
		},
		{
			name:    "string too short",
			setting: Setting{Type: SettingTypeString, Constraints: SettingConstraints{MinLength: intPtr(3)}},
			raw:     "ab",
			wantErr: true,
		},
		{
			name:    "valid json",
			setting: Setting{Type: SettingTypeJSON},
			raw:     `{"a":1}`,
		},
		{
			name:    "invalid json",
			setting: Setting{Type: SettingTypeJSON},
			raw:     `{"a":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.setting.ValidateValue(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSettingInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
