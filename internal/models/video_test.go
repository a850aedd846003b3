package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidSlug(t *testing.T) {
	tests := []struct {
		slug string
		want bool
	}{
		{"my-video", true},
		{"a", true},
		{"video-2024-part-1", true},
		{"123", true},

		{"", false},
		{"../a", false},
		{"a/../b", false},
		{"A-B", false},
		{"a b", false},
		{"a--b", false},
		{"-a", false},
		{"a-", false},
		{`a\b`, false},
		{"a.b", false},
		{"a_b", false},
	}

	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidSlug(tt.slug), "slug %q", tt.slug)
		})
	}
}

func TestVideo_Validate(t *testing.T) {
	v := Video{Slug: "my-video", Title: "My Video"}
	assert.NoError(t, v.Validate())

	v.Slug = "My-Video"
	assert.ErrorIs(t, v.Validate(), ErrInvalidSlug)

	v.Slug = "my-video"
	v.Title = ""
	assert.ErrorIs(t, v.Validate(), ErrTitleRequired)
}

func TestQuality_AtLeast(t *testing.T) {
	assert.True(t, Quality720p.AtLeast(Quality480p))
	assert.True(t, Quality480p.AtLeast(Quality480p))
	assert.False(t, Quality360p.AtLeast(Quality480p))
	assert.True(t, QualityOriginal.AtLeast(Quality2160p))
}
