package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriorityInterval(t *testing.T) {
	assert.Equal(t, 5*time.Minute, PriorityHigh.Interval())
	assert.Equal(t, 20*time.Minute, PriorityNormal.Interval())
	assert.Equal(t, 55*time.Minute, PriorityLow.Interval())
	assert.Equal(t, 20*time.Minute, Priority("").Interval())
}

func TestAttachable_CapsAtFour(t *testing.T) {
	media := make([]Media, 6)
	for i := range media {
		media[i] = Media{Type: MediaImage, URL: "u"}
	}
	assert.Len(t, Attachable(media, false), MaxAttachments)
}

func TestAttachable_DropsPreviewsWhenVideoPresent(t *testing.T) {
	media := []Media{
		{Type: MediaLinkCard, URL: "card"},
		{Type: MediaVideoThumbnail, URL: "thumb"},
		{Type: MediaImage, URL: "img"},
	}

	kept := Attachable(media, true)
	assert.Len(t, kept, 1)
	assert.Equal(t, MediaImage, kept[0].Type)

	// Without a playable video everything stays.
	assert.Len(t, Attachable(media, false), 3)
}

func TestSourceConfigValidate_YouTubeNeedsChannelID(t *testing.T) {
	cfg := &SourceConfig{ID: "tube", Platform: PlatformYouTube, TargetAccount: "t"}
	err := cfg.Validate()
	var configErr *ConfigError
	assert.True(t, errors.As(err, &configErr))

	cfg.Source.ChannelID = "UCabc"
	assert.NoError(t, cfg.Validate())
}

func TestInSkipWindow(t *testing.T) {
	cfg := &SourceConfig{Scheduling: SchedulingConfig{SkipHours: []int{2, 3}}}
	assert.True(t, cfg.InSkipWindow(time.Date(2025, 6, 1, 2, 30, 0, 0, time.UTC)))
	assert.False(t, cfg.InSkipWindow(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))
}

func TestTransientf(t *testing.T) {
	err := Transientf("feed returned %d", 503)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "503")
}

func TestPostRawHelpers(t *testing.T) {
	var p Post
	assert.False(t, p.RawBool(RawKeyTruncated))
	p.SetRaw(RawKeyTruncated, true)
	assert.True(t, p.RawBool(RawKeyTruncated))
}
