package service

import (
	"context"
	"image"
	"testing"

	"github.com/mmcdole/nexdl/internal/domain"
	"github.com/mmcdole/nexdl/internal/vision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionSource_Manual(t *testing.T) {
	p := NewManualPositions(nil, nil)
	assert.Equal(t, domain.PositionManual, p.Mode())
	assert.False(t, p.HasPosition())

	_, err := p.Resolve(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoClickPosition)

	p.Record(domain.ClickPosition{X: 10, Y: 20})
	pos, err := p.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ClickPosition{X: 10, Y: 20}, pos)
}

func TestPositionSource_ZeroPresetMeansUnset(t *testing.T) {
	p := NewManualPositions(&domain.ClickPosition{}, nil)
	assert.False(t, p.HasPosition())
}

func TestPositionSource_AutoNeverReusesOldMatch(t *testing.T) {
	capture := noiseCapture(20, 120, 90)
	set := vision.TemplateSet{Normal: &vision.Template{
		State: vision.StateNormal,
		Image: cropGray(capture, image.Rect(10, 10, 40, 30)),
	}}
	b := &fakeBrowser{capture: capture}
	p := NewAutoPositions(b, vision.NewDetector(0.8, 1), set, nil)

	pos, err := p.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ClickPosition{X: 25, Y: 20}, pos)

	b.capture = noiseCapture(21, 120, 90)
	_, err = p.Resolve(context.Background())
	assert.ErrorIs(t, err, domain.ErrButtonNotFound)
}

func TestPositionSource_AutoScreenshotFailure(t *testing.T) {
	p := NewAutoPositions(&fakeBrowser{}, vision.NewDetector(0.8, 1), vision.TemplateSet{}, nil)
	_, err := p.Resolve(context.Background())
	var actionErr *domain.ActionError
	assert.ErrorAs(t, err, &actionErr)
}
