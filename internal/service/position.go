package service

import (
	"context"
	"log/slog"

	"github.com/mmcdole/nexdl/internal/domain"
	"github.com/mmcdole/nexdl/internal/vision"
)

// PositionSource decides where to click for each item.
//
// In manual mode it replays one coordinate for the whole run. In auto mode it
// captures the screen and runs the detector every time, and never falls back
// to an earlier coordinate.
type PositionSource struct {
	mode      domain.PositionMode
	recorded  *domain.ClickPosition
	screen    domain.Browser
	detector  *vision.Detector
	templates vision.TemplateSet
	logger    *slog.Logger
}

// NewManualPositions creates a manual source. preset may be nil, in which case
// a position must be recorded before Resolve succeeds.
func NewManualPositions(preset *domain.ClickPosition, logger *slog.Logger) *PositionSource {
	if logger == nil {
		logger = slog.Default()
	}
	p := &PositionSource{mode: domain.PositionManual, logger: logger}
	if preset != nil && !preset.IsZero() {
		pos := *preset
		p.recorded = &pos
	}
	return p
}

// NewAutoPositions creates a source that locates the button on every capture.
func NewAutoPositions(screen domain.Browser, detector *vision.Detector, templates vision.TemplateSet, logger *slog.Logger) *PositionSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PositionSource{
		mode:      domain.PositionAuto,
		screen:    screen,
		detector:  detector,
		templates: templates,
		logger:    logger,
	}
}

// Mode returns how positions are obtained.
func (p *PositionSource) Mode() domain.PositionMode { return p.mode }

// HasPosition reports whether manual mode has a coordinate to replay.
func (p *PositionSource) HasPosition() bool { return p.recorded != nil }

// Record stores the manual coordinate for the rest of the run.
func (p *PositionSource) Record(pos domain.ClickPosition) {
	p.recorded = &pos
	p.logger.Info("click position recorded", "x", pos.X, "y", pos.Y)
}

// Resolve returns where to click. Resolution failures are
// domain.ErrNoClickPosition and domain.ErrButtonNotFound; a failed capture is
// a *domain.ActionError.
func (p *PositionSource) Resolve(ctx context.Context) (domain.ClickPosition, error) {
	if p.mode == domain.PositionManual {
		if p.recorded == nil {
			return domain.ClickPosition{}, domain.ErrNoClickPosition
		}
		return *p.recorded, nil
	}

	capture, err := p.screen.Screenshot(ctx)
	if err != nil {
		return domain.ClickPosition{}, &domain.ActionError{Op: "screenshot", Err: err}
	}
	match, ok := p.detector.Detect(capture, p.templates)
	if !ok {
		p.logger.Debug("button not found", "threshold", p.detector.Threshold())
		return domain.ClickPosition{}, domain.ErrButtonNotFound
	}
	p.logger.Debug("button located",
		"x", match.Position.X,
		"y", match.Position.Y,
		"score", match.Score,
		"state", match.State,
	)
	return match.Position, nil
}
