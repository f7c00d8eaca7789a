package browser

import (
	"context"
	"errors"
	"image"
	"image/color"
	"log/slog"

	"github.com/mmcdole/nexdl/internal/domain"
)

// DryRun performs no browser actions. It logs what would happen and keeps
// tab accounting, so a run can be rehearsed without touching the network.
type DryRun struct {
	width, height int
	open          int
	opened        int
	closed        int
	clicks        int
	logger        *slog.Logger
}

// NewDryRun creates a dry-run browser with the given viewport size.
func NewDryRun(width, height int, logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{width: width, height: height, logger: logger}
}

func (b *DryRun) OpenURL(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.open++
	b.opened++
	b.logger.Info("dry-run: open", "url", url, "open_tabs", b.open)
	return nil
}

// Screenshot returns a blank capture, which never matches a template.
func (b *DryRun) Screenshot(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img := image.NewGray(image.Rect(0, 0, b.width, b.height))
	for i := range img.Pix {
		img.Pix[i] = uint8(color.White.Y >> 8)
	}
	return img, nil
}

func (b *DryRun) Click(ctx context.Context, x, y int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.open == 0 {
		return errors.New("no tab open")
	}
	b.clicks++
	b.logger.Info("dry-run: click", "x", x, "y", y)
	return nil
}

func (b *DryRun) CloseTab(context.Context) error {
	if b.open == 0 {
		return errors.New("no tab open")
	}
	b.open--
	b.closed++
	b.logger.Info("dry-run: close", "open_tabs", b.open)
	return nil
}

// RecordClick pretends the user clicked the centre of the viewport.
func (b *DryRun) RecordClick(ctx context.Context) (domain.ClickPosition, error) {
	if err := ctx.Err(); err != nil {
		return domain.ClickPosition{}, err
	}
	return domain.ClickPosition{X: b.width / 2, Y: b.height / 2}, nil
}

// Stats reports tabs opened, tabs closed and clicks performed so far.
func (b *DryRun) Stats() (opened, closed, clicks int) {
	return b.opened, b.closed, b.clicks
}

// OpenTabs returns how many tabs are currently open.
func (b *DryRun) OpenTabs() int { return b.open }

func (b *DryRun) Close() error {
	if b.open > 0 {
		b.logger.Warn("dry-run: tabs left open", "open_tabs", b.open)
	}
	return nil
}
