package vision

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/mmcdole/nexdl/internal/domain"
)

// HoverPath returns the sibling path of the hover-state template,
// "button.png" → "button_hover.png".
func HoverPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_hover" + ext
}

// LoadTemplates reads the normal template at path and its hover sibling.
// Either may be missing, but not both: that is domain.ErrNoTemplates.
func LoadTemplates(path string) (TemplateSet, error) {
	var set TemplateSet

	normal, err := loadTemplate(path, StateNormal)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return TemplateSet{}, err
	default:
		set.Normal = normal
	}

	hover, err := loadTemplate(HoverPath(path), StateHover)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return TemplateSet{}, err
	default:
		set.Hover = hover
	}

	if set.Normal == nil && set.Hover == nil {
		return TemplateSet{}, fmt.Errorf("%w: %s", domain.ErrNoTemplates, path)
	}
	return set, nil
}

func loadTemplate(path string, state TemplateState) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode template %s: %w", path, err)
	}
	g := toGray(img)
	if _, ok := newKernel(g); !ok {
		return nil, fmt.Errorf("template %s has no contrast", path)
	}
	return &Template{State: state, Image: g}, nil
}

// CaptureTemplate crops a w×h region centred on pos from capture and writes it
// to path as PNG. The crop is clamped to the capture. An existing file is never
// overwritten; written reports whether a file was created.
func CaptureTemplate(capture image.Image, pos domain.ClickPosition, w, h int, path string) (written bool, err error) {
	if w <= 0 || h <= 0 {
		return false, fmt.Errorf("invalid template size %dx%d", w, h)
	}
	rect := image.Rect(pos.X-w/2, pos.Y-h/2, pos.X-w/2+w, pos.Y-h/2+h).Intersect(capture.Bounds())
	if rect.Empty() {
		return false, fmt.Errorf("position %s is outside the capture", pos)
	}

	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			crop.Set(x, y, capture.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create template directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create template: %w", err)
	}
	if err := png.Encode(f, crop); err != nil {
		f.Close()
		os.Remove(path)
		return false, fmt.Errorf("failed to encode template: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("failed to write template: %w", err)
	}
	return true, nil
}
