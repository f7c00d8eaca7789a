package vision

import (
	"image"
	"image/color"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/mmcdole/nexdl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noise(seed uint64, w, h int) *image.Gray {
	r := rand.New(rand.NewPCG(seed, seed+1))
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = uint8(r.IntN(256))
	}
	return g
}

// blocks is random noise made of block×block squares, so it survives downscaling.
func blocks(seed uint64, w, h, block int) *image.Gray {
	r := rand.New(rand.NewPCG(seed, seed+1))
	g := image.NewGray(image.Rect(0, 0, w, h))
	for by := 0; by < h; by += block {
		for bx := 0; bx < w; bx += block {
			v := uint8(r.IntN(256))
			for y := by; y < min(by+block, h); y++ {
				for x := bx; x < min(bx+block, w); x++ {
					g.SetGray(x, y, color.Gray{Y: v})
				}
			}
		}
	}
	return g
}

func crop(g *image.Gray, r image.Rectangle) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			out.SetGray(x, y, g.GrayAt(r.Min.X+x, r.Min.Y+y))
		}
	}
	return out
}

func TestMatchTemplate_Exact(t *testing.T) {
	capture := noise(1, 120, 90)
	tmpl := crop(capture, image.Rect(37, 21, 57, 36))

	at, score, ok := MatchTemplate(capture, tmpl)
	require.True(t, ok)
	assert.Equal(t, image.Point{X: 37, Y: 21}, at)
	assert.InDelta(t, 1.0, score, 1e-6)
}

func TestMatchTemplate_FlatTemplate(t *testing.T) {
	flat := image.NewGray(image.Rect(0, 0, 10, 10))
	_, _, ok := MatchTemplate(noise(2, 50, 50), flat)
	assert.False(t, ok)
}

func TestMatchTemplate_TemplateLargerThanCapture(t *testing.T) {
	_, _, ok := MatchTemplate(noise(3, 20, 20), noise(4, 30, 10))
	assert.False(t, ok)
}

func TestDetect_ReturnsCentre(t *testing.T) {
	capture := noise(5, 120, 90)
	set := TemplateSet{Normal: &Template{State: StateNormal, Image: crop(capture, image.Rect(37, 21, 57, 36))}}

	m, ok := NewDetector(0.8, 1).Detect(capture, set)
	require.True(t, ok)
	assert.Equal(t, domain.ClickPosition{X: 47, Y: 28}, m.Position)
	assert.Equal(t, StateNormal, m.State)
}

func TestDetect_CoarseToFine(t *testing.T) {
	capture := blocks(6, 256, 192, 8)
	rect := image.Rect(83, 61, 83+64, 61+48)
	set := TemplateSet{Normal: &Template{State: StateNormal, Image: crop(capture, rect)}}

	m, ok := NewDetector(0.8, 2).Detect(capture, set)
	require.True(t, ok)
	assert.Equal(t, domain.ClickPosition{X: 83 + 32, Y: 61 + 24}, m.Position)
	assert.InDelta(t, 1.0, m.Score, 1e-6)
}

func TestDetect_RejectsBelowThreshold(t *testing.T) {
	capture := noise(7, 120, 90)
	unrelated := crop(noise(8, 120, 90), image.Rect(0, 0, 20, 15))
	set := TemplateSet{Normal: &Template{State: StateNormal, Image: unrelated}}

	_, ok := NewDetector(0.8, 1).Detect(capture, set)
	assert.False(t, ok)
}

func TestDetect_HigherScoreWins(t *testing.T) {
	capture := noise(9, 160, 120)
	hoverRect := image.Rect(100, 80, 120, 95)
	normalRect := image.Rect(10, 10, 30, 25)

	// A lightly perturbed normal template still matches, but below the exact hover.
	normal := crop(capture, normalRect)
	r := rand.New(rand.NewPCG(10, 11))
	for i, p := range normal.Pix {
		normal.Pix[i] = uint8(max(0, min(255, int(p)+r.IntN(41)-20)))
	}

	set := TemplateSet{
		Normal: &Template{State: StateNormal, Image: normal},
		Hover:  &Template{State: StateHover, Image: crop(capture, hoverRect)},
	}

	_, normalScore, ok := MatchTemplate(capture, normal)
	require.True(t, ok)
	require.GreaterOrEqual(t, normalScore, 0.8)

	m, ok := NewDetector(0.8, 1).Detect(capture, set)
	require.True(t, ok)
	assert.Equal(t, StateHover, m.State)
	assert.Equal(t, domain.ClickPosition{X: 110, Y: 87}, m.Position)
}

func TestDetect_TieGoesToNormal(t *testing.T) {
	capture := noise(12, 100, 80)
	tmpl := crop(capture, image.Rect(40, 30, 60, 45))
	set := TemplateSet{
		Normal: &Template{State: StateNormal, Image: tmpl},
		Hover:  &Template{State: StateHover, Image: tmpl},
	}

	m, ok := NewDetector(0.8, 1).Detect(capture, set)
	require.True(t, ok)
	assert.Equal(t, StateNormal, m.State)
}

func TestDetect_OnlyHoverMatches(t *testing.T) {
	capture := noise(13, 100, 80)
	set := TemplateSet{
		Normal: &Template{State: StateNormal, Image: crop(noise(14, 40, 40), image.Rect(0, 0, 20, 15))},
		Hover:  &Template{State: StateHover, Image: crop(capture, image.Rect(5, 5, 25, 20))},
	}

	m, ok := NewDetector(0.8, 1).Detect(capture, set)
	require.True(t, ok)
	assert.Equal(t, StateHover, m.State)
	assert.Equal(t, domain.ClickPosition{X: 15, Y: 12}, m.Position)
}

func TestDetect_OffsetCaptureBounds(t *testing.T) {
	base := noise(15, 100, 80)
	tmpl := crop(base, image.Rect(40, 30, 60, 45))
	shifted := base.SubImage(image.Rect(10, 10, 100, 80)).(*image.Gray)

	m, ok := NewDetector(0.8, 1).Detect(shifted, TemplateSet{Normal: &Template{State: StateNormal, Image: tmpl}})
	require.True(t, ok)
	assert.Equal(t, domain.ClickPosition{X: 50, Y: 37}, m.Position)
}

func TestCaptureAndLoadTemplates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates", "button.png")
	before := noise(16, 200, 150)
	after := noise(17, 200, 150)
	pos := domain.ClickPosition{X: 100, Y: 75}

	written, err := CaptureTemplate(before, pos, 40, 20, path)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = CaptureTemplate(after, pos, 40, 20, path)
	require.NoError(t, err)
	assert.False(t, written, "existing template must be kept")

	written, err = CaptureTemplate(after, pos, 40, 20, HoverPath(path))
	require.NoError(t, err)
	assert.True(t, written)

	set, err := LoadTemplates(path)
	require.NoError(t, err)
	require.NotNil(t, set.Normal)
	require.NotNil(t, set.Hover)
	assert.Equal(t, crop(before, image.Rect(80, 65, 120, 85)).Pix, set.Normal.Image.Pix)

	m, ok := NewDetector(0.8, 1).Detect(after, set)
	require.True(t, ok)
	assert.Equal(t, StateHover, m.State)
	assert.Equal(t, pos, m.Position)
}

func TestLoadTemplates_Missing(t *testing.T) {
	_, err := LoadTemplates(filepath.Join(t.TempDir(), "nope.png"))
	assert.ErrorIs(t, err, domain.ErrNoTemplates)
}

func TestHoverPath(t *testing.T) {
	assert.Equal(t, "templates/slow_download_button_hover.png", HoverPath("templates/slow_download_button.png"))
}

func TestLoadTemplates_HoverOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "button.png")
	_, err := CaptureTemplate(noise(18, 100, 100), domain.ClickPosition{X: 50, Y: 50}, 30, 20, HoverPath(path))
	require.NoError(t, err)

	set, err := LoadTemplates(path)
	require.NoError(t, err)
	assert.Nil(t, set.Normal)
	require.NotNil(t, set.Hover)
	assert.Equal(t, StateHover, set.Hover.State)
}

// drawButton paints a bordered w×h button at (x, y). A labeled button carries
// a one-pixel checkerboard label; an unlabeled one a flat label of the same mean.
func drawButton(g *image.Gray, x, y, w, h int, labeled bool) {
	for dy := 0; dy < h; dy++ {
		for dx := 0; dx < w; dx++ {
			v := uint8(120)
			if dx < 2 || dy < 2 || dx >= w-2 || dy >= h-2 {
				v = 40
			}
			g.SetGray(x+dx, y+dy, color.Gray{Y: v})
		}
	}
	lw, lh := w/2, h/3
	lx, ly := x+(w-lw)/2, y+(h-lh)/2
	for dy := 0; dy < lh; dy++ {
		for dx := 0; dx < lw; dx++ {
			v := uint8(128)
			if labeled {
				v = 0
				if (dx+dy)%2 == 0 {
					v = 255
				}
			}
			g.SetGray(lx+dx, ly+dy, color.Gray{Y: v})
		}
	}
}

func TestDetect_LookAlikeButtonsAtCoarseScale(t *testing.T) {
	const w, h = 120, 40
	capture := image.NewGray(image.Rect(0, 0, 800, 600))
	for i := range capture.Pix {
		capture.Pix[i] = 200
	}
	for _, at := range []image.Point{{40, 60}, {240, 60}, {440, 60}, {40, 220}, {240, 220}, {440, 220}} {
		drawButton(capture, at.X, at.Y, w, h, false)
	}
	drawButton(capture, 350, 420, w, h, true)
	tmpl := crop(capture, image.Rect(350, 420, 350+w, 420+h))
	set := TemplateSet{Normal: &Template{State: StateNormal, Image: tmpl}}

	m, ok := NewDetector(0.8, 4).Detect(capture, set)
	require.True(t, ok, "the labeled button must be found among look-alikes")
	assert.Equal(t, domain.ClickPosition{X: 350 + w/2, Y: 420 + h/2}, m.Position)
	assert.InDelta(t, 1.0, m.Score, 1e-6)
}

func TestDetect_HigherScoreWinsAtCoarseScale(t *testing.T) {
	capture := blocks(20, 480, 360, 8)
	normalRect := image.Rect(43, 37, 43+64, 37+48)
	hoverRect := image.Rect(301, 205, 301+64, 205+48)

	normal := crop(capture, normalRect)
	r := rand.New(rand.NewPCG(21, 22))
	for i, p := range normal.Pix {
		normal.Pix[i] = uint8(max(0, min(255, int(p)+r.IntN(41)-20)))
	}
	set := TemplateSet{
		Normal: &Template{State: StateNormal, Image: normal},
		Hover:  &Template{State: StateHover, Image: crop(capture, hoverRect)},
	}

	m, ok := NewDetector(0.8, 4).Detect(capture, set)
	require.True(t, ok)
	assert.Equal(t, StateHover, m.State)
	assert.Equal(t, domain.ClickPosition{X: 301 + 32, Y: 205 + 24}, m.Position)
	assert.InDelta(t, 1.0, m.Score, 1e-6)
}

func TestDetect_TieGoesToNormalAtCoarseScale(t *testing.T) {
	capture := blocks(23, 480, 360, 8)
	tmpl := crop(capture, image.Rect(150, 100, 150+64, 100+48))
	set := TemplateSet{
		Normal: &Template{State: StateNormal, Image: tmpl},
		Hover:  &Template{State: StateHover, Image: tmpl},
	}

	m, ok := NewDetector(0.8, 4).Detect(capture, set)
	require.True(t, ok)
	assert.Equal(t, StateNormal, m.State)
	assert.Equal(t, domain.ClickPosition{X: 150 + 32, Y: 100 + 24}, m.Position)
}
