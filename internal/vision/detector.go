// Package vision locates the download button in a screen capture by
// normalized cross-correlation against one or two reference templates.
//
// Matching is resolution sensitive: templates captured at one display scale
// will not match captures taken at another.
package vision

import (
	"image"

	"github.com/mmcdole/nexdl/internal/domain"
)

// DefaultThreshold is the minimum correlation accepted as a match.
const DefaultThreshold = 0.8

// coarseCandidates is how many coarse peaks are always refined at full resolution.
const coarseCandidates = 5

// coarseSlack extends refinement to every coarse peak scoring at least
// threshold-coarseSlack. Look-alike buttons that differ only in their label
// score alike once downscaled.
const coarseSlack = 0.25

// maxRefined bounds the coarse peaks refined for one template.
const maxRefined = 256

// minCoarseSide is the smallest template side kept after downscaling.
const minCoarseSide = 8

// TemplateState names the visual state a template was captured in.
type TemplateState string

const (
	StateNormal TemplateState = "normal"
	StateHover  TemplateState = "hover"
)

// Template is a grayscale reference image of the button.
type Template struct {
	State TemplateState
	Image *image.Gray
}

// TemplateSet holds the templates searched for each capture. Hover is optional.
type TemplateSet struct {
	Normal *Template
	Hover  *Template
}

// Match is a detected button.
type Match struct {
	Position domain.ClickPosition // centre of the matched rectangle
	Score    float64
	State    TemplateState
}

// Detector finds the best template match above a threshold.
type Detector struct {
	threshold float64
	scale     int
}

// NewDetector creates a detector. scale is the coarse search downscale factor;
// 1 searches every position at full resolution.
func NewDetector(threshold float64, scale int) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold, scale: max(scale, 1)}
}

// Threshold returns the minimum accepted score.
func (d *Detector) Threshold() float64 { return d.threshold }

// Detect searches capture for every template in set. When both states match,
// the higher score wins and an exact tie goes to the normal state.
func (d *Detector) Detect(capture image.Image, set TemplateSet) (Match, bool) {
	origin := capture.Bounds().Min
	g := toGray(capture)
	full := newIntegral(g)

	coarse := make(map[int]*pyramidLevel)

	var best Match
	found := false
	for _, t := range []*Template{set.Normal, set.Hover} {
		if t == nil || t.Image == nil {
			continue
		}
		at, score, ok := d.locate(g, full, coarse, t.Image)
		if !ok || score < d.threshold {
			continue
		}
		if found && score <= best.Score {
			continue
		}
		w, h := t.Image.Rect.Dx(), t.Image.Rect.Dy()
		best = Match{
			Position: domain.ClickPosition{X: origin.X + at.X + w/2, Y: origin.Y + at.Y + h/2},
			Score:    score,
			State:    t.State,
		}
		found = true
	}
	return best, found
}

type pyramidLevel struct {
	img *image.Gray
	in  integral
}

// locate finds the best position of tmpl in g, searching a downscaled copy
// first when the detector scale allows it.
func (d *Detector) locate(g *image.Gray, full integral, levels map[int]*pyramidLevel, tmpl *image.Gray) (image.Point, float64, bool) {
	k, ok := newKernel(toGray(tmpl))
	if !ok {
		return image.Point{}, 0, false
	}
	fine := newSearcher(g, full, k)
	if !fine.fits() {
		return image.Point{}, 0, false
	}

	factor := d.effectiveScale(k.w, k.h)
	if factor == 1 {
		at, score := fine.best(0, 0, g.Rect.Dx(), g.Rect.Dy())
		return at, score, true
	}

	level, ok := levels[factor]
	if !ok {
		small := downscale(g, factor)
		level = &pyramidLevel{img: small, in: newIntegral(small)}
		levels[factor] = level
	}
	ck, ok := newKernel(downscale(toGray(tmpl), factor))
	if !ok {
		at, score := fine.best(0, 0, g.Rect.Dx(), g.Rect.Dy())
		return at, score, true
	}
	coarse := newSearcher(level.img, level.in, ck)
	if !coarse.fits() {
		at, score := fine.best(0, 0, g.Rect.Dx(), g.Rect.Dy())
		return at, score, true
	}

	radius := 2 * factor
	var bestAt image.Point
	bestScore := -2.0
	for _, c := range coarse.candidates(coarseCandidates, maxRefined, d.threshold-coarseSlack) {
		x, y := c.at.X*factor, c.at.Y*factor
		at, score := fine.best(x-radius, y-radius, x+radius, y+radius)
		if score > bestScore {
			bestAt, bestScore = at, score
		}
	}
	return bestAt, bestScore, true
}

// effectiveScale lowers the configured factor until the downscaled template
// keeps enough detail to correlate.
func (d *Detector) effectiveScale(w, h int) int {
	f := d.scale
	for f > 1 && (w/f < minCoarseSide || h/f < minCoarseSide) {
		f--
	}
	return f
}
