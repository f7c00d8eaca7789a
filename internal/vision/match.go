package vision

import (
	"image"
	"math"
	"slices"
)

// minVariance is the per-pixel variance below which a patch is treated as flat.
const minVariance = 1e-6

// integral holds summed-area tables of pixel values and squared values, so the
// mean and variance of any window are O(1).
type integral struct {
	stride int
	sum    []float64
	sq     []float64
}

func newIntegral(g *image.Gray) integral {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	stride := w + 1
	in := integral{
		stride: stride,
		sum:    make([]float64, stride*(h+1)),
		sq:     make([]float64, stride*(h+1)),
	}
	for y := 0; y < h; y++ {
		var rowSum, rowSq float64
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for x, p := range row {
			v := float64(p)
			rowSum += v
			rowSq += v * v
			i := (y+1)*stride + x + 1
			in.sum[i] = in.sum[i-stride] + rowSum
			in.sq[i] = in.sq[i-stride] + rowSq
		}
	}
	return in
}

// window returns the sum and sum of squares of the w×h window at (x, y).
func (in integral) window(x, y, w, h int) (float64, float64) {
	a := y*in.stride + x
	b := a + w
	c := (y+h)*in.stride + x
	d := c + w
	return in.sum[d] - in.sum[b] - in.sum[c] + in.sum[a],
		in.sq[d] - in.sq[b] - in.sq[c] + in.sq[a]
}

// kernel is a template with its mean removed.
type kernel struct {
	w, h int
	zero []float64
	norm float64
}

// newKernel prepares t for correlation. ok is false for a flat template,
// which cannot be normalized.
func newKernel(t *image.Gray) (kernel, bool) {
	w, h := t.Rect.Dx(), t.Rect.Dy()
	if w == 0 || h == 0 {
		return kernel{}, false
	}
	n := float64(w * h)
	var sum float64
	for y := 0; y < h; y++ {
		for _, p := range t.Pix[y*t.Stride : y*t.Stride+w] {
			sum += float64(p)
		}
	}
	mean := sum / n

	k := kernel{w: w, h: h, zero: make([]float64, w*h)}
	var sq float64
	for y := 0; y < h; y++ {
		for x, p := range t.Pix[y*t.Stride : y*t.Stride+w] {
			d := float64(p) - mean
			k.zero[y*w+x] = d
			sq += d * d
		}
	}
	if sq/n < minVariance {
		return kernel{}, false
	}
	k.norm = math.Sqrt(sq)
	return k, true
}

// searcher scores one kernel against one image.
type searcher struct {
	img *image.Gray
	in  integral
	k   kernel
}

func newSearcher(img *image.Gray, in integral, k kernel) searcher {
	return searcher{img: img, in: in, k: k}
}

// fits reports whether the kernel fits inside the image at all.
func (s searcher) fits() bool {
	return s.k.w <= s.img.Rect.Dx() && s.k.h <= s.img.Rect.Dy()
}

// score is the normalized correlation coefficient at (x, y), in [-1, 1].
// A flat image window scores 0.
func (s searcher) score(x, y int) float64 {
	k := s.k
	var cross float64
	for v := 0; v < k.h; v++ {
		off := (y+v)*s.img.Stride + x
		row := s.img.Pix[off : off+k.w]
		krow := k.zero[v*k.w : (v+1)*k.w]
		for u, p := range row {
			cross += krow[u] * float64(p)
		}
	}

	n := float64(k.w * k.h)
	sum, sq := s.in.window(x, y, k.w, k.h)
	variance := sq - sum*sum/n
	if variance/n < minVariance {
		return 0
	}
	r := cross / (k.norm * math.Sqrt(variance))
	return max(-1, min(1, r))
}

// best scans every position in the rectangle [x0,x1]×[y0,y1] (inclusive,
// clamped to valid positions) and returns the highest score.
func (s searcher) best(x0, y0, x1, y1 int) (image.Point, float64) {
	maxX := s.img.Rect.Dx() - s.k.w
	maxY := s.img.Rect.Dy() - s.k.h
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, maxX), min(y1, maxY)

	bestAt, bestScore := image.Point{X: x0, Y: y0}, math.Inf(-1)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			if sc := s.score(x, y); sc > bestScore {
				bestAt, bestScore = image.Point{X: x, Y: y}, sc
			}
		}
	}
	return bestAt, bestScore
}

type candidate struct {
	at    image.Point
	score float64
}

// candidates returns local maxima of the score map, strongest first: at least
// k of them, then every further one scoring floor or more, never more than
// limit. Positions closer than half a template to a stronger pick are suppressed.
func (s searcher) candidates(k, limit int, floor float64) []candidate {
	maxX := s.img.Rect.Dx() - s.k.w
	maxY := s.img.Rect.Dy() - s.k.h
	all := make([]candidate, 0, (maxX+1)*(maxY+1))
	for y := 0; y <= maxY; y++ {
		for x := 0; x <= maxX; x++ {
			all = append(all, candidate{at: image.Point{X: x, Y: y}, score: s.score(x, y)})
		}
	}
	slices.SortStableFunc(all, func(a, b candidate) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})

	rx, ry := max(s.k.w/2, 1), max(s.k.h/2, 1)
	var picked []candidate
	for _, c := range all {
		if len(picked) == limit || (len(picked) >= k && c.score < floor) {
			break
		}
		suppressed := false
		for _, p := range picked {
			if abs(c.at.X-p.at.X) < rx && abs(c.at.Y-p.at.Y) < ry {
				suppressed = true
				break
			}
		}
		if !suppressed {
			picked = append(picked, c)
		}
	}
	return picked
}

// MatchTemplate exhaustively correlates tmpl against img and returns the
// top-left corner of the best window with its score. ok is false when the
// template is flat or larger than the image.
func MatchTemplate(img, tmpl image.Image) (at image.Point, score float64, ok bool) {
	g := toGray(img)
	k, ok := newKernel(toGray(tmpl))
	if !ok {
		return image.Point{}, 0, false
	}
	s := newSearcher(g, newIntegral(g), k)
	if !s.fits() {
		return image.Point{}, 0, false
	}
	at, score = s.best(0, 0, g.Rect.Dx(), g.Rect.Dy())
	return at, score, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
