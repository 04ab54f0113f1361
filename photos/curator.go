// Package photos dedupes, ranks and resizes a listing's raw photo URLs.
package photos

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jbvcollective/Kozi-sub000/models"
)

const (
	MaxPrimary   = 12
	MaxSecondary = 8

	PrimarySize   = 1920
	SecondarySize = 1080

	orientationWeight = 100
	thumbnailPenalty  = 500

	firstPositionBonus = 50
	earlyPositionBonus = 15
)

// heroKeywords are path tokens suggesting an exterior/cover shot, strongest first.
var heroKeywords = []string{
	"front", "exterior", "facade", "hero", "main", "primary",
	"cover", "street", "elevation", "curb", "outside", "house",
}

var thumbnailHints = []string{"thumb", "small", "_sm.", "/sm/", "mini", "tiny"}

var (
	// sizeToken matches a width:height pair that stands as its own path or
	// query element, e.g. rs:fit:1920:1080. Times like T10:30:00 do not match.
	sizeToken   = regexp.MustCompile(`(^|[/?&=,;]|[A-Za-z]:)(\d{2,5}):(\d{2,5})($|[/?&=,;#.])`)
	widthParam  = regexp.MustCompile(`([?&;]width=)\d+`)
	heightParam = regexp.MustCompile(`([?&;]height=)\d+`)
)

type candidate struct {
	url         string
	signature   string
	resolution  int
	orientation int
	penalty     int
	hero        int
	position    int
}

func (c *candidate) quality() int {
	return c.resolution + c.orientation*orientationWeight - c.penalty
}

// Curator selects the best photos for a listing. The zero value is not
// usable; call NewCurator.
type Curator struct {
	maxPrimary   int
	maxSecondary int
}

// NewCurator returns a Curator with the standard output bounds.
func NewCurator() *Curator {
	return &Curator{maxPrimary: MaxPrimary, maxSecondary: MaxSecondary}
}

// Curate dedupes raw by base signature, orders the survivors hero-first and
// returns them resized for the primary and secondary resolutions.
// The result depends only on the content and order of raw.
func (c *Curator) Curate(raw []string) models.PhotoSet {
	ranked := rank(raw)

	set := models.PhotoSet{
		Primary:   make([]string, 0, min(len(ranked), c.maxPrimary)),
		Secondary: make([]string, 0, min(len(ranked), c.maxSecondary)),
	}
	for _, cand := range ranked {
		if len(set.Primary) < c.maxPrimary {
			set.Primary = append(set.Primary, Resize(cand.url, PrimarySize))
		}
		if len(set.Secondary) < c.maxSecondary {
			set.Secondary = append(set.Secondary, Resize(cand.url, SecondarySize))
		}
	}
	return set
}

// Dedupe returns one representative URL per base signature, in first-seen order.
func Dedupe(raw []string) []string {
	groups := group(raw)
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.url)
	}
	return out
}

// RequireMarker keeps only URLs containing marker. An empty marker keeps all.
func RequireMarker(urls []string, marker string) []string {
	if marker == "" {
		return urls
	}
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if strings.Contains(u, marker) {
			out = append(out, u)
		}
	}
	return out
}

func rank(raw []string) []*candidate {
	cands := group(raw)
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.hero != b.hero {
			return a.hero > b.hero
		}
		if a.resolution != b.resolution {
			return a.resolution > b.resolution
		}
		if a.orientation != b.orientation {
			return a.orientation > b.orientation
		}
		return a.position < b.position
	})
	return cands
}

// group collapses raw into one best candidate per signature, ordered by the
// feed position of each signature's first occurrence.
func group(raw []string) []*candidate {
	bySig := make(map[string]*candidate)
	var order []*candidate

	pos := 0
	for _, u := range raw {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		cand := newCandidate(u, pos)
		pos++

		best, ok := bySig[cand.signature]
		if !ok {
			bySig[cand.signature] = cand
			order = append(order, cand)
			continue
		}
		if cand.quality() > best.quality() {
			cand.position = best.position
			cand.hero = heroScore(cand.url, best.position)
			*best = *cand
		}
	}
	return order
}

func newCandidate(u string, position int) *candidate {
	w, h := dimensions(u)
	c := &candidate{
		url:       u,
		signature: Signature(u),
		position:  position,
		penalty:   thumbPenalty(u),
		hero:      heroScore(u, position),
	}
	if w > 0 && h > 0 {
		c.resolution = w * h / 1000
		ratio := float64(w) / float64(h)
		switch {
		case ratio >= 1.1:
			c.orientation = 1
		case ratio <= 0.9:
			c.orientation = -1
		}
	}
	return c
}

// Signature reduces a photo URL to origin+path, dropping query, fragment and
// any size token embedded in the path.
func Signature(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		s := raw
		if i := strings.IndexAny(s, "?#"); i >= 0 {
			s = s[:i]
		}
		return sizeToken.ReplaceAllString(s, "${1}*${4}")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + sizeToken.ReplaceAllString(u.EscapedPath(), "${1}*${4}")
}

// findSize locates the first size token after the URL's host. lo and hi
// bound the "W:H" text.
func findSize(raw string) (lo, hi, w, h int, ok bool) {
	base := 0
	if i := strings.Index(raw, "://"); i >= 0 {
		base = i + 3
		if j := strings.IndexAny(raw[base:], "/?#"); j >= 0 {
			base += j
		} else {
			base = len(raw)
		}
	}
	loc := sizeToken.FindStringSubmatchIndex(raw[base:])
	if loc == nil {
		return 0, 0, 0, 0, false
	}
	w, errW := strconv.Atoi(raw[base+loc[4] : base+loc[5]])
	h, errH := strconv.Atoi(raw[base+loc[6] : base+loc[7]])
	if errW != nil || errH != nil {
		return 0, 0, 0, 0, false
	}
	return base + loc[4], base + loc[7], w, h, true
}

// dimensions parses width and height from a W:H token or width=/height=
// query parameters. Zero means unknown.
func dimensions(raw string) (int, int) {
	if _, _, w, h, ok := findSize(raw); ok {
		return w, h
	}
	u, err := url.Parse(raw)
	if err != nil {
		return 0, 0
	}
	q := u.Query()
	w, errW := strconv.Atoi(q.Get("width"))
	h, errH := strconv.Atoi(q.Get("height"))
	if errW != nil || errH != nil {
		return 0, 0
	}
	return w, h
}

func thumbPenalty(raw string) int {
	lower := strings.ToLower(raw)
	for _, hint := range thumbnailHints {
		if strings.Contains(lower, hint) {
			return thumbnailPenalty
		}
	}
	return 0
}

func heroScore(raw string, position int) int {
	path := strings.ToLower(raw)
	if u, err := url.Parse(raw); err == nil {
		path = strings.ToLower(u.Path)
	}

	score := 0
	for i, kw := range heroKeywords {
		if strings.Contains(path, kw) {
			score += (len(heroKeywords) - i) * 10
		}
	}
	switch {
	case position == 0:
		score += firstPositionBonus
	case position <= 2:
		score += earlyPositionBonus
	}
	return score
}

// Resize rewrites the URL's size token (or width/height parameters) to a
// square fit of size. URLs with no size information are returned unchanged.
func Resize(raw string, size int) string {
	s := strconv.Itoa(size)
	if lo, hi, _, _, ok := findSize(raw); ok {
		return raw[:lo] + s + ":" + s + raw[hi:]
	}
	out := widthParam.ReplaceAllString(raw, "${1}"+s)
	return heightParam.ReplaceAllString(out, "${1}"+s)
}
