// Package segment cuts sanitized lesson markup into an ordered sequence of
// markup and exercise segments around embedded exercise markers.
package segment

import (
	"strings"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"golang.org/x/net/html"
)

// Marker element contract shared with the upstream sanitizer allow-list.
// Renaming any of these is a breaking change.
const (
	MarkerClass    = "interactive-exercise"
	AttrExerciseID = "data-exercise-id"
	AttrType       = "data-type"
)

// voidElements never carry an end tag, so a marker on one of them is empty.
var voidElements = map[string]bool{
	"area": true, "br": true, "col": true, "embed": true, "hr": true, "img": true,
	"input": true, "link": true, "meta": true, "source": true, "track": true, "wbr": true,
}

// marker is a located marker element with its byte span in the input
type marker struct {
	start, end   int
	tag          string
	id           string
	exerciseType domain.ExerciseType
	text         string
}

// Segment splits markup around exercise markers in document order and joins
// each marker to its record through index. Markers with no record still yield
// an exercise segment with a nil Record. Markup segments hold exact byte
// ranges of the input; empty ranges are omitted.
func Segment(markup string, index map[string]domain.ExerciseRecord) []domain.Segment {
	if !mayContainMarker(markup) {
		return []domain.Segment{domain.MarkupSegment(markup)}
	}

	markers := scan(markup)
	if len(markers) == 0 {
		return []domain.Segment{domain.MarkupSegment(markup)}
	}

	segments := make([]domain.Segment, 0, 2*len(markers)+1)
	cursor := 0
	for _, m := range markers {
		if m.start > cursor {
			segments = append(segments, domain.MarkupSegment(markup[cursor:m.start]))
		}

		seg := domain.Segment{
			Kind:         domain.SegmentExercise,
			MarkerID:     m.id,
			ExerciseType: m.exerciseType,
			QuestionText: m.text,
			Raw:          markup[m.start:m.end],
		}
		if rec, ok := index[m.id]; ok {
			seg.Record = &rec
		}
		segments = append(segments, seg)
		cursor = m.end
	}
	if cursor < len(markup) {
		segments = append(segments, domain.MarkupSegment(markup[cursor:]))
	}

	return segments
}

// CountExercises returns the number of exercise segments
func CountExercises(segments []domain.Segment) (total, degraded int) {
	for _, s := range segments {
		if !s.IsExercise() {
			continue
		}
		total++
		if s.Degraded() {
			degraded++
		}
	}
	return total, degraded
}

// CountMarkers returns how many exercise markers a lesson contains
func CountMarkers(markup string) int {
	if !mayContainMarker(markup) {
		return 0
	}
	return len(scan(markup))
}

// mayContainMarker is the cheap pre-check for plain lessons
func mayContainMarker(markup string) bool {
	return strings.Contains(markup, MarkerClass) && strings.Contains(markup, AttrExerciseID)
}

// scan walks the token stream tracking raw byte offsets so segment
// boundaries map back onto the untouched input.
func scan(markup string) []marker {
	z := html.NewTokenizer(strings.NewReader(markup))

	var (
		markers []marker
		cur     *marker
		open    []string // elements open inside the current marker, marker first
		text    strings.Builder
		offset  int
	)

	finish := func(end int) {
		cur.end = end
		cur.text = strings.TrimSpace(text.String())
		markers = append(markers, *cur)
		cur = nil
		open = open[:0]
		text.Reset()
	}

	for {
		tt := z.Next()
		start := offset
		offset += len(z.Raw())
		if offset > len(markup) {
			offset = len(markup)
		}

		if tt == html.ErrorToken {
			break
		}

		// TagName may only be read once per token.
		var (
			name    string
			hasAttr bool
		)
		switch tt {
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			n, attr := z.TagName()
			name, hasAttr = string(n), attr
		}

		if cur != nil {
			switch tt {
			case html.TextToken:
				text.Write(z.Text())
				continue
			case html.EndTagToken:
				if i := lastIndex(open, name); i >= 0 {
					open = open[:i]
					if i == 0 {
						finish(offset)
					}
				} else if hasOptionalEnd(cur.tag) {
					// An ancestor's end tag closes the marker first.
					finish(start)
				}
				continue
			case html.StartTagToken:
				if !closesImplicitly(cur.tag, name, len(open)) {
					if !voidElements[name] {
						open = append(open, name)
					}
					continue
				}
				// The marker ends where this sibling begins; the sibling
				// may itself be a marker.
				finish(start)
			default:
				continue
			}
		}

		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		if !hasAttr {
			continue
		}

		m, ok := readMarker(z)
		if !ok {
			continue
		}
		m.start = start
		m.tag = name

		if tt == html.SelfClosingTagToken || voidElements[name] {
			m.end = offset
			markers = append(markers, m)
			continue
		}

		cur = &m
		open = append(open[:0], name)
		text.Reset()
	}

	// Unterminated marker runs to the end of input.
	if cur != nil {
		finish(len(markup))
	}

	return markers
}

// impliedEnd lists, for elements whose end tag may be omitted, the start tags
// that close them.
var impliedEnd = map[string]map[string]bool{
	"p": setOf("address", "article", "aside", "blockquote", "details", "div", "dl",
		"fieldset", "figcaption", "figure", "footer", "form", "h1", "h2", "h3", "h4", "h5",
		"h6", "header", "hgroup", "hr", "main", "menu", "nav", "ol", "p", "pre", "section",
		"table", "ul"),
	"li":     setOf("li"),
	"dt":     setOf("dt", "dd"),
	"dd":     setOf("dt", "dd"),
	"option": setOf("option", "optgroup"),
	"tr":     setOf("tr"),
	"td":     setOf("td", "th", "tr"),
	"th":     setOf("td", "th", "tr"),
}

func setOf(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func hasOptionalEnd(tag string) bool {
	_, ok := impliedEnd[tag]
	return ok
}

// closesImplicitly reports whether start tag next ends an open marker element.
// A paragraph closes even with inline children open; the others only when
// next would be their direct sibling.
func closesImplicitly(tag, next string, depth int) bool {
	if !impliedEnd[tag][next] {
		return false
	}
	return tag == "p" || depth == 1
}

func lastIndex(stack []string, name string) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == name {
			return i
		}
	}
	return -1
}

// readMarker consumes the attributes of the current tag and reports whether
// it carries the marker class/attribute pair.
func readMarker(z *html.Tokenizer) (marker, bool) {
	var (
		m        marker
		hasClass bool
		hasID    bool
		rawType  string
	)

	for {
		key, val, more := z.TagAttr()
		switch string(key) {
		case "class":
			hasClass = hasClassToken(string(val), MarkerClass)
		case AttrExerciseID:
			m.id = string(val)
			hasID = true
		case AttrType:
			rawType = string(val)
		}
		if !more {
			break
		}
	}

	if !hasClass || !hasID {
		return marker{}, false
	}
	m.exerciseType = domain.ParseExerciseType(rawType)
	return m, true
}

func hasClassToken(class, want string) bool {
	for _, c := range strings.Fields(class) {
		if c == want {
			return true
		}
	}
	return false
}
