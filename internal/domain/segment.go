package domain

// SegmentKind discriminates the ContentSegment variant
type SegmentKind string

const (
	SegmentMarkup   SegmentKind = "markup"
	SegmentExercise SegmentKind = "exercise"
)

// Segment is one contiguous unit of renderable lesson content: either literal
// markup or an exercise placeholder. Sequences are in document order.
type Segment struct {
	Kind SegmentKind `json:"kind"`

	// Markup variant
	HTML string `json:"html,omitempty"`

	// Exercise variant
	MarkerID     string          `json:"markerId,omitempty"`
	ExerciseType ExerciseType    `json:"exerciseType,omitempty"`
	QuestionText string          `json:"questionText,omitempty"`
	Raw          string          `json:"-"`
	Record       *ExerciseRecord `json:"record,omitempty"`
}

// MarkupSegment creates a markup segment
func MarkupSegment(html string) Segment {
	return Segment{Kind: SegmentMarkup, HTML: html}
}

// IsExercise reports whether the segment is an exercise placeholder
func (s Segment) IsExercise() bool {
	return s.Kind == SegmentExercise
}

// Degraded reports whether an exercise segment has no matching record
func (s Segment) Degraded() bool {
	return s.IsExercise() && s.Record == nil
}

// Source returns the exact input bytes the segment was cut from.
// Concatenating Source over a segment sequence reconstructs the lesson markup.
func (s Segment) Source() string {
	if s.IsExercise() {
		return s.Raw
	}
	return s.HTML
}

// Reassemble concatenates segment sources in order
func Reassemble(segments []Segment) string {
	n := 0
	for _, s := range segments {
		n += len(s.Source())
	}
	buf := make([]byte, 0, n)
	for _, s := range segments {
		buf = append(buf, s.Source()...)
	}
	return string(buf)
}
