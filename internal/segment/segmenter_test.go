package segment

import (
	"fmt"
	"strings"
	"testing"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
)

const scenarioA = `<p>Intro</p><span class="interactive-exercise" data-exercise-id="ex-1" data-type="MATH_PROBLEM">2+2=?</span><p>Outro</p>`

func TestSegment_ScenarioA(t *testing.T) {
	index := map[string]domain.ExerciseRecord{
		"ex-1": {ID: "rec-1", Hint1: "Think pairs", XPReward: 10, OriginalPosition: "ex-1"},
	}

	segments := Segment(scenarioA, index)

	if len(segments) != 3 {
		t.Fatalf("len(segments) = %d, want 3", len(segments))
	}

	if segments[0].Kind != domain.SegmentMarkup || segments[0].HTML != "<p>Intro</p>" {
		t.Errorf("segments[0] = %+v, want Markup(<p>Intro</p>)", segments[0])
	}

	ex := segments[1]
	if !ex.IsExercise() {
		t.Fatalf("segments[1].Kind = %q, want exercise", ex.Kind)
	}
	if ex.MarkerID != "ex-1" {
		t.Errorf("MarkerID = %q, want ex-1", ex.MarkerID)
	}
	if ex.ExerciseType != domain.ExerciseMathProblem {
		t.Errorf("ExerciseType = %q, want MATH_PROBLEM", ex.ExerciseType)
	}
	if ex.QuestionText != "2+2=?" {
		t.Errorf("QuestionText = %q, want 2+2=?", ex.QuestionText)
	}
	if ex.Record == nil || ex.Record.Hint1 != "Think pairs" {
		t.Errorf("Record = %+v, want joined record", ex.Record)
	}

	if segments[2].Kind != domain.SegmentMarkup || segments[2].HTML != "<p>Outro</p>" {
		t.Errorf("segments[2] = %+v, want Markup(<p>Outro</p>)", segments[2])
	}
}

func TestSegment_Reconstructs(t *testing.T) {
	tests := []struct {
		name    string
		markup  string
		markers int
	}{
		{"empty", "", 0},
		{"plain lesson", "<h1>Fractions</h1><p>No exercises here.</p>", 0},
		{"scenario A", scenarioA, 1},
		{
			"adjacent markers",
			`<span class="interactive-exercise" data-exercise-id="a">A</span><span class="interactive-exercise" data-exercise-id="b">B</span>`,
			2,
		},
		{
			"duplicate ids",
			`<p>x</p><span class="interactive-exercise" data-exercise-id="a">A</span><p>y</p><span class="interactive-exercise" data-exercise-id="a">A again</span>`,
			2,
		},
		{
			"nested markup inside marker",
			`<ul><li>one</li></ul><span class="interactive-exercise" data-exercise-id="n" data-type="SHORT_ANSWER">Why <em>is</em> <span>sky</span> blue?</span><table><tr><td>t</td></tr></table>`,
			1,
		},
		{
			"entities and attributes kept verbatim",
			`<p class="lead">Tom &amp; Jerry</p><span data-type="TRUE_FALSE" class="note interactive-exercise" data-exercise-id="tf">1 &lt; 2</span><img src="a.png" alt="A" loading="lazy" width="10" height="10">`,
			1,
		},
		{
			"class without id is not a marker",
			`<span class="interactive-exercise">loose</span><p>data-exercise-id mention</p>`,
			0,
		},
		{
			"unterminated marker",
			`<p>before</p><span class="interactive-exercise" data-exercise-id="u">dangling`,
			1,
		},
		{
			"self closing marker",
			`<p>a</p><span class="interactive-exercise" data-exercise-id="s" /><p>b</p>`,
			1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segments := Segment(tt.markup, nil)

			got, _ := CountExercises(segments)
			if got != tt.markers {
				t.Errorf("exercise segments = %d, want %d", got, tt.markers)
			}

			if re := domain.Reassemble(segments); re != tt.markup {
				t.Errorf("Reassemble() = %q, want %q", re, tt.markup)
			}

			for i, s := range segments {
				if s.Kind == domain.SegmentMarkup && tt.markers > 0 &&
					strings.Contains(s.HTML, `data-exercise-id`) && strings.Contains(s.HTML, `class="interactive-exercise"`) {
					t.Errorf("segments[%d] markup still contains a marker: %q", i, s.HTML)
				}
			}
		})
	}
}

func TestSegment_FastPath(t *testing.T) {
	markup := "<p>Just prose.</p>"
	segments := Segment(markup, nil)

	if len(segments) != 1 {
		t.Fatalf("len(segments) = %d, want 1", len(segments))
	}
	if segments[0].Kind != domain.SegmentMarkup || segments[0].HTML != markup {
		t.Errorf("segments[0] = %+v, want whole input as markup", segments[0])
	}
}

func TestSegment_DegradedMarker(t *testing.T) {
	markup := `<span class="interactive-exercise" data-exercise-id="missing" data-type="FILL_IN_BLANK">The capital of France is ___</span>`

	segments := Segment(markup, map[string]domain.ExerciseRecord{
		"other": {ID: "x", OriginalPosition: "other"},
	})

	if len(segments) != 1 {
		t.Fatalf("len(segments) = %d, want 1", len(segments))
	}
	if !segments[0].Degraded() {
		t.Error("marker without record should be degraded")
	}
	if segments[0].QuestionText != "The capital of France is ___" {
		t.Errorf("QuestionText = %q", segments[0].QuestionText)
	}

	_, degraded := CountExercises(segments)
	if degraded != 1 {
		t.Errorf("degraded = %d, want 1", degraded)
	}
}

func TestSegment_DuplicatesKeepDocumentOrder(t *testing.T) {
	markup := `<span class="interactive-exercise" data-exercise-id="a">first</span>` +
		`<span class="interactive-exercise" data-exercise-id="b">second</span>` +
		`<span class="interactive-exercise" data-exercise-id="a">third</span>`

	segments := Segment(markup, nil)

	want := []string{"first", "second", "third"}
	if len(segments) != len(want) {
		t.Fatalf("len(segments) = %d, want %d", len(segments), len(want))
	}
	for i, w := range want {
		if segments[i].QuestionText != w {
			t.Errorf("segments[%d].QuestionText = %q, want %q", i, segments[i].QuestionText, w)
		}
	}
}

func TestSegment_UnknownTypeDefaultsToShortAnswer(t *testing.T) {
	segments := Segment(`<span class="interactive-exercise" data-exercise-id="q" data-type="ESSAY">Discuss.</span>`, nil)
	if segments[0].ExerciseType != domain.ExerciseShortAnswer {
		t.Errorf("ExerciseType = %q, want SHORT_ANSWER", segments[0].ExerciseType)
	}
}

func TestSegment_ManyMarkers(t *testing.T) {
	var b strings.Builder
	const n = 50
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<p>para %d</p><span class="interactive-exercise" data-exercise-id="ex-%d" data-type="MATH_PROBLEM">%d+%d=?</span>`, i, i, i, i)
	}
	markup := b.String()

	segments := Segment(markup, nil)

	total, _ := CountExercises(segments)
	if total != n {
		t.Errorf("exercise segments = %d, want %d", total, n)
	}
	if domain.Reassemble(segments) != markup {
		t.Error("segments do not reconstruct input")
	}
}

func TestCountMarkers(t *testing.T) {
	tests := []struct {
		markup string
		want   int
	}{
		{"", 0},
		{"<p>plain</p>", 0},
		{scenarioA, 1},
		{`<span class="interactive-exercise" data-exercise-id="a">1</span><span class="interactive-exercise" data-exercise-id="a">2</span>`, 2},
	}

	for _, tt := range tests {
		if got := CountMarkers(tt.markup); got != tt.want {
			t.Errorf("CountMarkers(%q) = %d; want %d", tt.markup, got, tt.want)
		}
	}
}

func TestSegment_ImpliedEndTags(t *testing.T) {
	tests := []struct {
		name      string
		markup    string
		questions []string
		kinds     []domain.SegmentKind
	}{
		{
			name:      "paragraph closed by next paragraph",
			markup:    `<p class="interactive-exercise" data-exercise-id="a">Q1<p>Para two</p><p>Para three</p>`,
			questions: []string{"Q1"},
			kinds:     []domain.SegmentKind{domain.SegmentExercise, domain.SegmentMarkup},
		},
		{
			name:      "paragraph with inline child closed by block",
			markup:    `<p class="interactive-exercise" data-exercise-id="a">Q <b>one</b><div>after</div>`,
			questions: []string{"Q one"},
			kinds:     []domain.SegmentKind{domain.SegmentExercise, domain.SegmentMarkup},
		},
		{
			name:      "back to back paragraph markers",
			markup:    `<p class="interactive-exercise" data-exercise-id="a">Q1<p class="interactive-exercise" data-exercise-id="b">Q2`,
			questions: []string{"Q1", "Q2"},
			kinds:     []domain.SegmentKind{domain.SegmentExercise, domain.SegmentExercise},
		},
		{
			name:      "list item closed by sibling and parent",
			markup:    `<ul><li class="interactive-exercise" data-exercise-id="a">Q1<li>two</ul><p>end</p>`,
			questions: []string{"Q1"},
			kinds:     []domain.SegmentKind{domain.SegmentMarkup, domain.SegmentExercise, domain.SegmentMarkup},
		},
		{
			name:      "list item marker closed by parent",
			markup:    `<ul><li class="interactive-exercise" data-exercise-id="a">Q1</ul><p>end</p>`,
			questions: []string{"Q1"},
			kinds:     []domain.SegmentKind{domain.SegmentMarkup, domain.SegmentExercise, domain.SegmentMarkup},
		},
		{
			name:      "nested list stays inside the marker",
			markup:    `<ul><li class="interactive-exercise" data-exercise-id="a">Q1<ul><li>sub</li></ul></li><li>two</li></ul>`,
			questions: []string{"Q1sub"},
			kinds:     []domain.SegmentKind{domain.SegmentMarkup, domain.SegmentExercise, domain.SegmentMarkup},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segments := Segment(tt.markup, nil)

			if re := domain.Reassemble(segments); re != tt.markup {
				t.Errorf("Reassemble() = %q, want %q", re, tt.markup)
			}
			if len(segments) != len(tt.kinds) {
				t.Fatalf("segments = %+v, want kinds %v", segments, tt.kinds)
			}

			var questions []string
			for i, s := range segments {
				if s.Kind != tt.kinds[i] {
					t.Errorf("segments[%d].Kind = %s, want %s", i, s.Kind, tt.kinds[i])
				}
				if s.IsExercise() {
					questions = append(questions, s.QuestionText)
				}
			}
			if fmt.Sprint(questions) != fmt.Sprint(tt.questions) {
				t.Errorf("questions = %q, want %q", questions, tt.questions)
			}

			report, err := Audit(tt.markup, nil)
			if err != nil {
				t.Fatalf("Audit() error = %v", err)
			}
			for i, m := range report.Markers {
				if i < len(questions) && m.QuestionText != questions[i] {
					t.Errorf("audit question %d = %q, segmenter = %q", i, m.QuestionText, questions[i])
				}
			}
		})
	}
}
