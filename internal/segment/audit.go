package segment

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/felixgeelhaar/checkpoint/internal/domain"
)

// MarkerInfo describes one marker occurrence found by Audit
type MarkerInfo struct {
	MarkerID     string              `json:"marker_id"`
	ExerciseType domain.ExerciseType `json:"exercise_type"`
	QuestionText string              `json:"question_text"`
	HasRecord    bool                `json:"has_record"`
}

// AuditReport summarizes how well lesson markup and exercise records line up
type AuditReport struct {
	Markers    []MarkerInfo `json:"markers"`
	Orphans    []string     `json:"orphans"`    // marker ids with no record
	Unused     []string     `json:"unused"`     // record ids no marker points at
	Duplicates []string     `json:"duplicates"` // marker ids occurring more than once
	Shadowed   []string     `json:"shadowed"`   // record ids hidden by an earlier record for the same marker
}

// Clean reports whether every marker resolves and every record is used
func (r *AuditReport) Clean() bool {
	return len(r.Orphans) == 0 && len(r.Unused) == 0 && len(r.Shadowed) == 0
}

// Audit inspects markup with a DOM query instead of the segmenting tokenizer,
// giving authors an independent view of marker/record drift.
func Audit(markup string, records []domain.ExerciseRecord) (*AuditReport, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}

	index := domain.RecordIndex(records)
	report := &AuditReport{
		Markers:    []MarkerInfo{},
		Orphans:    []string{},
		Unused:     []string{},
		Duplicates: []string{},
		Shadowed:   []string{},
	}

	seen := make(map[string]int)
	selector := fmt.Sprintf(".%s[%s]", MarkerClass, AttrExerciseID)
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr(AttrExerciseID)
		typ, _ := s.Attr(AttrType)
		_, ok := index[id]

		report.Markers = append(report.Markers, MarkerInfo{
			MarkerID:     id,
			ExerciseType: domain.ParseExerciseType(typ),
			QuestionText: strings.TrimSpace(s.Text()),
			HasRecord:    ok,
		})

		seen[id]++
		if seen[id] == 1 && !ok {
			report.Orphans = append(report.Orphans, id)
		}
		if seen[id] == 2 {
			report.Duplicates = append(report.Duplicates, id)
		}
	})

	for _, r := range records {
		winner, indexed := index[r.OriginalPosition]
		switch {
		case !indexed || seen[r.OriginalPosition] == 0:
			report.Unused = append(report.Unused, r.ID)
		case winner.ID != r.ID:
			report.Shadowed = append(report.Shadowed, r.ID)
		}
	}

	sort.Strings(report.Orphans)
	sort.Strings(report.Unused)
	sort.Strings(report.Duplicates)
	sort.Strings(report.Shadowed)

	return report, nil
}
