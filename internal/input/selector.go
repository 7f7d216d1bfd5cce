// Package input maps exercise metadata onto an answer input modality.
package input

import "github.com/felixgeelhaar/checkpoint/internal/domain"

// Kind is the input modality shown for an exercise
type Kind string

const (
	KindText         Kind = "text"
	KindNumeric      Kind = "numeric"
	KindSingleSelect Kind = "single_select"
)

// TrueFalseOptions is the fixed option list synthesized for TRUE_FALSE exercises
var TrueFalseOptions = []string{"True", "False"}

// Spec describes how an answer is entered. Numeric answers are still strings;
// no rounding or unit coercion happens here.
type Spec struct {
	Kind        Kind     `json:"kind"`
	Options     []string `json:"options,omitempty"`
	InputMode   string   `json:"input_mode,omitempty"`
	Placeholder string   `json:"placeholder"`
}

// Select picks the input modality for an exercise. It has no side effects.
func Select(answerType domain.AnswerType, exerciseType domain.ExerciseType, options []string) Spec {
	if exerciseType == domain.ExerciseTrueFalse {
		return singleSelect(TrueFalseOptions)
	}

	if exerciseType == domain.ExerciseMultipleChoice || answerType == domain.AnswerSelection {
		if len(options) > 0 {
			return singleSelect(options)
		}
	}

	if exerciseType == domain.ExerciseMathProblem || answerType == domain.AnswerNumber {
		return Spec{
			Kind:        KindNumeric,
			InputMode:   "decimal",
			Placeholder: "Enter a number",
		}
	}

	return Spec{
		Kind:        KindText,
		InputMode:   "text",
		Placeholder: "Type your answer",
	}
}

// ForSegment selects the input for an exercise segment, treating a segment
// without a record as a TEXT answer.
func ForSegment(seg domain.Segment) Spec {
	if seg.Record == nil {
		return Select(domain.AnswerText, seg.ExerciseType, nil)
	}
	return Select(seg.Record.AnswerType, seg.ExerciseType, seg.Record.Options)
}

func singleSelect(options []string) Spec {
	opts := make([]string, len(options))
	copy(opts, options)
	return Spec{
		Kind:        KindSingleSelect,
		Options:     opts,
		Placeholder: "Choose one",
	}
}

// Accepts reports whether value is a legal answer for this input. Selections
// must name one of the options; text and numeric inputs accept any string.
func (s Spec) Accepts(value string) bool {
	if s.Kind != KindSingleSelect {
		return true
	}
	for _, o := range s.Options {
		if o == value {
			return true
		}
	}
	return false
}

// Choose replaces the current choice with value. Single-select is exclusive:
// a new option never adds to the prior one, and an unknown option keeps it.
func (s Spec) Choose(current, value string) string {
	if !s.Accepts(value) {
		return current
	}
	return value
}
