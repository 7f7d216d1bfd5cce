// Package catalog reads lesson bundles from YAML files.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/lesson"
)

// ErrInvalidLesson is returned for lesson files missing required fields
var ErrInvalidLesson = errors.New("invalid lesson file")

// LessonFile represents the YAML structure for a lesson
type LessonFile struct {
	ID        string         `yaml:"id"`
	Title     string         `yaml:"title"`
	Markup    string         `yaml:"markup"`
	Exercises []ExerciseFile `yaml:"exercises"`
}

// ExerciseFile represents the YAML structure for an exercise record
type ExerciseFile struct {
	ID         string   `yaml:"id"`
	Marker     string   `yaml:"marker"`
	Question   string   `yaml:"question"`
	AnswerType string   `yaml:"answer_type"`
	Options    []string `yaml:"options"`
	Hint1      string   `yaml:"hint1"`
	Hint2      string   `yaml:"hint2"`
	Difficulty string   `yaml:"difficulty"`
	XPReward   int      `yaml:"xp_reward"`
}

// Loader handles loading lessons from YAML files
type Loader struct {
	basePath string
}

// NewLoader creates a new lesson loader
func NewLoader(basePath string) *Loader {
	return &Loader{basePath: basePath}
}

// BasePath returns the directory lessons are read from
func (l *Loader) BasePath() string {
	return l.basePath
}

// LoadFile loads a single lesson bundle
func (l *Loader) LoadFile(path string) (*lesson.Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lesson file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a lesson bundle from YAML
func Parse(data []byte) (*lesson.Bundle, error) {
	var file LessonFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse lesson file: %w", err)
	}

	if strings.TrimSpace(file.ID) == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidLesson)
	}

	bundle := &lesson.Bundle{
		Lesson: domain.Lesson{
			ID:     file.ID,
			Title:  file.Title,
			Markup: file.Markup,
		},
		Records: make([]domain.ExerciseRecord, 0, len(file.Exercises)),
	}

	for i, ex := range file.Exercises {
		if ex.ID == "" || ex.Marker == "" {
			return nil, fmt.Errorf("%w: exercise %d of %s needs id and marker", ErrInvalidLesson, i, file.ID)
		}
		bundle.Records = append(bundle.Records, domain.ExerciseRecord{
			ID:               ex.ID,
			LessonID:         file.ID,
			Question:         ex.Question,
			AnswerType:       domain.ParseAnswerType(ex.AnswerType),
			Options:          ex.Options,
			Hint1:            ex.Hint1,
			Hint2:            ex.Hint2,
			Difficulty:       domain.Difficulty(ex.Difficulty),
			XPReward:         ex.XPReward,
			OriginalPosition: ex.Marker,
		})
	}

	return bundle, nil
}

// LoadAll loads every *.yaml and *.yml lesson in the base directory and its
// immediate subdirectories, ordered by lesson id
func (l *Loader) LoadAll() ([]lesson.Bundle, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("read lessons directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		full := filepath.Join(l.basePath, entry.Name())
		if !entry.IsDir() {
			if isLessonFile(entry.Name()) {
				paths = append(paths, full)
			}
			continue
		}

		sub, err := os.ReadDir(full)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", full, err)
		}
		for _, s := range sub {
			if !s.IsDir() && isLessonFile(s.Name()) {
				paths = append(paths, filepath.Join(full, s.Name()))
			}
		}
	}

	bundles := make([]lesson.Bundle, 0, len(paths))
	seen := make(map[string]string)
	for _, path := range paths {
		b, err := l.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if prev, dup := seen[b.Lesson.ID]; dup {
			return nil, fmt.Errorf("%w: lesson %s defined in %s and %s", ErrInvalidLesson, b.Lesson.ID, prev, path)
		}
		seen[b.Lesson.ID] = path
		bundles = append(bundles, *b)
	}

	sort.Slice(bundles, func(i, j int) bool {
		return bundles[i].Lesson.ID < bundles[j].Lesson.ID
	})
	return bundles, nil
}

func isLessonFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
