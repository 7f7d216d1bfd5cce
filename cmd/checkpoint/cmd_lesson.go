package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/felixgeelhaar/checkpoint/internal/app"
	"github.com/felixgeelhaar/checkpoint/internal/config"
	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/segment"
)

// cmdLesson manages lessons
func cmdLesson(args []string) error {
	if len(args) < 1 {
		fmt.Println(`Lesson commands:

  checkpoint lesson list             List imported lessons
  checkpoint lesson segments <id>    Show markup and exercise segments
  checkpoint lesson audit <id>       Check markers against exercise records
  checkpoint lesson import <dir>     Import YAML lesson files`)
		return nil
	}

	switch args[0] {
	case "list":
		return cmdLessonList()
	case "segments":
		if len(args) < 2 {
			return fmt.Errorf("lesson ID required")
		}
		return cmdLessonSegments(args[1])
	case "audit":
		if len(args) < 2 {
			return fmt.Errorf("lesson ID required")
		}
		return cmdLessonAudit(args[1])
	case "import":
		if len(args) < 2 {
			return fmt.Errorf("lessons directory required")
		}
		return cmdLessonImport(args[1])
	default:
		return fmt.Errorf("unknown lesson command: %s", args[0])
	}
}

func cmdLessonList() error {
	var result struct {
		Lessons []domain.LessonSummary `json:"lessons"`
	}
	if err := getJSON("/v1/lessons", &result); err != nil {
		return err
	}

	if len(result.Lessons) == 0 {
		fmt.Println("No lessons imported. Use 'checkpoint lesson import <dir>'.")
		return nil
	}

	fmt.Println("Lessons:")
	for _, l := range result.Lessons {
		fmt.Printf("  %-24s %s (%d exercises)\n", l.ID, l.Title, l.ExerciseCount)
	}
	return nil
}

func cmdLessonSegments(id string) error {
	var result struct {
		LessonID  string           `json:"lesson_id"`
		Segments  []domain.Segment `json:"segments"`
		Exercises int              `json:"exercises"`
		Degraded  int              `json:"degraded"`
	}
	if err := getJSON("/v1/lessons/"+id+"/segments", &result); err != nil {
		return err
	}

	fmt.Printf("Lesson %s: %d segments, %d exercises (%d without records)\n\n",
		result.LessonID, len(result.Segments), result.Exercises, result.Degraded)

	exercise := 0
	for i, seg := range result.Segments {
		if !seg.IsExercise() {
			fmt.Printf("%3d  markup    %s\n", i, preview(seg.HTML, 60))
			continue
		}
		exercise++
		status := "ok"
		if seg.Record == nil {
			status = "no record"
		}
		fmt.Printf("%3d  exercise  seg-%d marker=%s type=%s [%s] %s\n",
			i, exercise, seg.MarkerID, seg.ExerciseType, status, preview(seg.QuestionText, 40))
	}
	return nil
}

func cmdLessonAudit(id string) error {
	var result struct {
		LessonID string              `json:"lesson_id"`
		Clean    bool                `json:"clean"`
		Report   segment.AuditReport `json:"report"`
	}
	if err := getJSON("/v1/lessons/"+id+"/audit", &result); err != nil {
		return err
	}

	fmt.Printf("Lesson %s: %d markers\n", result.LessonID, len(result.Report.Markers))
	printList("Markers without records", result.Report.Orphans)
	printList("Records without markers", result.Report.Unused)
	printList("Duplicate markers", result.Report.Duplicates)
	printList("Records shadowed by an earlier record", result.Report.Shadowed)

	if result.Clean {
		fmt.Println("✓ Every marker has a record")
	}
	return nil
}

// cmdLessonImport writes lesson files straight into the configured store
func cmdLessonImport(dir string) error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, err := config.EnsureCheckpointDir(); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, app.Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Offline: true,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.ImportLessons(ctx, dir)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Printf("No lesson files found in %s\n", dir)
		return nil
	}
	fmt.Printf("✓ Imported %d lessons from %s\n", n, dir)
	return nil
}

func printList(title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("%s:\n", title)
	for _, item := range items {
		fmt.Printf("  - %s\n", item)
	}
}

// preview flattens whitespace and truncates s to n runes
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
