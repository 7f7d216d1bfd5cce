package main

import (
	"fmt"
	"net/http"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
)

// cmdProgress shows stored completions and XP
func cmdProgress(args []string) error {
	switch {
	case len(args) == 0:
		return cmdProgressOverview()
	case args[0] == "reset":
		if len(args) < 2 {
			return fmt.Errorf("lesson ID required")
		}
		if err := doJSON(http.MethodDelete, "/v1/progress/"+args[1], nil); err != nil {
			return err
		}
		fmt.Printf("✓ Progress for %s reset\n", args[1])
		return nil
	default:
		return cmdProgressLesson(args[0])
	}
}

func cmdProgressOverview() error {
	var result struct {
		Summary  *domain.ProgressSummary `json:"summary"`
		Consumed []struct {
			LessonID    string `json:"lesson_id"`
			Completions int    `json:"completions"`
			XPEarned    int    `json:"xp_earned"`
		} `json:"consumed"`
	}
	if err := getJSON("/v1/progress", &result); err != nil {
		return err
	}

	if result.Summary != nil {
		fmt.Println("Progress")
		fmt.Println("========")
		fmt.Printf("Lessons started: %d\n", result.Summary.Lessons)
		fmt.Printf("Completions:     %d\n", result.Summary.Completions)
		fmt.Printf("XP earned:       %d\n", result.Summary.XPEarned)
	}

	if len(result.Consumed) > 0 {
		fmt.Println("\nFrom completion events:")
		for _, l := range result.Consumed {
			fmt.Printf("  %-24s %3d completions  %5d XP\n", l.LessonID, l.Completions, l.XPEarned)
		}
	}
	return nil
}

func cmdProgressLesson(lessonID string) error {
	var result struct {
		LessonID    string              `json:"lesson_id"`
		Completions []domain.Completion `json:"completions"`
		XPEarned    int                 `json:"xp_earned"`
	}
	if err := getJSON("/v1/progress/"+lessonID, &result); err != nil {
		return err
	}

	var lessonInfo struct {
		Records []domain.ExerciseRecord `json:"records"`
	}
	total := 0
	if err := getJSON("/v1/lessons/"+lessonID, &lessonInfo); err == nil {
		total = len(lessonInfo.Records)
	}

	fmt.Printf("Lesson %s\n", result.LessonID)
	if total > 0 {
		ratio := float64(len(result.Completions)) / float64(total)
		fmt.Printf("  %s %d/%d\n", renderProgressBar(ratio, 20), len(result.Completions), total)
	}
	for _, c := range result.Completions {
		fmt.Printf("  ✓ %-16s attempt %d  +%d XP  %s\n",
			c.MarkerID, c.AttemptNumber, c.XPAwarded, c.CompletedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Printf("  XP earned: %d\n", result.XPEarned)
	return nil
}
