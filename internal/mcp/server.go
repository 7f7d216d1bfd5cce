// Package mcp exposes mounted lessons as MCP tools so an agent can work
// through exercises on a learner's behalf.
package mcp

import (
	"context"
	"fmt"
	"strings"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/lesson"
	"github.com/felixgeelhaar/checkpoint/internal/runtime"
)

// Server wraps the MCP server with lesson tools
type Server struct {
	mcpServer *server.Server
	lessons   *lesson.Service
}

// Config contains configuration for the MCP server
type Config struct {
	Lessons *lesson.Service
	Version string
}

// NewServer creates a new MCP server
func NewServer(cfg Config) *Server {
	s := &Server{lessons: cfg.Lessons}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "checkpoint",
		Version: version,
	}, server.WithInstructions(`
Checkpoint renders lessons with embedded exercises and grades answers through
a remote grading service.

Available tools:
- lesson_list: List lessons
- lesson_open: Mount a lesson and list its exercises
- exercise_answer: Answer and submit one exercise
- exercise_retry: Clear an incorrect answer or resubmit after an error
- exercise_close: Dismiss an exercise's feedback
- lesson_close: Unmount a lesson and report progress

Hints are revealed one at a time as the grading service allows.
`))

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("lesson_list").
		Description("List available lessons with their exercise counts.").
		Handler(s.handleList)

	s.mcpServer.Tool("lesson_open").
		Description("Mount a lesson. Returns a view id and the exercises it contains.").
		Handler(s.handleOpen)

	s.mcpServer.Tool("exercise_answer").
		Description("Answer an exercise and submit it for grading.").
		Handler(s.handleAnswer)

	s.mcpServer.Tool("exercise_retry").
		Description("Retry an exercise after an incorrect answer or a grading error.").
		Handler(s.handleRetry)

	s.mcpServer.Tool("exercise_close").
		Description("Dismiss an exercise's feedback.").
		Handler(s.handleClose)

	s.mcpServer.Tool("lesson_close").
		Description("Unmount a lesson view and report XP earned.").
		Handler(s.handleLessonClose)
}

// Input/Output types for tools

type ListInput struct{}

type ListOutput struct {
	Lessons []domain.LessonSummary `json:"lessons"`
}

type OpenInput struct {
	LessonID string `json:"lesson_id" jsonschema:"description=Lesson ID from lesson_list"`
	Mode     string `json:"mode,omitempty" jsonschema:"description=Presentation mode,enum=inline,enum=modal"`
}

type ExerciseSummary struct {
	Instance string   `json:"instance"`
	MarkerID string   `json:"marker_id"`
	Question string   `json:"question"`
	Input    string   `json:"input"`
	Options  []string `json:"options,omitempty"`
	Phase    string   `json:"phase"`
	Degraded bool     `json:"degraded,omitempty"`
}

type OpenOutput struct {
	ViewID    string            `json:"view_id"`
	Title     string            `json:"title"`
	Exercises []ExerciseSummary `json:"exercises"`
	Completed int               `json:"completed"`
}

type AnswerInput struct {
	ViewID   string `json:"view_id" jsonschema:"description=View ID from lesson_open"`
	Instance string `json:"instance" jsonschema:"description=Exercise instance from lesson_open"`
	Answer   string `json:"answer" jsonschema:"description=The answer to submit"`
}

type ExerciseInput struct {
	ViewID   string `json:"view_id" jsonschema:"description=View ID from lesson_open"`
	Instance string `json:"instance" jsonschema:"description=Exercise instance from lesson_open"`
}

type ExerciseOutput struct {
	Phase         string   `json:"phase"`
	AttemptNumber int      `json:"attempt_number"`
	XPAwarded     int      `json:"xp_awarded,omitempty"`
	Feedback      string   `json:"feedback,omitempty"`
	Hint          string   `json:"hint,omitempty"`
	CorrectAnswer string   `json:"correct_answer,omitempty"`
	Explanation   string   `json:"explanation,omitempty"`
	Actions       []string `json:"actions"`
	Message       string   `json:"message"`
}

type LessonCloseInput struct {
	ViewID string `json:"view_id" jsonschema:"description=View ID to unmount"`
}

type LessonCloseOutput struct {
	Completed int    `json:"completed"`
	XPEarned  int    `json:"xp_earned"`
	Message   string `json:"message"`
}

// Tool handlers

func (s *Server) handleList(ctx context.Context, _ ListInput) (ListOutput, error) {
	lessons, err := s.lessons.Lessons(ctx)
	if err != nil {
		return ListOutput{}, fmt.Errorf("failed to list lessons: %w", err)
	}
	return ListOutput{Lessons: lessons}, nil
}

func (s *Server) handleOpen(ctx context.Context, input OpenInput) (OpenOutput, error) {
	if strings.TrimSpace(input.LessonID) == "" {
		return OpenOutput{}, fmt.Errorf("%w: lesson_id is required", domain.ErrInvalidInput)
	}

	view, err := s.lessons.Mount(ctx, lesson.MountRequest{
		LessonID: input.LessonID,
		Mode:     runtime.ParseMode(input.Mode),
	})
	if err != nil {
		return OpenOutput{}, fmt.Errorf("failed to open lesson: %w", err)
	}

	snap := view.Snapshot()
	out := OpenOutput{
		ViewID:    view.ID.String(),
		Title:     snap.Title,
		Exercises: make([]ExerciseSummary, 0, snap.Progress.Exercises),
		Completed: snap.Progress.Completed,
	}
	for _, p := range snap.Parts {
		if p.Exercise == nil {
			continue
		}
		out.Exercises = append(out.Exercises, ExerciseSummary{
			Instance: p.InstanceID,
			MarkerID: p.Exercise.State.MarkerID,
			Question: p.Exercise.Question,
			Input:    string(p.Exercise.Input.Kind),
			Options:  p.Exercise.Input.Options,
			Phase:    string(p.Exercise.State.Phase),
			Degraded: p.Exercise.State.Degraded,
		})
	}
	return out, nil
}

func (s *Server) handleAnswer(ctx context.Context, input AnswerInput) (ExerciseOutput, error) {
	rt, err := s.exercise(input.ViewID, input.Instance)
	if err != nil {
		return ExerciseOutput{}, err
	}

	// Agents skip the click that opens the input
	if st := rt.State(); !st.Open || st.Phase == runtime.PhaseCollapsed {
		rt.Expand()
	}
	if _, err := rt.SetAnswer(input.Answer); err != nil {
		return ExerciseOutput{}, fmt.Errorf("failed to set answer: %w", err)
	}
	if _, err := rt.Submit(ctx); err != nil {
		return ExerciseOutput{}, fmt.Errorf("failed to submit: %w", err)
	}
	return exerciseOutput(rt.Snapshot()), nil
}

func (s *Server) handleRetry(_ context.Context, input ExerciseInput) (ExerciseOutput, error) {
	rt, err := s.exercise(input.ViewID, input.Instance)
	if err != nil {
		return ExerciseOutput{}, err
	}
	if _, err := rt.Retry(); err != nil {
		return ExerciseOutput{}, fmt.Errorf("failed to retry: %w", err)
	}
	return exerciseOutput(rt.Snapshot()), nil
}

func (s *Server) handleClose(_ context.Context, input ExerciseInput) (ExerciseOutput, error) {
	rt, err := s.exercise(input.ViewID, input.Instance)
	if err != nil {
		return ExerciseOutput{}, err
	}
	if _, err := rt.Close(); err != nil {
		return ExerciseOutput{}, fmt.Errorf("failed to close: %w", err)
	}
	return exerciseOutput(rt.Snapshot()), nil
}

func (s *Server) handleLessonClose(_ context.Context, input LessonCloseInput) (LessonCloseOutput, error) {
	id, err := uuid.Parse(input.ViewID)
	if err != nil {
		return LessonCloseOutput{}, fmt.Errorf("%w: invalid view_id", domain.ErrInvalidInput)
	}
	view, err := s.lessons.Get(id)
	if err != nil {
		return LessonCloseOutput{}, err
	}
	if err := s.lessons.Unmount(id); err != nil {
		return LessonCloseOutput{}, err
	}

	p := view.Progress()
	return LessonCloseOutput{
		Completed: p.Completed,
		XPEarned:  p.XPEarned,
		Message:   fmt.Sprintf("Completed %d of %d exercises, %d XP earned", p.Completed, p.Exercises, p.XPEarned),
	}, nil
}

func (s *Server) exercise(viewID, instance string) (*runtime.Runtime, error) {
	id, err := uuid.Parse(viewID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid view_id", domain.ErrInvalidInput)
	}
	return s.lessons.Exercise(id, instance)
}

// exerciseOutput flattens the feedback render model for an agent
func exerciseOutput(snap runtime.Snapshot) ExerciseOutput {
	st := snap.State
	out := ExerciseOutput{
		Phase:         string(st.Phase),
		AttemptNumber: st.AttemptNumber,
		XPAwarded:     st.XPAwarded,
		Feedback:      st.Feedback,
		Actions:       []string{},
	}

	fb := snap.Feedback
	if fb.Hint != nil {
		out.Hint = fb.Hint.Text
	}
	if fb.Exhausted != nil {
		out.CorrectAnswer = fb.Exhausted.CorrectAnswer
		out.Explanation = fb.Exhausted.Explanation
	}
	for _, a := range fb.Actions {
		out.Actions = append(out.Actions, a.Label)
	}

	switch {
	case fb.Banner != nil && fb.Banner.Message != "":
		out.Message = fb.Banner.Message
	case fb.Banner != nil:
		out.Message = fb.Banner.Title
	default:
		out.Message = fmt.Sprintf("exercise is %s", st.Phase)
	}
	return out
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
