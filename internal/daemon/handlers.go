package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/lesson"
	"github.com/felixgeelhaar/checkpoint/internal/runtime"
	"github.com/felixgeelhaar/checkpoint/internal/segment"
)

// Lesson handlers

func (s *Server) handleListLessons(w http.ResponseWriter, r *http.Request) {
	lessons, err := s.lessons.Lessons(r.Context())
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "failed to list lessons", err)
		return
	}
	if lessons == nil {
		lessons = []domain.LessonSummary{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"lessons": lessons})
}

func (s *Server) handleGetLesson(w http.ResponseWriter, r *http.Request) {
	l, records, err := s.lessons.Lesson(r.Context(), r.PathValue("id"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"lesson":  l,
		"records": records,
	})
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	l, records, err := s.lessons.Lesson(r.Context(), r.PathValue("id"))
	if err != nil {
		s.domainError(w, err)
		return
	}

	segments := segment.Segment(l.Markup, domain.RecordIndex(records))
	total, degraded := segment.CountExercises(segments)
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"lesson_id": l.ID,
		"segments":  segments,
		"exercises": total,
		"degraded":  degraded,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	l, records, err := s.lessons.Lesson(r.Context(), r.PathValue("id"))
	if err != nil {
		s.domainError(w, err)
		return
	}

	report, err := segment.Audit(l.Markup, records)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "failed to audit lesson", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"lesson_id": l.ID,
		"clean":     report.Clean(),
		"report":    report,
	})
}

// View handlers

func (s *Server) handleMountView(w http.ResponseWriter, r *http.Request) {
	var req lesson.MountRequest
	if fields := s.validate.bind(r, &req); fields != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid request",
			"status": http.StatusBadRequest,
			"fields": fields,
		})
		return
	}

	view, err := s.lessons.Mount(r.Context(), req)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, view.Snapshot())
}

func (s *Server) handleListViews(w http.ResponseWriter, r *http.Request) {
	views := s.lessons.Views()
	out := make([]map[string]any, 0, len(views))
	for _, v := range views {
		out = append(out, map[string]any{
			"id":         v.ID,
			"lesson_id":  v.LessonID,
			"title":      v.Title,
			"mode":       v.Mode,
			"mounted_at": v.MountedAt,
			"progress":   v.Progress(),
		})
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"views": out})
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	view, ok := s.view(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, view.Snapshot())
}

func (s *Server) handleUnmountView(w http.ResponseWriter, r *http.Request) {
	view, ok := s.view(w, r)
	if !ok {
		return
	}
	if err := s.lessons.Unmount(view.ID); err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"id":       view.ID,
		"progress": view.Progress(),
	})
}

// view resolves the {id} path value, writing the error response itself
func (s *Server) view(w http.ResponseWriter, r *http.Request) (*lesson.View, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid view id", err)
		return nil, false
	}
	view, err := s.lessons.Get(id)
	if err != nil {
		s.domainError(w, err)
		return nil, false
	}
	return view, true
}

// Exercise handlers

type answerRequest struct {
	Answer string `json:"answer" validate:"max=4096"`
}

func (s *Server) exercise(w http.ResponseWriter, r *http.Request) (*runtime.Runtime, bool) {
	view, ok := s.view(w, r)
	if !ok {
		return nil, false
	}
	rt, err := view.Instance(r.PathValue("instance"))
	if err != nil {
		s.domainError(w, err)
		return nil, false
	}
	return rt, true
}

func (s *Server) handleGetExercise(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.exercise(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, rt.Snapshot())
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.exercise(w, r)
	if !ok {
		return
	}
	rt.Expand()
	s.jsonResponse(w, http.StatusOK, rt.Snapshot())
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.exercise(w, r)
	if !ok {
		return
	}
	var req answerRequest
	if fields := s.validate.bind(r, &req); fields != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid request",
			"status": http.StatusBadRequest,
			"fields": fields,
		})
		return
	}
	if _, err := rt.SetAnswer(req.Answer); err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, rt.Snapshot())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.exercise(w, r)
	if !ok {
		return
	}
	// A client hanging up must not turn an in-flight grading call into an error phase
	ctx := context.WithoutCancel(r.Context())
	if _, err := rt.Submit(ctx); err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, rt.Snapshot())
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.exercise(w, r)
	if !ok {
		return
	}
	if _, err := rt.Retry(); err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, rt.Snapshot())
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.exercise(w, r)
	if !ok {
		return
	}
	if _, err := rt.Close(); err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, rt.Snapshot())
}

// Progress & event handlers

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}
	if s.progress != nil {
		sum, err := s.progress.Summary(r.Context())
		if err != nil {
			s.jsonError(w, http.StatusInternalServerError, "failed to load progress", err)
			return
		}
		resp["summary"] = sum
	}
	if s.tally != nil {
		resp["consumed"] = s.tally.Lessons()
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleLessonProgress(w http.ResponseWriter, r *http.Request) {
	if s.progress == nil {
		s.jsonError(w, http.StatusNotImplemented, "progress store not configured", nil)
		return
	}
	completions, err := s.progress.Completions(r.Context(), r.PathValue("lesson"))
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "failed to load progress", err)
		return
	}
	if completions == nil {
		completions = []domain.Completion{}
	}
	xp := 0
	for _, c := range completions {
		xp += c.XPAwarded
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"lesson_id":   r.PathValue("lesson"),
		"completions": completions,
		"xp_earned":   xp,
	})
}

func (s *Server) handleResetProgress(w http.ResponseWriter, r *http.Request) {
	if s.progress == nil {
		s.jsonError(w, http.StatusNotImplemented, "progress store not configured", nil)
		return
	}
	if err := s.progress.Reset(r.Context(), r.PathValue("lesson")); err != nil {
		s.jsonError(w, http.StatusInternalServerError, "failed to reset progress", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.jsonError(w, http.StatusNotImplemented, "event log not configured", nil)
		return
	}

	q := r.URL.Query()
	eventType := q.Get("type")
	if eventType == "" {
		eventType = domain.EventExerciseCompleted
	}
	var since time.Time
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.jsonError(w, http.StatusBadRequest, "since must be RFC3339", err)
			return
		}
		since = t
	}

	events, err := s.events.Query(r.Context(), eventType, q.Get("view"), since)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "failed to query events", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"type":   eventType,
		"events": events,
	})
}
