package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/checkpoint/internal/clock"
	"github.com/felixgeelhaar/checkpoint/internal/config"
	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/gateway"
	"github.com/felixgeelhaar/checkpoint/internal/lesson"
	"github.com/felixgeelhaar/checkpoint/internal/queue"
	"github.com/felixgeelhaar/checkpoint/internal/runtime"
)

const testMarkup = `<h1>Sums</h1>` +
	`<span class="interactive-exercise" data-exercise-id="ex-1" data-type="MATH_PROBLEM">2+2=?</span>` +
	`<p>Then</p>` +
	`<span class="interactive-exercise" data-exercise-id="ex-9" data-type="SHORT_ANSWER">Orphan</span>`

type fakeProgress struct {
	mu    sync.Mutex
	reset []string
}

func (f *fakeProgress) Summary(context.Context) (*domain.ProgressSummary, error) {
	return &domain.ProgressSummary{Lessons: 1, Completions: 2, XPEarned: 15}, nil
}

func (f *fakeProgress) Completions(_ context.Context, lessonID string) ([]domain.Completion, error) {
	if lessonID != "sums" {
		return nil, nil
	}
	return []domain.Completion{
		{LessonID: "sums", MarkerID: "ex-1", XPAwarded: 10},
		{LessonID: "sums", MarkerID: "ex-2", XPAwarded: 5},
	}, nil
}

func (f *fakeProgress) Reset(_ context.Context, lessonID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset = append(f.reset, lessonID)
	return nil
}

type fakeTally struct{}

func (fakeTally) Lessons() []queue.LessonTally {
	return []queue.LessonTally{{LessonID: "sums", Completions: 1, XPEarned: 10}}
}

type testEnv struct {
	server   *Server
	gw       *gateway.Scripted
	progress *fakeProgress
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	source := lesson.NewMemorySource(lesson.Bundle{
		Lesson: domain.Lesson{ID: "sums", Title: "Sums", Markup: testMarkup},
		Records: []domain.ExerciseRecord{
			{ID: "rec-1", LessonID: "sums", Question: "2+2=?", AnswerType: domain.AnswerNumber, XPReward: 10, OriginalPosition: "ex-1"},
			{ID: "rec-unused", LessonID: "sums", OriginalPosition: "ex-404"},
		},
	})
	gw := gateway.NewScripted()

	opts := runtime.DefaultOptions()
	opts.Clock = clock.NewFake()
	svc := lesson.NewService(source, gw, opts, discardLogger())
	t.Cleanup(svc.Close)

	progress := &fakeProgress{}
	cfg := config.DefaultLocalConfig()
	cfg.Daemon.Port = 0

	server, err := NewServer(ServerConfig{
		Config:   cfg,
		Lessons:  svc,
		Logger:   discardLogger(),
		Version:  "test",
		Progress: progress,
		Tally:    fakeTally{},
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return &testEnv{server: server, gw: gw, progress: progress}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func (e *testEnv) mount(t *testing.T, mode string) lesson.Snapshot {
	t.Helper()
	w := e.do(t, http.MethodPost, "/v1/views", map[string]string{"lessonId": "sums", "mode": mode})
	if w.Code != http.StatusCreated {
		t.Fatalf("mount status = %d, body %s", w.Code, w.Body.String())
	}
	return decode[lesson.Snapshot](t, w)
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("expected error without config")
	}
	if _, err := NewServer(ServerConfig{Config: config.DefaultLocalConfig()}); err == nil {
		t.Error("expected error without lesson service")
	}
}

func TestHealthAndStatus(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/v1/health", nil)
	if w.Code != http.StatusOK || decode[map[string]any](t, w)["status"] != "healthy" {
		t.Errorf("health = %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/v1/status", nil)
	resp := decode[map[string]any](t, w)
	if resp["status"] != "running" || resp["version"] != "test" {
		t.Errorf("status = %v", resp)
	}
	if resp["storage"] != "sqlite" {
		t.Errorf("storage = %v", resp["storage"])
	}
}

func TestLessonEndpoints(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/v1/lessons", nil)
	list := decode[struct {
		Lessons []domain.LessonSummary `json:"lessons"`
	}](t, w)
	if len(list.Lessons) != 1 || list.Lessons[0].ExerciseCount != 2 {
		t.Errorf("lessons = %+v", list.Lessons)
	}

	if w := env.do(t, http.MethodGet, "/v1/lessons/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing lesson status = %d, want 404", w.Code)
	}

	w = env.do(t, http.MethodGet, "/v1/lessons/sums/segments", nil)
	segs := decode[struct {
		Segments  []domain.Segment `json:"segments"`
		Exercises int              `json:"exercises"`
		Degraded  int              `json:"degraded"`
	}](t, w)
	if len(segs.Segments) != 4 || segs.Exercises != 2 || segs.Degraded != 1 {
		t.Errorf("segments = %d, exercises = %d, degraded = %d", len(segs.Segments), segs.Exercises, segs.Degraded)
	}

	w = env.do(t, http.MethodGet, "/v1/lessons/sums/audit", nil)
	audit := decode[struct {
		Clean  bool `json:"clean"`
		Report struct {
			Orphans []string `json:"orphans"`
			Unused  []string `json:"unused"`
		} `json:"report"`
	}](t, w)
	if audit.Clean || len(audit.Report.Orphans) != 1 || len(audit.Report.Unused) != 1 {
		t.Errorf("audit = %+v", audit)
	}
}

func TestMountView_Validation(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"missing lesson", map[string]string{}, "lessonId"},
		{"bad mode", map[string]string{"lessonId": "sums", "mode": "popup"}, "mode"},
		{"unknown field", map[string]string{"lessonId": "sums", "colour": "red"}, "detail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/views", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			resp := decode[struct {
				Fields map[string]string `json:"fields"`
			}](t, w)
			if resp.Fields[tt.field] == "" {
				t.Errorf("fields = %v, want entry for %q", resp.Fields, tt.field)
			}
		})
	}

	if w := env.do(t, http.MethodPost, "/v1/views", map[string]string{"lessonId": "nope"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown lesson status = %d, want 404", w.Code)
	}
}

func TestExerciseFlow(t *testing.T) {
	env := setupTestServer(t)
	env.gw.Reply(domain.Verdict{IsCorrect: true, XPAwarded: 10, AttemptNumber: 1, Feedback: "Nice"})

	view := env.mount(t, "inline")
	if len(view.Parts) != 4 || view.Progress.Exercises != 2 || view.Progress.Degraded != 1 {
		t.Fatalf("view = %+v", view.Progress)
	}
	base := "/v1/views/" + view.ID.String() + "/exercises/seg-1"

	// Submitting before expanding is a phase conflict
	if w := env.do(t, http.MethodPost, base+"/submit", nil); w.Code != http.StatusConflict {
		t.Errorf("submit while collapsed = %d, want 409", w.Code)
	}

	w := env.do(t, http.MethodPost, base+"/expand", nil)
	snap := decode[runtime.Snapshot](t, w)
	if snap.State.Phase != runtime.PhaseIdle || !snap.State.Open {
		t.Fatalf("after expand = %+v", snap.State)
	}

	// Blank answers never reach the grading service
	if w := env.do(t, http.MethodPost, base+"/submit", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("blank submit = %d, want 422", w.Code)
	}
	if n := len(env.gw.Calls()); n != 0 {
		t.Errorf("gateway calls = %d, want 0", n)
	}

	if w := env.do(t, http.MethodPut, base+"/answer", map[string]string{"answer": " 4 "}); w.Code != http.StatusOK {
		t.Fatalf("answer = %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, base+"/submit", nil)
	snap = decode[runtime.Snapshot](t, w)
	if snap.State.Phase != runtime.PhaseCorrect || snap.State.XPAwarded != 10 {
		t.Errorf("after submit = %+v", snap.State)
	}
	if calls := env.gw.Calls(); len(calls) != 1 || calls[0].Answer != "4" || calls[0].ExerciseID != "rec-1" {
		t.Errorf("gateway calls = %+v", calls)
	}

	if w := env.do(t, http.MethodPost, base+"/retry", nil); w.Code != http.StatusConflict {
		t.Errorf("retry after correct = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodPost, base+"/close", nil)
	snap = decode[runtime.Snapshot](t, w)
	if snap.State.Phase != runtime.PhaseCompleted {
		t.Errorf("after close = %s, want completed", snap.State.Phase)
	}

	w = env.do(t, http.MethodGet, "/v1/views/"+view.ID.String(), nil)
	got := decode[lesson.Snapshot](t, w)
	if got.Progress.Completed != 1 || got.Progress.XPEarned != 10 {
		t.Errorf("progress = %+v", got.Progress)
	}

	w = env.do(t, http.MethodDelete, "/v1/views/"+view.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Errorf("unmount = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/v1/views/"+view.ID.String(), nil); w.Code != http.StatusNotFound {
		t.Errorf("get after unmount = %d, want 404", w.Code)
	}
}

func TestExerciseFlow_GatewayError(t *testing.T) {
	env := setupTestServer(t)
	env.gw.Fail(context.DeadlineExceeded)

	view := env.mount(t, "modal")
	base := "/v1/views/" + view.ID.String() + "/exercises/seg-1"

	env.do(t, http.MethodPost, base+"/expand", nil)
	env.do(t, http.MethodPut, base+"/answer", map[string]string{"answer": "4"})

	w := env.do(t, http.MethodPost, base+"/submit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("submit = %d, want 200 with error phase", w.Code)
	}
	snap := decode[runtime.Snapshot](t, w)
	if snap.State.Phase != runtime.PhaseError || snap.State.Answer != "4" {
		t.Errorf("after failed submit = %+v", snap.State)
	}
}

func TestViewLookupErrors(t *testing.T) {
	env := setupTestServer(t)
	view := env.mount(t, "")

	tests := []struct {
		name string
		path string
		want int
	}{
		{"invalid id", "/v1/views/not-a-uuid", http.StatusBadRequest},
		{"unknown view", "/v1/views/00000000-0000-0000-0000-000000000000", http.StatusNotFound},
		{"unknown instance", "/v1/views/" + view.ID.String() + "/exercises/seg-0", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodGet, tt.path, nil); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	w := env.do(t, http.MethodGet, "/v1/views", nil)
	list := decode[struct {
		Views []map[string]any `json:"views"`
	}](t, w)
	if len(list.Views) != 1 {
		t.Errorf("views = %d, want 1", len(list.Views))
	}
}

func TestProgressEndpoints(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/v1/progress", nil)
	resp := decode[struct {
		Summary  domain.ProgressSummary `json:"summary"`
		Consumed []queue.LessonTally    `json:"consumed"`
	}](t, w)
	if resp.Summary.XPEarned != 15 || len(resp.Consumed) != 1 {
		t.Errorf("progress = %+v", resp)
	}

	w = env.do(t, http.MethodGet, "/v1/progress/sums", nil)
	lp := decode[struct {
		XPEarned int `json:"xp_earned"`
	}](t, w)
	if lp.XPEarned != 15 {
		t.Errorf("lesson xp = %d, want 15", lp.XPEarned)
	}

	if w := env.do(t, http.MethodDelete, "/v1/progress/sums", nil); w.Code != http.StatusNoContent {
		t.Errorf("reset = %d, want 204", w.Code)
	}
	if len(env.progress.reset) != 1 || env.progress.reset[0] != "sums" {
		t.Errorf("reset calls = %v", env.progress.reset)
	}

	if w := env.do(t, http.MethodGet, "/v1/events", nil); w.Code != http.StatusNotImplemented {
		t.Errorf("events without log = %d, want 501", w.Code)
	}
}

func TestStream(t *testing.T) {
	env := setupTestServer(t)
	env.gw.Reply(domain.Verdict{IsCorrect: false, ShowHint: domain.HintFirst, AttemptNumber: 1, Feedback: "Not quite"})
	view := env.mount(t, "inline")

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/views/" + view.ID.String() + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() StreamMessage {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}
	// waitFor reads until the seg-1 instance reaches phase
	waitFor := func(phase runtime.Phase) *runtime.Snapshot {
		t.Helper()
		for i := 0; i < 10; i++ {
			msg := read()
			if msg.Event != EventSnapshot {
				continue
			}
			for _, p := range msg.View.Parts {
				if p.InstanceID == "seg-1" && p.Exercise.State.Phase == phase {
					return p.Exercise
				}
			}
		}
		t.Fatalf("instance never reached %s", phase)
		return nil
	}

	if first := read(); first.Event != EventSnapshot || first.View == nil {
		t.Fatalf("first message = %+v", first)
	}

	send := func(req StreamRequest) {
		t.Helper()
		if err := conn.WriteJSON(req); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(StreamRequest{Action: ActionPing})
	if msg := read(); msg.Event != EventPong {
		t.Errorf("ping reply = %+v", msg)
	}

	send(StreamRequest{Action: ActionExpand, Instance: "seg-1"})
	waitFor(runtime.PhaseIdle)

	send(StreamRequest{Action: ActionAnswer, Instance: "seg-1", Answer: "5"})
	send(StreamRequest{Action: ActionSubmit, Instance: "seg-1"})
	snap := waitFor(runtime.PhaseIncorrect)
	if snap.State.HintLevel != domain.HintFirst {
		t.Errorf("hint level = %d, want 1", snap.State.HintLevel)
	}

	send(StreamRequest{Action: ActionRetry, Instance: "nope"})
	for i := 0; ; i++ {
		msg := read()
		if msg.Event == EventError {
			break
		}
		if i > 5 {
			t.Fatal("expected an error event for unknown instance")
		}
	}

	if err := env.server.lessons.Unmount(view.ID); err != nil {
		t.Fatalf("Unmount() error = %v", err)
	}
	for i := 0; ; i++ {
		msg := read()
		if msg.Event == EventUnmounted {
			break
		}
		if i > 5 {
			t.Fatal("expected unmounted event")
		}
	}
}
