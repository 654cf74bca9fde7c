package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvr-ai/solvr/pkg/history"
	"github.com/solvr-ai/solvr/pkg/llm"
	"github.com/solvr-ai/solvr/pkg/models"
	"github.com/solvr-ai/solvr/pkg/queue"
	"github.com/solvr-ai/solvr/pkg/react"
	"github.com/solvr-ai/solvr/pkg/session"
	"github.com/solvr-ai/solvr/pkg/tools"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testModels = []string{"gemini-2.5-pro", "gemini-2.5-flash"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRepo is an in-memory history.Repository for handler tests.
type fakeRepo struct {
	mu      sync.Mutex
	records map[string]*models.SessionRecord
	pingErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*models.SessionRecord)}
}

func (r *fakeRepo) Save(_ context.Context, rec *models.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.SessionID] = rec
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id string) (*models.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, history.ErrNotFound
	}
	return rec, nil
}

func (r *fakeRepo) List(context.Context, int, int) ([]*models.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SessionRecord
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func (r *fakeRepo) Search(_ context.Context, text string) ([]*models.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SessionRecord
	for _, rec := range r.records {
		if strings.Contains(strings.ToLower(rec.Query), strings.ToLower(text)) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return history.ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *fakeRepo) Ping(context.Context) error  { return r.pingErr }
func (r *fakeRepo) Close(context.Context) error { return nil }

func newTestServer(t *testing.T, repo history.Repository) (*Server, *session.Manager, *queue.Runner) {
	t.Helper()
	m := session.NewManager(repo, discardLogger())
	factory := func(model, thinkingLevel string) *react.Engine {
		reg := tools.NewRegistry()
		require.NoError(t, reg.Register(tools.NewFinalAnswerTool(nil)))
		provider := llm.NewScriptedProvider(
			"Answering immediately.",
			`{"tool": "final_answer", "parameters": {"answer": "done"}}`,
			"done",
		)
		return react.NewEngine(provider, model, nil, reg, discardLogger(),
			react.Options{MaxThoughtCycles: 2})
	}
	runner := queue.NewRunner(m, factory, "gemini-2.5-flash", discardLogger())
	runner.SetGracePeriod(time.Hour)
	t.Cleanup(runner.Stop)
	return NewServer(m, runner, repo, testModels, "gemini-2.5-flash", discardLogger()), m, runner
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateSession(t *testing.T) {
	srv, m, _ := newTestServer(t, nil)
	router := srv.Router()

	w := doJSON(t, router, http.MethodPost, "/api/v1/sessions", `{"query": "what is 2+2"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"session_id":"chat_`)

	// The session is tracked immediately.
	var created []session.View
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		created = m.ListSessions(0, 0)
		if len(created) == 1 && created[0].Status == session.StatusCompleted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, created, 1)
	assert.Equal(t, session.StatusCompleted, created[0].Status)
	// The recorded model is the resolved default, not the empty request value.
	assert.Equal(t, "gemini-2.5-flash", created[0].Model)
}

func TestCreateSession_RunnerGetsResolvedModel(t *testing.T) {
	m := session.NewManager(nil, discardLogger())
	modelSeen := make(chan string, 1)
	factory := func(model, thinkingLevel string) *react.Engine {
		modelSeen <- model
		reg := tools.NewRegistry()
		require.NoError(t, reg.Register(tools.NewFinalAnswerTool(nil)))
		provider := llm.NewScriptedProvider(
			"Answering immediately.",
			`{"tool": "final_answer", "parameters": {"answer": "done"}}`,
			"done",
		)
		return react.NewEngine(provider, model, nil, reg, discardLogger(),
			react.Options{MaxThoughtCycles: 2})
	}
	// Distinct runner fallback: if the handler leaked an empty model the
	// run would use it and diverge from the recorded one.
	runner := queue.NewRunner(m, factory, "runner-fallback", discardLogger())
	runner.SetGracePeriod(time.Hour)
	t.Cleanup(runner.Stop)
	srv := NewServer(m, runner, nil, testModels, "gemini-2.5-flash", discardLogger())

	w := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/sessions", `{"query": "q"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case model := <-modelSeen:
		assert.Equal(t, "gemini-2.5-flash", model, "runner must receive the resolved model")
	case <-time.After(5 * time.Second):
		t.Fatal("run never started")
	}
}

func TestCreateSession_Validation(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	router := srv.Router()

	tests := []struct {
		name string
		body string
	}{
		{"empty query", `{"query": "   "}`},
		{"missing query", `{}`},
		{"unsupported model", `{"query": "q", "model": "gpt-9"}`},
		{"malformed json", `{"query": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/api/v1/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestGetSession(t *testing.T) {
	srv, m, _ := newTestServer(t, nil)
	router := srv.Router()

	v := m.CreateSession("q", "gemini-2.5-flash")
	w := doJSON(t, router, http.MethodGet, "/api/v1/sessions/"+v.SessionID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), v.SessionID)

	w = doJSON(t, router, http.MethodGet, "/api/v1/sessions/chat_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteSession(t *testing.T) {
	repo := newFakeRepo()
	srv, m, _ := newTestServer(t, repo)
	router := srv.Router()

	v := m.CreateSession("q", "gemini-2.5-flash")
	w := doJSON(t, router, http.MethodDelete, "/api/v1/sessions/"+v.SessionID, "")
	require.Equal(t, http.StatusOK, w.Code)

	// Evicted from memory and flushed to the store.
	_, ok := m.GetSession(v.SessionID)
	assert.False(t, ok)
	_, err := repo.Get(context.Background(), v.SessionID)
	assert.NoError(t, err)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/sessions/"+v.SessionID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamSession_DeliversEventsUntilEnd(t *testing.T) {
	srv, m, runner := newTestServer(t, nil)
	router := srv.Router()

	v := m.CreateSession("q", "gemini-2.5-flash")
	runner.Run(v.SessionID, "q", "", "", nil)

	w := doJSON(t, router, http.MethodGet, "/api/v1/sessions/"+v.SessionID+"/stream", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	body := w.Body.String()
	for _, want := range []string{`"type":"start"`, `"type":"thought"`, `"type":"final_answer"`, `"type":"end"`} {
		assert.Contains(t, body, want)
	}
}

func TestModelsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	w := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/models", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gemini-2.5-pro")
	assert.Contains(t, w.Body.String(), `"default":"gemini-2.5-flash"`)
}

func TestHealth(t *testing.T) {
	t.Run("no store", func(t *testing.T) {
		srv, _, _ := newTestServer(t, nil)
		w := doJSON(t, srv.Router(), http.MethodGet, "/healthz", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"store":"disabled"`)
	})

	t.Run("store ok", func(t *testing.T) {
		srv, _, _ := newTestServer(t, newFakeRepo())
		w := doJSON(t, srv.Router(), http.MethodGet, "/healthz", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"store":"ok"`)
	})

	t.Run("store down", func(t *testing.T) {
		repo := newFakeRepo()
		repo.pingErr = context.DeadlineExceeded
		srv, _, _ := newTestServer(t, repo)
		w := doJSON(t, srv.Router(), http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestHistoryEndpoints(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now()
	rec := &models.SessionRecord{
		SessionID: "chat_20260824_100000",
		Query:     "capital of France",
		Events: []models.Event{
			{Type: models.EventStart, Query: "capital of France", Timestamp: now},
			{Type: models.EventFinalAnswer, Content: "Paris", Timestamp: now},
			{Type: models.EventEnd, Timestamp: now},
		},
		FinalAnswer: "Paris",
		Status:      "completed",
		CreatedAt:   now,
		EventCount:  3,
	}
	require.NoError(t, repo.Save(context.Background(), rec))

	srv, _, _ := newTestServer(t, repo)
	router := srv.Router()

	w := doJSON(t, router, http.MethodGet, "/api/v1/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), rec.SessionID)

	w = doJSON(t, router, http.MethodGet, "/api/v1/history/"+rec.SessionID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Paris")

	w = doJSON(t, router, http.MethodGet, "/api/v1/history/chat_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/history/search?q=france", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), rec.SessionID)

	w = doJSON(t, router, http.MethodGet, "/api/v1/history/search", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/history/"+rec.SessionID+"/stream", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.Equal(t, 3, strings.Count(w.Body.String(), "data:"), "replay must frame every event")

	w = doJSON(t, router, http.MethodDelete, "/api/v1/history/"+rec.SessionID, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, router, http.MethodDelete, "/api/v1/history/"+rec.SessionID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestID(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	router := srv.Router()

	w := doJSON(t, router, http.MethodGet, "/api/v1/models", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestHistoryDisabled(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	router := srv.Router()

	for _, path := range []string{"/api/v1/history", "/api/v1/history/x", "/api/v1/history/search?q=a"} {
		w := doJSON(t, router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}
