package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playground-engine/internal/engine"
	"playground-engine/internal/history"
	"playground-engine/internal/language"
	"playground-engine/internal/sandbox"
	"playground-engine/internal/sandbox/jsvm"
	"playground-engine/internal/sandbox/simulated"
	"playground-engine/internal/session"
)

type testServer struct {
	router   *gin.Engine
	sessions *session.Manager
	history  *history.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := history.NewMemoryStore(10)
	newEngine := func() *engine.Engine {
		return engine.New(engine.Options{
			Factories: map[language.Runtime]sandbox.Factory{
				language.RuntimeGoja:      jsvm.NewFactory(jsvm.DefaultConfig()),
				language.RuntimeSimulated: simulated.NewFactory(simulated.Config{}),
			},
			Observer:      history.NewRecorder(store, nil),
			TeardownGrace: 200 * time.Millisecond,
		})
	}
	sessions := session.NewManager(session.Options{NewEngine: newEngine, Max: 2})
	t.Cleanup(sessions.Close)

	router := gin.New()
	NewHandler(Deps{
		Sessions:  sessions,
		NewEngine: newEngine,
		History:   store,
	}).Register(router)

	return &testServer{router: router, sessions: sessions, history: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createSession(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealthAndLanguages(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = srv.do(t, http.MethodGet, "/languages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Languages []language.Spec `json:"languages"`
	}](t, w)

	names := make([]string, 0, len(resp.Languages))
	for _, spec := range resp.Languages {
		names = append(names, spec.Name)
	}
	assert.Contains(t, names, "javascript")
	assert.Contains(t, names, "python")
	assert.NotContains(t, names, "lua")
}

func TestRunSync(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createSession(t)

	w := srv.do(t, http.MethodPost, "/sessions/"+id+"/run", gin.H{
		"language": "javascript",
		"code":     `console.log("hi"); 42`,
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[runResponse](t, w)
	assert.Equal(t, engine.StateCompleted, resp.Summary.Status)
	assert.Equal(t, "42", resp.Summary.Value)
	assert.Equal(t, "hi\nReturn value: 42", resp.Summary.Output)
	require.NotEmpty(t, resp.Events)
	assert.Equal(t, engine.KindLog, resp.Events[0].Kind)
}

func TestRunSyncThrow(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createSession(t)

	w := srv.do(t, http.MethodPost, "/sessions/"+id+"/run", gin.H{
		"language": "javascript",
		"code":     `throw new Error("boom")`,
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[runResponse](t, w)
	assert.Equal(t, engine.StateFailed, resp.Summary.Status)
	assert.Equal(t, engine.FailureRuntimeThrow, resp.Summary.Failure)
	assert.Contains(t, resp.Summary.Error, "boom")
}

func TestExecuteAsyncConflictAndStop(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createSession(t)

	w := srv.do(t, http.MethodPost, "/sessions/"+id+"/execute", gin.H{
		"language":  "javascript",
		"code":      `while (true) {}`,
		"timeoutMs": 5000,
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"runId"`)

	w = srv.do(t, http.MethodPost, "/sessions/"+id+"/execute", gin.H{
		"language": "javascript",
		"code":     `1`,
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = srv.do(t, http.MethodPost, "/sessions/"+id+"/clear", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = srv.do(t, http.MethodPost, "/sessions/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(engine.StateStopped))

	w = srv.do(t, http.MethodGet, "/sessions/"+id+"/output", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode[struct {
		State   engine.State         `json:"state"`
		Events  []engine.OutputEvent `json:"events"`
		Summary *engine.Summary      `json:"summary"`
	}](t, w)
	assert.Equal(t, engine.StateStopped, out.State)
	require.NotNil(t, out.Summary)
	assert.Equal(t, engine.ExitCancelled, out.Summary.ExitCode)

	w = srv.do(t, http.MethodPost, "/sessions/"+id+"/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(engine.StateIdle))
}

func TestExecuteValidation(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createSession(t)

	w := srv.do(t, http.MethodPost, "/sessions/"+id+"/execute", gin.H{"code": "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.do(t, http.MethodPost, "/sessions/"+id+"/execute", gin.H{
		"language":  "javascript",
		"code":      "1",
		"timeoutMs": -5,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnsupportedLanguageIsARun(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodPost, "/execute", gin.H{"language": "cobol", "code": "DISPLAY 'HI'."})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[runResponse](t, w)
	assert.Equal(t, engine.StateFailed, resp.Summary.Status)
	assert.Equal(t, engine.FailureUnsupportedLanguage, resp.Summary.Failure)
	assert.Equal(t, "Execution not supported for language: cobol", resp.Summary.Error)
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createSession(t)

	w := srv.do(t, http.MethodGet, "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[sessionView](t, w)
	assert.Equal(t, id, view.ID)
	assert.Equal(t, engine.StateIdle, view.State)
	assert.Equal(t, session.StateActive, view.SessionStatus)

	w = srv.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = srv.do(t, http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = srv.do(t, http.MethodGet, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = srv.do(t, http.MethodPost, "/sessions/missing/stop", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionLimit(t *testing.T) {
	srv := newTestServer(t)
	srv.createSession(t)
	srv.createSession(t)

	w := srv.do(t, http.MethodPost, "/sessions", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"hint"`)
}

func TestDownloadOutput(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createSession(t)

	w := srv.do(t, http.MethodPost, "/sessions/"+id+"/run", gin.H{
		"language": "javascript",
		"code":     `console.log("one"); console.warn("two")`,
	})
	require.Equal(t, http.StatusOK, w.Code)
	runID := decode[runResponse](t, w).RunID

	w = srv.do(t, http.MethodGet, "/sessions/"+id+"/output/download", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="output-`+runID+`.txt"`, w.Header().Get("Content-Disposition"))

	lines := strings.Split(w.Body.String(), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.True(t, strings.HasSuffix(lines[0], "LOG: one"))
	assert.True(t, strings.HasSuffix(lines[1], "WARNING: two"))
}

func TestHistory(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodPost, "/execute", gin.H{"language": "javascript", "code": `"first"`})
	require.Equal(t, http.StatusOK, w.Code)
	w = srv.do(t, http.MethodPost, "/execute", gin.H{"language": "javascript", "code": `"second"`})
	require.Equal(t, http.StatusOK, w.Code)
	lastID := decode[runResponse](t, w).RunID

	w = srv.do(t, http.MethodGet, "/history?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Runs []history.Record `json:"runs"`
	}](t, w)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, lastID, list.Runs[0].RunID)

	w = srv.do(t, http.MethodGet, "/history/"+lastID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[history.Record](t, w)
	assert.Equal(t, `"second"`, rec.Source)

	w = srv.do(t, http.MethodGet, "/history/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = srv.do(t, http.MethodGet, "/history?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamSession(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createSession(t)

	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(gin.H{
		"type":     "execute",
		"language": "javascript",
		"code":     `console.log("streamed"); 7`,
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var kinds []string
	var events []engine.OutputEvent
	var summary *engine.Summary
	for summary == nil {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		kinds = append(kinds, msg.Type)
		switch msg.Type {
		case "event":
			require.NotNil(t, msg.Event)
			events = append(events, *msg.Event)
		case "summary":
			summary = msg.Summary
		case "error":
			t.Fatalf("unexpected error frame: %s", msg.Error)
		}
	}

	assert.Equal(t, "started", kinds[0])
	assert.Equal(t, engine.StateCompleted, summary.Status)
	assert.Equal(t, "7", summary.Value)
	require.Len(t, events, 2)
	assert.Equal(t, "streamed", events[0].Content)
	assert.Equal(t, "Return value: 7", events[1].Content)
	for i, event := range events {
		assert.Equal(t, i+1, event.Seq)
	}

	require.NoError(t, conn.WriteJSON(gin.H{"type": "bogus"}))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
}

func TestStreamSessionFollowsHTTPRuns(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createSession(t)

	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	for i, code := range []string{`console.log("first"); 1`, `console.log("second"); 2`} {
		w := srv.do(t, http.MethodPost, "/sessions/"+id+"/execute", gin.H{
			"language": "javascript",
			"code":     code,
		})
		require.Equal(t, http.StatusAccepted, w.Code)
		runID := decode[struct {
			RunID string `json:"runId"`
		}](t, w).RunID

		var kinds []string
		var summary *engine.Summary
		for summary == nil {
			var msg wsMessage
			require.NoError(t, conn.ReadJSON(&msg))
			assert.Equal(t, runID, msg.RunID)
			kinds = append(kinds, msg.Type)
			if msg.Type == "summary" {
				summary = msg.Summary
			}
		}
		assert.Equal(t, []string{"started", "event", "event", "summary"}, kinds)
		assert.Equal(t, fmt.Sprint(i+1), summary.Value)
	}
}
