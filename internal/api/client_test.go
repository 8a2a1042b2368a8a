package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method string
	Path   string
	Header http.Header
	Body   map[string]any
}

type fakeBackend struct {
	t        *testing.T
	mu       sync.Mutex
	requests []recorded
	routes   map[string]func(w http.ResponseWriter, body map[string]any)
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{t: t, routes: make(map[string]func(http.ResponseWriter, map[string]any))}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.Header.Get("Content-Type") == "application/json" {
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, &body)
		}
		fb.mu.Lock()
		fb.requests = append(fb.requests, recorded{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
		h := fb.routes[r.Method+" "+r.URL.Path]
		fb.mu.Unlock()
		if h == nil {
			http.NotFound(w, r)
			return
		}
		h(w, body)
	}))
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBackend) handle(route string, h func(w http.ResponseWriter, body map[string]any)) {
	fb.mu.Lock()
	fb.routes[route] = h
	fb.mu.Unlock()
}

func (fb *fakeBackend) last() recorded {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.NotEmpty(fb.t, fb.requests)
	return fb.requests[len(fb.requests)-1]
}

func (fb *fakeBackend) count() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.requests)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginReturnsTokenWithoutAuthHeader(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("POST /api/auth/login", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, 200, map[string]any{
			"success":      true,
			"access_token": "tok-1",
			"user":         map[string]any{"id": 7, "name": "Ada", "email": "ada@example.com"},
		})
	})

	c := NewClient(srv.URL)
	res, err := c.Login(context.Background(), "ada@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", res.Token)
	assert.Equal(t, FlexID("7"), res.User.ID)

	req := fb.last()
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Equal(t, "ada@example.com", req.Body["email"])
	assert.NotEmpty(t, req.Header.Get("X-Request-ID"))
}

func TestLoginRejected(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("POST /api/auth/login", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, 401, map[string]any{"detail": "Invalid credentials"})
	})

	_, err := NewClient(srv.URL).Login(context.Background(), "a", "b")
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 401, ae.Status)
	assert.Equal(t, "Invalid credentials", ae.Message)
	assert.True(t, IsAuth(err))
}

func TestAuthedCallWithoutTokenFailsLocally(t *testing.T) {
	fb, srv := newFakeBackend(t)

	_, err := NewClient(srv.URL).Me(context.Background())
	assert.True(t, IsAuth(err))
	assert.Equal(t, 0, fb.count())
}

func TestMeSendsBearer(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("GET /api/auth/me", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, 200, map[string]any{"user": map[string]any{"id": "u1", "name": "Ada"}})
	})

	c := NewClient(srv.URL, WithToken("secret"))
	u, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)
	assert.Equal(t, "Bearer secret", fb.last().Header.Get("Authorization"))
}

func TestSuccessFalseIsNetworkError(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("POST /api/files/operation", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, 200, map[string]any{"success": false, "error": "no such file"})
	})

	_, err := NewClient(srv.URL, WithToken("t")).ReadFile(context.Background(), "s1", "x.go")
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "no such file", ne.Message)
}

func TestServerErrorIsNetworkError(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("POST /api/files/operation", func(w http.ResponseWriter, body map[string]any) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := NewClient(srv.URL, WithToken("t")).ListFiles(context.Background(), "s1", "")
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, 500, ne.Status)
	assert.Contains(t, ne.Error(), "HTTP 500: boom")
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, WithToken("t")).ListFiles(context.Background(), "s1", "")
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.NotNil(t, ne.Unwrap())
}

func TestListFiles(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("POST /api/files/operation", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, 200, map[string]any{"success": true, "result": map[string]any{"items": []map[string]any{
			{"path": "src", "name": "src", "type": "directory"},
			{"path": "main.go", "name": "main.go", "type": "file"},
		}}})
	})

	items, err := NewClient(srv.URL, WithToken("t")).ListFiles(context.Background(), "s1", "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[0].IsDir())
	assert.False(t, items[1].IsDir())

	req := fb.last()
	assert.Equal(t, "list", req.Body["action"])
	assert.Equal(t, "", req.Body["path"])
	assert.Equal(t, "s1", req.Body["session_id"])
	_, hasContent := req.Body["content"]
	assert.False(t, hasContent)
}

func TestListFilesEmptyResult(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("POST /api/files/operation", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, 200, map[string]any{"success": true, "result": map[string]any{}})
	})

	items, err := NewClient(srv.URL, WithToken("t")).ListFiles(context.Background(), "s1", "")
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestCreateSendsEmptyContent(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("POST /api/files/operation", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, 200, map[string]any{"success": true, "result": map[string]any{}})
	})

	require.NoError(t, NewClient(srv.URL, WithToken("t")).CreateFile(context.Background(), "s1", "notes.md", ""))
	req := fb.last()
	assert.Equal(t, "create", req.Body["action"])
	content, ok := req.Body["content"]
	assert.True(t, ok)
	assert.Equal(t, "", content)
}

func TestUpdateWithProposal(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("POST /api/files/operation", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, 200, map[string]any{"success": true, "result": map[string]any{
			"diff_id": "d-1", "diff_content": "+hello", "path": "notes.md",
		}})
	})

	res, err := NewClient(srv.URL, WithToken("t")).UpdateFile(context.Background(), "s1", "notes.md", "hello")
	require.NoError(t, err)
	assert.True(t, res.NeedsReview())
	assert.Equal(t, "d-1", res.DiffID)
	assert.Equal(t, "hello", fb.last().Body["content"])
}

func TestUpdateCommittedDefaultsPath(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("POST /api/files/operation", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, 200, map[string]any{"success": true, "result": map[string]any{"message": "saved"}})
	})

	res, err := NewClient(srv.URL, WithToken("t")).UpdateFile(context.Background(), "s1", "a.txt", "x")
	require.NoError(t, err)
	assert.False(t, res.NeedsReview())
	assert.Equal(t, "a.txt", res.Path)
}

func TestApplyDiffPath(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("POST /api/files/apply-diff/d-1", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, 200, map[string]any{"success": true})
	})

	require.NoError(t, NewClient(srv.URL, WithToken("t")).ApplyDiff(context.Background(), "d-1"))
	assert.Equal(t, "/api/files/apply-diff/d-1", fb.last().Path)
}

func TestCreateSessionNullProject(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("POST /api/sessions/create", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, 200, map[string]any{"success": true, "session_id": "abc", "project_context": map[string]any{"project_path": ""}})
	})

	info, err := NewClient(srv.URL, WithToken("t")).CreateSession(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "abc", info.ID)
	assert.Equal(t, "", info.ProjectPath)

	v, ok := fb.last().Body["project_path"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestUserSessions(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("GET /api/sessions/user-sessions", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, 200, map[string]any{"sessions": []map[string]any{
			{"session_id": "s1", "created_at": "2024-03-01T10:00:00.123456", "project_path": "proj"},
			{"session_id": "s2", "created_at": "2024-03-02T10:00:00Z", "project_path": nil},
		}})
	})

	sessions, err := NewClient(srv.URL, WithToken("t")).UserSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, 2024, sessions[0].CreatedAt.Year())
	assert.Equal(t, "proj", sessions[0].ProjectPath)
	assert.Equal(t, "", sessions[1].ProjectPath)
}

func TestChatWithProjectResponseShapes(t *testing.T) {
	fb, srv := newFakeBackend(t)
	var nested atomic.Bool
	fb.handle("POST /api/chat/with-project", func(w http.ResponseWriter, body map[string]any) {
		if nested.Load() {
			writeJSON(w, 200, map[string]any{"success": true, "response": map[string]any{"response": "nested"}})
			return
		}
		writeJSON(w, 200, map[string]any{"success": true, "response": "flat", "execution_performed": true})
	})
	c := NewClient(srv.URL, WithToken("t"))

	res, err := c.ChatWithProject(context.Background(), ChatRequest{Message: "hi", SessionID: "s1", AutoExecute: true})
	require.NoError(t, err)
	assert.Equal(t, "flat", res.Response)
	assert.True(t, res.ChangedFiles())
	assert.Equal(t, true, fb.last().Body["auto_execute"])

	nested.Store(true)
	res, err = c.ChatWithProject(context.Background(), ChatRequest{Message: "hi", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "nested", res.Response)
	assert.False(t, res.ChangedFiles())
}

func TestExecute(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("POST /api/terminal/execute", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, 200, map[string]any{"success": true, "result": map[string]any{"stdout": "ok\n", "stderr": "", "return_code": 0}})
	})

	res, err := NewClient(srv.URL, WithToken("t")).Execute(context.Background(), ExecRequest{Command: "ls", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "ok\n", res.Stdout)
	_, hasDir := fb.last().Body["working_dir"]
	assert.False(t, hasDir)
}

func TestCloneRepo(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("POST /api/github/clone", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, 200, map[string]any{"success": true, "local_path": "/work/repo"})
	})

	p, err := NewClient(srv.URL, WithToken("t")).CloneRepo(context.Background(), "s1", "https://github.com/x/y")
	require.NoError(t, err)
	assert.Equal(t, "/work/repo", p)
	assert.Equal(t, "https://github.com/x/y", fb.last().Body["repo_url"])
}

func TestUploadFolderMultipart(t *testing.T) {
	var mu sync.Mutex
	var gotSession string
	var gotNames []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		mu.Lock()
		defer mu.Unlock()
		gotSession = r.FormValue("session_id")
		for _, fh := range r.MultipartForm.File["files"] {
			gotNames = append(gotNames, fh.Filename)
		}
		writeJSON(w, 200, map[string]any{"success": true, "files": []any{"a.txt", map[string]any{"path": "b/c.txt"}}})
	}))
	defer srv.Close()

	names, err := NewClient(srv.URL, WithToken("t")).UploadFolder(context.Background(), "s1", []UploadFile{
		{Name: "a.txt", Content: []byte("a")},
		{Name: "c.txt", Content: []byte("c")},
	})
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "s1", gotSession)
	assert.Equal(t, []string{"a.txt", "c.txt"}, gotNames)
	assert.Equal(t, []string{"a.txt", "b/c.txt"}, names)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.handle("GET /api/auth/me", func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, 200, map[string]any{"user": map[string]any{"id": 1}})
	})

	c := NewClient(srv.URL, WithToken("t"), WithRateLimit(0.001, 1))
	_, err := c.Me(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Me(ctx)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, 1, fb.count())
}

func TestFlexIDAndTimestamp(t *testing.T) {
	var v struct {
		A FlexID    `json:"a"`
		B FlexID    `json:"b"`
		T Timestamp `json:"t"`
		U Timestamp `json:"u"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 42, "b": "x", "t": "2024-01-02 03:04:05", "u": 1700000000}`), &v))
	assert.Equal(t, FlexID("42"), v.A)
	assert.Equal(t, FlexID("x"), v.B)
	assert.Equal(t, 3, v.T.Hour())
	assert.Equal(t, int64(1700000000), v.U.Unix())
}
