package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/quire/internal/autosave"
	"github.com/starford/quire/internal/prompt"
	"github.com/starford/quire/internal/session"
	"github.com/starford/quire/internal/testutil"
)

type testEnv struct {
	sess    *session.Session
	prompts *prompt.Broker
	router  http.Handler
	dir     string
}

// newTestEnv sets up a temp workspace, session, prompt broker and router.
// A non-empty authToken enables token mode.
func newTestEnv(t *testing.T, authToken string) *testEnv {
	t.Helper()

	dir, fs := testutil.TestWorkspace(t)
	logger := testutil.Logger()
	prompts := prompt.NewBroker(nil, logger)
	sess := session.New(fs,
		session.WithRoot(dir),
		session.WithPrompter(prompts),
		session.WithRecovery(testutil.TestSlots(t)),
		session.WithAutosave(autosave.New(10*time.Millisecond, logger)),
		session.WithLogger(logger),
	)
	t.Cleanup(sess.Shutdown)

	return &testEnv{
		sess:    sess,
		prompts: prompts,
		router:  NewRouter(sess, prompts, authToken != "", authToken, nil),
		dir:     dir,
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestOpenAndGetCurrent(t *testing.T) {
	env := newTestEnv(t, "")
	testutil.WriteFile(t, env.dir, "hello.md", "# Hello\nWorld")

	w := env.do(t, http.MethodPost, "/documents/open", map[string]string{"path": "hello.md"})
	if w.Code != http.StatusOK {
		t.Fatalf("open status = %d, body = %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/documents/current", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("current status = %d", w.Code)
	}
	d := decode[session.Document](t, w)
	if d.Content != "# Hello\nWorld" {
		t.Errorf("content = %q", d.Content)
	}
	if d.Name != "hello.md" || d.Modified {
		t.Errorf("document = %+v", d)
	}
}

func TestCurrentWithoutDocuments(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/documents/current", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestOpenErrors(t *testing.T) {
	env := newTestEnv(t, "")
	testutil.WriteFile(t, env.dir, "tool.exe", "MZ")

	tests := []struct {
		name string
		path string
		code int
		kind string
	}{
		{"missing", "nope.md", http.StatusNotFound, "FileOpenFailed"},
		{"blacklisted", "tool.exe", http.StatusUnsupportedMediaType, "UnsupportedFileType"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/documents/open", map[string]string{"path": tt.path})
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.code, w.Body.String())
			}
			if got := decode[errResponse](t, w).Kind; got != tt.kind {
				t.Errorf("kind = %q, want %q", got, tt.kind)
			}
		})
	}
}

func TestCreateUpdateSave(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/documents", map[string]string{"name": "draft.txt"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decode[session.Document](t, w)
	if created.Kind != session.Temporary {
		t.Fatalf("kind = %q, want temporary", created.Kind)
	}

	w = env.do(t, http.MethodPut, "/documents/current/content", map[string]string{"content": "first line\n"})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d", w.Code)
	}
	upd := decode[UpdateContentResponse](t, w)
	if !upd.Changed || !upd.Document.Modified {
		t.Errorf("update = %+v", upd)
	}

	w = env.do(t, http.MethodPut, "/documents/current/content", map[string]string{"content": "first line\n"})
	if decode[UpdateContentResponse](t, w).Changed {
		t.Error("identical content reported as changed")
	}

	target := filepath.Join(env.dir, "draft.txt")
	w = env.do(t, http.MethodPost, "/documents/save", SaveRequest{Path: created.Path, Target: target})
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}
	saved := decode[session.Document](t, w)
	if saved.Path != target || saved.Kind != session.Persisted || saved.Modified {
		t.Errorf("saved = %+v", saved)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "first line\n" {
		t.Errorf("disk = %q", data)
	}
}

func TestListDocumentsWithSummaries(t *testing.T) {
	env := newTestEnv(t, "")
	testutil.WriteFile(t, env.dir, "a.md", "---\ntitle: Alpha\ntags: [x]\n---\nbody #y\n")
	testutil.WriteFile(t, env.dir, "b.txt", "plain text")

	for _, p := range []string{"a.md", "b.txt"} {
		if w := env.do(t, http.MethodPost, "/documents/open", map[string]string{"path": p}); w.Code != http.StatusOK {
			t.Fatalf("open %s: %d", p, w.Code)
		}
	}

	w := env.do(t, http.MethodGet, "/documents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	resp := decode[DocumentListResponse](t, w)
	if len(resp.Documents) != 2 {
		t.Fatalf("documents = %d, want 2", len(resp.Documents))
	}
	a, b := resp.Documents[0], resp.Documents[1]
	if a.Summary.Title != "Alpha" || len(a.Summary.Tags) != 2 {
		t.Errorf("a summary = %+v", a.Summary)
	}
	if a.Current || !b.Current || resp.Current != b.Path {
		t.Errorf("current flags wrong: %+v", resp)
	}
	if b.Summary.Title != "b.txt" || b.Summary.Words != 2 {
		t.Errorf("b summary = %+v", b.Summary)
	}
}

func TestSwitchRenameClose(t *testing.T) {
	env := newTestEnv(t, "")
	a := testutil.WriteFile(t, env.dir, "a.txt", "A")
	testutil.WriteFile(t, env.dir, "b.txt", "B")
	env.do(t, http.MethodPost, "/documents/open", map[string]string{"path": "a.txt"})
	env.do(t, http.MethodPost, "/documents/open", map[string]string{"path": "b.txt"})

	w := env.do(t, http.MethodPost, "/documents/switch", PathRequest{Path: a})
	if w.Code != http.StatusOK || decode[session.Document](t, w).Path != a {
		t.Fatalf("switch status = %d, body = %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/documents/rename", RenameRequest{Path: a, Name: "c.txt"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename status = %d, body = %s", w.Code, w.Body.String())
	}
	renamed := decode[session.Document](t, w)
	if renamed.Name != "c.txt" {
		t.Errorf("name = %q", renamed.Name)
	}
	if _, err := os.Stat(filepath.Join(env.dir, "c.txt")); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}

	w = env.do(t, http.MethodPost, "/documents/close", PathRequest{Path: renamed.Path})
	if w.Code != http.StatusNoContent {
		t.Fatalf("close status = %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/documents/close", PathRequest{Path: renamed.Path})
	if w.Code != http.StatusNotFound {
		t.Errorf("second close status = %d, want 404", w.Code)
	}
	if got := len(env.sess.Documents()); got != 1 {
		t.Errorf("documents = %d, want 1", got)
	}
}

func TestSwitchUnknown(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodPost, "/documents/switch", PathRequest{Path: "/nowhere.txt"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if decode[errResponse](t, w).Kind != "SwitchFileFailed" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSetLineEnding(t *testing.T) {
	env := newTestEnv(t, "")
	p := testutil.WriteFile(t, env.dir, "le.txt", "a\nb\n")
	env.do(t, http.MethodPost, "/documents/open", map[string]string{"path": "le.txt"})

	w := env.do(t, http.MethodPost, "/documents/line-ending", LineEndingRequest{Path: p, LineEnding: "CRLF"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	d := decode[session.Document](t, w)
	if d.Content != "a\r\nb\r\n" || d.LineEnding != "CRLF" {
		t.Errorf("document = %+v", d)
	}
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name   string
		method string
		target string
		body   any
		code   int
	}{
		{"bad json", http.MethodPost, "/documents/open", "{", http.StatusBadRequest},
		{"rename without name", http.MethodPost, "/documents/rename", RenameRequest{Path: "/a.txt"}, http.StatusUnprocessableEntity},
		{"unknown line ending", http.MethodPost, "/documents/line-ending", LineEndingRequest{Path: "/a.txt", LineEnding: "LS"}, http.StatusUnprocessableEntity},
		{"switch without path", http.MethodPost, "/documents/switch", PathRequest{}, http.StatusUnprocessableEntity},
		{"content missing", http.MethodPut, "/documents/current/content", map[string]string{}, http.StatusUnprocessableEntity},
		{"bad choice", http.MethodPost, "/prompts/x", AnswerRequest{Choice: "both"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.target, tt.body)
			if w.Code != tt.code {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.code, w.Body.String())
			}
		})
	}
}

func TestPromptedOpen(t *testing.T) {
	env := newTestEnv(t, "")
	p := testutil.WriteFile(t, env.dir, "picked.md", "picked")

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- env.do(t, http.MethodPost, "/documents/open", OpenRequest{})
	}()

	var id string
	testutil.Eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		w := env.do(t, http.MethodGet, "/prompts", nil)
		resp := decode[struct {
			Prompts []prompt.Prompt `json:"prompts"`
		}](t, w)
		if len(resp.Prompts) == 0 {
			return false
		}
		id = resp.Prompts[0].ID
		return resp.Prompts[0].Type == prompt.Open
	}, "open prompt never appeared")
	if id == "" {
		t.FailNow()
	}

	w := env.do(t, http.MethodPost, "/prompts/"+id, AnswerRequest{Path: p})
	if w.Code != http.StatusNoContent {
		t.Fatalf("answer status = %d, body = %s", w.Code, w.Body.String())
	}

	select {
	case w := <-done:
		if w.Code != http.StatusOK || decode[session.Document](t, w).Content != "picked" {
			t.Errorf("open status = %d, body = %s", w.Code, w.Body.String())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("prompted open did not return")
	}
}

func TestPromptCancelledOpen(t *testing.T) {
	env := newTestEnv(t, "")

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- env.do(t, http.MethodPost, "/documents/open", OpenRequest{})
	}()

	testutil.Eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(env.prompts.Pending()) == 1
	}, "open prompt never appeared")
	pending := env.prompts.Pending()
	if len(pending) != 1 {
		t.FailNow()
	}
	env.do(t, http.MethodPost, "/prompts/"+pending[0].ID, AnswerRequest{Cancelled: true})

	select {
	case w := <-done:
		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", w.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("prompted open did not return")
	}
}

func TestAnswerUnknownPrompt(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodPost, "/prompts/missing", AnswerRequest{})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestListDir(t *testing.T) {
	env := newTestEnv(t, "")
	testutil.WriteFile(t, env.dir, "one.txt", "1")
	if err := os.Mkdir(filepath.Join(env.dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/dir", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[struct {
		Entries []struct {
			Name  string `json:"name"`
			IsDir bool   `json:"is_dir"`
		} `json:"entries"`
	}](t, w)
	if len(resp.Entries) != 2 {
		t.Fatalf("entries = %+v", resp.Entries)
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, "secret")

	w := env.do(t, http.MethodGet, "/documents", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", rec.Code)
	}
}

func TestAuthQueryTokenOnlyForGet(t *testing.T) {
	env := newTestEnv(t, "secret")

	w := env.do(t, http.MethodGet, "/documents?access_token=secret", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET with query token status = %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/documents?access_token=secret", CreateRequest{})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("POST with query token status = %d, want 401", w.Code)
	}
}
