package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"

	"board-sync/domain"
)

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": exp.Unix(),
	})
	raw, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func testTokenSource(t *testing.T) *TokenSource {
	t.Helper()
	ts, err := NewTokenSource(signedToken(t, "user-1", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("token source: %v", err)
	}
	return ts
}

func TestFetchTasksFollowsPagination(t *testing.T) {
	var gotAuth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tasks" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		switch r.URL.Query().Get("pageToken") {
		case "":
			_ = sonic.ConfigStd.NewEncoder(w).Encode(tasksResponse{
				Tasks:         []domain.Task{{ID: "a", Category: "todo", Order: 0}},
				NextPageToken: "page-2",
			})
		case "page-2":
			_ = sonic.ConfigStd.NewEncoder(w).Encode(tasksResponse{
				Tasks: []domain.Task{{ID: "b", Category: "done", Order: 0}},
			})
		default:
			t.Errorf("unexpected page token: %s", r.URL.Query().Get("pageToken"))
		}
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, testTokenSource(t))
	tasks, err := remote.FetchTasks(context.Background())
	if err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "a" || tasks[1].ID != "b" {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if len(gotAuth) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(gotAuth))
	}
	for _, h := range gotAuth {
		if len(h) < 8 || h[:7] != "Bearer " {
			t.Fatalf("missing bearer header: %q", h)
		}
	}
}

func TestFetchSettings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/settings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = sonic.ConfigStd.NewEncoder(w).Encode(domain.Settings{TasksPerCategory: 7, ShowDoneTasks: true})
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, testTokenSource(t))
	settings, err := remote.FetchSettings(context.Background())
	if err != nil {
		t.Fatalf("fetch settings: %v", err)
	}
	if settings.TasksPerCategory != 7 || !settings.ShowDoneTasks {
		t.Fatalf("unexpected settings: %+v", settings)
	}
}

func TestMoveTaskSendsPayload(t *testing.T) {
	type recorded struct {
		method, path, body string
	}
	var got recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = recorded{method: r.Method, path: r.URL.Path, body: string(body)}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, testTokenSource(t))
	if err := remote.MoveTask(context.Background(), "T1", "done", 1); err != nil {
		t.Fatalf("move task: %v", err)
	}
	if got.method != http.MethodPatch {
		t.Fatalf("unexpected method: %s", got.method)
	}
	if got.path != "/api/tasks/T1/position" {
		t.Fatalf("unexpected path: %s", got.path)
	}
	var payload movePayload
	if err := sonic.Unmarshal([]byte(got.body), &payload); err != nil {
		t.Fatalf("invalid body %q: %v", got.body, err)
	}
	if payload.Category != "done" || payload.Order != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestMoveTaskReturnsServerDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"task was modified concurrently"}`))
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, testTokenSource(t))
	err := remote.MoveTask(context.Background(), "T1", "done", 0)
	var moveErr *MoveError
	if !errors.As(err, &moveErr) {
		t.Fatalf("expected MoveError, got %v", err)
	}
	if moveErr.Status != http.StatusConflict {
		t.Fatalf("unexpected status: %d", moveErr.Status)
	}
	if moveErr.Detail != "task was modified concurrently" {
		t.Fatalf("unexpected detail: %q", moveErr.Detail)
	}
}

func TestMoveTaskPlainTextDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "task not found", http.StatusNotFound)
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, testTokenSource(t))
	err := remote.MoveTask(context.Background(), "ghost", "done", 0)
	var moveErr *MoveError
	if !errors.As(err, &moveErr) {
		t.Fatalf("expected MoveError, got %v", err)
	}
	if moveErr.Detail != "task not found" {
		t.Fatalf("unexpected detail: %q", moveErr.Detail)
	}
}

func TestExpiredTokenFailsBeforeRequest(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	ts, err := NewTokenSource(signedToken(t, "user-1", time.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatalf("token source: %v", err)
	}
	remote := NewRemote(srv.URL, ts)
	if _, err := remote.FetchTasks(context.Background()); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if requests != 0 {
		t.Fatalf("expired token still produced %d requests", requests)
	}
}

func TestTokenSourceSubject(t *testing.T) {
	ts, err := NewTokenSource(signedToken(t, "auth0|abc", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("token source: %v", err)
	}
	if ts.Subject() != "auth0|abc" {
		t.Fatalf("unexpected subject: %q", ts.Subject())
	}
	token, err := ts.Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
}

func TestTokenSourceRejectsGarbage(t *testing.T) {
	if _, err := NewTokenSource("not-a-jwt"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}
