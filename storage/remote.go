package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"board-sync/domain"
)

const (
	defaultPageSize  = 30
	maxErrorBodySize = 4 * 1024
)

// MoveError reports a non-2xx response to a move request. Detail carries the
// server-provided message when one was present.
type MoveError struct {
	Status int
	Detail string
}

func (e *MoveError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("move rejected (status %d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("move rejected (status %d)", e.Status)
}

// Remote is the HTTP client for the board API. All calls attach the bearer
// token from the configured token source.
type Remote struct {
	baseURL  string
	tokens   *TokenSource
	http     *http.Client
	pageSize int
}

// NewRemote creates a Remote for the given base URL, e.g. "https://api.example.com".
func NewRemote(baseURL string, tokens *TokenSource) *Remote {
	return &Remote{
		baseURL:  strings.TrimRight(baseURL, "/"),
		tokens:   tokens,
		http:     &http.Client{},
		pageSize: defaultPageSize,
	}
}

type tasksResponse struct {
	Tasks         []domain.Task `json:"tasks"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

// FetchTasks retrieves the full task list, following pagination tokens until
// the server reports no further page.
func (r *Remote) FetchTasks(ctx context.Context) ([]domain.Task, error) {
	var tasks []domain.Task
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("pageSize", strconv.Itoa(r.pageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page tasksResponse
		if err := r.getJSON(ctx, "/api/tasks?"+q.Encode(), &page); err != nil {
			return nil, fmt.Errorf("fetch tasks: %w", err)
		}
		tasks = append(tasks, page.Tasks...)
		if page.NextPageToken == "" {
			return tasks, nil
		}
		pageToken = page.NextPageToken
	}
}

// FetchSettings retrieves the user's board display settings.
func (r *Remote) FetchSettings(ctx context.Context) (domain.Settings, error) {
	var settings domain.Settings
	if err := r.getJSON(ctx, "/api/settings", &settings); err != nil {
		return domain.Settings{}, fmt.Errorf("fetch settings: %w", err)
	}
	return settings, nil
}

type movePayload struct {
	Category string `json:"category"`
	Order    int    `json:"order"`
}

// MoveTask asks the server to place the task into category at the 0-based
// order. Exactly one request; any non-2xx response is returned as a
// MoveError and the caller decides what to roll back.
func (r *Remote) MoveTask(ctx context.Context, id, category string, order int) error {
	body, err := sonic.ConfigStd.Marshal(movePayload{Category: category, Order: order})
	if err != nil {
		return fmt.Errorf("move task %s: %w", id, err)
	}
	req, err := r.newRequest(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id)+"/position", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("move task %s: %w", id, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("move task %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &MoveError{Status: resp.StatusCode, Detail: readErrorDetail(resp.Body)}
}

func (r *Remote) getJSON(ctx context.Context, path string, out any) error {
	req, err := r.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, readErrorDetail(resp.Body))
	}
	dec := sonic.ConfigStd.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}

func (r *Remote) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if r.tokens != nil {
		token, err := r.tokens.Token()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// readErrorDetail extracts a human-readable message from an error response
// body: a JSON {"error": ...} field when present, the raw text otherwise.
func readErrorDetail(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBodySize))
	if err != nil || len(data) == 0 {
		return ""
	}
	var wrapped struct {
		Error string `json:"error"`
	}
	if err := sonic.Unmarshal(data, &wrapped); err == nil && wrapped.Error != "" {
		return wrapped.Error
	}
	return strings.TrimSpace(string(data))
}
