// Package devserver hosts an in-memory implementation of the board API
// contract the client consumes: paginated task reads, settings, and the
// move endpoint. It exists for integration tests and local development and
// makes no attempt to reproduce a production backend.
package devserver

import (
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

const moveBodyMaxSize = 16 * 1024

// Server holds per-user board state behind the REST contract.
type Server struct {
	mu       sync.Mutex
	tasks    map[string][]domain.Task // per user, maintained sorted by lane then order
	settings map[string]domain.Settings
	failMove string // when set, the next move fails once with this detail

	auth     Authenticator
	logger   *log.Logger
	pageSize int
}

// New creates an empty server. logger may be nil.
func New(auth Authenticator, logger *log.Logger) *Server {
	if auth == nil {
		panic("devserver.New: auth is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Server{
		tasks:    make(map[string][]domain.Task),
		settings: make(map[string]domain.Settings),
		auth:     auth,
		logger:   logger,
		pageSize: 30,
	}
}

// Register wires the API routes on the provided Echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/api/tasks", s.getTasks)
	e.GET("/api/settings", s.getSettings)
	e.PATCH("/api/tasks/:id/position", s.moveTask)
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
}

// Seed replaces a user's tasks. Intended for tests and local bootstrap.
func (s *Server) Seed(userID string, tasks []domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[userID] = normalize(append([]domain.Task(nil), tasks...))
}

// SetSettings stores a user's board settings.
func (s *Server) SetSettings(userID string, settings domain.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[userID] = settings
}

// FailNextMove makes the next move request fail once with the given detail.
func (s *Server) FailNextMove(detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failMove = detail
}

// Tasks returns a copy of a user's tasks in stored order.
func (s *Server) Tasks(userID string) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Task(nil), s.tasks[userID]...)
}

type tasksResponse struct {
	Tasks         []domain.Task `json:"tasks"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

func (s *Server) getTasks(c echo.Context) error {
	userID, err := s.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}

	offset := 0
	if token := c.QueryParam("pageToken"); token != "" {
		offset, err = strconv.Atoi(token)
		if err != nil || offset < 0 {
			return c.String(http.StatusBadRequest, "invalid page token")
		}
	}
	limit := s.pageSize
	if raw := strings.TrimSpace(c.QueryParam("pageSize")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return c.String(http.StatusBadRequest, "invalid page size")
		}
	}

	s.mu.Lock()
	all := append([]domain.Task(nil), s.tasks[userID]...)
	s.mu.Unlock()

	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	resp := tasksResponse{Tasks: all[offset:end]}
	if end < len(all) {
		resp.NextPageToken = strconv.Itoa(end)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getSettings(c echo.Context) error {
	userID, err := s.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	s.mu.Lock()
	settings := s.settings[userID]
	s.mu.Unlock()
	return c.JSON(http.StatusOK, settings)
}

type movePayload struct {
	Category string `json:"category"`
	Order    int    `json:"order"`
}

func (s *Server) moveTask(c echo.Context) error {
	userID, err := s.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}

	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, moveBodyMaxSize))
	dec.DisallowUnknownFields()
	var payload movePayload
	if err := dec.Decode(&payload); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if payload.Order < 0 {
		return c.String(http.StatusBadRequest, "invalid order")
	}

	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failMove != "" {
		detail := s.failMove
		s.failMove = ""
		return c.JSON(http.StatusConflict, map[string]string{"error": detail})
	}

	tasks := s.tasks[userID]
	idx := -1
	for i := range tasks {
		if tasks[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return c.String(http.StatusNotFound, "task not found")
	}

	moved := tasks[idx]
	rest := append(append([]domain.Task(nil), tasks[:idx]...), tasks[idx+1:]...)

	lane := make([]domain.Task, 0, len(rest))
	others := make([]domain.Task, 0, len(rest))
	for _, t := range rest {
		if t.Category == payload.Category {
			lane = append(lane, t)
		} else {
			others = append(others, t)
		}
	}
	pos := payload.Order
	if pos > len(lane) {
		pos = len(lane)
	}
	moved.Category = payload.Category
	lane = append(lane[:pos], append([]domain.Task{moved}, lane[pos:]...)...)
	for i := range lane {
		lane[i].Order = i
	}

	s.tasks[userID] = normalize(append(others, lane...))
	s.logger.WithFields(log.Fields{
		"user":     userID,
		"task":     id,
		"category": payload.Category,
		"order":    pos,
	}).Debug("task moved")
	return c.NoContent(http.StatusNoContent)
}

// normalize sorts tasks by lane then order (ID as tie break) and renumbers
// each lane contiguously from zero.
func normalize(tasks []domain.Task) []domain.Task {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Category != tasks[j].Category {
			return tasks[i].Category < tasks[j].Category
		}
		if tasks[i].Order != tasks[j].Order {
			return tasks[i].Order < tasks[j].Order
		}
		return tasks[i].ID < tasks[j].ID
	})
	lanePos := make(map[string]int)
	for i := range tasks {
		tasks[i].Order = lanePos[tasks[i].Category]
		lanePos[tasks[i].Category]++
	}
	return tasks
}
