package main

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-sync/coordinator"
	"board-sync/devserver"
	"board-sync/domain"
	"board-sync/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	if os.Getenv("SERVE") == "1" {
		serve()
		return
	}
	replay()
}

// serve hosts the in-memory board API for local development.
func serve() {
	secret := os.Getenv("DEV_JWT_SECRET")
	if secret == "" {
		log.Fatal("missing DEV_JWT_SECRET")
	}
	logger := log.New()
	srv := devserver.New(devserver.NewTestAuth([]byte(secret)), logger)

	if seedPath := os.Getenv("SEED_FILE"); seedPath != "" {
		seedUser := os.Getenv("SEED_USER")
		if seedUser == "" {
			log.Fatal("SEED_USER must be set when SEED_FILE is used")
		}
		data, err := os.ReadFile(seedPath)
		if err != nil {
			log.Fatalf("seed file: %v", err)
		}
		var tasks []domain.Task
		if err := sonic.Unmarshal(data, &tasks); err != nil {
			log.Fatalf("seed file: %v", err)
		}
		srv.Seed(seedUser, tasks)
		logger.Infof("seeded %d tasks for %s", len(tasks), seedUser)
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	srv.Register(e)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}
	e.Logger.Fatal(e.Start(listenAddr))
}

// scriptEvent is one line of a gesture script: a recorded drag event stream
// to feed through the coordinator.
type scriptEvent struct {
	Type      string `json:"type"` // start, over, end
	Item      string `json:"item,omitempty"`
	Lane      string `json:"lane,omitempty"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

func replay() {
	baseURL := os.Getenv("API_BASE_URL")
	rawToken := os.Getenv("API_TOKEN")
	scriptPath := os.Getenv("GESTURE_SCRIPT")
	if baseURL == "" || rawToken == "" || scriptPath == "" {
		log.Fatal("missing client config: API_BASE_URL, API_TOKEN and GESTURE_SCRIPT are required")
	}

	logger := log.New()
	tokens, err := storage.NewTokenSource(rawToken)
	if err != nil {
		log.Fatalf("token: %v", err)
	}
	remote := storage.NewRemote(baseURL, tokens)

	type boardStore interface {
		FetchTasks(ctx context.Context) ([]domain.Task, error)
		FetchSettings(ctx context.Context) (domain.Settings, error)
		MoveTask(ctx context.Context, id, category string, order int) error
	}
	var store boardStore = remote

	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		redisOpts, err := redis.ParseURL(redisConn)
		if err != nil {
			parts := strings.Split(redisConn, ",")
			redisOpts = &redis.Options{Addr: parts[0]}
			for _, p := range parts[1:] {
				kv := strings.SplitN(p, "=", 2)
				if len(kv) != 2 {
					continue
				}
				switch strings.ToLower(kv[0]) {
				case "password":
					redisOpts.Password = kv[1]
				case "ssl":
					if strings.ToLower(kv[1]) == "true" {
						redisOpts.TLSConfig = &tls.Config{}
					}
				}
			}
		}
		ttl := 5 * time.Minute
		if v := os.Getenv("CACHE_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid CACHE_TTL: %v", err)
			}
			ttl = d
		}
		store = storage.NewCache(remote, redis.NewClient(redisOpts), ttl, tokens.Subject())
		logger.Info("board cache enabled")
	}

	ctx := context.Background()
	tasks, err := store.FetchTasks(ctx)
	if err != nil {
		log.Fatalf("fetch board: %v", err)
	}
	board := domain.NewBoard(tasks)
	for _, lane := range strings.Split(os.Getenv("EXTRA_LANES"), ",") {
		if lane = strings.TrimSpace(lane); lane != "" {
			board.EnsureLane(lane)
		}
	}
	if settings, err := store.FetchSettings(ctx); err == nil {
		logger.WithFields(log.Fields{
			"tasks_per_category": settings.TasksPerCategory,
			"show_done":          settings.ShowDoneTasks,
		}).Debug("board settings")
	}
	logger.WithFields(log.Fields{
		"tasks": board.TaskCount(),
		"lanes": len(board.Lanes()),
	}).Info("board loaded")

	coord := coordinator.New(board, store, coordinator.LogNotifier{Logger: logger}, func(itemID string) {
		fresh, err := store.FetchTasks(context.Background())
		if err != nil {
			logger.Errorf("refresh after %s: %v", itemID, err)
			return
		}
		logger.WithField("tasks", len(fresh)).Debug("authoritative board refreshed")
	}, logger)

	events := readScript(scriptPath)
	delay := 50 * time.Millisecond
	if v := os.Getenv("REPLAY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			log.Fatalf("invalid REPLAY_DELAY: %v", err)
		}
		delay = d
	}
	for _, ev := range events {
		dispatch(coord, ev)
		time.Sleep(delay)
	}
	coord.Wait()

	view := coord.View()
	for _, lane := range view.Lanes() {
		logger.WithFields(log.Fields{
			"lane":  lane,
			"tasks": strings.Join(view.Lane(lane), ","),
		}).Info("final lane state")
	}
	stats := coord.Stats()
	logger.WithFields(log.Fields{
		"same_lane":         stats.SameLaneMoves,
		"cross_lane":        stats.CrossLaneMoves,
		"noop":              stats.NoopMoves,
		"rollbacks":         stats.Rollbacks,
		"cancellations":     stats.Cancellations,
		"derivation_errors": stats.DerivationErrors,
	}).Info("replay finished")
}

func readScript(path string) []scriptEvent {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("gesture script: %v", err)
	}
	var events []scriptEvent
	if err := sonic.Unmarshal(data, &events); err != nil {
		log.Fatalf("gesture script: %v", err)
	}
	return events
}

func dispatch(coord *coordinator.Coordinator, ev scriptEvent) {
	switch ev.Type {
	case "start":
		coord.DragStart(coordinator.DragStart{})
	case "over":
		target := domain.DropTarget{Lane: ev.Lane}
		if ev.Before != "" {
			target = domain.DropTarget{Item: ev.Before}
		} else if ev.After != "" {
			target = domain.DropTarget{Item: ev.After, After: true}
		}
		coord.DragOver(coordinator.DragOver{ItemID: ev.Item, Target: target})
	case "end":
		coord.DragEnd(coordinator.DragEnd{ItemID: ev.Item, Cancelled: ev.Cancelled})
	default:
		log.Fatalf("unknown gesture event type %q", ev.Type)
	}
}
