package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dom/studybuddy/internal/api"
	"github.com/dom/studybuddy/internal/clock"
	"github.com/dom/studybuddy/internal/config"
	"github.com/dom/studybuddy/internal/repository"
	"github.com/dom/studybuddy/internal/repository/memory"
	repoPostgres "github.com/dom/studybuddy/internal/repository/postgres"
	"github.com/dom/studybuddy/internal/service"
	"github.com/dom/studybuddy/internal/websocket"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Epoch is the manual clock's starting instant in tests: midday UTC, so a
// few hours of advancing stays on the same calendar day.
var Epoch = time.Date(2024, time.March, 4, 12, 0, 0, 0, time.UTC)

// TestDB manages a testcontainers PostgreSQL instance
type TestDB struct {
	Container testcontainers.Container
	DB        *gorm.DB
	DSN       string
}

// NewTestDB creates a new PostgreSQL testcontainer and returns a connection.
// It skips the test under -short.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}

	ctx := context.Background()

	container, err := tcPostgres.Run(ctx,
		"postgres:15-alpine",
		tcPostgres.WithDatabase("test_studybuddy"),
		tcPostgres.WithUsername("test"),
		tcPostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := gorm.Open(gormPostgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(repoPostgres.Models...); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	testDB := &TestDB{
		Container: container,
		DB:        db,
		DSN:       dsn,
	}

	t.Cleanup(func() {
		testDB.Cleanup()
	})

	return testDB
}

// Cleanup terminates the container
func (tdb *TestDB) Cleanup() {
	if tdb.Container != nil {
		ctx := context.Background()
		tdb.Container.Terminate(ctx)
	}
}

// Truncate clears all tables for test isolation
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	tables := []string{
		"tasks",
		"general_pokes",
		"buddy_study_sessions",
		"study_sessions",
		"buddy_pairs",
		"user_sessions",
		"users",
	}

	for _, table := range tables {
		if err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error; err != nil {
			t.Logf("warning: failed to truncate %s: %v", table, err)
		}
	}
}

// TestConfig returns a configuration suitable for testing
func TestConfig() *config.Config {
	return &config.Config{
		Port:               "0", // Random port
		Environment:        "test",
		StoreDriver:        config.StoreMemory,
		JWTSecret:          "test-jwt-secret-key-for-testing-only",
		JWTExpirationHours: 1,
		StudyLocation:      time.UTC,
		ExpirySweep:        time.Hour,
		Notifier:           config.NotifierLog,
		LogLevel:           slog.LevelError,
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Harness is the service layer on the memory store with a manual clock.
type Harness struct {
	Repos    *repository.Repositories
	Clock    *clock.Manual
	Services *service.Services
	Config   *config.Config
}

// NewHarness builds services over a fresh memory store. deps may override
// collaborators such as the notifier or metrics recorder.
func NewHarness(t *testing.T, deps ...service.Deps) *Harness {
	t.Helper()

	cfg := TestConfig()
	var d service.Deps
	if len(deps) > 0 {
		d = deps[0]
	}
	manual := clock.NewManual(Epoch)
	d.Clock = manual
	if d.Logger == nil {
		d.Logger = DiscardLogger()
	}

	repos := memory.NewRepositories()
	services := service.NewServices(repos, cfg, d)

	t.Cleanup(func() {
		services.Buddy.Scheduler().Stop()
	})

	return &Harness{
		Repos:    repos,
		Clock:    manual,
		Services: services,
		Config:   cfg,
	}
}

// TestServer holds all components for integration testing
type TestServer struct {
	*Harness
	Server *httptest.Server
	Hub    *websocket.Hub
}

// NewTestServer creates a complete test server on the memory store.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	h := NewHarness(t)
	deps := h.Services.Deps()

	hub := websocket.NewHub(deps.Feed, h.Services, deps.Metrics, deps.Logger)
	go hub.Run()

	router := api.NewRouter(h.Services, hub, nil)
	server := httptest.NewServer(router)

	ts := &TestServer{
		Harness: h,
		Server:  server,
		Hub:     hub,
	}

	t.Cleanup(func() {
		server.Close()
		hub.Stop()
	})

	return ts
}

// BaseURL returns the test server's base URL
func (ts *TestServer) BaseURL() string {
	return ts.Server.URL
}

// APIURL returns the full API URL for a given path
func (ts *TestServer) APIURL(path string) string {
	return fmt.Sprintf("%s/api/v1%s", ts.Server.URL, path)
}

// WebSocketURL returns the WebSocket URL with token
func (ts *TestServer) WebSocketURL(token string) string {
	wsURL := "ws" + ts.Server.URL[4:] // Replace "http" with "ws"
	return fmt.Sprintf("%s/api/v1/ws?token=%s", wsURL, token)
}
