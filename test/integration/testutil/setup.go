//go:build integration

package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/biddersweet/platform/internal/app"
	"github.com/biddersweet/platform/internal/auth"
	"github.com/biddersweet/platform/internal/infra"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	TestJWTSecret           = "integration-test-secret-0123456789abcdef"
	TestStripeWebhookSecret = "whsec_test_integration_secret"
	TestDBHost              = "localhost"
	TestDBPort              = 5435
	TestDBUser              = "biddersweet"
	TestDBPass              = "biddersweet"
	TestDBName              = "biddersweet_test"
)

// TestEnv holds all resources for an integration test.
type TestEnv struct {
	Server  *httptest.Server
	Pool    *pgxpool.Pool
	JWTMgr  *auth.JWTManager
	Gateway *StubGateway
	App     *app.App
	Config  *infra.Config
	t       *testing.T
}

var (
	sharedPool *pgxpool.Pool
	poolOnce   sync.Once
	poolErr    error
)

func testDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, TestDBName)
}

func bootstrapDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, "biddersweet")
}

func ensureTestDB() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bPool, err := pgxpool.New(ctx, bootstrapDSN())
	if err != nil {
		return fmt.Errorf("connect bootstrap db: %w", err)
	}
	defer bPool.Close()

	var exists bool
	err = bPool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", TestDBName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check db exists: %w", err)
	}

	if !exists {
		if _, err := bPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", TestDBName)); err != nil {
			return fmt.Errorf("create test db: %w", err)
		}
	}
	return nil
}

func runMigrations() error {
	return infra.RunMigrations(testDSN(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func getSharedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	poolOnce.Do(func() {
		if err := ensureTestDB(); err != nil {
			poolErr = err
			return
		}
		if err := runMigrations(); err != nil {
			poolErr = fmt.Errorf("run migrations: %w", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var err error
		sharedPool, err = infra.NewPostgresPool(ctx, &infra.Config{
			DatabaseURL: testDSN(),
			PGMaxConns:  20,
			PGAppName:   "biddersweet-integration",
		})
		if err != nil {
			poolErr = err
		}
	})

	if poolErr != nil {
		t.Fatalf("failed to initialize test pool: %v", poolErr)
	}
	return sharedPool
}

// TestConfig returns the configuration every test environment starts from.
func TestConfig() *infra.Config {
	return &infra.Config{
		LockTimeout:         2 * time.Second,
		TxAttempts:          5,
		RedisPrefix:         "bs-test",
		BroadcastChannel:    "biddersweet-test:auction-events",
		MaxBodyBytes:        1 << 20,
		DefaultStorefront:   "main",
		BidIncrementCents:   1,
		BidCostCredits:      1,
		CreditValueCents:    100,
		Currency:            "USD",
		ExtensionWindow:     10 * time.Second,
		BidRateLimit:        1000,
		BidRateWindow:       time.Second,
		StripeWebhookSecret: TestStripeWebhookSecret,
		StripeSuccessURL:    "http://localhost/success",
		StripeCancelURL:     "http://localhost/cancel",
		StripeBreakerFails:  5,
		StripeBreakerReset:  time.Second,
	}
}

// NewTestEnv creates a test environment with an httptest.Server backed by
// the real router, the test database and a stubbed Stripe API.
func NewTestEnv(t *testing.T) *TestEnv {
	return NewTestEnvWithConfig(t, TestConfig())
}

// NewTestEnvWithConfig is NewTestEnv with a caller-adjusted configuration.
func NewTestEnvWithConfig(t *testing.T, cfg *infra.Config) *TestEnv {
	t.Helper()

	pool := getSharedPool(t)

	jwtMgr := auth.NewJWTManager(TestJWTSecret, 24*time.Hour, 8*time.Hour)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	gateway := NewStubGateway(TestStripeWebhookSecret)

	api := app.Build(app.RouterDeps{
		Pool:     pool,
		JWTMgr:   jwtMgr,
		Logger:   logger,
		Config:   cfg,
		Gateway:  gateway,
		Registry: prometheus.NewRegistry(),
	})

	server := httptest.NewServer(api.Router)

	env := &TestEnv{
		Server:  server,
		Pool:    pool,
		JWTMgr:  jwtMgr,
		Gateway: gateway,
		App:     api,
		Config:  cfg,
		t:       t,
	}

	t.Cleanup(func() {
		server.Close()
		env.CleanAll()
	})

	env.CleanAll()
	return env
}
