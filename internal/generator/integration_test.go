//go:build integration

package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/convertscout/awesome-ai-prompts-sub000/internal/api"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/auth"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/prompts"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/quota"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/upstream"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/usage"
)

type testEnv struct {
	server   *httptest.Server
	verifier *auth.Verifier
	pool     *pgxpool.Pool
}

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "starting %s", req.Image)
	t.Cleanup(func() { c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func setupEnv(t *testing.T, limit int) *testEnv {
	t.Helper()
	ctx := context.Background()

	pgAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "prompts_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")

	redisAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}, "6379/tcp")

	dsn := fmt.Sprintf("postgres://test:test@%s/prompts_test?sslmode=disable", pgAddr)
	_, thisFile, _, _ := runtime.Caller(0)
	m, err := migrate.New("file://"+filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations"), dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}
	m.Close()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	t.Cleanup(func() { rdb.Close() })

	completions := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(okCompletion))
	}))
	t.Cleanup(completions.Close)

	verifier := auth.NewVerifier(testSecret, "authenticated", "")
	svc := NewService(verifier, usage.NewPostgresLedger(pool), quota.NewRedisCounter(rdb),
		upstream.New(completions.URL, "test-key"), prompts.Builtin(), nil,
		Config{DailyLimit: limit, Model: "test-model"})
	h := NewHandler(svc)

	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: []string{"https://awesome-ai-prompts.com"},
	}, api.HandlerSet{
		GeneratePrompt: h.Generate,
		GetQuota:       h.Quota,
		ListUsage:      h.Usage,
		UsageStats:     h.UsageStats,
		PromptTypes:    h.PromptTypes,
		AuthMiddleware: auth.Middleware(verifier),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, verifier: verifier, pool: pool}
}

func (e *testEnv) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := e.verifier.Issue(userID, "", time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

var generateBody = map[string]string{
	"tool":        "cursor",
	"promptType":  "rules",
	"description": "a todo app",
}

func TestIntegration_DailyLimit(t *testing.T) {
	env := setupEnv(t, 3)
	token := env.token(t, uuid.New())

	for want := 2; want >= 0; want-- {
		resp, out := env.do(t, http.MethodPost, "/api/v1/generate-prompt", token, generateBody)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(want), out["remaining"])
	}

	resp, out := env.do(t, http.MethodPost, "/api/v1/generate-prompt", token, generateBody)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Daily limit reached", out["error"])

	resp, out = env.do(t, http.MethodGet, "/api/v1/generator/quota", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := out["data"].(map[string]any)
	assert.Equal(t, float64(3), data["used"])
	assert.Equal(t, float64(0), data["remaining"])
}

func TestIntegration_ConcurrentHardCap(t *testing.T) {
	env := setupEnv(t, 3)
	userID := uuid.New()
	token := env.token(t, userID)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, _ := env.do(t, http.MethodPost, "/api/v1/generate-prompt", token, generateBody)
			if resp.StatusCode == http.StatusOK {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, ok)

	var rows int
	require.NoError(t, env.pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM generation_usage WHERE user_id = $1`, userID).Scan(&rows))
	assert.Equal(t, 3, rows)
}

func TestIntegration_UsageIsolation(t *testing.T) {
	env := setupEnv(t, 3)
	alice := env.token(t, uuid.New())
	bob := env.token(t, uuid.New())

	resp, _ := env.do(t, http.MethodPost, "/api/v1/generate-prompt", alice, generateBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out := env.do(t, http.MethodGet, "/api/v1/generator/usage", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), out["total_count"])

	resp, out = env.do(t, http.MethodGet, "/api/v1/generator/usage", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out["total_count"])
}
