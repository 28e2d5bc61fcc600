package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/presence-service/internal/api/http/handlers"
	"github.com/spec-kit/presence-service/internal/auth"
	"github.com/spec-kit/presence-service/internal/clock"
	"github.com/spec-kit/presence-service/internal/config"
	"github.com/spec-kit/presence-service/internal/domain"
	"github.com/spec-kit/presence-service/internal/events"
	"github.com/spec-kit/presence-service/internal/observability"
	"github.com/spec-kit/presence-service/internal/persistence"
	"github.com/spec-kit/presence-service/internal/realtime"
	"github.com/spec-kit/presence-service/internal/repository"
	"github.com/spec-kit/presence-service/internal/service"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	app       *fiber.App
	clock     *clock.Fake
	broadcast *service.BroadcastService
	hub       *realtime.Hub
	metrics   *observability.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	fake := clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	metrics := observability.NewMetrics()

	cfg := config.Config{Auth: config.AuthConfig{JWTSecret: "test", JWTIssuer: "test", AccessTokenTTLMinutes: 10, BcryptCost: 4}}
	users := repository.NewMemoryUserRepository()
	sessions := repository.NewMemorySessionRepository()
	catalog := service.NewStatusCatalog(repository.NewMemoryStatusRepository(domain.DefaultStatuses()...), logger)
	dispatcher := events.NewInMemoryDispatcher(logger)

	presence := service.NewPresenceService(service.PresenceDependencies{
		SessionRepo: sessions, Catalog: catalog, Dispatcher: dispatcher, Clock: fake, Logger: logger, DefaultStatusID: 1,
	})
	roster := service.NewRosterService(service.RosterDependencies{
		SessionRepo: sessions, UserRepo: users, Catalog: catalog, Clock: fake, Logger: logger,
	})
	hub := realtime.NewHub(realtime.HubConfig{}, fake, logger, metrics)
	broadcast := service.NewBroadcastService(service.BroadcastDependencies{
		Dispatcher: dispatcher, Roster: roster, Hub: hub, Metrics: metrics, Logger: logger,
	})
	broadcast.RegisterHandlers()
	authService := service.NewAuthService(cfg, service.AuthDependencies{UserRepo: users, Logger: logger})

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterMiddlewares(app, logger, metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("presence", "test", &persistence.Postgres{}, &persistence.Redis{}, hub, metrics),
		Auth:           handlers.NewAuthHandler(authService),
		Presence:       handlers.NewPresenceHandler(presence, roster, catalog),
		Hub:            handlers.NewHubHandler(hub, fake, logger, time.Minute),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), users),
	})
	return &testServer{app: app, clock: fake, broadcast: broadcast, hub: hub, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func (s *testServer) register(t *testing.T, username string) string {
	t.Helper()
	status, env := s.do(t, fiber.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"password": "secret-pass",
		"fullName": "User " + username,
		"email":    username + "@example.com",
	})
	if status != fiber.StatusCreated || !env.Success {
		t.Fatalf("register status = %d env = %+v", status, env)
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		t.Fatalf("register data = %s", env.Data)
	}
	return data.Token
}

func TestPresenceFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "ana")

	status, env := s.do(t, fiber.MethodPost, "/api/presence/connect", token, map[string]string{"deviceName": "laptop"})
	if status != fiber.StatusOK || !env.Success {
		t.Fatalf("connect = %d %+v", status, env)
	}

	status, env = s.do(t, fiber.MethodPut, "/api/presence/status", token, map[string]any{"statusId": 2, "motive": "deep work"})
	if status != fiber.StatusOK || !env.Success {
		t.Fatalf("status = %d %+v", status, env)
	}

	s.clock.Advance(15 * time.Minute)
	status, env = s.do(t, fiber.MethodGet, "/api/presence/roster", "", nil)
	if status != fiber.StatusOK || !env.Success {
		t.Fatalf("roster = %d %+v", status, env)
	}
	var roster []map[string]any
	if err := json.Unmarshal(env.Data, &roster); err != nil {
		t.Fatalf("roster data: %v", err)
	}
	if len(roster) != 1 || roster[0]["estado"] != "Busy" || roster[0]["minutesConnected"] != float64(15) {
		t.Fatalf("roster = %+v", roster)
	}
	if roster[0]["deviceName"] != "laptop" || roster[0]["sourceAddress"] == nil {
		t.Fatalf("connect info not recorded: %+v", roster[0])
	}

	_, env = s.do(t, fiber.MethodGet, "/api/presence/me", token, nil)
	if !env.Success {
		t.Fatalf("me = %+v", env)
	}

	for i := 0; i < 2; i++ {
		status, env = s.do(t, fiber.MethodPost, "/api/presence/disconnect", token, nil)
		if status != fiber.StatusOK || !env.Success {
			t.Fatalf("disconnect #%d = %d %+v", i+1, status, env)
		}
	}

	_, env = s.do(t, fiber.MethodGet, "/api/presence/me", token, nil)
	if env.Success || env.Message != "no active session" {
		t.Fatalf("me after disconnect = %+v", env)
	}
	if pending := s.broadcast.Pending(); pending != 4 {
		t.Fatalf("pending broadcast cycles = %d, want 4", pending)
	}
}

func TestPresenceErrorsUseEnvelope(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "ana")

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{"no token", fiber.MethodPost, "/api/presence/connect", "", nil, fiber.StatusUnauthorized, "UNAUTHENTICATED"},
		{"bad token", fiber.MethodPost, "/api/presence/connect", "garbage", nil, fiber.StatusUnauthorized, "UNAUTHENTICATED"},
		{"status while disconnected", fiber.MethodPut, "/api/presence/status", token, map[string]int{"statusId": 2}, fiber.StatusConflict, "NO_ACTIVE_SESSION"},
		{"missing status id", fiber.MethodPut, "/api/presence/status", token, map[string]int{}, fiber.StatusBadRequest, "VALIDATION_FAILED"},
		{"zero status id", fiber.MethodPut, "/api/presence/status", token, map[string]int{"statusId": 0}, fiber.StatusUnprocessableEntity, "INVALID_STATUS"},
		{"unknown route", fiber.MethodGet, "/api/nope", "", nil, fiber.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, env := s.do(t, tc.method, tc.path, tc.token, tc.body)
			if status != tc.status || env.Success || env.Code != tc.code {
				t.Fatalf("got %d %+v, want %d %s", status, env, tc.status, tc.code)
			}
		})
	}

	_, _ = s.do(t, fiber.MethodPost, "/api/presence/connect", token, nil)
	for _, id := range []int{9999, 0, -3} {
		status, env := s.do(t, fiber.MethodPut, "/api/presence/status", token, map[string]int{"statusId": id})
		if status != fiber.StatusUnprocessableEntity || env.Code != "INVALID_STATUS" {
			t.Fatalf("statusId %d = %d %+v, want INVALID_STATUS", id, status, env)
		}
	}
}

func TestRosterReportsReadTime(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.app.Test(httptest.NewRequest(fiber.MethodGet, "/api/presence/roster", nil), -1)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	defer resp.Body.Close()

	want := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
	if got := resp.Header.Get(realtime.HeaderRosterTimestamp); got != want {
		t.Fatalf("%s = %q, want %q", realtime.HeaderRosterTimestamp, got, want)
	}
}

func TestAuthEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "ana")

	status, env := s.do(t, fiber.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "ana", "password": "secret-pass", "fullName": "Ana", "email": "ana@example.com",
	})
	if status != fiber.StatusConflict || env.Code != "CONFLICT" {
		t.Fatalf("duplicate register = %d %+v", status, env)
	}

	status, env = s.do(t, fiber.MethodPost, "/api/auth/login", "", map[string]string{"username": "ana", "password": "secret-pass"})
	if status != fiber.StatusOK || !env.Success {
		t.Fatalf("login = %d %+v", status, env)
	}
	status, env = s.do(t, fiber.MethodPost, "/api/auth/login", "", map[string]string{"username": "ana", "password": "nope"})
	if status != fiber.StatusUnauthorized || env.Code != "UNAUTHENTICATED" {
		t.Fatalf("bad login = %d %+v", status, env)
	}
}

func TestStatusesAndHealth(t *testing.T) {
	s := newTestServer(t)

	_, env := s.do(t, fiber.MethodGet, "/api/presence/statuses", "", nil)
	var statuses []domain.StatusDefinition
	if err := json.Unmarshal(env.Data, &statuses); err != nil {
		t.Fatalf("statuses: %v", err)
	}
	if len(statuses) != 4 || statuses[0].Name != "Active" {
		t.Fatalf("statuses = %+v", statuses)
	}

	s.broadcast.Trigger()
	s.broadcast.Drain(context.Background())

	status, env := s.do(t, fiber.MethodGet, "/health/ready", "", nil)
	if status != fiber.StatusOK || !env.Success {
		t.Fatalf("ready = %d %+v", status, env)
	}
	var ready struct {
		Broadcast observability.BroadcastStats `json:"broadcast"`
		Traffic   observability.Traffic        `json:"traffic"`
	}
	if err := json.Unmarshal(env.Data, &ready); err != nil {
		t.Fatalf("ready data: %v", err)
	}
	if ready.Broadcast.Cycles != 1 {
		t.Fatalf("broadcast cycles = %d, want 1", ready.Broadcast.Cycles)
	}
	// The statuses call above has been logged; the ready call is still in flight.
	if ready.Traffic.Requests != 1 {
		t.Fatalf("requests = %d, want 1", ready.Traffic.Requests)
	}

	status, env = s.do(t, fiber.MethodGet, "/hubs/presence", "", nil)
	if status != fiber.StatusUpgradeRequired || env.Success {
		t.Fatalf("plain GET on hub = %d %+v", status, env)
	}
}
