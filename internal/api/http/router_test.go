package http

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/workflow-engine/internal/api/http/handlers"
	"github.com/spec-kit/workflow-engine/internal/auth"
	"github.com/spec-kit/workflow-engine/internal/config"
	"github.com/spec-kit/workflow-engine/internal/events"
	"github.com/spec-kit/workflow-engine/internal/jobs"
	"github.com/spec-kit/workflow-engine/internal/observability"
	"github.com/spec-kit/workflow-engine/internal/repository/memory"
	"github.com/spec-kit/workflow-engine/internal/service"
)

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenManager
	jobs   *memory.JobStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	items := memory.NewItemStore()
	teams := memory.NewTeamStore()
	slas := memory.NewSLAStore()
	rules := memory.NewRuleStore()
	store := memory.NewJobStore()
	metrics := observability.NewMetrics()

	dispatcher := jobs.NewDispatcher(jobs.DispatcherDependencies{Store: store, Config: config.EngineConfig{}})
	itemService := service.NewItemService(service.ItemDependencies{
		ItemRepo:   items,
		TeamRepo:   teams,
		SLARepo:    slas,
		Jobs:       dispatcher,
		Dispatcher: events.NewInMemoryDispatcher(),
	})
	catalog := service.NewCatalogService(service.CatalogDependencies{TeamRepo: teams, SLARepo: slas, RuleRepo: rules})
	tokens := auth.NewTokenManager("test-secret", 5)

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("workflow-engine", "test", nil, nil),
		Items:          handlers.NewItemsHandler(itemService),
		Catalog:        handlers.NewCatalogHandler(catalog),
		Jobs:           handlers.NewJobsHandler(dispatcher),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        metrics,
	})
	return &testServer{app: app, tokens: tokens, jobs: store}
}

func (s *testServer) token(t *testing.T, subject, tenant string, role auth.Role) string {
	t.Helper()
	token, _, err := s.tokens.GenerateToken(subject, tenant, role)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return token
}

// do sends a request and decodes the JSON body, if any.
func (s *testServer) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
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
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
	}
	return resp.StatusCode, decoded
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestCreateItemEndpoint(t *testing.T) {
	s := newTestServer(t)
	agent := s.token(t, "agent-1", "tenant-1", auth.RoleAgent)

	status, body := s.do(t, fiber.MethodPost, "/api/v1/items", agent,
		`{"title":"VPN drops","category":"technical","priority":"high"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("status = %d, body %v", status, body)
	}
	data, _ := body["data"].(map[string]any)
	id, _ := data["id"].(string)
	if id == "" || data["status"] != "open" || data["kind"] != "ticket" {
		t.Errorf("data = %v", data)
	}

	queued := s.jobs.All()
	if len(queued) != 1 || queued[0].DedupeKey == nil || *queued[0].DedupeKey != "auto_assign:"+id {
		t.Errorf("jobs after create = %+v", queued)
	}

	status, body = s.do(t, fiber.MethodGet, "/api/v1/items/"+id, agent, "")
	if status != fiber.StatusOK {
		t.Fatalf("get status = %d, body %v", status, body)
	}

	other := s.token(t, "agent-2", "tenant-2", auth.RoleAgent)
	if status, body := s.do(t, fiber.MethodGet, "/api/v1/items/"+id, other, ""); status != fiber.StatusNotFound {
		t.Errorf("cross-tenant get = %d %v, want 404", status, body)
	}
}

func TestCreateItemValidationEndpoint(t *testing.T) {
	s := newTestServer(t)
	agent := s.token(t, "agent-1", "tenant-1", auth.RoleAgent)

	status, body := s.do(t, fiber.MethodPost, "/api/v1/items", agent, `{"title":"","category":"technical","priority":"urgent"}`)
	if status != fiber.StatusBadRequest || errorCode(body) != "VALIDATION_FAILED" {
		t.Fatalf("invalid item = %d %v", status, body)
	}
	details, _ := body["error"].(map[string]any)["details"].(map[string]any)
	if _, ok := details["priority"]; !ok {
		t.Errorf("details = %v, want priority", details)
	}

	status, body = s.do(t, fiber.MethodPost, "/api/v1/items", agent, `{"title":`)
	if status != fiber.StatusBadRequest {
		t.Errorf("malformed body = %d %v", status, body)
	}
}

func TestAuthorization(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, fiber.MethodGet, "/api/v1/items", "", "")
	if status != fiber.StatusUnauthorized || errorCode(body) != "UNAUTHORIZED" {
		t.Errorf("no token = %d %v", status, body)
	}
	if status, _ := s.do(t, fiber.MethodGet, "/api/v1/items", "garbage", ""); status != fiber.StatusUnauthorized {
		t.Errorf("bad token = %d", status)
	}

	agent := s.token(t, "agent-1", "tenant-1", auth.RoleAgent)
	status, body = s.do(t, fiber.MethodGet, "/api/v1/teams", agent, "")
	if status != fiber.StatusForbidden || errorCode(body) != "FORBIDDEN" {
		t.Errorf("agent on admin route = %d %v", status, body)
	}

	admin := s.token(t, "admin-1", "tenant-1", auth.RoleAdmin)
	status, body = s.do(t, fiber.MethodPost, "/api/v1/teams", admin,
		`{"id":"tech","name":"Tech","category":"technical","members":[{"user_id":"lead-1","role":"lead","max_workload":5}]}`)
	if status != fiber.StatusCreated {
		t.Fatalf("admin create team = %d %v", status, body)
	}
	if status, _ := s.do(t, fiber.MethodGet, "/api/v1/teams/tech", admin, ""); status != fiber.StatusOK {
		t.Errorf("admin get team = %d", status)
	}
}

func TestRequeueEndpoint(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, "admin-1", "tenant-1", auth.RoleAdmin)

	status, body := s.do(t, fiber.MethodPost, "/api/v1/jobs/missing/requeue", admin, "")
	if status != fiber.StatusNotFound || errorCode(body) != "NOT_FOUND" {
		t.Errorf("requeue missing = %d %v", status, body)
	}
	if status, _ := s.do(t, fiber.MethodGet, "/api/v1/jobs/dead-letter", admin, ""); status != fiber.StatusOK {
		t.Errorf("dead letters = %d", status)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, fiber.MethodGet, "/health/live", "", "")
	if status != fiber.StatusOK || body["status"] != "alive" {
		t.Errorf("live = %d %v", status, body)
	}
	if status, _ := s.do(t, fiber.MethodGet, "/health/ready", "", ""); status != fiber.StatusOK {
		t.Errorf("ready = %d", status)
	}
	if status, _ := s.do(t, fiber.MethodGet, "/metrics", "", ""); status != fiber.StatusOK {
		t.Errorf("metrics = %d", status)
	}
	status, body = s.do(t, fiber.MethodGet, "/nope", "", "")
	if status != fiber.StatusNotFound || errorCode(body) != "NOT_FOUND" {
		t.Errorf("unknown route = %d %v", status, body)
	}
}
