package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/org/authcore/internal/audit"
	"github.com/org/authcore/internal/auth"
	"github.com/org/authcore/internal/permission"
	"github.com/org/authcore/internal/secure"
	"github.com/org/authcore/internal/session"
	"github.com/org/authcore/internal/storage"
	"github.com/org/authcore/pkg/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	handler http.Handler
	store   *storage.MemoryBackend
	tokens  *auth.Service
	clock   *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	store := storage.NewMemoryBackend()
	store.SetClock(clock.Now)
	catalog := permission.Default()
	detector := audit.NewDetector(store, audit.DetectorConfig{Clock: clock.Now})
	writer := audit.NewWriter(store, detector, audit.WithClock(clock.Now))
	tokens := auth.NewService(store, catalog, writer, auth.Options{
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
		Clock:      clock.Now,
	})
	exec := secure.NewExecutor(catalog, writer, 15*time.Minute)
	srv := NewServer(store, catalog, tokens, writer, exec, Config{
		RateLimit: 10000,
		Session:   session.Options{Clock: clock.Now},
	})

	ctx := context.Background()
	for id, role := range map[string]models.Role{
		"root":   models.RoleAdmin,
		"mia":    models.RoleManager,
		"walter": models.RoleWorker,
	} {
		if err := tokens.CreatePrincipal(ctx, id, role, "password-"+id); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	return &testEnv{handler: srv.BuildRouter(), store: store, tokens: tokens, clock: clock}
}

func (e *testEnv) login(t *testing.T, id string) string {
	t.Helper()
	w := postJSON(t, e.handler, "/v1/auth/login", map[string]string{
		"principal_id": id,
		"password":     "password-" + id,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", id, w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	return body["auth"].(map[string]any)["client_token"].(string)
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, handler http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(w.Body).Decode(&m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return m
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "mia")

	w := getJSON(t, env.handler, "/v1/sys/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if n, _ := body["active_tokens"].(float64); n != 1 {
		t.Errorf("expected 1 active token, got %v", body["active_tokens"])
	}
	tuning, _ := body["session"].(map[string]any)
	if tuning["observer_interval"] != "30s" {
		t.Errorf("expected default observer interval 30s, got %v", tuning["observer_interval"])
	}
}

func TestMissingTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	w := getJSON(t, env.handler, "/v1/auth/token/lookup-self", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	w = getJSON(t, env.handler, "/v1/auth/token/lookup-self", "act_nope")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown token, got %d", w.Code)
	}
}

func TestLoginAndLookupSelf(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "mia")

	w := getJSON(t, env.handler, "/v1/auth/token/lookup-self", token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["principal_id"] != "mia" || data["role"] != "manager" {
		t.Errorf("unexpected lookup: %v", data)
	}
	if _, err := time.Parse(time.RFC3339, data["expires_at"].(string)); err != nil {
		t.Errorf("expires_at not RFC3339: %v", err)
	}
}

func TestRenewSelfExtendsExpiry(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "mia")
	env.clock.Advance(50 * time.Minute)

	w := postJSON(t, env.handler, "/v1/auth/token/renew-self", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	want := env.clock.Now().Add(time.Hour).Format(time.RFC3339)
	if data["expires_at"] != want {
		t.Errorf("expected expires_at %s, got %v", want, data["expires_at"])
	}
}

func TestRepeatedLoginFailuresRaiseAlert(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		w := postJSON(t, env.handler, "/v1/auth/login", map[string]string{
			"principal_id": "mia",
			"password":     "guess",
		}, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, w.Code)
		}
	}
	alerts := env.store.Alerts()
	if len(alerts) != 1 || alerts[0].Type != models.AlertMultipleFailures {
		t.Fatalf("expected one multiple_failures alert, got %+v", alerts)
	}
}

func TestAuditEventsRequirePermission(t *testing.T) {
	env := newTestEnv(t)
	worker := env.login(t, "walter")

	w := getJSON(t, env.handler, "/v1/audit/events", worker)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["reason"] != string(secure.DenyPermission) {
		t.Errorf("expected permission reason, got %v", body["reason"])
	}
	missing, _ := body["missing_permissions"].([]any)
	if len(missing) != 1 || missing[0] != string(models.PermAuditView) {
		t.Errorf("expected missing audit.view, got %v", body["missing_permissions"])
	}

	manager := env.login(t, "mia")
	w = getJSON(t, env.handler, "/v1/audit/events?principal=walter", manager)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	events := decodeBody(t, w)["data"].([]any)
	// walter's login and blocked read
	if len(events) != 2 {
		t.Fatalf("expected 2 events for walter, got %d", len(events))
	}
	results := map[string]bool{}
	for _, e := range events {
		results[e.(map[string]any)["result"].(string)] = true
	}
	if !results["blocked"] || !results["success"] {
		t.Errorf("expected one blocked and one success event, got %v", results)
	}
}

func TestAlertsRequireRecentAuthentication(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "mia")
	env.clock.Advance(20 * time.Minute)

	w := getJSON(t, env.handler, "/v1/audit/alerts", token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["reason"] != string(secure.DenyReauth) {
		t.Errorf("expected reauth reason, got %v", body["reason"])
	}

	w = postJSON(t, env.handler, "/v1/auth/reauthenticate", map[string]string{"password": "password-mia"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("reauthenticate: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = getJSON(t, env.handler, "/v1/audit/alerts", token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after reauth, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreatePrincipal(t *testing.T) {
	env := newTestEnv(t)
	root := env.login(t, "root")
	req := map[string]string{"principal_id": "cara", "role": "client", "password": "longenough"}

	w := postJSON(t, env.handler, "/v1/admin/principals", req, root)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w = postJSON(t, env.handler, "/v1/admin/principals", req, root)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on duplicate, got %d", w.Code)
	}

	bad := map[string]string{"principal_id": "x", "role": "janitor", "password": "longenough"}
	w = postJSON(t, env.handler, "/v1/admin/principals", bad, root)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown role, got %d", w.Code)
	}

	worker := env.login(t, "walter")
	req["principal_id"] = "dan"
	w = postJSON(t, env.handler, "/v1/admin/principals", req, worker)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for worker, got %d", w.Code)
	}

	for _, ev := range env.store.Events() {
		if ev.Action != "admin_create_principal" || ev.Result != models.ResultSuccess {
			continue
		}
		if _, ok := ev.Details["password"]; ok {
			t.Error("password must not be recorded")
		}
	}
}

func TestPermissionsProbe(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "mia")

	w := getJSON(t, env.handler, "/v1/auth/permissions?perm=quotes.edit&perm=admin.users&module=admin&module=dashboard", token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	perms := data["permissions"].(map[string]any)
	if perms["quotes.edit"] != true || perms["admin.users"] != false {
		t.Errorf("unexpected permissions: %v", perms)
	}
	modules := data["modules"].(map[string]any)
	if modules["admin"] != false || modules["dashboard"] != true {
		t.Errorf("unexpected modules: %v", modules)
	}

	var probes int
	for _, ev := range env.store.Events() {
		if ev.Action == "check_permission" && ev.ResourceID == "admin.users" {
			probes++
		}
	}
	if probes != 1 {
		t.Errorf("expected sensitive probe to be audited once, got %d", probes)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "mia")

	w := postJSON(t, env.handler, "/v1/auth/logout", nil, token)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = getJSON(t, env.handler, "/v1/auth/token/lookup-self", token)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", w.Code)
	}
}
