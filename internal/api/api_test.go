package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperengineering/tasksync/internal/auth"
	"github.com/hyperengineering/tasksync/internal/engine"
	"github.com/hyperengineering/tasksync/internal/kind"
	"github.com/hyperengineering/tasksync/internal/kind/project"
	"github.com/hyperengineering/tasksync/internal/kind/task"
	"github.com/hyperengineering/tasksync/internal/store"
	tasksync "github.com/hyperengineering/tasksync/internal/sync"
)

const testSecret = "api-test-secret"

type testEnv struct {
	store  *store.SQLiteStore
	router http.Handler
}

// setupTestEnv wires a real SQLite store, the default kinds and a router
// authenticating with the X-User-Id header.
func setupTestEnv(t *testing.T, settings Settings) *testEnv {
	t.Helper()
	return setupTestEnvWithAuth(t, settings, auth.NewHeader(""))
}

func setupTestEnvWithAuth(t *testing.T, settings Settings, authn auth.Authenticator) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := kind.NewRegistry(task.New(), project.New())
	e := engine.New(s, reg)
	if settings.Version == "" {
		settings.Version = "test"
	}
	h := NewHandler(s, e, settings)
	return &testEnv{store: s, router: NewRouter(h, authn)}
}

// do sends a request as owner (empty means unauthenticated).
func (env *testEnv) do(t *testing.T, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(auth.DefaultUserHeader, owner)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) push(t *testing.T, owner string, ops ...tasksync.Operation) tasksync.PushResponse {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/sync/push", owner, tasksync.PushRequest{Operations: ops})
	if rec.Code != http.StatusOK {
		t.Fatalf("push status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp tasksync.PushResponse
	decode(t, rec, &resp)
	return resp
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	decode(t, rec, &e)
	return e
}

func ver(n int64) *int64 { return &n }

func createOp(kindName, cid, data string) tasksync.Operation {
	return tasksync.Operation{
		EntityKind:        kindName,
		Operation:         tasksync.OpCreate,
		ClientGeneratedID: cid,
		Data:              json.RawMessage(data),
	}
}

func updateOp(kindName, id string, cv int64, data string) tasksync.Operation {
	return tasksync.Operation{
		EntityKind:    kindName,
		Operation:     tasksync.OpUpdate,
		EntityID:      id,
		ClientVersion: ver(cv),
		Data:          json.RawMessage(data),
	}
}

func deleteOp(kindName, id string, cv int64) tasksync.Operation {
	return tasksync.Operation{
		EntityKind:    kindName,
		Operation:     tasksync.OpDelete,
		EntityID:      id,
		ClientVersion: ver(cv),
		Data:          json.RawMessage(`{}`),
	}
}

func TestHealth_Public(t *testing.T) {
	env := setupTestEnv(t, Settings{Version: "1.2.3"})

	rec := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	decode(t, rec, &resp)
	if resp.Status != "healthy" || resp.Version != "1.2.3" {
		t.Errorf("health = %+v", resp)
	}
	if len(resp.Kinds) != 2 || resp.Kinds[0] != "project" || resp.Kinds[1] != "task" {
		t.Errorf("kinds = %v, want [project task]", resp.Kinds)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	env := setupTestEnv(t, Settings{})

	rec := env.do(t, http.MethodGet, "/api/v1/nope", "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != CodeNotFound {
		t.Errorf("code = %q, want NOT_FOUND", e.Code)
	}
}

func TestAuth_ProtectedRoutesRequireIdentity(t *testing.T) {
	env := setupTestEnv(t, Settings{})

	routes := []struct {
		method, path string
	}{
		{http.MethodPost, "/api/v1/sync/push"},
		{http.MethodGet, "/api/v1/sync/pull"},
		{http.MethodGet, "/api/v1/sync/conflicts"},
		{http.MethodPost, "/api/v1/sync/conflicts/x/resolve"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := env.do(t, rt.method, rt.path, "", `{"operations":[]}`)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			e := decodeError(t, rec)
			if e.Code != CodeUnauthorized {
				t.Errorf("code = %q, want UNAUTHORIZED", e.Code)
			}
			if e.RequestID == "" {
				t.Error("requestId missing from error response")
			}
		})
	}
}

func TestAuth_JWTBearer(t *testing.T) {
	env := setupTestEnvWithAuth(t, Settings{}, auth.NewJWT(testSecret))
	token, err := auth.IssueToken("alice", time.Hour, testSecret)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	send := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/conflicts", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := send("Bearer " + token); got != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", got)
	}
	if got := send("Bearer not-a-token"); got != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", got)
	}
	if got := send(""); got != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	e := decodeError(t, rec)
	if e.Code != CodeInternalError || e.Message != "Internal Server Error" {
		t.Errorf("error = %+v", e)
	}
}

func TestOwnerIDFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := OwnerIDFromContext(req.Context()); ok {
		t.Error("empty context reported an owner")
	}
	ctx := WithOwnerID(req.Context(), "alice")
	if got, ok := OwnerIDFromContext(ctx); !ok || got != "alice" {
		t.Errorf("OwnerIDFromContext = %q, %v", got, ok)
	}
	if _, ok := OwnerIDFromContext(WithOwnerID(req.Context(), "")); ok {
		t.Error("empty owner id accepted")
	}
}

func TestCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusUnauthorized, CodeUnauthorized},
		{http.StatusBadRequest, CodeBadRequest},
		{http.StatusNotFound, CodeNotFound},
		{http.StatusMethodNotAllowed, CodeBadRequest},
		{http.StatusInternalServerError, CodeInternalError},
		{http.StatusServiceUnavailable, CodeInternalError},
	}
	for _, tt := range tests {
		if got := codeForStatus(tt.status); got != tt.want {
			t.Errorf("codeForStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
