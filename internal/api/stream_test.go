package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hyperengineering/tasksync/internal/auth"
	"github.com/hyperengineering/tasksync/internal/engine"
	"github.com/hyperengineering/tasksync/internal/kind"
	"github.com/hyperengineering/tasksync/internal/kind/project"
	"github.com/hyperengineering/tasksync/internal/kind/task"
	"github.com/hyperengineering/tasksync/internal/notify"
	"github.com/hyperengineering/tasksync/internal/store"
	tasksync "github.com/hyperengineering/tasksync/internal/sync"
)

func setupStreamServer(t *testing.T, maxPerOwner int) (*httptest.Server, *notify.Hub) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "stream.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	hub := notify.NewHub(maxPerOwner)
	e := engine.New(s, kind.NewRegistry(task.New(), project.New()), engine.WithObserver(hub))
	h := NewHandler(s, e, Settings{Version: "test"}, WithHub(hub))
	srv := httptest.NewServer(NewRouter(h, auth.NewHeader("")))
	t.Cleanup(srv.Close)
	return srv, hub
}

func dialStream(srv *httptest.Server, owner string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sync/stream"
	header := http.Header{}
	if owner != "" {
		header.Set(auth.DefaultUserHeader, owner)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func pushOver(t *testing.T, srv *httptest.Server, owner string, ops ...tasksync.Operation) {
	t.Helper()
	body, _ := json.Marshal(tasksync.PushRequest{Operations: ops})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/sync/push", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.DefaultUserHeader, owner)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("push status = %d", resp.StatusCode)
	}
}

func TestSyncStream_NotifiesOwnerOnCommit(t *testing.T) {
	srv, _ := setupStreamServer(t, 0)

	// Given: alice has an open stream
	conn, _, err := dialStream(srv, "alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// When: bob pushes two tasks, then alice pushes one
	pushOver(t, srv, "bob",
		createOp(tasksync.KindTask, "b1", `{"title":"bob one"}`),
		createOp(tasksync.KindTask, "b2", `{"title":"bob two"}`),
	)
	pushOver(t, srv, "alice", createOp(tasksync.KindTask, "a1", `{"title":"alice"}`))

	// Then: the first event alice sees is her own single-op batch
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev notify.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != notify.EventChanges || ev.Applied != 1 || ev.Conflicts != 0 {
		t.Errorf("event = %+v", ev)
	}
}

func TestSyncStream_RequiresAuth(t *testing.T) {
	srv, _ := setupStreamServer(t, 0)

	_, resp, err := dialStream(srv, "")
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("err = %v, want ErrBadHandshake", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSyncStream_LimitPerOwner(t *testing.T) {
	srv, hub := setupStreamServer(t, 1)

	conn, _, err := dialStream(srv, "alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, resp, err := dialStream(srv, "alice")
	if !errors.Is(err, websocket.ErrBadHandshake) || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second dial = %v, %v; want 429", err, resp)
	}
	if n := hub.Subscribers("alice"); n != 1 {
		t.Errorf("Subscribers = %d, want 1", n)
	}
}

func TestSyncStream_HubCloseEndsStream(t *testing.T) {
	srv, hub := setupStreamServer(t, 0)

	conn, _, err := dialStream(srv, "alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hub.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("err = %v, want close going away", err)
	}
}

func TestSyncStream_DisabledWithoutHub(t *testing.T) {
	env := setupTestEnv(t, Settings{})

	rec := env.do(t, http.MethodGet, "/api/v1/sync/stream", "alice", nil)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
