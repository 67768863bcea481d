package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/tasksync/internal/auth"
	"github.com/hyperengineering/tasksync/internal/config"
	"github.com/hyperengineering/tasksync/internal/store"
	tasksync "github.com/hyperengineering/tasksync/internal/sync"
)

// isolateEnv points config at a fresh database and away from any config
// or .env file in the working directory.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tasksync.db")
	t.Setenv("TASKSYNC_CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("TASKSYNC_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("TASKSYNC_DB_PATH", dbPath)
	t.Setenv("TASKSYNC_AUTH_MODE", "")
	t.Setenv("TASKSYNC_JWT_SECRET", "")
	t.Setenv("TASKSYNC_MAX_STREAMS_PER_OWNER", "")
	t.Setenv("TASKSYNC_DEV_MODE", "true")
	return dbPath
}

// executeCmd runs the root command with captured output.
func executeCmd(t *testing.T, args ...string) (stdout string, err error) {
	t.Helper()

	// Reset package-level flag variables; cobra parses into them and stale
	// values from previous tests would leak.
	configPathOverride = ""
	jsonOutput = false
	tokenTTL = 0
	purgeOlderThan = 30 * 24 * time.Hour
	listOwner = ""
	listAll = false

	outBuf := new(bytes.Buffer)
	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), err
}

func TestTokenCmd_DevSecret(t *testing.T) {
	isolateEnv(t)

	out, err := executeCmd(t, "token", "alice", "--ttl", "5m")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	owner, err := auth.ParseToken(strings.TrimSpace(out), devSecret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if owner != "alice" {
		t.Errorf("owner = %q, want alice", owner)
	}
}

func TestTokenCmd_ConfiguredSecret(t *testing.T) {
	isolateEnv(t)
	t.Setenv("TASKSYNC_JWT_SECRET", "configured-secret")

	out, err := executeCmd(t, "token", "bob")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if _, err := auth.ParseToken(strings.TrimSpace(out), devSecret); err == nil {
		t.Error("token verified with the dev secret")
	}
	if owner, err := auth.ParseToken(strings.TrimSpace(out), "configured-secret"); err != nil || owner != "bob" {
		t.Errorf("ParseToken = %q, %v", owner, err)
	}
}

func TestTokenCmd_RequiresOwner(t *testing.T) {
	isolateEnv(t)

	if _, err := executeCmd(t, "token"); err == nil {
		t.Error("expected error without owner id")
	}
}

func TestMigrateCmd(t *testing.T) {
	dbPath := isolateEnv(t)

	out, err := executeCmd(t, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, dbPath) || !strings.Contains(out, "schema version") {
		t.Errorf("output = %q", out)
	}

	// Running again is a no-op.
	if _, err := executeCmd(t, "migrate"); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func seedConflicts(t *testing.T, dbPath string) {
	t.Helper()
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	old := time.Now().Add(-90 * 24 * time.Hour).UTC()
	err = s.WithTx(ctx, func(tx store.Tx) error {
		for _, id := range []string{"c-old", "c-open"} {
			if err := tx.RecordConflict(ctx, &tasksync.ConflictRecord{
				ID:         id,
				OwnerID:    "alice",
				EntityType: tasksync.KindTask,
				EntityID:   "t-" + id,
				Operation:  tasksync.OpUpdate,
				Reason:     tasksync.ReasonVersionConflict,
				DetectedAt: old,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.MarkConflictResolved(ctx, "alice", "c-old", "server_wins", old); err != nil {
		t.Fatalf("resolve: %v", err)
	}
}

func TestConflictsListCmd(t *testing.T) {
	dbPath := isolateEnv(t)
	seedConflicts(t, dbPath)

	out, err := executeCmd(t, "conflicts", "list", "--owner", "alice")
	if err != nil {
		t.Fatalf("conflicts list: %v", err)
	}
	if !strings.Contains(out, "c-open") || strings.Contains(out, "c-old") {
		t.Errorf("open list = %q", out)
	}

	out, err = executeCmd(t, "conflicts", "list", "--owner", "alice", "--all", "--json")
	if err != nil {
		t.Fatalf("conflicts list --all: %v", err)
	}
	var parsed struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("parse %q: %v", out, err)
	}
	if parsed.Total != 2 {
		t.Errorf("total = %d, want 2", parsed.Total)
	}

	out, err = executeCmd(t, "conflicts", "list", "--owner", "nobody")
	if err != nil {
		t.Fatalf("conflicts list nobody: %v", err)
	}
	if !strings.Contains(out, "No conflicts found.") {
		t.Errorf("output = %q", out)
	}
}

func TestConflictsListCmd_RequiresOwner(t *testing.T) {
	isolateEnv(t)
	if _, err := executeCmd(t, "conflicts", "list"); err == nil {
		t.Error("expected error without --owner")
	}
}

func TestConflictsPurgeCmd(t *testing.T) {
	dbPath := isolateEnv(t)
	seedConflicts(t, dbPath)

	// A retention longer than the conflict's age keeps it.
	out, err := executeCmd(t, "conflicts", "purge", "--older-than", "2160h", "--json")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	var res struct {
		ConflictsPurged int64 `json:"conflicts_purged"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("parse %q: %v", out, err)
	}
	if res.ConflictsPurged != 0 {
		t.Errorf("purged = %d, want 0", res.ConflictsPurged)
	}

	out, err = executeCmd(t, "conflicts", "purge", "--older-than", "720h")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if !strings.Contains(out, "Purged 1 resolved conflict(s)") {
		t.Errorf("output = %q", out)
	}
}

func TestNewAuthenticator(t *testing.T) {
	t.Setenv("TASKSYNC_DEV_MODE", "")

	if _, err := newAuthenticator(config.AuthConfig{Mode: config.AuthModeJWT}); err == nil {
		t.Error("jwt mode without secret accepted outside dev mode")
	}
	if _, err := newAuthenticator(config.AuthConfig{Mode: "oauth"}); err == nil {
		t.Error("unknown mode accepted")
	}

	a, err := newAuthenticator(config.AuthConfig{Mode: config.AuthModeHeader, UserHeader: "X-Owner"})
	if err != nil {
		t.Fatalf("header mode: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Owner", "carol")
	if owner, err := a.Authenticate(req); err != nil || owner != "carol" {
		t.Errorf("Authenticate = %q, %v", owner, err)
	}

	t.Setenv("TASKSYNC_DEV_MODE", "true")
	if _, err := newAuthenticator(config.AuthConfig{Mode: config.AuthModeJWT}); err != nil {
		t.Errorf("dev mode jwt: %v", err)
	}
}

func TestNewRouter_ServesPushEndToEnd(t *testing.T) {
	isolateEnv(t)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer db.Close()

	router, closeStreams := newRouter(cfg, db, auth.NewJWT(devSecret))
	defer closeStreams()
	srv := httptest.NewServer(router)
	defer srv.Close()

	token, err := auth.IssueToken("alice", time.Minute, devSecret)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	body := `{"operations":[{"entityKind":"task","operation":"create","clientGeneratedId":"c1","data":{"title":"Buy milk"}}]}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/sync/push", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var push tasksync.PushResponse
	if err := json.NewDecoder(resp.Body).Decode(&push); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(push.Processed) != 1 || push.Processed[0].Version != 1 {
		t.Errorf("push = %+v", push)
	}
}

func TestNewRouter_StreamToggle(t *testing.T) {
	tests := []struct {
		name       string
		maxStreams string
		wantStatus int
	}{
		// A plain GET reaches the upgrader, which rejects the missing handshake.
		{"enabled by default", "", http.StatusBadRequest},
		{"disabled", "0", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			if tt.maxStreams != "" {
				t.Setenv("TASKSYNC_MAX_STREAMS_PER_OWNER", tt.maxStreams)
			}
			cfg, err := config.Load()
			if err != nil {
				t.Fatalf("config.Load: %v", err)
			}
			db, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			defer db.Close()

			router, closeStreams := newRouter(cfg, db, auth.NewHeader(""))
			defer closeStreams()

			req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/stream", nil)
			req.Header.Set(auth.DefaultUserHeader, "alice")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"}).Info("hidden")
	newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"}).Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	newLogger(&buf, config.LogConfig{Level: "debug", Format: "text"}).Debug("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestLogOutput_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tasksync.log")
	out := logOutput(config.LogConfig{File: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})

	newLogger(out, config.LogConfig{Level: "info", Format: "json"}).Info("to file")
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"to file"`) {
		t.Errorf("log file = %q", data)
	}
}

func TestLogOutput_Stdout(t *testing.T) {
	out := logOutput(config.LogConfig{})
	if err := out.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, ok := out.(nopCloser); !ok {
		t.Errorf("logOutput = %T, want stdout wrapper", out)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]string{
		"debug": "DEBUG",
		"WARN":  "WARN",
		"error": "ERROR",
		"info":  "INFO",
		"bogus": "INFO",
	}
	for in, want := range tests {
		if got := parseLogLevel(in).String(); got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
