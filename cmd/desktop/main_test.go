// Package main tests for desktop server initialization and routing.
// These tests verify app wiring, route registration and the CLI commands.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eodiceanne-star/heard-app-beta/internal/config"
	"github.com/eodiceanne-star/heard-app-beta/internal/models"
	"github.com/eodiceanne-star/heard-app-beta/internal/sync/transport"
)

// remoteStub records requests and acknowledges all of them.
type remoteStub struct {
	mu       sync.Mutex
	requests []string
	users    []string
}

func (s *remoteStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	s.users = append(s.users, r.Header.Get(transport.UserHeader))
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte(`{"ok":true}`))
}

func (s *remoteStub) seen(req string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r == req {
			return true
		}
	}
	return false
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.API.BaseURL = baseURL
	cfg.Storage.DataDir = t.TempDir()
	cfg.Connectivity.Enabled = false
	cfg.Sync.Interval = 0
	cfg.Sync.SettleDelay = 10 * time.Millisecond
	cfg.Logging.Level = "error"
	return cfg
}

func startTestApp(t *testing.T, cfg *config.Config) (*app, *httptest.Server) {
	t.Helper()
	a, err := newApp(cfg)
	require.NoError(t, err)
	require.NoError(t, a.start(context.Background()))
	server := httptest.NewServer(a.routes())
	t.Cleanup(func() {
		server.Close()
		a.close()
	})
	return a, server
}

func TestNewApp_invalidConfig(t *testing.T) {
	cfg := testConfig(t, "not a url")
	_, err := newApp(cfg)
	assert.Error(t, err)
}

func TestApp_symptomSyncsToRemote(t *testing.T) {
	remote := &remoteStub{}
	remoteServer := httptest.NewServer(remote)
	defer remoteServer.Close()

	a, server := startTestApp(t, testConfig(t, remoteServer.URL+"/api"))
	user, err := a.sessions.Login("sam@example.com", "secret")
	require.NoError(t, err)

	resp, err := http.Post(server.URL+"/api/symptoms", "application/json",
		strings.NewReader(`{"date":"2026-03-01","mood":"calm","painLevel":2}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.SymptomEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	require.Eventually(t, func() bool {
		got, err := a.data.Symptoms.Get(created.ID)
		return err == nil && got.Synced
	}, 3*time.Second, 10*time.Millisecond)

	assert.True(t, remote.seen("POST /api/symptoms"))
	remote.mu.Lock()
	assert.Contains(t, remote.users, user.ID)
	remote.mu.Unlock()

	statusResp, err := http.Get(server.URL + "/api/sync/status")
	require.NoError(t, err)
	defer statusResp.Body.Close()
	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	assert.EqualValues(t, 0, status["queueDepth"])
	assert.NotNil(t, status["lastSyncAt"])
}

func TestApp_collectionRoutes(t *testing.T) {
	a, server := startTestApp(t, testConfig(t, "http://127.0.0.1:1/api"))
	a.sched.SetOnlineStatus(false)

	post := func(path, body string) *http.Response {
		resp, err := http.Post(server.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := post("/api/doctors", `{"name":"Dr. Lee"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var doc models.Doctor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))

	resp = post("/api/doctors/"+doc.ID+"/reviews", `{"rating":4,"text":"kind"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = post("/api/forum/threads", `{"title":"Flare tips"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var thread models.ForumThread
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&thread))
	resp = post("/api/forum/threads/"+thread.ID+"/comments", `{"content":"rest"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPut, server.URL+"/api/profile", strings.NewReader(`{"displayName":"Sam"}`))
	require.NoError(t, err)
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	putResp.Body.Close()
	assert.Equal(t, http.StatusOK, putResp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, server.URL+"/api/doctors/"+doc.ID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	assert.Empty(t, a.data.Reviews.List())
	assert.Equal(t, "Sam", a.data.GetProfile().DisplayName)
	got, err := a.data.Forum.Get(thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CommentCount)
}

func TestApp_health(t *testing.T) {
	_, server := startTestApp(t, testConfig(t, "http://127.0.0.1:1/api"))

	resp, err := http.Get(server.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Post(server.URL+"/api/health", "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestWebSocket_statusPushed(t *testing.T) {
	a, server := startTestApp(t, testConfig(t, "http://127.0.0.1:1/api"))
	a.sched.SetOnlineStatus(false)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/sync/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readEnvelope := func() map[string]interface{} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var env map[string]interface{}
		require.NoError(t, conn.ReadJSON(&env))
		return env
	}

	first := readEnvelope()
	assert.Equal(t, EventSyncStatus, first["type"])

	_, err = a.data.Music.Create(models.MusicTrack{Title: "Song"})
	require.NoError(t, err)

	sawDepth := false
	for i := 0; i < 10 && !sawDepth; i++ {
		env := readEnvelope()
		data, ok := env["data"].(map[string]interface{})
		sawDepth = ok && env["type"] == EventSyncStatus && data["queueDepth"] == float64(1)
	}
	assert.True(t, sawDepth, "status with the new queue depth was pushed")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "ping"}))
	sawPong := false
	for i := 0; i < 10 && !sawPong; i++ {
		sawPong = readEnvelope()["action"] == "pong"
	}
	assert.True(t, sawPong)
}

func TestWebSocket_initialStatusOnlyToNewClient(t *testing.T) {
	a, server := startTestApp(t, testConfig(t, "http://127.0.0.1:1/api"))
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/sync/ws"

	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer first.Close()
	var env map[string]interface{}
	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, first.ReadJSON(&env))
	assert.Equal(t, EventSyncStatus, env["type"])

	second, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, second.ReadJSON(&env))
	assert.Equal(t, EventSyncStatus, env["type"])
	require.Eventually(t, func() bool { return a.hub.ClientCount() == 2 }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	err = first.ReadJSON(&env)
	assert.Error(t, err, "existing client gets nothing when another connects")
}

func TestWSHub_subscriptionFilter(t *testing.T) {
	client := &WSClient{subscriptions: map[string]bool{}}
	assert.True(t, client.wants(EventSyncStatus))
	client.subscriptions[EventDataImport] = true
	assert.False(t, client.wants(EventSyncStatus))
	assert.True(t, client.wants(EventDataImport))
}

// =====================================================
// CLI Tests
// =====================================================

func writeTestConfig(t *testing.T, dataDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heard.toml")
	content := fmt.Sprintf(`
[api]
base_url = "http://127.0.0.1:1/api"

[storage]
data_dir = %q

[connectivity]
enabled = false

[logging]
level = "error"
`, dataDir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	clearQueue = false
	clearConfirmed = false
	listJSON = false
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLI_version(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "heard-sync v"+Version)
}

func TestCLI_dataCommands(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeTestConfig(t, dataDir)

	backup := filepath.Join(t.TempDir(), "backup.json")
	require.NoError(t, os.WriteFile(backup, []byte(
		`{"collections":{"symptoms":[{"id":"s1","synced":false,"date":"2026-03-01"}],"recipes":[]}}`), 0o644))

	out, err := runCLI(t, "--config", cfgPath, "import", backup)
	require.NoError(t, err)
	assert.Contains(t, out, "symptoms")
	assert.Contains(t, out, "recipes")

	out, err = runCLI(t, "--config", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Remote:")
	assert.Regexp(t, `symptoms\s+1\s+0\s+1`, out)

	out, err = runCLI(t, "--config", cfgPath, "list", "symptoms")
	require.NoError(t, err)
	assert.Regexp(t, `s1\s+false`, out)
	out, err = runCLI(t, "--config", cfgPath, "list", "music")
	require.NoError(t, err)
	assert.Contains(t, out, "No music records")
	out, err = runCLI(t, "--config", cfgPath, "list", "symptoms", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"date":"2026-03-01"`)
	_, err = runCLI(t, "--config", cfgPath, "list", "recipes")
	assert.Error(t, err)

	out, err = runCLI(t, "--config", cfgPath, "profile")
	require.NoError(t, err)
	assert.Contains(t, out, "No profile stored")

	out, err = runCLI(t, "--config", cfgPath, "export")
	require.NoError(t, err)
	assert.Contains(t, out, `"s1"`)

	out, err = runCLI(t, "--config", cfgPath, "queue")
	require.NoError(t, err)
	assert.Contains(t, out, "Queue is empty")

	_, err = runCLI(t, "--config", cfgPath, "clear")
	assert.Error(t, err)
	out, err = runCLI(t, "--config", cfgPath, "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared")
}

func TestCLI_session(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir())

	_, err := runCLI(t, "--config", cfgPath, "signup", "sam@example.com", "123", "Sam")
	assert.Error(t, err)

	out, err := runCLI(t, "--config", cfgPath, "signup", "sam@example.com", "123456", "Sam")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed up as Sam")

	out, err = runCLI(t, "--config", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Sam <sam@example.com>")

	out, err = runCLI(t, "--config", cfgPath, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out")
}

func TestCLI_syncOffline(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "heard.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
[api]
base_url = "http://127.0.0.1:1/api"
timeout = "500ms"

[storage]
data_dir = %q

[connectivity]
enabled = true

[logging]
level = "error"
`, dataDir)), 0o644))

	_, err := runCLI(t, "--config", cfgPath, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}
