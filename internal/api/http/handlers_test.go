package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/TermGate/internal/infrastructure/config"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/TermGate/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/TermGate/internal/session"
	"github.com/GriffinCanCode/TermGate/internal/sshpool"
	"github.com/GriffinCanCode/TermGate/internal/target"
)

const testInventory = `
defaults:
  user: deploy
  port: 22
targets:
  db-1:
    host: db.internal
    port: 2222
    user: postgres
    password: hunter2
`

type apiOpts struct {
	pool     *sshpool.Pool
	resolver *target.Resolver
	breakers *resilience.Registry
}

func newTestAPI(t *testing.T, o apiOpts) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mgr := session.NewManager(session.Options{
		Config: config.SessionConfig{
			MaxSessions:    16,
			BufferMaxBytes: 1 << 20,
			BufferPolicy:   "drop_oldest",
			ReplayBytes:    64 << 10,
			IdleTimeout:    time.Minute,
			Term:           "xterm-256color",
			Cols:           80,
			Rows:           24,
		},
		Pool:    o.pool,
		Metrics: monitoring.NewMetricsWith(prometheus.NewRegistry()),
	})
	t.Cleanup(func() {
		go func() {
			for range mgr.Events() {
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})

	h := NewHandlers(Options{
		Manager:  mgr,
		Pool:     o.pool,
		Breakers: o.breakers,
		Resolver: o.resolver,
		Metrics:  monitoring.NewMetricsWith(prometheus.NewRegistry()),
	})

	r := gin.New()
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.POST("/sessions", h.CreateSession)
	r.GET("/sessions", h.ListSessions)
	r.GET("/sessions/:id", h.GetSession)
	r.DELETE("/sessions/:id", h.DeleteSession)
	r.POST("/exec", h.Exec)
	r.GET("/status", h.Status)
	return r
}

func testResolver(t *testing.T) *target.Resolver {
	t.Helper()
	inv, err := target.ParseInventory([]byte(testInventory))
	require.NoError(t, err)
	return target.NewResolver(inv, "deploy", 22, target.Credentials{})
}

func testExecPool(t *testing.T) *sshpool.Pool {
	t.Helper()
	p := sshpool.New(sshpool.Options{
		Config: config.PoolConfig{
			MaxPerTarget:   2,
			AcquireTimeout: 2 * time.Second,
			ConnectTimeout: 2 * time.Second,
			IdleTimeout:    time.Minute,
			WaitPolicy:     sshpool.WaitPolicyWait,
		},
		Metrics: monitoring.NewMetricsWith(prometheus.NewRegistry()),
	})
	t.Cleanup(p.Close)
	return p
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	decoded := map[string]interface{}{}
	if w.Body.Len() > 0 {
		require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &decoded), "undecodable body: %s", w.Body.String())
	}
	return w, decoded
}

func requireShell(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Skipf("shell %s not available: %v", path, err)
	}
}

func TestRootAndHealth(t *testing.T) {
	r := newTestAPI(t, apiOpts{})

	w, body := doJSON(t, r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "termgate", body["service"])
	assert.Equal(t, Version, body["version"])

	w, body = doJSON(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	sessions, ok := body["sessions"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 0, sessions["live"])
}

func TestSessionLifecycle(t *testing.T) {
	requireShell(t, "/bin/sh")
	r := newTestAPI(t, apiOpts{})

	w, body := doJSON(t, r, http.MethodPost, "/sessions", `{"kind":"local","shell":"/bin/sh"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "local", body["kind"])
	assert.Equal(t, "running", body["state"])

	w, body = doJSON(t, r, http.MethodGet, "/sessions/"+id, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, body["id"])

	w, body = doJSON(t, r, http.MethodGet, "/sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	list, ok := body["sessions"].([]interface{})
	require.True(t, ok)
	assert.Len(t, list, 1)
	stats, ok := body["stats"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, stats["tracked"])

	w, body = doJSON(t, r, http.MethodDelete, "/sessions/"+id, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, body["closed"])

	// The closed record lingers, so the snapshot and a repeat delete
	// both still succeed.
	w, body = doJSON(t, r, http.MethodGet, "/sessions/"+id, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "closed", body["state"])

	w, _ = doJSON(t, r, http.MethodDelete, "/sessions/"+id, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionNotFound(t *testing.T) {
	r := newTestAPI(t, apiOpts{})

	w, body := doJSON(t, r, http.MethodGet, "/sessions/sess_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "session_not_found", body["kind"])

	w, body = doJSON(t, r, http.MethodDelete, "/sessions/sess_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "session_not_found", body["kind"])
}

func TestCreateSessionErrors(t *testing.T) {
	withResolver := newTestAPI(t, apiOpts{resolver: testResolver(t)})
	bare := newTestAPI(t, apiOpts{})

	cases := []struct {
		name       string
		router     *gin.Engine
		body       string
		wantStatus int
		wantKind   string
	}{
		{"missing kind", bare, `{}`, http.StatusBadRequest, "protocol_error"},
		{"unknown kind", bare, `{"kind":"teleport"}`, http.StatusBadRequest, "protocol_error"},
		{"remote without resolver", bare, `{"kind":"remote","target_name":"db-1"}`, http.StatusInternalServerError, "internal"},
		{"remote without target", withResolver, `{"kind":"remote"}`, http.StatusBadRequest, "protocol_error"},
		{"name and target both set", withResolver, `{"kind":"remote","target_name":"db-1","target":{"host":"db.internal"}}`, http.StatusBadRequest, "protocol_error"},
		{"unknown inventory name", withResolver, `{"kind":"remote","target_name":"db-9"}`, http.StatusBadRequest, "protocol_error"},
		{"explicit target without host", withResolver, `{"kind":"remote","target":{"user":"root"}}`, http.StatusBadRequest, "protocol_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, body := doJSON(t, tc.router, http.MethodPost, "/sessions", tc.body)
			assert.Equal(t, tc.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tc.wantKind, body["kind"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestCreateRemoteSessionPending(t *testing.T) {
	// Remote sessions defer the SSH dial to the first attach, so
	// creation succeeds with no server listening.
	r := newTestAPI(t, apiOpts{pool: testExecPool(t), resolver: testResolver(t)})

	w, body := doJSON(t, r, http.MethodPost, "/sessions", `{"kind":"remote","target_name":"db-1"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "remote", body["kind"])
	assert.Equal(t, "pending", body["state"])
	assert.Equal(t, "postgres@db.internal:2222", body["target"])
}

func TestExecErrors(t *testing.T) {
	bare := newTestAPI(t, apiOpts{resolver: testResolver(t)})

	w, body := doJSON(t, bare, http.MethodPost, "/exec", `{"target_name":"db-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "protocol_error", body["kind"])

	w, body = doJSON(t, bare, http.MethodPost, "/exec", `{"target_name":"db-1","command":"uptime"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal", body["kind"])
}

func TestStatus(t *testing.T) {
	breakers := resilience.NewRegistry(resilience.Settings{Timeout: time.Minute})
	breakers.Get("postgres@db.internal:2222")
	r := newTestAPI(t, apiOpts{pool: testExecPool(t), breakers: breakers})

	w, body := doJSON(t, r, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	sessions, ok := body["sessions"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 0, sessions["live"])

	targets, ok := body["targets"].([]interface{})
	require.True(t, ok, "targets must be an array even when empty")
	assert.Empty(t, targets)

	circuits, ok := body["circuits"].([]interface{})
	require.True(t, ok)
	require.Len(t, circuits, 1)
	circuit := circuits[0].(map[string]interface{})
	assert.Equal(t, "postgres@db.internal:2222", circuit["name"])
	assert.Equal(t, "closed", circuit["state"])
}
