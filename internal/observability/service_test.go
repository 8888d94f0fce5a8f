package observability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tophourbot/internal/metrics"
	logx "tophourbot/pkg/logx"
)

func get(t *testing.T, h http.Handler, path, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterEndpoints(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	m.Round("segue", "reported", 20)
	var notReady error = errors.New("not connected")

	svc := New(Config{Enabled: true}, Sources{
		Metrics: m.Handler(),
		Ready:   func() error { return notReady },
		State: map[string]func() any{
			"history": func() any { return []string{"DANKIES 🔔"} },
		},
	}, logx.Nop())
	h := svc.Router(Config{Pprof: true})

	assert.Equal(t, "ok", get(t, h, "/healthz", "").Body.String())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz", "").Code)

	rec := get(t, h, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tophourbot_rounds_total")

	rec = get(t, h, "/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var idx map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &idx))
	assert.Equal(t, []string{"history"}, idx["snapshots"])

	rec = get(t, h, "/state/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["DANKIES 🔔"]`, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, get(t, h, "/state/nope", "").Code)

	assert.Equal(t, http.StatusOK, get(t, h, "/debug/pprof/", "").Code)
}

func TestPprofOffByDefault(t *testing.T) {
	t.Parallel()
	h := New(Config{}, Sources{}, logx.Nop()).Router(Config{})
	assert.Equal(t, http.StatusNotFound, get(t, h, "/debug/pprof/", "").Code)
	assert.Equal(t, "ready", get(t, h, "/readyz", "").Body.String())
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	h := New(Config{}, Sources{}, logx.Nop()).Router(Config{Token: "s3cret"})

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/readyz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/readyz", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz", "s3cret").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz?token=s3cret", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/readyz?token=nope", "s3cret").Code)
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Sources{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	require.Eventually(t, func() bool { return svc.Addr() != "" }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + svc.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	svc.Reconfigure(stopCtx, Config{Enabled: false})
	assert.Empty(t, svc.Addr())
}

func TestInsecureBindRefused(t *testing.T) {
	t.Parallel()
	assert.True(t, isLoopbackAddr("127.0.0.1:9464"))
	assert.True(t, isLoopbackAddr("localhost:9464"))
	assert.True(t, isLoopbackAddr("[::1]:9464"))
	assert.False(t, isLoopbackAddr(":9464"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9464"))

	svc := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Sources{}, logx.Nop())
	err := svc.serveOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure bind")
}
