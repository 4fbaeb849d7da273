package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklet/tracklet/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(dataDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.HTTP.Addr = "127.0.0.1:0"
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	return a
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
}

func totalEvents(t *testing.T, a *App) float64 {
	t.Helper()
	resp, err := http.Get("http://" + a.Addr() + "/api/dashboard")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	return view["total_events"].(float64)
}

func postEvent(t *testing.T, a *App) {
	t.Helper()
	body := `{"user_id":"u1","session_id":"s1","events":[{"type":"page_view","data":{"url":"https://example.com"}}]}`
	resp, err := http.Post("http://"+a.Addr()+"/track", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestApp_ServesTrackAndDashboard(t *testing.T) {
	a := startApp(t, testConfig(t.TempDir()))
	defer stopApp(t, a)

	assert.Equal(t, float64(0), totalEvents(t, a))
	postEvent(t, a)
	assert.Equal(t, float64(1), totalEvents(t, a))

	resp, err := http.Get("http://" + a.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApp_KeepsExistingDatabase(t *testing.T) {
	dir := t.TempDir()

	a := startApp(t, testConfig(dir))
	postEvent(t, a)
	stopApp(t, a)

	b := startApp(t, testConfig(dir))
	defer stopApp(t, b)
	assert.Equal(t, float64(1), totalEvents(t, b))
}

func TestApp_ResetSchemaDiscardsData(t *testing.T) {
	dir := t.TempDir()

	a := startApp(t, testConfig(dir))
	postEvent(t, a)
	stopApp(t, a)

	cfg := testConfig(dir)
	cfg.Database.ResetSchema = true
	b := startApp(t, cfg)
	defer stopApp(t, b)
	assert.Equal(t, float64(0), totalEvents(t, b))
}

func TestApp_StartTwiceFails(t *testing.T) {
	a := startApp(t, testConfig(t.TempDir()))
	defer stopApp(t, a)

	assert.Error(t, a.Start(context.Background()))
}

func TestApp_StopRejectsLateRequests(t *testing.T) {
	a := startApp(t, testConfig(t.TempDir()))
	addr := a.Addr()
	stopApp(t, a)

	_, err := http.Get("http://" + addr + "/health")
	assert.Error(t, err)

	// Stop is idempotent.
	assert.NoError(t, a.Stop(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.HTTP.Addr = ""
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestApp_FailedBootstrapLeavesNoDatabase(t *testing.T) {
	cfg := testConfig(t.TempDir())
	a, err := New(cfg, nil)
	require.NoError(t, err)
	a.initSchema = func(ctx context.Context, db *sqlx.DB) error {
		return errors.New("disk full")
	}

	require.Error(t, a.Start(context.Background()))
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_, err := os.Stat(cfg.Database.Path + suffix)
		assert.True(t, os.IsNotExist(err), "%s should not exist", cfg.Database.Path+suffix)
	}

	// The next start sees a fresh file and creates the tables.
	b := startApp(t, testConfig(cfg.DataDir))
	defer stopApp(t, b)
	postEvent(t, b)
	assert.Equal(t, float64(1), totalEvents(t, b))
}
