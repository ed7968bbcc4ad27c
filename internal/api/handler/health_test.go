package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/carousel_go_server/internal/testutil"
)

func checkHealth(t *testing.T, h *HealthHandler) (int, map[string]string) {
	t.Helper()

	r := gin.New()
	r.GET("/healthz", h.Check)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHealthHandler_OK(t *testing.T) {
	db := testutil.SetupTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	code, body := checkHealth(t, NewHealthHandler(db, rdb))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, "ok", body["redis"])
}

func TestHealthHandler_RedisDownStillServes(t *testing.T) {
	db := testutil.SetupTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	code, body := checkHealth(t, NewHealthHandler(db, rdb))
	assert.Equal(t, http.StatusOK, code)
	assert.NotEqual(t, "ok", body["redis"])
}

func TestHealthHandler_DatabaseDown(t *testing.T) {
	db := testutil.SetupTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	code, body := checkHealth(t, NewHealthHandler(db, nil))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.NotEqual(t, "ok", body["database"])
}
