package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"consensus-chat/client/internal/api"
	apperrors "consensus-chat/client/pkg/errors"
	"consensus-chat/client/pkg/health"
	"consensus-chat/client/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, validate bool) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.Discard()
	store := api.NewStore()
	checker := health.NewChecker(log, time.Minute)
	checker.RunChecks(context.Background())

	r := New(Options{
		Logger:  log,
		Handler: api.NewHandler(store, api.NewResponder(store, 0, log), nil),
		Health:  checker,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	})
	if validate {
		require.NoError(t, r.AddOpenAPIValidation())
	}
	r.SetupRoutes()
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	r := newTestRouter(t, false)

	for _, path := range []string{"/health", "/api/health"} {
		w := get(r, path)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), `"status":"ok"`)
	}

	w := get(r, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# metrics")
}

func TestRouter_SendMessageAndHistory(t *testing.T) {
	r := newTestRouter(t, true)

	w := post(r, "/api/chat/messages", `{"message":"hello","use_consensus":false,"selected_models":[],"attached_file_ids":[]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "You said: hello")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = get(r, "/api/chat/sessions/1/messages")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)

	w = get(r, "/api/chat/sessions/99/messages")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeNotFound)
}

func TestRouter_OpenAPIValidation(t *testing.T) {
	body := `{"use_consensus":true}`

	t.Run("without schema the handler reports the empty message", func(t *testing.T) {
		w := post(newTestRouter(t, false), "/api/chat/messages", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), apperrors.CodeEmptyMessage)
	})

	t.Run("with schema the missing field is rejected first", func(t *testing.T) {
		w := post(newTestRouter(t, true), "/api/chat/messages", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), apperrors.CodeInvalidRequest)
	})

	t.Run("schema is served", func(t *testing.T) {
		w := get(newTestRouter(t, true), "/api/docs/openapi.yaml")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "/api/chat/messages")
	})
}

func TestRouter_CORSPreflight(t *testing.T) {
	r := newTestRouter(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat/messages", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
