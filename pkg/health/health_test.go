package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"consensus-chat/client/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_PushAndAPIChecks(t *testing.T) {
	checker := NewChecker(logger.Discard(), time.Minute)
	connected := false
	checker.RegisterPushCheck("websocket", func() bool { return connected })
	checker.RegisterAPICheck("chat", func(context.Context) error { return errors.New("connection refused") })
	checker.MarkCritical("api-chat")

	checker.RunChecks(context.Background())

	status := checker.GetStatus()
	assert.Equal(t, StatusUp, status["self"].Status)
	assert.Equal(t, StatusDegraded, status["push-websocket"].Status)
	assert.Equal(t, StatusDown, status["api-chat"].Status)
	assert.Equal(t, "connection refused", status["api-chat"].Error)
	assert.False(t, checker.IsSystemHealthy())

	connected = true
	checker.RunChecks(context.Background())
	assert.Equal(t, StatusUp, checker.GetStatus()["push-websocket"].Status)
}

func TestChecker_HTTPHandler(t *testing.T) {
	checker := NewChecker(logger.Discard(), time.Minute)
	checker.RegisterAPICheck("chat", func(context.Context) error { return nil })
	checker.MarkCritical("api-chat")
	checker.RunChecks(context.Background())

	w := httptest.NewRecorder()
	checker.HTTPHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status     string                `json:"status"`
		Components map[string]*Component `json:"components"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Contains(t, body.Components, "api-chat")
}

func TestChecker_UncheckedCriticalIsUnhealthy(t *testing.T) {
	checker := NewChecker(logger.Discard(), time.Minute)
	checker.RegisterAPICheck("chat", func(context.Context) error { return nil })
	checker.MarkCritical("api-chat")

	w := httptest.NewRecorder()
	checker.HTTPHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
