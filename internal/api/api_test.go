package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"consensus-chat/client/internal/models"
	"consensus-chat/client/pkg/cache"
	apperrors "consensus-chat/client/pkg/errors"
	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/middleware"
	"consensus-chat/client/pkg/resilience"
	"consensus-chat/client/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	store    *Store
	hits     map[string]int
	requests []string
	mu       sync.Mutex
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{store: NewStore(), hits: make(map[string]int)}
	engine := gin.New()
	engine.Use(apperrors.ErrorHandler())
	engine.Use(func(c *gin.Context) {
		ts.mu.Lock()
		ts.hits[c.Request.URL.Path]++
		ts.requests = append(ts.requests, c.GetHeader(middleware.HeaderRequestID))
		ts.mu.Unlock()
		c.Next()
	})
	engine.GET(PathHealth, func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	NewHandler(ts.store, NewResponder(ts.store, 0, logger.Discard()), nil).RegisterRoutes(engine)

	ts.Server = httptest.NewServer(engine)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) hitsFor(path string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.hits[path]
}

func newClient(baseURL string, history *cache.Cache) *Client {
	return NewClient(ClientConfig{BaseURL: baseURL, Timeout: 5 * time.Second, History: history}, logger.Discard())
}

func TestClient_SendMessageCreatesSession(t *testing.T) {
	ts := newTestServer(t)
	client := newClient(ts.URL, nil)

	resp, err := client.SendMessage(context.Background(), ws.ChatRequest{
		Message:         "hello",
		SelectedModels:  []string{},
		AttachedFileIDs: []string{"file-1"},
		ClientMessageID: "local-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "assistant", resp.Message.Role)
	assert.Equal(t, "You said: hello (1 attachment(s) received)", resp.Message.Content)
	require.NotNil(t, resp.Session)
	assert.Equal(t, ws.SessionRef("1"), resp.Session.ID)
	assert.Equal(t, []string{"local-1"}, ts.requests)

	ref := resp.Session.ID
	resp, err = client.SendMessage(context.Background(), ws.ChatRequest{Message: "again", SessionID: &ref})
	require.NoError(t, err)
	assert.Nil(t, resp.Session)
	assert.Equal(t, ref, resp.Message.SessionID)
}

func TestClient_SendMessageConsensus(t *testing.T) {
	ts := newTestServer(t)
	client := newClient(ts.URL, nil)

	resp, err := client.SendMessage(context.Background(), ws.ChatRequest{
		Message:        "which is faster?",
		UseConsensus:   true,
		SelectedModels: []string{"gpt-4", "claude-3"},
	})
	require.NoError(t, err)

	require.NotNil(t, resp.Message.ConsensusData)
	assert.Len(t, resp.Message.ConsensusData.ModelResponses, 2)
	assert.Equal(t, resp.Message.ConsensusData.FinalConsensus, resp.Message.Content)
}

func TestClient_ErrorBodyIsDecoded(t *testing.T) {
	ts := newTestServer(t)
	client := newClient(ts.URL, nil)

	_, err := client.SendMessage(context.Background(), ws.ChatRequest{Message: "   "})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEmptyMessage))
	assert.Equal(t, http.StatusBadRequest, apperrors.GetStatusCode(err))

	_, err = client.History(context.Background(), "404")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	// 4xx answers do not trip the breaker
	assert.Equal(t, resilience.StateClosed, client.Breaker().State())
}

func TestClient_UploadReportsProgress(t *testing.T) {
	ts := newTestServer(t)
	client := newClient(ts.URL, nil)

	var last atomic.Int64
	var total atomic.Int64
	id, err := client.Upload(context.Background(), models.MemoryFile("notes.txt", []byte("some notes")), func(sent, n int64) {
		last.Store(sent)
		total.Store(n)
	})
	require.NoError(t, err)

	stored, ok := ts.store.File(id)
	require.True(t, ok)
	assert.Equal(t, "notes.txt", stored.Name)
	assert.Equal(t, int64(len("some notes")), stored.Size)
	assert.Equal(t, total.Load(), last.Load())
	assert.Positive(t, total.Load())
}

func TestClient_HistoryIsCachedUntilNextSend(t *testing.T) {
	ts := newTestServer(t)
	history := cache.New(cache.Options{DefaultExpiration: time.Minute})
	t.Cleanup(history.Close)
	client := newClient(ts.URL, history)

	resp, err := client.SendMessage(context.Background(), ws.ChatRequest{Message: "first"})
	require.NoError(t, err)
	sessionID := resp.Session.ID.String()
	historyPath := PathSessions + "/" + sessionID + "/messages"

	events, err := client.History(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, err = client.History(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, ts.hitsFor(historyPath))

	ref := resp.Session.ID
	_, err = client.SendMessage(context.Background(), ws.ChatRequest{Message: "second", SessionID: &ref})
	require.NoError(t, err)

	events, err = client.History(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Len(t, events, 4)
	assert.Equal(t, 2, ts.hitsFor(historyPath))
}

func TestClient_BreakerOpensOnServerFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{
		BaseURL: srv.URL,
		Breaker: resilience.CircuitBreakerConfig{
			Name:             "test",
			FailureThreshold: 2,
			RetryTimeout:     time.Hour,
		},
	}, logger.Discard())

	for i := 0; i < 2; i++ {
		err := client.Ping(context.Background())
		require.Error(t, err)
		assert.Equal(t, http.StatusBadGateway, apperrors.GetStatusCode(err))
	}

	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeCircuitOpen))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_UnreachableIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(url, nil).SendMessage(context.Background(), ws.ChatRequest{Message: "hi"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTransportFailure))
}

func TestResponder_HandleChatConsensus(t *testing.T) {
	store := NewStore()
	responder := NewResponder(store, 0, logger.Discard())

	var got []ws.Envelope
	responder.HandleChat(context.Background(), ws.ChatRequest{
		Message:         "compare",
		UseConsensus:    true,
		SelectedModels:  []string{"a", "b"},
		ClientMessageID: "local-9",
		Epoch:           3,
	}, func(env ws.Envelope) { got = append(got, env) })

	types := make([]string, 0, len(got))
	for _, env := range got {
		types = append(types, env.Type)
	}
	assert.Equal(t, []string{
		ws.TypeSessionCreated,
		ws.TypeStatus, ws.TypeStatus, ws.TypeStatus, ws.TypeStatus,
		ws.TypeMessage,
	}, types)

	var created ws.SessionCreated
	require.NoError(t, got[0].Decode(&created))
	assert.Equal(t, "local-9", created.ClientMessageID)

	var signal ws.StatusSignal
	require.NoError(t, got[1].Decode(&signal))
	assert.Equal(t, string(models.PhaseAnalyzing), signal.Phase)
	assert.Equal(t, uint64(3), signal.Epoch)

	var answer ws.InboundEvent
	require.NoError(t, json.Unmarshal(got[5].Content, &answer))
	assert.Equal(t, created.ID, answer.SessionID)
	require.NotNil(t, answer.Consensus)

	msgs, ok := store.Messages(created.ID.String())
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestResponder_HandleChatEmpty(t *testing.T) {
	responder := NewResponder(NewStore(), 0, logger.Discard())

	var got []ws.Envelope
	responder.HandleChat(context.Background(), ws.ChatRequest{Message: ""}, func(env ws.Envelope) { got = append(got, env) })

	require.Len(t, got, 1)
	assert.Equal(t, ws.TypeError, got[0].Type)
	var ev ws.ErrorEvent
	require.NoError(t, got[0].Decode(&ev))
	assert.Equal(t, apperrors.CodeEmptyMessage, ev.Code)
}
