package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"consensus-chat/client/internal/models"
	"consensus-chat/client/pkg/cache"
	apperrors "consensus-chat/client/pkg/errors"
	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/middleware"
	"consensus-chat/client/pkg/observability"
	"consensus-chat/client/pkg/resilience"
	"consensus-chat/client/pkg/ws"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// Chat API paths
const (
	PathMessages = "/api/chat/messages"
	PathUpload   = "/api/files/upload"
	PathSessions = "/api/chat/sessions"
	PathHealth   = "/health"
)

// ClientConfig configures the chat API client
type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
	Breaker   resilience.CircuitBreakerConfig
	// History caches session history responses; nil disables caching.
	History *cache.Cache
}

// Client talks to the chat API over HTTP. It is the fallback transport, the
// attachment uploader and the history loader of a conversation.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	history *cache.Cache
	log     *logger.Logger
}

// NewClient creates a chat API client
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = resilience.DefaultCircuitBreakerConfig("chat-api")
	}
	log = logger.OrGlobal(log).WithComponent("api_client")

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.RateBurst),
		breaker: resilience.NewCircuitBreaker(cfg.Breaker, log),
		history: cfg.History,
		log:     log,
	}
}

// Breaker exposes the circuit breaker guarding the API
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// SendMessage posts a chat request and returns the stored assistant reply
func (c *Client) SendMessage(ctx context.Context, req ws.ChatRequest) (*ws.FallbackResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Wrap(err, http.StatusBadRequest, apperrors.CodeInvalidRequest, "failed to encode chat request")
	}

	if middleware.GetRequestID(ctx) == "" && req.ClientMessageID != "" {
		ctx = middleware.WithRequestID(ctx, req.ClientMessageID)
	}

	var resp ws.FallbackResponse
	err = c.do(ctx, "api.SendMessage", func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathMessages, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	}, &resp)
	if err != nil {
		return nil, err
	}

	if c.history != nil {
		if req.SessionID != nil {
			c.history.Delete(req.SessionID.String())
		}
		if resp.Session != nil {
			c.history.Delete(resp.Session.ID.String())
		}
	}
	return &resp, nil
}

// Upload sends file as multipart form data and returns the stored file id.
// onProgress is called as the body is written.
func (c *Client) Upload(ctx context.Context, file models.FileSource, onProgress func(sent, total int64)) (string, error) {
	body, contentType, err := multipartBody(file)
	if err != nil {
		return "", apperrors.Wrap(err, http.StatusBadRequest, apperrors.CodeUploadFailed, "failed to read attachment")
	}

	var resp ws.UploadResponse
	err = c.do(ctx, "api.Upload", func(ctx context.Context) (*http.Request, error) {
		reader := &progressReader{r: bytes.NewReader(body), total: int64(len(body)), onProgress: onProgress}
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathUpload, reader)
		if err != nil {
			return nil, err
		}
		r.ContentLength = int64(len(body))
		r.Header.Set("Content-Type", contentType)
		return r, nil
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.FileID == "" {
		return "", apperrors.NewError(http.StatusBadGateway, apperrors.CodeUploadFailed, "upload response carried no file id")
	}
	return resp.FileID, nil
}

// History returns the stored messages of sessionID
func (c *Client) History(ctx context.Context, sessionID string) ([]ws.InboundEvent, error) {
	if c.history != nil {
		if cached, ok := c.history.Get(sessionID); ok {
			if events, ok := cached.([]ws.InboundEvent); ok {
				c.log.Debug("History served from cache", "session_id", sessionID)
				return events, nil
			}
		}
	}

	var resp ws.HistoryResponse
	err := c.do(ctx, "api.History", func(ctx context.Context) (*http.Request, error) {
		path := fmt.Sprintf("%s%s/%s/messages", c.baseURL, PathSessions, url.PathEscape(sessionID))
		return http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	}, &resp)
	if err != nil {
		return nil, err
	}

	if c.history != nil {
		c.history.Set(sessionID, resp.Messages)
	}
	return resp.Messages, nil
}

// Ping checks that the API answers its health endpoint
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "api.Ping", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathHealth, nil)
	}, nil)
}

// do paces, guards and traces one API call and decodes a 2xx body into out
func (c *Client) do(ctx context.Context, op string, build func(context.Context) (*http.Request, error), out any) error {
	ctx, span := observability.Tracer().Start(ctx, op)
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limiter")
		return apperrors.Wrap(err, http.StatusTooManyRequests, apperrors.CodeRateLimited, "request cancelled while rate limited")
	}

	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return apperrors.Wrap(err, http.StatusBadRequest, apperrors.CodeInvalidRequest, "failed to build request")
		}
		if id := middleware.GetRequestID(ctx); id != "" {
			req.Header.Set(middleware.HeaderRequestID, id)
		}
		span.SetAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
		)

		resp, err := c.http.Do(req)
		if err != nil {
			return apperrors.NewTransportError(err, "chat API unreachable")
		}
		defer resp.Body.Close()
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var body apperrors.ErrorBody
			_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body)
			return apperrors.FromResponse(resp.StatusCode, body)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.NewTransportError(err, "malformed chat API response")
		}
		return nil
	})

	log := c.log.With("op", op, "latency_ms", time.Since(start).Milliseconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperrors.GetErrorCode(err))
		log.Warn("Chat API call failed", "error", err.Error())
		return err
	}
	log.Debug("Chat API call succeeded")
	return nil
}

func multipartBody(file models.FileSource) ([]byte, string, error) {
	src, err := file.Open()
	if err != nil {
		return nil, "", err
	}
	defer src.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", file.Name())
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, src); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// progressReader reports how much of the body has been read
type progressReader struct {
	r          io.Reader
	sent       int64
	total      int64
	onProgress func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.sent, p.total)
		}
	}
	return n, err
}
