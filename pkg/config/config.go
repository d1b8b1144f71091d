package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Push transports selectable with PUSH_TRANSPORT
const (
	PushWebSocket = "websocket"
	PushRedis     = "redis"
	PushNone      = "none"
)

// Config holds all application configuration
type Config struct {
	// Reference server configuration
	Server struct {
		Port              string
		Env               string
		Timeout           time.Duration
		OpenAPIValidation bool
		RateLimit         float64
		RateLimitBurst    int
		PhaseStepDelay    time.Duration
	}

	// Client transport configuration
	Client struct {
		APIBaseURL     string
		PushURL        string
		PushTransport  string
		HTTPTimeout    time.Duration
		RateLimit      float64
		RateLimitBurst int
		ReconnectMin   time.Duration
		ReconnectMax   time.Duration
		SendBuffer     int
	}

	// Circuit breaker around the fallback endpoint
	Breaker struct {
		FailureThreshold uint
		SuccessThreshold uint
		RetryTimeout     time.Duration
	}

	// Redis pub/sub push transport
	Redis struct {
		Addr            string
		Password        string
		DB              int
		OutboundChannel string
		InboundChannel  string
	}

	// Consensus progress tracking
	Consensus struct {
		// PhaseMode is auto, simulated or explicit
		PhaseMode       string
		ProcessingDelay time.Duration
		ConsensusDelay  time.Duration
		FinalizingDelay time.Duration
		DefaultModels   []string
	}

	// Message reconciliation
	Reconciler struct {
		// DedupStrategy is content or id
		DedupStrategy string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Cache settings for session history
	Cache struct {
		Enabled     bool
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}
}

var (
	instance *Config
	once     sync.Once
)

// New returns the process-wide Config, loading it from the environment on first use
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		_ = godotenv.Load()
		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	return New()
}

// Load reads a fresh Config from the current environment without touching the singleton
func Load() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "8081")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	cfg.Server.OpenAPIValidation = getEnvBool("OPENAPI_VALIDATION", true)
	cfg.Server.RateLimit = getEnvFloat("SERVER_RATE_LIMIT", 5)
	cfg.Server.RateLimitBurst = getEnvInt("SERVER_RATE_LIMIT_BURST", 10)
	cfg.Server.PhaseStepDelay = getEnvDuration("SERVER_PHASE_STEP_DELAY", 750*time.Millisecond)

	cfg.Client.APIBaseURL = strings.TrimRight(getEnvString("API_BASE_URL", "http://localhost:8081"), "/")
	cfg.Client.PushURL = getEnvString("PUSH_URL", "ws://localhost:8081/ws")
	cfg.Client.PushTransport = strings.ToLower(getEnvString("PUSH_TRANSPORT", PushWebSocket))
	cfg.Client.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 60*time.Second)
	cfg.Client.RateLimit = getEnvFloat("CLIENT_RATE_LIMIT", 10)
	cfg.Client.RateLimitBurst = getEnvInt("CLIENT_RATE_LIMIT_BURST", 20)
	cfg.Client.ReconnectMin = getEnvDuration("PUSH_RECONNECT_MIN", 500*time.Millisecond)
	cfg.Client.ReconnectMax = getEnvDuration("PUSH_RECONNECT_MAX", 30*time.Second)
	cfg.Client.SendBuffer = getEnvInt("PUSH_SEND_BUFFER", 64)

	cfg.Breaker.FailureThreshold = uint(getEnvInt("BREAKER_FAILURE_THRESHOLD", 5))
	cfg.Breaker.SuccessThreshold = uint(getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2))
	cfg.Breaker.RetryTimeout = getEnvDuration("BREAKER_RETRY_TIMEOUT", 30*time.Second)

	cfg.Redis.Addr = getEnvString("REDIS_URL", "localhost:6379")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.OutboundChannel = getEnvString("REDIS_OUTBOUND_CHANNEL", "chat:outbound")
	cfg.Redis.InboundChannel = getEnvString("REDIS_INBOUND_CHANNEL", "chat:events")

	cfg.Consensus.PhaseMode = strings.ToLower(getEnvString("CONSENSUS_PHASE_MODE", "auto"))
	cfg.Consensus.ProcessingDelay = getEnvDuration("CONSENSUS_PROCESSING_DELAY", 2*time.Second)
	cfg.Consensus.ConsensusDelay = getEnvDuration("CONSENSUS_CONSENSUS_DELAY", 5*time.Second)
	cfg.Consensus.FinalizingDelay = getEnvDuration("CONSENSUS_FINALIZING_DELAY", 8*time.Second)
	cfg.Consensus.DefaultModels = getEnvStringSlice("CONSENSUS_MODELS", []string{"gpt-4o", "claude-3-5-sonnet", "gemini-1.5-pro"})

	cfg.Reconciler.DedupStrategy = strings.ToLower(getEnvString("DEDUP_STRATEGY", "content"))

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", true)
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 100)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)

	return cfg
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
