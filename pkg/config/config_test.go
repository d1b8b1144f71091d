package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, PushWebSocket, cfg.Client.PushTransport)
	assert.Equal(t, "auto", cfg.Consensus.PhaseMode)
	assert.Equal(t, 2*time.Second, cfg.Consensus.ProcessingDelay)
	assert.Equal(t, 5*time.Second, cfg.Consensus.ConsensusDelay)
	assert.Equal(t, 8*time.Second, cfg.Consensus.FinalizingDelay)
	assert.Equal(t, "content", cfg.Reconciler.DedupStrategy)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://chat.internal:9000/")
	t.Setenv("PUSH_TRANSPORT", "Redis")
	t.Setenv("DEDUP_STRATEGY", "id")
	t.Setenv("CONSENSUS_PROCESSING_DELAY", "250ms")
	t.Setenv("CONSENSUS_MODELS", "a, b,,c")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "not-a-number")

	cfg := Load()

	assert.Equal(t, "http://chat.internal:9000", cfg.Client.APIBaseURL)
	assert.Equal(t, PushRedis, cfg.Client.PushTransport)
	assert.Equal(t, "id", cfg.Reconciler.DedupStrategy)
	assert.Equal(t, 250*time.Millisecond, cfg.Consensus.ProcessingDelay)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Consensus.DefaultModels)
	assert.Equal(t, uint(5), cfg.Breaker.FailureThreshold)
}
