package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("API_URL", "https://api.example.com")
	t.Setenv("SEARCH_IDLE_TIMEOUT", "")

	cfg := Load()

	assert.Equal(t, "wss://api.example.com", cfg.Backend.WSURL)
	assert.Equal(t, 30*time.Second, cfg.Search.IdleTimeout)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.Equal(t, 5, cfg.Search.PartnerSuggestionLimit)
	assert.Equal(t, 20, cfg.Fallback.DomainLimit)
	assert.Equal(t, 3, cfg.Fallback.HeuristicLimit)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("API_URL", "http://backend:8000")
	t.Setenv("WS_URL", "ws://stream:9000/ws/search")
	t.Setenv("SEARCH_IDLE_TIMEOUT", "45")
	t.Setenv("PARTNER_DIRECTORY", "redis")
	t.Setenv("FALLBACK_HEURISTIC_LIMIT", "5")

	cfg := Load()

	assert.Equal(t, "ws://stream:9000/ws/search", cfg.Backend.WSURL)
	assert.Equal(t, 45*time.Second, cfg.Search.IdleTimeout)
	assert.Equal(t, "redis", cfg.Fallback.Directory)
	assert.Equal(t, 5, cfg.Fallback.HeuristicLimit)
}

func TestWebSocketURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8000", WebSocketURL("http://localhost:8000"))
	assert.Equal(t, "wss://api.example.com/v1", WebSocketURL("https://api.example.com/v1"))
	assert.Equal(t, "ws://already", WebSocketURL("ws://already"))
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("D1", "1m30s")
	t.Setenv("D2", "bogus")
	assert.Equal(t, 90*time.Second, getEnvAsDuration("D1", time.Second))
	assert.Equal(t, time.Second, getEnvAsDuration("D2", time.Second))
	assert.Equal(t, time.Second, getEnvAsDuration("D3_UNSET", time.Second))
}
