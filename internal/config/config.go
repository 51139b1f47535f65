package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Backend  BackendConfig
	Search   SearchConfig
	Fallback FallbackConfig
	Keys     APIKeys
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
}

// BackendConfig locates the search backend.
type BackendConfig struct {
	APIURL           string
	WSURL            string
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
}

type SearchConfig struct {
	IdleTimeout            time.Duration
	DefaultLimit           int
	PartnerSuggestionLimit int
	SessionTTL             time.Duration
	EventsTopic            string
}

type FallbackConfig struct {
	DomainLimit    int
	HeuristicLimit int
	PlainLimit     int
	Directory      string // "memory" or "redis"
	DirectoryTTL   time.Duration
}

type APIKeys struct {
	JWTSecret string
	// BackendToken is sent as a bearer token on REST calls to the search backend.
	BackendToken string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	apiURL := getEnv("API_URL", "http://localhost:8000")

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Backend: BackendConfig{
			APIURL:           apiURL,
			WSURL:            getEnv("WS_URL", WebSocketURL(apiURL)),
			HandshakeTimeout: getEnvAsDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
			RequestTimeout:   getEnvAsDuration("API_REQUEST_TIMEOUT", 15*time.Second),
		},
		Search: SearchConfig{
			IdleTimeout:            getEnvAsDuration("SEARCH_IDLE_TIMEOUT", 30*time.Second),
			DefaultLimit:           getEnvAsInt("SEARCH_DEFAULT_LIMIT", 20),
			PartnerSuggestionLimit: getEnvAsInt("SEARCH_PARTNER_SUGGESTION_LIMIT", 5),
			SessionTTL:             getEnvAsDuration("SEARCH_SESSION_TTL", 30*time.Minute),
			EventsTopic:            getEnv("SEARCH_EVENTS_TOPIC", "search.completed"),
		},
		Fallback: FallbackConfig{
			DomainLimit:    getEnvAsInt("FALLBACK_DOMAIN_LIMIT", 20),
			HeuristicLimit: getEnvAsInt("FALLBACK_HEURISTIC_LIMIT", 3),
			PlainLimit:     getEnvAsInt("FALLBACK_PLAIN_LIMIT", 10),
			Directory:      getEnv("PARTNER_DIRECTORY", "memory"),
			DirectoryTTL:   getEnvAsDuration("PARTNER_DIRECTORY_TTL", 24*time.Hour),
		},
		Keys: APIKeys{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			BackendToken: getEnv("BACKEND_API_TOKEN", ""),
		},
	}
}

// WebSocketURL derives the ws(s) base from an http(s) API base.
func WebSocketURL(apiURL string) string {
	switch {
	case strings.HasPrefix(apiURL, "https://"):
		return "wss://" + strings.TrimPrefix(apiURL, "https://")
	case strings.HasPrefix(apiURL, "http://"):
		return "ws://" + strings.TrimPrefix(apiURL, "http://")
	}
	return apiURL
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if d, err := time.ParseDuration(strValue); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
