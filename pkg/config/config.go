package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      string
	FirebaseProject string
	Environment     string

	APIBaseURL   string
	WSURL        string
	Topic        string
	PageSize     int
	SendPerMin   int
	PollEvery    time.Duration
	MatchWindow  time.Duration
	Timeout      time.Duration
	ReconnectFor time.Duration
}

// ChatOptions is the client-side tuning derived from Config.
type ChatOptions struct {
	PageSize            int
	PollInterval        time.Duration
	MatchWindow         time.Duration
	FetchTimeout        time.Duration
	ReconnectMaxElapsed time.Duration
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		FirebaseProject: getEnv("FIREBASE_PROJECT_ID", ""),
		Environment:     getEnv("ENVIRONMENT", "development"),
		APIBaseURL:      getEnv("CHAT_API_BASE_URL", "http://localhost:8080"),
		WSURL:           getEnv("CHAT_WS_URL", "ws://localhost:8080/ws"),
		Topic:           getEnv("CHAT_TOPIC", "chat.messages"),
		PageSize:        int(getEnvAsInt64("CHAT_PAGE_SIZE", 20)),
		SendPerMin:      int(getEnvAsInt64("CHAT_SEND_PER_MINUTE", 30)),
		PollEvery:       getEnvAsDuration("CHAT_POLL_INTERVAL", 5*time.Second),
		MatchWindow:     getEnvAsDuration("CHAT_MATCH_WINDOW", 2*time.Second),
		Timeout:         getEnvAsDuration("CHAT_FETCH_TIMEOUT", 10*time.Second),
		ReconnectFor:    getEnvAsDuration("CHAT_RECONNECT_MAX_ELAPSED", time.Minute),
	}

	return config, nil
}

func (c *Config) ChatOptions() ChatOptions {
	return ChatOptions{
		PageSize:            c.PageSize,
		PollInterval:        c.PollEvery,
		MatchWindow:         c.MatchWindow,
		FetchTimeout:        c.Timeout,
		ReconnectMaxElapsed: c.ReconnectFor,
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("5s") or bare seconds ("5").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
