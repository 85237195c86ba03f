package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for a node.
type Config struct {
	Device string
	Baud   int

	DBPath   string
	LogPath  string
	LogLevel string

	WebPort  int
	Headless bool

	// Peer is the conversation the terminal client opens first.
	Peer string

	PollInterval time.Duration
	RelayWindow  time.Duration
	ReaperTTL    time.Duration

	// Webhook receives messages delivered to this node when set.
	Webhook       string
	WebhookPrefix string
}

// Load reads configuration from environment variables, loading a .env file
// first if one exists. Command line flags bound to the result override it.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Device:        getEnv("LORAMESH_DEVICE", ""),
		Baud:          getInt("LORAMESH_BAUD", 9600),
		DBPath:        getEnv("LORAMESH_DB", "loramesh.db"),
		LogPath:       getEnv("LORAMESH_LOG", "loramesh.log"),
		LogLevel:      getEnv("LORAMESH_LOG_LEVEL", "info"),
		WebPort:       getInt("LORAMESH_WEB_PORT", 8080),
		Headless:      getEnv("LORAMESH_HEADLESS", "false") == "true",
		Peer:          getEnv("LORAMESH_PEER", ""),
		PollInterval:  getDuration("LORAMESH_POLL", 25*time.Millisecond),
		RelayWindow:   getDuration("LORAMESH_RELAY_WINDOW", 60*time.Second),
		ReaperTTL:     getDuration("LORAMESH_PEER_TTL", 5*time.Minute),
		Webhook:       getEnv("LORAMESH_WEBHOOK", ""),
		WebhookPrefix: getEnv("LORAMESH_WEBHOOK_PREFIX", "/uplink"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
