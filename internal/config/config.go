package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment-derived configuration for both the
// control-plane server and the callback/orchestrator sidecar.
type Config struct {
	Port    string
	GinMode string

	// Callback -> control plane wiring (spec.md §6.4)
	ControlPlaneURL           string
	ControlPlaneStreamTimeout time.Duration // T_stream, clamped to [1s, 600s]
	ControlPlaneChunkTimeout  time.Duration // T_chunk
	ControlPlaneHTTPTimeout   time.Duration // T_http
	PolicyLoaderRef           string        // dotted "package:Policy" reference
	PolicyManifestPath        string        // optional YAML allow-list of permitted refs

	// Connection Manager (§4.6)
	ConnectionIdleSweepInterval time.Duration

	// Rate Limiter (§4.7)
	RateLimitWindow     time.Duration
	RateLimitMaxEvents  int

	// Sequential Task Queues (§4.5)
	TaskQueueBufferSize int

	// Persistence (§6.5, interface only)
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Cross-instance pub/sub (supplement, grounded on teacher's NATS usage)
	NatsURL string

	// Durable re-delivery of failed task-queue operations (supplement)
	TemporalEndpoint  string
	TemporalNamespace string
	TemporalAPIKey    string

	// CORS, for the SSE endpoints in §6.1
	CORSAllowedOrigins string

	// Service-to-service bearer auth between the callback and control plane
	// (supplement, stub verification only)
	ServiceAuthSecret string // control-plane side: HMAC secret to verify against
	ServiceAuthToken  string // callback side: the token it presents

	// Logging
	LogLevel  string
	LogFormat string

	ServerShutdownTimeout time.Duration
}

var AppConfig *Config

// LoadConfig populates AppConfig from the environment (and an optional
// .env file), applying the defaults and clamps spec.md §5/§6.4 call for.
func LoadConfig() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	streamTimeout := getEnvAsDuration("CONTROL_PLANE_STREAM_TIMEOUT", 30*time.Second)
	if streamTimeout < time.Second || streamTimeout > 600*time.Second {
		log.Printf("Warning: CONTROL_PLANE_STREAM_TIMEOUT=%v outside [1s, 600s], clamping", streamTimeout)
		if streamTimeout < time.Second {
			streamTimeout = time.Second
		} else {
			streamTimeout = 600 * time.Second
		}
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		ControlPlaneURL:           getEnvOrDefault("CONTROL_PLANE_URL", "http://localhost:8081"),
		ControlPlaneStreamTimeout: streamTimeout,
		ControlPlaneChunkTimeout:  getEnvAsDuration("CONTROL_PLANE_CHUNK_TIMEOUT", 5*time.Second),
		ControlPlaneHTTPTimeout:   getEnvAsDuration("CONTROL_PLANE_HTTP_TIMEOUT", 10*time.Second),
		PolicyLoaderRef:           getEnvOrDefault("POLICY_LOADER_REF", "policy:NoOp"),
		PolicyManifestPath:        getEnvOrDefault("POLICY_MANIFEST_PATH", ""),

		ConnectionIdleSweepInterval: getEnvAsDuration("CONNECTION_IDLE_SWEEP_INTERVAL", 5*time.Minute),

		RateLimitWindow:    getEnvAsDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		RateLimitMaxEvents: getEnvAsInt("RATE_LIMIT_MAX_EVENTS", 120),

		TaskQueueBufferSize: getEnvAsInt("TASK_QUEUE_BUFFER_SIZE", 1000),

		DatabaseURL:    getEnvOrDefault("DATABASE_URL", "postgres://localhost/luthien?sslmode=disable"),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 15),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),

		NatsURL: getEnvOrDefault("NATS_URL", ""),

		TemporalEndpoint:  getEnvOrDefault("TEMPORAL_ENDPOINT", ""),
		TemporalNamespace: getEnvOrDefault("TEMPORAL_NAMESPACE", ""),
		TemporalAPIKey:    getEnvOrDefault("TEMPORAL_API_KEY", ""),

		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"),

		ServiceAuthSecret: getEnvOrDefault("SERVICE_AUTH_SECRET", ""),
		ServiceAuthToken:  getEnvOrDefault("SERVICE_AUTH_TOKEN", ""),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		ServerShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s=%q as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s=%q as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}
