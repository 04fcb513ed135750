// Package config loads the application configuration from the
// environment, with an optional .env file for local development.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string

	// Queue
	QueueVisibility time.Duration
	MaxDeliveries   int

	// Worker pool
	PoolMin     int
	PoolMax     int
	IdleTimeout time.Duration
	ExecTimeout time.Duration

	// Sandbox
	FreeCADBin string
	WorkDir    string

	// Artifacts: S3 when a bucket is set, local directory otherwise.
	ArtifactBucket string
	ArtifactDir    string
	CDNBaseURL     string

	// Fleet mode (empty AMI disables the EC2 fleet scaler)
	AWSRegion      string
	WorkerAMI      string
	WorkerInstance string
	WorkerSubnetID string
	FleetMax       int

	// Notifications
	WebhookURLs []string

	// Screenshots (empty disables capture)
	ViewerURL string
}

// Load loads configuration from environment variables. A .env file in
// the working directory is merged in when present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded configuration from .env")
	}

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		ServerPort:  getEnv("SERVER_PORT", "8080"),

		QueueVisibility: getDuration("QUEUE_VISIBILITY", 5*time.Minute),
		MaxDeliveries:   getInt("QUEUE_MAX_DELIVERIES", 3),

		PoolMin:     getInt("POOL_MIN_WORKERS", 1),
		PoolMax:     getInt("POOL_MAX_WORKERS", 4),
		IdleTimeout: getDuration("WORKER_IDLE_TIMEOUT", 10*time.Minute),
		ExecTimeout: getDuration("JOB_EXEC_TIMEOUT", 10*time.Minute),

		FreeCADBin: getEnv("FREECAD_BIN", "freecadcmd"),
		WorkDir:    getEnv("WORK_DIR", os.TempDir()),

		ArtifactBucket: getEnv("ARTIFACT_BUCKET", ""),
		ArtifactDir:    getEnv("ARTIFACT_DIR", "./artifacts"),
		CDNBaseURL:     getEnv("CDN_BASE_URL", ""),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		WorkerAMI:      getEnv("WORKER_AMI", ""),
		WorkerInstance: getEnv("WORKER_INSTANCE_TYPE", "c5.xlarge"),
		WorkerSubnetID: getEnv("WORKER_SUBNET_ID", ""),
		FleetMax:       getInt("FLEET_MAX_HOSTS", 8),

		WebhookURLs: getList("NOTIFY_WEBHOOK_URLS"),

		ViewerURL: getEnv("VIEWER_URL", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func getList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
