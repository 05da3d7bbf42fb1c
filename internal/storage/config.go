package storage

import (
	"os"
	"strconv"
	"time"
)

// BackendKind selects where documents are stored
type BackendKind string

const (
	BackendMemory BackendKind = "memory"
	BackendSQLite BackendKind = "sqlite"
	BackendDynamo BackendKind = "dynamodb"
)

// DynamoMode represents the DynamoDB connection mode
type DynamoMode string

const (
	DynamoModeLocal DynamoMode = "local"
	DynamoModeAWS   DynamoMode = "aws"
)

// DynamoConfig holds DynamoDB configuration
type DynamoConfig struct {
	Mode     DynamoMode
	Endpoint string // for local mode
	Region   string
	Table    string
}

// Config selects and configures the storage backend
type Config struct {
	Backend    BackendKind
	SQLitePath string
	Dynamo     DynamoConfig

	RetryAttempts int           // read attempts before giving up
	RetryBase     time.Duration // first backoff, doubled per attempt
	FlushInterval time.Duration // outbox flush period
}

// LoadConfig loads storage config from environment
func LoadConfig() Config {
	backend := BackendKind(getEnv("STORE_BACKEND", string(BackendMemory)))
	switch backend {
	case BackendSQLite, BackendDynamo:
	default:
		backend = BackendMemory
	}

	mode := DynamoMode(getEnv("DYNAMO_MODE", string(DynamoModeLocal)))
	if mode != DynamoModeAWS {
		mode = DynamoModeLocal
	}

	return Config{
		Backend:    backend,
		SQLitePath: getEnv("SQLITE_PATH", "data/contactcore.db"),
		Dynamo: DynamoConfig{
			Mode:     mode,
			Endpoint: getEnv("DYNAMO_ENDPOINT", "http://localhost:8000"),
			Region:   getEnv("DYNAMO_REGION", "eu-central-1"),
			Table:    getEnv("DYNAMO_TABLE", "contactcore-documents"),
		},
		RetryAttempts: getEnvInt("STORE_RETRY_ATTEMPTS", 4),
		RetryBase:     getEnvDuration("STORE_RETRY_BASE", 100*time.Millisecond),
		FlushInterval: getEnvDuration("STORE_FLUSH_INTERVAL", 2*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
