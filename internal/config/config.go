package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB     DBConfig
	HDFS   HDFSConfig
	JWT    JWTConfig
	Server ServerConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// HDFSConfig describes the remote WebHDFS endpoints. The name node answers
// control-plane requests; data transfers are redirected to the data node,
// whose advertised host is often unreachable and must be overridden.
type HDFSConfig struct {
	NameNodeHost   string
	NameNodePort   int
	DataNodeHost   string
	User           string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	DirPermission  string
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port        string
	CORSOrigins string
	BodyLimitMB int
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "skydisk"),
			Password: getEnv("DB_PASSWORD", "skydisk_secret"),
			Name:     getEnv("DB_NAME", "skydisk"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		HDFS: HDFSConfig{
			NameNodeHost:   getEnv("HDFS_NAMENODE_HOST", "localhost"),
			NameNodePort:   getEnvAsInt("HDFS_NAMENODE_PORT", 9870),
			DataNodeHost:   getEnv("HDFS_DATANODE_HOST", getEnv("HDFS_NAMENODE_HOST", "localhost")),
			User:           getEnv("HDFS_USER", "hadoop"),
			Timeout:        getEnvAsDuration("HDFS_TIMEOUT", 60*time.Second),
			MaxRetries:     getEnvAsInt("HDFS_MAX_RETRIES", 3),
			RetryBaseDelay: getEnvAsDuration("HDFS_RETRY_BASE_DELAY", 2*time.Second),
			DirPermission:  getEnv("HDFS_DIR_PERMISSION", "755"),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3001,http://127.0.0.1:3001"),
			BodyLimitMB: getEnvAsInt("BODY_LIMIT_MB", 100),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
