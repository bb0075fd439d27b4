package config

import "time"

// MonitorConfig holds runtime configuration for the monitor service.
type MonitorConfig struct {
	Environment        string
	Addr               string
	LogLevel           string
	DockerHost         string
	Username           string
	Password           string
	PasswordHash       string
	SessionTTL         time.Duration
	UpdateInterval     time.Duration
	LogTailDefault     int
	CORSAllowOrigin    string
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadMonitorConfig constructs a MonitorConfig from environment variables.
func LoadMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("MONITOR_ADDR", ":4000"),
		LogLevel:           GetString("MONITOR_LOG_LEVEL", "info"),
		DockerHost:         GetString("DOCKER_HOST", ""),
		Username:           GetString("MONITOR_USER", "admin"),
		Password:           GetString("MONITOR_PASSWORD", "admin"),
		PasswordHash:       GetString("MONITOR_PASSWORD_HASH", ""),
		SessionTTL:         time.Duration(GetInt("SESSION_TTL_HOURS", 24)) * time.Hour,
		UpdateInterval:     time.Duration(GetInt("WS_UPDATE_MS", 1000)) * time.Millisecond,
		LogTailDefault:     GetInt("LOG_TAIL_DEFAULT", 200),
		CORSAllowOrigin:    GetString("CORS_ALLOW_ORIGIN", "*"),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
