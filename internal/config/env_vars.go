package config

import (
	"os"
	"time"
)

const (
	appNameVar              = "APP_NAME"
	baseURLVar              = "CIVIC_BASE_URL"
	requestTimeoutVar       = "CIVIC_REQUEST_TIMEOUT"
	refreshThresholdVar     = "CIVIC_REFRESH_THRESHOLD"
	refreshCheckIntervalVar = "CIVIC_REFRESH_CHECK_INTERVAL"
	idleTimeoutVar          = "CIVIC_IDLE_TIMEOUT"
)

type EnvVars struct{}

var _ Config = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Civic Client")
}

// GetBaseURL returns the API root all paths are resolved against
// (e.g. "https://api.city.example/api").
func (EnvVars) GetBaseURL() string {
	return GetEnv(baseURLVar, "http://localhost:4000/api")
}

func (EnvVars) GetRequestTimeout() time.Duration {
	return getDuration(requestTimeoutVar, 15*time.Second)
}

// GetRefreshThreshold is the remaining-lifetime floor below which a proactive
// token refresh is scheduled.
func (EnvVars) GetRefreshThreshold() time.Duration {
	return getDuration(refreshThresholdVar, 5*time.Minute)
}

func (EnvVars) GetRefreshCheckInterval() time.Duration {
	return getDuration(refreshCheckIntervalVar, 5*time.Minute)
}

// GetIdleTimeout is how long a session may sit without user activity before
// the client logs out locally.
func (EnvVars) GetIdleTimeout() time.Duration {
	return getDuration(idleTimeoutVar, 30*time.Minute)
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func getDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
