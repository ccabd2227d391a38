package config

import "time"

// Config exposes everything the client needs from the environment. Kept as an
// interface so tests can swap in fixed values without touching env vars.
type Config interface {
	GetAppName() string
	GetBaseURL() string
	GetRequestTimeout() time.Duration
	GetRefreshThreshold() time.Duration
	GetRefreshCheckInterval() time.Duration
	GetIdleTimeout() time.Duration
	GetEnv() string
}

type mainConfig struct {
	EnvVars
}

func New() Config {
	return mainConfig{}
}
