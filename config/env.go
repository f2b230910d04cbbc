package config

import "os"

const (
	appEnvKey    = "APP_ENV"
	defaultEnv   = "development"
)

// AppEnv returns the active environment profile name (the YAML file this
// process loads config from, e.g. "development", "staging", "production"),
// defaulting when APP_ENV is unset.
func AppEnv() string {
	if v := os.Getenv(appEnvKey); v != "" {
		return v
	}
	return defaultEnv
}
