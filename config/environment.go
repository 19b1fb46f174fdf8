package config

import (
	"os"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

const (
	// EnvironmentDevelopment exposes the canonical development environment
	// identifier for callers outside the config package.
	EnvironmentDevelopment = environmentDevelopment
	// EnvironmentProduction exposes the canonical production environment
	// identifier.
	EnvironmentProduction = environmentProduction
	// EnvironmentStaging exposes the canonical staging environment
	// identifier.
	EnvironmentStaging = environmentStaging
)

const defaultConfigPath = "config/config.yml"

var environmentAliases = map[string]string{
	"prod": environmentProduction,
	"stag": environmentStaging,
}

var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

// getAppEnvironment reads the application environment from APP_ENV and
// defaults to development when no value is provided.
func getAppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// ResolveConfigPath selects an environment specific configuration file when
// one exists for the current environment and the caller did not ask for a
// custom path.
func ResolveConfigPath(path string) string {
	if path == "" {
		path = defaultConfigPath
	}
	env := getAppEnvironment()
	envPath, ok := envConfigPaths[env]
	if !ok || path != defaultConfigPath {
		return path
	}
	if _, err := os.Stat(envPath); err != nil {
		return path
	}
	return envPath
}

// AppEnvironment exposes the current application environment as configured
// through the APP_ENV environment variable.
func AppEnvironment() string {
	return getAppEnvironment()
}

// IsProductionLike reports whether the provided environment should behave
// like a production deployment. Production-like environments are stricter
// about configuration errors such as a missing dedup ledger path.
func IsProductionLike(env string) bool {
	switch env {
	case environmentProduction, environmentStaging:
		return true
	default:
		return false
	}
}
