package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"

	defaultConfigPath = "config.yml"
)

const (
	// EnvironmentDevelopment exposes the canonical development environment
	// identifier.
	EnvironmentDevelopment = environmentDevelopment
	EnvironmentProduction  = environmentProduction
	EnvironmentStaging     = environmentStaging
)

var environmentAliases = map[string]string{
	"prod":        environmentProduction,
	"producation": environmentProduction,
	"stag":        environmentStaging,
	"stagging":    environmentStaging,
	"dev":         environmentDevelopment,
}

var envConfigPaths = map[string]string{
	environmentProduction: "config.production.yml",
	environmentStaging:    "config.staging.yml",
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

// ResolvePath selects an environment specific configuration file when the
// caller asked for the default one and a variant exists for APP_ENV.
func ResolvePath(path string) string {
	if path == "" {
		path = defaultConfigPath
	}
	if path != defaultConfigPath {
		return path
	}
	envPath, ok := envConfigPaths[getAppEnvironment()]
	if !ok {
		return path
	}
	if _, err := os.Stat(envPath); err != nil {
		return path
	}
	return envPath
}

// AppEnvironment exposes the normalised APP_ENV value.
func AppEnvironment() string {
	return getAppEnvironment()
}

// IsProductionLike reports whether the provided environment should behave like
// a production deployment. Production-like environments refuse to trade on the
// testnet venue by accident and log in JSON.
func IsProductionLike(env string) bool {
	switch env {
	case environmentProduction, environmentStaging:
		return true
	default:
		return false
	}
}

const (
	VenueTestnet = "testnet"
	VenueReal    = "real"
)

// Venue describes one Binance spot deployment.
type Venue struct {
	Name      string
	RESTURL   string
	WSURL     string
	KeyEnv    string
	SecretEnv string
}

var venues = map[string]Venue{
	VenueTestnet: {
		Name:      VenueTestnet,
		RESTURL:   "https://testnet.binance.vision",
		WSURL:     "wss://testnet.binance.vision/ws",
		KeyEnv:    "BINANCE_TESTNET_API_KEY",
		SecretEnv: "BINANCE_TESTNET_API_SECRET",
	},
	VenueReal: {
		Name:      VenueReal,
		RESTURL:   "https://api.binance.com",
		WSURL:     "wss://stream.binance.com:9443/ws",
		KeyEnv:    "BINANCE_REAL_API_KEY",
		SecretEnv: "BINANCE_REAL_API_SECRET",
	},
}

// LookupVenue returns the venue registered under name.
func LookupVenue(name string) (Venue, error) {
	v, ok := venues[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Venue{}, configErr("exchange.environment", fmt.Sprintf("unknown venue %q, use %q or %q", name, VenueTestnet, VenueReal))
	}
	return v, nil
}
