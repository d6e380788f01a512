package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Credentials is the API key pair for one venue. It is built once at startup
// and passed by value to the trading client.
type Credentials struct {
	APIKey    string
	APISecret string
}

// String never prints the secret.
func (c Credentials) String() string {
	if c.APIKey == "" {
		return "Credentials{}"
	}
	key := c.APIKey
	if len(key) > 4 {
		key = key[:4] + "****"
	}
	return "Credentials{APIKey:" + key + "}"
}

// LoadDotEnv populates the process environment from the given files. Missing
// files are ignored so deployments can rely on real environment variables.
// Variables already set are never overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// LoadCredentials reads the key pair for venue from the environment.
func LoadCredentials(venue Venue) (Credentials, error) {
	creds := Credentials{
		APIKey:    strings.TrimSpace(os.Getenv(venue.KeyEnv)),
		APISecret: strings.TrimSpace(os.Getenv(venue.SecretEnv)),
	}
	if creds.APIKey == "" {
		return Credentials{}, configErr(venue.KeyEnv, "is not set")
	}
	if creds.APISecret == "" {
		return Credentials{}, configErr(venue.SecretEnv, "is not set")
	}
	return creds, nil
}
