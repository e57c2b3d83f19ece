package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Credentials struct {
	Selector   string
	APIKey     string
	APISecret  string
	Passphrase string
}

func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.APISecret != "" && c.Passphrase != ""
}

// LoadEnv reads a .env file into the process environment. Missing files are
// ignored and variables that are already set win over the file.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// LoadCredentials resolves the credential set for selector from the
// environment: BITGET_<SELECTOR>_API_KEY, _API_SECRET and _PASSPHRASE.
// An empty selector reads BITGET_API_KEY and friends.
func LoadCredentials(selector string) (Credentials, error) {
	sel := strings.ToUpper(strings.TrimSpace(selector))
	prefix := "BITGET_"
	if sel != "" {
		prefix += sel + "_"
	}
	creds := Credentials{
		Selector:   sel,
		APIKey:     strings.TrimSpace(os.Getenv(prefix + "API_KEY")),
		APISecret:  strings.TrimSpace(os.Getenv(prefix + "API_SECRET")),
		Passphrase: strings.TrimSpace(os.Getenv(prefix + "PASSPHRASE")),
	}
	if !creds.Complete() {
		return creds, fmt.Errorf("credentials %sAPI_KEY, %sAPI_SECRET and %sPASSPHRASE are required", prefix, prefix, prefix)
	}
	return creds, nil
}
