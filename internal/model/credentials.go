package model

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const DotEnvFile = ".env"

// credentialEnv maps credential keys to the environment variables the agent reads.
var credentialEnv = map[string]string{
	"api_key":    EnvAPIKey,
	"project_id": EnvProjectID,
	"url":        EnvURL,
}

// ResolveCredentials layers the credential sources, lowest precedence first:
// configuration file, <projectDir>/.env and the process environment.
// Presence is not validated here, see Credentials.Validate.
func ResolveCredentials(cfg Watsonx, projectDir string) (Credentials, error) {
	v := viper.New()
	v.SetDefault("api_key", cfg.APIKey)
	v.SetDefault("project_id", cfg.ProjectID)
	v.SetDefault("url", cfg.URL)

	if projectDir != "" {
		dotenv, err := godotenv.Read(filepath.Join(projectDir, DotEnvFile))
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Credentials{}, fmt.Errorf("reading %s: %w", DotEnvFile, err)
		default:
			m := make(map[string]any)
			for key, env := range credentialEnv {
				if val, ok := dotenv[env]; ok && val != "" {
					m[key] = val
				}
			}
			if err := v.MergeConfigMap(m); err != nil {
				return Credentials{}, fmt.Errorf("merging %s: %w", DotEnvFile, err)
			}
		}
	}

	for key, env := range credentialEnv {
		if err := v.BindEnv(key, env); err != nil {
			return Credentials{}, err
		}
	}

	return Credentials{
		APIKey:    v.GetString("api_key"),
		ProjectID: v.GetString("project_id"),
		URL:       v.GetString("url"),
	}, nil
}
