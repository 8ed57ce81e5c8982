package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/dmitrijs2005/gophdrop/internal/flagx"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const defaultEnvFile = ".env"

// parseEnv loads the dotenv file named by -env (or ./.env when present) into
// the process environment and then reads GOPHDROP_* variables. Variables that
// are already set win over the file. Unset variables leave cfg untouched.
func parseEnv(cfg *Config) error {
	path := flagx.EnvFileFlag()
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}

	if err := godotenv.Load(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	return nil
}
