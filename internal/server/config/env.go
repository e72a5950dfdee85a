package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dmitrijs2005/gatekeeper/internal/timex"
)

const envPrefix = "GATEKEEPER_"

// envFile names the dotenv file loaded before the environment is read.
// Variables already present in the environment win over the file.
func envFile() string {
	if p := os.Getenv(envPrefix + "ENV_FILE"); p != "" {
		return p
	}
	return ".env"
}

// parseEnv overlays GATEKEEPER_* variables on config. Variables that are not
// set leave the current value untouched.
func parseEnv(config *Config) error {
	if err := godotenv.Load(envFile()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}

	opts := env.Options{
		Prefix: envPrefix,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(time.Duration(0)): func(v string) (interface{}, error) {
				return timex.ParseDuration(v)
			},
		},
	}
	if err := env.ParseWithOptions(config, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
