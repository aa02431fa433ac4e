package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

const (
	EnvDataDir   = "PEDALSTAT_DATA"
	EnvOutputDir = "PEDALSTAT_OUT"
)

// LoadEnv reads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv replaces the output and data directories with the environment
// defaults when those are set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.Output.DataDir = v
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.Output.Dir = v
	}
}

// DataDir is the stored-runs directory for commands that have no study.
func DataDir() string {
	if v := os.Getenv(EnvDataDir); v != "" {
		return v
	}
	return DefaultDataDir
}
