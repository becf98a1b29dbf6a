// Package config loads runtime settings from an optional YAML file, a .env
// file and MAE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pbaille/mae/internal/apperr"
)

type Config struct {
	Database struct {
		Path string `yaml:"path"` // empty means in-memory
	} `yaml:"database"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Agreement struct {
		Delimiter  string `yaml:"delimiter"`   // between document and annotator in file names
		GoldSymbol string `yaml:"gold_symbol"` // annotator name of the gold standard
		UseGold    bool   `yaml:"use_gold"`
	} `yaml:"agreement"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Fetch struct {
		Timeout  time.Duration `yaml:"timeout"`
		MaxBytes int64         `yaml:"max_bytes"`
	} `yaml:"fetch"`
}

// Default returns the settings used when no file is given
func Default() *Config {
	var cfg Config
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Agreement.Delimiter = "_"
	cfg.Agreement.GoldSymbol = "GOLD"
	cfg.Server.Addr = "localhost:8080"
	cfg.Fetch.Timeout = 30 * time.Second
	cfg.Fetch.MaxBytes = 5 << 20
	return &cfg
}

// Load reads path over the defaults. A missing file is not an error when
// path is empty.
func Load(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	cfg := Default()

	// 2. Load YAML config
	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, apperr.NewNotFound("config file", path)
			}
			return nil, apperr.NewIO("read", path, err)
		}
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, &apperr.ParseError{Format: "YAML", Path: path, Message: err.Error(), Err: err}
		}
	}

	// 3. Override with Environment Variables if present
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MAE_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("MAE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("MAE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("MAE_DELIMITER"); v != "" {
		c.Agreement.Delimiter = v
	}
	if v := os.Getenv("MAE_GOLD_SYMBOL"); v != "" {
		c.Agreement.GoldSymbol = v
	}
	if v := os.Getenv("MAE_USE_GOLD"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.NewValidation("MAE_USE_GOLD", err.Error())
		}
		c.Agreement.UseGold = b
	}
	if v := os.Getenv("MAE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("MAE_FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return apperr.NewValidation("MAE_FETCH_TIMEOUT", err.Error())
		}
		c.Fetch.Timeout = d
	}
	return nil
}
