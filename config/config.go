// Package config reads the swarm localization settings from a JSON file.
package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/dronefleet/swarmloc/fuser"
	"github.com/dronefleet/swarmloc/logging"
	"github.com/dronefleet/swarmloc/outlierrejection"
)

// Config is the full settings file. Sections left out of the file keep their defaults, as do keys
// left out of a section.
type Config struct {
	Fuser            fuser.Config            `json:"fuser"`
	OutlierRejection outlierrejection.Config `json:"outlier_rejection"`
	Log              LogConfig               `json:"log"`
}

// LogConfig selects the log level and an optional rotating log file.
type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Fuser:            fuser.DefaultConfig(),
		OutlierRejection: outlierrejection.DefaultConfig(),
		Log:              LogConfig{Level: "info"},
	}
}

// Read reads a config from the given file, expanding environment variables first.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", filePath)
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from r. originalPath is only used in error messages.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %s", originalPath)
	}

	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      &cfg,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrapf(err, "cannot decode config %s", originalPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", originalPath)
	}
	return &cfg, nil
}

// Validate returns every problem with the config, prefixed by its section.
func (c Config) Validate() error {
	var errs error
	if err := c.Fuser.Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "fuser"))
	}
	if err := c.OutlierRejection.Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "outlier_rejection"))
	}
	if c.Log.Level != "" {
		if _, err := logging.LevelFromString(c.Log.Level); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "log"))
		}
	}
	return errs
}

// NewLogger returns a logger writing to out and, when configured, to the log file. A nil out
// writes to stdout.
func (c LogConfig) NewLogger(name string, out io.Writer) (logging.Logger, error) {
	return logging.NewLoggerWithConfig(name, c.Level, c.File, out)
}
