package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// Dir is the metadata folder kept at the root of every managed project.
	Dir = ".upgrader"
	// File is the config file name inside Dir and on the remote.
	File = "config.yaml"
)

// required keys, in the order they are validated.
var required = []string{
	"version",
	"description",
	"hash_db",
	"startup_path",
	"required_only",
	"cleanup",
}

// Config describes a project release, both locally and on the remote.
type Config struct {
	Version      string `yaml:"version" json:"version"`
	Description  string `yaml:"description" json:"description"`
	StartupPath  string `yaml:"startup_path" json:"startup_path"`
	RequiredOnly bool   `yaml:"required_only" json:"required_only"`
	Cleanup      bool   `yaml:"cleanup" json:"cleanup"`
	HashDB       string `yaml:"hash_db" json:"hash_db"`
}

func Default() Config {
	return Config{
		Version:      "1.0.0",
		Description:  "Built with upgrader",
		StartupPath:  "",
		RequiredOnly: false,
		Cleanup:      false,
		HashDB:       "hash.db",
	}
}

// Parse decodes and validates a yaml config. Every required key must be
// present, even if it holds the zero value.
func Parse(data []byte) (*Config, error) {
	var raw map[string]interface{}

	err := yaml.Unmarshal(data, &raw)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode config")
	}

	for _, key := range required {
		if _, ok := raw[key]; !ok {
			log.WithFields(log.Fields{
				"key": key,
			}).Warn("invalid config")

			return nil, errors.Errorf("missing %q attribute", key)
		}
	}

	var cfg Config

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode config")
	}

	log.Trace("config is valid")

	return &cfg, nil
}

func Load(path string) (*Config, error) {
	log.WithFields(log.Fields{
		"path": path,
	}).Debug("loading config")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config: %s", path)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid config: %s", path)
	}

	return cfg, nil
}

func Write(path string, cfg Config) error {
	log.WithFields(log.Fields{
		"path": path,
	}).Debug("writing config")

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "cannot encode config")
	}

	return errors.Wrapf(os.WriteFile(path, data, 0o644), "cannot write config: %s", path)
}

// Normalize replaces backslashes with forward slashes and drops trailing
// slashes.
func Normalize(path string) string {
	return strings.TrimRight(strings.ReplaceAll(path, "\\", "/"), "/")
}

func NormalizeAll(paths []string) []string {
	ret := make([]string, len(paths))

	for i, path := range paths {
		ret[i] = Normalize(path)
	}

	return ret
}
