package satchel

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the file form of an attachment definition and its replication.
//
//	cache: cache
//	store: store
//	concurrency: 8
//	versions: [original, thumb]
//	keep: {replaced: false, destroyed: false}
//	validate: {max_size: 10485760, mime_types: [image/png, image/jpeg]}
//	mirrors:
//	  mirrors: {store: [store_eu]}
//	  upload: true
//	  delete: true
//	backup: {storage: archive, delete: false}
type Config struct {
	Cache         string         `yaml:"cache"`
	Store         string         `yaml:"store"`
	Concurrency   int            `yaml:"concurrency"`
	Versions      []string       `yaml:"versions"`
	Derivatives   bool           `yaml:"derivatives"`
	MovePromotion bool           `yaml:"move_promotion"`
	Keep          KeepPolicy     `yaml:"keep"`
	Validate      ValidateConfig `yaml:"validate"`
	Mirrors       MirrorConfig   `yaml:"mirrors"`
	Backup        *BackupConfig  `yaml:"backup"`
}

// ValidateConfig declares the built-in validators.
type ValidateConfig struct {
	MaxSize    int64    `yaml:"max_size"`
	MinSize    int64    `yaml:"min_size"`
	MimeTypes  []string `yaml:"mime_types"`
	Extensions []string `yaml:"extensions"`
}

// LoadConfig reads a YAML config file. ${VAR} references are expanded from
// the environment. A missing or empty file yields the zero Config.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return ParseConfig([]byte(os.ExpandEnv(string(data))))
}

// ParseConfig decodes a YAML config document. Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if cfg.Derivatives && len(cfg.Versions) > 0 {
		return Config{}, errors.New("parse config file: versions and derivatives are exclusive")
	}
	return cfg, nil
}

// Options converts the config into attachment options.
// Backup is included as a stage when configured.
func (c Config) Options() []Option {
	var opts []Option
	if c.Cache != "" {
		opts = append(opts, WithCache(c.Cache))
	}
	if c.Store != "" {
		opts = append(opts, WithStore(c.Store))
	}
	if c.Concurrency > 0 {
		opts = append(opts, WithConcurrency(c.Concurrency))
	}
	switch {
	case c.Derivatives:
		opts = append(opts, WithSchema(Derivatives()))
	case len(c.Versions) > 0:
		opts = append(opts, WithSchema(Versions(c.Versions...)))
	}
	if c.MovePromotion {
		opts = append(opts, WithMovePromotion())
	}
	opts = append(opts, WithKeep(c.Keep))

	var validators []Validator
	if c.Validate.MaxSize > 0 {
		validators = append(validators, MaxSize(c.Validate.MaxSize))
	}
	if c.Validate.MinSize > 0 {
		validators = append(validators, MinSize(c.Validate.MinSize))
	}
	if len(c.Validate.MimeTypes) > 0 {
		validators = append(validators, AllowMimeTypes(c.Validate.MimeTypes...))
	}
	if len(c.Validate.Extensions) > 0 {
		validators = append(validators, AllowExtensions(c.Validate.Extensions...))
	}
	if len(validators) > 0 {
		opts = append(opts, WithValidators(validators...))
	}

	if c.Backup != nil && c.Backup.Storage != "" {
		opts = append(opts, WithStages(Backup(*c.Backup)))
	}
	return opts
}

// Replicator builds the mirror middleware for the config.
// Returns nil when no mirrors are declared.
func (c Config) Replicator(opts ...ReplicatorOption) (*Replicator, error) {
	if len(c.Mirrors.Mirrors) == 0 {
		return nil, nil
	}
	return NewReplicator(c.Mirrors, opts...)
}
