// Package config loads client construction settings from the environment
// and an optional YAML file. Environment variables use the APITRAIL_
// prefix (APITRAIL_API_KEY, APITRAIL_BATCH_SIZE, ...) and take precedence
// over the file. Unset values are left zero so the client's own defaults
// apply.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/apitrail/apitrail-go/internal/runtime"
)

const envPrefix = "APITRAIL_"

// Config mirrors the client's construction options.
type Config struct {
	APIKey             string        `koanf:"api_key"`
	Endpoint           string        `koanf:"endpoint"`
	FlushInterval      time.Duration `koanf:"flush_interval"`
	BatchSize          int           `koanf:"batch_size"`
	MaxBufferSize      int           `koanf:"max_buffer_size"`
	MaxStorageBytes    int64         `koanf:"max_storage_bytes"`
	MaxEventBytes      int           `koanf:"max_event_bytes"`
	StoragePath        string        `koanf:"storage_path"`
	Debug              bool          `koanf:"debug"`
	CollectQueryString bool          `koanf:"collect_query_string"`
	Compress           bool          `koanf:"compress"`
	SendTimeout        time.Duration `koanf:"send_timeout"`
}

// Load reads the optional YAML file at path (skipped when path is empty)
// and then overlays APITRAIL_-prefixed environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Options converts the loaded configuration into client options, emitting
// only the settings that were actually provided.
func (c *Config) Options() []runtime.Option {
	opts := []runtime.Option{runtime.WithAPIKey(c.APIKey)}

	if c.Endpoint != "" {
		opts = append(opts, runtime.WithEndpoint(c.Endpoint))
	}
	if c.FlushInterval != 0 {
		opts = append(opts, runtime.WithFlushInterval(c.FlushInterval))
	}
	if c.BatchSize != 0 {
		opts = append(opts, runtime.WithBatchSize(c.BatchSize))
	}
	if c.MaxBufferSize != 0 {
		opts = append(opts, runtime.WithMaxBufferSize(c.MaxBufferSize))
	}
	if c.MaxStorageBytes != 0 {
		opts = append(opts, runtime.WithMaxStorageBytes(c.MaxStorageBytes))
	}
	if c.MaxEventBytes != 0 {
		opts = append(opts, runtime.WithMaxEventBytes(c.MaxEventBytes))
	}
	if c.StoragePath != "" {
		opts = append(opts, runtime.WithStoragePath(c.StoragePath))
	}
	if c.Debug {
		opts = append(opts, runtime.WithDebug(true))
	}
	if c.CollectQueryString {
		opts = append(opts, runtime.WithCollectQueryString(true))
	}
	if c.Compress {
		opts = append(opts, runtime.WithCompression(true))
	}
	if c.SendTimeout != 0 {
		opts = append(opts, runtime.WithSendTimeout(c.SendTimeout))
	}

	return opts
}
