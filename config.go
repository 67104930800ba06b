package sqlx

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PoolConfig is the YAML-loadable shape of a Pool's constructor
// arguments, mirroring the library's functional options. It exists
// for applications that prefer to keep connection parameters in a
// config file rather than call-site Go code.
type PoolConfig struct {
	DSN            string        `yaml:"dsn"`
	MaxConnections int           `yaml:"max_connections"`
	MinIdle        int           `yaml:"min_idle"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
}

// poolConfigFile is the on-disk document: environment name to
// PoolConfig, the same "one file, many environments" shape the
// teacher's CLI config used.
type poolConfigFile struct {
	Environments map[string]*PoolConfig `yaml:",inline"`
}

// LoadPoolConfig reads path as YAML and returns the PoolConfig under
// env. path holds one or more named environments at its top level,
// e.g.:
//
//	development:
//	  dsn: "postgres://localhost/app_dev"
//	  max_connections: 5
//	production:
//	  dsn: "postgres://prod-host/app"
//	  max_connections: 50
//	  min_idle: 10
func LoadPoolConfig(path, env string) (*PoolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sqlx: read pool config %s: %w", path, err)
	}

	var file poolConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("sqlx: parse pool config %s: %w", path, err)
	}

	cfg, ok := file.Environments[env]
	if !ok {
		return nil, fmt.Errorf("sqlx: environment %q not found in %s", env, path)
	}
	return cfg, nil
}

// Options converts a PoolConfig into the PoolOption slice NewPool
// expects, omitting zero-valued fields so NewPool's own defaults
// apply.
func (c *PoolConfig) Options() []PoolOption {
	var opts []PoolOption
	if c.MaxConnections > 0 {
		opts = append(opts, WithMaxConnections(c.MaxConnections))
	}
	if c.MinIdle > 0 {
		opts = append(opts, WithMinIdle(c.MinIdle))
	}
	if c.AcquireTimeout > 0 {
		opts = append(opts, WithAcquireTimeout(c.AcquireTimeout))
	}
	if c.IdleTimeout > 0 {
		opts = append(opts, WithIdleTimeout(c.IdleTimeout))
	}
	if c.MaxLifetime > 0 {
		opts = append(opts, WithMaxLifetime(c.MaxLifetime))
	}
	return opts
}
