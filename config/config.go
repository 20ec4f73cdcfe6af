// Package config loads the YAML configuration a graphpool deployment is
// built from, mirroring the teacher's config package: a plain struct
// decoded with yaml.v3, a validated Check(), and a DesensitizedCopy() that
// keeps credentials out of logs.
package config

import (
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cdfmlr/ellipsis"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cdfmlr/graphpool/pool"
	"github.com/cdfmlr/graphpool/transport"
)

// Config is the on-disk shape of a pool's construction parameters (spec
// §6). Durations are expressed in seconds, matching spec §6's "(seconds,
// default ...)" convention.
type Config struct {
	URI         string            `yaml:"uri" validate:"required"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Namespace   string            `yaml:"namespace"`
	Database    string            `yaml:"database"`
	TLS         *TLSConfig        `yaml:"tls"`

	MinSize int `yaml:"minSize" validate:"required,min=1"`
	MaxSize int `yaml:"maxSize" validate:"required,gtefield=MinSize"`

	ConnectionTimeoutSeconds   float64 `yaml:"connectionTimeoutSeconds"`
	AcquisitionTimeoutSeconds  float64 `yaml:"acquisitionTimeoutSeconds"`
	MaxIdleTimeSeconds         float64 `yaml:"maxIdleTimeSeconds"`
	MaxLifetimeSeconds         float64 `yaml:"maxLifetimeSeconds"`
	MaxUsageCount              int     `yaml:"maxUsageCount"`
	HealthCheckIntervalSeconds float64 `yaml:"healthCheckIntervalSeconds"`
	HealthCheckSchedule        string  `yaml:"healthCheckSchedule"`
	RetryAttempts              int     `yaml:"retryAttempts"`
	RetryDelaySeconds          float64 `yaml:"retryDelaySeconds"`

	ResetOnReturn   bool   `yaml:"resetOnReturn"`
	SchemaBootstrap string `yaml:"schemaBootstrap"`
}

// CredentialsConfig is the on-disk shape of transport.Credentials.
type CredentialsConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
}

// TLSConfig enables TLS for the transport when present (spec §6
// "tls_config (optional; when present, transport must use TLS)").
type TLSConfig struct {
	InsecureSkipVerify bool `yaml:"insecureSkipVerify"`
}

var validate = validator.New()

// Check validates struct tags and cross-field constraints (min_size >= 1,
// max_size >= min_size). It does not apply defaults: call WithDefaults
// first if you want spec §6's defaults for zero-valued duration fields.
func (c *Config) Check() error {
	return validate.Struct(c)
}

// WithDefaults fills zero-valued duration/count fields with spec §6's
// defaults, leaving required fields (URI, MinSize, MaxSize) untouched.
func (c Config) WithDefaults() Config {
	d := pool.DefaultConfig()
	if c.ConnectionTimeoutSeconds == 0 {
		c.ConnectionTimeoutSeconds = d.ConnectionTimeout.Seconds()
	}
	if c.AcquisitionTimeoutSeconds == 0 {
		c.AcquisitionTimeoutSeconds = d.AcquisitionTimeout.Seconds()
	}
	if c.MaxIdleTimeSeconds == 0 {
		c.MaxIdleTimeSeconds = d.MaxIdleTime.Seconds()
	}
	if c.MaxLifetimeSeconds == 0 {
		c.MaxLifetimeSeconds = d.MaxLifetime.Seconds()
	}
	if c.MaxUsageCount == 0 {
		c.MaxUsageCount = d.MaxUsageCount
	}
	if c.HealthCheckIntervalSeconds == 0 {
		c.HealthCheckIntervalSeconds = d.HealthCheckInterval.Seconds()
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryDelaySeconds == 0 {
		c.RetryDelaySeconds = d.RetryDelay.Seconds()
	}
	return c
}

// ToPoolConfig converts the YAML-shaped Config into a pool.Config.
func (c Config) ToPoolConfig() pool.Config {
	return pool.Config{
		MinSize:             c.MinSize,
		MaxSize:             c.MaxSize,
		ConnectionTimeout:   secondsToDuration(c.ConnectionTimeoutSeconds),
		AcquisitionTimeout:  secondsToDuration(c.AcquisitionTimeoutSeconds),
		MaxIdleTime:         secondsToDuration(c.MaxIdleTimeSeconds),
		MaxLifetime:         secondsToDuration(c.MaxLifetimeSeconds),
		MaxUsageCount:       c.MaxUsageCount,
		HealthCheckInterval: secondsToDuration(c.HealthCheckIntervalSeconds),
		HealthCheckSchedule: c.HealthCheckSchedule,
		RetryAttempts:       c.RetryAttempts,
		RetryDelay:          secondsToDuration(c.RetryDelaySeconds),
		ResetOnReturn:       c.ResetOnReturn,
		Namespace:           c.Namespace,
		Database:            c.Database,
		SchemaBootstrap:     c.SchemaBootstrap,
	}
}

// ToTransportConfig converts the YAML-shaped Config into a transport.Config
// a Connector can be built from.
func (c Config) ToTransportConfig() transport.Config {
	var tlsCfg *tls.Config
	if c.TLS != nil {
		tlsCfg = &tls.Config{InsecureSkipVerify: c.TLS.InsecureSkipVerify}
	}
	return transport.Config{
		URI: c.URI,
		Credentials: transport.Credentials{
			Username: c.Credentials.Username,
			Password: c.Credentials.Password,
			Token:    c.Credentials.Token,
		},
		Namespace:         c.Namespace,
		Database:          c.Database,
		TLSConfig:         tlsCfg,
		ConnectionTimeout: secondsToDuration(c.ConnectionTimeoutSeconds),
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// DesensitizedCopy returns a deep copy of c with credentials redacted, so
// it is safe to log (mirrors the teacher's config.DesensitizedCopy).
func (c *Config) DesensitizedCopy() *Config {
	cp := *c
	cp.Credentials.Password = ellipsis.Centering(cp.Credentials.Password, 3)
	cp.Credentials.Token = ellipsis.Centering(cp.Credentials.Token, 3)
	return &cp
}

// ReadFromYaml reads and decodes a Config from a YAML file.
func ReadFromYaml(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read decodes a Config from r.
func Read(r io.Reader) (*Config, error) {
	var c Config
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &c, nil
}

// ExampleConfig returns a representative configuration for docs/demos.
func ExampleConfig() Config {
	return Config{
		URI: "ws://localhost:8000/rpc",
		Credentials: CredentialsConfig{
			Username: "root",
			Password: "root",
		},
		Namespace:                  "app",
		Database:                   "main",
		MinSize:                    2,
		MaxSize:                    10,
		ConnectionTimeoutSeconds:   5,
		AcquisitionTimeoutSeconds:  10,
		MaxIdleTimeSeconds:         300,
		MaxLifetimeSeconds:         3600,
		MaxUsageCount:              1000,
		HealthCheckIntervalSeconds: 30,
		RetryAttempts:              3,
		RetryDelaySeconds:          1,
		ResetOnReturn:              true,
	}
}
