package config

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/dmitrijs2005/focussync/internal/syncer"
	"github.com/go-playground/validator/v10"
)

const (
	TransportGRPC = "grpc"
	TransportS3   = "s3"
)

// S3Config configures the S3 relay transport.
type S3Config struct {
	Region    string
	Endpoint  string `validate:"omitempty,url"`
	AccessKey string
	SecretKey string
	Bucket    string `validate:"required_if=Enabled true"`
	Prefix    string

	// Enabled is derived from the transport kind; it is not read from any source.
	Enabled bool
}

// Config holds runtime settings for the sync agent and the CLI.
//
// Units: intervals are time.Duration; flags take them in seconds.
type Config struct {
	StoreDriver string `validate:"oneof=memory sqlite postgres"`
	StoreDSN    string `validate:"required_unless=StoreDriver memory"`

	Transport     string   `validate:"oneof=grpc s3"`
	PeerListen    string   `validate:"required_if=Transport grpc"`
	PeerAddrs     []string `validate:"dive,hostname_port"`
	AdvertiseAddr string

	// APIAddr is where the status API listens; empty disables it.
	APIAddr string `validate:"omitempty,hostname_port"`

	AutoSync         bool
	SyncInterval     time.Duration `validate:"min=0"`
	CompletedDisplay time.Duration `validate:"min=0"`
	SessionTimeout   time.Duration `validate:"min=0"`

	KDF           string `validate:"oneof=pbkdf2-sha256 argon2id"`
	KDFIterations int    `validate:"min=0"`

	S3 S3Config

	LogLevel string `validate:"oneof=debug info warn warning error"`
	LogFile  string
	LogJSON  bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.StoreDriver = "sqlite"
	c.StoreDSN = "focussync.db"
	c.Transport = TransportGRPC
	c.PeerListen = ":47600"
	c.PeerAddrs = nil
	c.APIAddr = "127.0.0.1:47601"
	c.AutoSync = true
	c.SyncInterval = models.DefaultSyncInterval
	c.CompletedDisplay = syncer.DefaultCompletedDisplay
	c.SessionTimeout = syncer.DefaultSessionTimeout
	c.KDF = cryptox.KDFPBKDF2
	c.KDFIterations = cryptox.Iterations
	c.S3 = S3Config{Region: "us-east-1", Bucket: "focussync"}
	c.LogLevel = "info"
	c.LogFile = ""
	c.LogJSON = false
}

// KDFParams returns the key derivation choice for new sync keys.
func (c *Config) KDFParams() cryptox.Params {
	return cryptox.Params{KDF: c.KDF, Iterations: c.KDFIterations}
}

// Validate checks field constraints after all sources were applied.
func (c *Config) Validate() error {
	c.S3.Enabled = c.Transport == TransportS3
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// the environment (including a .env file), JSON (if present) and command-line
// flags (if present). Later sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
