package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/focussync/internal/flagx"
	"github.com/dmitrijs2005/focussync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer fields
// tell "absent" apart from zero so a partial file only overrides what it
// names.
type JsonConfig struct {
	StoreDriver      *string         `json:"store_driver"`
	StoreDSN         *string         `json:"store_dsn"`
	Transport        *string         `json:"transport"`
	PeerListen       *string         `json:"peer_listen"`
	PeerAddrs        []string        `json:"peers"`
	AdvertiseAddr    *string         `json:"advertise_addr"`
	APIAddr          *string         `json:"api_addr"`
	AutoSync         *bool           `json:"auto_sync"`
	SyncInterval     *timex.Duration `json:"sync_interval"`
	CompletedDisplay *timex.Duration `json:"completed_display"`
	SessionTimeout   *timex.Duration `json:"session_timeout"`
	KDF              *string         `json:"kdf"`
	KDFIterations    *int            `json:"kdf_iterations"`
	LogLevel         *string         `json:"log_level"`
	LogFile          *string         `json:"log_file"`
	LogJSON          *bool           `json:"log_json"`

	S3 *struct {
		Region    *string `json:"region"`
		Endpoint  *string `json:"endpoint"`
		AccessKey *string `json:"access_key"`
		SecretKey *string `json:"secret_key"`
		Bucket    *string `json:"bucket"`
		Prefix    *string `json:"prefix"`
	} `json:"s3"`
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// parseJson overlays Config with values from the file named by -c or -config.
// Read or unmarshal errors panic.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	set(&cfg.StoreDriver, jc.StoreDriver)
	set(&cfg.StoreDSN, jc.StoreDSN)
	set(&cfg.Transport, jc.Transport)
	set(&cfg.PeerListen, jc.PeerListen)
	set(&cfg.AdvertiseAddr, jc.AdvertiseAddr)
	set(&cfg.APIAddr, jc.APIAddr)
	set(&cfg.AutoSync, jc.AutoSync)
	set(&cfg.KDF, jc.KDF)
	set(&cfg.KDFIterations, jc.KDFIterations)
	set(&cfg.LogLevel, jc.LogLevel)
	set(&cfg.LogFile, jc.LogFile)
	set(&cfg.LogJSON, jc.LogJSON)
	if jc.PeerAddrs != nil {
		cfg.PeerAddrs = jc.PeerAddrs
	}

	if jc.SyncInterval != nil {
		cfg.SyncInterval = jc.SyncInterval.Duration
	}
	if jc.CompletedDisplay != nil {
		cfg.CompletedDisplay = jc.CompletedDisplay.Duration
	}
	if jc.SessionTimeout != nil {
		cfg.SessionTimeout = jc.SessionTimeout.Duration
	}

	if s := jc.S3; s != nil {
		set(&cfg.S3.Region, s.Region)
		set(&cfg.S3.Endpoint, s.Endpoint)
		set(&cfg.S3.AccessKey, s.AccessKey)
		set(&cfg.S3.SecretKey, s.SecretKey)
		set(&cfg.S3.Bucket, s.Bucket)
		set(&cfg.S3.Prefix, s.Prefix)
	}
}
