package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "FOCUSSYNC_"

// dotenvFile is loaded before the environment is read. Variables already
// present in the process environment win over the file.
var dotenvFile = ".env"

// parseEnv overlays Config with FOCUSSYNC_* variables. Malformed numbers and
// booleans panic, matching the JSON and flag loaders.
func parseEnv(cfg *Config) {
	if err := godotenv.Load(dotenvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				panic(err)
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				panic(err)
			}
			*dst = d
		}
	}

	str("STORE_DRIVER", &cfg.StoreDriver)
	str("STORE_DSN", &cfg.StoreDSN)
	str("TRANSPORT", &cfg.Transport)
	str("PEER_LISTEN", &cfg.PeerListen)
	str("ADVERTISE_ADDR", &cfg.AdvertiseAddr)
	str("API_ADDR", &cfg.APIAddr)
	str("KDF", &cfg.KDF)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FILE", &cfg.LogFile)
	boolean("LOG_JSON", &cfg.LogJSON)
	boolean("AUTO_SYNC", &cfg.AutoSync)
	duration("SYNC_INTERVAL", &cfg.SyncInterval)
	duration("COMPLETED_DISPLAY", &cfg.CompletedDisplay)
	duration("SESSION_TIMEOUT", &cfg.SessionTimeout)

	if v, ok := os.LookupEnv(envPrefix + "KDF_ITERATIONS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			panic(err)
		}
		cfg.KDFIterations = n
	}
	if v, ok := os.LookupEnv(envPrefix + "PEERS"); ok {
		cfg.PeerAddrs = splitList(v)
	}

	str("S3_REGION", &cfg.S3.Region)
	str("S3_ENDPOINT", &cfg.S3.Endpoint)
	str("S3_ACCESS_KEY", &cfg.S3.AccessKey)
	str("S3_SECRET_KEY", &cfg.S3.SecretKey)
	str("S3_BUCKET", &cfg.S3.Bucket)
	str("S3_PREFIX", &cfg.S3.Prefix)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
