package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/focussync/internal/flagx"
)

var knownFlags = []string{
	"-s", "-d", "-t", "-l", "-p", "-w", "-a", "-i", "-k",
	"-auto", "-log-level", "-log-file", "-log-json",
	"-s3-bucket", "-s3-endpoint", "-s3-region", "-s3-prefix",
}

// parseFlags populates Config fields from command-line flags. os.Args is
// filtered to the flags handled here so -c/-config and unrelated flags do
// not trip the parser. Parse errors panic.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.StoreDriver, "s", cfg.StoreDriver, "store driver: memory, sqlite or postgres")
	fs.StringVar(&cfg.StoreDSN, "d", cfg.StoreDSN, "store DSN (sqlite file or postgres URL)")
	fs.StringVar(&cfg.Transport, "t", cfg.Transport, "peer transport: grpc or s3")
	fs.StringVar(&cfg.PeerListen, "l", cfg.PeerListen, "address the gRPC peer server listens on")
	fs.StringVar(&cfg.AdvertiseAddr, "w", cfg.AdvertiseAddr, "address advertised to peers")
	fs.StringVar(&cfg.APIAddr, "a", cfg.APIAddr, "status API address, empty to disable")
	fs.StringVar(&cfg.KDF, "k", cfg.KDF, "key derivation: pbkdf2-sha256 or argon2id")

	peers := flagx.StringList{}
	fs.Var(&peers, "p", "peer address host:port, repeatable or comma separated")

	interval := fs.Int("i", int(cfg.SyncInterval.Seconds()), "auto-sync interval (in seconds)")
	fs.BoolVar(&cfg.AutoSync, "auto", cfg.AutoSync, "sync periodically")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "rotate logs into this file instead of stdout")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "log in JSON")

	fs.StringVar(&cfg.S3.Bucket, "s3-bucket", cfg.S3.Bucket, "S3 relay bucket")
	fs.StringVar(&cfg.S3.Endpoint, "s3-endpoint", cfg.S3.Endpoint, "S3 compatible endpoint URL")
	fs.StringVar(&cfg.S3.Region, "s3-region", cfg.S3.Region, "S3 region")
	fs.StringVar(&cfg.S3.Prefix, "s3-prefix", cfg.S3.Prefix, "S3 key prefix shared by one group of devices")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "i" {
			cfg.SyncInterval = time.Duration(*interval) * time.Second
		}
	})
	if len(peers) > 0 {
		cfg.PeerAddrs = peers
	}
}
