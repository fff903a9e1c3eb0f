// Package s3relay is a store-and-forward peer transport over an
// S3-compatible bucket. The bucket only ever sees device descriptors and
// encrypted envelopes:
//
//	<prefix>devices/<deviceID>.json    descriptor with pairing credential
//	<prefix>envelopes/<deviceID>.json  the device's latest offer
//
// Exchange uploads the local offer and downloads the peer's latest one, so a
// peer's data is as fresh as its last cycle.
package s3relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/focussync/internal/common"
	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/logging"
	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/dmitrijs2005/focussync/internal/peer"
)

const (
	devicesDir   = "devices/"
	envelopesDir = "envelopes/"
)

// API is the subset of the S3 client the relay needs.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// NewAPI builds an S3 client for cfg using static credentials. A custom
// endpoint (MinIO and friends) switches to path-style addressing.
func NewAPI(ctx context.Context, cfg Config) (*s3.Client, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Relay implements peer.Transport on top of API.
type Relay struct {
	api    API
	bucket string
	prefix string
	logger logging.Logger

	mu   sync.RWMutex
	self peer.Responder
}

var _ peer.Transport = (*Relay)(nil)

func New(api API, bucket, prefix string, l logging.Logger) *Relay {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Relay{api: api, bucket: bucket, prefix: prefix, logger: l.With("module", "s3relay")}
}

// Attach sets the local responder whose descriptor is published on every
// discovery.
func (r *Relay) Attach(self peer.Responder) {
	r.mu.Lock()
	r.self = self
	r.mu.Unlock()
}

func (r *Relay) key(dir, id string) string {
	return r.prefix + dir + id + ".json"
}

func (r *Relay) put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = r.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %w", common.ErrPeerUnavailable, key, err)
	}
	return nil
}

func (r *Relay) get(ctx context.Context, key string, v any) error {
	out, err := r.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return fmt.Errorf("%w: %s not found", common.ErrPeerUnavailable, key)
		}
		return fmt.Errorf("%w: get %s: %w", common.ErrPeerUnavailable, key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Discover publishes the local descriptor and lists every published one.
func (r *Relay) Discover(ctx context.Context) ([]models.Device, error) {
	r.mu.RLock()
	self := r.self
	r.mu.RUnlock()

	if self != nil {
		d, err := self.Describe(ctx)
		if err != nil {
			return nil, err
		}
		if err := r.put(ctx, r.key(devicesDir, d.ID), d); err != nil {
			return nil, err
		}
	}

	var out []models.Device
	p := s3.NewListObjectsV2Paginator(r.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(r.prefix + devicesDir),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list devices: %w", common.ErrPeerUnavailable, err)
		}
		for _, obj := range page.Contents {
			var d models.Device
			if err := r.get(ctx, aws.ToString(obj.Key), &d); err != nil {
				r.logger.Warn(ctx, "skipping unreadable device descriptor", "key", aws.ToString(obj.Key), "error", err)
				continue
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// Exchange uploads offer and returns the last envelope that to has published.
func (r *Relay) Exchange(ctx context.Context, to models.Device, offer peer.Offer) (*cryptox.Envelope, error) {
	if offer.From.ID == "" || offer.Envelope == nil {
		return nil, fmt.Errorf("%w: incomplete offer", common.ErrorValidation)
	}
	if err := r.put(ctx, r.key(envelopesDir, offer.From.ID), offer); err != nil {
		return nil, err
	}

	var theirs peer.Offer
	if err := r.get(ctx, r.key(envelopesDir, to.ID), &theirs); err != nil {
		return nil, err
	}
	if theirs.From.ID != to.ID || theirs.Envelope == nil {
		return nil, fmt.Errorf("%w: envelope for %s does not belong to it", cryptox.ErrDecryption, to.ID)
	}
	return theirs.Envelope, nil
}

func (r *Relay) Close() error { return nil }
