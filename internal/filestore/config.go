package filestore

import (
	"time"

	"github.com/koustreak/objgate/internal/errs"
)

// Provider identifies the file storage backend.
type Provider string

const (
	ProviderMinIO  Provider = "minio"
	ProviderS3     Provider = "s3"
	ProviderMemory Provider = "memory"
)

// Config holds all settings needed to connect to a file storage backend.
type Config struct {
	// Provider is the storage backend (e.g. ProviderMinIO).
	Provider Provider `yaml:"provider"`

	// Endpoint is the storage server address.
	// MinIO takes host:port ("localhost:9000"); S3 takes an optional URL
	// override ("http://localhost:4566"), empty meaning the AWS endpoint.
	Endpoint string `yaml:"endpoint"`

	// AccessKey is the access key ID (MinIO / S3 style).
	AccessKey string `yaml:"access_key"`

	// SecretKey is the secret access key.
	SecretKey string `yaml:"secret_key"`

	// UseSSL controls whether TLS is used for the MinIO connection.
	UseSSL bool `yaml:"use_ssl"`

	// Region is used by region-aware backends (AWS S3, MinIO with regions).
	Region string `yaml:"region"`

	// PathStyle forces path-style addressing. Always on when an S3
	// endpoint override is set.
	PathStyle bool `yaml:"path_style"`

	// PresignTTL is the default lifetime of presigned URLs.
	PresignTTL time.Duration `yaml:"presign_ttl"`
}

// DefaultConfig returns a local-dev config for MinIO.
func DefaultConfig(endpoint, accessKey, secretKey string) *Config {
	return &Config{
		Provider:   ProviderMinIO,
		Endpoint:   endpoint,
		AccessKey:  accessKey,
		SecretKey:  secretKey,
		Region:     "us-east-1",
		PresignTTL: 10 * time.Minute,
	}
}

// Validate reports configuration mistakes before any connection is made.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderMemory:
		return nil
	case ProviderMinIO:
		if c.Endpoint == "" {
			return errs.New(errs.ErrKindInvalidInput, "minio provider requires an endpoint")
		}
	case ProviderS3:
		if c.Region == "" {
			return errs.New(errs.ErrKindInvalidInput, "s3 provider requires a region")
		}
	default:
		return errs.Invalidf("unknown storage provider %q", c.Provider)
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errs.New(errs.ErrKindInvalidInput, "storage credentials are required")
	}
	return nil
}
