// Package config reads the docupload configuration from the environment.
package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/imbuddy/docupload/chunk"
	"github.com/imbuddy/docupload/poll"
)

// Environment variables read by Load.
const (
	APIURLKey           = "DOCUPLOAD_API_URL"
	ChunkSizeKey        = "DOCUPLOAD_CHUNK_SIZE"
	CompressionKey      = "DOCUPLOAD_COMPRESSION"
	CompressionLevelKey = "DOCUPLOAD_COMPRESSION_LEVEL"
	PollIntervalKey     = "DOCUPLOAD_POLL_INTERVAL"
	TransportKey        = "DOCUPLOAD_TRANSPORT"
	S3BucketKey         = "DOCUPLOAD_S3_BUCKET"
	S3RegionKey         = "DOCUPLOAD_S3_REGION"
	S3PrefixKey         = "DOCUPLOAD_S3_PREFIX"
	S3EndpointKey       = "DOCUPLOAD_S3_ENDPOINT"
	AccessKeyIDKey      = "AWS_ACCESS_KEY_ID"
	SecretAccessKeyKey  = "AWS_SECRET_ACCESS_KEY"
	VerboseKey          = "DOCUPLOAD_VERBOSE"
)

// Transport kinds.
const (
	TransportHTTP = "http"
	TransportS3   = "s3"
)

// Secret is a value that is never printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// S3Config ...
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     Secret
	SecretAccessKey Secret
}

// Config ...
type Config struct {
	APIURL           string
	ChunkSize        int64
	Compression      string
	CompressionLevel int
	PollInterval     time.Duration
	Transport        string
	S3               S3Config
	Verbose          bool
}

// Load reads and validates the configuration.
func Load(envRepo env.Repository) (Config, error) {
	apiURL := strings.TrimSpace(envRepo.Get(APIURLKey))
	if apiURL == "" {
		return Config{}, fmt.Errorf("the variable '%s' is not defined", APIURLKey)
	}

	chunkSize := chunk.DefaultChunkSize
	if v := envRepo.Get(ChunkSizeKey); v != "" {
		size, err := units.RAMInBytes(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", ChunkSizeKey, err)
		}
		if size <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive, got %s", ChunkSizeKey, v)
		}
		chunkSize = size
	}

	compression := strings.ToLower(envRepo.Get(CompressionKey))
	if compression == "" {
		compression = chunk.CompressionGzip
	}

	level := 0
	if v := envRepo.Get(CompressionLevelKey); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", CompressionLevelKey, err)
		}
		level = l
	}
	// rejects unknown codecs and out of range levels
	compressor, err := chunk.NewCompressor(compression, level)
	if err != nil {
		return Config{}, fmt.Errorf("invalid compression settings: %w", err)
	}
	if closer, ok := compressor.(io.Closer); ok {
		_ = closer.Close()
	}

	interval := poll.DefaultConfig().Interval
	if v := envRepo.Get(PollIntervalKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", PollIntervalKey, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive, got %s", PollIntervalKey, v)
		}
		interval = d
	}

	verbose := false
	if v := envRepo.Get(VerboseKey); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", VerboseKey, err)
		}
		verbose = b
	}

	config := Config{
		APIURL:           apiURL,
		ChunkSize:        chunkSize,
		Compression:      compression,
		CompressionLevel: level,
		PollInterval:     interval,
		Transport:        strings.ToLower(envRepo.Get(TransportKey)),
		Verbose:          verbose,
	}

	switch config.Transport {
	case "":
		config.Transport = TransportHTTP
	case TransportHTTP:
	case TransportS3:
		config.S3 = S3Config{
			Bucket:          envRepo.Get(S3BucketKey),
			Region:          envRepo.Get(S3RegionKey),
			Prefix:          envRepo.Get(S3PrefixKey),
			Endpoint:        envRepo.Get(S3EndpointKey),
			AccessKeyID:     Secret(envRepo.Get(AccessKeyIDKey)),
			SecretAccessKey: Secret(envRepo.Get(SecretAccessKeyKey)),
		}
		if config.S3.Bucket == "" {
			return Config{}, fmt.Errorf("the variable '%s' is required by the s3 transport", S3BucketKey)
		}
	default:
		return Config{}, fmt.Errorf("invalid %s: %s (options: %s, %s)", TransportKey, config.Transport, TransportHTTP, TransportS3)
	}

	return config, nil
}

// Print logs the configuration with secrets redacted.
func (c Config) Print(logger log.Logger) {
	logger.Infof("Configuration:")
	logger.Printf("- API URL: %s", c.APIURL)
	logger.Printf("- Chunk size: %s", units.BytesSize(float64(c.ChunkSize)))
	logger.Printf("- Compression: %s (level %d)", c.Compression, c.CompressionLevel)
	logger.Printf("- Poll interval: %s", c.PollInterval)
	logger.Printf("- Transport: %s", c.Transport)
	if c.Transport == TransportS3 {
		logger.Printf("- S3 bucket: %s", c.S3.Bucket)
		logger.Printf("- S3 region: %s", c.S3.Region)
		logger.Printf("- S3 prefix: %s", c.S3.Prefix)
		logger.Printf("- S3 endpoint: %s", c.S3.Endpoint)
		logger.Printf("- AWS access key ID: %s", c.S3.AccessKeyID)
		logger.Printf("- AWS secret access key: %s", c.S3.SecretAccessKey)
	}
	logger.Printf("- Verbose: %t", c.Verbose)
}
