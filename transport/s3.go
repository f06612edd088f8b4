package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/imbuddy/docupload/chunk"
)

// S3Params configures S3Transport.
type S3Params struct {
	Bucket string
	Region string
	// Prefix is prepended to every object key.
	Prefix string
	// Endpoint overrides the AWS endpoint for S3 compatible stores. Path style addressing is used with it.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// Extension is appended to chunk object names, usually Compressor.Extension().
	Extension string
	// ContentEncoding is stored on every object, usually Compressor.Name().
	ContentEncoding string
}

// S3Transport stores every compressed chunk as its own object.
type S3Transport struct {
	uploader *manager.Uploader
	params   S3Params
	logger   log.Logger
}

// NewS3Transport loads AWS configuration and creates an S3Transport.
func NewS3Transport(ctx context.Context, params S3Params, logger log.Logger) (*S3Transport, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	client := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3TransportWithClient(client, params, logger), nil
}

// NewS3TransportWithClient creates an S3Transport over an existing client.
func NewS3TransportWithClient(client *s3.Client, params S3Params, logger log.Logger) *S3Transport {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		// default sized chunks, even incompressible ones, go out as a single PutObject
		u.PartSize = 2 * chunk.DefaultChunkSize
		u.Concurrency = 1
		u.ClientOptions = append(u.ClientOptions, func(o *s3.Options) {
			o.RetryMaxAttempts = 1
		})
	})

	return &S3Transport{
		uploader: uploader,
		params:   params,
		logger:   logger,
	}
}

// ObjectKey returns <prefix>/<jobId>/<fileName>/chunk-<index>-of-<total><ext>.
func ObjectKey(prefix string, meta chunk.Metadata, ext string) string {
	name := fmt.Sprintf("chunk-%04d-of-%04d%s", meta.ChunkIndex, meta.TotalChunks, ext)
	jobID := meta.JobID
	if jobID == "" {
		jobID = "unassigned"
	}
	return path.Join(prefix, jobID, meta.FileName, name)
}

// Send puts data into the bucket in a single attempt.
func (t *S3Transport) Send(ctx context.Context, data []byte, meta chunk.Metadata) (Ack, error) {
	if err := validate(data, meta); err != nil {
		return Ack{}, err
	}

	key := ObjectKey(t.params.Prefix, meta, t.params.Extension)
	t.logger.Debugf("Putting chunk %d/%d to s3://%s/%s", meta.ChunkIndex, meta.TotalChunks, t.params.Bucket, key)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(t.params.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"job-id":          meta.JobID,
			"file-name":       meta.FileName,
			"chunk-index":     strconv.Itoa(meta.ChunkIndex),
			"total-chunks":    strconv.Itoa(meta.TotalChunks),
			"original-size":   strconv.FormatInt(meta.OriginalSize, 10),
			"compressed-size": strconv.FormatInt(meta.CompressedSize, 10),
		},
	}
	if t.params.ContentEncoding != "" {
		input.ContentEncoding = aws.String(t.params.ContentEncoding)
	}

	out, err := t.uploader.Upload(ctx, input)
	if err != nil {
		var apiError smithy.APIError
		if errors.As(err, &apiError) {
			return Ack{}, fmt.Errorf("%w: put chunk %d/%d of %s: %s: %s", ErrUploadFailed, meta.ChunkIndex, meta.TotalChunks, meta.FileName, apiError.ErrorCode(), apiError.ErrorMessage())
		}
		return Ack{}, fmt.Errorf("%w: put chunk %d/%d of %s: %w", ErrUploadFailed, meta.ChunkIndex, meta.TotalChunks, meta.FileName, err)
	}

	return Ack{ChunkIndex: meta.ChunkIndex, Location: out.Location}, nil
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
