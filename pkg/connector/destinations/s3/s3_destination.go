// Package s3 provides a sink that writes every committed batch as one
// JSON lines object to an S3 bucket.
package s3

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/base"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/destinations/compressed"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Credential keys
const (
	CredBucket          = "bucket"
	CredRegion          = "region"
	CredEndpoint        = "endpoint"
	CredAccessKeyID     = "aws_access_key_id"
	CredSecretAccessKey = "aws_secret_access_key"
	CredSessionToken    = "aws_session_token"
)

const (
	defaultRegion         = "us-east-1"
	defaultUploadPartSize = 5 * 1024 * 1024 // 5MB
)

// uploader is the part of manager.Uploader the sink uses
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// bucketAPI is the part of the S3 client the sink uses
type bucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Destination is the S3 sink
type S3Destination struct {
	*base.BaseConnector

	bucket   string
	encoder  *compressed.ObjectEncoder
	uploader uploader
	client   bucketAPI
	now      func() time.Time
}

// NewS3Destination creates the sink and checks that the bucket is reachable
func NewS3Destination(ctx context.Context, cfg *config.BaseConfig) (*S3Destination, error) {
	d, err := newDestination(cfg)
	if err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, &cfg.Security)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "loading AWS configuration")
	}
	endpoint := cfg.Security.Credential(CredEndpoint, "")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	d.client = client
	d.uploader = manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = defaultUploadPartSize
	})

	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func newDestination(cfg *config.BaseConfig) (*S3Destination, error) {
	bucket := cfg.Security.Credential(CredBucket, "")
	if bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 bucket is required")
	}
	encoder, err := compressed.NewObjectEncoder(cfg)
	if err != nil {
		return nil, err
	}
	return &S3Destination{
		BaseConnector: base.NewBaseConnector(cfg.Name, core.ConnectorTypeDestination, "1.0.0", cfg),
		bucket:        bucket,
		encoder:       encoder,
		now:           time.Now,
	}, nil
}

func loadAWSConfig(ctx context.Context, sec *config.SecurityConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(sec.Credential(CredRegion, defaultRegion)),
	}
	if id := sec.Credential(CredAccessKeyID, ""); id != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			id, sec.Credential(CredSecretAccessKey, ""), sec.Credential(CredSessionToken, ""))))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

func (d *S3Destination) connect(ctx context.Context) error {
	return d.ConnectWithRetry(ctx, "s3://"+d.bucket, func(ctx context.Context) error {
		_, err := d.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.bucket)})
		return err
	})
}

// BeginTx opens a transaction buffered in memory and uploaded on commit
func (d *S3Destination) BeginTx(ctx context.Context) (core.Tx, error) {
	return base.NewBufferedTx(d.upload), nil
}

func (d *S3Destination) upload(ctx context.Context, rows []core.Row) error {
	start := time.Now()
	body, err := d.encoder.Encode(rows)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePersistence, "encoding batch")
	}

	key := d.encoder.Key(d.now())
	input := &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(d.encoder.ContentType()),
		Metadata: map[string]string{
			"records": strconv.Itoa(len(rows)),
			"source":  "loki",
		},
	}
	if enc := d.encoder.ContentEncoding(); enc != "" {
		input.ContentEncoding = aws.String(enc)
	}

	if _, err := d.uploader.Upload(ctx, input); err != nil {
		return errors.Wrap(err, errors.ErrorTypePersistence, "uploading batch to s3").
			WithDetail("bucket", d.bucket).
			WithDetail("key", key)
	}

	d.GetLogger().Debug("batch uploaded to s3",
		zap.String("key", key),
		zap.Int("records", len(rows)),
		zap.Int("bytes", len(body)),
		zap.Duration("took", time.Since(start)))
	return nil
}

// Close releases nothing; uploads finish inside Commit
func (d *S3Destination) Close(ctx context.Context) error {
	d.SetState(core.StateStopped)
	return nil
}
