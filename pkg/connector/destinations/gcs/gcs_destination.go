// Package gcs provides a sink that writes every committed batch as one
// JSON lines object to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/base"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/destinations/compressed"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Credential keys
const (
	CredBucket          = "bucket"
	CredProjectID       = "project_id"
	CredCredentialsFile = "credentials_file"
	CredEndpoint        = "endpoint"
)

const defaultUploadTimeout = 5 * time.Minute

// objectAttrs is what the sink sets on every object
type objectAttrs struct {
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string
}

// objectStore is the slice of the GCS API the sink needs
type objectStore interface {
	// Exists checks the bucket is reachable
	Exists(ctx context.Context) error
	// Put writes body under key in one request
	Put(ctx context.Context, key string, body []byte, attrs objectAttrs) error
	Close() error
}

type bucketStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

func (b *bucketStore) Exists(ctx context.Context) error {
	_, err := b.bucket.Attrs(ctx)
	return err
}

func (b *bucketStore) Put(ctx context.Context, key string, body []byte, attrs objectAttrs) error {
	w := b.bucket.Object(key).NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.ContentEncoding = attrs.ContentEncoding
	w.Metadata = attrs.Metadata
	// single request upload
	w.ChunkSize = 0

	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (b *bucketStore) Close() error {
	return b.client.Close()
}

// GCSDestination is the GCS sink
type GCSDestination struct {
	*base.BaseConnector

	bucket        string
	encoder       *compressed.ObjectEncoder
	store         objectStore
	uploadTimeout time.Duration
	now           func() time.Time
}

// NewGCSDestination creates the sink and checks that the bucket is reachable
func NewGCSDestination(ctx context.Context, cfg *config.BaseConfig) (*GCSDestination, error) {
	d, err := newDestination(cfg)
	if err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if file := cfg.Security.Credential(CredCredentialsFile, ""); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	if endpoint := cfg.Security.Credential(CredEndpoint, ""); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "creating gcs client")
	}
	bucket := client.Bucket(d.bucket)
	if project := cfg.Security.Credential(CredProjectID, ""); project != "" {
		bucket = bucket.UserProject(project)
	}
	d.store = &bucketStore{client: client, bucket: bucket}

	if err := d.connect(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return d, nil
}

func newDestination(cfg *config.BaseConfig) (*GCSDestination, error) {
	bucket := cfg.Security.Credential(CredBucket, "")
	if bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "gcs bucket is required")
	}
	encoder, err := compressed.NewObjectEncoder(cfg)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeouts.Request
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	return &GCSDestination{
		BaseConnector: base.NewBaseConnector(cfg.Name, core.ConnectorTypeDestination, "1.0.0", cfg),
		bucket:        bucket,
		encoder:       encoder,
		uploadTimeout: timeout,
		now:           time.Now,
	}, nil
}

func (d *GCSDestination) connect(ctx context.Context) error {
	return d.ConnectWithRetry(ctx, "gs://"+d.bucket, d.store.Exists)
}

// BeginTx opens a transaction buffered in memory and uploaded on commit
func (d *GCSDestination) BeginTx(ctx context.Context) (core.Tx, error) {
	return base.NewBufferedTx(d.upload), nil
}

func (d *GCSDestination) upload(ctx context.Context, rows []core.Row) error {
	body, err := d.encoder.Encode(rows)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePersistence, "encoding batch")
	}

	ctx, cancel := context.WithTimeout(ctx, d.uploadTimeout)
	defer cancel()

	key := d.encoder.Key(d.now())
	err = d.store.Put(ctx, key, body, objectAttrs{
		ContentType:     d.encoder.ContentType(),
		ContentEncoding: d.encoder.ContentEncoding(),
		Metadata:        map[string]string{"records": strconv.Itoa(len(rows)), "source": "loki"},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePersistence, "uploading batch to gcs").
			WithDetail("bucket", d.bucket).
			WithDetail("key", key)
	}

	d.GetLogger().Debug("batch uploaded to gcs",
		zap.String("key", key),
		zap.Int("records", len(rows)),
		zap.Int("bytes", len(body)))
	return nil
}

// Close closes the storage client
func (d *GCSDestination) Close(ctx context.Context) error {
	d.SetState(core.StateStopped)
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}
