// Package compressed renders committed batches as JSON lines objects,
// optionally compressed, and names them. The object-store sinks (s3, gcs)
// and the jsonl file sink share it.
package compressed

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/compression"
	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"github.com/ajitpratap0/lokitail/pkg/json"
)

// Partitioning strategies for object keys
const (
	PartitionNone   = "none"
	PartitionDaily  = "daily"
	PartitionHourly = "hourly"
)

// Credential keys read by NewObjectEncoder
const (
	CredPrefix    = "prefix"
	CredPartition = "partition"
)

// ObjectEncoder turns one batch into one object body and key
type ObjectEncoder struct {
	compressor compression.Compressor
	prefix     string
	name       string
	partition  string
	seq        atomic.Uint64
}

// NewObjectEncoder reads compression from the advanced section and the key
// layout from the prefix and partition credentials.
func NewObjectEncoder(cfg *config.BaseConfig) (*ObjectEncoder, error) {
	algorithm, err := compression.ParseAlgorithm(cfg.Advanced.CompressionAlgorithm)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression algorithm")
	}
	level, err := compression.ParseLevel(cfg.Advanced.CompressionLevel)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression level")
	}
	compressor, err := compression.NewCompressor(&compression.Config{Algorithm: algorithm, Level: level})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "creating compressor")
	}

	partition := cfg.Security.Credential(CredPartition, PartitionDaily)
	switch partition {
	case PartitionNone, PartitionDaily, PartitionHourly:
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown partition strategy %q", partition)
	}

	return &ObjectEncoder{
		compressor: compressor,
		prefix:     strings.Trim(cfg.Security.Credential(CredPrefix, ""), "/"),
		name:       cfg.Name,
		partition:  partition,
	}, nil
}

// Encode renders rows as newline-delimited JSON and compresses the result
func (e *ObjectEncoder) Encode(rows []core.Row) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range rows {
		if err := json.WriteRaw(&buf, r.Data); err != nil {
			return nil, err
		}
	}
	return e.compressor.Compress(buf.Bytes())
}

// Key names the object for a batch committed at now. Keys are unique per
// encoder and sort by commit time.
func (e *ObjectEncoder) Key(now time.Time) string {
	now = now.UTC()
	seq := e.seq.Add(1)

	var parts []string
	if e.prefix != "" {
		parts = append(parts, e.prefix)
	}
	switch e.partition {
	case PartitionDaily:
		parts = append(parts, fmt.Sprintf("year=%d/month=%02d/day=%02d", now.Year(), now.Month(), now.Day()))
	case PartitionHourly:
		parts = append(parts, fmt.Sprintf("year=%d/month=%02d/day=%02d/hour=%02d", now.Year(), now.Month(), now.Day(), now.Hour()))
	}
	parts = append(parts, fmt.Sprintf("%s_%s_%09d_%06d%s",
		e.name, now.Format("20060102T150405"), now.Nanosecond(), seq, e.Extension()))
	return path.Join(parts...)
}

// Extension is the file extension of encoded objects
func (e *ObjectEncoder) Extension() string {
	return ".jsonl" + e.compressor.Extension()
}

// ContentType is the media type of encoded objects
func (e *ObjectEncoder) ContentType() string {
	if e.compressor.Algorithm() == compression.None {
		return "application/x-ndjson"
	}
	return "application/octet-stream"
}

// ContentEncoding is the HTTP content encoding of encoded objects, or ""
func (e *ObjectEncoder) ContentEncoding() string {
	switch e.compressor.Algorithm() {
	case compression.Gzip:
		return "gzip"
	case compression.Zstd:
		return "zstd"
	default:
		return ""
	}
}

// Compressor returns the compressor used for object bodies
func (e *ObjectEncoder) Compressor() compression.Compressor {
	return e.compressor
}
