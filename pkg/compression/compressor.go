// Package compression compresses the batches written by object-store and file
// sinks. One committed batch becomes one compressed frame, so concatenated
// frames written by successive commits remain readable by the matching
// streaming decoder.
//
// # Algorithm Selection
//
//   - Snappy/S2: fast, moderate ratio
//   - LZ4: fastest, decent ratio
//   - Zstd: best ratio, good speed; the usual choice for archives
//   - Gzip/Deflate: widest tool support
//
// # Basic Usage
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Zstd,
//	    Level:     compression.Better,
//	})
//	compressed, err := comp.Compress(batch)
//	key := "logs/batch-0001.jsonl" + comp.Extension()
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy compression (framed format)
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 compression (frame format)
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
	// Deflate represents raw deflate compression
	Deflate Algorithm = "deflate"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

// ParseAlgorithm maps a config string to an Algorithm. "" means None.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return None, nil
	case None, Gzip, Snappy, LZ4, Zstd, S2, Deflate:
		return a, nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", s)
	}
}

// ParseLevel maps a config string to a Level. "" means Default.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return Default, nil
	case "fastest":
		return Fastest, nil
	case "better":
		return Better, nil
	case "best":
		return Best, nil
	default:
		return 0, fmt.Errorf("unsupported compression level: %s", s)
	}
}

// Compressor compresses whole batches. Implementations are safe for concurrent use.
type Compressor interface {
	// Compress returns data as one self-contained frame
	Compress(data []byte) ([]byte, error)

	// Decompress reads a stream of one or more frames
	Decompress(data []byte) ([]byte, error)

	// Algorithm returns the compression algorithm used
	Algorithm() Algorithm

	// Extension returns the file suffix for the algorithm, including the dot
	Extension() string
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm
	Level     Level
}

// DefaultConfig returns no compression
func DefaultConfig() *Config {
	return &Config{Algorithm: None, Level: Default}
}

// NewCompressor creates a new compressor based on the provided configuration.
// If config is nil, default configuration is used.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Algorithm {
	case None, "":
		return noneCompressor{}, nil
	case Gzip:
		return newGzipCompressor(config.Level), nil
	case Snappy:
		return snappyCompressor{}, nil
	case LZ4:
		return lz4Compressor{level: mapLZ4Level(config.Level)}, nil
	case Zstd:
		return newZstdCompressor(config.Level)
	case S2:
		return s2Compressor{}, nil
	case Deflate:
		return deflateCompressor{level: mapFlateLevel(config.Level)}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", config.Algorithm)
	}
}

// compressWith writes data through the writer produced by open and returns the bytes
func compressWith(data []byte, open func(w io.Writer) (io.WriteCloser, error)) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) / 2)
	w, err := open(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil { //nolint:gosec // G110: inputs are our own batches
		return nil, err
	}
	return buf.Bytes(), nil
}

type noneCompressor struct{}

func (noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noneCompressor) Algorithm() Algorithm                   { return None }
func (noneCompressor) Extension() string                      { return "" }

type gzipCompressor struct {
	level      int
	writerPool sync.Pool
}

func newGzipCompressor(level Level) *gzipCompressor {
	gc := &gzipCompressor{level: mapFlateLevel(level)}
	gc.writerPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, gc.level)
		return w
	}
	return gc
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)

	return compressWith(data, func(dst io.Writer) (io.WriteCloser, error) {
		w.Reset(dst)
		return w, nil
	})
}

// Decompress handles concatenated gzip members
func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readAll(r)
}

func (gc *gzipCompressor) Algorithm() Algorithm { return Gzip }
func (gc *gzipCompressor) Extension() string    { return ".gz" }

type snappyCompressor struct{}

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return compressWith(data, func(dst io.Writer) (io.WriteCloser, error) {
		return snappy.NewBufferedWriter(dst), nil
	})
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	return readAll(snappy.NewReader(bytes.NewReader(data)))
}

func (snappyCompressor) Algorithm() Algorithm { return Snappy }
func (snappyCompressor) Extension() string    { return ".sz" }

type lz4Compressor struct {
	level lz4.CompressionLevel
}

func (lc lz4Compressor) Compress(data []byte) ([]byte, error) {
	return compressWith(data, func(dst io.Writer) (io.WriteCloser, error) {
		w := lz4.NewWriter(dst)
		if err := w.Apply(lz4.CompressionLevelOption(lc.level)); err != nil {
			return nil, err
		}
		return w, nil
	})
}

func (lc lz4Compressor) Decompress(data []byte) ([]byte, error) {
	return readAll(lz4.NewReader(bytes.NewReader(data)))
}

func (lc lz4Compressor) Algorithm() Algorithm { return LZ4 }
func (lc lz4Compressor) Extension() string    { return ".lz4" }

// zstdCompressor shares one encoder and decoder; EncodeAll and DecodeAll are
// safe for concurrent use.
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCompressor(level Level) (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(mapZstdLevel(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return zc.enc.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	return zc.dec.DecodeAll(data, nil)
}

func (zc *zstdCompressor) Algorithm() Algorithm { return Zstd }
func (zc *zstdCompressor) Extension() string    { return ".zst" }

type s2Compressor struct{}

func (s2Compressor) Compress(data []byte) ([]byte, error) {
	return compressWith(data, func(dst io.Writer) (io.WriteCloser, error) {
		return s2.NewWriter(dst), nil
	})
}

func (s2Compressor) Decompress(data []byte) ([]byte, error) {
	return readAll(s2.NewReader(bytes.NewReader(data)))
}

func (s2Compressor) Algorithm() Algorithm { return S2 }
func (s2Compressor) Extension() string    { return ".s2" }

// deflateCompressor emits raw deflate, which has no framing; Decompress only
// reads a single batch.
type deflateCompressor struct {
	level int
}

func (dc deflateCompressor) Compress(data []byte) ([]byte, error) {
	return compressWith(data, func(dst io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(dst, dc.level)
	})
}

func (dc deflateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return readAll(r)
}

func (dc deflateCompressor) Algorithm() Algorithm { return Deflate }
func (dc deflateCompressor) Extension() string    { return ".deflate" }

func mapFlateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Better:
		return 7
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Better:
		return lz4.Level7
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
