// Package json provides JSON serialization backed by goccy/go-json with
// pooled buffers for the connector's hot paths.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

// maxPooledBuffer bounds the buffers returned to the pool
const maxPooledBuffer = 1024 * 1024

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// RawMessage is a raw encoded JSON value
type RawMessage = gojson.RawMessage

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		return
	}
	bufferPool.Put(buf)
}

// Marshal is a drop-in replacement for encoding/json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// MarshalString marshals v and returns the encoding as a string
func MarshalString(v interface{}) (string, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}

	// Encode appends a newline
	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return string(out), nil
}

// Unmarshal is a drop-in replacement for encoding/json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// Valid reports whether data is a valid JSON encoding
func Valid(data []byte) bool {
	return gojson.Valid(data)
}

// LinesEncoder writes one JSON document per line
type LinesEncoder struct {
	enc *gojson.Encoder
}

// NewLinesEncoder creates an encoder writing line-delimited JSON to w
func NewLinesEncoder(w io.Writer) *LinesEncoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &LinesEncoder{enc: enc}
}

// Encode writes v followed by a newline
func (le *LinesEncoder) Encode(v interface{}) error {
	return le.enc.Encode(v)
}

// WriteRaw writes an already-encoded document followed by a newline
func WriteRaw(w io.Writer, doc []byte) error {
	if _, err := w.Write(doc); err != nil {
		return err
	}
	_, err := w.Write([]byte{'\n'})
	return err
}
