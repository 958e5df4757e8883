package json

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalString_NoTrailingNewlineNoHTMLEscape(t *testing.T) {
	s, err := MarshalString(map[string]string{"line": "<b>x</b> & y"})
	require.NoError(t, err)
	assert.Equal(t, `{"line":"<b>x</b> & y"}`, s)
}

func TestLinesEncoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewLinesEncoder(&buf)
	require.NoError(t, enc.Encode(map[string]int{"a": 1}))
	require.NoError(t, WriteRaw(&buf, []byte(`{"b":2}`)))
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n", buf.String())
}

func TestBufferPool(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("leftover")
	PutBuffer(buf)
	assert.Equal(t, 0, GetBuffer().Len())
}

func TestUnmarshalAndValid(t *testing.T) {
	var v struct {
		Streams []map[string]interface{} `json:"streams"`
	}
	require.NoError(t, Unmarshal([]byte(`{"streams":[{"stream":{}}]}`), &v))
	assert.Len(t, v.Streams, 1)
	assert.True(t, Valid([]byte(`[1,2]`)))
	assert.False(t, Valid([]byte(`{`)))
}
