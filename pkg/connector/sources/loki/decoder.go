package loki

import (
	"fmt"

	"github.com/ajitpratap0/lokitail/pkg/errors"
	"github.com/ajitpratap0/lokitail/pkg/json"
)

// resultTypeStreams is the only range query result type that carries log lines
const resultTypeStreams = "streams"

// NormalizedRecord is one log line with the labels of the stream it came from.
// Its JSON encoding is the row stored in the sink.
type NormalizedRecord struct {
	Timestamp string            `json:"timestamp"`
	Line      string            `json:"line"`
	Labels    map[string]string `json:"labels"`
}

// Decoded is the result of decoding one payload
type Decoded struct {
	Records []NormalizedRecord
	// DroppedEntries is the number of entries Loki reported as dropped from
	// a tail message. Range query responses never report drops.
	DroppedEntries int
}

type stream struct {
	Labels map[string]string `json:"stream"`
	Values []entry           `json:"values"`
}

// entry is a ["<unix ns>", "<line>"] pair
type entry struct {
	Timestamp string
	Line      string
}

func (e *entry) UnmarshalJSON(data []byte) error {
	var pair []*string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("entry is not a [timestamp, line] pair: %w", err)
	}
	if len(pair) != 2 || pair[0] == nil || pair[1] == nil {
		return fmt.Errorf("entry has %d elements, want [timestamp, line]", len(pair))
	}
	e.Timestamp, e.Line = *pair[0], *pair[1]
	return nil
}

// envelope covers both wire shapes: a tail message carries streams at the top
// level, a query_range response nests them under data.result.
type envelope struct {
	Streams        json.RawMessage   `json:"streams"`
	DroppedEntries []json.RawMessage `json:"dropped_entries"`

	Status string `json:"status"`
	Data   *struct {
		ResultType string          `json:"resultType"`
		Result     json.RawMessage `json:"result"`
	} `json:"data"`
}

// Decode parses a tail message or a query_range response into records.
// See DecodePayload.
func Decode(payload []byte) ([]NormalizedRecord, error) {
	d, err := DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	return d.Records, nil
}

// DecodePayload parses a tail message or a query_range response. Records come
// out in source order, one per entry, each with its own copy of the stream
// labels. Any shape other than a stream list fails the whole payload with a
// decode error.
func DecodePayload(payload []byte) (Decoded, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Decoded{}, decodeError(err, "malformed payload", payload)
	}

	var raw json.RawMessage
	switch {
	case env.Data != nil || env.Status != "":
		if env.Status != "success" {
			return Decoded{}, decodeError(nil, fmt.Sprintf("query status %q", env.Status), payload)
		}
		if env.Data == nil {
			return Decoded{}, decodeError(nil, "query response has no data", payload)
		}
		if env.Data.ResultType != resultTypeStreams {
			return Decoded{}, decodeError(nil, fmt.Sprintf("unsupported result type %q", env.Data.ResultType), payload)
		}
		raw = env.Data.Result
	case len(env.Streams) > 0:
		raw = env.Streams
	default:
		return Decoded{}, decodeError(nil, "payload has neither streams nor data", payload)
	}

	var streams []stream
	if !isNull(raw) {
		if err := json.Unmarshal(raw, &streams); err != nil {
			return Decoded{}, decodeError(err, "malformed streams", payload)
		}
	}

	return Decoded{
		Records:        normalize(streams),
		DroppedEntries: len(env.DroppedEntries),
	}, nil
}

func normalize(streams []stream) []NormalizedRecord {
	n := 0
	for _, s := range streams {
		n += len(s.Values)
	}
	if n == 0 {
		return nil
	}

	records := make([]NormalizedRecord, 0, n)
	for _, s := range streams {
		for _, e := range s.Values {
			records = append(records, NormalizedRecord{
				Timestamp: e.Timestamp,
				Line:      e.Line,
				Labels:    copyLabels(s.Labels),
			})
		}
	}
	return records
}

func copyLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// maxExcerpt bounds the payload fragment attached to decode errors
const maxExcerpt = 256

func decodeError(cause error, msg string, payload []byte) error {
	var e *errors.Error
	if cause != nil {
		e = errors.Wrap(cause, errors.ErrorTypeDecode, msg)
	} else {
		e = errors.New(errors.ErrorTypeDecode, msg)
	}
	return e.WithDetail("payload", excerpt(payload))
}

func excerpt(payload []byte) string {
	if len(payload) <= maxExcerpt {
		return string(payload)
	}
	return string(payload[:maxExcerpt]) + "..."
}
