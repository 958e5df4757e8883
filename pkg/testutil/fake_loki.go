package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/json"
	"github.com/gorilla/websocket"
)

// Loki API paths served by FakeLoki
const (
	TailPath       = "/loki/api/v1/tail"
	QueryRangePath = "/loki/api/v1/query_range"
)

// TailScript drives one accepted tail connection. attempt counts
// connections from zero. When it returns the server closes the socket.
type TailScript func(conn *websocket.Conn, attempt int)

// RecordedRequest is what FakeLoki saw of one request
type RecordedRequest struct {
	Query  url.Values
	Header http.Header
	At     time.Time
}

// FakeLoki is an httptest server speaking enough of the Loki API to test
// the source: the websocket tail and query_range.
type FakeLoki struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	tailScript  TailScript
	tailStatus  int
	rangeHandle http.HandlerFunc
	tails       []RecordedRequest
	ranges      []RecordedRequest
	conns       []*websocket.Conn
}

// NewFakeLoki starts a server that is closed when the test completes. By
// default tail connections are held open until the client leaves and
// query_range returns an empty stream list.
func NewFakeLoki(t *testing.T) *FakeLoki {
	f := &FakeLoki{
		tailScript: func(conn *websocket.Conn, _ int) { Hold(conn) },
		rangeHandle: func(w http.ResponseWriter, r *http.Request) {
			WriteJSON(w, RangeResponse())
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(TailPath, f.serveTail)
	mux.HandleFunc(QueryRangePath, f.serveRange)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

// URL returns the http:// base URL of the server
func (f *FakeLoki) URL() string {
	return f.server.URL
}

// OnTail replaces the tail script
func (f *FakeLoki) OnTail(script TailScript) {
	f.mu.Lock()
	f.tailScript = script
	f.mu.Unlock()
}

// RejectTail makes the tail handshake answer with status instead of upgrading
func (f *FakeLoki) RejectTail(status int) {
	f.mu.Lock()
	f.tailStatus = status
	f.mu.Unlock()
}

// OnQueryRange replaces the query_range handler
func (f *FakeLoki) OnQueryRange(h http.HandlerFunc) {
	f.mu.Lock()
	f.rangeHandle = h
	f.mu.Unlock()
}

// TailRequests returns the tail handshakes seen so far
func (f *FakeLoki) TailRequests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.tails...)
}

// RangeRequests returns the query_range requests seen so far
func (f *FakeLoki) RangeRequests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.ranges...)
}

// Close drops open tail connections and stops the server
func (f *FakeLoki) Close() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	f.server.Close()
}

func (f *FakeLoki) serveTail(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	attempt := len(f.tails)
	f.tails = append(f.tails, record(r))
	script, status := f.tailScript, f.tailStatus
	f.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	defer conn.Close()
	script(conn, attempt)
}

func (f *FakeLoki) serveRange(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.ranges = append(f.ranges, record(r))
	h := f.rangeHandle
	f.mu.Unlock()
	h(w, r)
}

func record(r *http.Request) RecordedRequest {
	return RecordedRequest{Query: r.URL.Query(), Header: r.Header.Clone(), At: time.Now()}
}

// Hold reads from conn until the client goes away
func Hold(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Send writes payload as one text message
func Send(conn *websocket.Conn, payload []byte) error {
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Stream is one Loki stream in a fake payload
type Stream struct {
	Labels map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// TailMessage builds a tail message carrying streams
func TailMessage(streams ...Stream) []byte {
	if streams == nil {
		streams = []Stream{}
	}
	b, _ := json.Marshal(map[string]interface{}{"streams": streams})
	return b
}

// RangeResponse builds a successful query_range body carrying streams
func RangeResponse(streams ...Stream) []byte {
	if streams == nil {
		streams = []Stream{}
	}
	b, _ := json.Marshal(map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"resultType": "streams",
			"result":     streams,
		},
	})
	return b
}

// WriteJSON writes body with a JSON content type
func WriteJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
