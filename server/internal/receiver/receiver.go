package receiver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/rntiview/server/internal/delta"
)

// DefaultMaxFrameBytes bounds a single inbound frame or request body.
const DefaultMaxFrameBytes = 1 << 20

// PongWait is how long Pump lets a connection stay silent. The dialling side
// of a quiet link must ping more often than this.
const PongWait = 60 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Receiver accepts deltas from producers over HTTP and WebSocket and pushes
// them into an Inbox. Authentication is applied by the caller.
type Receiver struct {
	inbox    *Inbox
	maxBytes int64
}

// New creates a Receiver. A non-positive maxBytes uses DefaultMaxFrameBytes.
func New(inbox *Inbox, maxBytes int64) *Receiver {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &Receiver{inbox: inbox, maxBytes: maxBytes}
}

type acceptedResponse struct {
	Accepted int `json:"accepted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleDeltas serves POST /api/v1/deltas.
//
// A JSON body holds one delta object or a stream of objects (NDJSON or
// pretty-printed, separated by whitespace); a body
// with Content-Type application/cbor holds one CBOR-encoded delta. The body
// is validated as a whole: if any delta fails to decode nothing is accepted
// and 400 is returned.
func (rc *Receiver) HandleDeltas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rc.maxBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			jsonErr(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		jsonErr(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	deltas, err := decodeBody(body, contentFormat(r))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, d := range deltas {
		rc.inbox.PushDelta(d)
	}
	slog.Debug("receiver: deltas accepted", "count", len(deltas), "remote", r.RemoteAddr)
	jsonResp(w, http.StatusAccepted, acceptedResponse{Accepted: len(deltas)})
}

// ServeWS upgrades a producer connection and pushes every message into the
// inbox: text messages as JSON, binary messages as CBOR. Blocks until the
// connection closes.
func (rc *Receiver) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	slog.Info("receiver: producer connected", "remote", r.RemoteAddr)
	n, err := Pump(conn, rc.inbox, rc.maxBytes)
	slog.Info("receiver: producer disconnected", "remote", r.RemoteAddr, "frames", n, "err", err)
}

// Pump reads messages from conn into inbox until the connection fails and
// returns the number of frames read. It is shared by the ingest endpoint and
// the upstream subscriber.
func Pump(conn *websocket.Conn, inbox *Inbox, maxBytes int64) (int, error) {
	conn.SetReadLimit(maxBytes)
	conn.SetReadDeadline(time.Now().Add(PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	n := 0
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return n, nil
			}
			return n, err
		}
		conn.SetReadDeadline(time.Now().Add(PongWait))
		switch mt {
		case websocket.TextMessage:
			inbox.Push(data, delta.FormatJSON)
		case websocket.BinaryMessage:
			inbox.Push(data, delta.FormatCBOR)
		default:
			continue
		}
		n++
	}
}

// --- helpers ----------------------------------------------------------------

func contentFormat(r *http.Request) delta.Format {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/cbor" {
		return delta.FormatCBOR
	}
	return delta.FormatJSON
}

func decodeBody(body []byte, f delta.Format) ([]delta.Delta, error) {
	if f == delta.FormatCBOR {
		d, err := delta.Decode(body, f)
		if err != nil {
			return nil, err
		}
		return []delta.Delta{d}, nil
	}

	// A stream of JSON values: one object, NDJSON, or pretty-printed objects.
	var out []delta.Delta
	dec := json.NewDecoder(bytes.NewReader(body))
	for n := 1; ; n++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("object %d: %w: %v", n, delta.ErrMalformed, err)
		}
		d, err := delta.Decode(raw, f)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", n, err)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, delta.ErrMalformed
	}
	return out, nil
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
