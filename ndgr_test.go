package ndgr

import (
	"encoding/binary"
	"encoding/json"
	"html"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/ndgr/internal/protocol"
)

// fabric is an in-process stand-in for the comment infrastructure: watch
// pages, the watch-session WebSocket, view and segment streams, and the
// account service. Tests register handlers on its mux and point a Client
// at it with WithBaseURLs.
type fabric struct {
	t   *testing.T
	mux *http.ServeMux
	srv *httptest.Server
}

func newFabric(t *testing.T) *fabric {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &fabric{t: t, mux: mux, srv: srv}
}

func (f *fabric) client(t *testing.T, opts ...Option) *Client {
	opts = append(opts,
		WithLogger(zaptest.NewLogger(t)),
		WithBaseURLs(f.srv.URL, f.srv.URL, f.srv.URL, f.srv.URL),
	)
	return New(opts...)
}

// watchPageHTML renders the watch-page shell around the embedded JSON.
// wsPath is resolved against the requesting host at serve time.
func watchPageHTML(r *http.Request, programID, status, wsPath string, endTime int64) string {
	wsURL := ""
	if wsPath != "" {
		wsURL = "ws://" + r.Host + wsPath
	}
	props := map[string]any{
		"program": map[string]any{
			"nicoliveProgramId": programID,
			"title":             "test program",
			"description":       "",
			"status":            status,
			"openTime":          1700000000,
			"beginTime":         1700000000,
			"vposBaseTime":      1700000000,
			"endTime":           endTime,
			"scheduledEndTime":  endTime,
		},
		"site": map[string]any{
			"relive": map[string]any{"webSocketUrl": wsURL},
		},
	}
	b, _ := json.Marshal(props)
	return `<html><body><script id="embedded-data" data-props="` +
		html.EscapeString(string(b)) + `"></script></body></html>`
}

// serveWatchSession registers a watch-session WebSocket at path that
// answers startWatching with a messageServer frame naming viewPath.
func (f *fabric) serveWatchSession(path, viewPath string) {
	upgrader := websocket.Upgrader{}
	f.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		// Unrelated frame types must be skipped by the client.
		conn.WriteJSON(map[string]any{"type": "serverTime", "data": map[string]any{"currentMs": 1}})
		conn.WriteJSON(map[string]any{
			"type": "messageServer",
			"data": map[string]any{"viewUri": "http://" + r.Host + viewPath},
		})
		conn.ReadMessage() // hold until the client hangs up
	})
}

func frame(payload []byte) []byte {
	return append(binary.AppendUvarint(nil, uint64(len(payload))), payload...)
}

func entryBytes(entries ...*protocol.ChunkedEntry) []byte {
	var out []byte
	for _, e := range entries {
		out = append(out, frame(protocol.MarshalChunkedEntry(e))...)
	}
	return out
}

func segmentEntry(uri string) *protocol.ChunkedEntry {
	return &protocol.ChunkedEntry{
		Segment: &protocol.MessageSegment{
			From:  &protocol.Timestamp{Seconds: 1700000000},
			Until: &protocol.Timestamp{Seconds: 1700000016},
			URI:   uri,
		},
	}
}

func chatWire(id string, atSec, liveID int64, content string) *protocol.ChunkedMessage {
	return &protocol.ChunkedMessage{
		Meta: &protocol.Meta{
			ID:     id,
			At:     &protocol.Timestamp{Seconds: atSec},
			Origin: &protocol.Origin{Chat: &protocol.ChatOrigin{LiveID: liveID}},
		},
		Message: &protocol.Message{
			Chat: &protocol.Chat{Content: content, Modifier: &protocol.Modifier{}},
		},
	}
}

func messageBytes(msgs ...*protocol.ChunkedMessage) []byte {
	var out []byte
	for _, m := range msgs {
		out = append(out, frame(protocol.MarshalChunkedMessage(m))...)
	}
	return out
}

// swapAliasTable installs m for the duration of the test.
func swapAliasTable(t *testing.T, m map[string]string) {
	t.Helper()
	old := ChannelAliasMap()
	SetChannelAliasMap(m)
	t.Cleanup(func() { SetChannelAliasMap(old) })
}
