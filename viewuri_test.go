package ndgr

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchViewURI(t *testing.T) {
	f := newFabric(t)
	upgrader := websocket.Upgrader{}
	f.mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var cmd struct {
			Type string `json:"type"`
			Data struct {
				Reconnect bool `json:"reconnect"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &cmd))
		assert.Equal(t, "startWatching", cmd.Type)
		assert.False(t, cmd.Data.Reconnect)

		conn.WriteJSON(map[string]any{"type": "seat", "data": map[string]any{}})
		conn.WriteMessage(websocket.TextMessage, []byte("not even json"))
		conn.WriteJSON(map[string]any{
			"type": "messageServer",
			"data": map[string]any{"viewUri": "https://fabric.example/view"},
		})
	})
	c := f.client(t)

	uri, err := c.fetchViewURI(context.Background(), "ws"+f.srv.URL[4:]+"/ws")
	require.NoError(t, err)
	assert.Equal(t, "https://fabric.example/view", uri)
}

func TestFetchViewURIClosedBeforeMessageServer(t *testing.T) {
	f := newFabric(t)
	upgrader := websocket.Upgrader{}
	f.mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.ReadMessage()
		conn.Close()
	})
	c := f.client(t)

	_, err := c.fetchViewURI(context.Background(), "ws"+f.srv.URL[4:]+"/ws")
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}

func TestFetchViewURICancellation(t *testing.T) {
	f := newFabric(t)
	upgrader := websocket.Upgrader{}
	hold := make(chan struct{})
	defer close(hold)
	f.mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.ReadMessage()
		<-hold
	})
	c := f.client(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.fetchViewURI(ctx, "ws"+f.srv.URL[4:]+"/ws")
		done <- err
	}()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
