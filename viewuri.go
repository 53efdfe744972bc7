package ndgr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/ndgr/internal/protocol"
)

const wsHandshakeTimeout = 15 * time.Second

type watchCommand struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// fetchViewURI opens the program's watch session WebSocket, announces
// itself with startWatching, and waits for the messageServer message that
// carries the View stream URI. Every other message type is ignored. The
// socket is closed before returning; only the URI survives.
func (c *Client) fetchViewURI(ctx context.Context, wsURL string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "ndgr.fetchViewURI")
	defer span.End()

	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		Jar:              c.session.Jar(),
	}
	header := http.Header{}
	header.Set("User-Agent", c.session.UserAgent())

	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return "", fmt.Errorf("dial watch session: %w", err)
	}
	defer conn.Close()

	start := map[string]any{
		"type": "startWatching",
		"data": map[string]any{"reconnect": false},
	}
	if err := conn.WriteJSON(start); err != nil {
		return "", fmt.Errorf("start watching: %w", err)
	}

	// Unblock ReadMessage on caller cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", protocol.Violation("watch session closed before messageServer: %v", err)
		}
		var cmd watchCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.logger.Debug("unparseable watch message skipped", zap.Error(err))
			continue
		}
		if cmd.Type != "messageServer" {
			continue
		}
		var data struct {
			ViewURI string `json:"viewUri"`
		}
		if err := json.Unmarshal(cmd.Data, &data); err != nil || data.ViewURI == "" {
			return "", protocol.Violation("messageServer carries no view uri")
		}
		return data.ViewURI, nil
	}
}
