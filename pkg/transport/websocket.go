package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// WebSocketChannel adapts a coder/websocket connection to Channel,
// grounded on the send/receive pattern in
// team-hashing-lokutor-orchestrator/pkg/providers/tts/lokutor.go and
// original_source/server/networking/websocket_connection.py's
// send_loop/receive_loop split (here folded into one Recv/Send pair
// since pkg/conn owns the looping goroutines instead).
type WebSocketChannel struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// Accept upgrades an inbound HTTP request to a WebSocketChannel. Used
// by the server side of the framed transport (spec.md §4.2).
func Accept(w http.ResponseWriter, r *http.Request) (*WebSocketChannel, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &WebSocketChannel{conn: conn}, nil
}

// Dial opens a WebSocketChannel as a client, used by the edge client
// to connect to the /ws/audio endpoint (spec.md §4.1).
func Dial(ctx context.Context, url string, header http.Header) (*WebSocketChannel, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	return &WebSocketChannel{conn: conn}, nil
}

func (c *WebSocketChannel) SendBinary(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageBinary, data)
}

func (c *WebSocketChannel) SendText(ctx context.Context, text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, []byte(text))
}

func (c *WebSocketChannel) Recv(ctx context.Context) (Frame, error) {
	msgType, data, err := c.conn.Read(ctx)
	if err != nil {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			return Frame{Type: FrameClosed}, nil
		}
		return Frame{}, err
	}

	switch msgType {
	case websocket.MessageBinary:
		return Frame{Type: FrameBinary, Data: data}, nil
	default:
		return Frame{Type: FrameText, Data: data}, nil
	}
}

func (c *WebSocketChannel) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
