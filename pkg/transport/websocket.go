package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// WebSocket implements Transport over a client-side coder/websocket
// connection. Adapted from the teacher's WebSocketTransport.Connect/
// readLoop/writeLoop; the server-side Upgrade half is dropped — this
// module never accepts connections, only dials them (spec.md §1).
type WebSocket struct {
	*base

	conn   *websocket.Conn
	config *Config
	sendCh chan []byte
	recvCh chan []byte

	connMu sync.Mutex
}

// Dial opens a WebSocket connection to url, offering subprotocol as the
// single Sec-WebSocket-Protocol candidate (empty means none — spec.md §4.3).
func Dial(ctx context.Context, url, subprotocol string, config *Config) (*WebSocket, error) {
	if config == nil {
		config = DefaultConfig()
	}

	opts := &websocket.DialOptions{}
	if subprotocol != "" {
		opts.Subprotocols = []string{subprotocol}
	}

	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	conn.SetReadLimit(config.MaxMessageSize)

	t := &WebSocket{
		base:   newBase(),
		conn:   conn,
		config: config,
		sendCh: make(chan []byte, 64),
		recvCh: make(chan []byte, config.RecvBufferSize),
	}
	t.setConnected(true)

	go t.readLoop()
	go t.writeLoop()

	return t, nil
}

// Recv returns the inbound frame channel.
func (t *WebSocket) Recv() <-chan []byte {
	return t.recvCh
}

// Send enqueues a frame for the write loop.
func (t *WebSocket) Send(ctx context.Context, data []byte) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}

	select {
	case t.sendCh <- data:
		return nil
	case <-t.closeCh:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.config.WriteTimeout):
		return ErrSendTimeout
	}
}

// Close closes the socket. Idempotent.
func (t *WebSocket) Close() error {
	var closeErr error
	t.closeOnceFunc(func() {
		t.connMu.Lock()
		conn := t.conn
		t.connMu.Unlock()
		if conn != nil {
			closeErr = conn.Close(websocket.StatusNormalClosure, "closing")
		}
	})
	return closeErr
}

func (t *WebSocket) readLoop() {
	defer close(t.recvCh)
	defer t.Close()

	for {
		select {
		case <-t.closeCh:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), t.config.ReadTimeout)
		_, data, err := t.conn.Read(ctx)
		cancel()
		if err != nil {
			return
		}

		select {
		case t.recvCh <- data:
		case <-t.closeCh:
			return
		}
	}
}

func (t *WebSocket) writeLoop() {
	for {
		select {
		case data := <-t.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), t.config.WriteTimeout)
			err := t.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-t.closeCh:
			return
		}
	}
}
