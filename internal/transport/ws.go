package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"scantool/pkg/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket talks to a bridge that frames adapter bytes in websocket
// messages. Useful when the adapter hangs off another machine.
type WebSocket struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocket creates a websocket transport. A bare host:port address is
// given the ws scheme.
func NewWebSocket(cfg Config) *WebSocket {
	url := cfg.Address
	if url != "" && !strings.Contains(url, "://") {
		url = "ws://" + url
	}
	return &WebSocket{url: url}
}

func (w *WebSocket) Open() error {
	conn, _, err := websocket.DefaultDialer.Dial(w.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	log.Info("websocket transport connected", zap.String("url", w.url))
	return nil
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	err := w.conn.Close()
	w.conn = nil
	return err
}

func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

func (w *WebSocket) Send(cmd string) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(terminate(cmd))); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}
	return nil
}

func (w *WebSocket) Receive(timeout time.Duration) (string, error) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return "", ErrClosed
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}

	var sb strings.Builder
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				if sb.Len() > 0 {
					return sb.String(), nil
				}
				return "", fmt.Errorf("%w after %s", ErrReadTimeout, timeout)
			}
			return sb.String(), err
		}

		sb.Write(data)
		if strings.IndexByte(string(data), Prompt) >= 0 {
			return sb.String(), nil
		}
	}
}
