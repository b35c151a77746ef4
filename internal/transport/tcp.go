package transport

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"scantool/pkg/log"

	"go.uber.org/zap"
)

// DefaultTCPPort is the port WiFi adapters listen on out of the box.
const DefaultTCPPort = "35000"

const dialTimeout = 5 * time.Second

// TCP talks to a WiFi adapter over a plain TCP socket.
type TCP struct {
	address string

	mu   sync.Mutex
	conn net.Conn
}

// NewTCP creates a TCP transport. A bare host gets the default adapter
// port, an empty address targets the usual 192.168.0.10 access point.
func NewTCP(cfg Config) *TCP {
	address := cfg.Address
	switch {
	case address == "":
		address = net.JoinHostPort("192.168.0.10", DefaultTCPPort)
	case !strings.Contains(address, ":"):
		address = net.JoinHostPort(address, DefaultTCPPort)
	}
	return &TCP{address: address}
}

func (t *TCP) Open() error {
	conn, err := net.DialTimeout("tcp", t.address, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.address, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	log.Info("tcp transport connected", zap.String("address", t.address))
	return nil
}

func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *TCP) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *TCP) Send(cmd string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	if _, err := conn.Write([]byte(terminate(cmd))); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}
	return nil
}

func (t *TCP) Receive(timeout time.Duration) (string, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return "", ErrClosed
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}

	var sb strings.Builder
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
			if bytes.IndexByte(buf[:n], Prompt) >= 0 {
				return sb.String(), nil
			}
		}
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
	}
}
