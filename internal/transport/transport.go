// Package transport moves raw command and response text between the scan
// tool and an ELM327-style adapter. Every transport speaks the same byte
// dialect: commands go out terminated by a carriage return, responses come
// back as printable text ending in the '>' prompt.
package transport

import (
	"errors"
	"fmt"
	"time"
)

// Kind selects a transport implementation.
type Kind string

const (
	KindSerial    Kind = "serial"
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "ws"
	KindBluetooth Kind = "ble"
	KindReplay    Kind = "replay"
)

const (
	// Prompt terminates every adapter response.
	Prompt = '>'

	// CR terminates every command sent to the adapter.
	CR = "\r"
)

var (
	ErrClosed      = errors.New("transport closed")
	ErrReadTimeout = errors.New("read timeout")
)

// Config carries the transport selection and its endpoint.
type Config struct {
	Kind Kind

	// Address is a device path for serial, host:port for tcp, an URL for
	// ws, an advertised name for ble, or a capture file for replay.
	Address string

	// Baud applies to serial only. Zero means 38400.
	Baud int
}

// Transport is a bidirectional byte channel to an adapter. Send appends a
// trailing CR when the command lacks one. Receive returns response text as
// it arrives; a response may span several calls, so callers accumulate
// until they see the '>' prompt.
type Transport interface {
	Open() error
	Close() error
	Send(cmd string) error
	Receive(timeout time.Duration) (string, error)
	Connected() bool
}

// New builds the transport selected by cfg.Kind. An empty kind means
// serial.
func New(cfg Config) (Transport, error) {
	switch cfg.Kind {
	case KindSerial, "":
		return NewSerial(cfg), nil
	case KindTCP:
		return NewTCP(cfg), nil
	case KindWebSocket:
		return NewWebSocket(cfg), nil
	case KindBluetooth:
		return NewBluetooth(cfg), nil
	case KindReplay:
		return NewReplayFromFile(cfg.Address)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

func terminate(cmd string) string {
	if len(cmd) > 0 && cmd[len(cmd)-1] == '\r' {
		return cmd
	}
	return cmd + CR
}
