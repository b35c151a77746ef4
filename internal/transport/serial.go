package transport

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"scantool/pkg/log"

	"github.com/tarm/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

const (
	// DefaultBaud is the factory rate of most ELM327 clones.
	DefaultBaud = 38400

	openRetries  = 3
	writeRetries = 3
)

// Serial talks to an adapter on a local serial device with 8-N-1 framing.
type Serial struct {
	device string
	baud   int

	mu        sync.Mutex
	port      io.ReadWriteCloser
	connected bool
}

// NewSerial creates a serial transport. An empty address is resolved with
// DefaultDevice, a zero baud rate falls back to DefaultBaud.
func NewSerial(cfg Config) *Serial {
	device := cfg.Address
	if device == "" {
		device = DefaultDevice()
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	return &Serial{device: device, baud: baud}
}

// Open opens the device, retrying a few times because USB adapters often
// need a moment after being plugged in.
func (s *Serial) Open() error {
	cfg := &serial.Config{
		Name:        s.device,
		Baud:        s.baud,
		ReadTimeout: 100 * time.Millisecond,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}

	var port *serial.Port
	var err error
	for i := 0; i < openRetries; i++ {
		port, err = serial.OpenPort(cfg)
		if err == nil {
			break
		}
		log.Warn("failed to open serial port, retrying",
			zap.String("device", s.device),
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return fmt.Errorf("open %s after %d attempts: %w", s.device, openRetries, err)
	}

	s.mu.Lock()
	s.port = port
	s.connected = true
	s.mu.Unlock()

	log.Info("serial port opened", zap.String("device", s.device), zap.Int("baud", s.baud))
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *Serial) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Send discards whatever the adapter pushed since the last exchange, then
// writes the command with a few retries.
func (s *Serial) Send(cmd string) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrClosed
	}

	stale := make([]byte, 256)
	for {
		n, err := port.Read(stale)
		if err != nil || n == 0 {
			break
		}
		log.Debug("discarded stale data", zap.Int("bytes", n), zap.String("data", string(stale[:n])))
	}

	full := terminate(cmd)

	var writeErr error
	for i := 0; i < writeRetries; i++ {
		n, err := port.Write([]byte(full))
		if err != nil {
			writeErr = err
			log.Warn("serial write failed, retrying",
				zap.String("command", cmd),
				zap.Int("attempt", i+1),
				zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			continue
		}
		if n != len(full) {
			writeErr = fmt.Errorf("short write: %d/%d bytes", n, len(full))
			continue
		}
		return nil
	}
	return fmt.Errorf("write %q: %w", cmd, writeErr)
}

// Receive reads bytes until the prompt or the timeout. Control characters
// other than CR and LF are dropped, clones sprinkle nulls into responses.
// Partial data collected before a timeout is returned without error.
func (s *Serial) Receive(timeout time.Duration) (string, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return "", ErrClosed
	}

	var sb strings.Builder
	buf := make([]byte, 1)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		n, err := port.Read(buf)
		if err != nil {
			if err != io.EOF {
				return sb.String(), err
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		b := buf[0]
		if b == Prompt {
			sb.WriteByte(b)
			return sb.String(), nil
		}
		if b >= 32 && b <= 126 || b == '\r' || b == '\n' {
			sb.WriteByte(b)
		}
	}

	if sb.Len() > 0 {
		return sb.String(), nil
	}
	return "", fmt.Errorf("%w after %s", ErrReadTimeout, timeout)
}

// PortInfo describes a serial device visible to the host.
type PortInfo struct {
	Device      string
	Description string
	USB         bool
	VID         string
	PID         string
}

// ListPorts enumerates serial devices with USB metadata where the platform
// exposes it.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	infos := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		infos = append(infos, PortInfo{
			Device:      p.Name,
			Description: p.Product,
			USB:         p.IsUSB,
			VID:         p.VID,
			PID:         p.PID,
		})
	}
	return infos, nil
}

// DefaultDevice guesses the adapter device for this platform. A USB serial
// device found by enumeration wins over the static fallback.
func DefaultDevice() string {
	if ports, err := ListPorts(); err == nil {
		for _, p := range ports {
			if p.USB {
				return p.Device
			}
		}
	}

	switch runtime.GOOS {
	case "windows":
		return "COM3"
	case "darwin":
		return "/dev/tty.usbserial"
	default:
		return "/dev/ttyUSB0"
	}
}
