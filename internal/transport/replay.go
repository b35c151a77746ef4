package transport

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"scantool/pkg/log"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

// Exchange is one command/response pair seen on the wire.
type Exchange struct {
	Command  string    `cbor:"command"`
	Response string    `cbor:"response"`
	At       time.Time `cbor:"at"`
}

// Capture is a recorded adapter session.
type Capture struct {
	RecordedAt time.Time  `cbor:"recorded_at"`
	Exchanges  []Exchange `cbor:"exchanges"`
}

// Recorder wraps another transport and captures every exchange so the
// session can be replayed later without hardware.
type Recorder struct {
	inner Transport
	path  string

	mu        sync.Mutex
	last      string
	exchanges []Exchange
}

// NewRecorder records all traffic through inner into the capture file at
// path. The file is written on Close.
func NewRecorder(inner Transport, path string) *Recorder {
	return &Recorder{inner: inner, path: path}
}

func (r *Recorder) Open() error     { return r.inner.Open() }
func (r *Recorder) Connected() bool { return r.inner.Connected() }

func (r *Recorder) Send(cmd string) error {
	if err := r.inner.Send(cmd); err != nil {
		return err
	}
	r.mu.Lock()
	r.last = strings.TrimSuffix(cmd, CR)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Receive(timeout time.Duration) (string, error) {
	resp, err := r.inner.Receive(timeout)
	if err == nil && resp != "" {
		r.mu.Lock()
		r.exchanges = append(r.exchanges, Exchange{Command: r.last, Response: resp, At: time.Now()})
		r.mu.Unlock()
	}
	return resp, err
}

func (r *Recorder) Close() error {
	if err := r.flush(); err != nil {
		log.Warn("failed to write capture file", zap.String("path", r.path), zap.Error(err))
	}
	return r.inner.Close()
}

func (r *Recorder) flush() error {
	r.mu.Lock()
	capture := Capture{RecordedAt: time.Now(), Exchanges: r.exchanges}
	r.mu.Unlock()

	data, err := cbor.Marshal(capture)
	if err != nil {
		return fmt.Errorf("encode capture: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write capture: %w", err)
	}
	log.Info("capture written", zap.String("path", r.path), zap.Int("exchanges", len(capture.Exchanges)))
	return nil
}

// Replay serves responses from a recorded session, matched by command.
// Repeated commands consume their queue in order; the final response is
// served forever so polling loops keep working.
type Replay struct {
	mu      sync.Mutex
	queues  map[string][]string
	pending string
	open    bool
}

// NewReplay builds a replay transport from recorded exchanges.
func NewReplay(exchanges []Exchange) *Replay {
	queues := make(map[string][]string)
	for _, ex := range exchanges {
		key := normalizeCommand(ex.Command)
		queues[key] = append(queues[key], ex.Response)
	}
	return &Replay{queues: queues}
}

// NewReplayFromFile loads a capture written by Recorder.
func NewReplayFromFile(path string) (*Replay, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	var capture Capture
	if err := cbor.Unmarshal(raw, &capture); err != nil {
		return nil, fmt.Errorf("decode capture %s: %w", path, err)
	}
	return NewReplay(capture.Exchanges), nil
}

func (r *Replay) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = true
	return nil
}

func (r *Replay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	return nil
}

func (r *Replay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *Replay) Send(cmd string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return ErrClosed
	}

	key := normalizeCommand(cmd)
	queue, ok := r.queues[key]
	if !ok || len(queue) == 0 {
		r.pending = "?\r\r>"
		return nil
	}

	r.pending = queue[0]
	if len(queue) > 1 {
		r.queues[key] = queue[1:]
	}
	return nil
}

func (r *Replay) Receive(timeout time.Duration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return "", ErrClosed
	}
	if r.pending == "" {
		return "", fmt.Errorf("%w after %s", ErrReadTimeout, timeout)
	}
	resp := r.pending
	r.pending = ""
	return resp, nil
}

func normalizeCommand(cmd string) string {
	return strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(cmd), CR))
}
