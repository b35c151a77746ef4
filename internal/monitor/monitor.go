// Package monitor polls a set of parameters at a fixed cadence and fans
// readings out to callbacks. It shares the command session with
// on-demand traffic, which stays safe because the session serializes
// exchanges.
package monitor

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scantool/internal/models"
	"scantool/pkg/log"
)

// Source reads one live parameter.
type Source interface {
	ReadParameter(pid byte) (models.Reading, error)
}

var ErrRunning = errors.New("monitoring already running")

const (
	DefaultInterval = time.Second

	// maxSweeps bounds the in-memory history available for export.
	maxSweeps = 1000
)

// sweep is one poll cycle over every monitored PID.
type sweep struct {
	at     time.Time
	values map[byte]models.Reading
}

// Monitor drives the poll loop and the callback dispatcher.
type Monitor struct {
	src      Source
	pids     []byte
	interval time.Duration

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	g         *errgroup.Group
	callbacks []func(models.Reading)
	latest    map[byte]models.Reading
	sweeps    []sweep

	readings chan models.Reading
}

func New(src Source, pids []byte, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		src:      src,
		pids:     append([]byte(nil), pids...),
		interval: interval,
		latest:   make(map[byte]models.Reading),
	}
}

// OnReading registers a callback invoked for every successful reading.
func (m *Monitor) OnReading(fn func(models.Reading)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Start launches the poll and dispatch tasks.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	m.cancel = cancel
	m.g = g
	m.running = true
	m.readings = make(chan models.Reading, 4*len(m.pids)+4)

	g.Go(func() error { return m.poll(ctx) })
	g.Go(func() error { return m.dispatch() })

	log.Info("monitoring started",
		zap.Int("pids", len(m.pids)),
		zap.Duration("interval", m.interval))
	return nil
}

// Stop cancels polling and waits until every queued reading has been
// delivered, so no callback fires after Stop returns.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, g := m.cancel, m.g
	m.mu.Unlock()

	cancel()
	_ = g.Wait()

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	log.Info("monitoring stopped")
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// poll sweeps every PID, then sleeps whatever remains of the interval
// so the cadence holds regardless of how long the reads took.
func (m *Monitor) poll(ctx context.Context) error {
	defer close(m.readings)

	for {
		start := time.Now()
		values := make(map[byte]models.Reading, len(m.pids))

		for _, pid := range m.pids {
			if ctx.Err() != nil {
				return nil
			}
			r, err := m.src.ReadParameter(pid)
			if err != nil {
				log.Warn("parameter read failed",
					zap.String("pid", fmt.Sprintf("%02X", pid)),
					zap.Error(err))
				continue
			}
			values[pid] = r

			select {
			case m.readings <- r:
			default:
				// Dispatch backlog. Dropping beats stalling the sweep.
			}
		}
		m.record(start, values)

		wait := m.interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (m *Monitor) dispatch() error {
	for r := range m.readings {
		m.mu.Lock()
		cbs := append(([]func(models.Reading))(nil), m.callbacks...)
		m.mu.Unlock()
		for _, fn := range cbs {
			fn(r)
		}
	}
	return nil
}

func (m *Monitor) record(at time.Time, values map[byte]models.Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pid, r := range values {
		m.latest[pid] = r
	}
	m.sweeps = append(m.sweeps, sweep{at: at, values: values})
	if len(m.sweeps) > maxSweeps {
		m.sweeps = m.sweeps[len(m.sweeps)-maxSweeps:]
	}
}

// Latest returns the newest reading per PID, ordered by PID.
func (m *Monitor) Latest() []models.Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Reading, 0, len(m.latest))
	for _, r := range m.latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// WriteCSV writes the recorded history, one row per poll cycle with a
// "Name (unit)" column per PID. Cells for failed reads stay empty.
func (m *Monitor) WriteCSV(w io.Writer) error {
	m.mu.Lock()
	sweeps := append([]sweep(nil), m.sweeps...)
	pids := append([]byte(nil), m.pids...)
	names := make(map[byte]string, len(pids))
	for pid, r := range m.latest {
		names[pid] = fmt.Sprintf("%s (%s)", r.Name, r.Unit)
	}
	m.mu.Unlock()

	cw := csv.NewWriter(w)
	header := []string{"Timestamp"}
	for _, pid := range pids {
		name, ok := names[pid]
		if !ok {
			name = fmt.Sprintf("PID %02X", pid)
		}
		header = append(header, name)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, s := range sweeps {
		row := []string{s.at.Format(time.RFC3339)}
		for _, pid := range pids {
			if r, ok := s.values[pid]; ok {
				row = append(row, strconv.FormatFloat(r.Value, 'f', 2, 64))
			} else {
				row = append(row, "")
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV writes the recorded history to a file.
func (m *Monitor) ExportCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
