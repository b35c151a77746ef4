// Package obd layers OBD-II semantics on an ELM session: vehicle
// identification, live parameters, trouble codes and freeze frames.
package obd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"scantool/internal/dtc"
	"scantool/internal/elm"
	"scantool/internal/models"
	"scantool/internal/monitor"
	"scantool/pkg/log"
)

// Status is the Mode 01 PID 01 summary.
type Status struct {
	MILOn    bool
	DTCCount int
}

// Client is the facade the commands and the dashboard talk to.
type Client struct {
	session *elm.Session
	store   *dtc.Store
	timeout time.Duration

	mu        sync.Mutex
	vehicle   models.VehicleInfo
	supported map[byte]bool
	mon       *monitor.Monitor
}

// Option adjusts a Client.
type Option func(*Client)

// WithTimeout sets the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewClient(session *elm.Session, opts ...Option) *Client {
	c := &Client{
		session:   session,
		store:     dtc.NewStore(),
		timeout:   elm.DefaultTimeout,
		supported: make(map[byte]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect initializes the adapter and reads what the vehicle will tell
// us about itself. Identification failures are logged, not fatal; a
// handshake failure closes the transport.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.session.Initialize(ctx); err != nil {
		c.session.Close()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.vehicle = models.VehicleInfo{Protocol: c.session.Protocol().Description()}
	c.readVehicleInfo()
	c.readSupported()
	return nil
}

// Connected reports whether the session handshake has completed.
func (c *Client) Connected() bool {
	return c.session.Initialized()
}

// Disconnect stops monitoring and closes the session.
func (c *Client) Disconnect() error {
	c.StopMonitoring()
	return c.session.Close()
}

// Session exposes the underlying command session for module-addressed
// work (relearn procedures, ECU programming).
func (c *Client) Session() *elm.Session {
	return c.session
}

// Store exposes the trouble code store for reporting.
func (c *Client) Store() *dtc.Store {
	return c.store
}

// SendRaw sends a raw command on the session.
func (c *Client) SendRaw(cmd string) (string, error) {
	return c.session.Command(cmd, c.timeout)
}

// SetHeader addresses subsequent commands to a specific module.
func (c *Client) SetHeader(header string) error {
	return c.session.SetHeader(header)
}

// Voltage reads the battery voltage at the OBD port.
func (c *Client) Voltage() (float64, error) {
	return c.session.Voltage()
}

// AdapterInfo returns the adapter identification from the handshake.
func (c *Client) AdapterInfo() elm.AdapterInfo {
	return c.session.Info()
}

// VehicleInfo returns what Connect learned about the vehicle.
func (c *Client) VehicleInfo() models.VehicleInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.vehicle
	v.SupportedPIDs = append([]byte(nil), c.vehicle.SupportedPIDs...)
	return v
}

// VIN returns the vehicle identification number, if it was readable.
func (c *Client) VIN() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vehicle.VIN
}

// CalibrationID returns the ECU calibration identification.
func (c *Client) CalibrationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vehicle.CalibrationID
}

// Supports reports whether the vehicle advertised the PID. An empty
// bitmap (identification failed) counts as unknown, not unsupported.
func (c *Client) Supports(pid byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.supported) == 0 {
		return true
	}
	return c.supported[pid]
}

// Supported lists the advertised PIDs in order.
func (c *Client) Supported() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, 0, len(c.supported))
	for pid := range c.supported {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReadParameter reads and converts one live parameter.
func (c *Client) ReadParameter(pid byte) (models.Reading, error) {
	def, ok := Lookup(pid)
	if !ok {
		return models.Reading{}, fmt.Errorf("no definition for pid %02X", pid)
	}
	if !c.Supports(pid) {
		// Plenty of ECUs answer PIDs they do not advertise, so try anyway.
		log.Debug("pid not in support bitmap", zap.String("pid", fmt.Sprintf("%02X", pid)))
	}

	cmd := fmt.Sprintf("01%02X", pid)
	resp, err := c.session.Command(cmd, c.timeout)
	if err != nil {
		return models.Reading{}, err
	}
	data, err := Payload(cmd, resp)
	if err != nil {
		return models.Reading{}, err
	}
	if len(data) < def.Bytes {
		return models.Reading{}, fmt.Errorf("short reply for %s: %s", def.Name, FormatHex(data))
	}

	return models.Reading{
		PID:   pid,
		Name:  def.Name,
		Value: def.Convert(data),
		Unit:  def.Unit,
		Raw:   data,
		At:    time.Now(),
	}, nil
}

// ReadParameters reads several parameters, skipping the ones that fail.
func (c *Client) ReadParameters(pids []byte) []models.Reading {
	out := make([]models.Reading, 0, len(pids))
	for _, pid := range pids {
		r, err := c.ReadParameter(pid)
		if err != nil {
			log.Warn("parameter read failed",
				zap.String("pid", fmt.Sprintf("%02X", pid)),
				zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	return out
}

// Status reads the Mode 01 PID 01 MIL state and stored code count.
func (c *Client) Status() (Status, error) {
	resp, err := c.session.Command("0101", c.timeout)
	if err != nil {
		return Status{}, err
	}
	data, err := Payload("0101", resp)
	if err != nil {
		return Status{}, err
	}
	if len(data) < 1 {
		return Status{}, errors.New("empty status reply")
	}
	return Status{
		MILOn:    data[0]&0x80 != 0,
		DTCCount: int(data[0] & 0x7F),
	}, nil
}

// dtcModes maps a code status to the mode that reads it.
var dtcModes = map[models.DTCStatus]string{
	models.StatusCurrent:   "03",
	models.StatusPending:   "07",
	models.StatusPermanent: "0A",
}

// ReadDTCs reads the trouble codes of one status and refreshes the
// store. A NO DATA reply means no codes, not a failure.
func (c *Client) ReadDTCs(status models.DTCStatus) ([]models.DTC, error) {
	mode, ok := dtcModes[status]
	if !ok {
		return nil, fmt.Errorf("unknown dtc status %q", status)
	}

	resp, err := c.session.Command(mode, c.timeout)
	if err != nil {
		if errors.Is(err, elm.ErrNoData) {
			c.store.Replace(status, nil)
			return nil, nil
		}
		return nil, err
	}

	codes, err := dtc.Parse(Clean(resp))
	if err != nil {
		return nil, fmt.Errorf("mode %s: %w", mode, err)
	}

	now := time.Now()
	entries := make([]models.DTC, 0, len(codes))
	for _, code := range codes {
		entries = append(entries, models.DTC{
			Code:        code,
			Description: dtc.Describe(code),
			Status:      status,
			DetectedAt:  now,
		})
	}
	c.store.Replace(status, entries)
	return entries, nil
}

// ClearDTCs sends Mode 04. It clears current and pending codes and
// resets readiness monitors and freeze frames; permanent codes stay
// until the ECU ages them out.
func (c *Client) ClearDTCs() error {
	resp, err := c.session.Command("04", c.timeout)
	if err != nil {
		return err
	}
	cleaned := Clean(resp)
	if !strings.HasPrefix(cleaned, "44") && !strings.Contains(strings.ToUpper(resp), "OK") {
		return fmt.Errorf("clear not confirmed: %q", resp)
	}
	c.store.Clear()
	log.Info("trouble codes cleared")
	return nil
}

// ExportDTCs writes the current store snapshot as JSON.
func (c *Client) ExportDTCs(path string) error {
	return c.store.Export(path)
}

// DTCHistory returns every current code seen since startup.
func (c *Client) DTCHistory() []models.DTC {
	return c.store.History()
}

// FreezeFrame reads one parameter from a stored freeze frame.
func (c *Client) FreezeFrame(pid, frame byte) (models.Reading, error) {
	def, ok := Lookup(pid)
	if !ok {
		return models.Reading{}, fmt.Errorf("no definition for pid %02X", pid)
	}

	cmd := fmt.Sprintf("02%02X%02X", pid, frame)
	resp, err := c.session.Command(cmd, c.timeout)
	if err != nil {
		return models.Reading{}, err
	}
	data, err := Payload(cmd, resp)
	if err != nil {
		return models.Reading{}, err
	}
	if len(data) < def.Bytes {
		return models.Reading{}, fmt.Errorf("short freeze frame reply for %s", def.Name)
	}

	return models.Reading{
		PID:   pid,
		Name:  def.Name,
		Value: def.Convert(data),
		Unit:  def.Unit,
		Raw:   data,
		At:    time.Now(),
	}, nil
}

// FreezeFrameDTC reads the code that triggered a freeze frame.
func (c *Client) FreezeFrameDTC(frame byte) (string, error) {
	cmd := fmt.Sprintf("0202%02X", frame)
	resp, err := c.session.Command(cmd, c.timeout)
	if err != nil {
		return "", err
	}
	data, err := Payload(cmd, resp)
	if err != nil {
		return "", err
	}
	if len(data) < 2 {
		return "", errors.New("short freeze frame dtc reply")
	}
	if data[0] == 0 && data[1] == 0 {
		return "", nil
	}
	return dtc.Decode(data[0], data[1]), nil
}

// StartMonitoring begins a periodic poll of the given PIDs.
func (c *Client) StartMonitoring(ctx context.Context, pids []byte, interval time.Duration, fn func(models.Reading)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mon != nil && c.mon.Running() {
		return monitor.ErrRunning
	}

	m := monitor.New(c, pids, interval)
	if fn != nil {
		m.OnReading(fn)
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	c.mon = m
	return nil
}

// StopMonitoring halts the poll loop and waits for in-flight readings.
func (c *Client) StopMonitoring() {
	c.mu.Lock()
	m := c.mon
	c.mu.Unlock()
	if m != nil {
		m.Stop()
	}
}

// Monitor returns the active monitor, or nil when none ran yet.
func (c *Client) Monitor() *monitor.Monitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mon
}

// readVehicleInfo pulls VIN and calibration ID. Callers hold c.mu.
func (c *Client) readVehicleInfo() {
	if resp, err := c.session.Command("0902", c.timeout); err == nil {
		vin, err := ParseVIN(resp)
		if err != nil {
			log.Warn("vin unreadable", zap.Error(err))
		} else {
			c.vehicle.VIN = vin
		}
	}

	if resp, err := c.session.Command("0904", c.timeout); err == nil {
		id, err := ParseASCII("0904", resp)
		if err != nil {
			log.Warn("calibration id unreadable", zap.Error(err))
		} else {
			c.vehicle.CalibrationID = id
		}
	}
}

// readSupported walks the PID support windows. Callers hold c.mu.
func (c *Client) readSupported() {
	for base := byte(0x00); ; base += 0x20 {
		cmd := fmt.Sprintf("01%02X", base)
		resp, err := c.session.Command(cmd, c.timeout)
		if err != nil {
			log.Warn("pid support window unreadable",
				zap.String("command", cmd), zap.Error(err))
			return
		}
		pids, err := ParseSupportedPIDs(resp, base)
		if err != nil {
			log.Warn("pid support bitmap unreadable",
				zap.String("command", cmd), zap.Error(err))
			return
		}
		for _, pid := range pids {
			c.supported[pid] = true
		}

		if base >= 0xC0 || !c.supported[base+0x20] {
			break
		}
	}

	c.vehicle.SupportedPIDs = c.vehicle.SupportedPIDs[:0]
	for pid := range c.supported {
		c.vehicle.SupportedPIDs = append(c.vehicle.SupportedPIDs, pid)
	}
	sort.Slice(c.vehicle.SupportedPIDs, func(i, j int) bool {
		return c.vehicle.SupportedPIDs[i] < c.vehicle.SupportedPIDs[j]
	})
	log.Info("vehicle pid support read", zap.Int("pids", len(c.supported)))
}
