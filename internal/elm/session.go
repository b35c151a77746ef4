// Package elm drives the AT command dialect spoken by ELM327 adapters:
// initialization, protocol detection, command pacing and error
// classification. Higher layers talk OBD through Session.Command.
package elm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"scantool/internal/transport"
	"scantool/pkg/log"

	"github.com/avast/retry-go"
	"go.uber.org/zap"
)

const (
	CommandReset               = "ATZ"
	CommandVersion             = "ATI"
	CommandDeviceID            = "AT@1"
	CommandReadVoltage         = "ATRV"
	CommandEchoOff             = "ATE0"
	CommandLinefeedsOff        = "ATL0"
	CommandSpacesOff           = "ATS0"
	CommandMemoryOff           = "ATM0"
	CommandHeadersOn           = "ATH1"
	CommandResponseTimeout     = "ATST96"
	CommandSetProtocolAuto     = "ATSP0"
	CommandDescribeProtocol    = "ATDP"
	CommandDescribeProtocolNum = "ATDPN"
	CommandProtocolClose       = "ATPC"
	CommandLowPower            = "ATLP"
	CommandSetHeader           = "ATSH"
)

const (
	// DefaultTimeout bounds a single command exchange.
	DefaultTimeout = 5 * time.Second

	resetTimeout   = 3 * time.Second
	settingTimeout = 2 * time.Second

	// probeTimeout covers the 0100 probe, during which the adapter tries
	// every protocol in turn.
	probeTimeout = 10 * time.Second

	// minCommandInterval paces commands so clone adapters are not overrun.
	minCommandInterval = 100 * time.Millisecond

	resetAttempts = 3
)

// responseErrors are the adapter and bus failure texts an ELM327 can
// print in place of data. Specific patterns precede the bare ERROR so
// classification picks the most telling one.
var responseErrors = []string{
	"NO DATA",
	"UNABLE TO CONNECT",
	"STOPPED",
	"BUS INIT",
	"BUS ERROR",
	"CAN ERROR",
	"FB ERROR",
	"DATA ERROR",
	"LV RESET",
	"ERROR",
	"?",
}

var (
	ErrNotInitialized    = errors.New("session not initialized")
	ErrNoData            = errors.New("no data")
	ErrAdapterReset      = errors.New("adapter reset failed")
	ErrProtocolDetection = errors.New("protocol detection failed")
)

// CommandError reports an adapter error reply to a command.
type CommandError struct {
	Command  string
	Response string
	Pattern  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed: %s", e.Command, e.Pattern)
}

// Unwrap maps the NO DATA reply onto ErrNoData so callers can treat an
// empty result as a non-fatal condition.
func (e *CommandError) Unwrap() error {
	if e.Pattern == "NO DATA" {
		return ErrNoData
	}
	return nil
}

// AdapterInfo holds identification read during initialization.
type AdapterInfo struct {
	Version  string
	DeviceID string
	Voltage  float64
}

// Session owns a transport and serializes command exchanges on it.
type Session struct {
	tr transport.Transport

	mu           sync.Mutex
	initialized  bool
	lowPower     bool
	protocol     Protocol
	protocolDesc string
	info         AdapterInfo
	lastCommand  time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// NewSession creates a session over an opened transport.
func NewSession(tr transport.Transport) *Session {
	return &Session{
		tr:       tr,
		protocol: ProtocolUnknown,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Initialize resets the adapter, reads its identification, applies the
// standard settings and detects the vehicle protocol. It must succeed
// before Command is usable.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reset(ctx); err != nil {
		return err
	}
	s.readAdapterInfo()

	if err := ctx.Err(); err != nil {
		return err
	}
	s.applySettings()

	if err := s.detectProtocol(); err != nil {
		return err
	}

	s.initialized = true
	log.Info("adapter initialized",
		zap.String("version", s.info.Version),
		zap.Float64("voltage", s.info.Voltage),
		zap.String("protocol", s.protocol.Description()))
	return nil
}

// Initialized reports whether Initialize has completed.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Command sends a raw command and returns the response with the prompt
// and command echo removed. Adapter error replies come back as a
// *CommandError.
func (s *Session) Command(cmd string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return "", ErrNotInitialized
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return s.exchange(cmd, timeout)
}

// Probe sends a single reset and checks for the ELM banner. It is used
// during port scanning where a full Initialize would need a vehicle.
func (s *Session) Probe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.exchange(CommandReset, resetTimeout)
	if err != nil {
		return err
	}
	if !isELMBanner(resp) {
		return fmt.Errorf("not an ELM adapter: %q", resp)
	}
	return nil
}

// Protocol returns the detected protocol slot.
func (s *Session) Protocol() Protocol {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocol
}

// ProtocolDescription returns the ATDP text captured during detection.
func (s *Session) ProtocolDescription() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolDesc
}

// Info returns the adapter identification.
func (s *Session) Info() AdapterInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// DetectProtocol re-runs automatic protocol detection on an
// initialized session, for when the vehicle changed or a forced slot
// was wrong. The detected slot and ATDP text replace the current ones.
func (s *Session) DetectProtocol() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return s.detectProtocol()
}

// SetProtocol forces a specific protocol slot.
func (s *Session) SetProtocol(p Protocol) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	resp, err := s.exchange("ATSP"+string(p), settingTimeout)
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToUpper(resp), "OK") {
		return fmt.Errorf("protocol %s not accepted: %q", p, resp)
	}
	s.protocol = p
	return nil
}

// SetHeader sets the request header used for subsequent commands,
// addressing a specific module on CAN.
func (s *Session) SetHeader(header string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	resp, err := s.exchange(CommandSetHeader+header, settingTimeout)
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToUpper(resp), "OK") {
		return fmt.Errorf("header %s not accepted: %q", header, resp)
	}
	return nil
}

// Voltage reads the battery voltage at the OBD port.
func (s *Session) Voltage() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0, ErrNotInitialized
	}
	return s.readVoltage()
}

// EnterLowPower puts the adapter to sleep. Any subsequent traffic must
// be preceded by ExitLowPower.
func (s *Session) EnterLowPower() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	resp, err := s.exchange(CommandLowPower, settingTimeout)
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToUpper(resp), "OK") {
		return fmt.Errorf("low power mode not accepted: %q", resp)
	}
	s.lowPower = true
	log.Info("adapter entered low power mode")
	return nil
}

// ExitLowPower wakes the adapter. A single character on the wire wakes
// it; the wake banner is drained before returning.
func (s *Session) ExitLowPower() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lowPower {
		return nil
	}

	if err := s.tr.Send(" "); err != nil {
		return fmt.Errorf("wake adapter: %w", err)
	}
	s.sleep(time.Second)
	_, _ = s.collect(settingTimeout)

	s.lowPower = false
	log.Info("adapter woke from low power mode")
	return nil
}

// Close ends the protocol session on the adapter and closes the
// transport.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.initialized {
		if _, err := s.exchange(CommandProtocolClose, settingTimeout); err != nil {
			log.Debug("protocol close failed", zap.Error(err))
		}
		s.initialized = false
	}
	s.mu.Unlock()
	return s.tr.Close()
}

func (s *Session) reset(ctx context.Context) error {
	err := retry.Do(
		func() error {
			resp, err := s.exchange(CommandReset, resetTimeout)
			if err != nil {
				return err
			}
			if !isELMBanner(resp) {
				return fmt.Errorf("unexpected reset response %q", resp)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(resetAttempts),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("adapter reset failed, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdapterReset, err)
	}

	// The adapter needs a moment after reset before it accepts commands.
	s.sleep(time.Second)
	return nil
}

// readAdapterInfo gathers identification. None of it is required, so
// failures only log.
func (s *Session) readAdapterInfo() {
	if resp, err := s.exchange(CommandVersion, settingTimeout); err == nil {
		s.info.Version = resp
	}
	if resp, err := s.exchange(CommandDeviceID, settingTimeout); err == nil {
		s.info.DeviceID = resp
	}

	v, err := s.readVoltage()
	if err != nil {
		log.Warn("could not read adapter voltage", zap.Error(err))
		return
	}
	s.info.Voltage = v
	if v < 6.0 {
		log.Warn("battery voltage low", zap.Float64("voltage", v))
	}
}

func (s *Session) applySettings() {
	settings := []string{
		CommandEchoOff,
		CommandLinefeedsOff,
		CommandSpacesOff,
		CommandMemoryOff,
		CommandHeadersOn,
		CommandResponseTimeout,
	}

	for _, cmd := range settings {
		resp, err := s.exchange(cmd, settingTimeout)
		if err != nil || !strings.Contains(strings.ToUpper(resp), "OK") {
			log.Warn("adapter setting not accepted",
				zap.String("command", cmd),
				zap.String("response", resp),
				zap.Error(err))
		}
	}
}

func (s *Session) detectProtocol() error {
	resp, err := s.exchange(CommandSetProtocolAuto, settingTimeout)
	if err != nil || !strings.Contains(strings.ToUpper(resp), "OK") {
		return fmt.Errorf("%w: ATSP0 not accepted: %q", ErrProtocolDetection, resp)
	}

	// The 0100 probe makes the adapter search every protocol for a
	// responding vehicle.
	if _, err := s.exchange("0100", probeTimeout); err != nil {
		return fmt.Errorf("%w: no answer to 0100 probe: %v", ErrProtocolDetection, err)
	}

	desc, err := s.exchange(CommandDescribeProtocol, settingTimeout)
	if err != nil {
		// The vehicle answered, missing protocol text is cosmetic.
		s.protocol = ProtocolAuto
		s.protocolDesc = ""
		return nil
	}
	s.protocolDesc = desc
	s.protocol = ProtocolFromDescription(desc)

	if s.protocol == ProtocolUnknown {
		if num, err := s.exchange(CommandDescribeProtocolNum, settingTimeout); err == nil {
			num = strings.TrimPrefix(strings.TrimSpace(num), "A")
			if p := Protocol(num); p.known() {
				s.protocol = p
			}
		}
	}
	if s.protocol == ProtocolUnknown {
		s.protocol = ProtocolAuto
	}

	log.Info("protocol detected", zap.String("protocol", s.protocol.Description()))
	return nil
}

// exchange sends one command and collects the reply up to the prompt.
// Callers hold s.mu.
func (s *Session) exchange(cmd string, timeout time.Duration) (string, error) {
	if wait := minCommandInterval - s.now().Sub(s.lastCommand); wait > 0 {
		s.sleep(wait)
	}

	if err := s.tr.Send(cmd); err != nil {
		return "", fmt.Errorf("command %q: %w", cmd, err)
	}

	raw, err := s.collect(timeout)
	s.lastCommand = s.now()
	if err != nil {
		return "", fmt.Errorf("command %q: %w", cmd, err)
	}

	resp := normalize(cmd, raw)
	log.Debug("exchange", zap.String("command", cmd), zap.String("response", resp))

	if pattern, found := matchError(resp); found {
		return "", &CommandError{Command: cmd, Response: resp, Pattern: pattern}
	}
	return resp, nil
}

// collect accumulates transport reads until the prompt shows up or the
// timeout elapses. Partial data at timeout is returned as-is.
func (s *Session) collect(timeout time.Duration) (string, error) {
	var sb strings.Builder
	deadline := s.now().Add(timeout)

	for {
		remaining := deadline.Sub(s.now())
		if remaining <= 0 {
			if sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", transport.ErrReadTimeout
		}

		chunk, err := s.tr.Receive(remaining)
		if err != nil {
			if errors.Is(err, transport.ErrReadTimeout) && sb.Len() > 0 {
				return sb.String(), nil
			}
			return sb.String(), err
		}

		sb.WriteString(chunk)
		if strings.IndexByte(chunk, transport.Prompt) >= 0 {
			return sb.String(), nil
		}
	}
}

// normalize strips the prompt, the command echo and blank lines, and
// joins the remaining lines with single spaces.
func normalize(cmd, raw string) string {
	raw = strings.ReplaceAll(raw, string(transport.Prompt), "")
	raw = strings.ReplaceAll(raw, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(raw, "\r") {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, cmd) {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, " ")
}

func matchError(resp string) (string, bool) {
	upper := strings.ToUpper(resp)
	for _, pattern := range responseErrors {
		if strings.Contains(upper, pattern) {
			return pattern, true
		}
	}
	return "", false
}

func isELMBanner(resp string) bool {
	return strings.Contains(resp, "ELM327") || strings.Contains(resp, "ELM320")
}

func (s *Session) readVoltage() (float64, error) {
	resp, err := s.exchange(CommandReadVoltage, settingTimeout)
	if err != nil {
		return 0, err
	}
	return parseVoltage(resp)
}

func parseVoltage(resp string) (float64, error) {
	v := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(resp)), "V")
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse voltage %q: %w", resp, err)
	}
	return f, nil
}

// AutoDetect scans the host's serial ports for an adapter that answers
// the reset banner, returning the first matching device path.
func AutoDetect(baud int) (string, error) {
	ports, err := transport.ListPorts()
	if err != nil {
		return "", err
	}

	for _, p := range ports {
		tr := transport.NewSerial(transport.Config{Address: p.Device, Baud: baud})
		if err := tr.Open(); err != nil {
			continue
		}

		sess := NewSession(tr)
		err = sess.Probe()
		tr.Close()
		if err != nil {
			log.Debug("no adapter", zap.String("device", p.Device), zap.Error(err))
			continue
		}

		log.Info("adapter found", zap.String("device", p.Device))
		return p.Device, nil
	}
	return "", fmt.Errorf("no adapter found on %d ports", len(ports))
}
