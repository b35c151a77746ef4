// Package ecu talks ISO 14229 diagnostics to individual control
// modules: identification, programming sessions with seed/key security
// access, memory access and firmware transfer.
package ecu

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"

	"scantool/internal/elm"
	"scantool/internal/obd"
	"scantool/pkg/log"
)

// Commander is the session surface the programmer needs. *elm.Session
// satisfies it.
type Commander interface {
	Command(cmd string, timeout time.Duration) (string, error)
	SetHeader(header string) error
	Protocol() elm.Protocol
}

// KeyFunc derives the security access key from the ECU's seed. Real
// algorithms are manufacturer secrets; DefaultKey is the placeholder
// transform used when none is supplied.
type KeyFunc func(seed uint32) uint32

// DefaultKey is a stand-in transform, not any manufacturer's algorithm.
func DefaultKey(seed uint32) uint32 {
	return (seed ^ 0x5555) + 0x1234
}

// Info identifies one control module.
type Info struct {
	Address         string
	Name            string
	PartNumber      string
	SoftwareVersion string
	HardwareVersion string
	SerialNumber    string
}

const (
	commandTimeout  = 5 * time.Second
	memoryTimeout   = 10 * time.Second
	eraseTimeout    = 30 * time.Second
	securityRetries = 3

	// transferBlockSize is the payload carried per 0x36 request.
	transferBlockSize = 256
)

// canAddresses are the functional request headers probed during a scan
// on CAN buses, with the module each conventionally belongs to.
var canAddresses = []struct {
	header string
	module string
}{
	{"7E0", "Engine"},
	{"7E1", "Transmission"},
	{"7E2", "ABS/ESP"},
	{"7E3", "Airbag"},
	{"7E4", "Climate Control"},
	{"7E5", "Body Control"},
	{"7E8", "Engine (alt)"},
	{"7EA", "Transmission (alt)"},
	{"7EB", "ABS (alt)"},
}

// kLineAddresses are the probe targets for non-CAN protocols, which
// have no per-module headers to set.
var kLineAddresses = []string{"10", "11", "12", "13", "18", "28"}

var ErrNoSession = errors.New("programming session not active")

// Programmer drives programming work against one module at a time.
type Programmer struct {
	cmd Commander
	key KeyFunc

	mu      sync.Mutex
	active  bool
	target  string
	sleep   func(time.Duration)
}

// Option adjusts a Programmer.
type Option func(*Programmer)

// WithKeyFunc installs a manufacturer security access algorithm.
func WithKeyFunc(fn KeyFunc) Option {
	return func(p *Programmer) {
		if fn != nil {
			p.key = fn
		}
	}
}

func New(cmd Commander, opts ...Option) *Programmer {
	p := &Programmer{
		cmd:   cmd,
		key:   DefaultKey,
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Scan probes the usual module addresses and returns every ECU that
// answered an identification read.
func (p *Programmer) Scan() ([]Info, error) {
	var found []Info

	if p.cmd.Protocol().CAN() {
		for _, addr := range canAddresses {
			if err := p.cmd.SetHeader(addr.header); err != nil {
				log.Debug("header not accepted", zap.String("address", addr.header), zap.Error(err))
				continue
			}
			info, err := p.identify(addr.header)
			if err != nil {
				log.Debug("no ecu", zap.String("address", addr.header), zap.Error(err))
				continue
			}
			if info.Name == "" {
				info.Name = addr.module
			}
			found = append(found, info)
		}
		return found, nil
	}

	for _, addr := range kLineAddresses {
		info, err := p.identify(addr)
		if err != nil {
			log.Debug("no ecu", zap.String("address", addr), zap.Error(err))
			continue
		}
		found = append(found, info)
	}
	return found, nil
}

// Identify reads the identification records of the module at the given
// address.
func (p *Programmer) Identify(address string) (Info, error) {
	if p.cmd.Protocol().CAN() {
		if err := p.cmd.SetHeader(address); err != nil {
			return Info{}, fmt.Errorf("address %s: %w", address, err)
		}
	}
	return p.identify(address)
}

func (p *Programmer) identify(address string) (Info, error) {
	info := Info{Address: address}
	info.PartNumber = p.readIdentifier("F187")
	info.SoftwareVersion = p.readIdentifier("F188")
	info.HardwareVersion = p.readIdentifier("F189")
	info.Name = p.readIdentifier("F18A")
	info.SerialNumber = p.readIdentifier("F186")

	if info.PartNumber == "" && info.SoftwareVersion == "" {
		return Info{}, fmt.Errorf("no identification from %s", address)
	}
	return info, nil
}

// readIdentifier reads one 0x22 record as printable text. Missing
// records come back empty; identification is best effort.
func (p *Programmer) readIdentifier(id string) string {
	data, err := p.request("22"+id, commandTimeout)
	if err != nil {
		return ""
	}
	// The reply echoes the identifier before the record content.
	if len(data) < 2 {
		return ""
	}
	var sb strings.Builder
	for _, b := range data[2:] {
		if b >= 32 && b <= 126 {
			sb.WriteByte(b)
		}
	}
	return strings.TrimSpace(sb.String())
}

// EnterProgramming switches the module at address into a programming
// session: extended session, seed/key security access, DTC recording
// off. It must be paired with ExitProgramming.
func (p *Programmer) EnterProgramming(address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return fmt.Errorf("programming session already active on %s", p.target)
	}

	if p.cmd.Protocol().CAN() {
		if err := p.cmd.SetHeader(address); err != nil {
			return fmt.Errorf("address %s: %w", address, err)
		}
	}

	if _, err := p.request("1002", commandTimeout); err != nil {
		return fmt.Errorf("programming session: %w", err)
	}
	if err := p.securityAccess(); err != nil {
		return fmt.Errorf("security access: %w", err)
	}
	if _, err := p.request("8502", commandTimeout); err != nil {
		return fmt.Errorf("disable dtc setting: %w", err)
	}

	p.active = true
	p.target = address
	log.Info("programming session active", zap.String("address", address))
	return nil
}

// securityAccess runs the 0x27 seed/key exchange. A zero seed means the
// module is already unlocked.
func (p *Programmer) securityAccess() error {
	return retry.Do(
		func() error {
			seedData, err := p.request("2701", commandTimeout)
			if err != nil {
				return err
			}
			// Reply payload starts with the sub-function echo.
			if len(seedData) < 1 {
				return errors.New("empty seed reply")
			}
			seedBytes := seedData[1:]
			if len(seedBytes) > 4 {
				seedBytes = seedBytes[:4]
			}

			var seed uint32
			for _, b := range seedBytes {
				seed = seed<<8 | uint32(b)
			}
			if seed == 0 {
				return nil
			}

			key := p.key(seed)
			width := len(seedBytes) * 2
			if _, err := p.request(fmt.Sprintf("2702%0*X", width, key), commandTimeout); err != nil {
				return err
			}
			return nil
		},
		retry.Attempts(securityRetries),
		retry.RetryIf(func(err error) bool {
			var neg *NegativeResponseError
			return errors.As(err, &neg) && neg.Retryable()
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("security access retry", zap.Uint("attempt", n+1), zap.Error(err))
		}),
		retry.LastErrorOnly(true),
	)
}

// ExitProgramming restores normal operation: DTC recording on, default
// session, hard reset, then a settle wait while the module restarts.
func (p *Programmer) ExitProgramming() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return ErrNoSession
	}

	// Best effort teardown. The reset wipes the session either way.
	if _, err := p.request("8501", commandTimeout); err != nil {
		log.Warn("enable dtc setting failed", zap.Error(err))
	}
	if _, err := p.request("1001", commandTimeout); err != nil {
		log.Warn("default session failed", zap.Error(err))
	}
	if _, err := p.request("1101", commandTimeout); err != nil {
		log.Warn("ecu reset failed", zap.Error(err))
	}

	p.active = false
	p.target = ""
	p.sleep(3 * time.Second)
	log.Info("programming session closed")
	return nil
}

// Active reports whether a programming session is open.
func (p *Programmer) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// ReadMemory reads size bytes starting at addr with service 0x23.
func (p *Programmer) ReadMemory(addr uint32, size int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return nil, ErrNoSession
	}
	return p.readMemory(addr, size)
}

func (p *Programmer) readMemory(addr uint32, size int) ([]byte, error) {
	data, err := p.request(fmt.Sprintf("23%08X%04X", addr, size), memoryTimeout)
	if err != nil {
		return nil, fmt.Errorf("read %08X+%d: %w", addr, size, err)
	}
	return data, nil
}

// WriteMemory writes data at addr with service 0x3D.
func (p *Programmer) WriteMemory(addr uint32, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return ErrNoSession
	}

	cmd := fmt.Sprintf("3D%08X%04X%X", addr, len(data), data)
	if _, err := p.request(cmd, memoryTimeout); err != nil {
		return fmt.Errorf("write %08X+%d: %w", addr, len(data), err)
	}
	return nil
}

// Flash transfers a firmware image: erase, request download, 0x36
// blocks with a rolling counter, transfer exit, then a read-back
// verification. progress, if set, is called after every block.
func (p *Programmer) Flash(firmware []byte, progress func(done, total int)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return ErrNoSession
	}
	if len(firmware) == 0 {
		return errors.New("empty firmware image")
	}

	log.Info("flash started", zap.Int("bytes", len(firmware)))

	if _, err := p.request("310101FF00", eraseTimeout); err != nil {
		return fmt.Errorf("erase routine: %w", err)
	}
	if _, err := p.request(fmt.Sprintf("340000000000%08X", len(firmware)), commandTimeout); err != nil {
		return fmt.Errorf("request download: %w", err)
	}

	total := (len(firmware) + transferBlockSize - 1) / transferBlockSize
	counter := byte(1)
	for block := 0; block < total; block++ {
		start := block * transferBlockSize
		end := start + transferBlockSize
		if end > len(firmware) {
			end = len(firmware)
		}

		cmd := fmt.Sprintf("36%02X%X", counter, firmware[start:end])
		if _, err := p.request(cmd, commandTimeout); err != nil {
			return fmt.Errorf("transfer block %d/%d: %w", block+1, total, err)
		}
		counter++
		if progress != nil {
			progress(block+1, total)
		}
	}

	if _, err := p.request("37", commandTimeout); err != nil {
		return fmt.Errorf("transfer exit: %w", err)
	}

	if err := p.verify(firmware); err != nil {
		return err
	}
	log.Info("flash completed", zap.Int("bytes", len(firmware)))
	return nil
}

// verify reads the flashed range back and compares it to the image.
func (p *Programmer) verify(firmware []byte) error {
	readBack := make([]byte, 0, len(firmware))
	for offset := 0; offset < len(firmware); offset += 1024 {
		size := 1024
		if offset+size > len(firmware) {
			size = len(firmware) - offset
		}
		chunk, err := p.readMemory(uint32(offset), size)
		if err != nil {
			return fmt.Errorf("verification read: %w", err)
		}
		readBack = append(readBack, chunk...)
	}

	if !bytes.Equal(readBack, firmware) {
		return fmt.Errorf("verification failed: checksum %02X read back, %02X written",
			obd.Checksum(readBack), obd.Checksum(firmware))
	}
	return nil
}

// Backup reads size bytes of module memory, 1 KiB at a time.
func (p *Programmer) Backup(size int, progress func(done, total int)) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return nil, ErrNoSession
	}

	out := make([]byte, 0, size)
	for offset := 0; offset < size; offset += 1024 {
		chunk := 1024
		if offset+chunk > size {
			chunk = size - offset
		}
		data, err := p.readMemory(uint32(offset), chunk)
		if err != nil {
			return nil, fmt.Errorf("backup at %08X: %w", offset, err)
		}
		out = append(out, data...)
		if progress != nil {
			progress(len(out), size)
		}
	}
	return out, nil
}

// request sends one diagnostic request and returns the payload after
// the positive response echo. Negative replies become typed errors.
func (p *Programmer) request(cmd string, timeout time.Duration) ([]byte, error) {
	resp, err := p.cmd.Command(cmd, timeout)
	if err != nil {
		return nil, err
	}

	cleaned := obd.Clean(resp)
	if cleaned == "" {
		return nil, fmt.Errorf("empty reply to %q", cmd)
	}

	if strings.HasPrefix(cleaned, "7F") {
		raw, err := hex.DecodeString(cleaned)
		if err != nil || len(raw) < 3 {
			return nil, fmt.Errorf("malformed negative reply %q", cleaned)
		}
		return nil, &NegativeResponseError{Service: raw[1], Code: raw[2]}
	}

	if !obd.Verify(cmd, cleaned) {
		return nil, fmt.Errorf("reply %q does not answer %q", cleaned, cmd)
	}
	if len(cleaned) <= 2 {
		return nil, nil
	}

	payload := cleaned[2:]
	if len(payload)%2 == 1 {
		payload = payload[:len(payload)-1]
	}
	data, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload in %q: %w", cleaned, err)
	}
	return data, nil
}
