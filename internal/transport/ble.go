package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"scantool/pkg/log"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// BLE adapters expose the byte stream through the well known FFF0 service:
// notifications arrive on FFF1, commands are written to FFF2.
const (
	bleServiceUUID = "0000fff0-0000-1000-8000-00805f9b34fb"
	bleNotifyUUID  = "0000fff1-0000-1000-8000-00805f9b34fb"
	bleWriteUUID   = "0000fff2-0000-1000-8000-00805f9b34fb"
)

// bleChunkSize keeps writes inside the default ATT payload.
const bleChunkSize = 20

const scanTimeout = 15 * time.Second

// Bluetooth talks to a BLE adapter through GATT characteristics.
type Bluetooth struct {
	name string

	mu        sync.Mutex
	device    bluetooth.Device
	write     *bluetooth.DeviceCharacteristic
	incoming  chan []byte
	connected bool
}

// NewBluetooth creates a BLE transport. The address is matched against
// advertised device names; empty matches anything containing "obd".
func NewBluetooth(cfg Config) *Bluetooth {
	return &Bluetooth{name: cfg.Address}
}

func (b *Bluetooth) Open() error {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth: %w", err)
	}

	result, err := b.scan(adapter)
	if err != nil {
		return err
	}

	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connect %s: %w", result.LocalName(), err)
	}

	write, notify, err := discoverCharacteristics(device)
	if err != nil {
		device.Disconnect()
		return err
	}

	incoming := make(chan []byte, 32)
	err = notify.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		select {
		case incoming <- data:
		default:
			log.Warn("dropped bluetooth notification, buffer full")
		}
	})
	if err != nil {
		device.Disconnect()
		return fmt.Errorf("enable notifications: %w", err)
	}

	b.mu.Lock()
	b.device = device
	b.write = write
	b.incoming = incoming
	b.connected = true
	b.mu.Unlock()

	log.Info("bluetooth transport connected", zap.String("device", result.LocalName()))
	return nil
}

func (b *Bluetooth) scan(adapter *bluetooth.Adapter) (bluetooth.ScanResult, error) {
	var result bluetooth.ScanResult
	var found bool

	timer := time.AfterFunc(scanTimeout, func() { adapter.StopScan() })
	defer timer.Stop()

	err := adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
		name := strings.ToLower(r.LocalName())
		if name == "" {
			return
		}
		if b.name == "" && !strings.Contains(name, "obd") {
			return
		}
		if b.name != "" && !strings.Contains(name, strings.ToLower(b.name)) {
			return
		}
		result = r
		found = true
		a.StopScan()
	})
	if err != nil {
		return result, fmt.Errorf("bluetooth scan: %w", err)
	}
	if !found {
		return result, fmt.Errorf("no adapter found matching %q", b.name)
	}
	return result, nil
}

func discoverCharacteristics(device bluetooth.Device) (write, notify *bluetooth.DeviceCharacteristic, err error) {
	services, err := device.DiscoverServices(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("discover services: %w", err)
	}

	var service *bluetooth.DeviceService
	for i := range services {
		if strings.EqualFold(services[i].UUID().String(), bleServiceUUID) {
			service = &services[i]
			break
		}
	}
	if service == nil {
		return nil, nil, fmt.Errorf("service %s not found", bleServiceUUID)
	}

	chars, err := service.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("discover characteristics: %w", err)
	}

	for i := range chars {
		uuid := chars[i].UUID().String()
		if strings.EqualFold(uuid, bleWriteUUID) {
			write = &chars[i]
		}
		if strings.EqualFold(uuid, bleNotifyUUID) {
			notify = &chars[i]
		}
	}
	if write == nil || notify == nil {
		return nil, nil, fmt.Errorf("adapter does not expose the FFF1/FFF2 characteristics")
	}
	return write, notify, nil
}

func (b *Bluetooth) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	b.connected = false
	b.write = nil
	return b.device.Disconnect()
}

func (b *Bluetooth) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Send writes the command in ATT-sized chunks.
func (b *Bluetooth) Send(cmd string) error {
	b.mu.Lock()
	write := b.write
	incoming := b.incoming
	b.mu.Unlock()
	if write == nil {
		return ErrClosed
	}

	for len(incoming) > 0 {
		<-incoming
	}

	data := []byte(terminate(cmd))
	for len(data) > 0 {
		chunk := data
		if len(chunk) > bleChunkSize {
			chunk = chunk[:bleChunkSize]
		}
		if _, err := write.WriteWithoutResponse(chunk); err != nil {
			return fmt.Errorf("write %q: %w", cmd, err)
		}
		data = data[len(chunk):]
	}
	return nil
}

// Receive collects notification payloads until the prompt or the timeout.
func (b *Bluetooth) Receive(timeout time.Duration) (string, error) {
	b.mu.Lock()
	incoming := b.incoming
	connected := b.connected
	b.mu.Unlock()
	if !connected {
		return "", ErrClosed
	}

	var sb strings.Builder
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case data := <-incoming:
			sb.Write(data)
			if strings.IndexByte(string(data), Prompt) >= 0 {
				return sb.String(), nil
			}
		case <-timer.C:
			if sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", fmt.Errorf("%w after %s", ErrReadTimeout, timeout)
		}
	}
}
