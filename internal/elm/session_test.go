package elm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"scantool/internal/transport"
)

// scriptTransport answers commands from a canned script. Each response
// may be split into chunks to exercise prompt accumulation.
type scriptTransport struct {
	script  map[string][][]string
	sent    []string
	pending []string
	open    bool
	sendErr error
}

func newScriptTransport() *scriptTransport {
	return &scriptTransport{script: make(map[string][][]string), open: true}
}

func (f *scriptTransport) on(cmd string, responses ...string) {
	key := strings.ToUpper(cmd)
	for _, r := range responses {
		f.script[key] = append(f.script[key], []string{r})
	}
}

func (f *scriptTransport) onChunked(cmd string, chunks ...string) {
	key := strings.ToUpper(cmd)
	f.script[key] = append(f.script[key], chunks)
}

func (f *scriptTransport) Open() error  { f.open = true; return nil }
func (f *scriptTransport) Close() error { f.open = false; return nil }

func (f *scriptTransport) Connected() bool { return f.open }

func (f *scriptTransport) Send(cmd string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	cmd = strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(cmd), "\r"))
	f.sent = append(f.sent, cmd)

	queue := f.script[cmd]
	switch len(queue) {
	case 0:
		f.pending = []string{"?\r\r>"}
	case 1:
		f.pending = queue[0]
	default:
		f.pending = queue[0]
		f.script[cmd] = queue[1:]
	}
	return nil
}

func (f *scriptTransport) Receive(timeout time.Duration) (string, error) {
	if len(f.pending) == 0 {
		return "", transport.ErrReadTimeout
	}
	chunk := f.pending[0]
	f.pending = f.pending[1:]
	return chunk, nil
}

func (f *scriptTransport) count(cmd string) int {
	n := 0
	for _, s := range f.sent {
		if s == cmd {
			n++
		}
	}
	return n
}

type fakeClock struct {
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
}

func newTestSession(tr transport.Transport) (*Session, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	s := NewSession(tr)
	s.now = clk.now
	s.sleep = clk.sleep
	return s, clk
}

// initScript answers everything Initialize sends, describing an 11 bit
// 500 kbaud CAN vehicle.
func initScript() *scriptTransport {
	f := newScriptTransport()
	f.on("ATZ", "ATZ\rELM327 v1.5\r\r>")
	f.on("ATI", "ELM327 v1.5\r\r>")
	f.on("AT@1", "OBDII to RS232 Interpreter\r\r>")
	f.on("ATRV", "12.6V\r\r>")
	f.on("ATE0", "OK\r\r>")
	f.on("ATL0", "OK\r\r>")
	f.on("ATS0", "OK\r\r>")
	f.on("ATM0", "OK\r\r>")
	f.on("ATH1", "OK\r\r>")
	f.on("ATST96", "OK\r\r>")
	f.on("ATSP0", "OK\r\r>")
	f.on("0100", "SEARCHING...\r4100BE3FA813\r\r>")
	f.on("ATDP", "AUTO, ISO 15765-4 (CAN 11/500)\r\r>")
	return f
}

func TestInitialize(t *testing.T) {
	f := initScript()
	s, clk := newTestSession(f)

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if !s.Initialized() {
		t.Error("Initialized() = false after successful Initialize")
	}
	if got := s.Protocol(); got != ProtocolISO15765_11 {
		t.Errorf("Protocol() = %q, want %q", got, ProtocolISO15765_11)
	}

	info := s.Info()
	if info.Version != "ELM327 v1.5" {
		t.Errorf("info.Version = %q, want ELM327 v1.5", info.Version)
	}
	if info.Voltage != 12.6 {
		t.Errorf("info.Voltage = %v, want 12.6", info.Voltage)
	}

	// Reset settle time.
	found := false
	for _, d := range clk.slept {
		if d == time.Second {
			found = true
		}
	}
	if !found {
		t.Error("no 1s settle sleep after reset")
	}

	// The settings must go out before protocol detection.
	settings := []string{"ATE0", "ATL0", "ATS0", "ATM0", "ATH1", "ATST96", "ATSP0", "0100", "ATDP"}
	idx := 0
	for _, cmd := range f.sent {
		if idx < len(settings) && cmd == settings[idx] {
			idx++
		}
	}
	if idx != len(settings) {
		t.Errorf("init sequence stopped at %s, sent: %v", settings[idx], f.sent)
	}
}

func TestInitializeResetRetry(t *testing.T) {
	f := initScript()
	f.script["ATZ"] = nil
	f.on("ATZ", "?\r\r>", "\r\r>", "ELM327 v1.5\r\r>")
	s, _ := newTestSession(f)

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := f.count("ATZ"); got != 3 {
		t.Errorf("ATZ sent %d times, want 3", got)
	}
}

func TestInitializeResetFailure(t *testing.T) {
	f := initScript()
	f.script["ATZ"] = nil
	f.on("ATZ", "?\r\r>", "?\r\r>", "?\r\r>", "?\r\r>")
	s, _ := newTestSession(f)

	err := s.Initialize(context.Background())
	if !errors.Is(err, ErrAdapterReset) {
		t.Fatalf("Initialize error = %v, want ErrAdapterReset", err)
	}
	if s.Initialized() {
		t.Error("Initialized() = true after failed Initialize")
	}
	if got := f.count("ATZ"); got != 3 {
		t.Errorf("ATZ sent %d times, want 3", got)
	}
}

func TestInitializeNoVehicle(t *testing.T) {
	f := initScript()
	f.script["0100"] = nil
	f.on("0100", "UNABLE TO CONNECT\r\r>")
	s, _ := newTestSession(f)

	err := s.Initialize(context.Background())
	if !errors.Is(err, ErrProtocolDetection) {
		t.Fatalf("Initialize error = %v, want ErrProtocolDetection", err)
	}
}

func TestInitializeProtocolNumberFallback(t *testing.T) {
	f := initScript()
	f.script["ATDP"] = nil
	f.on("ATDP", "AUTO\r\r>")
	f.on("ATDPN", "A6\r\r>")
	s, _ := newTestSession(f)

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := s.Protocol(); got != ProtocolISO15765_11 {
		t.Errorf("Protocol() = %q, want %q", got, ProtocolISO15765_11)
	}
}

func TestCommandNotInitialized(t *testing.T) {
	s, _ := newTestSession(newScriptTransport())

	if _, err := s.Command("0100", 0); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Command error = %v, want ErrNotInitialized", err)
	}
	if _, err := s.Voltage(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Voltage error = %v, want ErrNotInitialized", err)
	}
	if err := s.SetHeader("7E0"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SetHeader error = %v, want ErrNotInitialized", err)
	}
}

func TestCommandStripsEchoAndPrompt(t *testing.T) {
	f := initScript()
	f.on("010C", "010C\r410C1AF8\r\r>")
	s, _ := newTestSession(f)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	resp, err := s.Command("010C", 0)
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if resp != "410C1AF8" {
		t.Errorf("Command response = %q, want 410C1AF8", resp)
	}
}

func TestCommandChunkedResponse(t *testing.T) {
	f := initScript()
	f.onChunked("0902", "014\r0:490201314731\r", "1:4A433534343452\r", "2:37323532333637\r\r>")
	s, _ := newTestSession(f)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	resp, err := s.Command("0902", 0)
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	want := "014 0:490201314731 1:4A433534343452 2:37323532333637"
	if resp != want {
		t.Errorf("Command response = %q, want %q", resp, want)
	}
}

func TestCommandErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		response string
		pattern  string
		noData   bool
	}{
		{"no data", "NO DATA\r\r>", "NO DATA", true},
		{"no data lowercase", "no data\r\r>", "NO DATA", true},
		{"unable to connect", "UNABLE TO CONNECT\r\r>", "UNABLE TO CONNECT", false},
		{"stopped", "STOPPED\r\r>", "STOPPED", false},
		{"bus init", "BUS INIT: ...ERROR\r\r>", "BUS INIT", false},
		{"can error", "CAN ERROR\r\r>", "CAN ERROR", false},
		{"unknown command", "?\r\r>", "?", false},
		{"low voltage reset", "LV RESET\r\r>", "LV RESET", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := initScript()
			f.on("0101", tt.response)
			s, _ := newTestSession(f)
			if err := s.Initialize(context.Background()); err != nil {
				t.Fatalf("Initialize failed: %v", err)
			}

			_, err := s.Command("0101", 0)
			var cmdErr *CommandError
			if !errors.As(err, &cmdErr) {
				t.Fatalf("Command error = %v, want *CommandError", err)
			}
			if cmdErr.Pattern != tt.pattern {
				t.Errorf("Pattern = %q, want %q", cmdErr.Pattern, tt.pattern)
			}
			if got := errors.Is(err, ErrNoData); got != tt.noData {
				t.Errorf("errors.Is(err, ErrNoData) = %v, want %v", got, tt.noData)
			}
		})
	}
}

func TestCommandPacing(t *testing.T) {
	f := initScript()
	f.on("010D", "410D37\r\r>", "410D37\r\r>")
	s, clk := newTestSession(f)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// No time has passed since the last init exchange, so the next
	// command waits out the full interval.
	if _, err := s.Command("010D", 0); err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if last := clk.slept[len(clk.slept)-1]; last != minCommandInterval {
		t.Errorf("pacing sleep = %v, want %v", last, minCommandInterval)
	}

	// After the interval has already elapsed there is nothing to wait for.
	clk.t = clk.t.Add(2 * minCommandInterval)
	before := len(clk.slept)
	if _, err := s.Command("010D", 0); err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if len(clk.slept) != before {
		t.Errorf("unexpected pacing sleep %v", clk.slept[len(clk.slept)-1])
	}
}

func TestVoltage(t *testing.T) {
	f := initScript()
	s, _ := newTestSession(f)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	v, err := s.Voltage()
	if err != nil {
		t.Fatalf("Voltage failed: %v", err)
	}
	if v != 12.6 {
		t.Errorf("Voltage() = %v, want 12.6", v)
	}
}

func TestParseVoltage(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"12.6V", 12.6, false},
		{"12.6v", 12.6, false},
		{"11.2", 11.2, false},
		{"  14.1V ", 14.1, false},
		{"garbage", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := parseVoltage(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseVoltage(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseVoltage(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDetectProtocolMidSession(t *testing.T) {
	f := initScript()
	s, _ := newTestSession(f)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := s.Protocol(); got != ProtocolISO15765_11 {
		t.Fatalf("Protocol() = %q after init, want %q", got, ProtocolISO15765_11)
	}

	// The adapter moved to a KWP vehicle; re-detection must pick up the
	// new protocol and ATDP text.
	f.script["ATDP"] = nil
	f.on("ATDP", "AUTO, ISO 14230-4 (KWP FAST)\r\r>")

	if err := s.DetectProtocol(); err != nil {
		t.Fatalf("DetectProtocol failed: %v", err)
	}
	if got := s.Protocol(); got != ProtocolISO14230 {
		t.Errorf("Protocol() = %q after re-detection, want %q", got, ProtocolISO14230)
	}
	if desc := s.ProtocolDescription(); !strings.Contains(desc, "KWP") {
		t.Errorf("ProtocolDescription() = %q, want KWP text", desc)
	}

	// Re-detection runs the full auto sequence again.
	if f.count("ATSP0") != 2 || f.count("0100") != 2 {
		t.Errorf("ATSP0/0100 not re-sent, sent: %v", f.sent)
	}
}

func TestDetectProtocolNotInitialized(t *testing.T) {
	s, _ := newTestSession(newScriptTransport())
	if err := s.DetectProtocol(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("DetectProtocol error = %v, want ErrNotInitialized", err)
	}
}

func TestSetProtocol(t *testing.T) {
	f := initScript()
	f.on("ATSP6", "OK\r\r>")
	s, _ := newTestSession(f)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if err := s.SetProtocol(ProtocolISO15765_11); err != nil {
		t.Fatalf("SetProtocol failed: %v", err)
	}
	if got := s.Protocol(); got != ProtocolISO15765_11 {
		t.Errorf("Protocol() = %q after SetProtocol", got)
	}
}

func TestSetHeader(t *testing.T) {
	f := initScript()
	f.on("ATSH7E0", "OK\r\r>")
	s, _ := newTestSession(f)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if err := s.SetHeader("7E0"); err != nil {
		t.Fatalf("SetHeader failed: %v", err)
	}
	if f.count("ATSH7E0") != 1 {
		t.Errorf("ATSH7E0 not sent, sent: %v", f.sent)
	}
}

func TestLowPower(t *testing.T) {
	f := initScript()
	f.on("ATLP", "OK\r\r>")
	s, clk := newTestSession(f)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if err := s.EnterLowPower(); err != nil {
		t.Fatalf("EnterLowPower failed: %v", err)
	}
	if !s.lowPower {
		t.Error("lowPower = false after EnterLowPower")
	}

	before := len(clk.slept)
	if err := s.ExitLowPower(); err != nil {
		t.Fatalf("ExitLowPower failed: %v", err)
	}
	if s.lowPower {
		t.Error("lowPower = true after ExitLowPower")
	}
	if len(clk.slept) == before || clk.slept[len(clk.slept)-1] != time.Second {
		t.Error("ExitLowPower did not wait for adapter wake")
	}

	// Exit when already awake is a no-op.
	sends := len(f.sent)
	if err := s.ExitLowPower(); err != nil {
		t.Fatalf("ExitLowPower failed: %v", err)
	}
	if len(f.sent) != sends {
		t.Error("ExitLowPower sent traffic while awake")
	}
}

func TestClose(t *testing.T) {
	f := initScript()
	f.on("ATPC", "OK\r\r>")
	s, _ := newTestSession(f)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if f.count("ATPC") != 1 {
		t.Error("protocol close not sent")
	}
	if f.open {
		t.Error("transport still open after Close")
	}
	if s.Initialized() {
		t.Error("Initialized() = true after Close")
	}
}

func TestProbe(t *testing.T) {
	f := newScriptTransport()
	f.on("ATZ", "ELM327 v1.5\r\r>")
	s, _ := newTestSession(f)

	if err := s.Probe(); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	f = newScriptTransport()
	f.on("ATZ", "NOT AN ADAPTER\r\r>")
	s, _ = newTestSession(f)
	if err := s.Probe(); err == nil {
		t.Error("Probe succeeded against a non-ELM device")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		raw  string
		want string
	}{
		{"echo and prompt", "0100", "0100\r4100BE3FA813\r\r>", "4100BE3FA813"},
		{"echo case insensitive", "ATZ", "atz\rELM327 v1.5\r\r>", "ELM327 v1.5"},
		{"multiline joined", "03", "43 02\r03 00\r\r>", "43 02 03 00"},
		{"lf line endings", "ATI", "ATI\nELM327 v1.5\n>", "ELM327 v1.5"},
		{"blank only", "ATZ", "\r\r>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalize(tt.cmd, tt.raw); got != tt.want {
				t.Errorf("normalize(%q, %q) = %q, want %q", tt.cmd, tt.raw, got, tt.want)
			}
		})
	}
}
