package ecu

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"scantool/internal/elm"
)

// fakeCommander answers diagnostic requests from a canned map and
// records everything sent.
type fakeCommander struct {
	responses map[string]string
	sent      []string
	protocol  elm.Protocol
	headerErr error
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{
		responses: make(map[string]string),
		protocol:  elm.ProtocolISO15765_11,
	}
}

func (f *fakeCommander) Command(cmd string, timeout time.Duration) (string, error) {
	f.sent = append(f.sent, cmd)
	if resp, ok := f.responses[cmd]; ok {
		return resp, nil
	}
	return "", errors.New("no data")
}

func (f *fakeCommander) SetHeader(header string) error {
	if f.headerErr != nil {
		return f.headerErr
	}
	f.sent = append(f.sent, "ATSH"+header)
	return nil
}

func (f *fakeCommander) Protocol() elm.Protocol { return f.protocol }

func newTestProgrammer(cmd Commander) *Programmer {
	p := New(cmd)
	p.sleep = func(time.Duration) {}
	return p
}

func (f *fakeCommander) sentContains(cmd string) bool {
	for _, s := range f.sent {
		if s == cmd {
			return true
		}
	}
	return false
}

func TestEnterProgrammingSeedKey(t *testing.T) {
	cmd := newFakeCommander()
	cmd.responses["1002"] = "500200"
	cmd.responses["2701"] = "67011234"
	// DefaultKey(0x1234) = (0x1234 ^ 0x5555) + 0x1234 = 0x5995.
	cmd.responses["27025995"] = "670234"
	cmd.responses["8502"] = "C502"

	p := newTestProgrammer(cmd)
	if err := p.EnterProgramming("7E0"); err != nil {
		t.Fatalf("EnterProgramming: %v", err)
	}
	if !p.Active() {
		t.Fatal("session not marked active")
	}

	want := []string{"ATSH7E0", "1002", "2701", "27025995", "8502"}
	if len(cmd.sent) != len(want) {
		t.Fatalf("sent %v, want %v", cmd.sent, want)
	}
	for i, w := range want {
		if cmd.sent[i] != w {
			t.Fatalf("sent[%d] = %q, want %q", i, cmd.sent[i], w)
		}
	}
}

func TestEnterProgrammingZeroSeedSkipsKey(t *testing.T) {
	cmd := newFakeCommander()
	cmd.responses["1002"] = "5002"
	cmd.responses["2701"] = "67010000"
	cmd.responses["8502"] = "C502"

	p := newTestProgrammer(cmd)
	if err := p.EnterProgramming("7E0"); err != nil {
		t.Fatalf("EnterProgramming: %v", err)
	}
	for _, sent := range cmd.sent {
		if len(sent) > 4 && sent[:4] == "2702" {
			t.Fatalf("key sent for an already unlocked module: %q", sent)
		}
	}
}

func TestSecurityAccessDenied(t *testing.T) {
	cmd := newFakeCommander()
	cmd.responses["1002"] = "5002"
	cmd.responses["2701"] = "7F2733"

	p := newTestProgrammer(cmd)
	err := p.EnterProgramming("7E0")
	if err == nil {
		t.Fatal("expected security access failure")
	}

	var neg *NegativeResponseError
	if !errors.As(err, &neg) {
		t.Fatalf("error %v is not a NegativeResponseError", err)
	}
	if neg.Service != 0x27 || neg.Code != 0x33 {
		t.Fatalf("negative response = %02X/%02X, want 27/33", neg.Service, neg.Code)
	}
	if neg.Retryable() {
		t.Fatal("access denied should not be retryable")
	}
	if p.Active() {
		t.Fatal("session must not be active after a failed handshake")
	}
}

func TestMemoryAccessRequiresSession(t *testing.T) {
	p := newTestProgrammer(newFakeCommander())
	if _, err := p.ReadMemory(0, 16); !errors.Is(err, ErrNoSession) {
		t.Fatalf("ReadMemory = %v, want ErrNoSession", err)
	}
	if err := p.WriteMemory(0, []byte{1}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("WriteMemory = %v, want ErrNoSession", err)
	}
	if err := p.Flash([]byte{1}, nil); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Flash = %v, want ErrNoSession", err)
	}
}

func TestFlashSequence(t *testing.T) {
	firmware := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}

	cmd := newFakeCommander()
	cmd.responses["1002"] = "5002"
	cmd.responses["2701"] = "67010000"
	cmd.responses["8502"] = "C502"
	cmd.responses["310101FF00"] = "710101FF00"
	cmd.responses["34000000000000000008"] = "742000000100"
	cmd.responses["3601DEADBEEF01020304"] = "7601"
	cmd.responses["37"] = "77"
	cmd.responses["23000000000008"] = "63DEADBEEF01020304"

	p := newTestProgrammer(cmd)
	if err := p.EnterProgramming("7E0"); err != nil {
		t.Fatalf("EnterProgramming: %v", err)
	}

	var calls []int
	err := p.Flash(firmware, func(done, total int) { calls = append(calls, done) })
	if err != nil {
		t.Fatalf("Flash: %v", err)
	}
	if len(calls) != 1 || calls[0] != 1 {
		t.Fatalf("progress calls = %v, want [1]", calls)
	}

	for _, want := range []string{"310101FF00", "34000000000000000008", "3601DEADBEEF01020304", "37", "23000000000008"} {
		if !cmd.sentContains(want) {
			t.Fatalf("command %q never sent; sent: %v", want, cmd.sent)
		}
	}
}

func TestFlashVerificationMismatch(t *testing.T) {
	firmware := []byte{0xDE, 0xAD}

	cmd := newFakeCommander()
	cmd.responses["1002"] = "5002"
	cmd.responses["2701"] = "67010000"
	cmd.responses["8502"] = "C502"
	cmd.responses["310101FF00"] = "7101"
	cmd.responses["34000000000000000002"] = "7420"
	cmd.responses["3601DEAD"] = "7601"
	cmd.responses["37"] = "77"
	// Read-back disagrees with what was written.
	cmd.responses["23000000000002"] = "63BEEF"

	p := newTestProgrammer(cmd)
	if err := p.EnterProgramming("7E0"); err != nil {
		t.Fatalf("EnterProgramming: %v", err)
	}
	if err := p.Flash(firmware, nil); err == nil {
		t.Fatal("expected verification failure")
	}
}

func TestScanIdentifiesModules(t *testing.T) {
	cmd := newFakeCommander()
	// Only the engine ECU answers; every probe hits the same canned map,
	// so the scan sees identical records on each answering address.
	cmd.responses["22F187"] = "62F18731323334352D4142"
	cmd.responses["22F188"] = "62F188312E302E35"

	p := newTestProgrammer(cmd)
	found, err := p.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(found) == 0 {
		t.Fatal("no modules found")
	}
	if found[0].PartNumber != "12345-AB" {
		t.Fatalf("part number = %q, want 12345-AB", found[0].PartNumber)
	}
	if found[0].SoftwareVersion != "1.0.5" {
		t.Fatalf("software version = %q, want 1.0.5", found[0].SoftwareVersion)
	}
	if found[0].Name == "" {
		t.Fatal("module name not filled from the address table")
	}
}

func TestBackupReadsChunks(t *testing.T) {
	cmd := newFakeCommander()
	cmd.responses["1002"] = "5002"
	cmd.responses["2701"] = "67010000"
	cmd.responses["8502"] = "C502"
	cmd.responses["23000000000400"] = "63" + bytesHex(bytes.Repeat([]byte{0xAA}, 1024))
	cmd.responses["23000004000010"] = "63" + bytesHex(bytes.Repeat([]byte{0xBB}, 16))

	p := newTestProgrammer(cmd)
	if err := p.EnterProgramming("7E0"); err != nil {
		t.Fatalf("EnterProgramming: %v", err)
	}

	data, err := p.Backup(1040, nil)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if len(data) != 1040 {
		t.Fatalf("backup length = %d, want 1040", len(data))
	}
	if data[0] != 0xAA || data[1039] != 0xBB {
		t.Fatal("backup chunks assembled in the wrong order")
	}
}

func TestNegativeResponseTranslation(t *testing.T) {
	err := &NegativeResponseError{Service: 0x34, Code: 0x22}
	if got := err.Error(); got != "service 34 rejected: conditions not correct (0x22)" {
		t.Fatalf("message = %q", got)
	}

	pending := &NegativeResponseError{Service: 0x36, Code: 0x78}
	if !pending.Retryable() {
		t.Fatal("response pending must be retryable")
	}
}

func bytesHex(data []byte) string {
	const digits = "0123456789ABCDEF"
	out := make([]byte, 0, len(data)*2)
	for _, b := range data {
		out = append(out, digits[b>>4], digits[b&0x0F])
	}
	return string(out)
}
