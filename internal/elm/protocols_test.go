package elm

import "testing"

func TestProtocolFromDescription(t *testing.T) {
	tests := []struct {
		name string
		desc string
		want Protocol
	}{
		{"can 11 bit 500k", "AUTO, ISO 15765-4 (CAN 11/500)", ProtocolISO15765_11},
		{"can 29 bit 500k", "ISO 15765-4 (CAN 29/500)", ProtocolISO15765_29},
		{"can 11 bit 250k", "ISO 15765-4 (CAN 11/250)", ProtocolISO15765_11_2},
		{"can 29 bit 250k", "ISO 15765-4 (CAN 29/250)", ProtocolISO15765_29_2},
		{"j1939", "SAE J1939 (CAN 29/250)", ProtocolSAEJ1939},
		{"j1850 pwm", "SAE J1850 PWM", ProtocolJ1850PWM},
		{"j1850 vpw", "SAE J1850 VPW", ProtocolJ1850VPW},
		{"iso 9141", "ISO 9141-2", ProtocolISO9141},
		{"kwp 5 baud", "ISO 14230-4 (KWP 5BAUD)", ProtocolISO14230_5},
		{"kwp fast", "ISO 14230-4 (KWP FAST)", ProtocolISO14230},
		{"lowercase", "auto, iso 15765-4 (can 11/500)", ProtocolISO15765_11},
		{"unrecognized", "SOMETHING ELSE", ProtocolUnknown},
		{"empty", "", ProtocolUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProtocolFromDescription(tt.desc); got != tt.want {
				t.Errorf("ProtocolFromDescription(%q) = %q, want %q", tt.desc, got, tt.want)
			}
		})
	}
}

func TestProtocolCAN(t *testing.T) {
	can := []Protocol{
		ProtocolISO15765_11, ProtocolISO15765_29,
		ProtocolISO15765_11_2, ProtocolISO15765_29_2, ProtocolSAEJ1939,
	}
	for _, p := range can {
		if !p.CAN() {
			t.Errorf("Protocol(%q).CAN() = false, want true", p)
		}
	}

	notCAN := []Protocol{
		ProtocolAuto, ProtocolJ1850PWM, ProtocolJ1850VPW,
		ProtocolISO9141, ProtocolISO14230_5, ProtocolISO14230, ProtocolUnknown,
	}
	for _, p := range notCAN {
		if p.CAN() {
			t.Errorf("Protocol(%q).CAN() = true, want false", p)
		}
	}
}

func TestProtocolDescription(t *testing.T) {
	if got := ProtocolISO15765_11.Description(); got != "ISO 15765-4 CAN (11 bit ID, 500 kbaud)" {
		t.Errorf("Description() = %q", got)
	}
	if got := ProtocolUnknown.Description(); got != "Unknown" {
		t.Errorf("Description() for unknown = %q, want Unknown", got)
	}
	if got := Protocol("Z").Description(); got != "Unknown" {
		t.Errorf("Description() for bogus slot = %q, want Unknown", got)
	}
}
