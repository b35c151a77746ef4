package elm

import "strings"

// Protocol identifies an ELM327 protocol slot.
type Protocol string

const (
	ProtocolUnknown       Protocol = ""
	ProtocolAuto          Protocol = "0" // Automatic mode
	ProtocolJ1850PWM      Protocol = "1" // SAE J1850 PWM
	ProtocolJ1850VPW      Protocol = "2" // SAE J1850 VPW
	ProtocolISO9141       Protocol = "3" // ISO 9141-2
	ProtocolISO14230_5    Protocol = "4" // ISO 14230-4 (KWP 5BAUD)
	ProtocolISO14230      Protocol = "5" // ISO 14230-4 (KWP FAST)
	ProtocolISO15765_11   Protocol = "6" // ISO 15765-4 (CAN 11/500)
	ProtocolISO15765_29   Protocol = "7" // ISO 15765-4 (CAN 29/500)
	ProtocolISO15765_11_2 Protocol = "8" // ISO 15765-4 (CAN 11/250)
	ProtocolISO15765_29_2 Protocol = "9" // ISO 15765-4 (CAN 29/250)
	ProtocolSAEJ1939      Protocol = "A" // SAE J1939 (CAN 29/250)
)

var protocolNames = map[Protocol]string{
	ProtocolAuto:          "Auto",
	ProtocolJ1850PWM:      "SAE J1850 PWM (41.6 kbaud)",
	ProtocolJ1850VPW:      "SAE J1850 VPW (10.4 kbaud)",
	ProtocolISO9141:       "ISO 9141-2 (5 baud init)",
	ProtocolISO14230_5:    "ISO 14230-4 KWP (5 baud init)",
	ProtocolISO14230:      "ISO 14230-4 KWP (fast init)",
	ProtocolISO15765_11:   "ISO 15765-4 CAN (11 bit ID, 500 kbaud)",
	ProtocolISO15765_29:   "ISO 15765-4 CAN (29 bit ID, 500 kbaud)",
	ProtocolISO15765_11_2: "ISO 15765-4 CAN (11 bit ID, 250 kbaud)",
	ProtocolISO15765_29_2: "ISO 15765-4 CAN (29 bit ID, 250 kbaud)",
	ProtocolSAEJ1939:      "SAE J1939 CAN (29 bit ID, 250 kbaud)",
}

// Description returns a human readable protocol name.
func (p Protocol) Description() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return "Unknown"
}

// CAN reports whether the protocol is one of the ISO 15765 / J1939 CAN
// variants. CAN protocols support per-module addressing with ATSH.
func (p Protocol) CAN() bool {
	switch p {
	case ProtocolISO15765_11, ProtocolISO15765_29,
		ProtocolISO15765_11_2, ProtocolISO15765_29_2, ProtocolSAEJ1939:
		return true
	}
	return false
}

func (p Protocol) known() bool {
	_, ok := protocolNames[p]
	return ok
}

// descriptionMatches maps ATDP response fragments to protocol slots. The
// more specific fragments are listed first.
var descriptionMatches = []struct {
	fragment string
	protocol Protocol
}{
	{"CAN 11/500", ProtocolISO15765_11},
	{"CAN 29/500", ProtocolISO15765_29},
	{"CAN 11/250", ProtocolISO15765_11_2},
	{"CAN 29/250", ProtocolISO15765_29_2},
	{"J1939", ProtocolSAEJ1939},
	{"J1850 PWM", ProtocolJ1850PWM},
	{"J1850 VPW", ProtocolJ1850VPW},
	{"9141", ProtocolISO9141},
	{"5 BAUD", ProtocolISO14230_5},
	{"KWP", ProtocolISO14230},
	{"14230", ProtocolISO14230},
}

// ProtocolFromDescription matches ATDP output against the known protocol
// descriptions. Unrecognized text yields ProtocolUnknown.
func ProtocolFromDescription(desc string) Protocol {
	desc = strings.ToUpper(desc)
	for _, m := range descriptionMatches {
		if strings.Contains(desc, m.fragment) {
			return m.protocol
		}
	}
	return ProtocolUnknown
}
