// Package dtc decodes SAE J2012 trouble codes, describes them and
// tracks the sets read from the vehicle.
package dtc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// systems maps the top two bits of the first code byte to the letter.
var systems = [4]byte{'P', 'C', 'B', 'U'}

// Decode renders a two byte trouble code: the letter comes from the top
// two bits, the four digits from the remaining nibbles.
func Decode(a, b byte) string {
	return fmt.Sprintf("%c%X%X%X%X",
		systems[(a&0xC0)>>6], (a&0x30)>>4, a&0x0F, (b&0xF0)>>4, b&0x0F)
}

// Encode packs a rendered code back into its two byte word, the exact
// inverse of Decode. The second character carries only two bits, so it
// must be 0-3.
func Encode(code string) ([2]byte, error) {
	var word [2]byte
	if len(code) != 5 {
		return word, fmt.Errorf("invalid trouble code %q", code)
	}
	sys := strings.IndexByte("PCBU", code[0])
	if sys < 0 {
		return word, fmt.Errorf("invalid trouble code %q", code)
	}
	raw, err := hex.DecodeString(code[1:])
	if err != nil {
		return word, fmt.Errorf("invalid trouble code %q: %w", code, err)
	}
	if raw[0]&0xC0 != 0 {
		return word, fmt.Errorf("trouble code digit out of range in %q", code)
	}
	word[0] = byte(sys)<<6 | raw[0]
	word[1] = raw[1]
	return word, nil
}

// Parse extracts codes from a cleaned Mode 03/07/0A reply. Each block
// carries a count byte followed by two byte words; zero words are
// padding and never a code. Several responding ECUs concatenate blocks.
func Parse(cleaned string) ([]string, error) {
	if len(cleaned)%2 == 1 {
		cleaned = cleaned[:len(cleaned)-1]
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid trouble code reply %q: %w", cleaned, err)
	}
	if len(raw) == 0 {
		return nil, errors.New("empty trouble code reply")
	}

	reply := raw[0]
	switch reply {
	case 0x43, 0x47, 0x4A:
	default:
		return nil, fmt.Errorf("not a trouble code reply: %q", cleaned)
	}

	var codes []string
	i := 0
	for i < len(raw) && raw[i] == reply {
		i++
		if i >= len(raw) {
			break
		}
		count := int(raw[i])
		i++
		for w := 0; w < count && i+1 < len(raw); w++ {
			a, b := raw[i], raw[i+1]
			i += 2
			if a == 0 && b == 0 {
				continue
			}
			codes = append(codes, Decode(a, b))
		}
	}
	return codes, nil
}

// Category names the vehicle area addressed by the code letter.
func Category(code string) string {
	switch {
	case strings.HasPrefix(code, "P"):
		return "Powertrain"
	case strings.HasPrefix(code, "B"):
		return "Body"
	case strings.HasPrefix(code, "C"):
		return "Chassis"
	case strings.HasPrefix(code, "U"):
		return "Network"
	}
	return "Unknown"
}

// System narrows a code to the subsystem its leading digits point at.
func System(code string) string {
	switch {
	case strings.HasPrefix(code, "P01"), strings.HasPrefix(code, "P02"):
		return "Fuel and Air Metering"
	case strings.HasPrefix(code, "P03"):
		return "Ignition System"
	case strings.HasPrefix(code, "P04"):
		return "Emission Control"
	case strings.HasPrefix(code, "P05"):
		return "Idle Speed Control"
	case strings.HasPrefix(code, "P06"):
		return "ECM/PCM"
	case strings.HasPrefix(code, "P07"):
		return "Transmission"
	case strings.HasPrefix(code, "P"):
		return "Powertrain"
	case strings.HasPrefix(code, "B"):
		return "Body Control"
	case strings.HasPrefix(code, "C"):
		return "Chassis Control"
	case strings.HasPrefix(code, "U"):
		return "Network Communication"
	}
	return "Unknown"
}

var severities = map[string]string{
	"P0100": "Medium",
	"P0101": "Medium",
	"P0171": "Medium",
	"P0420": "Medium",
	"B0001": "High",
	"C0121": "Medium",
	"U0100": "High",
}

// Severity reports how urgent a code is. Misfires are always high;
// codes without a known rating report Unknown.
func Severity(code string) string {
	if s, ok := severities[code]; ok {
		return s
	}
	if strings.HasPrefix(code, "P03") {
		return "High"
	}
	return "Unknown"
}
