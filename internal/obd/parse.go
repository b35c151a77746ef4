package obd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptyResponse = errors.New("empty response")
	ErrMismatch      = errors.New("response does not answer command")
)

// parseErrorTexts are failure strings that can reach the parser when a
// response is cleaned outside a session.
var parseErrorTexts = []string{"NO DATA", "UNABLE TO CONNECT", "STOPPED", "ERROR", "?"}

// Clean strips a raw adapter reply down to contiguous uppercase hex.
// SEARCHING banners, whitespace, ELM multi-frame line markers and CAN
// response headers are all removed; error text yields "". Cleaned
// output fed back in comes out unchanged.
func Clean(resp string) string {
	s := strings.ToUpper(strings.TrimSpace(resp))
	if s == "" {
		return ""
	}
	for _, e := range parseErrorTexts {
		if strings.Contains(s, e) {
			return ""
		}
	}
	s = strings.ReplaceAll(s, "SEARCHING...", "")
	s = strings.ReplaceAll(s, "SEARCHING", "")

	tokens := strings.Fields(s)

	// Multi-frame replies with headers off arrive as a byte count line
	// followed by "N:" data lines.
	marker := false
	for _, tok := range tokens {
		if strings.ContainsRune(tok, ':') {
			marker = true
			break
		}
	}

	var sb strings.Builder
	for _, tok := range tokens {
		if marker {
			idx := strings.LastIndexByte(tok, ':')
			if idx < 0 {
				continue
			}
			sb.WriteString(tok[idx+1:])
			continue
		}
		sb.WriteString(stripHeader(tok))
	}
	return sb.String()
}

// stripHeader removes a CAN response header and the ISO-TP PCI from a
// single frame. Frames without a recognizable header pass through.
func stripHeader(tok string) string {
	// 29 bit physical response header, e.g. 18DAF110.
	if len(tok) > 10 && strings.HasPrefix(tok, "18DA") {
		return stripPCI(tok[8:])
	}
	// An 11 bit header (7E8..7EF) leaves an odd character count.
	if len(tok) >= 5 && len(tok)%2 == 1 && strings.HasPrefix(tok, "7E") {
		return stripPCI(tok[3:])
	}
	return tok
}

func stripPCI(s string) string {
	if len(s) < 2 {
		return s
	}
	switch s[0] {
	case '0': // single frame: length nibble
		return s[2:]
	case '1': // first frame: 12 bit length
		if len(s) >= 4 {
			return s[4:]
		}
	case '2': // consecutive frame: sequence nibble
		return s[2:]
	case '3': // flow control carries no payload
		return ""
	}
	return s
}

// Verify reports whether the cleaned response answers the command: OBD
// replies echo the request mode plus 0x40.
func Verify(cmd, cleaned string) bool {
	if len(cmd) < 2 || len(cleaned) < 2 {
		return false
	}
	mode, err := strconv.ParseUint(cmd[:2], 16, 8)
	if err != nil {
		return false
	}
	return strings.HasPrefix(cleaned, fmt.Sprintf("%02X", mode+0x40))
}

// Payload cleans and validates a response and returns the data bytes
// after the mode and PID echo. Mode 02 replies also carry the frame
// number, which is skipped too. A trailing odd nibble is dropped.
func Payload(cmd, resp string) ([]byte, error) {
	cleaned := Clean(resp)
	if cleaned == "" {
		return nil, ErrEmptyResponse
	}
	if !Verify(cmd, cleaned) {
		return nil, fmt.Errorf("%w: %q answered %q", ErrMismatch, cmd, cleaned)
	}

	skip := 4
	if strings.HasPrefix(cleaned, "42") {
		skip = 6
	}
	if len(cleaned) <= skip {
		return nil, nil
	}
	return hexBytes(cleaned[skip:])
}

func hexBytes(s string) ([]byte, error) {
	if len(s)%2 == 1 {
		s = s[:len(s)-1]
	}
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

// ParseASCII decodes the payload as text, keeping printable characters
// only. Mode 09 replies carry a record count byte, which the printable
// filter drops.
func ParseASCII(cmd, resp string) (string, error) {
	data, err := Payload(cmd, resp)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, b := range data {
		if b >= 32 && b <= 126 {
			sb.WriteByte(b)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// ParseVIN decodes a Mode 09 PID 02 reply. Partial VINs are rejected.
func ParseVIN(resp string) (string, error) {
	vin, err := ParseASCII("0902", resp)
	if err != nil {
		return "", err
	}
	if len(vin) != 17 {
		return "", fmt.Errorf("vin length %d, want 17", len(vin))
	}
	return vin, nil
}

// ParseSupportedPIDs expands a 32 bit support bitmap. base names the
// query PID of the window (0x00, 0x20, 0x40); the most significant bit
// stands for base+1.
func ParseSupportedPIDs(resp string, base byte) ([]byte, error) {
	data, err := Payload(fmt.Sprintf("01%02X", base), resp)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("support bitmap too short: %d bytes", len(data))
	}

	var pids []byte
	for byteIdx, v := range data[:4] {
		for bit := 0; bit < 8; bit++ {
			if v&(0x80>>bit) != 0 {
				pids = append(pids, base+byte(byteIdx*8+bit)+1)
			}
		}
	}
	return pids, nil
}

// Checksum sums data modulo 256. Used for log and export annotations.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// FormatHex renders bytes as space separated hex pairs for logs.
func FormatHex(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}
