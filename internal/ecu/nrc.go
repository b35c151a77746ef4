package ecu

import "fmt"

// ISO 14229 negative response codes the programmer cares about.
const (
	nrcGeneralReject          = 0x10
	nrcServiceNotSupported    = 0x11
	nrcSubFunctionUnsupported = 0x12
	nrcBusyRepeatRequest      = 0x21
	nrcConditionsNotCorrect   = 0x22
	nrcRequestSequenceError   = 0x24
	nrcRequestOutOfRange      = 0x31
	nrcSecurityAccessDenied   = 0x33
	nrcInvalidKey             = 0x35
	nrcExceededAttempts       = 0x36
	nrcTimeDelayNotExpired    = 0x37
	nrcUploadDownloadRefused  = 0x70
	nrcTransferSuspended      = 0x71
	nrcProgrammingFailure     = 0x72
	nrcWrongBlockSequence     = 0x73
	nrcResponsePending        = 0x78
	nrcWrongSession           = 0x7F
	nrcVoltageTooHigh         = 0x92
	nrcVoltageTooLow          = 0x93
)

var nrcMessages = map[byte]string{
	nrcGeneralReject:          "general reject",
	nrcServiceNotSupported:    "service not supported",
	nrcSubFunctionUnsupported: "sub-function not supported",
	nrcBusyRepeatRequest:      "busy, repeat request",
	nrcConditionsNotCorrect:   "conditions not correct",
	nrcRequestSequenceError:   "request sequence error",
	nrcRequestOutOfRange:      "request out of range",
	nrcSecurityAccessDenied:   "security access denied",
	nrcInvalidKey:             "invalid key",
	nrcExceededAttempts:       "exceeded number of security access attempts",
	nrcTimeDelayNotExpired:    "required time delay not expired",
	nrcUploadDownloadRefused:  "upload/download not accepted",
	nrcTransferSuspended:      "transfer data suspended",
	nrcProgrammingFailure:     "general programming failure",
	nrcWrongBlockSequence:     "wrong block sequence counter",
	nrcResponsePending:        "request received, response pending",
	nrcWrongSession:           "service not supported in active session",
	nrcVoltageTooHigh:         "voltage too high",
	nrcVoltageTooLow:          "voltage too low",
}

// NegativeResponseError is a 7F reply from the ECU.
type NegativeResponseError struct {
	Service byte
	Code    byte
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("service %02X rejected: %s (0x%02X)", e.Service, translateNRC(e.Code), e.Code)
}

// Retryable reports whether the same request may succeed if repeated.
func (e *NegativeResponseError) Retryable() bool {
	switch e.Code {
	case nrcBusyRepeatRequest, nrcResponsePending, nrcTimeDelayNotExpired:
		return true
	}
	return false
}

func translateNRC(code byte) string {
	if msg, ok := nrcMessages[code]; ok {
		return msg
	}
	return "unknown negative response"
}
