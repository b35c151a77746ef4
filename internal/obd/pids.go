package obd

// Mode 01 PIDs referenced across the codebase.
const (
	PIDSupported1       byte = 0x00
	PIDMonitorStatus    byte = 0x01
	PIDFreezeFrameDTC   byte = 0x02
	PIDFuelSystemStatus byte = 0x03
	PIDCoolantTemp      byte = 0x05
	PIDShortFuelTrim1   byte = 0x06
	PIDLongFuelTrim1    byte = 0x07
	PIDEngineRPM        byte = 0x0C
	PIDVehicleSpeed     byte = 0x0D
	PIDSupported2       byte = 0x20
	PIDSupported3       byte = 0x40
	PIDOilTemp          byte = 0x5C
)

// Formula converts the data bytes of a reply to a physical value.
type Formula func(data []byte) float64

// Parameter describes a numeric Mode 01 PID.
type Parameter struct {
	PID     byte
	Name    string
	Unit    string
	Bytes   int
	Min     float64
	Max     float64
	Convert Formula
}

func byteA(d []byte) float64    { return float64(d[0]) }
func tempA(d []byte) float64    { return float64(d[0]) - 40 }
func percentA(d []byte) float64 { return float64(d[0]) * 100 / 255 }
func trimA(d []byte) float64    { return (float64(d[0]) - 128) * 100 / 128 }
func o2Volts(d []byte) float64  { return float64(d[0]) / 200 }
func wordAB(d []byte) float64   { return float64(d[0])*256 + float64(d[1]) }

// signedAB reads the two byte word as two's complement.
func signedAB(d []byte) float64 { return float64(int16(uint16(d[0])<<8 | uint16(d[1]))) }

// Mode01 maps PID to its definition. Bitmap style PIDs (monitor status,
// fuel system status, sensor presence) are handled by dedicated code
// paths and are not listed here.
var Mode01 = map[byte]Parameter{
	0x04: {0x04, "Engine Load", "%", 1, 0, 100, percentA},
	0x05: {0x05, "Engine Coolant Temp", "°C", 1, -40, 215, tempA},
	0x06: {0x06, "Short Fuel Trim Bank 1", "%", 1, -100, 99.22, trimA},
	0x07: {0x07, "Long Fuel Trim Bank 1", "%", 1, -100, 99.22, trimA},
	0x08: {0x08, "Short Fuel Trim Bank 2", "%", 1, -100, 99.22, trimA},
	0x09: {0x09, "Long Fuel Trim Bank 2", "%", 1, -100, 99.22, trimA},
	0x0A: {0x0A, "Fuel Pressure", "kPa", 1, 0, 765, func(d []byte) float64 { return float64(d[0]) * 3 }},
	0x0B: {0x0B, "Intake MAP", "kPa", 1, 0, 255, byteA},
	0x0C: {0x0C, "Engine RPM", "rpm", 2, 0, 16383.75, func(d []byte) float64 { return wordAB(d) / 4 }},
	0x0D: {0x0D, "Vehicle Speed", "km/h", 1, 0, 255, byteA},
	0x0E: {0x0E, "Timing Advance", "°", 1, -64, 63.5, func(d []byte) float64 { return (float64(d[0]) - 128) / 2 }},
	0x0F: {0x0F, "Intake Air Temp", "°C", 1, -40, 215, tempA},
	0x10: {0x10, "MAF Rate", "g/s", 2, 0, 655.35, func(d []byte) float64 { return wordAB(d) / 100 }},
	0x11: {0x11, "Throttle Position", "%", 1, 0, 100, percentA},
	0x14: {0x14, "O2 Sensor 1 Voltage", "V", 2, 0, 1.275, o2Volts},
	0x15: {0x15, "O2 Sensor 2 Voltage", "V", 2, 0, 1.275, o2Volts},
	0x16: {0x16, "O2 Sensor 3 Voltage", "V", 2, 0, 1.275, o2Volts},
	0x17: {0x17, "O2 Sensor 4 Voltage", "V", 2, 0, 1.275, o2Volts},
	0x18: {0x18, "O2 Sensor 5 Voltage", "V", 2, 0, 1.275, o2Volts},
	0x19: {0x19, "O2 Sensor 6 Voltage", "V", 2, 0, 1.275, o2Volts},
	0x1A: {0x1A, "O2 Sensor 7 Voltage", "V", 2, 0, 1.275, o2Volts},
	0x1B: {0x1B, "O2 Sensor 8 Voltage", "V", 2, 0, 1.275, o2Volts},
	0x1F: {0x1F, "Runtime Since Start", "seconds", 2, 0, 65535, wordAB},
	0x21: {0x21, "Distance with MIL", "km", 2, 0, 65535, wordAB},
	0x22: {0x22, "Fuel Rail Pressure", "kPa", 2, 0, 5177.265, func(d []byte) float64 { return wordAB(d) * 0.079 }},
	0x23: {0x23, "Fuel Rail Gauge Pressure", "kPa", 2, 0, 655350, func(d []byte) float64 { return wordAB(d) * 10 }},
	0x24: {0x24, "O2 Sensor 1 F-A Ratio", "ratio", 2, 0, 2, func(d []byte) float64 { return wordAB(d) * 2 / 65536 }},
	0x2C: {0x2C, "Commanded EGR", "%", 1, 0, 100, percentA},
	0x2D: {0x2D, "EGR Error", "%", 1, -100, 99.22, trimA},
	0x2E: {0x2E, "Commanded Evap Purge", "%", 1, 0, 100, percentA},
	0x2F: {0x2F, "Fuel Tank Level", "%", 1, 0, 100, percentA},
	0x30: {0x30, "Warmups Since Clear", "count", 1, 0, 255, byteA},
	0x31: {0x31, "Distance Since Clear", "km", 2, 0, 65535, wordAB},
	0x32: {0x32, "Evap Vapor Pressure", "Pa", 2, -8192, 8191.75, func(d []byte) float64 { return signedAB(d) / 4 }},
	0x33: {0x33, "Absolute Barometric", "kPa", 1, 0, 255, byteA},
	0x42: {0x42, "Control Module Voltage", "V", 2, 0, 65.535, func(d []byte) float64 { return wordAB(d) / 1000 }},
	0x43: {0x43, "Absolute Load Value", "%", 2, 0, 25700, func(d []byte) float64 { return wordAB(d) * 100 / 255 }},
	0x44: {0x44, "Command Equivalence Ratio", "ratio", 2, 0, 2, func(d []byte) float64 { return wordAB(d) / 32768 }},
	0x45: {0x45, "Relative Throttle Position", "%", 1, 0, 100, percentA},
	0x46: {0x46, "Ambient Air Temp", "°C", 1, -40, 215, tempA},
	0x47: {0x47, "Absolute Throttle Position B", "%", 1, 0, 100, percentA},
	0x48: {0x48, "Absolute Throttle Position C", "%", 1, 0, 100, percentA},
	0x49: {0x49, "Accelerator Pedal Position D", "%", 1, 0, 100, percentA},
	0x4A: {0x4A, "Accelerator Pedal Position E", "%", 1, 0, 100, percentA},
	0x4B: {0x4B, "Accelerator Pedal Position F", "%", 1, 0, 100, percentA},
	0x4C: {0x4C, "Commanded Throttle Actuator", "%", 1, 0, 100, percentA},
	0x4D: {0x4D, "Time Run with MIL", "minutes", 2, 0, 65535, wordAB},
	0x4E: {0x4E, "Time Since Codes Cleared", "minutes", 2, 0, 65535, wordAB},
	0x5C: {0x5C, "Engine Oil Temperature", "°C", 1, -40, 215, tempA},
}

// Lookup returns the definition of a numeric PID.
func Lookup(pid byte) (Parameter, bool) {
	p, ok := Mode01[pid]
	return p, ok
}
