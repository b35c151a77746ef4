package dtc

import (
	"fmt"
	"strings"
)

// descriptions covers the generic SAE codes this tool meets most often.
var descriptions = map[string]string{
	"P0000": "No DTCs detected",
	"P0100": "Mass or Volume Air Flow Circuit Malfunction",
	"P0101": "Mass or Volume Air Flow Circuit Range/Performance Problem",
	"P0102": "Mass or Volume Air Flow Circuit Low Input",
	"P0103": "Mass or Volume Air Flow Circuit High Input",
	"P0104": "Mass or Volume Air Flow Circuit Intermittent",
	"P0105": "Manifold Absolute Pressure/Barometric Pressure Circuit Malfunction",
	"P0106": "Manifold Absolute Pressure/Barometric Pressure Circuit Range/Performance Problem",
	"P0107": "Manifold Absolute Pressure/Barometric Pressure Circuit Low Input",
	"P0108": "Manifold Absolute Pressure/Barometric Pressure Circuit High Input",
	"P0109": "Manifold Absolute Pressure/Barometric Pressure Circuit Intermittent",
	"P0110": "Intake Air Temperature Circuit Malfunction",
	"P0111": "Intake Air Temperature Circuit Range/Performance Problem",
	"P0112": "Intake Air Temperature Circuit Low Input",
	"P0113": "Intake Air Temperature Circuit High Input",
	"P0114": "Intake Air Temperature Circuit Intermittent",
	"P0115": "Engine Coolant Temperature Circuit Malfunction",
	"P0116": "Engine Coolant Temperature Circuit Range/Performance Problem",
	"P0117": "Engine Coolant Temperature Circuit Low Input",
	"P0118": "Engine Coolant Temperature Circuit High Input",
	"P0119": "Engine Coolant Temperature Circuit Intermittent",
	"P0120": "Throttle/Pedal Position Sensor/Switch A Circuit Malfunction",
	"P0130": "O2 Sensor Circuit Malfunction (Bank 1, Sensor 1)",
	"P0131": "O2 Sensor Circuit Low Voltage (Bank 1, Sensor 1)",
	"P0132": "O2 Sensor Circuit High Voltage (Bank 1, Sensor 1)",
	"P0133": "O2 Sensor Circuit Slow Response (Bank 1, Sensor 1)",
	"P0134": "O2 Sensor Circuit No Activity Detected (Bank 1, Sensor 1)",
	"P0135": "O2 Sensor Heater Circuit Malfunction (Bank 1, Sensor 1)",
	"P0171": "System Too Lean (Bank 1)",
	"P0172": "System Too Rich (Bank 1)",
	"P0174": "System Too Lean (Bank 2)",
	"P0175": "System Too Rich (Bank 2)",
	"P0300": "Random/Multiple Cylinder Misfire Detected",
	"P0301": "Cylinder 1 Misfire Detected",
	"P0302": "Cylinder 2 Misfire Detected",
	"P0303": "Cylinder 3 Misfire Detected",
	"P0304": "Cylinder 4 Misfire Detected",
	"P0305": "Cylinder 5 Misfire Detected",
	"P0306": "Cylinder 6 Misfire Detected",
	"P0307": "Cylinder 7 Misfire Detected",
	"P0308": "Cylinder 8 Misfire Detected",
	"P0401": "Exhaust Gas Recirculation Flow Insufficient",
	"P0402": "Exhaust Gas Recirculation Flow Excessive",
	"P0420": "Catalyst System Efficiency Below Threshold (Bank 1)",
	"P0430": "Catalyst System Efficiency Below Threshold (Bank 2)",
	"P0440": "Evaporative Emission Control System Malfunction",
	"P0441": "Evaporative Emission Control System Incorrect Purge Flow",
	"P0442": "Evaporative Emission Control System Leak Detected (Small Leak)",
	"P0443": "Evaporative Emission Control System Purge Control Valve Circuit Malfunction",
	"P0446": "Evaporative Emission Control System Vent Control Circuit Malfunction",
	"P0455": "Evaporative Emission Control System Leak Detected (Large Leak)",
	"P0500": "Vehicle Speed Sensor Malfunction",
	"P0505": "Idle Control System Malfunction",
	"P0506": "Idle Control System RPM Lower Than Expected",
	"P0507": "Idle Control System RPM Higher Than Expected",
	"P0510": "Closed Throttle Position Switch Malfunction",
	"P0520": "Engine Oil Pressure Sensor/Switch Circuit Malfunction",
	"P0600": "Serial Communication Link Malfunction",
	"P0601": "Internal Control Module Memory Checksum Error",
	"P0602": "Control Module Programming Error",
	"P0603": "Internal Control Module Keep Alive Memory (KAM) Error",
	"P0604": "Internal Control Module Random Access Memory (RAM) Error",
	"P0605": "Internal Control Module Read Only Memory (ROM) Error",

	// Chassis codes (TPMS and ABS)
	"C0121": "ABS Wheel Speed Sensor Front Left Circuit",
	"C1A00": "TPMS Control Module Malfunction",
	"C1A01": "TPMS Module Configuration Error",
	"C1A02": "TPMS RF Receiver Malfunction",
	"C1A11": "Tire Pressure Sensor LF Malfunction",
	"C1A12": "Tire Pressure Sensor RF Malfunction",
	"C1A13": "Tire Pressure Sensor RR Malfunction",
	"C1A14": "Tire Pressure Sensor LR Malfunction",
	"C1A15": "TPMS System Malfunction",
	"C2100": "Tire Pressure Too Low - Left Front",
	"C2101": "Tire Pressure Too Low - Right Front",
	"C2102": "Tire Pressure Too Low - Right Rear",
	"C2103": "Tire Pressure Too Low - Left Rear",
	"C2111": "Tire Pressure Sensor Battery Low - LF",
	"C2112": "Tire Pressure Sensor Battery Low - RF",
	"C2113": "Tire Pressure Sensor Battery Low - RR",
	"C2114": "Tire Pressure Sensor Battery Low - LR",
	"C2200": "Tire Pressure Sensor Missing - LF",
	"C2201": "Tire Pressure Sensor Missing - RF",
	"C2202": "Tire Pressure Sensor Missing - RR",
	"C2203": "Tire Pressure Sensor Missing - LR",

	// Body codes
	"B0001": "Driver Airbag Circuit Short to Ground",
	"B1000": "Body Control Module Malfunction",
	"B1342": "ECU Defective",
	"B1600": "Ignition Switch Malfunction",

	// Network codes
	"U0001": "High Speed CAN Communication Bus",
	"U0100": "Lost Communication With ECM/PCM",
	"U0101": "Lost Communication With TCM",
	"U0121": "Lost Communication With ABS Module",
	"U0140": "Lost Communication With Body Control Module",
	"U0155": "Lost Communication With Instrument Cluster",
}

// manufacturerCodes holds per-make meanings for codes in the
// manufacturer defined ranges.
var manufacturerCodes = map[string]map[string]string{
	"honda": {
		"P1457": "EVAP Emission Control System Leak Detected (Canister System)",
		"P1491": "EGR Valve Lift Insufficient",
	},
	"toyota": {
		"P1135": "Air/Fuel Sensor Heater Circuit Malfunction (Bank 1, Sensor 1)",
		"P1155": "Air/Fuel Sensor Heater Circuit Malfunction (Bank 2, Sensor 1)",
	},
}

// Describe returns the human readable meaning of a code. Codes outside
// the table get a generated description from their prefix.
func Describe(code string) string {
	if d, ok := descriptions[code]; ok {
		return d
	}
	if strings.HasPrefix(code, "C1A") || strings.HasPrefix(code, "C2") {
		return "TPMS/Tire Pressure Related Code"
	}
	if cat := Category(code); cat != "Unknown" {
		return fmt.Sprintf("%s diagnostic trouble code %s", cat, code)
	}
	return fmt.Sprintf("Diagnostic trouble code %s", code)
}

// DescribeFor resolves a code for a specific make: generic meanings win,
// manufacturer ranges fall back to the per-make table.
func DescribeFor(code, manufacturer string) string {
	if d, ok := descriptions[code]; ok {
		return d
	}
	if mfg, ok := manufacturerCodes[strings.ToLower(manufacturer)]; ok {
		if d, ok := mfg[code]; ok {
			return d
		}
	}
	return Describe(code)
}
