// Package relearn executes manufacturer adaptation procedures: ordered
// step sequences mixing diagnostic commands, waits and manual operator
// actions, with live-sensor validation between steps.
package relearn

import (
	"sort"
	"time"
)

// Validation names a check applied after a step runs. Response checks
// look at the command reply, threshold checks read live parameters.
type Validation string

const (
	ValidationNone             Validation = ""
	ValidationPositiveResponse Validation = "positive_response"
	ValidationNoErrors         Validation = "no_errors"
	ValidationEngineWarm       Validation = "temperature>80"
	ValidationRevHold          Validation = "rpm>1800"
	ValidationIdleReturn       Validation = "rpm<1000"
	ValidationClosedLoop       Validation = "closed_loop"
	ValidationTrimsNormal      Validation = "trims_normal"
	ValidationAdaptationsDone  Validation = "adaptations_complete"
	ValidationSensorsOK        Validation = "all_sensors_ok"
	ValidationAngleZero        Validation = "angle_zero"
)

// Step is one unit of a procedure. Manual steps are carried out by the
// operator; steps with a command go through the diagnostic session.
type Step struct {
	Number      int
	Description string
	Instruction string

	// Command is the raw request to send, empty for wait-only and
	// manual steps.
	Command string

	Wait       time.Duration
	Validation Validation
	Manual     bool
}

// Procedure is a static relearn definition. Instances never mutate; a
// Runner tracks execution state separately.
type Procedure struct {
	Name          string
	Title         string
	Description   string
	Requirements  []string
	Preconditions []string
	Steps         []Step

	Estimated  time.Duration
	Difficulty string
}

// procedures holds the built-in definitions, keyed by Name.
var procedures = map[string]Procedure{
	"throttle_body_relearn": {
		Name:        "throttle_body_relearn",
		Title:       "Throttle Body Relearn",
		Description: "Relearn throttle body position and idle air control",
		Requirements: []string{
			"Engine must be warmed up to operating temperature",
			"All electrical loads should be turned off",
			"Transmission in Park/Neutral",
		},
		Preconditions: []string{
			"No DTCs present",
			"Engine coolant temperature > 80°C",
			"Vehicle stationary",
		},
		Steps: []Step{
			{1, "Turn ignition ON", "Turn ignition to ON position (engine off)", "", 2 * time.Second, ValidationNone, true},
			{2, "Wait for self-test", "Wait for ECU self-test to complete", "", 10 * time.Second, ValidationNone, false},
			{3, "Start engine", "Start engine and let idle", "", 5 * time.Second, ValidationNone, true},
			{4, "Warm up engine", "Let engine reach operating temperature", "", 3 * time.Minute, ValidationEngineWarm, false},
			{5, "Initialize relearn", "Send throttle relearn command", "31010203", 5 * time.Second, ValidationPositiveResponse, false},
			{6, "Engine idle", "Let engine idle for specified time", "", 2 * time.Minute, ValidationNone, false},
			{7, "Rev engine", "Rev engine to 2000 RPM and hold", "", 30 * time.Second, ValidationRevHold, true},
			{8, "Return to idle", "Release throttle and return to idle", "", time.Minute, ValidationIdleReturn, true},
			{9, "Complete relearn", "Finalize throttle body relearn", "31030203", 5 * time.Second, ValidationPositiveResponse, false},
			{10, "Turn off engine", "Turn off engine", "", 2 * time.Second, ValidationNone, true},
			{11, "Verify completion", "Check for completion status", "22F186", 5 * time.Second, ValidationNoErrors, false},
		},
		Estimated:  15 * time.Minute,
		Difficulty: "Medium",
	},
	"transmission_adaptive": {
		Name:        "transmission_adaptive",
		Title:       "Transmission Adaptive Learning",
		Description: "Reset and relearn transmission shift points and behaviors",
		Requirements: []string{
			"Automatic transmission",
			"Engine at operating temperature",
			"Transmission fluid at proper level",
		},
		Preconditions: []string{
			"No transmission DTCs",
			"Vehicle on level surface",
			"Parking brake engaged",
		},
		Steps: []Step{
			{1, "Connect to TCM", "Establish connection with Transmission Control Module", "ATSH7E1", 2 * time.Second, ValidationNone, false},
			{2, "Enter diagnostic session", "Enter extended diagnostic session", "1003", 3 * time.Second, ValidationPositiveResponse, false},
			{3, "Clear adaptations", "Clear existing adaptive values", "310105", 5 * time.Second, ValidationPositiveResponse, false},
			{4, "Initialize learning", "Start adaptive learning process", "310106", 3 * time.Second, ValidationPositiveResponse, false},
			{5, "Drive cycle preparation", "Prepare for drive cycle", "", 10 * time.Second, ValidationNone, true},
			{6, "Start engine", "Start engine and let warm up", "", 2 * time.Minute, ValidationEngineWarm, true},
			{7, "Drive cycle P to D", "Shift from Park to Drive", "", 5 * time.Second, ValidationNone, true},
			{8, "Idle in Drive", "Let transmission learn idle characteristics", "", time.Minute, ValidationNone, true},
			{9, "Low speed driving", "Drive at low speeds (15-25 mph)", "", 5 * time.Minute, ValidationNone, true},
			{10, "Medium speed driving", "Drive at medium speeds (25-45 mph)", "", 5 * time.Minute, ValidationNone, true},
			{11, "Highway driving", "Drive at highway speeds (45+ mph)", "", 10 * time.Minute, ValidationNone, true},
			{12, "Complete learning", "Finalize adaptive learning", "310107", 5 * time.Second, ValidationPositiveResponse, false},
			{13, "Verify completion", "Check adaptation status", "22F190", 5 * time.Second, ValidationAdaptationsDone, false},
		},
		Estimated:  45 * time.Minute,
		Difficulty: "Hard",
	},
	"tpms_relearn": {
		Name:        "tpms_relearn",
		Title:       "TPMS Sensor Relearn",
		Description: "Relearn tire pressure monitoring sensor positions",
		Requirements: []string{
			"All tires properly inflated",
			"TPMS sensors installed",
			"Vehicle stationary",
		},
		Preconditions: []string{
			"No TPMS DTCs",
			"Ignition ON",
			"Vehicle not moving",
		},
		Steps: []Step{
			{1, "Enter TPMS mode", "Enter TPMS relearn mode", "31010301", 3 * time.Second, ValidationPositiveResponse, false},
			{2, "LF tire learn", "Activate left front sensor", "", 15 * time.Second, ValidationNone, true},
			{3, "RF tire learn", "Activate right front sensor", "", 15 * time.Second, ValidationNone, true},
			{4, "RR tire learn", "Activate right rear sensor", "", 15 * time.Second, ValidationNone, true},
			{5, "LR tire learn", "Activate left rear sensor", "", 15 * time.Second, ValidationNone, true},
			{6, "Complete relearn", "Finalize TPMS relearn", "31030301", 5 * time.Second, ValidationPositiveResponse, false},
			{7, "Verify sensors", "Check all sensors learned", "22F192", 5 * time.Second, ValidationSensorsOK, false},
		},
		Estimated:  10 * time.Minute,
		Difficulty: "Easy",
	},
	"fuel_trim_reset": {
		Name:        "fuel_trim_reset",
		Title:       "Fuel Trim Reset and Relearn",
		Description: "Reset fuel trim values and relearn fuel delivery",
		Requirements: []string{
			"Engine at operating temperature",
			"No vacuum leaks",
			"Clean air filter",
		},
		Preconditions: []string{
			"No fuel system DTCs",
			"Closed loop operation",
			"O2 sensors functional",
		},
		Steps: []Step{
			{1, "Clear fuel trims", "Reset short and long term fuel trims", "310201", 3 * time.Second, ValidationPositiveResponse, false},
			{2, "Start engine", "Start engine and let idle", "", 10 * time.Second, ValidationNone, true},
			{3, "Idle learning", "Let engine learn idle fuel delivery", "", 5 * time.Minute, ValidationClosedLoop, false},
			{4, "Part throttle learning", "Drive at part throttle conditions", "", 10 * time.Minute, ValidationNone, true},
			{5, "Wide open throttle", "Perform WOT acceleration", "", 30 * time.Second, ValidationNone, true},
			{6, "Cruise learning", "Maintain steady cruise speeds", "", 5 * time.Minute, ValidationNone, true},
			{7, "Verify learning", "Check fuel trim values", "220106", 5 * time.Second, ValidationTrimsNormal, false},
		},
		Estimated:  25 * time.Minute,
		Difficulty: "Medium",
	},
	"steering_calibration": {
		Name:        "steering_calibration",
		Title:       "Steering Angle Sensor Calibration",
		Description: "Calibrate steering angle sensor to center position",
		Requirements: []string{
			"Vehicle on level surface",
			"Wheels straight ahead",
			"Front wheels on alignment plates",
		},
		Preconditions: []string{
			"No ABS/ESP DTCs",
			"Vehicle stationary",
			"Steering wheel centered",
		},
		Steps: []Step{
			{1, "Connect to ABS", "Connect to ABS/ESP module", "ATSH7E8", 2 * time.Second, ValidationNone, false},
			{2, "Enter calibration mode", "Enter steering calibration mode", "31010401", 3 * time.Second, ValidationPositiveResponse, false},
			{3, "Center steering wheel", "Ensure steering wheel is centered", "", 10 * time.Second, ValidationNone, true},
			{4, "Lock steering", "Hold steering wheel in center position", "", 5 * time.Second, ValidationNone, true},
			{5, "Perform calibration", "Execute steering angle calibration", "31020401", 10 * time.Second, ValidationPositiveResponse, false},
			{6, "Verify calibration", "Check steering angle reading", "22F193", 5 * time.Second, ValidationAngleZero, false},
			{7, "Complete procedure", "Finalize calibration", "31030401", 3 * time.Second, ValidationPositiveResponse, false},
		},
		Estimated:  8 * time.Minute,
		Difficulty: "Easy",
	},
}

// Procedures lists the available procedure names, sorted.
func Procedures() []string {
	names := make([]string, 0, len(procedures))
	for name := range procedures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a procedure definition by name.
func Get(name string) (Procedure, bool) {
	p, ok := procedures[name]
	return p, ok
}
