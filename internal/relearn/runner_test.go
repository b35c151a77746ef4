package relearn

import (
	"errors"
	"testing"
	"time"

	"scantool/internal/models"
)

// fakeVehicle answers raw commands from a canned map and serves fixed
// parameter values.
type fakeVehicle struct {
	responses map[string]string
	values    map[byte]float64
	dtcs      []models.DTC
	sent      []string
}

func newFakeVehicle() *fakeVehicle {
	return &fakeVehicle{
		responses: make(map[string]string),
		values:    make(map[byte]float64),
	}
}

func (f *fakeVehicle) SendRaw(cmd string) (string, error) {
	f.sent = append(f.sent, cmd)
	if resp, ok := f.responses[cmd]; ok {
		return resp, nil
	}
	return "", errors.New("no data")
}

func (f *fakeVehicle) ReadParameter(pid byte) (models.Reading, error) {
	v, ok := f.values[pid]
	if !ok {
		return models.Reading{}, errors.New("unsupported pid")
	}
	return models.Reading{PID: pid, Value: v, At: time.Now()}, nil
}

func (f *fakeVehicle) ReadDTCs(status models.DTCStatus) ([]models.DTC, error) {
	return f.dtcs, nil
}

func newTestRunner(v Vehicle) *Runner {
	r := NewRunner(v)
	r.sleep = func(time.Duration) {}
	return r
}

func TestRunLifecycle(t *testing.T) {
	vehicle := newFakeVehicle()
	vehicle.responses["31010301"] = "710103"
	vehicle.responses["31030301"] = "710303"
	vehicle.responses["22F192"] = "62F192 OK"

	r := newTestRunner(vehicle)
	if err := r.Start("tpms_relearn"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	proc, _ := Get("tpms_relearn")
	for i := 0; i < len(proc.Steps); i++ {
		if err := r.ExecuteNextStep(); err != nil {
			t.Fatalf("step %d: %v", i+1, err)
		}
	}

	p := r.Progress()
	if p.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", p.Status, StatusCompleted)
	}
	if p.StepIndex != len(proc.Steps) {
		t.Fatalf("step index = %d, want %d", p.StepIndex, len(proc.Steps))
	}

	// Past the end every call is a successful no-op.
	if err := r.ExecuteNextStep(); err != nil {
		t.Fatalf("execute past end: %v", err)
	}
	if got := r.Progress().StepIndex; got != len(proc.Steps) {
		t.Fatalf("step index advanced past end: %d", got)
	}
}

func TestStartRejectsSecondRun(t *testing.T) {
	r := newTestRunner(newFakeVehicle())
	if err := r.Start("tpms_relearn"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start("fuel_trim_reset"); !errors.Is(err, ErrRunActive) {
		t.Fatalf("second Start = %v, want ErrRunActive", err)
	}
}

func TestStartUnknownProcedure(t *testing.T) {
	r := newTestRunner(newFakeVehicle())
	if err := r.Start("warp_core_alignment"); !errors.Is(err, ErrUnknownProcedure) {
		t.Fatalf("Start = %v, want ErrUnknownProcedure", err)
	}
}

func TestCancelBlocksFurtherSteps(t *testing.T) {
	vehicle := newFakeVehicle()
	vehicle.responses["31010301"] = "710103"

	r := newTestRunner(vehicle)
	if err := r.Start("tpms_relearn"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.ExecuteNextStep(); err != nil {
		t.Fatalf("first step: %v", err)
	}
	if err := r.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if got := r.Progress().Status; got != StatusCancelled {
		t.Fatalf("status = %s, want %s", got, StatusCancelled)
	}
	if err := r.ExecuteNextStep(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("execute after cancel = %v, want ErrNotRunning", err)
	}
	if err := r.Cancel(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second Cancel = %v, want ErrNotRunning", err)
	}
}

func TestFailedValidationEndsRun(t *testing.T) {
	// First command step of the TPMS procedure gets a negative reply.
	vehicle := newFakeVehicle()
	vehicle.responses["31010301"] = "7F3111"

	r := newTestRunner(vehicle)
	if err := r.Start("tpms_relearn"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.ExecuteNextStep(); err == nil {
		t.Fatal("expected validation failure")
	}
	if got := r.Progress().Status; got != StatusFailed {
		t.Fatalf("status = %s, want %s", got, StatusFailed)
	}
	if err := r.ExecuteNextStep(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("execute after failure = %v, want ErrNotRunning", err)
	}
}

func TestThresholdValidationReadsLiveSensor(t *testing.T) {
	tests := []struct {
		name       string
		validation Validation
		pid        byte
		value      float64
		wantErr    bool
	}{
		{"warm engine passes", ValidationEngineWarm, 0x05, 92, false},
		{"cold engine fails", ValidationEngineWarm, 0x05, 40, true},
		{"revving passes", ValidationRevHold, 0x0C, 2100, false},
		{"idle rpm fails rev hold", ValidationRevHold, 0x0C, 750, true},
		{"idle return passes", ValidationIdleReturn, 0x0C, 750, false},
		{"trims normal passes", ValidationTrimsNormal, 0x06, 3.1, false},
		{"trims out of range fails", ValidationTrimsNormal, 0x06, 18.75, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vehicle := newFakeVehicle()
			vehicle.values[tt.pid] = tt.value
			r := newTestRunner(vehicle)

			err := r.validate(tt.validation, "", "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate(%s) = %v, wantErr %v", tt.validation, err, tt.wantErr)
			}
		})
	}
}

func TestClosedLoopValidation(t *testing.T) {
	vehicle := newFakeVehicle()
	vehicle.responses["0103"] = "41030200"
	r := newTestRunner(vehicle)
	if err := r.validate(ValidationClosedLoop, "", ""); err != nil {
		t.Fatalf("closed loop: %v", err)
	}

	vehicle.responses["0103"] = "41030100"
	if err := r.validate(ValidationClosedLoop, "", ""); err == nil {
		t.Fatal("open loop accepted")
	}
}

func TestCheckPreconditions(t *testing.T) {
	vehicle := newFakeVehicle()
	vehicle.values[0x05] = 91
	vehicle.values[0x0D] = 0
	r := newTestRunner(vehicle)

	results, err := r.CheckPreconditions("throttle_body_relearn")
	if err != nil {
		t.Fatalf("CheckPreconditions: %v", err)
	}
	if got := results["No DTCs present"]; got != ConditionPassed {
		t.Fatalf("dtc check = %s, want passed", got)
	}
	if got := results["Engine coolant temperature > 80°C"]; got != ConditionPassed {
		t.Fatalf("temperature check = %s, want passed", got)
	}
	if got := results["Vehicle stationary"]; got != ConditionPassed {
		t.Fatalf("speed check = %s, want passed", got)
	}

	vehicle.dtcs = []models.DTC{{Code: "P0300", Status: models.StatusCurrent}}
	vehicle.values[0x0D] = 35
	results, _ = r.CheckPreconditions("throttle_body_relearn")
	if got := results["No DTCs present"]; got != ConditionFailed {
		t.Fatalf("dtc check with codes = %s, want failed", got)
	}
	if got := results["Vehicle stationary"]; got != ConditionFailed {
		t.Fatalf("moving vehicle = %s, want failed", got)
	}
}

func TestManualOnlyConditionsReportManual(t *testing.T) {
	r := newTestRunner(newFakeVehicle())
	results, err := r.CheckPreconditions("steering_calibration")
	if err != nil {
		t.Fatalf("CheckPreconditions: %v", err)
	}
	if got := results["Steering wheel centered"]; got != ConditionManual {
		t.Fatalf("judgment condition = %s, want manual", got)
	}
}
