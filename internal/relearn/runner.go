package relearn

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"scantool/internal/models"
	"scantool/internal/obd"
	"scantool/pkg/log"
)

// Status is the lifecycle state of a procedure run.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the run has stopped for good.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ConditionResult is the tri-state outcome of a precondition check.
// Manual means the tool cannot verify it and the operator must.
type ConditionResult string

const (
	ConditionPassed ConditionResult = "passed"
	ConditionFailed ConditionResult = "failed"
	ConditionManual ConditionResult = "manual"
)

var (
	ErrUnknownProcedure = errors.New("unknown procedure")
	ErrRunActive        = errors.New("a procedure is already in progress")
	ErrNotRunning       = errors.New("no procedure in progress")
)

// Vehicle is the diagnostic surface a run needs: raw commands for the
// procedure steps, live parameters and trouble codes for validation.
// *obd.Client satisfies it.
type Vehicle interface {
	SendRaw(cmd string) (string, error)
	ReadParameter(pid byte) (models.Reading, error)
	ReadDTCs(status models.DTCStatus) ([]models.DTC, error)
}

// Progress is a snapshot of the run handed to status callbacks.
type Progress struct {
	Procedure  string
	Status     Status
	StepIndex  int
	TotalSteps int
	Percent    float64

	// Current is the step about to execute, nil once past the end.
	Current *Step
}

// Runner executes one procedure at a time. The step index only moves
// forward; a failed or cancelled run must be restarted from scratch.
type Runner struct {
	vehicle Vehicle

	mu        sync.Mutex
	procedure *Procedure
	status    Status
	step      int
	callbacks []func(Progress)

	sleep func(time.Duration)
}

func NewRunner(vehicle Vehicle) *Runner {
	return &Runner{
		vehicle: vehicle,
		status:  StatusNotStarted,
		sleep:   time.Sleep,
	}
}

// OnProgress registers a callback invoked after every state change.
func (r *Runner) OnProgress(fn func(Progress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Start begins a run of the named procedure.
func (r *Runner) Start(name string) error {
	proc, ok := Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProcedure, name)
	}

	r.mu.Lock()
	if r.status == StatusInProgress {
		r.mu.Unlock()
		return ErrRunActive
	}
	r.procedure = &proc
	r.status = StatusInProgress
	r.step = 0
	r.mu.Unlock()

	log.Info("procedure started", zap.String("procedure", name))
	r.notify()
	return nil
}

// ExecuteNextStep runs the current step and advances. Once every step
// has run the status becomes completed and further calls are no-ops
// returning success. Any command error or failed validation ends the
// run as failed.
func (r *Runner) ExecuteNextStep() error {
	r.mu.Lock()
	if r.status == StatusCompleted {
		r.mu.Unlock()
		return nil
	}
	if r.status != StatusInProgress {
		r.mu.Unlock()
		return ErrNotRunning
	}
	proc := r.procedure
	step := proc.Steps[r.step]
	r.mu.Unlock()

	log.Info("executing step",
		zap.String("procedure", proc.Name),
		zap.Int("step", step.Number),
		zap.String("description", step.Description))

	if err := r.runStep(step); err != nil {
		r.fail()
		return err
	}

	r.mu.Lock()
	if r.status != StatusInProgress {
		// Cancelled while the step was running. Do not advance.
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.step++
	if r.step >= len(proc.Steps) {
		r.status = StatusCompleted
		log.Info("procedure completed", zap.String("procedure", proc.Name))
	}
	r.mu.Unlock()

	r.notify()
	return nil
}

// Run drives the whole procedure. Manual steps call confirm and wait
// for the operator; a nil confirm falls back to the step's wait time.
func (r *Runner) Run(confirm func(Step) error) error {
	for {
		r.mu.Lock()
		status := r.status
		var step *Step
		if status == StatusInProgress && r.step < len(r.procedure.Steps) {
			s := r.procedure.Steps[r.step]
			step = &s
		}
		r.mu.Unlock()

		switch {
		case status == StatusCompleted:
			return nil
		case status != StatusInProgress:
			return fmt.Errorf("procedure %s", status)
		}

		if step.Manual && confirm != nil {
			if err := confirm(*step); err != nil {
				r.Cancel()
				return err
			}
		}
		if err := r.ExecuteNextStep(); err != nil {
			return err
		}
	}
}

// Cancel stops an in-progress run. Executed steps are not undone.
func (r *Runner) Cancel() error {
	r.mu.Lock()
	if r.status != StatusInProgress {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.status = StatusCancelled
	name := r.procedure.Name
	r.mu.Unlock()

	log.Info("procedure cancelled", zap.String("procedure", name))
	r.notify()
	return nil
}

// Progress returns the current run snapshot.
func (r *Runner) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progressLocked()
}

func (r *Runner) progressLocked() Progress {
	p := Progress{Status: r.status, StepIndex: r.step}
	if r.procedure == nil {
		return p
	}
	p.Procedure = r.procedure.Name
	p.TotalSteps = len(r.procedure.Steps)
	p.Percent = float64(r.step) / float64(p.TotalSteps) * 100
	if r.step < p.TotalSteps {
		step := r.procedure.Steps[r.step]
		p.Current = &step
	}
	return p
}

func (r *Runner) fail() {
	r.mu.Lock()
	if r.status == StatusInProgress {
		r.status = StatusFailed
		log.Warn("procedure failed",
			zap.String("procedure", r.procedure.Name),
			zap.Int("step", r.procedure.Steps[r.step].Number))
	}
	r.mu.Unlock()
	r.notify()
}

func (r *Runner) notify() {
	r.mu.Lock()
	cbs := append(([]func(Progress))(nil), r.callbacks...)
	p := r.progressLocked()
	r.mu.Unlock()
	for _, fn := range cbs {
		fn(p)
	}
}

func (r *Runner) runStep(step Step) error {
	var response string
	if step.Command != "" && !step.Manual {
		resp, err := r.vehicle.SendRaw(step.Command)
		if err != nil {
			return fmt.Errorf("step %d command %q: %w", step.Number, step.Command, err)
		}
		response = resp
	}

	if step.Wait > 0 {
		r.sleep(step.Wait)
	}

	if step.Validation != ValidationNone {
		if err := r.validate(step.Validation, step.Command, response); err != nil {
			return fmt.Errorf("step %d validation %q: %w", step.Number, step.Validation, err)
		}
	}
	return nil
}

// validate checks a step outcome. Response validations inspect the
// command reply; threshold validations read the relevant live
// parameter instead of trusting the operator.
func (r *Runner) validate(v Validation, command, response string) error {
	switch v {
	case ValidationPositiveResponse:
		if obd.Verify(command, obd.Clean(response)) {
			return nil
		}
		return fmt.Errorf("no positive response to %q in %q", command, response)

	case ValidationNoErrors:
		if obd.Clean(response) == "" {
			return fmt.Errorf("error reply %q", response)
		}
		return nil

	case ValidationEngineWarm:
		return r.threshold(obd.PIDCoolantTemp, func(v float64) bool { return v > 80 }, "coolant above 80°C")

	case ValidationRevHold:
		return r.threshold(obd.PIDEngineRPM, func(v float64) bool { return v > 1800 }, "engine above 1800 rpm")

	case ValidationIdleReturn:
		return r.threshold(obd.PIDEngineRPM, func(v float64) bool { return v < 1000 }, "engine below 1000 rpm")

	case ValidationClosedLoop:
		resp, err := r.vehicle.SendRaw("0103")
		if err != nil {
			return fmt.Errorf("fuel system status: %w", err)
		}
		data, err := obd.Payload("0103", resp)
		if err != nil {
			return fmt.Errorf("fuel system status: %w", err)
		}
		// 0x02 means closed loop using oxygen sensor feedback.
		if len(data) < 1 || data[0]&0x02 == 0 {
			return errors.New("fuel system not in closed loop")
		}
		return nil

	case ValidationTrimsNormal:
		return r.threshold(obd.PIDShortFuelTrim1, func(v float64) bool { return v > -10 && v < 10 }, "short term trim within ±10%")

	case ValidationAdaptationsDone:
		lower := strings.ToLower(response)
		if strings.Contains(lower, "complete") || strings.Contains(lower, "ready") {
			return nil
		}
		return fmt.Errorf("adaptations not reported complete: %q", response)

	case ValidationSensorsOK:
		upper := strings.ToUpper(response)
		if strings.Contains(upper, "OK") || strings.Contains(upper, "READY") {
			return nil
		}
		return fmt.Errorf("sensors not reported ready: %q", response)

	case ValidationAngleZero:
		// No generic OBD-II PID exposes the steering angle. The operator
		// confirms the zero reading on the instrument side.
		log.Info("steering angle zero requires manual confirmation")
		return nil
	}
	return nil
}

func (r *Runner) threshold(pid byte, ok func(float64) bool, want string) error {
	reading, err := r.vehicle.ReadParameter(pid)
	if err != nil {
		return fmt.Errorf("read %02X: %w", pid, err)
	}
	if !ok(reading.Value) {
		return fmt.Errorf("want %s, measured %.1f %s", want, reading.Value, reading.Unit)
	}
	return nil
}

// CheckPreconditions evaluates the declared preconditions of a
// procedure against the live vehicle where possible. Conditions the
// tool cannot measure come back as ConditionManual.
func (r *Runner) CheckPreconditions(name string) (map[string]ConditionResult, error) {
	proc, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcedure, name)
	}

	results := make(map[string]ConditionResult, len(proc.Preconditions))
	for _, cond := range proc.Preconditions {
		results[cond] = r.checkCondition(cond)
	}
	return results, nil
}

func (r *Runner) checkCondition(cond string) ConditionResult {
	lower := strings.ToLower(cond)
	switch {
	case strings.Contains(lower, "dtc"):
		codes, err := r.vehicle.ReadDTCs(models.StatusCurrent)
		if err != nil {
			return ConditionManual
		}
		if len(codes) == 0 {
			return ConditionPassed
		}
		return ConditionFailed

	case strings.Contains(lower, "temperature"):
		reading, err := r.vehicle.ReadParameter(obd.PIDCoolantTemp)
		if err != nil {
			return ConditionManual
		}
		if reading.Value > 80 {
			return ConditionPassed
		}
		return ConditionFailed

	case strings.Contains(lower, "stationary"), strings.Contains(lower, "not moving"):
		reading, err := r.vehicle.ReadParameter(obd.PIDVehicleSpeed)
		if err != nil {
			return ConditionManual
		}
		if reading.Value == 0 {
			return ConditionPassed
		}
		return ConditionFailed

	case strings.Contains(lower, "closed loop"):
		if err := r.validate(ValidationClosedLoop, "", ""); err != nil {
			return ConditionFailed
		}
		return ConditionPassed
	}
	return ConditionManual
}

// runLog is the export schema of a procedure run.
type runLog struct {
	ProcedureName  string       `json:"procedure_name"`
	Timestamp      string       `json:"timestamp"`
	Status         string       `json:"status"`
	StepsCompleted int          `json:"steps_completed"`
	TotalSteps     int          `json:"total_steps"`
	Steps          []runLogStep `json:"steps"`
}

type runLogStep struct {
	StepNumber  int    `json:"step_number"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	IsManual    bool   `json:"is_manual"`
	Command     string `json:"command,omitempty"`
}

// ExportLog writes the run log of the current procedure as JSON.
func (r *Runner) ExportLog(path string) error {
	r.mu.Lock()
	if r.procedure == nil {
		r.mu.Unlock()
		return ErrNotRunning
	}
	entry := runLog{
		ProcedureName:  r.procedure.Name,
		Timestamp:      time.Now().Format(time.RFC3339),
		Status:         string(r.status),
		StepsCompleted: r.step,
		TotalSteps:     len(r.procedure.Steps),
	}
	for i, step := range r.procedure.Steps {
		entry.Steps = append(entry.Steps, runLogStep{
			StepNumber:  step.Number,
			Description: step.Description,
			Completed:   i < r.step,
			IsManual:    step.Manual,
			Command:     step.Command,
		})
	}
	r.mu.Unlock()

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
