package cli

import (
	"fmt"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

type progressSpinner interface {
	Stop() error
	Success(...any)
	Fail(...any)
	UpdateText(string)
}

type progressSpinnerFactory func(string) (progressSpinner, error)

var defaultSpinnerFactory progressSpinnerFactory = func(text string) (progressSpinner, error) {
	spinner, err := pterm.DefaultSpinner.
		WithRemoveWhenDone(false).
		WithText(text).
		Start()
	if err != nil {
		return nil, err
	}
	return spinner, nil
}

// StepStatus represents the state of a progress step.
type StepStatus int

const (
	// StepPending indicates a step has not yet started.
	StepPending StepStatus = iota
	// StepRunning indicates a step is currently in progress.
	StepRunning
	// StepCompleted indicates a step finished successfully.
	StepCompleted
	// StepFailed indicates a step encountered an error.
	StepFailed
)

// Step is one stage of matching a pair, shown as a spinner while it runs.
type Step struct {
	ID        string
	Message   string
	Status    StepStatus
	startTime time.Time
}

// ProgressManager shows the stages of a pair as a sequence of spinners. It implements
// stereo.ProgressCallback: reporting a new stage completes the running one.
type ProgressManager struct {
	steps          []*Step
	stepMap        map[string]*Step
	current        *Step
	currentSpinner progressSpinner
	spinnerFactory progressSpinnerFactory
	mu             sync.Mutex
	disabled       bool
}

// ProgressManagerOption allows customizing ProgressManager behavior at creation time.
type ProgressManagerOption func(*ProgressManager)

// WithProgressOutput enables or disables terminal output for a ProgressManager.
func WithProgressOutput(enabled bool) ProgressManagerOption {
	return func(pm *ProgressManager) {
		pm.disabled = !enabled
	}
}

func withProgressSpinnerFactory(factory progressSpinnerFactory) ProgressManagerOption {
	return func(pm *ProgressManager) {
		pm.spinnerFactory = factory
	}
}

// NewProgressManager creates a ProgressManager with its steps registered upfront. Stages
// reported later that are not registered are added on the fly.
func NewProgressManager(steps []*Step, opts ...ProgressManagerOption) *ProgressManager {
	pterm.Success.Prefix = pterm.Prefix{
		Text:  "✓",
		Style: pterm.NewStyle(pterm.FgGreen),
	}
	pterm.Error.Prefix = pterm.Prefix{
		Text:  "✗",
		Style: pterm.NewStyle(pterm.FgRed),
	}
	pterm.DefaultSpinner.Style = pterm.NewStyle(pterm.FgCyan)

	pm := &ProgressManager{
		stepMap:        make(map[string]*Step),
		spinnerFactory: defaultSpinnerFactory,
	}
	for _, step := range steps {
		pm.addLocked(step)
	}
	for _, opt := range opts {
		opt(pm)
	}
	return pm
}

func (pm *ProgressManager) addLocked(step *Step) {
	pm.steps = append(pm.steps, step)
	pm.stepMap[step.ID] = step
}

func elapsedSince(step *Step) string {
	if step.startTime.IsZero() {
		return ""
	}
	return fmt.Sprintf(" (%s)", time.Since(step.startTime).Round(time.Millisecond))
}

// Report implements stereo.ProgressCallback.
func (pm *ProgressManager) Report(stage string, fraction float64) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	step, exists := pm.stepMap[stage]
	if !exists {
		step = &Step{ID: stage, Message: stage}
		pm.addLocked(step)
	}
	if pm.current != step {
		if pm.current != nil && pm.current.Status == StepRunning {
			pm.completeLocked(pm.current)
		}
		pm.startLocked(step)
	}
	if pm.disabled || pm.currentSpinner == nil {
		return
	}
	pm.currentSpinner.UpdateText(fmt.Sprintf("%s %3.0f%%", step.Message, 100*fraction))
}

func (pm *ProgressManager) startLocked(step *Step) {
	step.Status = StepRunning
	step.startTime = time.Now()
	pm.current = step
	if pm.disabled {
		return
	}
	if pm.currentSpinner != nil {
		_ = pm.currentSpinner.Stop() //nolint:errcheck
		pm.currentSpinner = nil
	}
	spinner, err := pm.spinnerFactory(step.Message)
	if err != nil {
		// keep going without a spinner; the summary lines still print
		return
	}
	pm.currentSpinner = spinner
}

func (pm *ProgressManager) completeLocked(step *Step) {
	step.Status = StepCompleted
	if pm.disabled {
		return
	}
	msg := step.Message + elapsedSince(step)
	if pm.currentSpinner != nil && pm.current == step {
		pm.currentSpinner.Success(msg)
		pm.currentSpinner = nil
		return
	}
	pterm.Success.Println(msg)
}

// Finish completes the running step, or fails it when err is not nil.
func (pm *ProgressManager) Finish(err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	step := pm.current
	if step == nil || step.Status != StepRunning {
		return
	}
	if err == nil {
		pm.completeLocked(step)
		return
	}
	step.Status = StepFailed
	if pm.disabled {
		return
	}
	msg := fmt.Sprintf("%s: %v", step.Message, err)
	if pm.currentSpinner != nil {
		pm.currentSpinner.Fail(msg)
		pm.currentSpinner = nil
		return
	}
	pterm.Error.Println(msg)
}

// Stop stops any active spinner.
func (pm *ProgressManager) Stop() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.disabled {
		return
	}
	if pm.currentSpinner != nil {
		_ = pm.currentSpinner.Stop() //nolint:errcheck
		pm.currentSpinner = nil
	}
}
