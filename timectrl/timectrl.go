package timectrl

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Clock is read access to solver time.
type Clock interface {
	// Step is the number of completed steps.
	Step() uint64
	// Time is the simulated time in seconds.
	Time() float64
	// Now is Time as an absolute instant after the epoch.
	Now() time.Time
}

// StepController counts solver steps, accumulates simulated time and
// notifies registered listeners after every step.
type StepController struct {
	mu    sync.RWMutex
	Epoch time.Time

	step    uint64
	simTime float64

	listeners []func(step uint64, simTime float64)
}

// NewStepController starts at step 0 and time start seconds.
func NewStepController(epoch time.Time, start float64) *StepController {
	return &StepController{Epoch: epoch, simTime: start}
}

func (sc *StepController) Step() uint64 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.step
}

func (sc *StepController) Time() float64 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.simTime
}

func (sc *StepController) Now() time.Time {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.Epoch.Add(time.Duration(math.Round(sc.simTime * float64(time.Second))))
}

// SetTime moves the clock, e.g. when resuming a run.
func (sc *StepController) SetTime(step uint64, simTime float64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.step = step
	sc.simTime = simTime
}

// AddListener registers a callback invoked after every Advance.
func (sc *StepController) AddListener(fn func(step uint64, simTime float64)) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.listeners = append(sc.listeners, fn)
}

// Advance completes one step of length dt and returns the new step count and
// time. Listeners run on the caller's goroutine.
func (sc *StepController) Advance(dt float64) (uint64, float64) {
	sc.mu.Lock()
	sc.step++
	sc.simTime += dt
	step, t := sc.step, sc.simTime
	listeners := slices.Clone(sc.listeners)
	sc.mu.Unlock()

	for _, fn := range listeners {
		fn(step, t)
	}
	return step, t
}
