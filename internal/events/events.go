// Package events carries pipeline state transitions to observers.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Transition is emitted every time a sync run changes state.
type Transition struct {
	RunID string
	From  string
	To    string
	Step  string // step that caused the transition
	Err   error  // set when To is a failure state
	At    time.Time
}

// Observer receives transitions in the order they happen.
type Observer interface {
	Observe(t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

func (f ObserverFunc) Observe(t Transition) { f(t) }

// Log returns an observer that logs each transition.
func Log(logger *slog.Logger) Observer {
	return ObserverFunc(func(t Transition) {
		if t.Err != nil {
			logger.Error("sync state changed", "run", t.RunID, "from", t.From, "to", t.To, "step", t.Step, "error", t.Err)
			return
		}
		logger.Info("sync state changed", "run", t.RunID, "from", t.From, "to", t.To, "step", t.Step)
	})
}

// Recorder keeps every transition it observes.
type Recorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *Recorder) Observe(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

// Transitions returns a copy of what was recorded.
func (r *Recorder) Transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.transitions...)
}

// States returns the target state of every recorded transition.
func (r *Recorder) States() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.transitions))
	for i, t := range r.transitions {
		out[i] = t.To
	}
	return out
}

// Multi fans a transition out to several observers. Nil observers are skipped.
func Multi(observers ...Observer) Observer {
	return ObserverFunc(func(t Transition) {
		for _, o := range observers {
			if o != nil {
				o.Observe(t)
			}
		}
	})
}
